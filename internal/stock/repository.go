package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/tff-platform/internal/db"
)

type Repository interface {
	DonorCandidates(ctx context.Context, originBranchID, itemID int64, qty decimal.Decimal) ([]BranchStock, error)
	CreateRequest(ctx context.Context, req *Request, rejectDuplicates bool) error
	GetRequest(ctx context.Context, id uuid.UUID) (*Request, error)
	ApprovePeer(ctx context.Context, id uuid.UUID, now time.Time) (*Request, error)
	RejectPeer(ctx context.Context, id uuid.UUID, now time.Time) (*Request, *Request, error)
	ApproveGodown(ctx context.Context, id uuid.UUID, now time.Time) (*Request, error)
	RejectGodown(ctx context.Context, id uuid.UUID, now time.Time) (*Request, error)
	ExpiredPeerRequests(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	TimeoutPeer(ctx context.Context, id uuid.UUID, now time.Time) (*Request, error)
	ListIncoming(ctx context.Context, donorBranchID int64) ([]Request, error)
	ListGodownQueue(ctx context.Context) ([]Request, error)
	BranchStock(ctx context.Context, branchID int64) ([]BranchStock, error)
	GodownStock(ctx context.Context) ([]GodownStock, error)
}

type postgresRepository struct {
	db     *pgxpool.Pool
	ledger *Ledger
}

func NewRepository(pool *pgxpool.Pool, ledger *Ledger) Repository {
	return &postgresRepository{db: pool, ledger: ledger}
}

const requestColumns = `id, origin_branch_id, donor_branch_id, item_id, quantity, source, status,
	expires_at, parent_id, created_at, resolved_at`

func scanRequest(row pgx.Row) (*Request, error) {
	var (
		req    Request
		source string
		status string
	)
	err := row.Scan(
		&req.ID,
		&req.OriginBranchID,
		&req.DonorBranchID,
		&req.ItemID,
		&req.Quantity,
		&source,
		&status,
		&req.ExpiresAt,
		&req.ParentID,
		&req.CreatedAt,
		&req.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	req.Source = Source(source)
	req.Status = RequestStatus(status)
	return &req, nil
}

func collectRequests(rows pgx.Rows) ([]Request, error) {
	defer rows.Close()
	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

// DonorCandidates lists other branches holding more than qty of the item,
// ordered by branch id so the pick is deterministic.
func (r *postgresRepository) DonorCandidates(ctx context.Context, originBranchID, itemID int64, qty decimal.Decimal) ([]BranchStock, error) {
	query := `
		SELECT bs.branch_id, bs.item_id, bs.quantity, bs.min_level, bs.updated_at
		FROM branch_stock bs
		JOIN branches b ON b.id = bs.branch_id
		WHERE bs.item_id = $1 AND bs.branch_id <> $2 AND bs.quantity > $3 AND b.status = 'active'
		ORDER BY bs.branch_id
	`
	rows, err := r.db.Query(ctx, query, itemID, originBranchID, qty)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query donor candidates: %w", err)
	}
	defer rows.Close()

	var out []BranchStock
	for rows.Next() {
		var s BranchStock
		if err := rows.Scan(&s.BranchID, &s.ItemID, &s.Quantity, &s.MinLevel, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan donor candidate: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed to iterate donor candidates: %w", err)
	}
	return out, nil
}

func insertRequest(ctx context.Context, tx pgx.Tx, req *Request) error {
	query := `INSERT INTO stock_requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := tx.Exec(ctx, query,
		req.ID,
		req.OriginBranchID,
		req.DonorBranchID,
		req.ItemID,
		req.Quantity,
		string(req.Source),
		string(req.Status),
		req.ExpiresAt,
		req.ParentID,
		req.CreatedAt,
		req.ResolvedAt,
	)
	if err != nil {
		switch {
		case db.IsForeignKeyViolation(err):
			return ErrNotFound
		case db.IsUniqueViolation(err, "stock_requests_parent_id_key"):
			return ErrRequestNotPending
		}
		return fmt.Errorf("repository: failed to insert stock request: %w", err)
	}
	return nil
}

// CreateRequest stores a new pending request. With rejectDuplicates set, the
// origin branch row is locked so two concurrent requests for the same item
// cannot both pass the pending check.
func (r *postgresRepository) CreateRequest(ctx context.Context, req *Request, rejectDuplicates bool) error {
	return db.WithTx(ctx, r.db, "CreateRequest", func(tx pgx.Tx) error {
		var branchID int64
		err := tx.QueryRow(ctx, `SELECT id FROM branches WHERE id = $1 FOR NO KEY UPDATE`, req.OriginBranchID).Scan(&branchID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("repository: failed to lock branch: %w", err)
		}

		if rejectDuplicates {
			var exists bool
			err := tx.QueryRow(ctx, `
				SELECT EXISTS (
					SELECT 1 FROM stock_requests
					WHERE origin_branch_id = $1 AND item_id = $2 AND status = 'pending'
					  AND (expires_at IS NULL OR expires_at >= $3)
				)`, req.OriginBranchID, req.ItemID, req.CreatedAt).Scan(&exists)
			if err != nil {
				return fmt.Errorf("repository: failed to check pending requests: %w", err)
			}
			if exists {
				return ErrDuplicateRequest
			}
		}

		return insertRequest(ctx, tx, req)
	})
}

func (r *postgresRepository) GetRequest(ctx context.Context, id uuid.UUID) (*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM stock_requests WHERE id = $1`
	req, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("repository: failed to get stock request %s: %w", id, err)
	}
	return req, nil
}

func lockRequest(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM stock_requests WHERE id = $1 FOR UPDATE`
	req, err := scanRequest(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("repository: failed to lock stock request %s: %w", id, err)
	}
	return req, nil
}

func resolveRequest(ctx context.Context, tx pgx.Tx, req *Request, status RequestStatus, now time.Time) error {
	_, err := tx.Exec(ctx,
		`UPDATE stock_requests SET status = $2, resolved_at = $3 WHERE id = $1`,
		req.ID, string(status), now)
	if err != nil {
		return fmt.Errorf("repository: failed to update stock request %s: %w", req.ID, err)
	}
	req.Resolve(status, now)
	return nil
}

// ApprovePeer moves the requested quantity from the donor to the origin and
// marks the request approved, all in one transaction.
func (r *postgresRepository) ApprovePeer(ctx context.Context, id uuid.UUID, now time.Time) (*Request, error) {
	var out *Request
	err := db.WithRetryTx(ctx, r.db, "ApprovePeer", func(tx pgx.Tx) error {
		req, err := lockRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := req.CheckPeerResponse(now); err != nil {
			return err
		}

		if _, err := r.ledger.Transfer(ctx, tx, AtBranch(*req.DonorBranchID), AtBranch(req.OriginBranchID), req.ItemID, req.Quantity); err != nil {
			return err
		}
		if err := resolveRequest(ctx, tx, req, RequestApproved, now); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RejectPeer rejects a peer request and creates its godown fallback in the
// same transaction.
func (r *postgresRepository) RejectPeer(ctx context.Context, id uuid.UUID, now time.Time) (*Request, *Request, error) {
	var rejected, fallback *Request
	err := db.WithTx(ctx, r.db, "RejectPeer", func(tx pgx.Tx) error {
		req, err := lockRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := req.CheckPeerResponse(now); err != nil {
			return err
		}
		if err := resolveRequest(ctx, tx, req, RequestRejected, now); err != nil {
			return err
		}

		fb, err := req.Fallback(now)
		if err != nil {
			return err
		}
		if err := insertRequest(ctx, tx, fb); err != nil {
			return err
		}
		rejected, fallback = req, fb
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return rejected, fallback, nil
}

func (r *postgresRepository) ApproveGodown(ctx context.Context, id uuid.UUID, now time.Time) (*Request, error) {
	var out *Request
	err := db.WithRetryTx(ctx, r.db, "ApproveGodown", func(tx pgx.Tx) error {
		req, err := lockRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := req.CheckGodownResponse(); err != nil {
			return err
		}

		if _, err := r.ledger.Transfer(ctx, tx, AtGodown(), AtBranch(req.OriginBranchID), req.ItemID, req.Quantity); err != nil {
			return err
		}
		if err := resolveRequest(ctx, tx, req, RequestApproved, now); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *postgresRepository) RejectGodown(ctx context.Context, id uuid.UUID, now time.Time) (*Request, error) {
	var out *Request
	err := db.WithTx(ctx, r.db, "RejectGodown", func(tx pgx.Tx) error {
		req, err := lockRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := req.CheckGodownResponse(); err != nil {
			return err
		}
		if err := resolveRequest(ctx, tx, req, RequestRejected, now); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *postgresRepository) ExpiredPeerRequests(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM stock_requests
		WHERE status = 'pending' AND source = 'branch' AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query expired requests: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("repository: failed to scan expired request id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TimeoutPeer flips one expired pending peer request to timeout and creates
// its fallback. It returns nil without error when the request was resolved
// by someone else first.
func (r *postgresRepository) TimeoutPeer(ctx context.Context, id uuid.UUID, now time.Time) (*Request, error) {
	var fallback *Request
	err := db.WithRetryTx(ctx, r.db, "TimeoutPeer", func(tx pgx.Tx) error {
		query := `UPDATE stock_requests SET status = 'timeout', resolved_at = $2
			WHERE id = $1 AND status = 'pending' AND source = 'branch' AND expires_at < $2
			RETURNING ` + requestColumns
		req, err := scanRequest(tx.QueryRow(ctx, query, id, now))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("repository: failed to time out stock request %s: %w", id, err)
		}

		fb, err := req.Fallback(now)
		if err != nil {
			return err
		}
		if err := insertRequest(ctx, tx, fb); err != nil {
			return err
		}
		fallback = fb
		return nil
	})
	if err != nil {
		return nil, err
	}
	if fallback != nil {
		log.Info().Stringer("request_id", id).Stringer("fallback_id", fallback.ID).Msg("Peer stock request timed out")
	}
	return fallback, nil
}

func (r *postgresRepository) ListIncoming(ctx context.Context, donorBranchID int64) ([]Request, error) {
	query := `SELECT ` + requestColumns + ` FROM stock_requests
		WHERE donor_branch_id = $1 AND status = 'pending' AND source = 'branch'
		ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, donorBranchID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list incoming requests: %w", err)
	}
	return collectRequests(rows)
}

func (r *postgresRepository) ListGodownQueue(ctx context.Context) ([]Request, error) {
	query := `SELECT ` + requestColumns + ` FROM stock_requests
		WHERE source = 'godown' AND status = 'pending'
		ORDER BY created_at`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list godown queue: %w", err)
	}
	return collectRequests(rows)
}

func (r *postgresRepository) BranchStock(ctx context.Context, branchID int64) ([]BranchStock, error) {
	rows, err := r.db.Query(ctx, `
		SELECT bs.branch_id, bs.item_id, i.name, i.unit, bs.quantity, bs.min_level, bs.updated_at
		FROM branch_stock bs
		JOIN items i ON i.id = bs.item_id
		WHERE bs.branch_id = $1
		ORDER BY i.name`, branchID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list branch stock: %w", err)
	}
	defer rows.Close()

	var out []BranchStock
	for rows.Next() {
		var (
			s    BranchStock
			unit string
		)
		if err := rows.Scan(&s.BranchID, &s.ItemID, &s.ItemName, &unit, &s.Quantity, &s.MinLevel, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan branch stock: %w", err)
		}
		s.Unit = Unit(unit)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *postgresRepository) GodownStock(ctx context.Context) ([]GodownStock, error) {
	rows, err := r.db.Query(ctx, `
		SELECT g.item_id, i.name, i.unit, g.quantity, g.expiry_date, g.updated_at
		FROM godown_stock g
		JOIN items i ON i.id = g.item_id
		ORDER BY i.name`)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list godown stock: %w", err)
	}
	defer rows.Close()

	var out []GodownStock
	for rows.Next() {
		var (
			g    GodownStock
			unit string
		)
		if err := rows.Scan(&g.ItemID, &g.ItemName, &unit, &g.Quantity, &g.ExpiryDate, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan godown stock: %w", err)
		}
		g.Unit = Unit(unit)
		out = append(out, g)
	}
	return out, rows.Err()
}
