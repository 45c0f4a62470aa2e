package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const defaultSweepBatch = 500

var domainErrors = []error{
	ErrInsufficientStock,
	ErrInvalidQuantity,
	ErrSameLocation,
	ErrNotFound,
	ErrRequestNotFound,
	ErrRequestExpired,
	ErrRequestNotPending,
	ErrWrongRequestSource,
	ErrDuplicateRequest,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type Service interface {
	CreateSmartRequest(ctx context.Context, branchID, itemID int64, qty decimal.Decimal) (*Request, error)
	GetRequest(ctx context.Context, id uuid.UUID) (*Request, error)
	ApprovePeerRequest(ctx context.Context, id uuid.UUID) (*Request, error)
	RejectPeerRequest(ctx context.Context, id uuid.UUID) (*Request, *Request, error)
	ApproveGodownRequest(ctx context.Context, id uuid.UUID) (*Request, error)
	RejectGodownRequest(ctx context.Context, id uuid.UUID) (*Request, error)
	SweepExpired(ctx context.Context) (SweepResult, error)
	ListIncoming(ctx context.Context, donorBranchID int64) ([]Request, error)
	ListGodownQueue(ctx context.Context) ([]Request, error)
	BranchStock(ctx context.Context, branchID int64) ([]BranchStock, error)
	GodownStock(ctx context.Context) ([]GodownStock, error)
}

type Options struct {
	PeerRequestTTL   time.Duration
	RejectDuplicates bool
	SweepBatch       int
	Now              func() time.Time
}

type service struct {
	repo Repository
	opts Options
}

func NewService(repo Repository, opts Options) Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = defaultSweepBatch
	}
	if opts.PeerRequestTTL <= 0 {
		opts.PeerRequestTTL = 15 * time.Minute
	}
	return &service{repo: repo, opts: opts}
}

func (s *service) now() time.Time {
	return s.opts.Now().UTC()
}

func (s *service) wrap(op string, err error) error {
	if isDomainError(err) {
		return err
	}
	return fmt.Errorf("service: %s: %w", op, err)
}

// CreateSmartRequest asks the first branch with enough surplus for the item
// and falls back to the godown when no branch qualifies.
func (s *service) CreateSmartRequest(ctx context.Context, branchID, itemID int64, qty decimal.Decimal) (*Request, error) {
	if !ValidQuantity(qty) {
		return nil, ErrInvalidQuantity
	}
	now := s.now()

	candidates, err := s.repo.DonorCandidates(ctx, branchID, itemID, qty)
	if err != nil {
		log.Error().Err(err).Int64("branch_id", branchID).Int64("item_id", itemID).Msg("service: failed to load donor candidates")
		return nil, s.wrap("failed to load donor candidates", err)
	}

	var req *Request
	if donor, ok := PickDonor(candidates, branchID, qty); ok {
		req, err = NewPeerRequest(branchID, donor, itemID, qty, now, s.opts.PeerRequestTTL)
	} else {
		req, err = NewGodownRequest(branchID, itemID, qty, now)
	}
	if err != nil {
		return nil, s.wrap("failed to build stock request", err)
	}

	if err := s.repo.CreateRequest(ctx, req, s.opts.RejectDuplicates); err != nil {
		if errors.Is(err, ErrDuplicateRequest) {
			log.Warn().Int64("branch_id", branchID).Int64("item_id", itemID).Msg("service: duplicate stock request rejected")
		} else if !isDomainError(err) {
			log.Error().Err(err).Int64("branch_id", branchID).Msg("service: failed to create stock request")
		}
		return nil, s.wrap("failed to create stock request", err)
	}

	log.Info().
		Stringer("request_id", req.ID).
		Int64("branch_id", branchID).
		Int64("item_id", itemID).
		Str("source", string(req.Source)).
		Msg("Service: Stock request created")
	return req, nil
}

func (s *service) GetRequest(ctx context.Context, id uuid.UUID) (*Request, error) {
	req, err := s.repo.GetRequest(ctx, id)
	if err != nil {
		return nil, s.wrap("failed to get stock request", err)
	}
	return req, nil
}

func (s *service) ApprovePeerRequest(ctx context.Context, id uuid.UUID) (*Request, error) {
	req, err := s.repo.ApprovePeer(ctx, id, s.now())
	if err != nil {
		log.Warn().Err(err).Stringer("request_id", id).Msg("service: peer approval failed")
		return nil, s.wrap("failed to approve peer request", err)
	}
	log.Info().Stringer("request_id", id).Msg("Service: Peer stock request approved")
	return req, nil
}

func (s *service) RejectPeerRequest(ctx context.Context, id uuid.UUID) (*Request, *Request, error) {
	rejected, fallback, err := s.repo.RejectPeer(ctx, id, s.now())
	if err != nil {
		log.Warn().Err(err).Stringer("request_id", id).Msg("service: peer rejection failed")
		return nil, nil, s.wrap("failed to reject peer request", err)
	}
	log.Info().Stringer("request_id", id).Stringer("fallback_id", fallback.ID).Msg("Service: Peer stock request rejected")
	return rejected, fallback, nil
}

func (s *service) ApproveGodownRequest(ctx context.Context, id uuid.UUID) (*Request, error) {
	req, err := s.repo.ApproveGodown(ctx, id, s.now())
	if err != nil {
		log.Warn().Err(err).Stringer("request_id", id).Msg("service: godown approval failed")
		return nil, s.wrap("failed to approve godown request", err)
	}
	log.Info().Stringer("request_id", id).Msg("Service: Godown stock request approved")
	return req, nil
}

func (s *service) RejectGodownRequest(ctx context.Context, id uuid.UUID) (*Request, error) {
	req, err := s.repo.RejectGodown(ctx, id, s.now())
	if err != nil {
		return nil, s.wrap("failed to reject godown request", err)
	}
	log.Info().Stringer("request_id", id).Msg("Service: Godown stock request rejected")
	return req, nil
}

// SweepExpired times out every pending peer request past its deadline. Each
// request runs in its own transaction; a failure is logged and counted and the
// sweep moves on.
func (s *service) SweepExpired(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.now()

	ids, err := s.repo.ExpiredPeerRequests(ctx, now, s.opts.SweepBatch)
	if err != nil {
		return res, s.wrap("failed to list expired requests", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		fallback, err := s.repo.TimeoutPeer(ctx, id, now)
		switch {
		case err != nil:
			res.Failed++
			log.Error().Err(err).Stringer("request_id", id).Msg("service: failed to time out stock request")
		case fallback == nil:
			res.Skipped++
		default:
			res.Expired++
			res.Fallbacks++
		}
	}

	if res.Expired > 0 || res.Failed > 0 {
		log.Info().
			Int("expired", res.Expired).
			Int("skipped", res.Skipped).
			Int("failed", res.Failed).
			Msg("Service: Stock request sweep finished")
	}
	return res, nil
}

func (s *service) ListIncoming(ctx context.Context, donorBranchID int64) ([]Request, error) {
	reqs, err := s.repo.ListIncoming(ctx, donorBranchID)
	if err != nil {
		return nil, s.wrap("failed to list incoming requests", err)
	}
	return reqs, nil
}

func (s *service) ListGodownQueue(ctx context.Context) ([]Request, error) {
	reqs, err := s.repo.ListGodownQueue(ctx)
	if err != nil {
		return nil, s.wrap("failed to list godown queue", err)
	}
	return reqs, nil
}

func (s *service) BranchStock(ctx context.Context, branchID int64) ([]BranchStock, error) {
	stock, err := s.repo.BranchStock(ctx, branchID)
	if err != nil {
		return nil, s.wrap("failed to list branch stock", err)
	}
	return stock, nil
}

func (s *service) GodownStock(ctx context.Context) ([]GodownStock, error) {
	stock, err := s.repo.GodownStock(ctx)
	if err != nil {
		return nil, s.wrap("failed to list godown stock", err)
	}
	now := s.now()
	for i := range stock {
		stock[i].IsExpired = stock[i].Expired(now)
	}
	return stock, nil
}
