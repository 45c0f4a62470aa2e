package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var ErrInvalidPeriod = errors.New("period end must be after period start")

type BranchGST struct {
	BranchID int64           `json:"branch_id" db:"branch_id"`
	GST      decimal.Decimal `json:"gst" db:"gst"`
	Entries  int64           `json:"entries" db:"entries"`
}

type Reporter interface {
	// MonthlyGSTTotal sums tax-collection entries created in [start, end).
	MonthlyGSTTotal(ctx context.Context, start, end time.Time) (decimal.Decimal, error)
	GSTByBranch(ctx context.Context, start, end time.Time) ([]BranchGST, error)
}

type sqlxReporter struct {
	db *sqlx.DB
}

func NewReporter(db *sqlx.DB) Reporter {
	return &sqlxReporter{db: db}
}

func (r *sqlxReporter) MonthlyGSTTotal(ctx context.Context, start, end time.Time) (decimal.Decimal, error) {
	if !end.After(start) {
		return decimal.Zero, ErrInvalidPeriod
	}

	var total decimal.Decimal
	query := `SELECT COALESCE(SUM(gst), 0) FROM tax_collections WHERE created_at >= $1 AND created_at < $2`
	if err := r.db.GetContext(ctx, &total, query, start, end); err != nil {
		log.Error().Err(err).Time("start", start).Time("end", end).Msg("repository: failed to sum gst")
		return decimal.Zero, fmt.Errorf("repository: failed to sum gst: %w", err)
	}

	return total, nil
}

func (r *sqlxReporter) GSTByBranch(ctx context.Context, start, end time.Time) ([]BranchGST, error) {
	if !end.After(start) {
		return nil, ErrInvalidPeriod
	}

	rows := make([]BranchGST, 0)
	query := `
		SELECT branch_id, SUM(gst) AS gst, COUNT(*) AS entries
		FROM tax_collections
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY branch_id
		ORDER BY branch_id
	`
	if err := r.db.SelectContext(ctx, &rows, query, start, end); err != nil {
		return nil, fmt.Errorf("repository: failed to group gst by branch: %w", err)
	}

	return rows, nil
}

// PreviousMonth returns [first day of last month, first day of this month)
// in now's location, the period the monthly GST notice covers.
func PreviousMonth(now time.Time) (time.Time, time.Time) {
	end := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return end.AddDate(0, -1, 0), end
}
