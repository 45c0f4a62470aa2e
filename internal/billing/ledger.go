package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// RecordTaxCollection appends a tax-collection entry inside the caller's
// transaction.
func RecordTaxCollection(ctx context.Context, tx pgx.Tx, orderID, branchID int64, gst decimal.Decimal, at time.Time) error {
	query := `
		INSERT INTO tax_collections (order_id, branch_id, gst, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := tx.Exec(ctx, query, orderID, branchID, gst, at); err != nil {
		return fmt.Errorf("repository: failed to insert tax collection for order %d: %w", orderID, err)
	}
	return nil
}
