package dbtest

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func insertID(tb testing.TB, p *pgxpool.Pool, query string, args ...any) int64 {
	tb.Helper()
	var id int64
	require.NoError(tb, p.QueryRow(context.Background(), query, args...).Scan(&id))
	return id
}

func Branch(tb testing.TB, p *pgxpool.Pool, name string) int64 {
	return insertID(tb, p, `INSERT INTO branches (name) VALUES ($1) RETURNING id`, name)
}

func Employee(tb testing.TB, p *pgxpool.Pool, branchID int64, role string) int64 {
	return insertID(tb, p, `INSERT INTO employees (branch_id, name, role) VALUES ($1, $2, $3) RETURNING id`,
		branchID, role+"-employee", role)
}

func Customer(tb testing.TB, p *pgxpool.Pool, name string) int64 {
	return insertID(tb, p, `INSERT INTO customers (name) VALUES ($1) RETURNING id`, name)
}

func RawItem(tb testing.TB, p *pgxpool.Pool, name, unit string) int64 {
	return insertID(tb, p, `INSERT INTO items (name, item_type, unit) VALUES ($1, 'raw_material', $2) RETURNING id`, name, unit)
}

func MenuItem(tb testing.TB, p *pgxpool.Pool, name, price string) int64 {
	return insertID(tb, p, `INSERT INTO menu_items (name, price) VALUES ($1, $2::numeric) RETURNING id`, name, price)
}

func BranchStock(tb testing.TB, p *pgxpool.Pool, branchID, itemID int64, qty, minLevel string) {
	tb.Helper()
	_, err := p.Exec(context.Background(),
		`INSERT INTO branch_stock (branch_id, item_id, quantity, min_level) VALUES ($1, $2, $3::numeric, $4::numeric)`,
		branchID, itemID, qty, minLevel)
	require.NoError(tb, err)
}

func GodownStock(tb testing.TB, p *pgxpool.Pool, itemID int64, qty string) {
	tb.Helper()
	_, err := p.Exec(context.Background(),
		`INSERT INTO godown_stock (item_id, quantity) VALUES ($1, $2::numeric)`, itemID, qty)
	require.NoError(tb, err)
}

// Quantity reads a branch stock quantity as text, "" when the row is absent.
func Quantity(tb testing.TB, p *pgxpool.Pool, branchID, itemID int64) string {
	tb.Helper()
	var q string
	err := p.QueryRow(context.Background(),
		`SELECT COALESCE((SELECT quantity::text FROM branch_stock WHERE branch_id = $1 AND item_id = $2), '')`,
		branchID, itemID).Scan(&q)
	require.NoError(tb, err)
	return q
}

func GodownQuantity(tb testing.TB, p *pgxpool.Pool, itemID int64) string {
	tb.Helper()
	var q string
	err := p.QueryRow(context.Background(),
		`SELECT COALESCE((SELECT quantity::text FROM godown_stock WHERE item_id = $1), '')`, itemID).Scan(&q)
	require.NoError(tb, err)
	return q
}
