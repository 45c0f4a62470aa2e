package order_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/tff-platform/internal/billing"
	"github.com/vasiliy-maslov/tff-platform/internal/codes"
	"github.com/vasiliy-maslov/tff-platform/internal/db"
	"github.com/vasiliy-maslov/tff-platform/internal/db/dbtest"
	"github.com/vasiliy-maslov/tff-platform/internal/order"
	"github.com/vasiliy-maslov/tff-platform/internal/stock"
)

type kitchen struct {
	pool     *pgxpool.Pool
	svc      order.Service
	branch   int64
	customer int64
	chefA    int64
	chefB    int64
	dosa     int64
	rice     int64
}

func setupKitchen(t *testing.T) *kitchen {
	t.Helper()
	pool := dbtest.Pool(t)
	dbtest.Truncate(t, pool)

	k := &kitchen{pool: pool}
	k.svc = order.NewService(order.NewRepository(pool, stock.NewLedger()), func() time.Time { return now })
	k.branch = dbtest.Branch(t, pool, "Jayanagar")
	k.customer = dbtest.Customer(t, pool, "Asha")
	k.chefA = dbtest.Employee(t, pool, k.branch, "chef")
	k.chefB = dbtest.Employee(t, pool, k.branch, "chef")
	k.dosa = dbtest.MenuItem(t, pool, "Masala Dosa", "100.00")
	k.rice = dbtest.RawItem(t, pool, "Rice", "kg")
	return k
}

func (k *kitchen) place(t *testing.T, at time.Time) *order.Order {
	t.Helper()
	lines := []billing.Line{{UnitPrice: d("100.00"), Discount: d("0"), Quantity: 2}}
	var placed *order.Order
	err := db.WithTx(context.Background(), k.pool, "place", func(tx pgx.Tx) error {
		var err error
		placed, err = order.Insert(context.Background(), tx, order.Draft{
			CustomerID: k.customer,
			BranchID:   k.branch,
			Items:      []order.Item{{MenuItemID: k.dosa, Quantity: 2, UnitPrice: d("100.00"), Discount: d("0")}},
			Breakdown:  billing.Compute(lines, billing.DefaultRates()),
			PlacedAt:   at,
		})
		return err
	})
	require.NoError(t, err)
	return placed
}

func TestInsert_DailySequence(t *testing.T) {
	k := setupKitchen(t)
	day := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

	var codes []string
	for i := 0; i < 3; i++ {
		codes = append(codes, k.place(t, day.Add(time.Duration(i)*time.Minute)).Code)
	}
	next := k.place(t, day.AddDate(0, 0, 1))

	assert.Equal(t, []string{"TFFORD20261017-0001", "TFFORD20261017-0002", "TFFORD20261017-0003"}, codes)
	assert.Equal(t, "TFFORD20261018-0001", next.Code)
}

func TestInsert_ConcurrentSequenceIsGapless(t *testing.T) {
	k := setupKitchen(t)
	day := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k.place(t, day)
		}()
	}
	wg.Wait()

	rows, err := k.pool.Query(context.Background(), `SELECT code FROM orders ORDER BY code`)
	require.NoError(t, err)
	defer rows.Close()
	i := 1
	for rows.Next() {
		var code string
		require.NoError(t, rows.Scan(&code))
		assert.Equal(t, fmt.Sprintf("TFFORD20261017-%04d", i), code)
		i++
	}
	assert.Equal(t, n+1, i)
}

func TestAccept_FIFOAndExclusivity(t *testing.T) {
	k := setupKitchen(t)
	ctx := context.Background()
	first := k.place(t, now.Add(-2*time.Minute))
	second := k.place(t, now.Add(-time.Minute))

	tickets, err := k.svc.PendingTickets(ctx, k.branch)
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.Equal(t, first.ID, tickets[0].ID)
	assert.True(t, tickets[0].CanAccept)
	assert.False(t, tickets[1].CanAccept)
	require.Len(t, tickets[0].Items, 1)

	accepted, err := k.svc.Accept(ctx, first.ID, k.chefA)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPreparing, accepted.Status)
	require.NotNil(t, accepted.AssignedChefID)
	assert.Equal(t, k.chefA, *accepted.AssignedChefID)
	assert.Equal(t, codes.Employee(k.chefA), accepted.ChefCode)

	_, err = k.svc.Accept(ctx, second.ID, k.chefA)
	assert.ErrorIs(t, err, order.ErrActiveOrderConflict)

	_, err = k.svc.Accept(ctx, first.ID, k.chefB)
	assert.ErrorIs(t, err, order.ErrOrderNotAvailable)

	current, err := k.svc.CurrentForChef(ctx, k.chefA)
	require.NoError(t, err)
	assert.Equal(t, first.ID, current.ID)

	var available bool
	require.NoError(t, k.pool.QueryRow(ctx, `SELECT is_available FROM employees WHERE id = $1`, k.chefA).Scan(&available))
	assert.False(t, available)
}

func TestAccept_ConcurrentChefs(t *testing.T) {
	k := setupKitchen(t)
	ctx := context.Background()
	placed := k.place(t, now)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, chef := range []int64{k.chefA, k.chefB} {
		wg.Add(1)
		go func(i int, chef int64) {
			defer wg.Done()
			_, errs[i] = k.svc.Accept(ctx, placed.ID, chef)
		}(i, chef)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, order.ErrOrderNotAvailable)
	}
	assert.Equal(t, 1, succeeded)
}

func TestAccept_OtherBranchChef(t *testing.T) {
	k := setupKitchen(t)
	ctx := context.Background()
	placed := k.place(t, now)
	otherBranch := dbtest.Branch(t, k.pool, "Whitefield")
	outsider := dbtest.Employee(t, k.pool, otherBranch, "chef")
	staff := dbtest.Employee(t, k.pool, k.branch, "staff")

	_, err := k.svc.Accept(ctx, placed.ID, outsider)
	assert.ErrorIs(t, err, order.ErrOrderNotAvailable)

	_, err = k.svc.Accept(ctx, placed.ID, staff)
	assert.ErrorIs(t, err, order.ErrChefNotFound)
}

func TestSubmitUsage(t *testing.T) {
	k := setupKitchen(t)
	ctx := context.Background()
	oil := dbtest.RawItem(t, k.pool, "Oil", "ltr")
	dbtest.BranchStock(t, k.pool, k.branch, k.rice, "5", "1")
	dbtest.BranchStock(t, k.pool, k.branch, oil, "1", "0")
	placed := k.place(t, now)

	_, err := k.svc.Accept(ctx, placed.ID, k.chefA)
	require.NoError(t, err)

	_, err = k.svc.SubmitUsage(ctx, placed.ID, k.chefB, []order.IngredientUsage{{ItemID: k.rice, Quantity: d("1")}})
	assert.ErrorIs(t, err, order.ErrNotAssignedChef)

	_, err = k.svc.SubmitUsage(ctx, placed.ID, k.chefA, []order.IngredientUsage{
		{ItemID: k.rice, Quantity: d("2")},
		{ItemID: oil, Quantity: d("1.5")},
	})
	assert.ErrorIs(t, err, stock.ErrInsufficientStock)
	assert.Equal(t, "5.00", dbtest.Quantity(t, k.pool, k.branch, k.rice))

	still, err := k.svc.GetOrder(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPreparing, still.Status)

	done, err := k.svc.SubmitUsage(ctx, placed.ID, k.chefA, []order.IngredientUsage{
		{ItemID: k.rice, Quantity: d("1.5")},
		{ItemID: oil, Quantity: d("0.5")},
		{ItemID: k.rice, Quantity: d("0.5")},
	})
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)
	require.Len(t, done.Ingredients, 2)
	assert.Equal(t, "3.00", dbtest.Quantity(t, k.pool, k.branch, k.rice))
	assert.Equal(t, "0.50", dbtest.Quantity(t, k.pool, k.branch, oil))

	var (
		sales     string
		available bool
	)
	require.NoError(t, k.pool.QueryRow(ctx, `SELECT sales::text FROM branches WHERE id = $1`, k.branch).Scan(&sales))
	assert.Equal(t, "210.00", sales)
	require.NoError(t, k.pool.QueryRow(ctx, `SELECT is_available FROM employees WHERE id = $1`, k.chefA).Scan(&available))
	assert.True(t, available)

	completed, err := k.svc.CompletedForChef(ctx, k.chefA)
	require.NoError(t, err)
	require.Len(t, completed, 1)

	_, err = k.svc.Accept(ctx, k.place(t, now).ID, k.chefA)
	assert.NoError(t, err)
}

func TestCancel(t *testing.T) {
	k := setupKitchen(t)
	ctx := context.Background()
	placed := k.place(t, now)

	err := db.WithTx(ctx, k.pool, "tax", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE branches SET sales = sales + $2 WHERE id = $1`, k.branch, placed.Total); err != nil {
			return err
		}
		return billing.RecordTaxCollection(ctx, tx, placed.ID, k.branch, placed.Tax, now)
	})
	require.NoError(t, err)

	other := dbtest.Customer(t, k.pool, "Ravi")
	assert.ErrorIs(t, k.svc.Cancel(ctx, placed.ID, other), order.ErrOrderNotFound)

	require.NoError(t, k.svc.Cancel(ctx, placed.ID, k.customer))

	_, err = k.svc.GetOrder(ctx, placed.ID)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	var (
		taxRows int
		sales   string
	)
	require.NoError(t, k.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tax_collections`).Scan(&taxRows))
	assert.Zero(t, taxRows)
	require.NoError(t, k.pool.QueryRow(ctx, `SELECT sales::text FROM branches WHERE id = $1`, k.branch).Scan(&sales))
	assert.Equal(t, "0.00", sales)

	preparing := k.place(t, now)
	_, err = k.svc.Accept(ctx, preparing.ID, k.chefA)
	require.NoError(t, err)
	assert.ErrorIs(t, k.svc.Cancel(ctx, preparing.ID, k.customer), order.ErrOrderNotCancellable)
}
