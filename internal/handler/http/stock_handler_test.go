package http_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	tffHttp "github.com/vasiliy-maslov/tff-platform/internal/handler/http"
	"github.com/vasiliy-maslov/tff-platform/internal/stock"
	"github.com/vasiliy-maslov/tff-platform/internal/worker"
)

type MockStockService struct {
	mock.Mock
}

func (m *MockStockService) request(args mock.Arguments) (*stock.Request, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stock.Request), args.Error(1)
}

func (m *MockStockService) CreateSmartRequest(ctx context.Context, branchID, itemID int64, qty decimal.Decimal) (*stock.Request, error) {
	return m.request(m.Called(ctx, branchID, itemID, qty))
}

func (m *MockStockService) GetRequest(ctx context.Context, id uuid.UUID) (*stock.Request, error) {
	return m.request(m.Called(ctx, id))
}

func (m *MockStockService) ApprovePeerRequest(ctx context.Context, id uuid.UUID) (*stock.Request, error) {
	return m.request(m.Called(ctx, id))
}

func (m *MockStockService) RejectPeerRequest(ctx context.Context, id uuid.UUID) (*stock.Request, *stock.Request, error) {
	args := m.Called(ctx, id)
	var rejected, fallback *stock.Request
	if v := args.Get(0); v != nil {
		rejected = v.(*stock.Request)
	}
	if v := args.Get(1); v != nil {
		fallback = v.(*stock.Request)
	}
	return rejected, fallback, args.Error(2)
}

func (m *MockStockService) ApproveGodownRequest(ctx context.Context, id uuid.UUID) (*stock.Request, error) {
	return m.request(m.Called(ctx, id))
}

func (m *MockStockService) RejectGodownRequest(ctx context.Context, id uuid.UUID) (*stock.Request, error) {
	return m.request(m.Called(ctx, id))
}

func (m *MockStockService) SweepExpired(ctx context.Context) (stock.SweepResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(stock.SweepResult), args.Error(1)
}

func (m *MockStockService) ListIncoming(ctx context.Context, donorBranchID int64) ([]stock.Request, error) {
	args := m.Called(ctx, donorBranchID)
	return args.Get(0).([]stock.Request), args.Error(1)
}

func (m *MockStockService) ListGodownQueue(ctx context.Context) ([]stock.Request, error) {
	args := m.Called(ctx)
	return args.Get(0).([]stock.Request), args.Error(1)
}

func (m *MockStockService) BranchStock(ctx context.Context, branchID int64) ([]stock.BranchStock, error) {
	args := m.Called(ctx, branchID)
	return args.Get(0).([]stock.BranchStock), args.Error(1)
}

func (m *MockStockService) GodownStock(ctx context.Context) ([]stock.GodownStock, error) {
	args := m.Called(ctx)
	return args.Get(0).([]stock.GodownStock), args.Error(1)
}

type MockSweeper struct {
	mock.Mock
}

func (m *MockSweeper) RunOnce(ctx context.Context) (stock.SweepResult, bool, error) {
	args := m.Called(ctx)
	return args.Get(0).(stock.SweepResult), args.Bool(1), args.Error(2)
}

var requestTime = time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)

func peerRequest(id uuid.UUID) *stock.Request {
	expires := requestTime.Add(15 * time.Minute)
	return &stock.Request{
		ID:             id,
		OriginBranchID: 2,
		DonorBranchID:  branchPtr(1),
		ItemID:         7,
		Quantity:       decimal.RequireFromString("3"),
		Source:         stock.SourceBranch,
		Status:         stock.RequestPending,
		ExpiresAt:      &expires,
		CreatedAt:      requestTime,
	}
}

func TestStockHandler_CreateRequest(t *testing.T) {
	t.Run("uses_principal_branch", func(t *testing.T) {
		svc := new(MockStockService)
		c := newClient(t, tffHttp.NewStockHandler(svc, new(MockSweeper)))

		id := uuid.Must(uuid.NewV4())
		svc.On("CreateSmartRequest", mock.Anything, int64(2), int64(7), mock.MatchedBy(func(q decimal.Decimal) bool {
			return q.Equal(decimal.RequireFromString("3"))
		})).Return(peerRequest(id), nil).Once()

		rr := c.do(http.MethodPost, "/stock/requests", &staffB, tffHttp.CreateStockRequest{ItemID: 7, Quantity: "3"})
		require.Equal(t, http.StatusCreated, rr.Code)

		var got stock.Request
		decode(t, rr, &got)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, stock.SourceBranch, got.Source)
		require.NotNil(t, got.DonorBranchID)
		assert.Equal(t, int64(1), *got.DonorBranchID)
		svc.AssertExpectations(t)
	})

	t.Run("other_branch_forbidden", func(t *testing.T) {
		svc := new(MockStockService)
		c := newClient(t, tffHttp.NewStockHandler(svc, new(MockSweeper)))

		rr := c.do(http.MethodPost, "/stock/requests", &staffB, tffHttp.CreateStockRequest{BranchID: branchPtr(1), ItemID: 7, Quantity: "3"})
		assert.Equal(t, http.StatusForbidden, rr.Code)
		svc.AssertNotCalled(t, "CreateSmartRequest", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("validation_failed", func(t *testing.T) {
		svc := new(MockStockService)
		c := newClient(t, tffHttp.NewStockHandler(svc, new(MockSweeper)))

		rr := c.do(http.MethodPost, "/stock/requests", &staffB, tffHttp.CreateStockRequest{ItemID: 7, Quantity: "three"})
		require.Equal(t, http.StatusBadRequest, rr.Code)

		var body tffHttp.ValidationErrorResponse
		decode(t, rr, &body)
		assert.Equal(t, "Validation failed", body.Error)
		assert.Contains(t, body.Details, "Quantity")
	})

	t.Run("unknown_fields_rejected", func(t *testing.T) {
		c := newClient(t, tffHttp.NewStockHandler(new(MockStockService), new(MockSweeper)))
		rr := c.do(http.MethodPost, "/stock/requests", &staffB, `{"item_id":7,"quantity":"3","priority":"high"}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("domain_errors", func(t *testing.T) {
		tests := []struct {
			err  error
			code int
		}{
			{stock.ErrInvalidQuantity, http.StatusBadRequest},
			{stock.ErrDuplicateRequest, http.StatusConflict},
			{stock.ErrNotFound, http.StatusNotFound},
		}
		for _, tt := range tests {
			svc := new(MockStockService)
			c := newClient(t, tffHttp.NewStockHandler(svc, new(MockSweeper)))
			svc.On("CreateSmartRequest", mock.Anything, int64(2), int64(7), mock.Anything).Return(nil, tt.err).Once()

			rr := c.do(http.MethodPost, "/stock/requests", &staffB, tffHttp.CreateStockRequest{ItemID: 7, Quantity: "0"})
			assert.Equal(t, tt.code, rr.Code, tt.err.Error())
			assert.Equal(t, tt.err.Error(), errorMessage(t, rr))
		}
	})
}

func TestStockHandler_ApprovePeer(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	path := "/stock/requests/" + id.String() + "/approve"

	t.Run("donor_manager_approves", func(t *testing.T) {
		svc := new(MockStockService)
		c := newClient(t, tffHttp.NewStockHandler(svc, new(MockSweeper)))

		approved := peerRequest(id)
		approved.Status = stock.RequestApproved
		svc.On("GetRequest", mock.Anything, id).Return(peerRequest(id), nil).Once()
		svc.On("ApprovePeerRequest", mock.Anything, id).Return(approved, nil).Once()

		rr := c.do(http.MethodPost, path, &managerA, nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var got stock.Request
		decode(t, rr, &got)
		assert.Equal(t, stock.RequestApproved, got.Status)
		svc.AssertExpectations(t)
	})

	t.Run("origin_manager_forbidden", func(t *testing.T) {
		svc := new(MockStockService)
		c := newClient(t, tffHttp.NewStockHandler(svc, new(MockSweeper)))
		svc.On("GetRequest", mock.Anything, id).Return(peerRequest(id), nil).Once()

		rr := c.do(http.MethodPost, path, &managerB, nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)
		svc.AssertNotCalled(t, "ApprovePeerRequest", mock.Anything, mock.Anything)
	})

	t.Run("expired", func(t *testing.T) {
		svc := new(MockStockService)
		c := newClient(t, tffHttp.NewStockHandler(svc, new(MockSweeper)))
		svc.On("GetRequest", mock.Anything, id).Return(peerRequest(id), nil).Once()
		svc.On("ApprovePeerRequest", mock.Anything, id).Return(nil, stock.ErrRequestExpired).Once()

		rr := c.do(http.MethodPost, path, &managerA, nil)
		assert.Equal(t, http.StatusGone, rr.Code)
	})

	t.Run("insufficient_stock", func(t *testing.T) {
		svc := new(MockStockService)
		c := newClient(t, tffHttp.NewStockHandler(svc, new(MockSweeper)))
		svc.On("GetRequest", mock.Anything, id).Return(peerRequest(id), nil).Once()
		svc.On("ApprovePeerRequest", mock.Anything, id).Return(nil, stock.ErrInsufficientStock).Once()

		rr := c.do(http.MethodPost, path, &managerA, nil)
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("bad_id", func(t *testing.T) {
		c := newClient(t, tffHttp.NewStockHandler(new(MockStockService), new(MockSweeper)))
		rr := c.do(http.MethodPost, "/stock/requests/not-a-uuid/approve", &managerA, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestStockHandler_RejectPeerReturnsFallback(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	svc := new(MockStockService)
	c := newClient(t, tffHttp.NewStockHandler(svc, new(MockSweeper)))

	rejected := peerRequest(id)
	rejected.Status = stock.RequestRejected
	parent := id
	fallback := &stock.Request{
		ID:             uuid.Must(uuid.NewV4()),
		OriginBranchID: 2,
		ItemID:         7,
		Quantity:       decimal.RequireFromString("3"),
		Source:         stock.SourceGodown,
		Status:         stock.RequestPending,
		ParentID:       &parent,
		CreatedAt:      requestTime,
	}
	svc.On("GetRequest", mock.Anything, id).Return(peerRequest(id), nil).Once()
	svc.On("RejectPeerRequest", mock.Anything, id).Return(rejected, fallback, nil).Once()

	rr := c.do(http.MethodPost, "/stock/requests/"+id.String()+"/reject", &managerA, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var got tffHttp.RejectPeerResponse
	decode(t, rr, &got)
	assert.Equal(t, stock.RequestRejected, got.Rejected.Status)
	require.NotNil(t, got.Fallback)
	assert.Equal(t, stock.SourceGodown, got.Fallback.Source)
	require.NotNil(t, got.Fallback.ParentID)
	assert.Equal(t, id, *got.Fallback.ParentID)
}

func TestStockHandler_Sweep(t *testing.T) {
	t.Run("runs", func(t *testing.T) {
		sweeper := new(MockSweeper)
		c := newClient(t, tffHttp.NewStockHandler(new(MockStockService), sweeper))
		sweeper.On("RunOnce", mock.Anything).Return(stock.SweepResult{Expired: 2, Fallbacks: 2}, true, nil).Once()

		rr := c.do(http.MethodPost, "/stock/requests/sweep", &admin, nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var got stock.SweepResult
		decode(t, rr, &got)
		assert.Equal(t, stock.SweepResult{Expired: 2, Fallbacks: 2}, got)
	})

	t.Run("already_running", func(t *testing.T) {
		sweeper := new(MockSweeper)
		c := newClient(t, tffHttp.NewStockHandler(new(MockStockService), sweeper))
		sweeper.On("RunOnce", mock.Anything).Return(stock.SweepResult{}, false, nil).Once()

		rr := c.do(http.MethodPost, "/stock/requests/sweep", &admin, nil)
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("sweep_failure_is_reported", func(t *testing.T) {
		sweeper := worker.NewSweeper(func(ctx context.Context) (stock.SweepResult, error) {
			return stock.SweepResult{}, errors.New("connection refused")
		}, time.Hour)
		c := newClient(t, tffHttp.NewStockHandler(new(MockStockService), sweeper))

		rr := c.do(http.MethodPost, "/stock/requests/sweep", &admin, nil)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, "Failed to sweep stock requests", errorMessage(t, rr))
	})
}

func TestStockHandler_BranchStockAcceptsCode(t *testing.T) {
	svc := new(MockStockService)
	c := newClient(t, tffHttp.NewStockHandler(svc, new(MockSweeper)))
	svc.On("BranchStock", mock.Anything, int64(2)).Return([]stock.BranchStock{
		{BranchID: 2, ItemID: 7, Quantity: decimal.RequireFromString("3"), MinLevel: decimal.RequireFromString("1")},
	}, nil).Twice()

	for _, ref := range []string{"2", "TFFB002"} {
		rr := c.do(http.MethodGet, "/stock/branches/"+ref, &staffB, nil)
		assert.Equal(t, http.StatusOK, rr.Code, ref)
	}

	rr := c.do(http.MethodGet, "/stock/branches/TFFB001", &staffB, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = c.do(http.MethodGet, "/stock/branches/XYZ", &staffB, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	svc.AssertExpectations(t)
}
