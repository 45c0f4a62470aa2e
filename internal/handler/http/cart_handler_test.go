package http_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/tff-platform/internal/billing"
	"github.com/vasiliy-maslov/tff-platform/internal/cart"
	tffHttp "github.com/vasiliy-maslov/tff-platform/internal/handler/http"
	"github.com/vasiliy-maslov/tff-platform/internal/order"
	"github.com/vasiliy-maslov/tff-platform/internal/pricing"
)

type MockCartService struct {
	mock.Mock
}

func (m *MockCartService) AddItem(ctx context.Context, customerID, menuItemID int64, qty int) (*cart.Line, error) {
	args := m.Called(ctx, customerID, menuItemID, qty)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Line), args.Error(1)
}

func (m *MockCartService) UpdateQuantity(ctx context.Context, customerID, menuItemID int64, qty int) error {
	return m.Called(ctx, customerID, menuItemID, qty).Error(0)
}

func (m *MockCartService) RemoveItem(ctx context.Context, customerID, menuItemID int64) error {
	return m.Called(ctx, customerID, menuItemID).Error(0)
}

func (m *MockCartService) Clear(ctx context.Context, customerID int64) error {
	return m.Called(ctx, customerID).Error(0)
}

func (m *MockCartService) View(ctx context.Context, customerID int64) (*cart.Quote, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Quote), args.Error(1)
}

func (m *MockCartService) Checkout(ctx context.Context, customerID, branchID int64) (*order.Order, error) {
	args := m.Called(ctx, customerID, branchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func TestCartHandler_View(t *testing.T) {
	svc := new(MockCartService)
	c := newClient(t, tffHttp.NewCartHandler(svc))

	q := cart.NewQuote([]cart.Line{{MenuItemID: 5, Name: "Masala Dosa", Quantity: 4, Price: decimal.RequireFromString("50.00")}}, nil, billing.DefaultRates())
	svc.On("View", mock.Anything, customer.ID).Return(&q, nil).Once()

	rr := c.do(http.MethodGet, "/cart", &customer, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Items    []cart.QuoteLine `json:"items"`
		Subtotal decimal.Decimal  `json:"subtotal"`
		Total    decimal.Decimal  `json:"total"`
	}
	decode(t, rr, &body)
	require.Len(t, body.Items, 1)
	assert.Equal(t, "200.00", body.Subtotal.StringFixed(2))
	assert.Equal(t, "210.00", body.Total.StringFixed(2))
	svc.AssertExpectations(t)
}

func TestCartHandler_AddItem(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		svc := new(MockCartService)
		c := newClient(t, tffHttp.NewCartHandler(svc))
		svc.On("AddItem", mock.Anything, customer.ID, int64(5), 2).
			Return(&cart.Line{MenuItemID: 5, Name: "Masala Dosa", Quantity: 2, Price: decimal.RequireFromString("50.00")}, nil).Once()

		rr := c.do(http.MethodPost, "/cart/items", &customer, tffHttp.AddCartItemRequest{MenuItemID: 5, Quantity: 2})
		require.Equal(t, http.StatusCreated, rr.Code)

		var line cart.Line
		decode(t, rr, &line)
		assert.Equal(t, 2, line.Quantity)
		svc.AssertExpectations(t)
	})

	t.Run("zero_quantity_rejected", func(t *testing.T) {
		svc := new(MockCartService)
		c := newClient(t, tffHttp.NewCartHandler(svc))

		rr := c.do(http.MethodPost, "/cart/items", &customer, tffHttp.AddCartItemRequest{MenuItemID: 5, Quantity: 0})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		svc.AssertNotCalled(t, "AddItem", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown_menu_item", func(t *testing.T) {
		svc := new(MockCartService)
		c := newClient(t, tffHttp.NewCartHandler(svc))
		svc.On("AddItem", mock.Anything, customer.ID, int64(99), 1).Return(nil, pricing.ErrMenuItemNotFound).Once()

		rr := c.do(http.MethodPost, "/cart/items", &customer, tffHttp.AddCartItemRequest{MenuItemID: 99, Quantity: 1})
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestCartHandler_UpdateAndRemove(t *testing.T) {
	svc := new(MockCartService)
	c := newClient(t, tffHttp.NewCartHandler(svc))
	svc.On("UpdateQuantity", mock.Anything, customer.ID, int64(5), 0).Return(nil).Once()
	svc.On("RemoveItem", mock.Anything, customer.ID, int64(6)).Return(cart.ErrItemNotInCart).Once()

	rr := c.do(http.MethodPatch, "/cart/items/5", &customer, tffHttp.UpdateCartItemRequest{Quantity: 0})
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = c.do(http.MethodDelete, "/cart/items/6", &customer, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = c.do(http.MethodDelete, "/cart/items/abc", &customer, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	svc.AssertExpectations(t)
}

func TestCartHandler_Checkout(t *testing.T) {
	t.Run("by_branch_code", func(t *testing.T) {
		svc := new(MockCartService)
		c := newClient(t, tffHttp.NewCartHandler(svc))
		svc.On("Checkout", mock.Anything, customer.ID, int64(3)).Return(&order.Order{
			ID:     9,
			Code:   "TFFORD20261017-0001",
			Status: order.StatusPending,
			Total:  decimal.RequireFromString("210.00"),
		}, nil).Once()

		rr := c.do(http.MethodPost, "/cart/checkout", &customer, tffHttp.CheckoutRequest{Branch: "TFFB003"})
		require.Equal(t, http.StatusCreated, rr.Code)

		var placed order.Order
		decode(t, rr, &placed)
		assert.Equal(t, "TFFORD20261017-0001", placed.Code)
		assert.Equal(t, order.StatusPending, placed.Status)
		svc.AssertExpectations(t)
	})

	t.Run("empty_cart", func(t *testing.T) {
		svc := new(MockCartService)
		c := newClient(t, tffHttp.NewCartHandler(svc))
		svc.On("Checkout", mock.Anything, customer.ID, int64(3)).Return(nil, cart.ErrEmptyCart).Once()

		rr := c.do(http.MethodPost, "/cart/checkout", &customer, tffHttp.CheckoutRequest{Branch: "3"})
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		assert.Equal(t, cart.ErrEmptyCart.Error(), errorMessage(t, rr))
	})

	t.Run("bad_branch", func(t *testing.T) {
		svc := new(MockCartService)
		c := newClient(t, tffHttp.NewCartHandler(svc))

		rr := c.do(http.MethodPost, "/cart/checkout", &customer, tffHttp.CheckoutRequest{Branch: "downtown"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		svc.AssertNotCalled(t, "Checkout", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("infrastructure_error_hidden", func(t *testing.T) {
		svc := new(MockCartService)
		c := newClient(t, tffHttp.NewCartHandler(svc))
		svc.On("Checkout", mock.Anything, customer.ID, int64(3)).Return(nil, assert.AnError).Once()

		rr := c.do(http.MethodPost, "/cart/checkout", &customer, tffHttp.CheckoutRequest{Branch: "3"})
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, "Failed to check out", errorMessage(t, rr))
	})
}
