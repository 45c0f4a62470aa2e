package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/tff-platform/internal/stock"
)

var passThrough = []error{
	ErrOrderNotFound,
	ErrChefNotFound,
	ErrBranchNotFound,
	ErrOrderNotAvailable,
	ErrActiveOrderConflict,
	ErrNotAssignedChef,
	ErrOrderNotPreparing,
	ErrOrderNotCancellable,
	ErrInvalidQuantity,
	ErrNoIngredients,
	stock.ErrInsufficientStock,
	stock.ErrInvalidQuantity,
}

func isDomainError(err error) bool {
	for _, target := range passThrough {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type Service interface {
	GetOrder(ctx context.Context, id int64) (*Order, error)
	PendingTickets(ctx context.Context, branchID int64) ([]Ticket, error)
	KitchenOrders(ctx context.Context, branchID int64) ([]Order, error)
	CurrentForChef(ctx context.Context, chefID int64) (*Order, error)
	CompletedForChef(ctx context.Context, chefID int64) ([]Order, error)
	CurrentForCustomer(ctx context.Context, customerID int64) ([]Order, error)
	HistoryForCustomer(ctx context.Context, customerID int64) ([]Order, error)
	Accept(ctx context.Context, orderID, chefID int64) (*Order, error)
	SubmitUsage(ctx context.Context, orderID, chefID int64, usage []IngredientUsage) (*Order, error)
	Cancel(ctx context.Context, orderID, customerID int64) error
}

type service struct {
	orderRepo Repository
	now       func() time.Time
}

func NewService(orderRepo Repository, now func() time.Time) Service {
	if now == nil {
		now = time.Now
	}
	return &service{orderRepo: orderRepo, now: now}
}

func (s *service) wrap(op string, err error) error {
	if isDomainError(err) {
		return err
	}
	return fmt.Errorf("service: %s: %w", op, err)
}

func (s *service) GetOrder(ctx context.Context, id int64) (*Order, error) {
	o, err := s.orderRepo.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Int64("order_id", id).Msg("service: order not found by id")
		} else {
			log.Error().Err(err).Int64("order_id", id).Msg("service: failed to fetch order by id in repository")
		}
		return nil, s.wrap("failed to fetch order", err)
	}
	return o, nil
}

// PendingTickets lists a branch's pending orders oldest first; only the first
// can be accepted.
func (s *service) PendingTickets(ctx context.Context, branchID int64) ([]Ticket, error) {
	pending, err := s.orderRepo.PendingOrders(ctx, branchID)
	if err != nil {
		log.Error().Err(err).Int64("branch_id", branchID).Msg("service: failed to fetch pending orders")
		return nil, s.wrap("failed to fetch pending orders", err)
	}
	return MarkFIFO(pending), nil
}

func (s *service) KitchenOrders(ctx context.Context, branchID int64) ([]Order, error) {
	orders, err := s.orderRepo.KitchenOrders(ctx, branchID)
	if err != nil {
		return nil, s.wrap("failed to fetch kitchen orders", err)
	}
	return orders, nil
}

func (s *service) CurrentForChef(ctx context.Context, chefID int64) (*Order, error) {
	o, err := s.orderRepo.CurrentForChef(ctx, chefID)
	if err != nil {
		return nil, s.wrap("failed to fetch chef's current order", err)
	}
	return o, nil
}

func (s *service) CompletedForChef(ctx context.Context, chefID int64) ([]Order, error) {
	orders, err := s.orderRepo.CompletedForChef(ctx, chefID)
	if err != nil {
		return nil, s.wrap("failed to fetch chef's completed orders", err)
	}
	return orders, nil
}

func (s *service) CurrentForCustomer(ctx context.Context, customerID int64) ([]Order, error) {
	orders, err := s.orderRepo.CurrentForCustomer(ctx, customerID)
	if err != nil {
		log.Error().Err(err).Int64("customer_id", customerID).Msg("service: failed to fetch customer orders in repository")
		return nil, s.wrap("failed to fetch customer orders", err)
	}
	return orders, nil
}

func (s *service) HistoryForCustomer(ctx context.Context, customerID int64) ([]Order, error) {
	orders, err := s.orderRepo.HistoryForCustomer(ctx, customerID)
	if err != nil {
		log.Error().Err(err).Int64("customer_id", customerID).Msg("service: failed to fetch customer history in repository")
		return nil, s.wrap("failed to fetch customer history", err)
	}
	return orders, nil
}

func (s *service) Accept(ctx context.Context, orderID, chefID int64) (*Order, error) {
	o, err := s.orderRepo.Accept(ctx, orderID, chefID, s.now().UTC())
	if err != nil {
		log.Warn().Err(err).Int64("order_id", orderID).Int64("chef_id", chefID).Msg("service: accept failed")
		return nil, s.wrap("failed to accept order", err)
	}
	return o, nil
}

func (s *service) SubmitUsage(ctx context.Context, orderID, chefID int64, usage []IngredientUsage) (*Order, error) {
	if _, err := MergeUsage(usage); err != nil {
		return nil, err
	}
	o, err := s.orderRepo.SubmitUsage(ctx, orderID, chefID, usage, s.now().UTC())
	if err != nil {
		log.Warn().Err(err).Int64("order_id", orderID).Int64("chef_id", chefID).Msg("service: ingredient submission failed")
		return nil, s.wrap("failed to submit ingredient usage", err)
	}
	return o, nil
}

func (s *service) Cancel(ctx context.Context, orderID, customerID int64) error {
	if err := s.orderRepo.Cancel(ctx, orderID, customerID); err != nil {
		log.Warn().Err(err).Int64("order_id", orderID).Int64("customer_id", customerID).Msg("service: cancel failed")
		return s.wrap("failed to cancel order", err)
	}
	log.Info().Int64("order_id", orderID).Int64("customer_id", customerID).Msg("Service: Order cancelled")
	return nil
}
