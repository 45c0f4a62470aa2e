package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/tff-platform/internal/auth"
	"github.com/vasiliy-maslov/tff-platform/internal/order"
)

type IngredientUsageRequest struct {
	ItemID   int64  `json:"item_id" validate:"required,gt=0"`
	Quantity string `json:"quantity" validate:"required,numeric"`
}

type SubmitUsageRequest struct {
	Items []IngredientUsageRequest `json:"items" validate:"required,min=1,dive"`
}

// OrderHandler serves the customer order views and the kitchen.
type OrderHandler struct {
	service  order.Service
	validate *validator.Validate
}

func NewOrderHandler(service order.Service) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Route("/orders", func(r chi.Router) {
		r.Use(auth.Require(auth.CapOrder))
		r.Get("/current", h.handleCustomerCurrent)
		r.Get("/history", h.handleCustomerHistory)
		r.Get("/{id}", h.handleGetOrder)
		r.Delete("/{id}", h.handleCancel)
	})

	router.Route("/kitchen", func(r chi.Router) {
		r.Use(auth.Require(auth.CapKitchen))
		r.Get("/branches/{branch}/pending", h.handlePending)
		r.Get("/branches/{branch}/orders", h.handleKitchenOrders)
		r.Post("/orders/{id}/accept", h.handleAccept)
		r.Post("/orders/{id}/ingredients", h.handleSubmitUsage)
		r.Get("/current", h.handleChefCurrent)
		r.Get("/completed", h.handleChefCompleted)
	})
}

func (h *OrderHandler) handleCustomerCurrent(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	orders, err := h.service.CurrentForCustomer(r.Context(), p.ID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to list current orders")
		return
	}
	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleCustomerHistory(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	orders, err := h.service.HistoryForCustomer(r.Context(), p.ID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to list order history")
		return
	}
	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}

	o, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get order")
		return
	}
	if o.CustomerID != p.ID {
		respondWithError(w, http.StatusNotFound, order.ErrOrderNotFound.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Cancel(r.Context(), id, p.ID); err != nil {
		respondWithServiceError(w, err, "Failed to cancel order")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandler) handlePending(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	branchID, ok := branchParam(w, r)
	if !ok || !requireBranch(w, p, branchID) {
		return
	}

	tickets, err := h.service.PendingTickets(r.Context(), branchID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to list pending orders")
		return
	}
	respondWithJSON(w, http.StatusOK, tickets)
}

func (h *OrderHandler) handleKitchenOrders(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	branchID, ok := branchParam(w, r)
	if !ok || !requireBranch(w, p, branchID) {
		return
	}

	orders, err := h.service.KitchenOrders(r.Context(), branchID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to list kitchen orders")
		return
	}
	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleAccept(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}

	accepted, err := h.service.Accept(r.Context(), id, p.ID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to accept order")
		return
	}
	respondWithJSON(w, http.StatusOK, accepted)
}

func (h *OrderHandler) handleSubmitUsage(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}

	var payload SubmitUsageRequest
	if !decodeAndValidate(w, r, h.validate, &payload) {
		return
	}

	usage := make([]order.IngredientUsage, 0, len(payload.Items))
	for _, it := range payload.Items {
		qty, err := decimal.NewFromString(it.Quantity)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid quantity")
			return
		}
		usage = append(usage, order.IngredientUsage{ItemID: it.ItemID, Quantity: qty})
	}

	completed, err := h.service.SubmitUsage(r.Context(), id, p.ID, usage)
	if err != nil {
		respondWithServiceError(w, err, "Failed to submit ingredient usage")
		return
	}
	respondWithJSON(w, http.StatusOK, completed)
}

func (h *OrderHandler) handleChefCurrent(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	o, err := h.service.CurrentForChef(r.Context(), p.ID)
	if errors.Is(err, order.ErrOrderNotFound) {
		respondWithJSON(w, http.StatusOK, nil)
		return
	}
	if err != nil {
		respondWithServiceError(w, err, "Failed to get current order")
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) handleChefCompleted(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	orders, err := h.service.CompletedForChef(r.Context(), p.ID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to list completed orders")
		return
	}
	respondWithJSON(w, http.StatusOK, orders)
}
