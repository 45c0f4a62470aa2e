package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/tff-platform/internal/auth"
	"github.com/vasiliy-maslov/tff-platform/internal/cart"
	"github.com/vasiliy-maslov/tff-platform/internal/codes"
)

type AddCartItemRequest struct {
	MenuItemID int64 `json:"menu_item_id" validate:"required,gt=0"`
	Quantity   int   `json:"quantity" validate:"required,gt=0"`
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity" validate:"gte=0"`
}

// CheckoutRequest names the branch by numeric id or TFFB code.
type CheckoutRequest struct {
	Branch string `json:"branch" validate:"required"`
}

type CartHandler struct {
	service  cart.Service
	validate *validator.Validate
}

func NewCartHandler(service cart.Service) *CartHandler {
	return &CartHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *CartHandler) RegisterRoutes(router chi.Router) {
	router.Route("/cart", func(r chi.Router) {
		r.Use(auth.Require(auth.CapOrder))
		r.Get("/", h.handleView)
		r.Delete("/", h.handleClear)
		r.Post("/items", h.handleAddItem)
		r.Patch("/items/{menuItemID}", h.handleUpdateItem)
		r.Delete("/items/{menuItemID}", h.handleRemoveItem)
		r.Post("/checkout", h.handleCheckout)
	})
}

func (h *CartHandler) handleView(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	quote, err := h.service.View(r.Context(), p.ID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to load cart")
		return
	}
	respondWithJSON(w, http.StatusOK, quote)
}

func (h *CartHandler) handleClear(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	if err := h.service.Clear(r.Context(), p.ID); err != nil {
		respondWithServiceError(w, err, "Failed to clear cart")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var payload AddCartItemRequest
	if !decodeAndValidate(w, r, h.validate, &payload) {
		return
	}

	line, err := h.service.AddItem(r.Context(), p.ID, payload.MenuItemID, payload.Quantity)
	if err != nil {
		respondWithServiceError(w, err, "Failed to add cart item")
		return
	}
	respondWithJSON(w, http.StatusCreated, line)
}

func (h *CartHandler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	menuItemID, ok := int64Param(w, r, "menuItemID")
	if !ok {
		return
	}

	var payload UpdateCartItemRequest
	if !decodeAndValidate(w, r, h.validate, &payload) {
		return
	}

	if err := h.service.UpdateQuantity(r.Context(), p.ID, menuItemID, payload.Quantity); err != nil {
		respondWithServiceError(w, err, "Failed to update cart item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	menuItemID, ok := int64Param(w, r, "menuItemID")
	if !ok {
		return
	}

	if err := h.service.RemoveItem(r.Context(), p.ID, menuItemID); err != nil {
		respondWithServiceError(w, err, "Failed to remove cart item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var payload CheckoutRequest
	if !decodeAndValidate(w, r, h.validate, &payload) {
		return
	}

	branchID, err := codes.ParseRef(payload.Branch, codes.ParseBranch)
	if err != nil {
		log.Warn().Err(err).Str("branch", payload.Branch).Msg("Invalid checkout branch")
		respondWithError(w, http.StatusBadRequest, "Invalid branch")
		return
	}

	placed, err := h.service.Checkout(r.Context(), p.ID, branchID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to check out")
		return
	}
	respondWithJSON(w, http.StatusCreated, placed)
}
