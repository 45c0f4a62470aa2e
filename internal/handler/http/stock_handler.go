package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/tff-platform/internal/auth"
	"github.com/vasiliy-maslov/tff-platform/internal/stock"
)

type CreateStockRequest struct {
	BranchID *int64 `json:"branch_id,omitempty" validate:"omitempty,gt=0"`
	ItemID   int64  `json:"item_id" validate:"required,gt=0"`
	Quantity string `json:"quantity" validate:"required,numeric"`
}

type RejectPeerResponse struct {
	Rejected *stock.Request `json:"rejected"`
	Fallback *stock.Request `json:"fallback"`
}

// Sweeper runs a timeout sweep unless one is already in progress.
type Sweeper interface {
	RunOnce(ctx context.Context) (stock.SweepResult, bool, error)
}

type StockHandler struct {
	service  stock.Service
	sweeper  Sweeper
	validate *validator.Validate
}

func NewStockHandler(service stock.Service, sweeper Sweeper) *StockHandler {
	return &StockHandler{
		service:  service,
		sweeper:  sweeper,
		validate: validator.New(),
	}
}

func (h *StockHandler) RegisterRoutes(router chi.Router) {
	router.Route("/stock", func(r chi.Router) {
		r.With(auth.Require(auth.CapRequestStock)).Post("/requests", h.handleCreateRequest)
		r.With(auth.Require(auth.CapSweepRequests)).Post("/requests/sweep", h.handleSweep)
		r.With(auth.Require(auth.CapViewStock)).Get("/requests/{id}", h.handleGetRequest)
		r.With(auth.Require(auth.CapRespondPeerRequest)).Post("/requests/{id}/approve", h.handleApprovePeer)
		r.With(auth.Require(auth.CapRespondPeerRequest)).Post("/requests/{id}/reject", h.handleRejectPeer)

		r.With(auth.Require(auth.CapViewStock)).Get("/branches/{branch}", h.handleBranchStock)
		r.With(auth.Require(auth.CapViewStock)).Get("/branches/{branch}/incoming", h.handleListIncoming)

		r.Group(func(r chi.Router) {
			r.Use(auth.Require(auth.CapManageGodown))
			r.Get("/godown", h.handleGodownStock)
			r.Get("/godown/requests", h.handleGodownQueue)
			r.Post("/godown/requests/{id}/approve", h.handleApproveGodown)
			r.Post("/godown/requests/{id}/reject", h.handleRejectGodown)
		})
	})
}

func (h *StockHandler) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var payload CreateStockRequest
	if !decodeAndValidate(w, r, h.validate, &payload) {
		return
	}

	qty, err := decimal.NewFromString(payload.Quantity)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid quantity")
		return
	}

	var branchID int64
	switch {
	case payload.BranchID != nil:
		branchID = *payload.BranchID
	case p.BranchID != nil:
		branchID = *p.BranchID
	default:
		respondWithError(w, http.StatusBadRequest, "branch_id is required")
		return
	}
	if !requireBranch(w, p, branchID) {
		return
	}

	req, err := h.service.CreateSmartRequest(r.Context(), branchID, payload.ItemID, qty)
	if err != nil {
		respondWithServiceError(w, err, "Failed to create stock request")
		return
	}

	respondWithJSON(w, http.StatusCreated, req)
}

func (h *StockHandler) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	req, err := h.service.GetRequest(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get stock request")
		return
	}

	visible := p.InBranch(req.OriginBranchID) || (req.DonorBranchID != nil && p.InBranch(*req.DonorBranchID))
	if !visible {
		respondWithError(w, http.StatusNotFound, stock.ErrRequestNotFound.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, req)
}

// donorRequest loads a peer request and checks the caller manages its donor
// branch.
func (h *StockHandler) donorRequest(w http.ResponseWriter, r *http.Request) (*stock.Request, bool) {
	p, ok := principal(w, r)
	if !ok {
		return nil, false
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return nil, false
	}

	req, err := h.service.GetRequest(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get stock request")
		return nil, false
	}
	if req.Source != stock.SourceBranch || req.DonorBranchID == nil {
		respondWithServiceError(w, stock.ErrWrongRequestSource, "Failed to respond to stock request")
		return nil, false
	}
	if !requireBranch(w, p, *req.DonorBranchID) {
		return nil, false
	}
	return req, true
}

func (h *StockHandler) handleApprovePeer(w http.ResponseWriter, r *http.Request) {
	req, ok := h.donorRequest(w, r)
	if !ok {
		return
	}

	approved, err := h.service.ApprovePeerRequest(r.Context(), req.ID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to approve stock request")
		return
	}

	respondWithJSON(w, http.StatusOK, approved)
}

func (h *StockHandler) handleRejectPeer(w http.ResponseWriter, r *http.Request) {
	req, ok := h.donorRequest(w, r)
	if !ok {
		return
	}

	rejected, fallback, err := h.service.RejectPeerRequest(r.Context(), req.ID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to reject stock request")
		return
	}

	respondWithJSON(w, http.StatusOK, RejectPeerResponse{Rejected: rejected, Fallback: fallback})
}

func (h *StockHandler) handleApproveGodown(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	approved, err := h.service.ApproveGodownRequest(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, err, "Failed to approve godown request")
		return
	}

	respondWithJSON(w, http.StatusOK, approved)
}

func (h *StockHandler) handleRejectGodown(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	rejected, err := h.service.RejectGodownRequest(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, err, "Failed to reject godown request")
		return
	}

	respondWithJSON(w, http.StatusOK, rejected)
}

func (h *StockHandler) handleGodownQueue(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.service.ListGodownQueue(r.Context())
	if err != nil {
		respondWithServiceError(w, err, "Failed to list godown requests")
		return
	}
	respondWithJSON(w, http.StatusOK, reqs)
}

func (h *StockHandler) handleGodownStock(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.GodownStock(r.Context())
	if err != nil {
		respondWithServiceError(w, err, "Failed to list godown stock")
		return
	}
	respondWithJSON(w, http.StatusOK, rows)
}

func (h *StockHandler) handleSweep(w http.ResponseWriter, r *http.Request) {
	res, ran, err := h.sweeper.RunOnce(r.Context())
	if !ran {
		respondWithError(w, http.StatusConflict, "Sweep already in progress")
		return
	}
	if err != nil {
		respondWithServiceError(w, err, "Failed to sweep stock requests")
		return
	}

	log.Info().
		Int("expired", res.Expired).
		Int("fallbacks", res.Fallbacks).
		Int("failed", res.Failed).
		Msg("Manual stock request sweep finished")
	respondWithJSON(w, http.StatusOK, res)
}

func (h *StockHandler) handleBranchStock(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	branchID, ok := branchParam(w, r)
	if !ok || !requireBranch(w, p, branchID) {
		return
	}

	rows, err := h.service.BranchStock(r.Context(), branchID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to list branch stock")
		return
	}
	respondWithJSON(w, http.StatusOK, rows)
}

func (h *StockHandler) handleListIncoming(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	branchID, ok := branchParam(w, r)
	if !ok || !requireBranch(w, p, branchID) {
		return
	}

	reqs, err := h.service.ListIncoming(r.Context(), branchID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to list incoming requests")
		return
	}
	respondWithJSON(w, http.StatusOK, reqs)
}
