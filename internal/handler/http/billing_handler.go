package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/tff-platform/internal/auth"
	"github.com/vasiliy-maslov/tff-platform/internal/billing"
)

const dateLayout = "2006-01-02"

type GSTReportResponse struct {
	Start    string              `json:"start"`
	End      string              `json:"end"`
	Total    decimal.Decimal     `json:"total"`
	Branches []billing.BranchGST `json:"branches"`
}

type BillingHandler struct {
	reporter billing.Reporter
	now      func() time.Time
}

func NewBillingHandler(reporter billing.Reporter, now func() time.Time) *BillingHandler {
	if now == nil {
		now = time.Now
	}
	return &BillingHandler{reporter: reporter, now: now}
}

func (h *BillingHandler) RegisterRoutes(router chi.Router) {
	router.With(auth.Require(auth.CapReports)).Get("/billing/gst", h.handleGST)
}

// handleGST reports over [start, end). Without both parameters it reports
// the previous calendar month.
func (h *BillingHandler) handleGST(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rawStart, rawEnd := q.Get("start"), q.Get("end")

	var start, end time.Time
	if rawStart == "" && rawEnd == "" {
		start, end = billing.PreviousMonth(h.now())
	} else {
		var err error
		if start, err = time.Parse(dateLayout, rawStart); err != nil {
			respondWithError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
			return
		}
		if end, err = time.Parse(dateLayout, rawEnd); err != nil {
			respondWithError(w, http.StatusBadRequest, "end must be YYYY-MM-DD")
			return
		}
	}

	total, err := h.reporter.MonthlyGSTTotal(r.Context(), start, end)
	if err != nil {
		respondWithServiceError(w, err, "Failed to compute GST total")
		return
	}
	branches, err := h.reporter.GSTByBranch(r.Context(), start, end)
	if err != nil {
		respondWithServiceError(w, err, "Failed to compute GST by branch")
		return
	}

	respondWithJSON(w, http.StatusOK, GSTReportResponse{
		Start:    start.Format(dateLayout),
		End:      end.Format(dateLayout),
		Total:    total,
		Branches: branches,
	})
}
