package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/tff-platform/internal/auth"
	"github.com/vasiliy-maslov/tff-platform/internal/billing"
	"github.com/vasiliy-maslov/tff-platform/internal/cart"
	"github.com/vasiliy-maslov/tff-platform/internal/codes"
	"github.com/vasiliy-maslov/tff-platform/internal/order"
	"github.com/vasiliy-maslov/tff-platform/internal/pricing"
	"github.com/vasiliy-maslov/tff-platform/internal/stock"
)

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required":
			details[fe.Field()] = "is required"
		case "gt", "gte", "min":
			details[fe.Field()] = fmt.Sprintf("must be at least %s", fe.Param())
		case "numeric":
			details[fe.Field()] = "must be a number"
		default:
			details[fe.Field()] = fmt.Sprintf("failed on %s", fe.Tag())
		}
	}
	return details
}

// respondWithError sends {"error": message}.
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, stock.ErrNotFound),
		errors.Is(err, stock.ErrRequestNotFound),
		errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, order.ErrChefNotFound),
		errors.Is(err, order.ErrBranchNotFound),
		errors.Is(err, cart.ErrItemNotInCart),
		errors.Is(err, cart.ErrCustomerNotFound),
		errors.Is(err, pricing.ErrMenuItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, stock.ErrInsufficientStock),
		errors.Is(err, stock.ErrRequestNotPending),
		errors.Is(err, stock.ErrDuplicateRequest),
		errors.Is(err, stock.ErrWrongRequestSource),
		errors.Is(err, order.ErrOrderNotAvailable),
		errors.Is(err, order.ErrActiveOrderConflict),
		errors.Is(err, order.ErrOrderNotPreparing),
		errors.Is(err, order.ErrOrderNotCancellable),
		errors.Is(err, cart.ErrCartChanged):
		return http.StatusConflict
	case errors.Is(err, stock.ErrRequestExpired):
		return http.StatusGone
	case errors.Is(err, stock.ErrInvalidQuantity),
		errors.Is(err, stock.ErrSameLocation),
		errors.Is(err, order.ErrInvalidQuantity),
		errors.Is(err, order.ErrNoIngredients),
		errors.Is(err, order.ErrEmptyOrder),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, billing.ErrInvalidPeriod),
		errors.Is(err, codes.ErrInvalidCode):
		return http.StatusBadRequest
	case errors.Is(err, cart.ErrEmptyCart),
		errors.Is(err, cart.ErrMenuItemNotActive):
		return http.StatusUnprocessableEntity
	case errors.Is(err, order.ErrNotAssignedChef),
		errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, order.ErrSequenceExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondWithServiceError exposes domain error text to the client and hides
// everything that maps to a 5xx behind fallback.
func respondWithServiceError(w http.ResponseWriter, err error, fallback string) {
	code := mapErrorToStatusCode(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Msg(fallback)
		if errors.Is(err, order.ErrSequenceExhausted) {
			respondWithError(w, code, err.Error())
			return
		}
		respondWithError(w, code, fallback)
		return
	}
	log.Warn().Err(err).Int("status", code).Msg(fallback)
	respondWithError(w, code, err.Error())
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// It writes the error response itself and returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		log.Warn().Err(err).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload %v", err))
		return false
	}

	if err := v.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: formatValidationErrors(validationErrors),
			})
		} else {
			log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
			respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		}
		return false
	}
	return true
}

func principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Not authenticated")
	}
	return p, ok
}

func int64Param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		log.Warn().Str(name, raw).Msg("Failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid "+name+" parameter")
		return 0, false
	}
	return id, true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.FromString(raw)
	if err != nil {
		log.Warn().Err(err).Str(name, raw).Msg("Failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid "+name+" parameter")
		return uuid.Nil, false
	}
	return id, true
}

// branchParam resolves {branch}, which is either a numeric id or a TFFB code.
func branchParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "branch")
	id, err := codes.ParseRef(raw, codes.ParseBranch)
	if err != nil {
		log.Warn().Err(err).Str("branch", raw).Msg("Failed to parse branch parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid branch parameter")
		return 0, false
	}
	return id, true
}

// requireBranch answers 403 unless p is attached to branchID.
func requireBranch(w http.ResponseWriter, p auth.Principal, branchID int64) bool {
	if !p.InBranch(branchID) {
		log.Warn().Int64("principal_id", p.ID).Int64("branch_id", branchID).Msg("Branch access denied")
		respondWithError(w, http.StatusForbidden, "Not allowed for this branch")
		return false
	}
	return true
}
