package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"creator-billing/internal/domain"
	"creator-billing/internal/domain/model"
	"creator-billing/internal/usecase"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

// statusFor maps use case errors to an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidPlan):
		return http.StatusBadRequest, "invalid_plan"
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, usecase.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, domain.ErrProvider):
		return http.StatusBadGateway, "provider_error"
	case errors.Is(err, domain.ErrInsufficientCredits):
		return http.StatusPaymentRequired, "insufficient_balance"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// quantity renders a nil balance or grant as "unlimited".
type quantity struct{ v *int64 }

func (q quantity) MarshalJSON() ([]byte, error) {
	if q.v == nil {
		return []byte(`"unlimited"`), nil
	}
	return strconv.AppendInt(nil, *q.v, 10), nil
}

type entitlementResponse struct {
	Track         string     `json:"track"`
	Status        string     `json:"status"`
	Plan          string     `json:"plan,omitempty"`
	BillingCycle  string     `json:"billing_cycle,omitempty"`
	Credits       quantity   `json:"credits"`
	TrainingSlots quantity   `json:"training_slots"`
	Tokens        int64      `json:"tokens"`
	TokensResetAt *time.Time `json:"tokens_reset_at,omitempty"`
}

func toEntitlementResponse(v *model.EntitlementView) entitlementResponse {
	return entitlementResponse{
		Track:         string(v.Track),
		Status:        string(v.Status),
		Plan:          string(v.Plan),
		BillingCycle:  string(v.BillingCycle),
		Credits:       quantity{v.Credits},
		TrainingSlots: quantity{v.TrainingSlots},
		Tokens:        v.Tokens,
		TokensResetAt: v.TokensResetAt,
	}
}

type planResponse struct {
	Track           string   `json:"track"`
	Plan            string   `json:"plan"`
	BillingCycle    string   `json:"billing_cycle"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	PriceMinorUnits int64    `json:"price_minor_units"`
	Currency        string   `json:"currency"`
	Credits         quantity `json:"credits"`
	TrainingSlots   quantity `json:"training_slots"`
	Tokens          int64    `json:"tokens"`
}

func toPlanResponse(c model.PlanConfig) planResponse {
	return planResponse{
		Track:           string(c.Track),
		Plan:            string(c.Plan),
		BillingCycle:    string(c.Cycle),
		Name:            c.DisplayName,
		Description:     c.Description(),
		PriceMinorUnits: c.PriceMinorUnits,
		Currency:        c.Currency,
		Credits:         quantity{c.CreditGrant},
		TrainingSlots:   quantity{c.TrainingSlotGrant},
		Tokens:          c.TokenGrant,
	}
}
