package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"creator-billing/internal/domain"
	"creator-billing/internal/domain/catalog"
	"creator-billing/internal/domain/model"
	"creator-billing/internal/infra/logging"
	"creator-billing/internal/infra/metrics"
	"creator-billing/internal/usecase"
)

const (
	webhookBodyLimit = 1 << 20
	jsonBodyLimit    = 64 << 10
)

type webhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

// handleStripeWebhook answers 2xx for every event the provider must not redeliver,
// 400 for deliveries that can never succeed and 500 when a retry may help.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	defer func() { metrics.IncWebhookRequest("stripe", status) }()

	if s.deps.Verifier == nil {
		status = http.StatusServiceUnavailable
		writeError(w, status, "webhook_disabled", "webhook secret not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		writeError(w, status, "bad_request", "failed to read request body")
		return
	}

	ev, err := s.deps.Verifier.Verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		l := logging.With(r.Context(), s.log)
		status = http.StatusBadRequest
		if errors.Is(err, domain.ErrVerificationFailed) {
			l.Warn().Err(err).Msg("webhook signature rejected")
			writeError(w, status, "invalid_signature", "invalid signature")
			return
		}
		l.Warn().Err(err).Msg("webhook payload rejected")
		writeError(w, status, "malformed_event", "malformed event")
		return
	}

	ctx := logging.WithEventID(r.Context(), ev.EventID())
	outcome, err := s.deps.Engine.Apply(ctx, ev)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedEvent) {
			status = http.StatusBadRequest
			writeError(w, status, "malformed_event", "malformed event")
			return
		}
		status = http.StatusInternalServerError
		writeError(w, status, "processing_failed", "processing failed")
		return
	}
	writeJSON(w, status, webhookResponse{Received: true, Outcome: string(outcome)})
}

type checkoutBody struct {
	Track        string `json:"track"`
	Plan         string `json:"plan"`
	BillingCycle string `json:"billing_cycle"`
	PromoCode    string `json:"promo_code"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	var body checkoutBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	sess, err := s.deps.Checkout.CreateSession(r.Context(), usecase.CheckoutRequest{
		UserID:         userID,
		Track:          model.Track(strings.TrimSpace(body.Track)),
		Plan:           model.PlanID(strings.TrimSpace(body.Plan)),
		BillingCycle:   model.BillingCycle(strings.TrimSpace(body.BillingCycle)),
		PromoCode:      body.PromoCode,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleEntitlements(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	rec, err := s.deps.Entitlements.GetRecord(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		UserID    string              `json:"user_id"`
		Content   entitlementResponse `json:"content"`
		Companion entitlementResponse `json:"companion"`
	}{
		UserID:    rec.UserID,
		Content:   toEntitlementResponse(rec.Content),
		Companion: toEntitlementResponse(rec.Companion),
	})
}

func (s *Server) handleEntitlement(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	track, err := model.ParseTrack(chi.URLParam(r, "track"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_track", err.Error())
		return
	}
	v, err := s.deps.Entitlements.GetEntitlement(r.Context(), userID, track)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntitlementResponse(v))
}

type consumeBody struct {
	Resource string `json:"resource"`
	Amount   int64  `json:"amount"`
}

func (s *Server) handleConsume(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	track, err := model.ParseTrack(chi.URLParam(r, "track"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_track", err.Error())
		return
	}
	var body consumeBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	res, err := model.ParseResource(body.Resource)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	v, err := s.deps.Entitlements.Consume(r.Context(), userID, track, res, body.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntitlementResponse(v))
}

func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	var track model.Track
	if q := r.URL.Query().Get("track"); q != "" {
		t, err := model.ParseTrack(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
			return
		}
		track = t
	}
	plans := catalog.Plans(track)
	items := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		items = append(items, toPlanResponse(p))
	}
	writeJSON(w, http.StatusOK, struct {
		Items []planResponse `json:"items"`
	}{Items: items})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= 500 {
		l := logging.With(r.Context(), s.log)
		l.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, status, code, "")
		return
	}
	writeError(w, status, code, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, jsonBodyLimit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid json body")
	}
	return nil
}
