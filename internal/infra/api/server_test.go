//go:build !integration

package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"creator-billing/internal/config"
	"creator-billing/internal/domain/model"
	"creator-billing/internal/infra/api"
	"creator-billing/internal/infra/db/memory"
	"creator-billing/internal/infra/logging"
	"creator-billing/internal/infra/payment/stripe"
	"creator-billing/internal/usecase"
)

const (
	jwtSecret     = "test-jwt-secret"
	webhookSecret = "whsec_test"
)

type fakeProvider struct {
	err error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) CreateCheckoutSession(ctx context.Context, intent *model.CheckoutIntent) (*model.CheckoutSession, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &model.CheckoutSession{SessionID: "cs_1", RedirectURL: "https://pay.example/cs_1"}, nil
}

type testServer struct {
	handler http.Handler
	store   *memory.Store
	auth    *api.Authenticator
}

func newTestServer(t *testing.T, provider *fakeProvider, mock bool) *testServer {
	t.Helper()
	log := logging.Nop()
	store := memory.NewStore()
	engine := usecase.NewReconcileUseCase(store, store, store, nil, log)
	ents := usecase.NewEntitlementUseCase(store, store, store, nil, log)
	checkout := usecase.NewCheckoutUseCase(provider, engine, nil, nil,
		usecase.CheckoutOptions{Mock: mock, MockRedirectURL: "http://localhost/billing/success"}, nil, log)
	verifier, err := stripe.NewVerifier(webhookSecret)
	require.NoError(t, err)
	auth, err := api.NewAuthenticator(config.AuthConfig{JWTSecret: jwtSecret, Issuer: "creator-app"})
	require.NoError(t, err)

	srv := api.NewServer(api.Deps{
		Checkout:     checkout,
		Entitlements: ents,
		Engine:       engine,
		Verifier:     verifier,
		Auth:         auth,
	}, 5*time.Second, log)
	return &testServer{handler: srv.Routes(), store: store, auth: auth}
}

func (ts *testServer) do(t *testing.T, method, path, userID string, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		tok, err := ts.auth.Mint(userID, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) webhook(t *testing.T, payload string) *httptest.ResponseRecorder {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    webhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return ts.do(t, http.MethodPost, "/api/v1/webhooks/stripe", "", string(signed.Payload),
		map[string]string{"Stripe-Signature": signed.Header})
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

const checkoutCompleted = `{"id":"evt_1","object":"event","type":"checkout.session.completed","created":1707523200,
	"data":{"object":{"id":"cs_1","mode":"subscription","payment_status":"paid","customer":"cus_1","subscription":"sub_1",
	"metadata":{"user_id":"u1","track":"content","plan":"builder","billing_cycle":"monthly"}}}}`

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &fakeProvider{}, false)
	rec := ts.do(t, http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestWebhook_AppliesOnceAndAcknowledgesRedelivery(t *testing.T) {
	ts := newTestServer(t, &fakeProvider{}, false)

	rec := ts.webhook(t, checkoutCompleted)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "applied", decode(t, rec)["outcome"])

	rec = ts.webhook(t, checkoutCompleted)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate", decode(t, rec)["outcome"])

	ent, err := ts.store.Get(context.Background(), nil, "u1", model.TrackContent)
	require.NoError(t, err)
	assert.EqualValues(t, 500, *ent.Credits)
}

func TestWebhook_StatusMapping(t *testing.T) {
	ts := newTestServer(t, &fakeProvider{}, false)

	t.Run("bad signature", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/v1/webhooks/stripe", "", checkoutCompleted,
			map[string]string{"Stripe-Signature": "t=1,v1=bad"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_signature", decode(t, rec)["error"])
	})

	t.Run("malformed metadata", func(t *testing.T) {
		rec := ts.webhook(t, `{"id":"evt_m","object":"event","type":"checkout.session.completed",
			"data":{"object":{"id":"cs_m","mode":"subscription","payment_status":"paid","metadata":{"user_id":"u1","track":"content","plan":"gold","billing_cycle":"monthly"}}}}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "malformed_event", decode(t, rec)["error"])
	})

	t.Run("orphan renewal is acknowledged", func(t *testing.T) {
		rec := ts.webhook(t, `{"id":"evt_o","object":"event","type":"invoice.payment_succeeded",
			"data":{"object":{"id":"in_o","billing_reason":"subscription_cycle","customer":"cus_unknown","subscription":"sub_unknown"}}}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "orphan", decode(t, rec)["outcome"])
	})

	t.Run("unhandled type is acknowledged", func(t *testing.T) {
		rec := ts.webhook(t, `{"id":"evt_u","object":"event","type":"charge.refunded","data":{"object":{"id":"ch_1"}}}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ignored", decode(t, rec)["outcome"])
	})
}

func TestWebhook_DisabledWithoutVerifier(t *testing.T) {
	store := memory.NewStore()
	log := logging.Nop()
	auth, err := api.NewAuthenticator(config.AuthConfig{JWTSecret: jwtSecret})
	require.NoError(t, err)
	srv := api.NewServer(api.Deps{
		Engine:       usecase.NewReconcileUseCase(store, store, store, nil, log),
		Entitlements: usecase.NewEntitlementUseCase(store, store, store, nil, log),
		Auth:         auth,
	}, time.Second, log)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCheckout(t *testing.T) {
	body := `{"track":"content","plan":"builder","billing_cycle":"monthly"}`

	t.Run("requires a token", func(t *testing.T) {
		ts := newTestServer(t, &fakeProvider{}, false)
		rec := ts.do(t, http.MethodPost, "/api/v1/checkout", "", body, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = ts.do(t, http.MethodPost, "/api/v1/checkout", "", body, map[string]string{"Authorization": "Bearer not-a-jwt"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("provider session", func(t *testing.T) {
		ts := newTestServer(t, &fakeProvider{}, false)
		rec := ts.do(t, http.MethodPost, "/api/v1/checkout", "u1", body, nil)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		out := decode(t, rec)
		assert.Equal(t, "cs_1", out["session_id"])
		assert.Equal(t, "https://pay.example/cs_1", out["redirect_url"])
		assert.Equal(t, false, out["mock"])
	})

	t.Run("invalid plan", func(t *testing.T) {
		ts := newTestServer(t, &fakeProvider{}, false)
		rec := ts.do(t, http.MethodPost, "/api/v1/checkout", "u1", `{"track":"companion","plan":"builder","billing_cycle":"monthly"}`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_plan", decode(t, rec)["error"])
	})

	t.Run("unknown field", func(t *testing.T) {
		ts := newTestServer(t, &fakeProvider{}, false)
		rec := ts.do(t, http.MethodPost, "/api/v1/checkout", "u1", `{"track":"content","price":1}`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("provider failure", func(t *testing.T) {
		ts := newTestServer(t, &fakeProvider{err: errors.New("boom")}, false)
		rec := ts.do(t, http.MethodPost, "/api/v1/checkout", "u1", body, nil)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "provider_error", decode(t, rec)["error"])
	})

	t.Run("mock mode grants immediately", func(t *testing.T) {
		ts := newTestServer(t, &fakeProvider{err: errors.New("provider must not be called")}, true)
		rec := ts.do(t, http.MethodPost, "/api/v1/checkout", "u1", body, nil)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, true, decode(t, rec)["mock"])

		rec = ts.do(t, http.MethodGet, "/api/v1/entitlements/content", "u1", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		out := decode(t, rec)
		assert.Equal(t, "active", out["status"])
		assert.EqualValues(t, 500, out["credits"])
	})
}

func TestEntitlements(t *testing.T) {
	ts := newTestServer(t, &fakeProvider{}, false)
	rec := ts.webhook(t, `{"id":"evt_a","object":"event","type":"checkout.session.completed",
		"data":{"object":{"id":"cs_a","mode":"subscription","payment_status":"paid","customer":"cus_a","subscription":"sub_a",
		"metadata":{"user_id":"u1","track":"content","plan":"agency","billing_cycle":"monthly"}}}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	t.Run("unlimited renders as string", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/entitlements/content", "u1", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		out := decode(t, rec)
		assert.Equal(t, "unlimited", out["credits"])
		assert.Equal(t, "unlimited", out["training_slots"])
		assert.Equal(t, "agency", out["plan"])
	})

	t.Run("both tracks", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/entitlements", "u1", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		out := decode(t, rec)
		assert.Equal(t, "u1", out["user_id"])
		companion := out["companion"].(map[string]any)
		assert.Equal(t, "none", companion["status"])
		assert.EqualValues(t, 0, companion["tokens"])
	})

	t.Run("unknown track", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/entitlements/music", "u1", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("other users see their own record", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/entitlements/content", "u2", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "none", decode(t, rec)["status"])
	})
}

func TestConsume(t *testing.T) {
	ts := newTestServer(t, &fakeProvider{}, false)
	require.Equal(t, http.StatusOK, ts.webhook(t, checkoutCompleted).Code)

	rec := ts.do(t, http.MethodPost, "/api/v1/entitlements/content/consume", "u1", `{"resource":"credits","amount":120}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 380, decode(t, rec)["credits"])

	rec = ts.do(t, http.MethodPost, "/api/v1/entitlements/content/consume", "u1", `{"resource":"training_slots","amount":5}`, nil)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/entitlements/content/consume", "u1", `{"resource":"gems","amount":1}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlans(t *testing.T) {
	ts := newTestServer(t, &fakeProvider{}, false)

	rec := ts.do(t, http.MethodGet, "/api/v1/plans?track=content", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Items []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Items, 12)
	for _, it := range out.Items {
		assert.Equal(t, "content", it["track"])
		if it["plan"] == "agency" {
			assert.Equal(t, "unlimited", it["credits"])
		}
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/plans", "", "", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out.Items, 21)

	rec = ts.do(t, http.MethodGet, "/api/v1/plans?track=music", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthenticator(t *testing.T) {
	auth, err := api.NewAuthenticator(config.AuthConfig{JWTSecret: jwtSecret, Issuer: "creator-app"})
	require.NoError(t, err)

	tok, err := auth.Mint("u1", time.Hour)
	require.NoError(t, err)
	sub, err := auth.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", sub)

	expired, err := auth.Mint("u1", -time.Minute)
	require.NoError(t, err)
	_, err = auth.Parse(expired)
	assert.Error(t, err)

	other, err := api.NewAuthenticator(config.AuthConfig{JWTSecret: jwtSecret, Issuer: "someone-else"})
	require.NoError(t, err)
	foreign, err := other.Mint("u1", time.Hour)
	require.NoError(t, err)
	_, err = auth.Parse(foreign)
	assert.Error(t, err, "issuer must match")

	_, err = api.NewAuthenticator(config.AuthConfig{})
	assert.Error(t, err)
}
