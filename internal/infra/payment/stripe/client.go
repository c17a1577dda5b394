// Package stripe adapts Stripe Checkout and webhooks to the billing ports.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	stripelib "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"

	"creator-billing/internal/config"
	"creator-billing/internal/domain"
	"creator-billing/internal/domain/model"
	"creator-billing/internal/domain/ports/adapter"
	"creator-billing/internal/infra/logging"
)

var _ adapter.CheckoutProvider = (*Client)(nil)

// Client creates hosted checkout sessions. It is built once from configuration and
// never touches the package-level stripe.Key.
type Client struct {
	successURL string
	cancelURL  string
	log        *zerolog.Logger

	createCheckoutSession func(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
}

func NewClient(cfg config.StripeConfig, timeout time.Duration, logger *zerolog.Logger) (*Client, error) {
	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	backend := stripelib.GetBackendWithConfig(stripelib.APIBackend, &stripelib.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripelib.Int64(1),
	})
	sc := stripesession.Client{B: backend, Key: key}
	return &Client{
		successURL:            cfg.SuccessURL,
		cancelURL:             cfg.CancelURL,
		log:                   logging.Component(logger, "stripe"),
		createCheckoutSession: sc.New,
	}, nil
}

func (c *Client) Name() string { return "stripe" }

func (c *Client) CreateCheckoutSession(ctx context.Context, intent *model.CheckoutIntent) (*model.CheckoutSession, error) {
	params := c.sessionParams(intent)
	params.Context = ctx

	s, err := c.createCheckoutSession(params)
	if err != nil {
		var se *stripelib.Error
		if errors.As(err, &se) {
			c.log.Warn().
				Str("code", string(se.Code)).
				Str("request_id", se.RequestID).
				Int("status", se.HTTPStatusCode).
				Msg("stripe rejected checkout session")
			return nil, fmt.Errorf("%w: stripe %s: %s", domain.ErrProvider, se.Code, se.Msg)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrProvider, err)
	}
	if s == nil || strings.TrimSpace(s.URL) == "" {
		return nil, fmt.Errorf("%w: stripe returned a session without url", domain.ErrProvider)
	}
	return &model.CheckoutSession{SessionID: s.ID, RedirectURL: s.URL}, nil
}

func (c *Client) sessionParams(intent *model.CheckoutIntent) *stripelib.CheckoutSessionParams {
	md := intent.Metadata.ToMap()
	params := &stripelib.CheckoutSessionParams{
		Mode:              stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		SuccessURL:        stripelib.String(c.successURL),
		CancelURL:         stripelib.String(c.cancelURL),
		ClientReferenceID: stripelib.String(intent.UserID),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				PriceData: &stripelib.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripelib.String(intent.Currency),
					UnitAmount: stripelib.Int64(intent.AmountMinorUnits),
					Recurring: &stripelib.CheckoutSessionLineItemPriceDataRecurringParams{
						Interval:      stripelib.String(string(intent.IntervalUnit)),
						IntervalCount: stripelib.Int64(intent.IntervalCount),
					},
					ProductData: &stripelib.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripelib.String(intent.ProductName),
						Description: stripelib.String(intent.Description),
					},
				},
				Quantity: stripelib.Int64(1),
			},
		},
		// copied onto the subscription so renewal invoices carry the track back
		SubscriptionData: &stripelib.CheckoutSessionSubscriptionDataParams{
			Metadata: md,
		},
	}
	for k, v := range md {
		params.AddMetadata(k, v)
	}
	if intent.PromoCode != "" {
		params.Discounts = []*stripelib.CheckoutSessionDiscountParams{
			{PromotionCode: stripelib.String(intent.PromoCode)},
		}
	} else {
		params.AllowPromotionCodes = stripelib.Bool(true)
	}
	return params
}
