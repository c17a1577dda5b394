package adapter

import (
	"context"

	"creator-billing/internal/domain/model"
)

// CheckoutProvider is the hex port for hosted-checkout payment providers.
type CheckoutProvider interface {
	Name() string
	// CreateCheckoutSession registers the intent with the provider and returns where to
	// redirect the user. Provider failures are reported as domain.ErrProvider.
	CreateCheckoutSession(ctx context.Context, intent *model.CheckoutIntent) (*model.CheckoutSession, error)
}

// EventVerifier authenticates a raw webhook delivery and decodes it.
//
// A bad or missing signature returns domain.ErrVerificationFailed; a correctly signed
// payload that cannot be decoded into a model.Event returns domain.ErrMalformedEvent.
type EventVerifier interface {
	Verify(payload []byte, signatureHeader string) (model.Event, error)
}
