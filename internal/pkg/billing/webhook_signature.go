package billing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

var (
	ErrInvalidSignature    = errors.New("billing: invalid webhook signature")
	ErrWebhookSecretNotSet = errors.New("billing: webhook secret is not configured")
)

// VerifyStripeEvent checks the Stripe-Signature header against the shared
// secret and parses the event. Nothing about an event that fails here may be
// trusted or stored.
func VerifyStripeEvent(payload []byte, sigHeader, secret string) (stripe.Event, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return stripe.Event{}, ErrWebhookSecretNotSet
	}
	if strings.TrimSpace(sigHeader) == "" {
		return stripe.Event{}, fmt.Errorf("%w: missing header", ErrInvalidSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}
