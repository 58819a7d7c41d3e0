package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/subscription"
)

// SubscriptionFetcher loads a subscription from the gateway. Checkout
// events only carry the subscription id.
type SubscriptionFetcher interface {
	FetchSubscription(ctx context.Context, id string) (SubscriptionPayload, error)
}

// StripeFetcher reads subscriptions through the Stripe API.
type StripeFetcher struct{}

// NewStripeFetcher configures the Stripe client key and returns a fetcher.
func NewStripeFetcher(apiKey string) *StripeFetcher {
	stripe.Key = strings.TrimSpace(apiKey)
	return &StripeFetcher{}
}

func (f *StripeFetcher) FetchSubscription(ctx context.Context, id string) (SubscriptionPayload, error) {
	if strings.TrimSpace(stripe.Key) == "" {
		return SubscriptionPayload{}, errors.New("billing: stripe api key is not configured")
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := subscription.Get(id, params)
	if err != nil {
		return SubscriptionPayload{}, fmt.Errorf("fetch subscription %s: %w", id, err)
	}
	if sub.LastResponse == nil || len(sub.LastResponse.RawJSON) == 0 {
		return SubscriptionPayload{}, fmt.Errorf("fetch subscription %s: empty response", id)
	}
	// Decode the raw body so fetched and webhook-delivered subscriptions go
	// through the same payload type.
	var p SubscriptionPayload
	if err := json.Unmarshal(sub.LastResponse.RawJSON, &p); err != nil {
		return SubscriptionPayload{}, fmt.Errorf("decode subscription %s: %w", id, err)
	}
	return p, nil
}
