package billing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

func stripeEvent(typ string, obj string) stripe.Event {
	return stripe.Event{
		ID:      "evt_test",
		Type:    stripe.EventType(typ),
		Created: 1773576000,
		Data:    &stripe.EventData{Raw: json.RawMessage(obj)},
	}
}

func TestDecodeSubscriptionEventReadsItemPeriod(t *testing.T) {
	ev, err := DecodeEvent(stripeEvent("customer.subscription.updated", `{
		"id": "sub_1",
		"customer": {"id": "cus_1", "object": "customer"},
		"status": "active",
		"metadata": {"organization_id": "15"},
		"items": {"data": [{"price": {"id": "price_dealer"}, "current_period_start": 1772323200, "current_period_end": 1775001600}]}
	}`))
	require.NoError(t, err)
	require.Equal(t, KindSubscriptionChanged, ev.Kind())

	sc := ev.(SubscriptionChanged)
	assert.Equal(t, "evt_test", sc.Meta().ID)
	assert.Equal(t, time.Unix(1773576000, 0).UTC(), sc.Created)
	assert.Equal(t, "cus_1", sc.Subscription.Customer.String())
	assert.Equal(t, "price_dealer", sc.Subscription.PriceID())
	org, ok := sc.Subscription.OrganizationID()
	assert.True(t, ok)
	assert.Equal(t, uint(15), org)

	start, end := sc.Subscription.Period()
	require.NotNil(t, start)
	assert.Equal(t, int64(1772323200), start.Unix())
	assert.Equal(t, int64(1775001600), end.Unix())
}

func TestDecodeEventVariants(t *testing.T) {
	tests := []struct {
		typ  string
		obj  string
		kind EventKind
	}{
		{"checkout.session.completed", `{"id":"cs_1","subscription":"sub_1"}`, KindCheckoutCompleted},
		{"customer.subscription.created", `{"id":"sub_1"}`, KindSubscriptionChanged},
		{"customer.subscription.deleted", `{"id":"sub_1"}`, KindSubscriptionDeleted},
		{"invoice.paid", `{"id":"in_1"}`, KindInvoicePaid},
		{"invoice.payment_failed", `{"id":"in_1"}`, KindInvoicePaymentFailed},
		{"customer.created", `{"id":"cus_1"}`, KindUnhandled},
	}
	for _, tt := range tests {
		ev, err := DecodeEvent(stripeEvent(tt.typ, tt.obj))
		if err != nil {
			t.Fatalf("%s: %v", tt.typ, err)
		}
		if ev.Kind() != tt.kind {
			t.Fatalf("%s: kind = %s, want %s", tt.typ, ev.Kind(), tt.kind)
		}
	}
}

func TestDecodeEventRejectsMalformedObject(t *testing.T) {
	_, err := DecodeEvent(stripeEvent("customer.subscription.updated", `{"id": 5}`))
	assert.Error(t, err)
}

func TestInvoiceSubscriptionID(t *testing.T) {
	var legacy, current InvoicePayload
	require.NoError(t, json.Unmarshal([]byte(`{"id":"in_1","subscription":"sub_old"}`), &legacy))
	require.NoError(t, json.Unmarshal([]byte(`{"id":"in_2","parent":{"subscription_details":{"subscription":"sub_new","metadata":{"organization_id":"3"}}}}`), &current))

	assert.Equal(t, "sub_old", legacy.SubscriptionID())
	assert.Equal(t, "sub_new", current.SubscriptionID())
	org, ok := current.OrganizationID()
	assert.True(t, ok)
	assert.Equal(t, uint(3), org)
}

func TestOrganizationMetadataParsing(t *testing.T) {
	tests := []struct {
		md   map[string]string
		want uint
		ok   bool
	}{
		{map[string]string{"organization_id": "12"}, 12, true},
		{map[string]string{"organizationId": "13"}, 13, true},
		{map[string]string{"org_id": " 14 "}, 14, true},
		{map[string]string{"organization_id": "0"}, 0, false},
		{map[string]string{"organization_id": "acme"}, 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := organizationFromMetadata(tt.md)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("organizationFromMetadata(%v) = %d, %v", tt.md, got, ok)
		}
	}
}

func TestSubscriptionPayloadPeriodRejectsInvertedWindow(t *testing.T) {
	p := SubscriptionPayload{CurrentPeriodStart: 200, CurrentPeriodEnd: 100}
	start, end := p.Period()
	assert.Nil(t, start)
	assert.Nil(t, end)
}

func TestVerifyStripeEvent(t *testing.T) {
	payload := []byte(`{"id":"evt_sig","object":"event","type":"invoice.paid","created":1773576000,"data":{"object":{"id":"in_1"}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	ev, err := VerifyStripeEvent(payload, signed.Header, "whsec_test")
	require.NoError(t, err)
	assert.Equal(t, "evt_sig", ev.ID)

	_, err = VerifyStripeEvent(payload, signed.Header, "whsec_other")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = VerifyStripeEvent(payload, "", "whsec_test")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = VerifyStripeEvent(payload, signed.Header, "")
	assert.ErrorIs(t, err, ErrWebhookSecretNotSet)
}
