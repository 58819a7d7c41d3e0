package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
)

// EventKind tags the variants the synchronizer knows how to apply.
type EventKind string

const (
	KindCheckoutCompleted    EventKind = "checkout_completed"
	KindSubscriptionChanged  EventKind = "subscription_changed"
	KindSubscriptionDeleted  EventKind = "subscription_deleted"
	KindInvoicePaid          EventKind = "invoice_paid"
	KindInvoicePaymentFailed EventKind = "invoice_payment_failed"
	KindUnhandled            EventKind = "unhandled"
)

// Event is a decoded gateway event. The concrete types below are the only
// implementations.
type Event interface {
	Kind() EventKind
	Meta() EventMeta
}

// EventMeta is the envelope shared by every variant.
type EventMeta struct {
	ID      string
	Type    string
	Created time.Time
}

func (m EventMeta) Meta() EventMeta { return m }

type CheckoutCompleted struct {
	EventMeta
	Session CheckoutSession
}

// SubscriptionChanged covers both subscription created and updated events.
type SubscriptionChanged struct {
	EventMeta
	Subscription SubscriptionPayload
}

type SubscriptionDeleted struct {
	EventMeta
	Subscription SubscriptionPayload
}

type InvoicePaid struct {
	EventMeta
	Invoice InvoicePayload
}

type InvoicePaymentFailed struct {
	EventMeta
	Invoice InvoicePayload
}

type Unhandled struct {
	EventMeta
}

func (CheckoutCompleted) Kind() EventKind    { return KindCheckoutCompleted }
func (SubscriptionChanged) Kind() EventKind  { return KindSubscriptionChanged }
func (SubscriptionDeleted) Kind() EventKind  { return KindSubscriptionDeleted }
func (InvoicePaid) Kind() EventKind          { return KindInvoicePaid }
func (InvoicePaymentFailed) Kind() EventKind { return KindInvoicePaymentFailed }
func (Unhandled) Kind() EventKind            { return KindUnhandled }

// ExpandableID decodes a gateway reference that is either a bare id or an
// expanded object carrying an "id" field.
type ExpandableID string

func (e *ExpandableID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*e = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = ExpandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = ExpandableID(obj.ID)
	return nil
}

func (e ExpandableID) String() string { return strings.TrimSpace(string(e)) }

type CheckoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          ExpandableID      `json:"customer"`
	Subscription      ExpandableID      `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// OrganizationID reads the tenant from session metadata, falling back to the
// client reference id set when the checkout was created.
func (s CheckoutSession) OrganizationID() (uint, bool) {
	if id, ok := organizationFromMetadata(s.Metadata); ok {
		return id, true
	}
	return parseOrganizationID(s.ClientReferenceID)
}

type SubscriptionItem struct {
	Price struct {
		ID string `json:"id"`
	} `json:"price"`
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
}

// SubscriptionPayload is the subset of a gateway subscription the
// synchronizer reads. Newer API versions carry the period on the items
// instead of the subscription, so both places are decoded.
type SubscriptionPayload struct {
	ID                 string       `json:"id"`
	Customer           ExpandableID `json:"customer"`
	Status             string       `json:"status"`
	CancelAtPeriodEnd  bool         `json:"cancel_at_period_end"`
	CurrentPeriodStart int64        `json:"current_period_start"`
	CurrentPeriodEnd   int64        `json:"current_period_end"`
	TrialEnd           int64        `json:"trial_end"`
	CanceledAt         int64        `json:"canceled_at"`
	Items              struct {
		Data []SubscriptionItem `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

func (p SubscriptionPayload) PriceID() string {
	for _, item := range p.Items.Data {
		if id := strings.TrimSpace(item.Price.ID); id != "" {
			return id
		}
	}
	return ""
}

// Period returns the current period boundaries, or nils when the payload
// does not carry a usable window.
func (p SubscriptionPayload) Period() (*time.Time, *time.Time) {
	start, end := p.CurrentPeriodStart, p.CurrentPeriodEnd
	if start == 0 || end == 0 {
		for _, item := range p.Items.Data {
			if item.CurrentPeriodStart > 0 && item.CurrentPeriodEnd > 0 {
				start, end = item.CurrentPeriodStart, item.CurrentPeriodEnd
				break
			}
		}
	}
	if start == 0 || end <= start {
		return nil, nil
	}
	return unixPtr(start), unixPtr(end)
}

func (p SubscriptionPayload) OrganizationID() (uint, bool) {
	return organizationFromMetadata(p.Metadata)
}

type InvoicePayload struct {
	ID           string       `json:"id"`
	Customer     ExpandableID `json:"customer"`
	Subscription ExpandableID `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription ExpandableID      `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// SubscriptionID returns the subscription the invoice bills, if any.
func (i InvoicePayload) SubscriptionID() string {
	if id := i.Subscription.String(); id != "" {
		return id
	}
	return i.Parent.SubscriptionDetails.Subscription.String()
}

func (i InvoicePayload) OrganizationID() (uint, bool) {
	return organizationFromMetadata(i.Parent.SubscriptionDetails.Metadata)
}

// DecodeEvent turns a verified gateway event into its variant. Types the
// synchronizer does not handle decode to Unhandled.
func DecodeEvent(ev stripe.Event) (Event, error) {
	meta := EventMeta{ID: ev.ID, Type: string(ev.Type), Created: time.Unix(ev.Created, 0).UTC()}
	var raw []byte
	if ev.Data != nil {
		raw = ev.Data.Raw
	}

	switch meta.Type {
	case "checkout.session.completed":
		var s CheckoutSession
		if err := decodeObject(raw, &s); err != nil {
			return nil, fmt.Errorf("decode checkout session %s: %w", meta.ID, err)
		}
		return CheckoutCompleted{EventMeta: meta, Session: s}, nil
	case "customer.subscription.created", "customer.subscription.updated":
		var p SubscriptionPayload
		if err := decodeObject(raw, &p); err != nil {
			return nil, fmt.Errorf("decode subscription %s: %w", meta.ID, err)
		}
		return SubscriptionChanged{EventMeta: meta, Subscription: p}, nil
	case "customer.subscription.deleted":
		var p SubscriptionPayload
		if err := decodeObject(raw, &p); err != nil {
			return nil, fmt.Errorf("decode subscription %s: %w", meta.ID, err)
		}
		return SubscriptionDeleted{EventMeta: meta, Subscription: p}, nil
	case "invoice.paid", "invoice.payment_succeeded":
		var inv InvoicePayload
		if err := decodeObject(raw, &inv); err != nil {
			return nil, fmt.Errorf("decode invoice %s: %w", meta.ID, err)
		}
		return InvoicePaid{EventMeta: meta, Invoice: inv}, nil
	case "invoice.payment_failed":
		var inv InvoicePayload
		if err := decodeObject(raw, &inv); err != nil {
			return nil, fmt.Errorf("decode invoice %s: %w", meta.ID, err)
		}
		return InvoicePaymentFailed{EventMeta: meta, Invoice: inv}, nil
	default:
		return Unhandled{EventMeta: meta}, nil
	}
}

func decodeObject(raw []byte, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("event has no data object")
	}
	return json.Unmarshal(raw, v)
}

func organizationFromMetadata(md map[string]string) (uint, bool) {
	for _, key := range []string{"organization_id", "organizationId", "org_id"} {
		if id, ok := parseOrganizationID(md[key]); ok {
			return id, true
		}
	}
	return 0, false
}

func parseOrganizationID(raw string) (uint, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}

func unixPtr(sec int64) *time.Time {
	t := time.Unix(sec, 0).UTC()
	return &t
}
