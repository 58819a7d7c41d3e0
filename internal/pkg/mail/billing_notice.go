package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/gofiber/fiber/v2/log"

	"github.com/genesis-provenance/genesis/app/models"
	"github.com/genesis-provenance/genesis/internal/pkg/plans"
)

type OrganizationLookup interface {
	GetByID(id uint) (*models.Organization, error)
}

var paymentFailedTmpl = template.Must(template.New("payment_failed").Parse(`<p>Hello {{.Organization}},</p>
<p>we could not collect the latest payment for your {{.Plan}} subscription. Your account stays on the {{.Plan}} plan while the payment is retried.</p>
{{if .PeriodEnd}}<p>The current billing period ends on {{.PeriodEnd}}.</p>{{end}}
<p>Please update your payment method to avoid losing access to plan features.</p>`))

// BillingNotifier e-mails billing notices to an organization's billing
// address.
type BillingNotifier struct {
	orgs    OrganizationLookup
	sender  Sender
	catalog *plans.Catalog
}

func NewBillingNotifier(orgs OrganizationLookup, sender Sender, catalog *plans.Catalog) *BillingNotifier {
	return &BillingNotifier{orgs: orgs, sender: sender, catalog: catalog}
}

// PaymentFailed tells the organization that a renewal payment failed.
// Organizations without a billing address are skipped.
func (n *BillingNotifier) PaymentFailed(_ context.Context, sub models.Subscription) error {
	org, err := n.orgs.GetByID(sub.OrganizationID)
	if err != nil {
		return fmt.Errorf("load organization %d: %w", sub.OrganizationID, err)
	}
	if org.BillingEmail == "" {
		log.Warnf("[Mail] organization %d has no billing email, payment failure notice skipped", org.ID)
		return nil
	}

	planName := string(sub.Plan)
	if p, ok := n.catalog.Lookup(sub.Plan); ok {
		planName = p.Name
	}
	data := struct {
		Organization string
		Plan         string
		PeriodEnd    string
	}{Organization: org.Name, Plan: planName}
	if sub.CurrentPeriodEnd != nil {
		data.PeriodEnd = sub.CurrentPeriodEnd.UTC().Format("January 2, 2006")
	}

	var body bytes.Buffer
	if err := paymentFailedTmpl.Execute(&body, data); err != nil {
		return err
	}
	return n.sender.Send(org.BillingEmail, "Payment failed for your Genesis Provenance subscription", body.String())
}
