package controllers

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/genesis-provenance/genesis/app/models"
	"github.com/genesis-provenance/genesis/app/repository"
	"github.com/genesis-provenance/genesis/internal/pkg/billing"
	"github.com/genesis-provenance/genesis/internal/pkg/plans"
)

// AdminController serves the operator endpoints behind basic auth.
type AdminController struct {
	orgs       repository.OrganizationRepository
	svc        *billing.Service
	listener   billing.ChangeListener
	statements billing.StatementScheduler
}

func NewAdminController(orgs repository.OrganizationRepository, svc *billing.Service, listener billing.ChangeListener, statements billing.StatementScheduler) *AdminController {
	return &AdminController{orgs: orgs, svc: svc, listener: listener, statements: statements}
}

type createOrganizationRequest struct {
	Name         string `json:"name"`
	BillingEmail string `json:"billing_email"`
}

type subscriptionRequest struct {
	Plan              string     `json:"plan" validate:"required"`
	Status            string     `json:"status" validate:"omitempty,oneof=trialing active past_due cancelled incomplete"`
	PeriodStart       *time.Time `json:"period_start"`
	PeriodEnd         *time.Time `json:"period_end"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	TrialEnd          *time.Time `json:"trial_end"`
}

type statementRequest struct {
	PeriodStart *time.Time `json:"period_start"`
	PeriodEnd   *time.Time `json:"period_end"`
}

// HandleCreateOrganization creates a tenant and returns its API key. The raw
// key is only shown once.
func (ac *AdminController) HandleCreateOrganization(c *fiber.Ctx) error {
	var req createOrganizationRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid JSON body")
	}
	org := &models.Organization{Name: req.Name, BillingEmail: req.BillingEmail}
	if err := org.Validate(); err != nil {
		return validationError(c, err)
	}
	rawKey, err := org.IssueAPIKey()
	if err != nil {
		log.Errorf("[Admin] generate api key: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to generate API key")
	}
	if err := ac.orgs.Create(org); err != nil {
		log.Errorf("[Admin] create organization: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to create organization")
	}
	log.Infof("[Admin] created organization %d (%s)", org.ID, org.Name)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"organization": org, "api_key": rawKey})
}

// HandleRotateAPIKey replaces the organization key. The old key stops working
// immediately.
func (ac *AdminController) HandleRotateAPIKey(c *fiber.Ctx) error {
	org, resp := ac.organization(c)
	if org == nil {
		return resp
	}
	rawKey, err := org.IssueAPIKey()
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to generate API key")
	}
	if err := ac.orgs.Update(org); err != nil {
		log.Errorf("[Admin] rotate api key for organization %d: %v", org.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to store API key")
	}
	return c.JSON(fiber.Map{"organization": org, "api_key": rawKey})
}

// HandleListPlans returns the plan catalog from entry to highest tier.
func (ac *AdminController) HandleListPlans(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"plans": ac.svc.Catalog().Plans()})
}

func (ac *AdminController) HandleGetSubscription(c *fiber.Ctx) error {
	org, resp := ac.organization(c)
	if org == nil {
		return resp
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := ac.svc.GetSubscriptionOrDefault(ctx, org.ID)
	if err != nil {
		return entitlementError(c, org.ID, err)
	}
	return c.JSON(subscriptionResponse(res))
}

// HandleSetSubscription writes the subscription explicitly, for seeding and
// manual corrections.
func (ac *AdminController) HandleSetSubscription(c *fiber.Ctx) error {
	org, resp := ac.organization(c)
	if org == nil {
		return resp
	}
	var req subscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid JSON body")
	}
	if err := validate.Struct(req); err != nil {
		return validationError(c, err)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	_, err := ac.svc.SetSubscription(ctx, billing.SubscriptionInput{
		OrganizationID:    org.ID,
		Plan:              req.Plan,
		Status:            req.Status,
		PeriodStart:       req.PeriodStart,
		PeriodEnd:         req.PeriodEnd,
		CancelAtPeriodEnd: req.CancelAtPeriodEnd,
		TrialEnd:          req.TrialEnd,
	})
	if err != nil {
		var verrs validator.ValidationErrors
		switch {
		case errors.Is(err, plans.ErrUnknownPlan):
			return jsonError(c, fiber.StatusBadRequest, "unknown_plan", err.Error())
		case errors.Is(err, models.ErrInvalidPeriod), errors.As(err, &verrs):
			return validationError(c, err)
		}
		log.Errorf("[Admin] set subscription for organization %d: %v", org.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to store subscription")
	}
	if ac.listener != nil {
		ac.listener.SubscriptionChanged(ctx, org.ID)
	}

	res, err := ac.svc.GetSubscriptionOrDefault(ctx, org.ID)
	if err != nil {
		return entitlementError(c, org.ID, err)
	}
	return c.JSON(subscriptionResponse(res))
}

// HandleScheduleStatement queues a statement for the given period, or for
// the organization's current period when none is sent.
func (ac *AdminController) HandleScheduleStatement(c *fiber.Ctx) error {
	if ac.statements == nil {
		return jsonError(c, fiber.StatusServiceUnavailable, "unavailable", "Statement generation is not configured")
	}
	org, resp := ac.organization(c)
	if org == nil {
		return resp
	}
	var req statementRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid JSON body")
		}
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	var period billing.Period
	if req.PeriodStart != nil && req.PeriodEnd != nil {
		period = billing.Period{Start: req.PeriodStart.UTC(), End: req.PeriodEnd.UTC()}
		if !period.End.After(period.Start) {
			return jsonError(c, fiber.StatusBadRequest, "bad_request", "period_end must be after period_start")
		}
	} else {
		res, err := ac.svc.GetSubscriptionOrDefault(ctx, org.ID)
		if err != nil {
			return entitlementError(c, org.ID, err)
		}
		period = res.Period
	}

	if err := ac.statements.ScheduleStatement(ctx, org.ID, period); err != nil {
		log.Errorf("[Admin] schedule statement for organization %d: %v", org.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to queue statement")
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"organization_id": org.ID, "period": period})
}

// organization loads the :id organization. On failure it returns nil and the
// result of writing the error response.
func (ac *AdminController) organization(c *fiber.Ctx) (*models.Organization, error) {
	id, ok := paramID(c, "id")
	if !ok {
		return nil, jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid organization id")
	}
	org, err := ac.orgs.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, jsonError(c, fiber.StatusNotFound, "not_found", "Organization not found")
		}
		log.Errorf("[Admin] load organization %d: %v", id, err)
		return nil, jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load organization")
	}
	return org, nil
}

func subscriptionResponse(res billing.Resolved) fiber.Map {
	sub := res.Subscription
	return fiber.Map{
		"organization_id":      sub.OrganizationID,
		"plan":                 sub.Plan,
		"effective_plan":       res.Plan.ID,
		"effective_plan_name":  res.Plan.Name,
		"status":               sub.Status,
		"virtual":              res.Virtual,
		"period_start":         res.Period.Start.UTC().Format(time.RFC3339),
		"period_end":           res.Period.End.UTC().Format(time.RFC3339),
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
		"cancelled_at":         formatTimePtr(sub.CancelledAt),
		"trial_end":            formatTimePtr(sub.TrialEnd),
	}
}
