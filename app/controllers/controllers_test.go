package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/genesis-provenance/genesis/app/models"
	"github.com/genesis-provenance/genesis/app/repository"
	"github.com/genesis-provenance/genesis/internal/pkg/billing"
	"github.com/genesis-provenance/genesis/internal/pkg/database/dbtest"
	"github.com/genesis-provenance/genesis/internal/pkg/entitlements"
	"github.com/genesis-provenance/genesis/internal/pkg/middleware"
	"github.com/genesis-provenance/genesis/internal/pkg/plans"
	"github.com/genesis-provenance/genesis/internal/pkg/usage"
)

var ctrlNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type recordedStatement struct {
	orgID  uint
	period billing.Period
}

type fakeScheduler struct{ got []recordedStatement }

func (f *fakeScheduler) ScheduleStatement(_ context.Context, orgID uint, p billing.Period) error {
	f.got = append(f.got, recordedStatement{orgID: orgID, period: p})
	return nil
}

type changeLog struct{ orgs []uint }

func (c *changeLog) SubscriptionChanged(_ context.Context, orgID uint) { c.orgs = append(c.orgs, orgID) }

type harness struct {
	app        *fiber.App
	db         *gorm.DB
	svc        *billing.Service
	repos      *repository.Repositories
	scheduler  *fakeScheduler
	changes    *changeLog
	webhookKey string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	catalog, err := plans.NewCatalog(plans.DefaultPlans(), map[string]plans.PlanID{
		"price_collector": plans.PlanCollector,
		"price_dealer":    plans.PlanDealer,
		"price_ent":       plans.PlanEnterprise,
	})
	require.NoError(t, err)

	clock := func() time.Time { return ctrlNow }
	db := dbtest.Open(t)
	repos := repository.NewRepositories(db)
	svc := billing.NewServiceFromDB(db, catalog).WithClock(clock)
	ledger := usage.NewLedger(db)
	checker := entitlements.NewChecker(catalog, svc, ledger, repository.NewStandingCounter(db))
	consumer := entitlements.NewConsumer(db, catalog, entitlements.WithConsumerClock(clock))
	recorder := usage.NewRecorder(svc, ledger, usage.WithClock(clock))
	sync := billing.NewSynchronizer(billing.NewRepository(db), catalog, billing.WithSyncClock(clock))

	h := &harness{
		db:         db,
		svc:        svc,
		repos:      repos,
		scheduler:  &fakeScheduler{},
		changes:    &changeLog{},
		webhookKey: "whsec_test",
	}

	entCtrl := NewEntitlementController(checker)
	usageCtrl := NewUsageController(checker, recorder, consumer)
	assetCtrl := NewAssetController(consumer, checker, repos.Asset, nil)
	memberCtrl := NewMemberController(consumer, repos.Member, nil)
	billingCtrl := NewBillingController(svc, sync, h.webhookKey)
	adminCtrl := NewAdminController(repos.Organization, svc, h.changes, h.scheduler)

	app := fiber.New()
	app.Post("/webhooks/stripe", billingCtrl.HandleStripeWebhook)

	api := app.Group("/api/v1", middleware.APIKeyAuthMiddleware(repos.Organization), middleware.RequireTenant)
	api.Get("/entitlements/:feature", entCtrl.HandleCheckEntitlement)
	api.Get("/usage/summary", usageCtrl.HandleGetUsageSummary)
	api.Post("/usage", usageCtrl.HandleRecordUsage)
	api.Post("/usage/consume", usageCtrl.HandleConsumeUsage)
	api.Get("/assets", assetCtrl.HandleListAssets)
	api.Post("/assets", assetCtrl.HandleCreateAsset)
	api.Delete("/assets/:id", assetCtrl.HandleDeleteAsset)
	api.Post("/assets/:id/certificate", assetCtrl.HandleIssueCertificate)
	api.Get("/members", memberCtrl.HandleListMembers)
	api.Post("/members", memberCtrl.HandleAddMember)
	api.Delete("/members/:id", memberCtrl.HandleRemoveMember)

	admin := app.Group("/admin")
	admin.Get("/plans", adminCtrl.HandleListPlans)
	admin.Post("/organizations", adminCtrl.HandleCreateOrganization)
	admin.Post("/organizations/:id/api-key", adminCtrl.HandleRotateAPIKey)
	admin.Get("/organizations/:id/subscription", adminCtrl.HandleGetSubscription)
	admin.Put("/organizations/:id/subscription", adminCtrl.HandleSetSubscription)
	admin.Post("/organizations/:id/statements", adminCtrl.HandleScheduleStatement)

	h.app = app
	return h
}

// tenant creates an organization with an API key and optionally a plan.
func (h *harness) tenant(t *testing.T, name, plan string) (uint, string) {
	t.Helper()
	org := &models.Organization{Name: name, BillingEmail: "billing@example.com"}
	raw, err := org.IssueAPIKey()
	require.NoError(t, err)
	require.NoError(t, h.repos.Organization.Create(org))
	if plan != "" {
		start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 1, 0)
		_, err := h.svc.SetSubscription(context.Background(), billing.SubscriptionInput{
			OrganizationID: org.ID, Plan: plan, Status: "active", PeriodStart: &start, PeriodEnd: &end,
		})
		require.NoError(t, err)
	}
	return org.ID, raw
}

func (h *harness) seedAssets(t *testing.T, orgID uint, n int) {
	t.Helper()
	rows := make([]models.Asset, n)
	for i := range rows {
		rows[i] = models.Asset{OrganizationID: orgID, Title: fmt.Sprintf("Lot %d", i+1)}
	}
	require.NoError(t, h.db.CreateInBatches(rows, 100).Error)
}

func (h *harness) do(t *testing.T, method, path, key string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestCheckEntitlementEndpoint(t *testing.T) {
	h := newHarness(t)
	orgID, key := h.tenant(t, "Heritage Motors", "collector")
	h.seedAssets(t, orgID, 49)

	status, body := h.do(t, http.MethodGet, "/api/v1/entitlements/asset_created", key, nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["allowed"])
	assert.EqualValues(t, 1, body["remaining"])

	h.seedAssets(t, orgID, 1)
	status, body = h.do(t, http.MethodGet, "/api/v1/entitlements/asset_created", key, nil)
	assert.Equal(t, fiber.StatusPaymentRequired, status)
	assert.Equal(t, "upgrade_required", body["error"])
	assert.Equal(t, "collector", body["plan"])
	assert.EqualValues(t, 50, body["limit"])
	assert.EqualValues(t, 50, body["current"])
	assert.EqualValues(t, 0, body["remaining"])
	assert.Equal(t, true, body["upgrade_required"])

	status, body = h.do(t, http.MethodGet, "/api/v1/entitlements/teleport", key, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "unknown_feature", body["error"])

	status, _ = h.do(t, http.MethodGet, "/api/v1/entitlements/asset_created", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestRecordUsageAndSummary(t *testing.T) {
	h := newHarness(t)
	_, key := h.tenant(t, "Concours Archive", "dealer")

	status, body := h.do(t, http.MethodPost, "/api/v1/usage", key, fiber.Map{
		"feature": "ai_analysis", "count": 3, "metadata": fiber.Map{"model": "vision"},
	})
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.Equal(t, false, body["deferred"])

	status, body = h.do(t, http.MethodPost, "/api/v1/usage", key, fiber.Map{"feature": "vin_lookup"})
	require.Equal(t, fiber.StatusCreated, status, body)

	status, body = h.do(t, http.MethodPost, "/api/v1/usage", key, fiber.Map{"feature": "time_travel"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "unknown_feature", body["error"])

	status, body = h.do(t, http.MethodPost, "/api/v1/usage", key, fiber.Map{"feature": "ai_analysis", "count": -2})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = h.do(t, http.MethodGet, "/api/v1/usage/summary", key, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "dealer", body["plan"])
	assert.Equal(t, "Dealer", body["planName"])
	assert.Equal(t, false, body["trial"])
	u := body["usage"].(map[string]interface{})
	assert.EqualValues(t, 3, u["aiAnalyses"])
	assert.EqualValues(t, 1, u["vinLookups"])
	assert.EqualValues(t, 0, u["assets"])
}

func TestConsumeStopsAtLimit(t *testing.T) {
	h := newHarness(t)
	_, key := h.tenant(t, "Paddock Club", "collector")

	for i := 0; i < 10; i++ {
		status, body := h.do(t, http.MethodPost, "/api/v1/usage/consume", key, fiber.Map{"feature": "vin_lookup"})
		require.Equal(t, fiber.StatusCreated, status, body)
	}
	status, body := h.do(t, http.MethodPost, "/api/v1/usage/consume", key, fiber.Map{"feature": "vin_lookup"})
	assert.Equal(t, fiber.StatusPaymentRequired, status)
	assert.EqualValues(t, 10, body["current"])
	assert.EqualValues(t, 10, body["limit"])
}

func TestAssetLifecycle(t *testing.T) {
	h := newHarness(t)
	orgID, key := h.tenant(t, "Coachbuilt", "collector")
	h.seedAssets(t, orgID, 49)

	status, body := h.do(t, http.MethodPost, "/api/v1/assets", key, fiber.Map{"title": "1961 Ferrari 250 GT"})
	require.Equal(t, fiber.StatusCreated, status, body)
	asset := body["asset"].(map[string]interface{})
	assetID := uint(asset["id"].(float64))
	ent := body["entitlement"].(map[string]interface{})
	assert.EqualValues(t, 50, ent["current"])
	assert.EqualValues(t, 0, ent["remaining"])

	status, body = h.do(t, http.MethodPost, "/api/v1/assets", key, fiber.Map{"title": "1967 Miura"})
	assert.Equal(t, fiber.StatusPaymentRequired, status)
	assert.Equal(t, "upgrade_required", body["error"])

	status, _ = h.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/assets/%d", assetID), key, nil)
	assert.Equal(t, fiber.StatusNoContent, status)

	status, _ = h.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/assets/%d", assetID), key, nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body = h.do(t, http.MethodPost, "/api/v1/assets", key, fiber.Map{"title": "1967 Miura"})
	assert.Equal(t, fiber.StatusCreated, status, body)

	status, body = h.do(t, http.MethodPost, "/api/v1/assets", key, fiber.Map{"title": ""})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "bad_request", body["error"])

	var n int64
	require.NoError(t, h.db.Model(&models.UsageLogEntry{}).Where("organization_id = ? AND feature = ?", orgID, plans.FeatureAssetCreated).Count(&n).Error)
	assert.EqualValues(t, 2, n)
}

func TestIssueCertificate(t *testing.T) {
	h := newHarness(t)
	orgID, key := h.tenant(t, "Provenance Lab", "dealer")
	otherID, _ := h.tenant(t, "Someone Else", "dealer")
	h.seedAssets(t, otherID, 1)

	status, body := h.do(t, http.MethodPost, "/api/v1/assets", key, fiber.Map{"title": "Bugatti Type 57"})
	require.Equal(t, fiber.StatusCreated, status, body)
	assetID := uint(body["asset"].(map[string]interface{})["id"].(float64))

	status, body = h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/assets/%d/certificate", assetID), key, nil)
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.NotNil(t, body["asset"].(map[string]interface{})["certificate_issued_at"])

	status, body = h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/assets/%d/certificate", assetID), key, nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["already_issued"])

	var other models.Asset
	require.NoError(t, h.db.Where("organization_id = ?", otherID).First(&other).Error)
	status, _ = h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/assets/%d/certificate", other.ID), key, nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	var n int64
	require.NoError(t, h.db.Model(&models.UsageLogEntry{}).Where("organization_id = ? AND feature = ?", orgID, plans.FeaturePDFCertificate).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestAddMemberGatedByTeamLimit(t *testing.T) {
	h := newHarness(t)
	_, key := h.tenant(t, "Solo Collector", "")

	status, body := h.do(t, http.MethodPost, "/api/v1/members", key, fiber.Map{"email": "Owner@Example.com", "role": "owner"})
	require.Equal(t, fiber.StatusCreated, status, body)
	member := body["member"].(map[string]interface{})
	assert.Equal(t, "owner@example.com", member["email"])

	status, body = h.do(t, http.MethodPost, "/api/v1/members", key, fiber.Map{"email": "owner@example.com"})
	assert.Equal(t, fiber.StatusPaymentRequired, status, body)

	status, body = h.do(t, http.MethodPost, "/api/v1/members", key, fiber.Map{"email": "not-an-email"})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = h.do(t, http.MethodGet, "/api/v1/members", key, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["members"], 1)
}

func TestAddMemberRejectsDuplicateEmail(t *testing.T) {
	h := newHarness(t)
	_, key := h.tenant(t, "Dealer Group", "dealer")

	status, _ := h.do(t, http.MethodPost, "/api/v1/members", key, fiber.Map{"email": "sales@example.com"})
	require.Equal(t, fiber.StatusCreated, status)
	status, body := h.do(t, http.MethodPost, "/api/v1/members", key, fiber.Map{"email": "SALES@example.com"})
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "conflict", body["error"])
}

func TestAdminOrganizationAndSubscription(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodPost, "/admin/organizations", "", fiber.Map{"name": "Marque Registry", "billing_email": "ops@example.com"})
	require.Equal(t, fiber.StatusCreated, status, body)
	key := body["api_key"].(string)
	orgID := uint(body["organization"].(map[string]interface{})["id"].(float64))
	assert.NotEmpty(t, key)

	status, _ = h.do(t, http.MethodGet, "/api/v1/usage/summary", key, nil)
	assert.Equal(t, fiber.StatusOK, status)

	path := fmt.Sprintf("/admin/organizations/%d/subscription", orgID)
	status, body = h.do(t, http.MethodGet, path, "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["virtual"])
	assert.Equal(t, "collector", body["effective_plan"])
	assert.Equal(t, "trialing", body["status"])

	status, body = h.do(t, http.MethodPut, path, "", fiber.Map{
		"plan": "Dealer", "status": "active",
		"period_start": "2026-03-01T00:00:00Z", "period_end": "2026-04-01T00:00:00Z",
	})
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, "dealer", body["effective_plan"])
	assert.Equal(t, false, body["virtual"])
	assert.Equal(t, "2026-04-01T00:00:00Z", body["period_end"])
	assert.Equal(t, []uint{orgID}, h.changes.orgs)

	status, body = h.do(t, http.MethodPut, path, "", fiber.Map{"plan": "platinum"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "unknown_plan", body["error"])

	status, _ = h.do(t, http.MethodPut, path, "", fiber.Map{
		"plan": "dealer", "period_start": "2026-04-01T00:00:00Z", "period_end": "2026-03-01T00:00:00Z",
	})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = h.do(t, http.MethodGet, "/admin/organizations/999/subscription", "", nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body = h.do(t, http.MethodPost, "/admin/organizations", "", fiber.Map{"name": ""})
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestAdminRotateAPIKey(t *testing.T) {
	h := newHarness(t)
	orgID, oldKey := h.tenant(t, "Rotating", "")

	status, body := h.do(t, http.MethodPost, fmt.Sprintf("/admin/organizations/%d/api-key", orgID), "", nil)
	require.Equal(t, fiber.StatusOK, status)
	newKey := body["api_key"].(string)
	assert.NotEqual(t, oldKey, newKey)

	status, _ = h.do(t, http.MethodGet, "/api/v1/usage/summary", oldKey, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	status, _ = h.do(t, http.MethodGet, "/api/v1/usage/summary", newKey, nil)
	assert.Equal(t, fiber.StatusOK, status)
}

func TestAdminScheduleStatement(t *testing.T) {
	h := newHarness(t)
	orgID, _ := h.tenant(t, "Quarterly", "dealer")
	path := fmt.Sprintf("/admin/organizations/%d/statements", orgID)

	status, _ := h.do(t, http.MethodPost, path, "", nil)
	require.Equal(t, fiber.StatusAccepted, status)
	require.Len(t, h.scheduler.got, 1)
	assert.Equal(t, orgID, h.scheduler.got[0].orgID)
	assert.True(t, h.scheduler.got[0].period.Start.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))

	status, _ = h.do(t, http.MethodPost, path, "", fiber.Map{
		"period_start": "2026-02-01T00:00:00Z", "period_end": "2026-03-01T00:00:00Z",
	})
	require.Equal(t, fiber.StatusAccepted, status)
	require.Len(t, h.scheduler.got, 2)
	assert.True(t, h.scheduler.got[1].period.End.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))

	status, _ = h.do(t, http.MethodPost, path, "", fiber.Map{
		"period_start": "2026-03-01T00:00:00Z", "period_end": "2026-02-01T00:00:00Z",
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestAdminListPlans(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodGet, "/admin/plans", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	list := body["plans"].([]interface{})
	require.Len(t, list, 3)
	first := list[0].(map[string]interface{})
	assert.Equal(t, "collector", first["id"])
	limits := list[2].(map[string]interface{})["limits"].(map[string]interface{})
	assert.EqualValues(t, -1, limits["assets"])
}

func TestConsumeRejectsStandingFeatures(t *testing.T) {
	h := newHarness(t)
	orgID, key := h.tenant(t, "Standing Room", "collector")

	for _, feature := range []string{"asset_created", "team_member_added", "storage_used", "pdf_certificate"} {
		status, body := h.do(t, http.MethodPost, "/api/v1/usage/consume", key, fiber.Map{"feature": feature})
		assert.Equal(t, fiber.StatusBadRequest, status, feature)
		assert.Equal(t, "standing_feature", body["error"], feature)
	}

	var n int64
	require.NoError(t, h.db.Model(&models.UsageLogEntry{}).Where("organization_id = ?", orgID).Count(&n).Error)
	assert.Zero(t, n)
}

func TestCreateAssetChecksIncomingMediaSize(t *testing.T) {
	h := newHarness(t)
	_, key := h.tenant(t, "Archive Vault", "collector") // 5 GB storage
	const gb = int64(1 << 30)

	status, body := h.do(t, http.MethodPost, "/api/v1/assets", key, fiber.Map{"title": "Full restoration footage", "media_bytes": 6 * gb})
	require.Equal(t, fiber.StatusPaymentRequired, status, body)
	assert.Equal(t, "storage_used", body["feature"])
	assert.EqualValues(t, 0, body["current"])

	status, body = h.do(t, http.MethodPost, "/api/v1/assets", key, fiber.Map{"title": "Chassis photos", "media_bytes": 2 * gb})
	require.Equal(t, fiber.StatusCreated, status, body)

	// 2 GB stored, 3 more fit exactly
	status, body = h.do(t, http.MethodPost, "/api/v1/assets", key, fiber.Map{"title": "Engine teardown", "media_bytes": 3 * gb})
	require.Equal(t, fiber.StatusCreated, status, body)

	status, body = h.do(t, http.MethodPost, "/api/v1/assets", key, fiber.Map{"title": "One more scan", "media_bytes": 1})
	assert.Equal(t, fiber.StatusPaymentRequired, status, body)
	assert.EqualValues(t, 5, body["current"])

	status, body = h.do(t, http.MethodPost, "/api/v1/assets", key, fiber.Map{"title": "Paper logbook"})
	assert.Equal(t, fiber.StatusCreated, status, body)
}
