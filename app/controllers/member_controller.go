package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/genesis-provenance/genesis/app/models"
	"github.com/genesis-provenance/genesis/app/repository"
	"github.com/genesis-provenance/genesis/internal/pkg/plans"
	"github.com/genesis-provenance/genesis/internal/pkg/usage"
)

var errMemberExists = errors.New("member already exists")

type MemberController struct {
	consumer    QuotaConsumer
	members     repository.MemberRepository
	invalidator usage.Invalidator
}

func NewMemberController(consumer QuotaConsumer, members repository.MemberRepository, invalidator usage.Invalidator) *MemberController {
	return &MemberController{consumer: consumer, members: members, invalidator: invalidator}
}

type addMemberRequest struct {
	Email string `json:"email" validate:"required,email,max=255"`
	Role  string `json:"role" validate:"omitempty,oneof=owner admin member"`
}

// HandleAddMember adds a team member if the team_members quota has room.
func (mc *MemberController) HandleAddMember(c *fiber.Ctx) error {
	orgID := organizationID(c)
	var req addMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid JSON body")
	}
	if err := validate.Struct(req); err != nil {
		return validationError(c, err)
	}
	if req.Role == "" {
		req.Role = models.MemberRoleMember
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	member := models.OrganizationMember{OrganizationID: orgID, Email: req.Email, Role: req.Role}
	d, _, err := mc.consumer.Consume(ctx, orgID, plans.FeatureTeamMemberAdded, 1,
		map[string]interface{}{"role": req.Role},
		func(tx *gorm.DB) error {
			repo := repository.NewMemberRepository(tx)
			exists, err := repo.ExistsByEmail(orgID, req.Email)
			if err != nil {
				return err
			}
			if exists {
				return errMemberExists
			}
			return repo.Create(&member)
		})
	if errors.Is(err, errMemberExists) {
		return jsonError(c, fiber.StatusConflict, "conflict", "A member with this email already exists")
	}
	if err != nil {
		return entitlementError(c, orgID, err)
	}
	if !d.Allowed {
		return upgradeRequired(c, d)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"member": member, "entitlement": d})
}

func (mc *MemberController) HandleListMembers(c *fiber.Ctx) error {
	orgID := organizationID(c)
	members, err := mc.members.ListByOrganization(orgID)
	if err != nil {
		log.Errorf("[Usage] list members for organization %d: %v", orgID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load members")
	}
	return c.JSON(fiber.Map{"members": members})
}

func (mc *MemberController) HandleRemoveMember(c *fiber.Ctx) error {
	orgID := organizationID(c)
	id, ok := paramID(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid member id")
	}
	if err := mc.members.Delete(orgID, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Member not found")
		}
		log.Errorf("[Usage] remove member %d for organization %d: %v", id, orgID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to remove member")
	}
	if mc.invalidator != nil {
		mc.invalidator.Invalidate(c.UserContext(), orgID)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
