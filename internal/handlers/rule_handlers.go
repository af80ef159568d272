package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/catalog"
	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
	"github.com/Reg-Kris/pyairtable-automation-service/internal/services"
)

// RuleRequest represents the request to create or replace a rule
type RuleRequest struct {
	Name                    string               `json:"name" validate:"required,max=255"`
	Description             string               `json:"description" validate:"max=2000"`
	TriggerKey              models.TriggerKey    `json:"trigger_key" validate:"required"`
	Conditions              models.ConditionList `json:"conditions"`
	Actions                 models.ActionList    `json:"actions" validate:"required,min=1"`
	CustomerFacingConfirmed bool                 `json:"customer_facing_confirmed"`
}

func (r *RuleRequest) toInput() *services.RuleInput {
	return &services.RuleInput{
		Name:                    r.Name,
		Description:             r.Description,
		TriggerKey:              r.TriggerKey,
		Conditions:              r.Conditions,
		Actions:                 r.Actions,
		CustomerFacingConfirmed: r.CustomerFacingConfirmed,
	}
}

// EnableRuleRequest represents the optional body of an enable request
type EnableRuleRequest struct {
	ConfirmCustomerFacing bool `json:"confirm_customer_facing"`
}

// SampleEvent is the event a dry-run evaluates against; it is never persisted
type SampleEvent struct {
	EventType models.TriggerKey `json:"event_type" validate:"required"`
	Payload   models.JSONMap    `json:"payload"`
}

// DryRunRequest evaluates either a stored rule or an inline draft
type DryRunRequest struct {
	RuleID      *uint        `json:"rule_id,omitempty"`
	Rule        *RuleRequest `json:"rule,omitempty"`
	SampleEvent SampleEvent  `json:"sample_event"`
	SaveDraft   bool         `json:"save_draft"`
}

// CreateRule handles POST /api/v1/rules
func (h *Handlers) CreateRule(c *fiber.Ctx) error {
	orgID, err := h.getOrgIDFromContext(c)
	if err != nil {
		return err
	}

	var req RuleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := h.validate.Struct(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	rule, issues, err := h.services.Rules.CreateRule(c.Context(), orgID, req.toInput())
	if err != nil {
		return h.respondServiceError(c, err, "Failed to create rule")
	}
	if len(issues) > 0 {
		return validationIssuesResponse(c, issues)
	}

	return c.Status(fiber.StatusCreated).JSON(rule)
}

// ListRules handles GET /api/v1/rules
func (h *Handlers) ListRules(c *fiber.Ctx) error {
	orgID, err := h.getOrgIDFromContext(c)
	if err != nil {
		return err
	}

	limit, offset := h.getPaginationParams(c)

	rules, err := h.services.Rules.ListRules(c.Context(), orgID, limit, offset)
	if err != nil {
		return h.respondServiceError(c, err, "Failed to list rules")
	}

	return c.JSON(fiber.Map{
		"rules":  rules,
		"limit":  limit,
		"offset": offset,
	})
}

// GetRule handles GET /api/v1/rules/:id
func (h *Handlers) GetRule(c *fiber.Ctx) error {
	orgID, err := h.getOrgIDFromContext(c)
	if err != nil {
		return err
	}

	ruleID, err := h.getIDParam(c, "id")
	if err != nil {
		return err
	}

	rule, err := h.services.Rules.GetRule(c.Context(), orgID, ruleID)
	if err != nil {
		return h.respondServiceError(c, err, "Failed to get rule")
	}

	return c.JSON(rule)
}

// UpdateRule handles PUT /api/v1/rules/:id
func (h *Handlers) UpdateRule(c *fiber.Ctx) error {
	orgID, err := h.getOrgIDFromContext(c)
	if err != nil {
		return err
	}

	ruleID, err := h.getIDParam(c, "id")
	if err != nil {
		return err
	}

	var req RuleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := h.validate.Struct(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	rule, issues, err := h.services.Rules.UpdateRule(c.Context(), orgID, ruleID, req.toInput())
	if err != nil {
		return h.respondServiceError(c, err, "Failed to update rule")
	}
	if len(issues) > 0 {
		return validationIssuesResponse(c, issues)
	}

	return c.JSON(rule)
}

// DeleteRule handles DELETE /api/v1/rules/:id
func (h *Handlers) DeleteRule(c *fiber.Ctx) error {
	orgID, err := h.getOrgIDFromContext(c)
	if err != nil {
		return err
	}

	ruleID, err := h.getIDParam(c, "id")
	if err != nil {
		return err
	}

	if err := h.services.Rules.DeleteRule(c.Context(), orgID, ruleID); err != nil {
		return h.respondServiceError(c, err, "Failed to delete rule")
	}

	return c.Status(fiber.StatusNoContent).Send(nil)
}

// EnableRule handles POST /api/v1/rules/:id/enable
func (h *Handlers) EnableRule(c *fiber.Ctx) error {
	orgID, err := h.getOrgIDFromContext(c)
	if err != nil {
		return err
	}

	ruleID, err := h.getIDParam(c, "id")
	if err != nil {
		return err
	}

	var req EnableRuleRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
	}

	rule, issues, err := h.services.Rules.EnableRule(c.Context(), orgID, ruleID, req.ConfirmCustomerFacing)
	if err != nil {
		return h.respondServiceError(c, err, "Failed to enable rule")
	}
	if len(issues) > 0 {
		return validationIssuesResponse(c, issues)
	}

	return c.JSON(rule)
}

// DisableRule handles POST /api/v1/rules/:id/disable
func (h *Handlers) DisableRule(c *fiber.Ctx) error {
	orgID, err := h.getOrgIDFromContext(c)
	if err != nil {
		return err
	}

	ruleID, err := h.getIDParam(c, "id")
	if err != nil {
		return err
	}

	rule, err := h.services.Rules.DisableRule(c.Context(), orgID, ruleID)
	if err != nil {
		return h.respondServiceError(c, err, "Failed to disable rule")
	}

	return c.JSON(rule)
}

// DryRun handles POST /api/v1/rules/dry-run
func (h *Handlers) DryRun(c *fiber.Ctx) error {
	orgID, err := h.getOrgIDFromContext(c)
	if err != nil {
		return err
	}

	var req DryRunRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := h.validate.Struct(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if (req.RuleID == nil) == (req.Rule == nil) {
		return fiber.NewError(fiber.StatusBadRequest, "Provide exactly one of rule_id or rule")
	}

	var rule *models.Rule
	if req.RuleID != nil {
		rule, err = h.services.Rules.GetRule(c.Context(), orgID, *req.RuleID)
		if err != nil {
			return h.respondServiceError(c, err, "Failed to load rule")
		}
	} else {
		if err := h.validate.Struct(req.Rule); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		rule = &models.Rule{
			OrgID:                   orgID,
			Name:                    req.Rule.Name,
			Description:             req.Rule.Description,
			TriggerKey:              req.Rule.TriggerKey,
			TriggerVersion:          1,
			Conditions:              req.Rule.Conditions,
			Actions:                 req.Rule.Actions,
			CustomerFacingConfirmed: req.Rule.CustomerFacingConfirmed,
		}
	}

	sampleEvent := &models.Event{
		OrgID:     orgID,
		EventType: req.SampleEvent.EventType,
		Payload:   req.SampleEvent.Payload,
		Source:    "dry_run",
	}

	saveDraft := req.SaveDraft && req.Rule != nil

	result, err := h.services.Engine.DryRun(c.Context(), orgID, rule, sampleEvent, saveDraft)
	if err != nil {
		return h.respondServiceError(c, err, "Failed to dry-run rule")
	}

	h.logger.Info("dry run served",
		zap.Uint("org_id", orgID),
		zap.Bool("matched", result.Matched),
		zap.Bool("draft_saved", result.RuleID != nil))

	return c.JSON(result)
}

// GetTriggers handles GET /api/v1/triggers. The response is the authoring
// catalog: every trigger with the condition schemas legal for it.
func (h *Handlers) GetTriggers(c *fiber.Ctx) error {
	triggers := catalog.Triggers()

	type triggerView struct {
		catalog.TriggerDefinition
		Conditions []catalog.ConditionDefinition `json:"conditions"`
	}

	views := make([]triggerView, 0, len(triggers))
	for _, trigger := range triggers {
		view := triggerView{TriggerDefinition: trigger}
		for _, key := range trigger.ConditionKeys {
			if def, ok := catalog.Lookup(key); ok {
				view.Conditions = append(view.Conditions, def)
			}
		}
		views = append(views, view)
	}

	return c.JSON(fiber.Map{
		"triggers": views,
	})
}
