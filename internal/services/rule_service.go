package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
	"github.com/Reg-Kris/pyairtable-automation-service/internal/repositories"
)

// RuleInput carries the author-editable fields of a rule
type RuleInput struct {
	Name                    string
	Description             string
	TriggerKey              models.TriggerKey
	Conditions              models.ConditionList
	Actions                 models.ActionList
	CustomerFacingConfirmed bool
}

// RuleService owns the rule lifecycle: create, update, enable, disable and
// the run history read surfaces. Rules are created disabled and only cross
// into enabled through the enable-time gates.
type RuleService struct {
	repos     *repositories.Repositories
	validator *RuleValidator
	logger    *zap.Logger
}

// NewRuleService creates a rule service
func NewRuleService(repos *repositories.Repositories, validator *RuleValidator, logger *zap.Logger) *RuleService {
	return &RuleService{
		repos:     repos,
		validator: validator,
		logger:    logger,
	}
}

// CreateRule validates and persists a new rule. Rules always start disabled.
// A non-empty issue list means nothing was persisted.
func (s *RuleService) CreateRule(ctx context.Context, orgID uint, input *RuleInput) (*models.Rule, []ValidationIssue, error) {
	rule := s.buildRule(orgID, input)

	if issues := s.validator.ValidateRule(ctx, rule); len(issues) > 0 {
		return nil, issues, nil
	}

	rule.IsCustomerFacing, rule.RequiresEmail, rule.RequiresSms = DeriveFlags(rule)

	if err := s.repos.Rule.Create(ctx, rule); err != nil {
		return nil, nil, fmt.Errorf("failed to create rule: %w", err)
	}

	s.logger.Info("rule created",
		zap.Uint("org_id", orgID),
		zap.Uint("rule_id", rule.ID),
		zap.String("trigger", string(rule.TriggerKey)))

	return rule, nil, nil
}

// GetRule returns one rule, or ErrRuleNotFound
func (s *RuleService) GetRule(ctx context.Context, orgID, id uint) (*models.Rule, error) {
	rule, err := s.repos.Rule.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, ErrRuleNotFound
	}
	return rule, nil
}

// ListRules returns the org's rules, newest first
func (s *RuleService) ListRules(ctx context.Context, orgID uint, limit, offset int) ([]*models.Rule, error) {
	return s.repos.Rule.ListByOrg(ctx, orgID, limit, offset)
}

// UpdateRule replaces the author-editable fields and re-derives the rule's
// flags. A rule that is currently enabled must still pass the enable-time
// gates with its new definition, otherwise the update is rejected.
func (s *RuleService) UpdateRule(ctx context.Context, orgID, id uint, input *RuleInput) (*models.Rule, []ValidationIssue, error) {
	rule, err := s.GetRule(ctx, orgID, id)
	if err != nil {
		return nil, nil, err
	}

	rule.Name = input.Name
	rule.Description = input.Description
	rule.TriggerKey = input.TriggerKey
	rule.Conditions = input.Conditions
	rule.Actions = input.Actions
	rule.CustomerFacingConfirmed = input.CustomerFacingConfirmed
	rule.IsCustomerFacing, rule.RequiresEmail, rule.RequiresSms = DeriveFlags(rule)

	var issues []ValidationIssue
	if rule.Enabled {
		settings, err := s.repos.Org.GetSettings(ctx, orgID)
		if err != nil {
			return nil, nil, err
		}
		issues = s.validator.ValidateForEnable(ctx, rule, settings)
	} else {
		issues = s.validator.ValidateRule(ctx, rule)
	}
	if len(issues) > 0 {
		return nil, issues, nil
	}

	if err := s.repos.Rule.Update(ctx, rule); err != nil {
		return nil, nil, fmt.Errorf("failed to update rule: %w", err)
	}

	return rule, nil, nil
}

// EnableRule turns a rule on after the enable-time gates pass. The confirm
// flag records the author's explicit acknowledgement of customer-facing
// sends; it is sticky once set.
func (s *RuleService) EnableRule(ctx context.Context, orgID, id uint, confirmCustomerFacing bool) (*models.Rule, []ValidationIssue, error) {
	rule, err := s.GetRule(ctx, orgID, id)
	if err != nil {
		return nil, nil, err
	}

	if confirmCustomerFacing {
		rule.CustomerFacingConfirmed = true
	}
	rule.IsCustomerFacing, rule.RequiresEmail, rule.RequiresSms = DeriveFlags(rule)

	settings, err := s.repos.Org.GetSettings(ctx, orgID)
	if err != nil {
		return nil, nil, err
	}

	if issues := s.validator.ValidateForEnable(ctx, rule, settings); len(issues) > 0 {
		return nil, issues, nil
	}

	rule.Enabled = true
	if err := s.repos.Rule.Update(ctx, rule); err != nil {
		return nil, nil, fmt.Errorf("failed to enable rule: %w", err)
	}

	s.logger.Info("rule enabled", zap.Uint("org_id", orgID), zap.Uint("rule_id", rule.ID))
	return rule, nil, nil
}

// DisableRule turns a rule off. Disabling never validates; a broken rule
// must always be stoppable.
func (s *RuleService) DisableRule(ctx context.Context, orgID, id uint) (*models.Rule, error) {
	rule, err := s.GetRule(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	rule.Enabled = false
	if err := s.repos.Rule.Update(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to disable rule: %w", err)
	}

	s.logger.Info("rule disabled", zap.Uint("org_id", orgID), zap.Uint("rule_id", rule.ID))
	return rule, nil
}

// DeleteRule soft-deletes a rule. Only disabled rules can be deleted so an
// active automation is never removed in one step.
func (s *RuleService) DeleteRule(ctx context.Context, orgID, id uint) error {
	rule, err := s.GetRule(ctx, orgID, id)
	if err != nil {
		return err
	}

	if rule.Enabled {
		return NewEngineError(ErrCodeValidation, "rule must be disabled before deletion", nil)
	}

	return s.repos.Rule.Delete(ctx, orgID, id)
}

// ListRuns returns a rule's run history, newest first
func (s *RuleService) ListRuns(ctx context.Context, orgID, ruleID uint, limit, offset int) ([]*models.Run, error) {
	if _, err := s.GetRule(ctx, orgID, ruleID); err != nil {
		return nil, err
	}
	return s.repos.Run.ListByRule(ctx, orgID, ruleID, limit, offset)
}

// GetRunStats returns aggregate outcome counts for a rule
func (s *RuleService) GetRunStats(ctx context.Context, orgID, ruleID uint) (*models.RunStats, error) {
	if _, err := s.GetRule(ctx, orgID, ruleID); err != nil {
		return nil, err
	}
	return s.repos.Run.GetStats(ctx, orgID, ruleID)
}

// GetRun returns one run with its ordered steps
func (s *RuleService) GetRun(ctx context.Context, orgID, runID uint) (*models.Run, []*models.RunStep, error) {
	run, err := s.repos.Run.GetByID(ctx, orgID, runID)
	if err != nil {
		return nil, nil, err
	}
	if run == nil {
		return nil, nil, NewEngineError(ErrCodeNotFound, "run not found", nil)
	}

	steps, err := s.repos.Run.ListSteps(ctx, run.ID)
	if err != nil {
		return nil, nil, err
	}

	return run, steps, nil
}

func (s *RuleService) buildRule(orgID uint, input *RuleInput) *models.Rule {
	conditions := input.Conditions
	if conditions == nil {
		conditions = models.ConditionList{}
	}
	actions := input.Actions
	if actions == nil {
		actions = models.ActionList{}
	}

	return &models.Rule{
		OrgID:                   orgID,
		Name:                    input.Name,
		Description:             input.Description,
		TriggerKey:              input.TriggerKey,
		TriggerVersion:          1,
		Conditions:              conditions,
		Actions:                 actions,
		Enabled:                 false,
		CustomerFacingConfirmed: input.CustomerFacingConfirmed,
	}
}
