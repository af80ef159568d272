package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/catalog"
	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
	"github.com/Reg-Kris/pyairtable-automation-service/internal/repositories"
)

// ValidationIssue describes one authoring problem found in a rule. Issues
// are collected, not short-circuited, so authors see the whole list at once.
type ValidationIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// RuleValidator checks rules against the trigger/condition catalog and the
// org's communication setup. Everything here runs at authoring time; runtime
// evaluation trusts validated rules but still degrades safely on its own.
type RuleValidator struct {
	comms  repositories.CommRepository
	logger *zap.Logger
}

// NewRuleValidator creates a rule validator
func NewRuleValidator(comms repositories.CommRepository, logger *zap.Logger) *RuleValidator {
	return &RuleValidator{
		comms:  comms,
		logger: logger,
	}
}

// ValidateRule checks trigger existence, condition legality and typing, and
// action parameter completeness. A nil or empty result means the rule is
// structurally sound for saving (enable-time checks are separate).
func (v *RuleValidator) ValidateRule(ctx context.Context, rule *models.Rule) []ValidationIssue {
	var issues []ValidationIssue

	trigger, ok := catalog.TriggerByKey(rule.TriggerKey)
	if !ok {
		issues = append(issues, ValidationIssue{
			Field:   "trigger_key",
			Message: fmt.Sprintf("unknown trigger %q", rule.TriggerKey),
		})
		// Condition legality depends on the trigger; nothing more to check.
		return issues
	}

	if len(rule.Actions) == 0 {
		issues = append(issues, ValidationIssue{
			Field:   "actions",
			Message: "rule must define at least one action",
		})
	}

	issues = append(issues, v.validateConditions(trigger, rule.Conditions)...)
	issues = append(issues, v.validateRequiredConditions(trigger, rule.Conditions)...)
	issues = append(issues, v.validateActions(ctx, rule.OrgID, rule.Actions)...)

	return issues
}

func (v *RuleValidator) validateConditions(trigger catalog.TriggerDefinition, conditions models.ConditionList) []ValidationIssue {
	var issues []ValidationIssue

	for i, cond := range conditions {
		field := fmt.Sprintf("conditions[%d]", i)

		def, ok := catalog.Lookup(cond.Key)
		if !ok {
			issues = append(issues, ValidationIssue{
				Field:   field,
				Message: fmt.Sprintf("unknown condition key %q", cond.Key),
			})
			continue
		}

		if !trigger.SupportsCondition(cond.Key) {
			issues = append(issues, ValidationIssue{
				Field:   field,
				Message: fmt.Sprintf("condition %q is not legal for trigger %q", cond.Key, trigger.Key),
			})
			continue
		}

		if def.NeedsJobContext && !trigger.SupportsJob {
			issues = append(issues, ValidationIssue{
				Field:   field,
				Message: fmt.Sprintf("condition %q needs job context which trigger %q does not provide", cond.Key, trigger.Key),
			})
		}
		if def.NeedsMaterialContext && !trigger.SupportsMaterial {
			issues = append(issues, ValidationIssue{
				Field:   field,
				Message: fmt.Sprintf("condition %q needs material context which trigger %q does not provide", cond.Key, trigger.Key),
			})
		}
		if def.NeedsBillingContext && !trigger.SupportsBilling {
			issues = append(issues, ValidationIssue{
				Field:   field,
				Message: fmt.Sprintf("condition %q needs billing context which trigger %q does not provide", cond.Key, trigger.Key),
			})
		}

		if !def.AllowsOperator(cond.Operator) {
			issues = append(issues, ValidationIssue{
				Field:   field,
				Message: fmt.Sprintf("operator %q is not allowed for condition %q", cond.Operator, cond.Key),
			})
		}

		issues = append(issues, validateConditionValue(field, def, cond.Value)...)
	}

	return issues
}

// validateConditionValue type-checks a condition's value against the
// catalog's declared value type and bounds.
func validateConditionValue(field string, def catalog.ConditionDefinition, value interface{}) []ValidationIssue {
	var issues []ValidationIssue

	switch def.ValueType {
	case catalog.ValueEnum:
		text, ok := value.(string)
		if !ok || text == "" {
			issues = append(issues, ValidationIssue{Field: field, Message: "value must be a non-empty string"})
			break
		}
		// Dynamic enums (crew roster) resolve at runtime; static ones are
		// checked against the catalog's closed set.
		if def.DynamicSource == "" && len(def.EnumValues) > 0 && !containsString(def.EnumValues, text) {
			issues = append(issues, ValidationIssue{
				Field:   field,
				Message: fmt.Sprintf("value %q is not one of %v", text, def.EnumValues),
			})
		}

	case catalog.ValueNumber, catalog.ValuePercentage, catalog.ValueHours:
		num, ok := toFloat64(value)
		if !ok {
			issues = append(issues, ValidationIssue{Field: field, Message: "value must be a number"})
			break
		}
		if def.Min != nil && num < *def.Min {
			issues = append(issues, ValidationIssue{
				Field:   field,
				Message: fmt.Sprintf("value %g is below the minimum %g", num, *def.Min),
			})
		}
		if def.Max != nil && num > *def.Max {
			issues = append(issues, ValidationIssue{
				Field:   field,
				Message: fmt.Sprintf("value %g is above the maximum %g", num, *def.Max),
			})
		}

	case catalog.ValueBoolean:
		if _, ok := value.(bool); !ok {
			issues = append(issues, ValidationIssue{Field: field, Message: "value must be a boolean"})
		}

	case catalog.ValueText:
		text, ok := value.(string)
		if !ok || text == "" {
			issues = append(issues, ValidationIssue{Field: field, Message: "value must be a non-empty string"})
		}
	}

	return issues
}

// validateRequiredConditions rejects ambiguous rules: triggers that fire on
// every mutation of their entity require at least one narrowing condition.
func (v *RuleValidator) validateRequiredConditions(trigger catalog.TriggerDefinition, conditions models.ConditionList) []ValidationIssue {
	if len(trigger.RequiredConditionKeys) == 0 {
		return nil
	}

	for _, cond := range conditions {
		if containsString(trigger.RequiredConditionKeys, cond.Key) {
			return nil
		}
	}

	return []ValidationIssue{{
		Field: "conditions",
		Message: fmt.Sprintf("rules on trigger %q must include at least one of: %v",
			trigger.Key, trigger.RequiredConditionKeys),
	}}
}

func (v *RuleValidator) validateActions(ctx context.Context, orgID uint, actions models.ActionList) []ValidationIssue {
	var issues []ValidationIssue

	for i, action := range actions {
		field := fmt.Sprintf("actions[%d]", i)

		switch action.Type {
		case models.ActionSendEmail, models.ActionSendSMS, models.ActionSendInApp:
			issues = append(issues, v.validateCommAction(ctx, orgID, field, action)...)

		case models.ActionAddTag, models.ActionAddFlag:
			var params models.TagParams
			if err := action.DecodeParams(&params); err != nil {
				issues = append(issues, ValidationIssue{Field: field, Message: "params are malformed"})
				break
			}
			if params.Value == "" {
				issues = append(issues, ValidationIssue{Field: field, Message: "value is required"})
			}

		case models.ActionAttachChecklist:
			var params models.ChecklistParams
			if err := action.DecodeParams(&params); err != nil {
				issues = append(issues, ValidationIssue{Field: field, Message: "params are malformed"})
				break
			}
			if params.TemplateID == 0 && params.TemplateName == "" {
				issues = append(issues, ValidationIssue{Field: field, Message: "template_id or template_name is required"})
			}

		case models.ActionCreateDraftInvoice:
			var params models.InvoiceParams
			if err := action.DecodeParams(&params); err != nil {
				issues = append(issues, ValidationIssue{Field: field, Message: "params are malformed"})
			}

		case models.ActionInternalReminder:
			var params models.ReminderParams
			if err := action.DecodeParams(&params); err != nil {
				issues = append(issues, ValidationIssue{Field: field, Message: "params are malformed"})
			}

		default:
			issues = append(issues, ValidationIssue{
				Field:   field,
				Message: fmt.Sprintf("unsupported action type %q", action.Type),
			})
		}
	}

	return issues
}

func (v *RuleValidator) validateCommAction(ctx context.Context, orgID uint, field string, action models.Action) []ValidationIssue {
	var issues []ValidationIssue

	var params models.CommParams
	if err := action.DecodeParams(&params); err != nil {
		return []ValidationIssue{{Field: field, Message: "params are malformed"}}
	}

	if params.TemplateKey == "" {
		issues = append(issues, ValidationIssue{Field: field, Message: "template_key is required"})
	}

	switch params.To {
	case models.RecipientCustomer, models.RecipientOrgAdmins, models.RecipientAssignedCrew, models.RecipientOpsTeam:
	case models.RecipientCustom:
		if params.CustomAddress == "" {
			issues = append(issues, ValidationIssue{Field: field, Message: "custom_address is required when to=custom"})
		}
	case "":
		issues = append(issues, ValidationIssue{Field: field, Message: "to is required"})
	default:
		issues = append(issues, ValidationIssue{
			Field:   field,
			Message: fmt.Sprintf("unknown recipient policy %q", params.To),
		})
	}

	if params.TemplateKey != "" {
		channel := channelForAction(action.Type)
		exists, err := v.comms.TemplateExists(ctx, orgID, params.TemplateKey, channel)
		if err != nil {
			v.logger.Error("failed to check template existence",
				zap.Uint("org_id", orgID),
				zap.String("template_key", params.TemplateKey),
				zap.Error(err))
			issues = append(issues, ValidationIssue{Field: field, Message: "could not verify template existence"})
		} else if !exists {
			issues = append(issues, ValidationIssue{
				Field:   field,
				Message: fmt.Sprintf("template %q does not exist for channel %s", params.TemplateKey, channel),
			})
		}
	}

	return issues
}

// ValidateForEnable layers the enable-time gates on top of structural
// validation: customer-facing rules need explicit confirmation, and channel
// use needs the org's channel provisioned.
func (v *RuleValidator) ValidateForEnable(ctx context.Context, rule *models.Rule, settings *models.OrgSettings) []ValidationIssue {
	issues := v.ValidateRule(ctx, rule)

	isCustomerFacing, requiresEmail, requiresSms := DeriveFlags(rule)

	if isCustomerFacing && !rule.CustomerFacingConfirmed {
		issues = append(issues, ValidationIssue{
			Field:   "customer_facing_confirmed",
			Message: "rule sends customer-facing messages and must be explicitly confirmed before enabling",
		})
	}
	if requiresEmail && (settings == nil || !settings.EmailProvisioned) {
		issues = append(issues, ValidationIssue{
			Field:   "actions",
			Message: "rule sends email but the email channel is not provisioned for this org",
		})
	}
	if requiresSms && (settings == nil || !settings.SmsProvisioned) {
		issues = append(issues, ValidationIssue{
			Field:   "actions",
			Message: "rule sends sms but the sms channel is not provisioned for this org",
		})
	}

	return issues
}

// ValidateForExecution is the cheap defensive re-check the engine runs before
// executing a matched rule. It does no I/O; a rule that fails here was
// corrupted after authoring and must not execute.
func (v *RuleValidator) ValidateForExecution(rule *models.Rule) error {
	trigger, ok := catalog.TriggerByKey(rule.TriggerKey)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTrigger, rule.TriggerKey)
	}

	for _, cond := range rule.Conditions {
		if _, ok := catalog.Lookup(cond.Key); !ok {
			return fmt.Errorf("rule %d references unknown condition %q", rule.ID, cond.Key)
		}
		if !trigger.SupportsCondition(cond.Key) {
			return fmt.Errorf("rule %d condition %q is illegal for trigger %q", rule.ID, cond.Key, trigger.Key)
		}
	}

	for _, action := range rule.Actions {
		switch action.Type {
		case models.ActionSendEmail, models.ActionSendSMS, models.ActionSendInApp,
			models.ActionAddTag, models.ActionAddFlag, models.ActionAttachChecklist,
			models.ActionCreateDraftInvoice, models.ActionInternalReminder:
		default:
			return fmt.Errorf("rule %d has unsupported action type %q", rule.ID, action.Type)
		}
	}

	return nil
}

// DeriveFlags computes the rule's derived classification from its actions.
// Custom addresses count as customer-facing: the message leaves the org and
// the author must own that explicitly.
func DeriveFlags(rule *models.Rule) (isCustomerFacing, requiresEmail, requiresSms bool) {
	for _, action := range rule.Actions {
		switch action.Type {
		case models.ActionSendEmail:
			requiresEmail = true
		case models.ActionSendSMS:
			requiresSms = true
		case models.ActionSendInApp:
		default:
			continue
		}

		var params models.CommParams
		if err := action.DecodeParams(&params); err != nil {
			continue
		}
		if params.To == models.RecipientCustomer || params.To == models.RecipientCustom {
			isCustomerFacing = true
		}
	}
	return isCustomerFacing, requiresEmail, requiresSms
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
