package catalog

import (
	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
)

// ValueType describes the expected type of a condition's configured value
type ValueType string

const (
	ValueEnum       ValueType = "enum"
	ValueNumber     ValueType = "number"
	ValueBoolean    ValueType = "boolean"
	ValuePercentage ValueType = "percentage"
	ValueHours      ValueType = "hours"
	ValueText       ValueType = "text"
)

// Predicate identifies which comparison the evaluator applies for a condition
type Predicate string

const (
	PredicateEnumEquals   Predicate = "enum_equals"
	PredicateTagMember    Predicate = "tag_member"
	PredicateBoolPresence Predicate = "bool_presence"
	PredicateThreshold    Predicate = "threshold"
	PredicateContains     Predicate = "contains"
	PredicateTimeWindow   Predicate = "time_window"
	PredicateLocalHour    Predicate = "local_hour"
	PredicateOrgAggregate Predicate = "org_aggregate"
)

// Threshold operators accepted on numeric conditions
const (
	OperatorGTE = "gte"
	OperatorLTE = "lte"
	OperatorLT  = "lt"
	OperatorGT  = "gt"
)

// Condition keys
const (
	CondNewStatusEquals      = "job.new_status_equals"
	CondPreviousStatusEquals = "job.previous_status_equals"
	CondProgressAtLeast      = "job.progress_at_least"
	CondProgressBelow        = "job.progress_below"
	CondJobHasTag            = "job.has_tag"
	CondJobTitleContains     = "job.title_contains"
	CondScheduledWithinHours = "job.scheduled_within_hours"
	CondCrewMemberAssigned   = "job.crew_member_assigned"
	CondHasPrimaryContact    = "job.has_primary_contact"
	CondStockBelow           = "material.stock_below"
	CondMaterialNameContains = "material.name_contains"
	CondInvoiceAmountAtLeast = "invoice.amount_at_least"
	CondOpenJobsExist        = "org.open_jobs_exist"
	CondLocalHourEquals      = "time.local_hour_equals"
)

// ConditionDefinition is the typed schema entry for one condition key
type ConditionDefinition struct {
	Key             string    `json:"key"`
	Label           string    `json:"label"`
	ValueType       ValueType `json:"value_type"`
	Predicate       Predicate `json:"-"`
	DefaultOperator string    `json:"default_operator,omitempty"`
	Operators       []string  `json:"operators,omitempty"`
	Min             *float64  `json:"min,omitempty"`
	Max             *float64  `json:"max,omitempty"`
	Step            float64   `json:"step,omitempty"`
	EnumValues      []string  `json:"enum_values,omitempty"`
	DynamicSource   string    `json:"dynamic_source,omitempty"`

	NeedsJobContext      bool `json:"needs_job_context"`
	NeedsMaterialContext bool `json:"needs_material_context"`
	NeedsBillingContext  bool `json:"needs_billing_context"`
}

// AllowsOperator reports whether the given operator override is legal
func (d ConditionDefinition) AllowsOperator(op string) bool {
	if op == "" || op == d.DefaultOperator {
		return true
	}
	for _, allowed := range d.Operators {
		if allowed == op {
			return true
		}
	}
	return false
}

// TriggerDefinition describes one event category rules can subscribe to,
// including the ordered set of condition keys legal for it. This is the
// single source of truth for trigger/condition compatibility, consumed by
// authoring-time validation and runtime evaluation alike.
type TriggerDefinition struct {
	Key              models.TriggerKey `json:"key"`
	Version          int               `json:"version"`
	Label            string            `json:"label"`
	SupportsJob      bool              `json:"supports_job"`
	SupportsMaterial bool              `json:"supports_material"`
	SupportsBilling  bool              `json:"supports_billing"`
	ConditionKeys    []string          `json:"condition_keys"`

	// RequiredConditionKeys lists keys of which at least one must be present
	// for a rule on this trigger to be unambiguous (empty means none).
	RequiredConditionKeys []string `json:"required_condition_keys,omitempty"`
}

// SupportsCondition reports whether the condition key is legal for the trigger
func (t TriggerDefinition) SupportsCondition(key string) bool {
	for _, k := range t.ConditionKeys {
		if k == key {
			return true
		}
	}
	return false
}

func floatPtr(v float64) *float64 { return &v }

var jobStatusValues = []string{
	string(models.JobStatusScheduled),
	string(models.JobStatusInProgress),
	string(models.JobStatusOnHold),
	string(models.JobStatusCompleted),
	string(models.JobStatusCancelled),
}

var conditionDefinitions = []ConditionDefinition{
	{
		Key:             CondNewStatusEquals,
		Label:           "Job status changed to",
		ValueType:       ValueEnum,
		Predicate:       PredicateEnumEquals,
		EnumValues:      jobStatusValues,
		NeedsJobContext: true,
	},
	{
		Key:             CondPreviousStatusEquals,
		Label:           "Job status changed from",
		ValueType:       ValueEnum,
		Predicate:       PredicateEnumEquals,
		EnumValues:      jobStatusValues,
		NeedsJobContext: true,
	},
	{
		Key:             CondProgressAtLeast,
		Label:           "Job progress is at least",
		ValueType:       ValuePercentage,
		Predicate:       PredicateThreshold,
		DefaultOperator: OperatorGTE,
		Operators:       []string{OperatorGTE},
		Min:             floatPtr(0),
		Max:             floatPtr(100),
		Step:            5,
		NeedsJobContext: true,
	},
	{
		Key:             CondProgressBelow,
		Label:           "Job progress is below",
		ValueType:       ValuePercentage,
		Predicate:       PredicateThreshold,
		DefaultOperator: OperatorLT,
		Operators:       []string{OperatorLT, OperatorLTE},
		Min:             floatPtr(0),
		Max:             floatPtr(100),
		Step:            5,
		NeedsJobContext: true,
	},
	{
		Key:             CondJobHasTag,
		Label:           "Job has tag",
		ValueType:       ValueText,
		Predicate:       PredicateTagMember,
		NeedsJobContext: true,
	},
	{
		Key:             CondJobTitleContains,
		Label:           "Job title contains",
		ValueType:       ValueText,
		Predicate:       PredicateContains,
		NeedsJobContext: true,
	},
	{
		Key:             CondScheduledWithinHours,
		Label:           "Job scheduled to start within hours",
		ValueType:       ValueHours,
		Predicate:       PredicateTimeWindow,
		Min:             floatPtr(1),
		Max:             floatPtr(168),
		NeedsJobContext: true,
	},
	{
		Key:             CondCrewMemberAssigned,
		Label:           "Crew member is assigned",
		ValueType:       ValueEnum,
		Predicate:       PredicateTagMember,
		DynamicSource:   "crew_roster",
		NeedsJobContext: true,
	},
	{
		Key:             CondHasPrimaryContact,
		Label:           "Job has a primary contact",
		ValueType:       ValueBoolean,
		Predicate:       PredicateBoolPresence,
		NeedsJobContext: true,
	},
	{
		Key:                  CondStockBelow,
		Label:                "Available stock is below",
		ValueType:            ValueNumber,
		Predicate:            PredicateThreshold,
		DefaultOperator:      OperatorLT,
		Operators:            []string{OperatorLT, OperatorLTE},
		Min:                  floatPtr(0),
		NeedsMaterialContext: true,
	},
	{
		Key:                  CondMaterialNameContains,
		Label:                "Material name contains",
		ValueType:            ValueText,
		Predicate:            PredicateContains,
		NeedsMaterialContext: true,
	},
	{
		Key:                 CondInvoiceAmountAtLeast,
		Label:               "Invoice amount (cents) is at least",
		ValueType:           ValueNumber,
		Predicate:           PredicateThreshold,
		DefaultOperator:     OperatorGTE,
		Operators:           []string{OperatorGTE},
		Min:                 floatPtr(0),
		NeedsBillingContext: true,
	},
	{
		Key:       CondOpenJobsExist,
		Label:     "Org has open jobs",
		ValueType: ValueBoolean,
		Predicate: PredicateOrgAggregate,
	},
	{
		Key:       CondLocalHourEquals,
		Label:     "Org-local hour equals",
		ValueType: ValueNumber,
		Predicate: PredicateLocalHour,
		Min:       floatPtr(0),
		Max:       floatPtr(23),
	},
}

var triggerDefinitions = []TriggerDefinition{
	{
		Key:         models.TriggerJobStatusUpdated,
		Version:     1,
		Label:       "Job status updated",
		SupportsJob: true,
		ConditionKeys: []string{
			CondNewStatusEquals,
			CondPreviousStatusEquals,
			CondJobHasTag,
			CondJobTitleContains,
			CondScheduledWithinHours,
			CondCrewMemberAssigned,
			CondHasPrimaryContact,
			CondLocalHourEquals,
		},
		RequiredConditionKeys: []string{CondNewStatusEquals, CondPreviousStatusEquals},
	},
	{
		Key:         models.TriggerJobProgressUpdated,
		Version:     1,
		Label:       "Job progress updated",
		SupportsJob: true,
		ConditionKeys: []string{
			CondProgressAtLeast,
			CondProgressBelow,
			CondJobHasTag,
			CondJobTitleContains,
			CondCrewMemberAssigned,
			CondLocalHourEquals,
		},
		RequiredConditionKeys: []string{CondProgressAtLeast, CondProgressBelow},
	},
	{
		Key:         models.TriggerJobAssigned,
		Version:     1,
		Label:       "Crew assigned to job",
		SupportsJob: true,
		ConditionKeys: []string{
			CondCrewMemberAssigned,
			CondJobHasTag,
			CondJobTitleContains,
			CondScheduledWithinHours,
			CondHasPrimaryContact,
			CondLocalHourEquals,
		},
	},
	{
		Key:              models.TriggerMaterialStockLow,
		Version:          1,
		Label:            "Material stock low",
		SupportsMaterial: true,
		ConditionKeys: []string{
			CondStockBelow,
			CondMaterialNameContains,
			CondLocalHourEquals,
		},
	},
	{
		Key:             models.TriggerInvoicePaid,
		Version:         1,
		Label:           "Invoice paid",
		SupportsJob:     true,
		SupportsBilling: true,
		ConditionKeys: []string{
			CondInvoiceAmountAtLeast,
			CondJobHasTag,
			CondJobTitleContains,
			CondLocalHourEquals,
		},
	},
	{
		Key:     models.TriggerTimeDaily,
		Version: 1,
		Label:   "Daily schedule",
		ConditionKeys: []string{
			CondOpenJobsExist,
			CondLocalHourEquals,
		},
	},
}

var (
	conditionIndex = make(map[string]ConditionDefinition, len(conditionDefinitions))
	triggerIndex   = make(map[models.TriggerKey]TriggerDefinition, len(triggerDefinitions))
)

func init() {
	for _, def := range conditionDefinitions {
		conditionIndex[def.Key] = def
	}
	for _, def := range triggerDefinitions {
		triggerIndex[def.Key] = def
	}
}

// Lookup returns the condition definition for a key
func Lookup(key string) (ConditionDefinition, bool) {
	def, ok := conditionIndex[key]
	return def, ok
}

// TriggerByKey returns the trigger definition for a key
func TriggerByKey(key models.TriggerKey) (TriggerDefinition, bool) {
	def, ok := triggerIndex[key]
	return def, ok
}

// ConditionKeysForTrigger returns the ordered condition keys legal for a
// trigger, or nil for an unknown trigger.
func ConditionKeysForTrigger(key models.TriggerKey) []string {
	def, ok := triggerIndex[key]
	if !ok {
		return nil
	}
	keys := make([]string, len(def.ConditionKeys))
	copy(keys, def.ConditionKeys)
	return keys
}

// Triggers returns all trigger definitions in declaration order
func Triggers() []TriggerDefinition {
	defs := make([]TriggerDefinition, len(triggerDefinitions))
	copy(defs, triggerDefinitions)
	return defs
}

// Conditions returns all condition definitions in declaration order
func Conditions() []ConditionDefinition {
	defs := make([]ConditionDefinition, len(conditionDefinitions))
	copy(defs, conditionDefinitions)
	return defs
}
