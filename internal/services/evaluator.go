package services

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/catalog"
	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
)

// EvalResult is the outcome of evaluating a rule's condition list
type EvalResult struct {
	Matched bool
	Details models.MatchDetailList
	Err     error
}

// ConditionEvaluator walks a rule's condition list against a resolved
// context plus the raw event payload. Evaluation is pure: the only inputs
// are the event, the context and the clock.
type ConditionEvaluator struct {
	logger *zap.Logger
	nowFn  func() time.Time
}

// NewConditionEvaluator creates a condition evaluator
func NewConditionEvaluator(logger *zap.Logger) *ConditionEvaluator {
	return &ConditionEvaluator{
		logger: logger,
		nowFn:  time.Now,
	}
}

// Evaluate judges every condition in order, recording a per-condition trace.
// An unknown condition key or missing required context short-circuits the
// rule with ErrConditionContextMissing, which callers must record as a
// failure distinct from a normal non-match. An empty condition list matches.
func (e *ConditionEvaluator) Evaluate(trigger models.TriggerKey, conditions models.ConditionList, event *models.Event, runCtx *models.RunContext) EvalResult {
	details := make(models.MatchDetailList, 0, len(conditions))

	for _, cond := range conditions {
		def, ok := catalog.Lookup(cond.Key)
		if !ok {
			details = append(details, models.MatchDetail{
				Key:      cond.Key,
				Expected: cond.Value,
				Passed:   false,
			})
			return EvalResult{
				Details: details,
				Err:     fmt.Errorf("%w: unknown condition key %q", ErrConditionContextMissing, cond.Key),
			}
		}

		if missing := missingContext(def, runCtx); missing != "" {
			details = append(details, models.MatchDetail{
				Key:       cond.Key,
				Expected:  cond.Value,
				Evaluated: "missing",
				Passed:    false,
			})
			return EvalResult{
				Details: details,
				Err:     fmt.Errorf("%w: condition %q requires %s context", ErrConditionContextMissing, cond.Key, missing),
			}
		}

		passed, evaluated := e.evaluateCondition(def, cond, event, runCtx)
		details = append(details, models.MatchDetail{
			Key:       cond.Key,
			Expected:  cond.Value,
			Evaluated: evaluated,
			Passed:    passed,
		})
	}

	matched := true
	for _, d := range details {
		if !d.Passed {
			matched = false
			break
		}
	}

	return EvalResult{Matched: matched, Details: details}
}

// missingContext returns the name of the first context requirement the
// resolved context does not satisfy, or "" when all are met.
func missingContext(def catalog.ConditionDefinition, runCtx *models.RunContext) string {
	if def.NeedsJobContext && !runCtx.HasJob() {
		return "job"
	}
	if def.NeedsMaterialContext && !runCtx.HasMaterial() {
		return "material"
	}
	if def.NeedsBillingContext && !runCtx.HasBilling() {
		return "billing"
	}
	return ""
}

func (e *ConditionEvaluator) evaluateCondition(def catalog.ConditionDefinition, cond models.Condition, event *models.Event, runCtx *models.RunContext) (bool, interface{}) {
	switch def.Predicate {
	case catalog.PredicateEnumEquals:
		observed := e.observedEnum(cond.Key, event)
		return observed == toString(cond.Value), observed

	case catalog.PredicateTagMember:
		return e.evaluateMembership(cond, runCtx)

	case catalog.PredicateBoolPresence:
		observed := runCtx.PrimaryContact != nil
		return observed == toBool(cond.Value, true), observed

	case catalog.PredicateThreshold:
		observed, ok := e.observedNumber(cond.Key, event, runCtx)
		if !ok {
			return false, nil
		}
		threshold, ok := toFloat64(cond.Value)
		if !ok {
			return false, observed
		}
		operator := cond.Operator
		if operator == "" {
			operator = def.DefaultOperator
		}
		return compareNumeric(observed, operator, threshold), observed

	case catalog.PredicateContains:
		observed := e.observedText(cond.Key, runCtx)
		needle := toString(cond.Value)
		return needle != "" && strings.Contains(strings.ToLower(observed), strings.ToLower(needle)), observed

	case catalog.PredicateTimeWindow:
		hours, ok := toFloat64(cond.Value)
		if !ok {
			return false, nil
		}
		start := runCtx.Facts.ScheduleStart
		if start == nil && runCtx.Job != nil {
			start = runCtx.Job.ScheduleStart
		}
		if start == nil {
			return false, nil
		}
		now := e.nowFn().UTC()
		windowEnd := now.Add(time.Duration(hours * float64(time.Hour)))
		inWindow := !start.Before(now) && !start.After(windowEnd)
		return inWindow, start.Format(time.RFC3339)

	case catalog.PredicateLocalHour:
		expected, ok := toFloat64(cond.Value)
		if !ok {
			return false, nil
		}
		hour := e.nowFn().In(runCtx.Org.Location()).Hour()
		return hour == int(expected), hour

	case catalog.PredicateOrgAggregate:
		observed := runCtx.Facts.OpenJobCount > 0
		return observed == toBool(cond.Value, true), observed

	default:
		e.logger.Warn("condition has no evaluatable predicate",
			zap.String("key", cond.Key),
			zap.String("predicate", string(def.Predicate)))
		return false, nil
	}
}

// observedEnum extracts the payload field an enum condition inspects
func (e *ConditionEvaluator) observedEnum(key string, event *models.Event) string {
	switch key {
	case catalog.CondNewStatusEquals:
		return payloadString(event.Payload, "status")
	case catalog.CondPreviousStatusEquals:
		return payloadString(event.Payload, "previous_status")
	default:
		return ""
	}
}

// observedNumber extracts the numeric observation for a threshold condition.
// Payload values win over context values so the evaluation reflects the
// event that triggered it.
func (e *ConditionEvaluator) observedNumber(key string, event *models.Event, runCtx *models.RunContext) (float64, bool) {
	switch key {
	case catalog.CondProgressAtLeast, catalog.CondProgressBelow:
		if progress, ok := payloadFloat(event.Payload, "progress"); ok {
			return progress, true
		}
		if runCtx.Job != nil {
			return runCtx.Job.Progress, true
		}
		return 0, false

	case catalog.CondStockBelow:
		if runCtx.Facts.StockAvailable != nil {
			return *runCtx.Facts.StockAvailable, true
		}
		if runCtx.Material != nil {
			return runCtx.Material.StockQuantity - runCtx.Material.ReservedQuantity, true
		}
		return 0, false

	case catalog.CondInvoiceAmountAtLeast:
		if runCtx.Invoice != nil {
			return float64(runCtx.Invoice.AmountCents), true
		}
		return 0, false

	default:
		return 0, false
	}
}

// observedText extracts the string a containment condition inspects
func (e *ConditionEvaluator) observedText(key string, runCtx *models.RunContext) string {
	switch key {
	case catalog.CondJobTitleContains:
		if runCtx.Job != nil {
			return runCtx.Job.Title
		}
	case catalog.CondMaterialNameContains:
		if runCtx.Material != nil {
			return runCtx.Material.Name
		}
	}
	return ""
}

// evaluateMembership handles tag-set and crew-roster membership conditions
func (e *ConditionEvaluator) evaluateMembership(cond models.Condition, runCtx *models.RunContext) (bool, interface{}) {
	switch cond.Key {
	case catalog.CondJobHasTag:
		if runCtx.Job == nil {
			return false, nil
		}
		return runCtx.Job.HasTag(toString(cond.Value)), []string(runCtx.Job.Tags)

	case catalog.CondCrewMemberAssigned:
		if runCtx.CrewAssignment == nil {
			return false, nil
		}
		memberID, ok := toFloat64(cond.Value)
		if !ok {
			return false, nil
		}
		members := make([]int64, len(runCtx.CrewAssignment.MemberIDs))
		copy(members, runCtx.CrewAssignment.MemberIDs)
		for _, id := range members {
			if id == int64(memberID) {
				return true, members
			}
		}
		return false, members

	default:
		return false, nil
	}
}

// compareNumeric applies a threshold operator to two float64 values
func compareNumeric(observed float64, operator string, threshold float64) bool {
	switch operator {
	case catalog.OperatorGTE:
		return observed >= threshold
	case catalog.OperatorLTE:
		return observed <= threshold
	case catalog.OperatorGT:
		return observed > threshold
	case catalog.OperatorLT:
		return observed < threshold
	default:
		return false
	}
}
