package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/catalog"
	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
	"github.com/Reg-Kris/pyairtable-automation-service/internal/repositories"
)

// Engine is the automation pipeline: it resolves an event against the org's
// enabled rules and drives each candidate rule through idempotent run
// creation, context resolution, condition evaluation, rate limiting and
// action execution. Rules are independent; one rule's failure never affects
// a sibling's run.
type Engine struct {
	repos     *repositories.Repositories
	resolver  ContextResolver
	evaluator *ConditionEvaluator
	keys      *IdempotencyKeyBuilder
	limiter   *RateLimiter
	executor  *ActionExecutor
	validator *RuleValidator
	metrics   *MetricsService
	logger    *zap.Logger
	nowFn     func() time.Time
}

// NewEngine creates the automation engine
func NewEngine(
	repos *repositories.Repositories,
	resolver ContextResolver,
	evaluator *ConditionEvaluator,
	keys *IdempotencyKeyBuilder,
	limiter *RateLimiter,
	executor *ActionExecutor,
	validator *RuleValidator,
	metrics *MetricsService,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		repos:     repos,
		resolver:  resolver,
		evaluator: evaluator,
		keys:      keys,
		limiter:   limiter,
		executor:  executor,
		validator: validator,
		metrics:   metrics,
		logger:    logger,
		nowFn:     time.Now,
	}
}

// IngestEvent persists a domain event and processes it synchronously. The
// returned event carries its assigned id for the caller's acknowledgement.
func (e *Engine) IngestEvent(ctx context.Context, event *models.Event) error {
	if err := e.repos.Event.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}
	return e.ProcessEvent(ctx, event.OrgID, event.ID)
}

// ProcessEvent runs the full pipeline for one stored event. Unknown events
// and unknown trigger keys are tolerated as no-ops; the error return is
// reserved for storage failures that prevented processing entirely.
func (e *Engine) ProcessEvent(ctx context.Context, orgID, eventID uint) error {
	event, err := e.repos.Event.GetByID(ctx, orgID, eventID)
	if err != nil {
		return fmt.Errorf("failed to load event %d: %w", eventID, err)
	}
	if event == nil {
		e.logger.Warn("event not found, ignoring",
			zap.Uint("org_id", orgID),
			zap.Uint("event_id", eventID))
		return nil
	}

	trigger, ok := catalog.TriggerByKey(event.EventType)
	if !ok {
		e.logger.Debug("unknown trigger key, ignoring event",
			zap.Uint("org_id", orgID),
			zap.Uint("event_id", eventID),
			zap.String("event_type", string(event.EventType)))
		return nil
	}

	e.metrics.RecordEvent(event.EventType, event.Source)

	settings, err := e.repos.Org.GetSettings(ctx, orgID)
	if err != nil {
		return fmt.Errorf("failed to load org settings: %w", err)
	}
	if settings != nil && settings.AutomationsDisabled {
		e.logger.Info("automations disabled for org, skipping event",
			zap.Uint("org_id", orgID),
			zap.Uint("event_id", eventID))
		return nil
	}

	rules, err := e.repos.Rule.ListEnabledByTrigger(ctx, orgID, event.EventType)
	if err != nil {
		return fmt.Errorf("failed to list rules for trigger %s: %w", event.EventType, err)
	}
	if len(rules) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, rule := range rules {
		wg.Add(1)
		go func(rule *models.Rule) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("panic while processing rule",
						zap.Uint("org_id", orgID),
						zap.Uint("rule_id", rule.ID),
						zap.Uint("event_id", event.ID),
						zap.Any("panic", r))
				}
			}()
			e.processRule(ctx, rule, event, trigger)
		}(rule)
	}
	wg.Wait()

	return nil
}

// processRule drives one rule through the run lifecycle. Every terminal
// outcome is persisted on the run; errors are logged here and never returned
// because sibling rules must not observe them.
func (e *Engine) processRule(ctx context.Context, rule *models.Rule, event *models.Event, trigger catalog.TriggerDefinition) {
	now := e.nowFn()
	entityID := e.keys.EntityID(event.EventType, event.Payload, event.CreatedAt)

	run := &models.Run{
		OrgID:          rule.OrgID,
		RuleID:         rule.ID,
		EventID:        event.ID,
		EventEntityID:  entityID,
		IdempotencyKey: e.keys.Key(rule.OrgID, rule.ID, entityID),
		Status:         models.RunStatusQueued,
		StartedAt:      now,
	}

	created, err := e.repos.Run.CreateIdempotent(ctx, run)
	if err != nil {
		e.logger.Error("failed to create run",
			zap.Uint("rule_id", rule.ID),
			zap.Uint("event_id", event.ID),
			zap.Error(err))
		return
	}
	if !created {
		// A run for this logical occurrence already exists; redelivery and
		// concurrent processing both land here.
		e.logger.Debug("duplicate occurrence suppressed",
			zap.Uint("rule_id", rule.ID),
			zap.Uint("event_id", event.ID),
			zap.String("entity_id", entityID))
		return
	}

	runCtx, err := e.resolver.Resolve(ctx, rule.OrgID, event)
	if err != nil {
		e.finalizeRun(ctx, run, rule, models.RunStatusFailed, fmt.Errorf("failed to resolve context: %w", err))
		return
	}

	eval := e.evaluator.Evaluate(rule.TriggerKey, rule.Conditions, event, runCtx)
	run.Matched = eval.Matched
	run.MatchDetails = eval.Details
	e.metrics.RecordEvaluation(event.EventType, eval.Matched)

	if eval.Err != nil {
		e.finalizeRun(ctx, run, rule, models.RunStatusFailed, eval.Err)
		return
	}

	if !eval.Matched {
		e.finalizeRun(ctx, run, rule, models.RunStatusSkipped, nil)
		return
	}

	if err := e.repos.Rule.TouchLastRun(ctx, rule.ID, now); err != nil {
		e.logger.Warn("failed to update rule last run", zap.Uint("rule_id", rule.ID), zap.Error(err))
	}

	if err := e.validator.ValidateForExecution(rule); err != nil {
		e.finalizeRun(ctx, run, rule, models.RunStatusFailed, err)
		return
	}

	decision, err := e.limiter.CheckLimit(ctx, rule.OrgID, rule.ID, run.ID, now)
	if err != nil {
		e.finalizeRun(ctx, run, rule, models.RunStatusFailed, fmt.Errorf("failed to check rate limit: %w", err))
		return
	}
	if decision.Limited {
		run.RateLimited = true
		e.finalizeRun(ctx, run, rule, models.RunStatusRateLimited, nil)
		return
	}

	run.Status = models.RunStatusRunning
	if err := e.repos.Run.Update(ctx, run); err != nil {
		e.finalizeRun(ctx, run, rule, models.RunStatusFailed, fmt.Errorf("failed to mark run running: %w", err))
		return
	}

	if err := e.executor.Execute(ctx, run, rule.Actions, runCtx); err != nil {
		e.finalizeRun(ctx, run, rule, models.RunStatusFailed, err)
		return
	}

	e.finalizeRun(ctx, run, rule, models.RunStatusSucceeded, nil)
}

// finalizeRun persists the run's terminal status and records metrics. The
// run row always ends terminal even when the update itself fails, in which
// case the failure is logged for repair.
func (e *Engine) finalizeRun(ctx context.Context, run *models.Run, rule *models.Rule, status models.RunStatus, cause error) {
	finished := e.nowFn()
	run.Status = status
	run.FinishedAt = &finished
	if cause != nil {
		msg := cause.Error()
		run.Error = &msg
	}

	if err := e.repos.Run.Update(ctx, run); err != nil {
		e.logger.Error("failed to finalize run",
			zap.Uint("run_id", run.ID),
			zap.String("status", string(status)),
			zap.Error(err))
	}

	e.metrics.RecordRun(rule.TriggerKey, status, finished.Sub(run.StartedAt))

	logFn := e.logger.Info
	if status == models.RunStatusFailed {
		logFn = e.logger.Warn
	}
	logFn("run finished",
		zap.Uint("org_id", run.OrgID),
		zap.Uint("rule_id", run.RuleID),
		zap.Uint("run_id", run.ID),
		zap.String("status", string(status)),
		zap.Bool("matched", run.Matched),
		zap.Error(cause))
}

// DryRunResult is the full authoring-time report for one rule draft against
// one sample event.
type DryRunResult struct {
	Matched        bool                   `json:"matched"`
	MatchDetails   models.MatchDetailList `json:"match_details"`
	ActionPreviews []ActionPreview        `json:"action_previews"`
	Warnings       []string               `json:"warnings,omitempty"`
	RuleID         *uint                  `json:"rule_id,omitempty"`
}

// DryRun evaluates a rule draft against a sample event without creating a
// run, executing actions or persisting the event. Validation problems are
// reported as warnings so authors see evaluation results alongside them.
// When saveDraft is set the draft is persisted disabled and its id returned.
func (e *Engine) DryRun(ctx context.Context, orgID uint, rule *models.Rule, sampleEvent *models.Event, saveDraft bool) (*DryRunResult, error) {
	e.metrics.RecordDryRun()

	result := &DryRunResult{}

	for _, issue := range e.validator.ValidateRule(ctx, rule) {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %s", issue.Field, issue.Message))
	}

	runCtx, err := e.resolver.Resolve(ctx, orgID, sampleEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve context: %w", err)
	}

	eval := e.evaluator.Evaluate(rule.TriggerKey, rule.Conditions, sampleEvent, runCtx)
	result.Matched = eval.Matched
	result.MatchDetails = eval.Details
	if eval.Err != nil {
		result.Warnings = append(result.Warnings, eval.Err.Error())
	}

	result.ActionPreviews = e.executor.Preview(ctx, orgID, rule.Actions, runCtx)

	if saveDraft {
		rule.OrgID = orgID
		rule.Enabled = false
		rule.IsCustomerFacing, rule.RequiresEmail, rule.RequiresSms = DeriveFlags(rule)
		if err := e.repos.Rule.Create(ctx, rule); err != nil {
			return nil, fmt.Errorf("failed to save draft rule: %w", err)
		}
		result.RuleID = &rule.ID
	}

	return result, nil
}
