package services

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/config"
	"github.com/Reg-Kris/pyairtable-automation-service/internal/repositories"
)

// Services wires the engine's collaborators together and exposes the
// surfaces the transport layer consumes.
type Services struct {
	Rules     *RuleService
	Engine    *Engine
	Validator *RuleValidator
	Listener  *EventListener
	Scheduler *DailyScheduler
	Metrics   *MetricsService

	repos  *repositories.Repositories
	logger *zap.Logger
}

// New constructs the full service graph. The metrics service may be nil in
// tests; every collaborator records through nil-safe methods.
func New(repos *repositories.Repositories, redisClient *redis.Client, cfg *config.Config, metrics *MetricsService, logger *zap.Logger) *Services {
	validator := NewRuleValidator(repos.Comm, logger)
	evaluator := NewConditionEvaluator(logger)
	keys := NewIdempotencyKeyBuilder(cfg.Engine.ProgressBucket)
	limiter := NewRateLimiter(repos.Run, cfg.Engine.HourlyRunLimit, cfg.Engine.DailyRunLimit, logger)
	resolver := NewContextResolver(repos, logger)
	comms := NewOutboxCommsGateway(repos.Comm, logger)
	audit := NewAuditService(repos.Audit, cfg.Engine.AuditSecret, logger)
	executor := NewActionExecutor(repos, comms, audit, metrics, cfg.Engine.AppBaseURL, logger)

	engine := NewEngine(repos, resolver, evaluator, keys, limiter, executor, validator, metrics, logger)

	return &Services{
		Rules:     NewRuleService(repos, validator, logger),
		Engine:    engine,
		Validator: validator,
		Listener:  NewEventListener(redisClient, engine, cfg.Engine.EventChannel, cfg.Engine.EventsPerSecond, cfg.Engine.EventBurst, logger),
		Scheduler: NewDailyScheduler(engine, repos, cfg.Engine.DailyTriggerHour, logger),
		Metrics:   metrics,
		repos:     repos,
		logger:    logger,
	}
}
