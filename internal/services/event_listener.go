package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// eventMessage is the wire shape published on the domain event channel
type eventMessage struct {
	OrgID   uint `json:"org_id"`
	EventID uint `json:"event_id"`
}

// EventListener consumes the shared domain event feed from Redis pub/sub and
// hands each event to the engine. Ingestion is throttled per org with a
// token bucket; a bursty org waits for tokens, it is never dropped.
type EventListener struct {
	redis    *redis.Client
	engine   *Engine
	channel  string
	perOrg   rate.Limit
	burst    int
	limiters sync.Map // map[uint]*rate.Limiter
	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewEventListener creates the domain event feed listener
func NewEventListener(redisClient *redis.Client, engine *Engine, channel string, eventsPerSecond float64, burst int, logger *zap.Logger) *EventListener {
	return &EventListener{
		redis:   redisClient,
		engine:  engine,
		channel: channel,
		perOrg:  rate.Limit(eventsPerSecond),
		burst:   burst,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Start subscribes to the event channel and blocks until the context is
// cancelled or Stop is called. Malformed messages are logged and dropped;
// engine errors are logged and do not stop the feed.
func (l *EventListener) Start(ctx context.Context) error {
	if l.redis == nil {
		return errors.New("event listener requires a redis client")
	}

	pubsub := l.redis.Subscribe(ctx, l.channel)
	defer pubsub.Close()

	// Fail fast when the subscription itself cannot be established.
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	l.logger.Info("event listener started", zap.String("channel", l.channel))

	messages := pubsub.Channel()
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stopCh:
			return nil
		case msg, ok := <-messages:
			if !ok {
				return errors.New("event channel closed")
			}

			var em eventMessage
			if err := json.Unmarshal([]byte(msg.Payload), &em); err != nil {
				l.logger.Warn("malformed event message", zap.String("payload", msg.Payload), zap.Error(err))
				continue
			}
			if em.OrgID == 0 || em.EventID == 0 {
				l.logger.Warn("event message missing org_id or event_id", zap.String("payload", msg.Payload))
				continue
			}

			wg.Add(1)
			go func(em eventMessage) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						l.logger.Error("panic while handling event",
							zap.Uint("org_id", em.OrgID),
							zap.Uint("event_id", em.EventID),
							zap.Any("panic", r))
					}
				}()
				l.handle(ctx, em)
			}(em)
		}
	}
}

// Stop terminates the listener loop. Safe to call more than once.
func (l *EventListener) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *EventListener) handle(ctx context.Context, em eventMessage) {
	limiter := l.limiterFor(em.OrgID)
	if err := limiter.Wait(ctx); err != nil {
		l.logger.Warn("abandoned event during shutdown",
			zap.Uint("org_id", em.OrgID),
			zap.Uint("event_id", em.EventID),
			zap.Error(err))
		return
	}

	if err := l.engine.ProcessEvent(ctx, em.OrgID, em.EventID); err != nil {
		l.logger.Error("failed to process event",
			zap.Uint("org_id", em.OrgID),
			zap.Uint("event_id", em.EventID),
			zap.Error(err))
	}
}

// limiterFor gets or creates the org's ingestion token bucket
func (l *EventListener) limiterFor(orgID uint) *rate.Limiter {
	if limiter, ok := l.limiters.Load(orgID); ok {
		return limiter.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(l.perOrg, l.burst)
	actual, _ := l.limiters.LoadOrStore(orgID, limiter)
	return actual.(*rate.Limiter)
}
