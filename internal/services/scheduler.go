package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
	"github.com/Reg-Kris/pyairtable-automation-service/internal/repositories"
)

// DailyScheduler synthesizes the time.daily event for each active org at the
// configured hour in the org's local timezone. The tick runs hourly; the
// payload day keys the idempotent run, so a double fire within the same
// local day cannot produce duplicate runs.
type DailyScheduler struct {
	engine *Engine
	repos  *repositories.Repositories
	cron   *cron.Cron
	hour   int
	logger *zap.Logger
	nowFn  func() time.Time
}

// NewDailyScheduler creates the daily trigger scheduler firing at the given
// org-local hour (0-23).
func NewDailyScheduler(engine *Engine, repos *repositories.Repositories, hour int, logger *zap.Logger) *DailyScheduler {
	return &DailyScheduler{
		engine: engine,
		repos:  repos,
		cron:   cron.New(),
		hour:   hour,
		logger: logger,
		nowFn:  time.Now,
	}
}

// Start registers the hourly tick and starts the cron loop
func (s *DailyScheduler) Start() error {
	if _, err := s.cron.AddFunc("0 * * * *", s.tick); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("daily scheduler started", zap.Int("org_local_hour", s.hour))
	return nil
}

// Stop halts the cron loop and returns a context that is done once any
// in-flight tick has finished.
func (s *DailyScheduler) Stop() context.Context {
	return s.cron.Stop()
}

// tick fans the daily trigger out to every org whose local clock is at the
// configured hour right now.
func (s *DailyScheduler) tick() {
	ctx := context.Background()

	orgIDs, err := s.repos.Org.ListActiveOrgIDs(ctx)
	if err != nil {
		s.logger.Error("failed to list orgs for daily trigger", zap.Error(err))
		return
	}

	for _, orgID := range orgIDs {
		if err := s.emitDaily(ctx, orgID); err != nil {
			s.logger.Error("failed to emit daily trigger",
				zap.Uint("org_id", orgID),
				zap.Error(err))
		}
	}
}

func (s *DailyScheduler) emitDaily(ctx context.Context, orgID uint) error {
	settings, err := s.repos.Org.GetSettings(ctx, orgID)
	if err != nil {
		return err
	}
	if settings != nil && settings.AutomationsDisabled {
		return nil
	}

	localNow := s.nowFn().In(settings.Location())
	if localNow.Hour() != s.hour {
		return nil
	}

	event := &models.Event{
		OrgID:     orgID,
		EventType: models.TriggerTimeDaily,
		Payload:   models.JSONMap{"day": localNow.Format("2006-01-02")},
		Source:    "scheduler",
	}

	s.logger.Debug("emitting daily trigger",
		zap.Uint("org_id", orgID),
		zap.String("day", localNow.Format("2006-01-02")))

	return s.engine.IngestEvent(ctx, event)
}
