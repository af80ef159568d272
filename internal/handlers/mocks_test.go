package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
)

// Map-backed repository stubs. Service and engine semantics are covered by
// the services package tests; these hold just enough state to drive the HTTP
// surface against the real service graph.

type stubRuleRepo struct {
	mu     sync.Mutex
	rules  map[uint]*models.Rule
	nextID uint
}

func newStubRuleRepo() *stubRuleRepo {
	return &stubRuleRepo{rules: make(map[uint]*models.Rule), nextID: 1}
}

func (s *stubRuleRepo) Create(ctx context.Context, rule *models.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule.ID = s.nextID
	s.nextID++
	rule.CreatedAt = time.Now()
	copied := *rule
	s.rules[rule.ID] = &copied
	return nil
}

func (s *stubRuleRepo) GetByID(ctx context.Context, orgID, id uint) (*models.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[id]
	if !ok || rule.OrgID != orgID {
		return nil, nil
	}
	copied := *rule
	return &copied, nil
}

func (s *stubRuleRepo) ListByOrg(ctx context.Context, orgID uint, limit, offset int) ([]*models.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rules []*models.Rule
	for _, rule := range s.rules {
		if rule.OrgID == orgID {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

func (s *stubRuleRepo) ListEnabledByTrigger(ctx context.Context, orgID uint, trigger models.TriggerKey) ([]*models.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rules []*models.Rule
	for _, rule := range s.rules {
		if rule.OrgID == orgID && rule.Enabled && rule.TriggerKey == trigger {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

func (s *stubRuleRepo) Update(ctx context.Context, rule *models.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *rule
	s.rules[rule.ID] = &copied
	return nil
}

func (s *stubRuleRepo) Delete(ctx context.Context, orgID, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, id)
	return nil
}

func (s *stubRuleRepo) TouchLastRun(ctx context.Context, id uint, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule, ok := s.rules[id]; ok {
		rule.LastRunAt = &at
	}
	return nil
}

type stubRunRepo struct {
	mu     sync.Mutex
	runs   map[uint]*models.Run
	byKey  map[string]uint
	steps  map[uint]*models.RunStep
	nextID uint
}

func newStubRunRepo() *stubRunRepo {
	return &stubRunRepo{
		runs:   make(map[uint]*models.Run),
		byKey:  make(map[string]uint),
		steps:  make(map[uint]*models.RunStep),
		nextID: 1,
	}
}

func (s *stubRunRepo) CreateIdempotent(ctx context.Context, run *models.Run) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byKey[run.IdempotencyKey]; exists {
		return false, nil
	}
	run.ID = s.nextID
	s.nextID++
	run.CreatedAt = time.Now()
	copied := *run
	s.runs[run.ID] = &copied
	s.byKey[run.IdempotencyKey] = run.ID
	return true, nil
}

func (s *stubRunRepo) GetByID(ctx context.Context, orgID, id uint) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.OrgID != orgID {
		return nil, nil
	}
	return run, nil
}

func (s *stubRunRepo) Update(ctx context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *run
	s.runs[run.ID] = &copied
	return nil
}

func (s *stubRunRepo) ListByRule(ctx context.Context, orgID, ruleID uint, limit, offset int) ([]*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var runs []*models.Run
	for _, run := range s.runs {
		if run.OrgID == orgID && run.RuleID == ruleID {
			runs = append(runs, run)
		}
	}
	return runs, nil
}

func (s *stubRunRepo) CountWindow(ctx context.Context, ruleID, excludeRunID uint, hourStart, dayStart time.Time) (int64, int64, error) {
	return 0, 0, nil
}

func (s *stubRunRepo) GetStats(ctx context.Context, orgID, ruleID uint) (*models.RunStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &models.RunStats{}
	for _, run := range s.runs {
		if run.OrgID != orgID || run.RuleID != ruleID {
			continue
		}
		stats.Total++
		if run.Matched {
			stats.Matched++
		}
		switch run.Status {
		case models.RunStatusSucceeded:
			stats.Succeeded++
		case models.RunStatusFailed:
			stats.Failed++
		case models.RunStatusSkipped:
			stats.Skipped++
		case models.RunStatusRateLimited:
			stats.RateLimited++
		}
	}
	return stats, nil
}

func (s *stubRunRepo) CreateStep(ctx context.Context, step *models.RunStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	step.ID = s.nextID
	s.nextID++
	copied := *step
	s.steps[step.ID] = &copied
	return nil
}

func (s *stubRunRepo) UpdateStep(ctx context.Context, step *models.RunStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *step
	s.steps[step.ID] = &copied
	return nil
}

func (s *stubRunRepo) ListSteps(ctx context.Context, runID uint) ([]*models.RunStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var steps []*models.RunStep
	for _, step := range s.steps {
		if step.RunID == runID {
			steps = append(steps, step)
		}
	}
	for i := 0; i < len(steps); i++ {
		for j := i + 1; j < len(steps); j++ {
			if steps[j].StepIndex < steps[i].StepIndex {
				steps[i], steps[j] = steps[j], steps[i]
			}
		}
	}
	return steps, nil
}

func (s *stubRunRepo) allRuns() []*models.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := make([]*models.Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	return runs
}

type stubEventRepo struct {
	mu     sync.Mutex
	events map[uint]*models.Event
	nextID uint
}

func newStubEventRepo() *stubEventRepo {
	return &stubEventRepo{events: make(map[uint]*models.Event), nextID: 1}
}

func (s *stubEventRepo) Create(ctx context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.ID = s.nextID
	s.nextID++
	event.CreatedAt = time.Now()
	s.events[event.ID] = event
	return nil
}

func (s *stubEventRepo) GetByID(ctx context.Context, orgID, id uint) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok || event.OrgID != orgID {
		return nil, nil
	}
	return event, nil
}

type stubJobRepo struct {
	mu   sync.Mutex
	jobs map[uint]*models.Job
}

func newStubJobRepo() *stubJobRepo {
	return &stubJobRepo{jobs: make(map[uint]*models.Job)}
}

func (s *stubJobRepo) GetByID(ctx context.Context, orgID, id uint) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.OrgID != orgID {
		return nil, nil
	}
	copied := *job
	return &copied, nil
}

func (s *stubJobRepo) Update(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *stubJobRepo) GetAssignment(ctx context.Context, orgID, jobID uint) (*models.CrewAssignment, error) {
	return nil, nil
}

func (s *stubJobRepo) MaxTaskSortOrder(ctx context.Context, jobID uint) (int, error) {
	return 0, nil
}

func (s *stubJobRepo) CreateTasks(ctx context.Context, tasks []*models.JobTask) error {
	return nil
}

func (s *stubJobRepo) CountOpenByOrg(ctx context.Context, orgID uint) (int64, error) {
	return 0, nil
}

type stubOrgRepo struct {
	settings map[uint]*models.OrgSettings
	users    []models.OrgUser
}

func newStubOrgRepo() *stubOrgRepo {
	return &stubOrgRepo{settings: make(map[uint]*models.OrgSettings)}
}

func (s *stubOrgRepo) GetSettings(ctx context.Context, orgID uint) (*models.OrgSettings, error) {
	return s.settings[orgID], nil
}

func (s *stubOrgRepo) ListUsers(ctx context.Context, orgID uint) ([]models.OrgUser, error) {
	var users []models.OrgUser
	for _, user := range s.users {
		if user.OrgID == orgID {
			users = append(users, user)
		}
	}
	return users, nil
}

func (s *stubOrgRepo) ListUsersByRole(ctx context.Context, orgID uint, role models.OrgRole) ([]models.OrgUser, error) {
	var users []models.OrgUser
	for _, user := range s.users {
		if user.OrgID == orgID && user.Role == role {
			users = append(users, user)
		}
	}
	return users, nil
}

func (s *stubOrgRepo) ListActiveOrgIDs(ctx context.Context) ([]uint, error) {
	ids := make([]uint, 0, len(s.settings))
	for id := range s.settings {
		ids = append(ids, id)
	}
	return ids, nil
}

type stubCommRepo struct {
	mu        sync.Mutex
	templates map[string]*models.CommTemplate
	outbox    []*models.OutboxEntry
}

func newStubCommRepo() *stubCommRepo {
	return &stubCommRepo{templates: make(map[string]*models.CommTemplate)}
}

func stubTemplateKey(orgID uint, key string, channel models.CommChannel) string {
	return fmt.Sprintf("%d|%s|%s", orgID, key, channel)
}

func (s *stubCommRepo) addTemplate(t *models.CommTemplate) {
	s.templates[stubTemplateKey(t.OrgID, t.Key, t.Channel)] = t
}

func (s *stubCommRepo) GetTemplate(ctx context.Context, orgID uint, key string, channel models.CommChannel) (*models.CommTemplate, error) {
	return s.templates[stubTemplateKey(orgID, key, channel)], nil
}

func (s *stubCommRepo) TemplateExists(ctx context.Context, orgID uint, key string, channel models.CommChannel) (bool, error) {
	_, ok := s.templates[stubTemplateKey(orgID, key, channel)]
	return ok, nil
}

func (s *stubCommRepo) CreateOutboxEntries(ctx context.Context, entries []*models.OutboxEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox = append(s.outbox, entries...)
	return nil
}

type stubMaterialRepo struct{}

func (stubMaterialRepo) GetByID(ctx context.Context, orgID, id uint) (*models.Material, error) {
	return nil, nil
}

type stubContactRepo struct{}

func (stubContactRepo) GetByID(ctx context.Context, orgID, id uint) (*models.Contact, error) {
	return nil, nil
}

func (stubContactRepo) ListForJob(ctx context.Context, orgID, jobID uint) ([]models.Contact, error) {
	return nil, nil
}

type stubChecklistRepo struct{}

func (stubChecklistRepo) GetTemplateByID(ctx context.Context, orgID, id uint) (*models.ChecklistTemplate, error) {
	return nil, nil
}

func (stubChecklistRepo) GetTemplateByName(ctx context.Context, orgID uint, name string) (*models.ChecklistTemplate, error) {
	return nil, nil
}

type stubInvoiceRepo struct{}

func (stubInvoiceRepo) GetByID(ctx context.Context, orgID, id uint) (*models.Invoice, error) {
	return nil, nil
}

func (stubInvoiceRepo) CreateDraftIdempotent(ctx context.Context, invoice *models.Invoice) (bool, error) {
	return true, nil
}

type stubAuditRepo struct{}

func (stubAuditRepo) Create(ctx context.Context, entry *models.AuditLog) error {
	return nil
}
