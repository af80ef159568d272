package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
	"github.com/Reg-Kris/pyairtable-automation-service/internal/repositories"
)

// Map-backed repository mocks. The engine fans rules out concurrently, so
// every mutating mock is guarded by a mutex.

type mockRuleRepository struct {
	mu     sync.Mutex
	rules  map[uint]*models.Rule
	nextID uint
}

func newMockRuleRepository() *mockRuleRepository {
	return &mockRuleRepository{rules: make(map[uint]*models.Rule), nextID: 1}
}

func (m *mockRuleRepository) Create(ctx context.Context, rule *models.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule.ID = m.nextID
	m.nextID++
	rule.CreatedAt = time.Now()
	copied := *rule
	m.rules[rule.ID] = &copied
	return nil
}

func (m *mockRuleRepository) GetByID(ctx context.Context, orgID, id uint) (*models.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[id]
	if !ok || rule.OrgID != orgID {
		return nil, nil
	}
	copied := *rule
	return &copied, nil
}

func (m *mockRuleRepository) ListByOrg(ctx context.Context, orgID uint, limit, offset int) ([]*models.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rules []*models.Rule
	for _, rule := range m.rules {
		if rule.OrgID == orgID {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

func (m *mockRuleRepository) ListEnabledByTrigger(ctx context.Context, orgID uint, trigger models.TriggerKey) ([]*models.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rules []*models.Rule
	for _, rule := range m.rules {
		if rule.OrgID == orgID && rule.Enabled && rule.TriggerKey == trigger {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

func (m *mockRuleRepository) Update(ctx context.Context, rule *models.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *rule
	m.rules[rule.ID] = &copied
	return nil
}

func (m *mockRuleRepository) Delete(ctx context.Context, orgID, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rules, id)
	return nil
}

func (m *mockRuleRepository) TouchLastRun(ctx context.Context, id uint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rule, ok := m.rules[id]; ok {
		rule.LastRunAt = &at
	}
	return nil
}

type mockRunRepository struct {
	mu     sync.Mutex
	runs   map[uint]*models.Run
	byKey  map[string]uint
	steps  map[uint]*models.RunStep
	nextID uint

	countWindowErr error
}

func newMockRunRepository() *mockRunRepository {
	return &mockRunRepository{
		runs:   make(map[uint]*models.Run),
		byKey:  make(map[string]uint),
		steps:  make(map[uint]*models.RunStep),
		nextID: 1,
	}
}

func (m *mockRunRepository) CreateIdempotent(ctx context.Context, run *models.Run) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byKey[run.IdempotencyKey]; exists {
		return false, nil
	}
	run.ID = m.nextID
	m.nextID++
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	copied := *run
	m.runs[run.ID] = &copied
	m.byKey[run.IdempotencyKey] = run.ID
	return true, nil
}

func (m *mockRunRepository) GetByID(ctx context.Context, orgID, id uint) (*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok || run.OrgID != orgID {
		return nil, nil
	}
	return run, nil
}

func (m *mockRunRepository) Update(ctx context.Context, run *models.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *run
	m.runs[run.ID] = &copied
	return nil
}

func (m *mockRunRepository) ListByRule(ctx context.Context, orgID, ruleID uint, limit, offset int) ([]*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var runs []*models.Run
	for _, run := range m.runs {
		if run.OrgID == orgID && run.RuleID == ruleID {
			runs = append(runs, run)
		}
	}
	return runs, nil
}

func (m *mockRunRepository) CountWindow(ctx context.Context, ruleID, excludeRunID uint, hourStart, dayStart time.Time) (int64, int64, error) {
	if m.countWindowErr != nil {
		return 0, 0, m.countWindowErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var hourly, daily int64
	for _, run := range m.runs {
		if run.RuleID != ruleID || run.ID == excludeRunID || run.Status == models.RunStatusSkipped {
			continue
		}
		if run.CreatedAt.Before(dayStart) {
			continue
		}
		daily++
		if !run.CreatedAt.Before(hourStart) {
			hourly++
		}
	}
	return hourly, daily, nil
}

func (m *mockRunRepository) GetStats(ctx context.Context, orgID, ruleID uint) (*models.RunStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &models.RunStats{}
	for _, run := range m.runs {
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

func (m *mockRunRepository) CreateStep(ctx context.Context, step *models.RunStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	step.ID = m.nextID
	m.nextID++
	copied := *step
	m.steps[step.ID] = &copied
	return nil
}

func (m *mockRunRepository) UpdateStep(ctx context.Context, step *models.RunStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *step
	m.steps[step.ID] = &copied
	return nil
}

func (m *mockRunRepository) ListSteps(ctx context.Context, runID uint) ([]*models.RunStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var steps []*models.RunStep
	for _, step := range m.steps {
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

// runsByStatus counts the stored runs per status for assertions
func (m *mockRunRepository) runsByStatus(status models.RunStatus) []*models.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	var runs []*models.Run
	for _, run := range m.runs {
		if run.Status == status {
			runs = append(runs, run)
		}
	}
	return runs
}

func (m *mockRunRepository) allRuns() []*models.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := make([]*models.Run, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run)
	}
	return runs
}

type mockEventRepository struct {
	mu     sync.Mutex
	events map[uint]*models.Event
	nextID uint
}

func newMockEventRepository() *mockEventRepository {
	return &mockEventRepository{events: make(map[uint]*models.Event), nextID: 1}
}

func (m *mockEventRepository) Create(ctx context.Context, event *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = m.nextID
	m.nextID++
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	m.events[event.ID] = event
	return nil
}

func (m *mockEventRepository) GetByID(ctx context.Context, orgID, id uint) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	event, ok := m.events[id]
	if !ok || event.OrgID != orgID {
		return nil, nil
	}
	return event, nil
}

type mockJobRepository struct {
	mu          sync.Mutex
	jobs        map[uint]*models.Job
	assignments map[uint]*models.CrewAssignment
	tasks       []*models.JobTask
	openJobs    int64
	updateErr   error
}

func newMockJobRepository() *mockJobRepository {
	return &mockJobRepository{
		jobs:        make(map[uint]*models.Job),
		assignments: make(map[uint]*models.CrewAssignment),
	}
}

func (m *mockJobRepository) GetByID(ctx context.Context, orgID, id uint) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.OrgID != orgID {
		return nil, nil
	}
	copied := *job
	copied.Tags = append([]string{}, job.Tags...)
	copied.Flags = append([]string{}, job.Flags...)
	return &copied, nil
}

func (m *mockJobRepository) Update(ctx context.Context, job *models.Job) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *mockJobRepository) GetAssignment(ctx context.Context, orgID, jobID uint) (*models.CrewAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	assignment, ok := m.assignments[jobID]
	if !ok || assignment.OrgID != orgID {
		return nil, nil
	}
	return assignment, nil
}

func (m *mockJobRepository) MaxTaskSortOrder(ctx context.Context, jobID uint) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, task := range m.tasks {
		if task.JobID == jobID && task.SortOrder > max {
			max = task.SortOrder
		}
	}
	return max, nil
}

func (m *mockJobRepository) CreateTasks(ctx context.Context, tasks []*models.JobTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, tasks...)
	return nil
}

func (m *mockJobRepository) CountOpenByOrg(ctx context.Context, orgID uint) (int64, error) {
	return m.openJobs, nil
}

type mockMaterialRepository struct {
	materials map[uint]*models.Material
}

func newMockMaterialRepository() *mockMaterialRepository {
	return &mockMaterialRepository{materials: make(map[uint]*models.Material)}
}

func (m *mockMaterialRepository) GetByID(ctx context.Context, orgID, id uint) (*models.Material, error) {
	material, ok := m.materials[id]
	if !ok || material.OrgID != orgID {
		return nil, nil
	}
	return material, nil
}

type mockContactRepository struct {
	contacts map[uint]*models.Contact
}

func newMockContactRepository() *mockContactRepository {
	return &mockContactRepository{contacts: make(map[uint]*models.Contact)}
}

func (m *mockContactRepository) GetByID(ctx context.Context, orgID, id uint) (*models.Contact, error) {
	contact, ok := m.contacts[id]
	if !ok || contact.OrgID != orgID {
		return nil, nil
	}
	return contact, nil
}

func (m *mockContactRepository) ListForJob(ctx context.Context, orgID, jobID uint) ([]models.Contact, error) {
	var contacts []models.Contact
	for _, contact := range m.contacts {
		if contact.OrgID == orgID && contact.JobID != nil && *contact.JobID == jobID {
			contacts = append(contacts, *contact)
		}
	}
	return contacts, nil
}

type mockOrgRepository struct {
	settings map[uint]*models.OrgSettings
	users    []models.OrgUser
}

func newMockOrgRepository() *mockOrgRepository {
	return &mockOrgRepository{settings: make(map[uint]*models.OrgSettings)}
}

func (m *mockOrgRepository) GetSettings(ctx context.Context, orgID uint) (*models.OrgSettings, error) {
	return m.settings[orgID], nil
}

func (m *mockOrgRepository) ListUsers(ctx context.Context, orgID uint) ([]models.OrgUser, error) {
	var users []models.OrgUser
	for _, user := range m.users {
		if user.OrgID == orgID {
			users = append(users, user)
		}
	}
	return users, nil
}

func (m *mockOrgRepository) ListUsersByRole(ctx context.Context, orgID uint, role models.OrgRole) ([]models.OrgUser, error) {
	var users []models.OrgUser
	for _, user := range m.users {
		if user.OrgID == orgID && user.Role == role {
			users = append(users, user)
		}
	}
	return users, nil
}

func (m *mockOrgRepository) ListActiveOrgIDs(ctx context.Context) ([]uint, error) {
	ids := make([]uint, 0, len(m.settings))
	for id := range m.settings {
		ids = append(ids, id)
	}
	return ids, nil
}

type mockCommRepository struct {
	mu        sync.Mutex
	templates map[string]*models.CommTemplate
	outbox    []*models.OutboxEntry

	createErr   error
	templateErr error
}

func newMockCommRepository() *mockCommRepository {
	return &mockCommRepository{templates: make(map[string]*models.CommTemplate)}
}

func templateKey(orgID uint, key string, channel models.CommChannel) string {
	return fmt.Sprintf("%d|%s|%s", orgID, key, channel)
}

func (m *mockCommRepository) addTemplate(t *models.CommTemplate) {
	m.templates[templateKey(t.OrgID, t.Key, t.Channel)] = t
}

func (m *mockCommRepository) GetTemplate(ctx context.Context, orgID uint, key string, channel models.CommChannel) (*models.CommTemplate, error) {
	if m.templateErr != nil {
		return nil, m.templateErr
	}
	return m.templates[templateKey(orgID, key, channel)], nil
}

func (m *mockCommRepository) TemplateExists(ctx context.Context, orgID uint, key string, channel models.CommChannel) (bool, error) {
	if m.templateErr != nil {
		return false, m.templateErr
	}
	_, ok := m.templates[templateKey(orgID, key, channel)]
	return ok, nil
}

func (m *mockCommRepository) CreateOutboxEntries(ctx context.Context, entries []*models.OutboxEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.outbox = append(m.outbox, entries...)
	return nil
}

func (m *mockCommRepository) outboxEntries() []*models.OutboxEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.OutboxEntry{}, m.outbox...)
}

type mockChecklistRepository struct {
	templates map[uint]*models.ChecklistTemplate
}

func newMockChecklistRepository() *mockChecklistRepository {
	return &mockChecklistRepository{templates: make(map[uint]*models.ChecklistTemplate)}
}

func (m *mockChecklistRepository) GetTemplateByID(ctx context.Context, orgID, id uint) (*models.ChecklistTemplate, error) {
	template, ok := m.templates[id]
	if !ok || template.OrgID != orgID {
		return nil, nil
	}
	return template, nil
}

func (m *mockChecklistRepository) GetTemplateByName(ctx context.Context, orgID uint, name string) (*models.ChecklistTemplate, error) {
	for _, template := range m.templates {
		if template.OrgID == orgID && template.Name == name {
			return template, nil
		}
	}
	return nil, nil
}

type mockInvoiceRepository struct {
	mu       sync.Mutex
	invoices map[uint]*models.Invoice
	byRun    map[uint]uint
	nextID   uint
}

func newMockInvoiceRepository() *mockInvoiceRepository {
	return &mockInvoiceRepository{
		invoices: make(map[uint]*models.Invoice),
		byRun:    make(map[uint]uint),
		nextID:   1,
	}
}

func (m *mockInvoiceRepository) GetByID(ctx context.Context, orgID, id uint) (*models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	invoice, ok := m.invoices[id]
	if !ok || invoice.OrgID != orgID {
		return nil, nil
	}
	return invoice, nil
}

func (m *mockInvoiceRepository) CreateDraftIdempotent(ctx context.Context, invoice *models.Invoice) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if invoice.RunID != nil {
		if _, exists := m.byRun[*invoice.RunID]; exists {
			return false, nil
		}
	}
	invoice.ID = m.nextID
	m.nextID++
	m.invoices[invoice.ID] = invoice
	if invoice.RunID != nil {
		m.byRun[*invoice.RunID] = invoice.ID
	}
	return true, nil
}

type mockAuditRepository struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func newMockAuditRepository() *mockAuditRepository {
	return &mockAuditRepository{}
}

func (m *mockAuditRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepository) all() []*models.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.AuditLog{}, m.entries...)
}

// testRepos bundles the mocks behind the repository aggregate plus typed
// handles for seeding and assertions.
type testRepos struct {
	repos     *repositories.Repositories
	rules     *mockRuleRepository
	runs      *mockRunRepository
	events    *mockEventRepository
	jobs      *mockJobRepository
	materials *mockMaterialRepository
	contacts  *mockContactRepository
	orgs      *mockOrgRepository
	comms     *mockCommRepository
	checklist *mockChecklistRepository
	invoices  *mockInvoiceRepository
	audits    *mockAuditRepository
}

func newTestRepos() *testRepos {
	tr := &testRepos{
		rules:     newMockRuleRepository(),
		runs:      newMockRunRepository(),
		events:    newMockEventRepository(),
		jobs:      newMockJobRepository(),
		materials: newMockMaterialRepository(),
		contacts:  newMockContactRepository(),
		orgs:      newMockOrgRepository(),
		comms:     newMockCommRepository(),
		checklist: newMockChecklistRepository(),
		invoices:  newMockInvoiceRepository(),
		audits:    newMockAuditRepository(),
	}
	tr.repos = &repositories.Repositories{
		Rule:      tr.rules,
		Run:       tr.runs,
		Event:     tr.events,
		Job:       tr.jobs,
		Material:  tr.materials,
		Contact:   tr.contacts,
		Org:       tr.orgs,
		Comm:      tr.comms,
		Checklist: tr.checklist,
		Invoice:   tr.invoices,
		Audit:     tr.audits,
	}
	return tr
}
