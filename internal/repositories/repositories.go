package repositories

import (
	"context"
	"time"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// RuleRepository defines the interface for automation rule operations
type RuleRepository interface {
	Create(ctx context.Context, rule *models.Rule) error
	GetByID(ctx context.Context, orgID, id uint) (*models.Rule, error)
	ListByOrg(ctx context.Context, orgID uint, limit, offset int) ([]*models.Rule, error)
	ListEnabledByTrigger(ctx context.Context, orgID uint, trigger models.TriggerKey) ([]*models.Rule, error)
	Update(ctx context.Context, rule *models.Rule) error
	Delete(ctx context.Context, orgID, id uint) error
	TouchLastRun(ctx context.Context, id uint, at time.Time) error
}

// RunRepository defines the interface for run and run step bookkeeping
type RunRepository interface {
	// CreateIdempotent inserts the run unless its idempotency key already
	// exists; it reports whether this call created the row.
	CreateIdempotent(ctx context.Context, run *models.Run) (bool, error)
	GetByID(ctx context.Context, orgID, id uint) (*models.Run, error)
	Update(ctx context.Context, run *models.Run) error
	ListByRule(ctx context.Context, orgID, ruleID uint, limit, offset int) ([]*models.Run, error)
	// CountWindow returns the number of non-skipped runs for the rule created
	// within the trailing hour and trailing day, excluding the given run.
	CountWindow(ctx context.Context, ruleID, excludeRunID uint, hourStart, dayStart time.Time) (hourly, daily int64, err error)
	GetStats(ctx context.Context, orgID, ruleID uint) (*models.RunStats, error)
	CreateStep(ctx context.Context, step *models.RunStep) error
	UpdateStep(ctx context.Context, step *models.RunStep) error
	ListSteps(ctx context.Context, runID uint) ([]*models.RunStep, error)
}

// EventRepository defines the interface for the shared event store
type EventRepository interface {
	Create(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, orgID, id uint) (*models.Event, error)
}

// JobRepository defines the interface for job reads and the narrow set of
// mutations the engine performs (tags, flags, checklist tasks).
type JobRepository interface {
	GetByID(ctx context.Context, orgID, id uint) (*models.Job, error)
	Update(ctx context.Context, job *models.Job) error
	GetAssignment(ctx context.Context, orgID, jobID uint) (*models.CrewAssignment, error)
	MaxTaskSortOrder(ctx context.Context, jobID uint) (int, error)
	CreateTasks(ctx context.Context, tasks []*models.JobTask) error
	CountOpenByOrg(ctx context.Context, orgID uint) (int64, error)
}

// MaterialRepository defines the interface for material reads
type MaterialRepository interface {
	GetByID(ctx context.Context, orgID, id uint) (*models.Material, error)
}

// ContactRepository defines the interface for contact reads
type ContactRepository interface {
	GetByID(ctx context.Context, orgID, id uint) (*models.Contact, error)
	ListForJob(ctx context.Context, orgID, jobID uint) ([]models.Contact, error)
}

// OrgRepository defines the interface for org settings and membership reads
type OrgRepository interface {
	GetSettings(ctx context.Context, orgID uint) (*models.OrgSettings, error)
	ListUsers(ctx context.Context, orgID uint) ([]models.OrgUser, error)
	ListUsersByRole(ctx context.Context, orgID uint, role models.OrgRole) ([]models.OrgUser, error)
	ListActiveOrgIDs(ctx context.Context) ([]uint, error)
}

// CommRepository defines the interface for communication templates and the
// outbox the delivery collaborator records into.
type CommRepository interface {
	GetTemplate(ctx context.Context, orgID uint, key string, channel models.CommChannel) (*models.CommTemplate, error)
	TemplateExists(ctx context.Context, orgID uint, key string, channel models.CommChannel) (bool, error)
	CreateOutboxEntries(ctx context.Context, entries []*models.OutboxEntry) error
}

// ChecklistRepository defines the interface for checklist template reads
type ChecklistRepository interface {
	GetTemplateByID(ctx context.Context, orgID, id uint) (*models.ChecklistTemplate, error)
	GetTemplateByName(ctx context.Context, orgID uint, name string) (*models.ChecklistTemplate, error)
}

// InvoiceRepository defines the interface for the engine's invoice writes
type InvoiceRepository interface {
	GetByID(ctx context.Context, orgID, id uint) (*models.Invoice, error)
	// CreateDraftIdempotent inserts a draft invoice unless one already exists
	// for the same run; it reports whether this call created the row.
	CreateDraftIdempotent(ctx context.Context, invoice *models.Invoice) (bool, error)
}

// AuditRepository defines the interface for audit log writes
type AuditRepository interface {
	Create(ctx context.Context, entry *models.AuditLog) error
}

type Repositories struct {
	Rule      RuleRepository
	Run       RunRepository
	Event     EventRepository
	Job       JobRepository
	Material  MaterialRepository
	Contact   ContactRepository
	Org       OrgRepository
	Comm      CommRepository
	Checklist ChecklistRepository
	Invoice   InvoiceRepository
	Audit     AuditRepository

	db    *gorm.DB
	redis *redis.Client
}

func New(db *gorm.DB, redis *redis.Client) *Repositories {
	return &Repositories{
		db:        db,
		redis:     redis,
		Rule:      NewRuleRepository(db, redis),
		Run:       NewRunRepository(db),
		Event:     NewEventRepository(db),
		Job:       NewJobRepository(db),
		Material:  NewMaterialRepository(db),
		Contact:   NewContactRepository(db),
		Org:       NewOrgRepository(db),
		Comm:      NewCommRepository(db),
		Checklist: NewChecklistRepository(db),
		Invoice:   NewInvoiceRepository(db),
		Audit:     NewAuditRepository(db),
	}
}
