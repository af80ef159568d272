package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// BaseModel contains common fields for all models
type BaseModel struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// TriggerKey identifies an event category a rule can subscribe to
type TriggerKey string

const (
	TriggerJobStatusUpdated   TriggerKey = "job.status_updated"
	TriggerJobProgressUpdated TriggerKey = "job.progress_updated"
	TriggerJobAssigned        TriggerKey = "job.assigned"
	TriggerMaterialStockLow   TriggerKey = "material.stock_low"
	TriggerInvoicePaid        TriggerKey = "invoice.paid"
	TriggerTimeDaily          TriggerKey = "time.daily"
)

// RunStatus represents the lifecycle status of an automation run
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusRunning     RunStatus = "running"
	RunStatusSucceeded   RunStatus = "succeeded"
	RunStatusFailed      RunStatus = "failed"
	RunStatusSkipped     RunStatus = "skipped"
	RunStatusRateLimited RunStatus = "rate_limited"
)

// StepStatus represents the status of a single action step within a run
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
)

// ActionType enumerates the closed set of automation action variants
type ActionType string

const (
	ActionSendEmail          ActionType = "comm.send_email"
	ActionSendSMS            ActionType = "comm.send_sms"
	ActionSendInApp          ActionType = "comm.send_in_app"
	ActionAddTag             ActionType = "job.add_tag"
	ActionAddFlag            ActionType = "job.add_flag"
	ActionAttachChecklist    ActionType = "job.attach_checklist"
	ActionCreateDraftInvoice ActionType = "invoice.create_draft"
	ActionInternalReminder   ActionType = "reminder.internal"
)

// CommChannel is the delivery channel for communication actions
type CommChannel string

const (
	ChannelEmail CommChannel = "email"
	ChannelSMS   CommChannel = "sms"
	ChannelInApp CommChannel = "in_app"
)

// RecipientPolicy selects how a communication action resolves its recipients
type RecipientPolicy string

const (
	RecipientCustomer     RecipientPolicy = "customer"
	RecipientOrgAdmins    RecipientPolicy = "org_admins"
	RecipientAssignedCrew RecipientPolicy = "assigned_crew"
	RecipientOpsTeam      RecipientPolicy = "ops_team"
	RecipientCustom       RecipientPolicy = "custom"
)

// JobStatus represents the status of a job
type JobStatus string

const (
	JobStatusScheduled  JobStatus = "scheduled"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusOnHold     JobStatus = "on_hold"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// OrgRole represents an organization user's role
type OrgRole string

const (
	RoleAdmin  OrgRole = "admin"
	RoleOps    OrgRole = "ops"
	RoleCrew   OrgRole = "crew"
	RoleMember OrgRole = "member"
)

// JSONMap represents a JSON object stored in the database
type JSONMap map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}

	return json.Unmarshal(bytes, j)
}

// Condition is a single predicate attached to a rule. Key references a
// catalog definition; Value's concrete type depends on that definition.
type Condition struct {
	Key      string      `json:"key"`
	Operator string      `json:"operator,omitempty"`
	Value    interface{} `json:"value"`
}

// ConditionList is an ordered list of conditions stored as JSONB
type ConditionList []Condition

// Value implements the driver.Valuer interface
func (c ConditionList) Value() (driver.Value, error) {
	if c == nil {
		return json.Marshal([]Condition{})
	}
	return json.Marshal(c)
}

// Scan implements the sql.Scanner interface
func (c *ConditionList) Scan(value interface{}) error {
	if value == nil {
		*c = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into ConditionList", value)
	}
	return json.Unmarshal(bytes, c)
}

// Action is one side-effecting step of a rule. Params is decoded into the
// variant's typed parameter struct before validation and execution.
type Action struct {
	Type   ActionType `json:"type"`
	Params JSONMap    `json:"params"`
}

// DecodeParams unmarshals the action's params into a typed variant struct
func (a Action) DecodeParams(v interface{}) error {
	bytes, err := json.Marshal(a.Params)
	if err != nil {
		return fmt.Errorf("failed to encode action params: %w", err)
	}
	if err := json.Unmarshal(bytes, v); err != nil {
		return fmt.Errorf("failed to decode %s params: %w", a.Type, err)
	}
	return nil
}

// ActionList is an ordered list of actions stored as JSONB
type ActionList []Action

// Value implements the driver.Valuer interface
func (a ActionList) Value() (driver.Value, error) {
	if a == nil {
		return json.Marshal([]Action{})
	}
	return json.Marshal(a)
}

// Scan implements the sql.Scanner interface
func (a *ActionList) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into ActionList", value)
	}
	return json.Unmarshal(bytes, a)
}

// CommParams are the parameters for comm.send_* actions
type CommParams struct {
	TemplateKey   string          `json:"template_key"`
	To            RecipientPolicy `json:"to"`
	CustomAddress string          `json:"custom_address,omitempty"`
}

// TagParams are the parameters for job.add_tag and job.add_flag actions
type TagParams struct {
	Value string `json:"value"`
}

// ChecklistParams are the parameters for job.attach_checklist actions
type ChecklistParams struct {
	TemplateID   uint   `json:"template_id,omitempty"`
	TemplateName string `json:"template_name,omitempty"`
}

// InvoiceParams are the parameters for invoice.create_draft actions
type InvoiceParams struct {
	Memo string `json:"memo,omitempty"`
}

// ReminderParams are the parameters for reminder.internal actions
type ReminderParams struct {
	Message string `json:"message"`
}

// MatchDetail records the evaluation outcome of one condition
type MatchDetail struct {
	Key       string      `json:"key"`
	Expected  interface{} `json:"expected"`
	Evaluated interface{} `json:"evaluated"`
	Passed    bool        `json:"passed"`
}

// MatchDetailList is the per-condition evaluation trace stored as JSONB
type MatchDetailList []MatchDetail

// Value implements the driver.Valuer interface
func (m MatchDetailList) Value() (driver.Value, error) {
	if m == nil {
		return json.Marshal([]MatchDetail{})
	}
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface
func (m *MatchDetailList) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into MatchDetailList", value)
	}
	return json.Unmarshal(bytes, m)
}

// Event represents a domain event consumed by the engine. Events are
// immutable once created; the engine reads them and never mutates them.
type Event struct {
	BaseModel
	OrgID     uint       `gorm:"not null;index" json:"org_id"`
	EventType TriggerKey `gorm:"size:100;not null;index" json:"event_type"`
	EntityID  uint       `gorm:"index" json:"entity_id"`
	Payload   JSONMap    `gorm:"type:jsonb;not null" json:"payload"`
	ActorID   *uint      `json:"actor_id,omitempty"`
	Source    string     `gorm:"size:50" json:"source"`
}

// TableName sets the table name for Event
func (Event) TableName() string {
	return "automation_events"
}

// Rule represents a user-authored automation rule. Rules are mutated only
// through explicit save/enable/disable operations, never by the engine.
type Rule struct {
	BaseModel
	OrgID          uint          `gorm:"not null;index" json:"org_id"`
	Name           string        `gorm:"size:255;not null" json:"name"`
	Description    string        `gorm:"type:text" json:"description"`
	TriggerKey     TriggerKey    `gorm:"size:100;not null;index" json:"trigger_key"`
	TriggerVersion int           `gorm:"default:1" json:"trigger_version"`
	Conditions     ConditionList `gorm:"type:jsonb;not null" json:"conditions"`
	Actions        ActionList    `gorm:"type:jsonb;not null" json:"actions"`
	Enabled        bool          `gorm:"default:false;index" json:"enabled"`

	// Flags derived by validation at save/enable time
	IsCustomerFacing        bool `gorm:"default:false" json:"is_customer_facing"`
	RequiresEmail           bool `gorm:"default:false" json:"requires_email"`
	RequiresSms             bool `gorm:"default:false" json:"requires_sms"`
	CustomerFacingConfirmed bool `gorm:"default:false" json:"customer_facing_confirmed"`

	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	// Relationships
	Runs []Run `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName sets the table name for Rule
func (Rule) TableName() string {
	return "automation_rules"
}

// Run represents one execution attempt of one rule against one logical
// event occurrence. Runs are append-only and never deleted.
type Run struct {
	BaseModel
	OrgID          uint            `gorm:"not null;index" json:"org_id"`
	RuleID         uint            `gorm:"not null;index:idx_runs_rule_window,priority:1" json:"rule_id"`
	EventID        uint            `gorm:"not null;index" json:"event_id"`
	EventEntityID  string          `gorm:"size:255;not null" json:"event_entity_id"`
	IdempotencyKey string          `gorm:"size:64;not null;unique" json:"idempotency_key"`
	Matched        bool            `gorm:"default:false" json:"matched"`
	MatchDetails   MatchDetailList `gorm:"type:jsonb" json:"match_details"`
	Status         RunStatus       `gorm:"size:50;not null;default:'queued';index:idx_runs_rule_window,priority:2" json:"status"`
	RateLimited    bool            `gorm:"default:false" json:"rate_limited"`
	Error          *string         `gorm:"type:text" json:"error,omitempty"`
	StartedAt      time.Time       `gorm:"not null" json:"started_at"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`

	// Relationships
	Rule  Rule      `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Steps []RunStep `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"steps,omitempty"`
}

// TableName sets the table name for Run
func (Run) TableName() string {
	return "automation_runs"
}

// IsTerminal reports whether the run has reached a terminal status
func (r *Run) IsTerminal() bool {
	switch r.Status {
	case RunStatusSucceeded, RunStatusFailed, RunStatusSkipped, RunStatusRateLimited:
		return true
	}
	return false
}

// RunStep records one action's execution within a run. Steps are contiguous,
// zero-indexed, created in rule-action order, and immutable once finalized.
type RunStep struct {
	BaseModel
	RunID       uint       `gorm:"not null;uniqueIndex:idx_run_step_order,priority:1" json:"run_id"`
	StepIndex   int        `gorm:"not null;uniqueIndex:idx_run_step_order,priority:2" json:"step_index"`
	ActionType  ActionType `gorm:"size:100;not null" json:"action_type"`
	ActionInput JSONMap    `gorm:"type:jsonb" json:"action_input"`
	Status      StepStatus `gorm:"size:50;not null;default:'pending'" json:"status"`
	Result      JSONMap    `gorm:"type:jsonb" json:"result,omitempty"`
	Preview     *string    `gorm:"type:text" json:"preview,omitempty"`
	Error       *string    `gorm:"type:text" json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`

	// Relationships
	Run Run `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// TableName sets the table name for RunStep
func (RunStep) TableName() string {
	return "automation_run_steps"
}

// Job is the referenced field-service job domain object. The engine reads
// jobs through the context resolver and mutates only tags, flags and tasks
// through the action executor's collaborator interfaces.
type Job struct {
	BaseModel
	OrgID            uint           `gorm:"not null;index" json:"org_id"`
	Title            string         `gorm:"size:255;not null" json:"title"`
	Status           JobStatus      `gorm:"size:50;not null;default:'scheduled'" json:"status"`
	Progress         float64        `gorm:"default:0" json:"progress"`
	Tags             pq.StringArray `gorm:"type:text[]" json:"tags"`
	Flags            pq.StringArray `gorm:"type:text[]" json:"flags"`
	Address          string         `gorm:"size:512" json:"address"`
	ScheduleStart    *time.Time     `json:"schedule_start,omitempty"`
	ScheduleEnd      *time.Time     `json:"schedule_end,omitempty"`
	PrimaryContactID *uint          `json:"primary_contact_id,omitempty"`
}

// TableName sets the table name for Job
func (Job) TableName() string {
	return "jobs"
}

// HasTag reports whether the job carries the given tag
func (j *Job) HasTag(tag string) bool {
	for _, t := range j.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasFlag reports whether the job carries the given flag
func (j *Job) HasFlag(flag string) bool {
	for _, f := range j.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// CrewAssignment links a job to the org users currently assigned to it
type CrewAssignment struct {
	BaseModel
	OrgID     uint          `gorm:"not null;index" json:"org_id"`
	JobID     uint          `gorm:"not null;index" json:"job_id"`
	MemberIDs pq.Int64Array `gorm:"type:bigint[]" json:"member_ids"`
}

// TableName sets the table name for CrewAssignment
func (CrewAssignment) TableName() string {
	return "job_crew_assignments"
}

// Material is a stocked material tracked per org
type Material struct {
	BaseModel
	OrgID            uint    `gorm:"not null;index" json:"org_id"`
	Name             string  `gorm:"size:255;not null" json:"name"`
	Unit             string  `gorm:"size:50" json:"unit"`
	StockQuantity    float64 `gorm:"default:0" json:"stock_quantity"`
	ReservedQuantity float64 `gorm:"default:0" json:"reserved_quantity"`
	ReorderLevel     float64 `gorm:"default:0" json:"reorder_level"`
}

// TableName sets the table name for Material
func (Material) TableName() string {
	return "materials"
}

// Contact is a customer or site contact attached to an org or a job
type Contact struct {
	BaseModel
	OrgID     uint   `gorm:"not null;index" json:"org_id"`
	JobID     *uint  `gorm:"index" json:"job_id,omitempty"`
	Name      string `gorm:"size:255;not null" json:"name"`
	Email     string `gorm:"size:255" json:"email"`
	Phone     string `gorm:"size:50" json:"phone"`
	IsPrimary bool   `gorm:"default:false" json:"is_primary"`
}

// TableName sets the table name for Contact
func (Contact) TableName() string {
	return "contacts"
}

// OrgSettings holds per-org engine configuration, including the automation
// kill switch and communication provisioning read at enable time.
type OrgSettings struct {
	BaseModel
	OrgID               uint   `gorm:"not null;uniqueIndex" json:"org_id"`
	Timezone            string `gorm:"size:100;default:'UTC'" json:"timezone"`
	AutomationsDisabled bool   `gorm:"default:false" json:"automations_disabled"`
	CommFromEmail       string `gorm:"size:255" json:"comm_from_email"`
	CommFromPhone       string `gorm:"size:50" json:"comm_from_phone"`
	EmailProvisioned    bool   `gorm:"default:false" json:"email_provisioned"`
	SmsProvisioned      bool   `gorm:"default:false" json:"sms_provisioned"`
}

// TableName sets the table name for OrgSettings
func (OrgSettings) TableName() string {
	return "org_settings"
}

// Location returns the org's configured timezone, falling back to UTC
func (s *OrgSettings) Location() *time.Location {
	if s == nil || s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// OrgUser is a member of an organization with a role
type OrgUser struct {
	BaseModel
	OrgID uint    `gorm:"not null;index" json:"org_id"`
	Name  string  `gorm:"size:255;not null" json:"name"`
	Email string  `gorm:"size:255" json:"email"`
	Phone string  `gorm:"size:50" json:"phone"`
	Role  OrgRole `gorm:"size:50;not null;default:'member'" json:"role"`
}

// TableName sets the table name for OrgUser
func (OrgUser) TableName() string {
	return "org_users"
}

// CommTemplate is an org-scoped message template for one channel
type CommTemplate struct {
	BaseModel
	OrgID   uint        `gorm:"not null;uniqueIndex:idx_template_org_key_channel,priority:1" json:"org_id"`
	Key     string      `gorm:"size:100;not null;uniqueIndex:idx_template_org_key_channel,priority:2" json:"key"`
	Channel CommChannel `gorm:"size:20;not null;uniqueIndex:idx_template_org_key_channel,priority:3" json:"channel"`
	Subject string      `gorm:"size:512" json:"subject"`
	Body    string      `gorm:"type:text;not null" json:"body"`
}

// TableName sets the table name for CommTemplate
func (CommTemplate) TableName() string {
	return "comm_templates"
}

// OutboxEntry records one rendered message handed to the delivery subsystem
type OutboxEntry struct {
	BaseModel
	OrgID             uint        `gorm:"not null;index" json:"org_id"`
	RunStepID         *uint       `gorm:"index" json:"run_step_id,omitempty"`
	Channel           CommChannel `gorm:"size:20;not null" json:"channel"`
	TemplateKey       string      `gorm:"size:100;not null" json:"template_key"`
	Recipient         string      `gorm:"size:255;not null" json:"recipient"`
	Subject           string      `gorm:"size:512" json:"subject"`
	Body              string      `gorm:"type:text" json:"body"`
	ProviderMessageID string      `gorm:"size:255" json:"provider_message_id"`
	Status            string      `gorm:"size:50;not null;default:'queued'" json:"status"`
}

// TableName sets the table name for OutboxEntry
func (OutboxEntry) TableName() string {
	return "comm_outbox"
}

// ChecklistTemplate is a reusable ordered list of task titles
type ChecklistTemplate struct {
	BaseModel
	OrgID uint           `gorm:"not null;index" json:"org_id"`
	Name  string         `gorm:"size:255;not null" json:"name"`
	Steps pq.StringArray `gorm:"type:text[]" json:"steps"`
}

// TableName sets the table name for ChecklistTemplate
func (ChecklistTemplate) TableName() string {
	return "checklist_templates"
}

// JobTask is one checklist task attached to a job
type JobTask struct {
	BaseModel
	OrgID     uint   `gorm:"not null;index" json:"org_id"`
	JobID     uint   `gorm:"not null;index" json:"job_id"`
	Title     string `gorm:"size:512;not null" json:"title"`
	SortOrder int    `gorm:"not null;default:0" json:"sort_order"`
	Completed bool   `gorm:"default:false" json:"completed"`
	Source    string `gorm:"size:50" json:"source"`
	RunID     *uint  `gorm:"index" json:"run_id,omitempty"`
}

// TableName sets the table name for JobTask
func (JobTask) TableName() string {
	return "job_tasks"
}

// Invoice is the billing domain object; the engine only creates zero-amount
// drafts, keyed by run so re-execution cannot duplicate them.
type Invoice struct {
	BaseModel
	OrgID       uint   `gorm:"not null;index" json:"org_id"`
	JobID       uint   `gorm:"not null;index" json:"job_id"`
	Status      string `gorm:"size:50;not null;default:'draft'" json:"status"`
	AmountCents int64  `gorm:"default:0" json:"amount_cents"`
	Memo        string `gorm:"size:512" json:"memo"`
	RunID       *uint  `gorm:"uniqueIndex" json:"run_id,omitempty"`
}

// TableName sets the table name for Invoice
func (Invoice) TableName() string {
	return "invoices"
}

// AuditLog is an HMAC-signed record of a state mutation performed by the
// engine on a collaborator's behalf.
type AuditLog struct {
	BaseModel
	OrgID      uint    `gorm:"not null;index" json:"org_id"`
	ActorID    *uint   `json:"actor_id,omitempty"`
	ActorType  string  `gorm:"size:50;not null;default:'system'" json:"actor_type"`
	Action     string  `gorm:"size:100;not null" json:"action"`
	EntityType string  `gorm:"size:100;not null" json:"entity_type"`
	EntityID   string  `gorm:"size:255;not null" json:"entity_id"`
	Before     JSONMap `gorm:"type:jsonb" json:"before"`
	After      JSONMap `gorm:"type:jsonb" json:"after"`
	Signature  string  `gorm:"size:128" json:"-"`
}

// TableName sets the table name for AuditLog
func (AuditLog) TableName() string {
	return "audit_logs"
}

// ContextFacts is the small bag of precomputed numeric facts resolvers
// attach to a run context.
type ContextFacts struct {
	StockAvailable *float64   `json:"stock_available,omitempty"`
	ScheduleStart  *time.Time `json:"schedule_start,omitempty"`
	OpenJobCount   int64      `json:"open_job_count"`
}

// RunContext bundles the domain state a rule may read. It is constructed
// once per run and must not be mutated by any evaluation or execution stage.
type RunContext struct {
	Org            *OrgSettings    `json:"org"`
	Job            *Job            `json:"job,omitempty"`
	CrewAssignment *CrewAssignment `json:"crew_assignment,omitempty"`
	CrewMembers    []OrgUser       `json:"crew_members,omitempty"`
	Material       *Material       `json:"material,omitempty"`
	Invoice        *Invoice        `json:"invoice,omitempty"`
	PrimaryContact *Contact        `json:"primary_contact,omitempty"`
	SiteContacts   []Contact       `json:"site_contacts,omitempty"`
	OrgUsers       []OrgUser       `json:"org_users,omitempty"`
	Facts          ContextFacts    `json:"facts"`
}

// HasJob reports whether a job was resolved into the context
func (c *RunContext) HasJob() bool {
	return c != nil && c.Job != nil
}

// HasMaterial reports whether a material was resolved into the context
func (c *RunContext) HasMaterial() bool {
	return c != nil && c.Material != nil
}

// HasBilling reports whether billing state was resolved into the context
func (c *RunContext) HasBilling() bool {
	return c != nil && c.Invoice != nil
}

// Recipient is one resolved communication recipient
type Recipient struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Identity returns the deduplication identity for the recipient on a channel
func (r Recipient) Identity(channel CommChannel) string {
	if channel == ChannelSMS {
		return r.Phone
	}
	return r.Email
}

// RunStats aggregates run outcomes for a rule's history view
type RunStats struct {
	Total       int64 `json:"total"`
	Matched     int64 `json:"matched"`
	Succeeded   int64 `json:"succeeded"`
	Failed      int64 `json:"failed"`
	Skipped     int64 `json:"skipped"`
	RateLimited int64 `json:"rate_limited"`
}
