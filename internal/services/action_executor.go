package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
	"github.com/Reg-Kris/pyairtable-automation-service/internal/repositories"
)

// ActionPreview describes what one action would do without executing it,
// returned by the dry-run surface.
type ActionPreview struct {
	StepIndex  int               `json:"step_index"`
	ActionType models.ActionType `json:"action_type"`
	Preview    string            `json:"preview"`
	Warnings   []string          `json:"warnings,omitempty"`
}

// ActionExecutor executes a rule's ordered action list against a resolved
// context, persisting one step record per action. Execution is strictly
// sequential and halts at the first step whose outcome is not success; later
// actions are never attempted and effects of earlier steps are not rolled
// back (every action is individually idempotent).
type ActionExecutor struct {
	repos   *repositories.Repositories
	comms   CommsGateway
	audit   AuditRecorder
	metrics *MetricsService
	baseURL string
	logger  *zap.Logger
	nowFn   func() time.Time
}

// NewActionExecutor creates an action executor
func NewActionExecutor(repos *repositories.Repositories, comms CommsGateway, audit AuditRecorder, metrics *MetricsService, baseURL string, logger *zap.Logger) *ActionExecutor {
	return &ActionExecutor{
		repos:   repos,
		comms:   comms,
		audit:   audit,
		metrics: metrics,
		baseURL: baseURL,
		logger:  logger,
		nowFn:   time.Now,
	}
}

// Execute runs the actions in order. Each action gets a RunStep created in
// pending status, transitioned to running and then to a terminal status. The
// first failure is returned with its step index so the caller can mark the
// run failed; the failing step's error is also recorded on the step itself.
func (x *ActionExecutor) Execute(ctx context.Context, run *models.Run, actions models.ActionList, runCtx *models.RunContext) error {
	for i, action := range actions {
		step := &models.RunStep{
			RunID:       run.ID,
			StepIndex:   i,
			ActionType:  action.Type,
			ActionInput: action.Params,
			Status:      models.StepStatusPending,
		}
		if err := x.repos.Run.CreateStep(ctx, step); err != nil {
			return fmt.Errorf("failed to create step %d: %w", i, err)
		}

		started := x.nowFn()
		step.Status = models.StepStatusRunning
		step.StartedAt = &started
		if err := x.repos.Run.UpdateStep(ctx, step); err != nil {
			return fmt.Errorf("failed to start step %d: %w", i, err)
		}

		result, preview, execErr := x.executeAction(ctx, run, step, action, runCtx)

		finished := x.nowFn()
		step.FinishedAt = &finished
		step.Result = result
		if preview != "" {
			step.Preview = &preview
		}

		if execErr != nil {
			step.Status = models.StepStatusFailed
			msg := execErr.Error()
			step.Error = &msg
			if err := x.repos.Run.UpdateStep(ctx, step); err != nil {
				x.logger.Error("failed to finalize failed step",
					zap.Uint("run_id", run.ID),
					zap.Int("step_index", i),
					zap.Error(err))
			}
			x.metrics.RecordStep(action.Type, models.StepStatusFailed)
			x.logger.Warn("action step failed",
				zap.Uint("run_id", run.ID),
				zap.Int("step_index", i),
				zap.String("action_type", string(action.Type)),
				zap.Error(execErr))
			return fmt.Errorf("step %d (%s): %w", i, action.Type, execErr)
		}

		step.Status = models.StepStatusSucceeded
		if err := x.repos.Run.UpdateStep(ctx, step); err != nil {
			return fmt.Errorf("failed to finalize step %d: %w", i, err)
		}
		x.metrics.RecordStep(action.Type, models.StepStatusSucceeded)
	}

	return nil
}

// executeAction dispatches one action to its variant handler. The switch is
// exhaustive over the closed action set; an unknown type is an execution
// error, not a silent skip.
func (x *ActionExecutor) executeAction(ctx context.Context, run *models.Run, step *models.RunStep, action models.Action, runCtx *models.RunContext) (models.JSONMap, string, error) {
	switch action.Type {
	case models.ActionSendEmail:
		return x.executeComm(ctx, run, step, action, models.ChannelEmail, runCtx)
	case models.ActionSendSMS:
		return x.executeComm(ctx, run, step, action, models.ChannelSMS, runCtx)
	case models.ActionSendInApp:
		return x.executeComm(ctx, run, step, action, models.ChannelInApp, runCtx)
	case models.ActionAddTag:
		return x.executeAddTagOrFlag(ctx, run, action, runCtx, false)
	case models.ActionAddFlag:
		return x.executeAddTagOrFlag(ctx, run, action, runCtx, true)
	case models.ActionAttachChecklist:
		return x.executeAttachChecklist(ctx, run, action, runCtx)
	case models.ActionCreateDraftInvoice:
		return x.executeCreateDraftInvoice(ctx, run, action, runCtx)
	case models.ActionInternalReminder:
		// Deliberately stubbed; the step records a structured marker and
		// succeeds.
		var params models.ReminderParams
		if err := action.DecodeParams(&params); err != nil {
			return nil, "", err
		}
		return models.JSONMap{
			"outcome": "not_implemented",
			"message": params.Message,
		}, "", nil
	default:
		return nil, "", fmt.Errorf("unsupported action type %q", action.Type)
	}
}

// executeComm resolves recipients by policy, deduplicates them by channel
// identity and hands off to the communications collaborator. The first
// rendered message becomes the step preview. Zero resolved recipients is a
// defined success outcome, not a failure.
func (x *ActionExecutor) executeComm(ctx context.Context, run *models.Run, step *models.RunStep, action models.Action, channel models.CommChannel, runCtx *models.RunContext) (models.JSONMap, string, error) {
	var params models.CommParams
	if err := action.DecodeParams(&params); err != nil {
		return nil, "", err
	}
	if params.TemplateKey == "" {
		return nil, "", fmt.Errorf("%s action is missing template_key", action.Type)
	}

	recipients := dedupeRecipients(resolveRecipients(params.To, params.CustomAddress, channel, runCtx), channel)
	if len(recipients) == 0 {
		x.logger.Warn("communication action resolved zero recipients",
			zap.Uint("run_id", run.ID),
			zap.String("channel", string(channel)),
			zap.String("to", string(params.To)))
		return models.JSONMap{
			"outcome":         "no_recipients",
			"recipient_count": 0,
		}, "", nil
	}

	variables := x.buildCommVariables(runCtx)
	entries, err := x.comms.Emit(ctx, run.OrgID, &step.ID, params.TemplateKey, channel, recipients, variables)
	if err != nil {
		return nil, "", err
	}

	messageIDs := make([]interface{}, 0, len(entries))
	for _, entry := range entries {
		messageIDs = append(messageIDs, entry.ProviderMessageID)
	}

	preview := ""
	if len(entries) > 0 {
		preview = renderedPreview(channel, entries[0].Subject, entries[0].Body)
	}

	return models.JSONMap{
		"outcome":              "sent",
		"recipient_count":      len(recipients),
		"provider_message_ids": messageIDs,
	}, preview, nil
}

// executeAddTagOrFlag adds a value to the job's tag or flag set. Adding is
// set-semantics: a value already present leaves the job untouched, so the
// action is idempotent on re-execution. Real mutations emit an audit record
// with the before/after state.
func (x *ActionExecutor) executeAddTagOrFlag(ctx context.Context, run *models.Run, action models.Action, runCtx *models.RunContext, flag bool) (models.JSONMap, string, error) {
	var params models.TagParams
	if err := action.DecodeParams(&params); err != nil {
		return nil, "", err
	}
	if params.Value == "" {
		return nil, "", fmt.Errorf("%s action is missing value", action.Type)
	}

	if !runCtx.HasJob() {
		return nil, "", fmt.Errorf("%w: %s requires a job in the event payload", ErrMissingJobRef, action.Type)
	}

	// Re-read the job so the write sees the current sets; the run context is
	// immutable and may predate earlier steps.
	job, err := x.repos.Job.GetByID(ctx, run.OrgID, runCtx.Job.ID)
	if err != nil {
		return nil, "", err
	}
	if job == nil {
		return nil, "", fmt.Errorf("%w: job %d no longer exists", ErrMissingJobRef, runCtx.Job.ID)
	}

	present := job.HasTag(params.Value)
	auditAction := "job.tag_added"
	if flag {
		present = job.HasFlag(params.Value)
		auditAction = "job.flag_added"
	}

	if present {
		return models.JSONMap{
			"outcome": "already_present",
			"value":   params.Value,
		}, "", nil
	}

	before := models.JSONMap{"tags": append([]string{}, job.Tags...), "flags": append([]string{}, job.Flags...)}
	if flag {
		job.Flags = append(job.Flags, params.Value)
	} else {
		job.Tags = append(job.Tags, params.Value)
	}
	after := models.JSONMap{"tags": append([]string{}, job.Tags...), "flags": append([]string{}, job.Flags...)}

	if err := x.repos.Job.Update(ctx, job); err != nil {
		return nil, "", err
	}

	x.audit.Record(ctx, run.OrgID, nil, auditAction, "job", fmt.Sprintf("%d", job.ID), before, after)

	return models.JSONMap{
		"outcome": "added",
		"value":   params.Value,
	}, "", nil
}

// executeAttachChecklist copies a template's steps into new job tasks
// appended after the job's current maximum sort order. A template with zero
// steps is a hard failure rather than a silent no-op.
func (x *ActionExecutor) executeAttachChecklist(ctx context.Context, run *models.Run, action models.Action, runCtx *models.RunContext) (models.JSONMap, string, error) {
	var params models.ChecklistParams
	if err := action.DecodeParams(&params); err != nil {
		return nil, "", err
	}
	if params.TemplateID == 0 && params.TemplateName == "" {
		return nil, "", fmt.Errorf("%s action needs template_id or template_name", action.Type)
	}

	if !runCtx.HasJob() {
		return nil, "", fmt.Errorf("%w: %s requires a job in the event payload", ErrMissingJobRef, action.Type)
	}

	template, err := x.lookupChecklistTemplate(ctx, run.OrgID, params)
	if err != nil {
		return nil, "", err
	}
	if template == nil {
		return nil, "", fmt.Errorf("checklist template not found (id=%d name=%q)", params.TemplateID, params.TemplateName)
	}
	if len(template.Steps) == 0 {
		return nil, "", fmt.Errorf("%w: %q", ErrEmptyChecklist, template.Name)
	}

	maxSort, err := x.repos.Job.MaxTaskSortOrder(ctx, runCtx.Job.ID)
	if err != nil {
		return nil, "", err
	}

	runID := run.ID
	tasks := make([]*models.JobTask, 0, len(template.Steps))
	for i, title := range template.Steps {
		tasks = append(tasks, &models.JobTask{
			OrgID:     run.OrgID,
			JobID:     runCtx.Job.ID,
			Title:     title,
			SortOrder: maxSort + 1 + i,
			Source:    "automation",
			RunID:     &runID,
		})
	}

	if err := x.repos.Job.CreateTasks(ctx, tasks); err != nil {
		return nil, "", err
	}

	return models.JSONMap{
		"outcome":    "created",
		"template":   template.Name,
		"task_count": len(tasks),
	}, "", nil
}

// executeCreateDraftInvoice creates a zero-amount draft invoice scoped to the
// referenced job. The invoice is keyed by run id, so re-executing a repaired
// run cannot create a duplicate draft.
func (x *ActionExecutor) executeCreateDraftInvoice(ctx context.Context, run *models.Run, action models.Action, runCtx *models.RunContext) (models.JSONMap, string, error) {
	var params models.InvoiceParams
	if err := action.DecodeParams(&params); err != nil {
		return nil, "", err
	}

	if !runCtx.HasJob() {
		return nil, "", fmt.Errorf("%w: %s requires a job in the event payload", ErrMissingJobRef, action.Type)
	}

	runID := run.ID
	invoice := &models.Invoice{
		OrgID:       run.OrgID,
		JobID:       runCtx.Job.ID,
		Status:      "draft",
		AmountCents: 0,
		Memo:        params.Memo,
		RunID:       &runID,
	}

	created, err := x.repos.Invoice.CreateDraftIdempotent(ctx, invoice)
	if err != nil {
		return nil, "", err
	}

	outcome := "created"
	if !created {
		outcome = "already_exists"
	}

	return models.JSONMap{
		"outcome": outcome,
		"job_id":  runCtx.Job.ID,
	}, "", nil
}

// Preview describes each action's effect against the resolved context
// without executing anything. Used only by the dry-run surface; problems are
// reported as per-action warnings instead of errors so authors see the whole
// list at once.
func (x *ActionExecutor) Preview(ctx context.Context, orgID uint, actions models.ActionList, runCtx *models.RunContext) []ActionPreview {
	previews := make([]ActionPreview, 0, len(actions))

	for i, action := range actions {
		preview := ActionPreview{StepIndex: i, ActionType: action.Type}

		switch action.Type {
		case models.ActionSendEmail, models.ActionSendSMS, models.ActionSendInApp:
			x.previewComm(ctx, orgID, action, runCtx, &preview)

		case models.ActionAddTag, models.ActionAddFlag:
			var params models.TagParams
			if err := action.DecodeParams(&params); err != nil || params.Value == "" {
				preview.Warnings = append(preview.Warnings, "tag value is missing")
				break
			}
			if !runCtx.HasJob() {
				preview.Warnings = append(preview.Warnings, "no job resolved; this action would fail")
				break
			}
			kind := "tag"
			if action.Type == models.ActionAddFlag {
				kind = "flag"
			}
			preview.Preview = fmt.Sprintf("Add %s %q to job %q", kind, params.Value, runCtx.Job.Title)

		case models.ActionAttachChecklist:
			x.previewChecklist(ctx, orgID, action, runCtx, &preview)

		case models.ActionCreateDraftInvoice:
			if !runCtx.HasJob() {
				preview.Warnings = append(preview.Warnings, "no job resolved; this action would fail")
				break
			}
			preview.Preview = fmt.Sprintf("Create a zero-amount draft invoice for job %q", runCtx.Job.Title)

		case models.ActionInternalReminder:
			preview.Preview = "Internal reminder (not implemented; the step records a marker and succeeds)"

		default:
			preview.Warnings = append(preview.Warnings, fmt.Sprintf("unsupported action type %q", action.Type))
		}

		previews = append(previews, preview)
	}

	return previews
}

func (x *ActionExecutor) previewComm(ctx context.Context, orgID uint, action models.Action, runCtx *models.RunContext, preview *ActionPreview) {
	var params models.CommParams
	if err := action.DecodeParams(&params); err != nil || params.TemplateKey == "" {
		preview.Warnings = append(preview.Warnings, "template_key is missing")
		return
	}

	channel := channelForAction(action.Type)
	recipients := dedupeRecipients(resolveRecipients(params.To, params.CustomAddress, channel, runCtx), channel)
	if len(recipients) == 0 {
		preview.Warnings = append(preview.Warnings, "no recipients resolve for this event; the step would succeed without sending")
	}

	rendered, err := x.comms.RenderPreview(ctx, orgID, params.TemplateKey, channel, x.buildCommVariables(runCtx))
	if err != nil {
		preview.Warnings = append(preview.Warnings, err.Error())
		return
	}

	preview.Preview = fmt.Sprintf("%s to %d recipient(s): %s",
		channel, len(recipients), renderedPreview(channel, rendered.Subject, rendered.Body))
}

func (x *ActionExecutor) previewChecklist(ctx context.Context, orgID uint, action models.Action, runCtx *models.RunContext, preview *ActionPreview) {
	var params models.ChecklistParams
	if err := action.DecodeParams(&params); err != nil || (params.TemplateID == 0 && params.TemplateName == "") {
		preview.Warnings = append(preview.Warnings, "template_id or template_name is required")
		return
	}

	if !runCtx.HasJob() {
		preview.Warnings = append(preview.Warnings, "no job resolved; this action would fail")
	}

	template, err := x.lookupChecklistTemplate(ctx, orgID, params)
	if err != nil {
		preview.Warnings = append(preview.Warnings, err.Error())
		return
	}
	if template == nil {
		preview.Warnings = append(preview.Warnings, "checklist template not found")
		return
	}
	if len(template.Steps) == 0 {
		preview.Warnings = append(preview.Warnings, fmt.Sprintf("template %q has no steps; this action would fail", template.Name))
		return
	}

	preview.Preview = fmt.Sprintf("Create %d task(s) from template %q", len(template.Steps), template.Name)
}

func (x *ActionExecutor) lookupChecklistTemplate(ctx context.Context, orgID uint, params models.ChecklistParams) (*models.ChecklistTemplate, error) {
	if params.TemplateID != 0 {
		return x.repos.Checklist.GetTemplateByID(ctx, orgID, params.TemplateID)
	}
	return x.repos.Checklist.GetTemplateByName(ctx, orgID, params.TemplateName)
}

// buildCommVariables merges the variable bag templates render against: org
// identity, job facts, formatted address, crew summary and computed links.
func (x *ActionExecutor) buildCommVariables(runCtx *models.RunContext) models.JSONMap {
	variables := models.JSONMap{}

	if runCtx.Org != nil {
		variables["org_from_email"] = runCtx.Org.CommFromEmail
		variables["org_timezone"] = runCtx.Org.Timezone
	}

	if runCtx.Job != nil {
		variables["job_title"] = runCtx.Job.Title
		variables["job_status"] = string(runCtx.Job.Status)
		variables["job_progress"] = fmt.Sprintf("%.0f%%", runCtx.Job.Progress)
		variables["job_address"] = runCtx.Job.Address
		variables["job_link"] = fmt.Sprintf("%s/jobs/%d", x.baseURL, runCtx.Job.ID)
	}

	if len(runCtx.CrewMembers) > 0 {
		crew := ""
		for i, member := range runCtx.CrewMembers {
			if i > 0 {
				crew += ", "
			}
			crew += member.Name
		}
		variables["crew_summary"] = crew
	}

	if runCtx.PrimaryContact != nil {
		variables["contact_name"] = runCtx.PrimaryContact.Name
	}

	if runCtx.Material != nil {
		variables["material_name"] = runCtx.Material.Name
		if runCtx.Facts.StockAvailable != nil {
			variables["stock_available"] = fmt.Sprintf("%g", *runCtx.Facts.StockAvailable)
		}
	}

	if runCtx.Invoice != nil {
		variables["invoice_amount"] = fmt.Sprintf("%.2f", float64(runCtx.Invoice.AmountCents)/100)
	}

	return variables
}

// resolveRecipients maps a recipient policy to concrete recipients from the
// run context. The policy set is closed; an unknown policy yields nothing.
func resolveRecipients(policy models.RecipientPolicy, customAddress string, channel models.CommChannel, runCtx *models.RunContext) []models.Recipient {
	switch policy {
	case models.RecipientCustomer:
		if runCtx.PrimaryContact == nil {
			return nil
		}
		return []models.Recipient{{
			Name:  runCtx.PrimaryContact.Name,
			Email: runCtx.PrimaryContact.Email,
			Phone: runCtx.PrimaryContact.Phone,
		}}

	case models.RecipientOrgAdmins:
		return usersAsRecipients(runCtx.OrgUsers, models.RoleAdmin)

	case models.RecipientAssignedCrew:
		recipients := make([]models.Recipient, 0, len(runCtx.CrewMembers))
		for _, member := range runCtx.CrewMembers {
			recipients = append(recipients, models.Recipient{
				Name:  member.Name,
				Email: member.Email,
				Phone: member.Phone,
			})
		}
		return recipients

	case models.RecipientOpsTeam:
		return usersAsRecipients(runCtx.OrgUsers, models.RoleOps)

	case models.RecipientCustom:
		if customAddress == "" {
			return nil
		}
		recipient := models.Recipient{Name: customAddress}
		if channel == models.ChannelSMS {
			recipient.Phone = customAddress
		} else {
			recipient.Email = customAddress
		}
		return []models.Recipient{recipient}

	default:
		return nil
	}
}

func usersAsRecipients(users []models.OrgUser, role models.OrgRole) []models.Recipient {
	recipients := make([]models.Recipient, 0, len(users))
	for _, user := range users {
		if user.Role != role {
			continue
		}
		recipients = append(recipients, models.Recipient{
			Name:  user.Name,
			Email: user.Email,
			Phone: user.Phone,
		})
	}
	return recipients
}

// dedupeRecipients drops recipients without an identity on the channel and
// collapses duplicates, preserving first-seen order.
func dedupeRecipients(recipients []models.Recipient, channel models.CommChannel) []models.Recipient {
	seen := make(map[string]struct{}, len(recipients))
	deduped := make([]models.Recipient, 0, len(recipients))

	for _, recipient := range recipients {
		identity := recipient.Identity(channel)
		if identity == "" {
			continue
		}
		if _, ok := seen[identity]; ok {
			continue
		}
		seen[identity] = struct{}{}
		deduped = append(deduped, recipient)
	}

	return deduped
}

func channelForAction(actionType models.ActionType) models.CommChannel {
	switch actionType {
	case models.ActionSendSMS:
		return models.ChannelSMS
	case models.ActionSendInApp:
		return models.ChannelInApp
	default:
		return models.ChannelEmail
	}
}

func renderedPreview(channel models.CommChannel, subject, body string) string {
	if channel == models.ChannelEmail && subject != "" {
		return fmt.Sprintf("Subject: %s\n%s", subject, body)
	}
	return body
}
