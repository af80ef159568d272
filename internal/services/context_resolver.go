package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
	"github.com/Reg-Kris/pyairtable-automation-service/internal/repositories"
)

// ContextResolver loads the minimal domain context needed to evaluate a
// rule's conditions and render action previews. Resolution is read-only and
// safe to call repeatedly; a missing sub-object leaves its context field nil
// rather than failing, so the evaluator can report missing context per
// condition instead of aborting unrelated rules.
type ContextResolver interface {
	Resolve(ctx context.Context, orgID uint, event *models.Event) (*models.RunContext, error)
}

// RepositoryContextResolver resolves context from the shared relational store
type RepositoryContextResolver struct {
	repos  *repositories.Repositories
	logger *zap.Logger
}

// NewContextResolver creates the repository-backed context resolver
func NewContextResolver(repos *repositories.Repositories, logger *zap.Logger) *RepositoryContextResolver {
	return &RepositoryContextResolver{
		repos:  repos,
		logger: logger,
	}
}

// Resolve builds the run context for an event. Only storage errors are
// returned; absent domain rows are reported through nil context fields.
func (r *RepositoryContextResolver) Resolve(ctx context.Context, orgID uint, event *models.Event) (*models.RunContext, error) {
	runCtx := &models.RunContext{}

	settings, err := r.repos.Org.GetSettings(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve org settings: %w", err)
	}
	runCtx.Org = settings

	users, err := r.repos.Org.ListUsers(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve org users: %w", err)
	}
	runCtx.OrgUsers = users

	trigger := string(event.EventType)
	switch {
	case strings.HasPrefix(trigger, "job."):
		if err := r.resolveJob(ctx, orgID, payloadUint(event.Payload, "job_id"), runCtx); err != nil {
			return nil, err
		}

	case strings.HasPrefix(trigger, "material."):
		material, err := r.repos.Material.GetByID(ctx, orgID, payloadUint(event.Payload, "material_id"))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve material: %w", err)
		}
		runCtx.Material = material
		if material != nil {
			available := material.StockQuantity - material.ReservedQuantity
			runCtx.Facts.StockAvailable = &available
		}

	case strings.HasPrefix(trigger, "invoice."):
		invoice, err := r.repos.Invoice.GetByID(ctx, orgID, payloadUint(event.Payload, "invoice_id"))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve invoice: %w", err)
		}
		runCtx.Invoice = invoice
		if invoice != nil {
			if err := r.resolveJob(ctx, orgID, invoice.JobID, runCtx); err != nil {
				return nil, err
			}
		}

	case event.EventType == models.TriggerTimeDaily:
		openJobs, err := r.repos.Job.CountOpenByOrg(ctx, orgID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve open job count: %w", err)
		}
		runCtx.Facts.OpenJobCount = openJobs
	}

	return runCtx, nil
}

// resolveJob loads the job plus its assignment, crew and contacts
func (r *RepositoryContextResolver) resolveJob(ctx context.Context, orgID, jobID uint, runCtx *models.RunContext) error {
	if jobID == 0 {
		return nil
	}

	job, err := r.repos.Job.GetByID(ctx, orgID, jobID)
	if err != nil {
		return fmt.Errorf("failed to resolve job: %w", err)
	}
	if job == nil {
		r.logger.Debug("event references missing job",
			zap.Uint("org_id", orgID),
			zap.Uint("job_id", jobID))
		return nil
	}
	runCtx.Job = job
	runCtx.Facts.ScheduleStart = job.ScheduleStart

	assignment, err := r.repos.Job.GetAssignment(ctx, orgID, jobID)
	if err != nil {
		return fmt.Errorf("failed to resolve crew assignment: %w", err)
	}
	runCtx.CrewAssignment = assignment
	if assignment != nil {
		runCtx.CrewMembers = filterUsersByID(runCtx.OrgUsers, assignment.MemberIDs)
	}

	contacts, err := r.repos.Contact.ListForJob(ctx, orgID, jobID)
	if err != nil {
		return fmt.Errorf("failed to resolve contacts: %w", err)
	}
	runCtx.PrimaryContact, runCtx.SiteContacts = splitContacts(ctx, r.repos.Contact, orgID, job, contacts)

	return nil
}

// splitContacts picks the job's primary contact and keeps the rest as site
// contacts. An explicit primary contact reference on the job wins over the
// is_primary flag.
func splitContacts(ctx context.Context, contactRepo repositories.ContactRepository, orgID uint, job *models.Job, contacts []models.Contact) (*models.Contact, []models.Contact) {
	var primary *models.Contact

	if job.PrimaryContactID != nil {
		if c, err := contactRepo.GetByID(ctx, orgID, *job.PrimaryContactID); err == nil && c != nil {
			primary = c
		}
	}

	site := make([]models.Contact, 0, len(contacts))
	for i := range contacts {
		c := contacts[i]
		if primary == nil && c.IsPrimary {
			primary = &c
			continue
		}
		if primary != nil && c.ID == primary.ID {
			continue
		}
		site = append(site, c)
	}

	return primary, site
}

// filterUsersByID keeps the org users whose IDs appear in the member list
func filterUsersByID(users []models.OrgUser, memberIDs []int64) []models.OrgUser {
	if len(memberIDs) == 0 {
		return nil
	}

	idSet := make(map[int64]struct{}, len(memberIDs))
	for _, id := range memberIDs {
		idSet[id] = struct{}{}
	}

	members := make([]models.OrgUser, 0, len(memberIDs))
	for _, user := range users {
		if _, ok := idSet[int64(user.ID)]; ok {
			members = append(members, user)
		}
	}

	return members
}
