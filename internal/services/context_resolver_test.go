package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
)

func seedResolverOrg(tr *testRepos) {
	tr.orgs.settings[1] = &models.OrgSettings{OrgID: 1, Timezone: "America/New_York"}
	tr.orgs.users = []models.OrgUser{
		{BaseModel: models.BaseModel{ID: 1}, OrgID: 1, Name: "Alex", Email: "alex@org.com", Role: models.RoleAdmin},
		{BaseModel: models.BaseModel{ID: 4}, OrgID: 1, Name: "Pat", Email: "pat@org.com", Role: models.RoleCrew},
		{BaseModel: models.BaseModel{ID: 9}, OrgID: 1, Name: "Sam", Email: "sam@org.com", Role: models.RoleCrew},
		{BaseModel: models.BaseModel{ID: 12}, OrgID: 2, Name: "Other org", Email: "other@org.com", Role: models.RoleAdmin},
	}
}

func TestResolve_JobEventLoadsJobGraph(t *testing.T) {
	tr := newTestRepos()
	seedResolverOrg(tr)

	start := time.Date(2025, 6, 3, 8, 0, 0, 0, time.UTC)
	job := &models.Job{OrgID: 1, Title: "Fence repair", Status: models.JobStatusInProgress, ScheduleStart: &start}
	job.ID = 10
	tr.jobs.jobs[10] = job
	tr.jobs.assignments[10] = &models.CrewAssignment{OrgID: 1, JobID: 10, MemberIDs: []int64{4, 9}}

	jobID := uint(10)
	primary := &models.Contact{OrgID: 1, JobID: &jobID, Name: "Dana", Email: "dana@example.com", IsPrimary: true}
	primary.ID = 20
	site := &models.Contact{OrgID: 1, JobID: &jobID, Name: "Gate code holder", Phone: "+15550100"}
	site.ID = 21
	tr.contacts.contacts[20] = primary
	tr.contacts.contacts[21] = site

	resolver := NewContextResolver(tr.repos, zaptest.NewLogger(t))
	runCtx, err := resolver.Resolve(context.Background(), 1, &models.Event{
		OrgID:     1,
		EventType: models.TriggerJobStatusUpdated,
		Payload:   models.JSONMap{"job_id": float64(10), "status": "in_progress"},
	})
	require.NoError(t, err)

	require.NotNil(t, runCtx.Org)
	assert.Equal(t, "America/New_York", runCtx.Org.Timezone)
	assert.Len(t, runCtx.OrgUsers, 3, "only this org's users are loaded")

	require.NotNil(t, runCtx.Job)
	assert.Equal(t, "Fence repair", runCtx.Job.Title)
	require.NotNil(t, runCtx.Facts.ScheduleStart)
	assert.Equal(t, start, *runCtx.Facts.ScheduleStart)

	require.NotNil(t, runCtx.CrewAssignment)
	require.Len(t, runCtx.CrewMembers, 2)
	assert.Equal(t, "Pat", runCtx.CrewMembers[0].Name)
	assert.Equal(t, "Sam", runCtx.CrewMembers[1].Name)

	require.NotNil(t, runCtx.PrimaryContact)
	assert.Equal(t, "Dana", runCtx.PrimaryContact.Name)
	require.Len(t, runCtx.SiteContacts, 1)
	assert.Equal(t, "Gate code holder", runCtx.SiteContacts[0].Name)
}

func TestResolve_ExplicitPrimaryContactWins(t *testing.T) {
	tr := newTestRepos()
	seedResolverOrg(tr)

	jobID := uint(10)
	flagged := &models.Contact{OrgID: 1, JobID: &jobID, Name: "Flagged", Email: "flagged@example.com", IsPrimary: true}
	flagged.ID = 20
	chosen := &models.Contact{OrgID: 1, JobID: &jobID, Name: "Chosen", Email: "chosen@example.com"}
	chosen.ID = 21
	tr.contacts.contacts[20] = flagged
	tr.contacts.contacts[21] = chosen

	chosenID := uint(21)
	job := &models.Job{OrgID: 1, Title: "Fence repair", PrimaryContactID: &chosenID}
	job.ID = 10
	tr.jobs.jobs[10] = job

	resolver := NewContextResolver(tr.repos, zaptest.NewLogger(t))
	runCtx, err := resolver.Resolve(context.Background(), 1, &models.Event{
		OrgID:     1,
		EventType: models.TriggerJobStatusUpdated,
		Payload:   models.JSONMap{"job_id": float64(10)},
	})
	require.NoError(t, err)

	require.NotNil(t, runCtx.PrimaryContact)
	assert.Equal(t, "Chosen", runCtx.PrimaryContact.Name)
	require.Len(t, runCtx.SiteContacts, 1)
	assert.Equal(t, "Flagged", runCtx.SiteContacts[0].Name, "the is_primary flag loses to the explicit reference")
}

func TestResolve_MissingJobLeavesContextNil(t *testing.T) {
	tr := newTestRepos()
	seedResolverOrg(tr)

	resolver := NewContextResolver(tr.repos, zaptest.NewLogger(t))
	runCtx, err := resolver.Resolve(context.Background(), 1, &models.Event{
		OrgID:     1,
		EventType: models.TriggerJobStatusUpdated,
		Payload:   models.JSONMap{"job_id": float64(999)},
	})
	require.NoError(t, err, "a dangling reference is not a storage failure")

	assert.Nil(t, runCtx.Job)
	assert.Nil(t, runCtx.PrimaryContact)
	assert.NotNil(t, runCtx.Org, "org context still resolves")
}

func TestResolve_MaterialEventComputesAvailableStock(t *testing.T) {
	tr := newTestRepos()
	seedResolverOrg(tr)
	tr.materials.materials[7] = &models.Material{
		OrgID: 1, Name: "Cedar picket", StockQuantity: 10, ReservedQuantity: 6.5,
	}

	resolver := NewContextResolver(tr.repos, zaptest.NewLogger(t))
	runCtx, err := resolver.Resolve(context.Background(), 1, &models.Event{
		OrgID:     1,
		EventType: models.TriggerMaterialStockLow,
		Payload:   models.JSONMap{"material_id": float64(7)},
	})
	require.NoError(t, err)

	require.NotNil(t, runCtx.Material)
	require.NotNil(t, runCtx.Facts.StockAvailable)
	assert.Equal(t, 3.5, *runCtx.Facts.StockAvailable, "reserved stock is not available")
}

func TestResolve_InvoiceEventLoadsItsJob(t *testing.T) {
	tr := newTestRepos()
	seedResolverOrg(tr)

	job := &models.Job{OrgID: 1, Title: "Fence repair"}
	job.ID = 10
	tr.jobs.jobs[10] = job

	invoice := &models.Invoice{OrgID: 1, JobID: 10, Status: "paid", AmountCents: 125000}
	invoice.ID = 3
	tr.invoices.invoices[3] = invoice

	resolver := NewContextResolver(tr.repos, zaptest.NewLogger(t))
	runCtx, err := resolver.Resolve(context.Background(), 1, &models.Event{
		OrgID:     1,
		EventType: models.TriggerInvoicePaid,
		Payload:   models.JSONMap{"invoice_id": float64(3)},
	})
	require.NoError(t, err)

	require.NotNil(t, runCtx.Invoice)
	assert.Equal(t, int64(125000), runCtx.Invoice.AmountCents)
	require.NotNil(t, runCtx.Job, "billing conditions can reference the invoice's job")
	assert.Equal(t, "Fence repair", runCtx.Job.Title)
}

func TestResolve_DailyEventCountsOpenJobs(t *testing.T) {
	tr := newTestRepos()
	seedResolverOrg(tr)
	tr.jobs.openJobs = 4

	resolver := NewContextResolver(tr.repos, zaptest.NewLogger(t))
	runCtx, err := resolver.Resolve(context.Background(), 1, &models.Event{
		OrgID:     1,
		EventType: models.TriggerTimeDaily,
		Payload:   models.JSONMap{"day": "2025-06-02"},
	})
	require.NoError(t, err)

	assert.EqualValues(t, 4, runCtx.Facts.OpenJobCount)
	assert.Nil(t, runCtx.Job)
}
