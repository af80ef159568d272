package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/catalog"
	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
)

func newTestEvaluator(t *testing.T, now time.Time) *ConditionEvaluator {
	evaluator := NewConditionEvaluator(zaptest.NewLogger(t))
	evaluator.nowFn = func() time.Time { return now }
	return evaluator
}

func statusEvent(status, previous string) *models.Event {
	return &models.Event{
		OrgID:     1,
		EventType: models.TriggerJobStatusUpdated,
		Payload: models.JSONMap{
			"job_id":          float64(10),
			"status":          status,
			"previous_status": previous,
		},
	}
}

func jobContext(job *models.Job) *models.RunContext {
	return &models.RunContext{
		Org: &models.OrgSettings{OrgID: 1, Timezone: "UTC"},
		Job: job,
	}
}

func TestEvaluate_EmptyConditionsMatch(t *testing.T) {
	evaluator := newTestEvaluator(t, time.Now())

	result := evaluator.Evaluate(models.TriggerJobStatusUpdated, nil,
		statusEvent("completed", "in_progress"), jobContext(&models.Job{Title: "Fence"}))

	require.NoError(t, result.Err)
	assert.True(t, result.Matched)
	assert.Empty(t, result.Details)
}

func TestEvaluate_EnumEquals(t *testing.T) {
	evaluator := newTestEvaluator(t, time.Now())
	conditions := models.ConditionList{
		{Key: catalog.CondNewStatusEquals, Value: "completed"},
	}

	result := evaluator.Evaluate(models.TriggerJobStatusUpdated, conditions,
		statusEvent("completed", "in_progress"), jobContext(&models.Job{}))
	require.NoError(t, result.Err)
	assert.True(t, result.Matched)
	require.Len(t, result.Details, 1)
	assert.Equal(t, "completed", result.Details[0].Evaluated)
	assert.True(t, result.Details[0].Passed)

	result = evaluator.Evaluate(models.TriggerJobStatusUpdated, conditions,
		statusEvent("on_hold", "in_progress"), jobContext(&models.Job{}))
	require.NoError(t, result.Err)
	assert.False(t, result.Matched)
	assert.Equal(t, "on_hold", result.Details[0].Evaluated)
}

func TestEvaluate_PreviousStatus(t *testing.T) {
	evaluator := newTestEvaluator(t, time.Now())
	conditions := models.ConditionList{
		{Key: catalog.CondPreviousStatusEquals, Value: "scheduled"},
	}

	result := evaluator.Evaluate(models.TriggerJobStatusUpdated, conditions,
		statusEvent("in_progress", "scheduled"), jobContext(&models.Job{}))
	require.NoError(t, result.Err)
	assert.True(t, result.Matched)
}

func TestEvaluate_ProgressThreshold(t *testing.T) {
	evaluator := newTestEvaluator(t, time.Now())
	conditions := models.ConditionList{
		{Key: catalog.CondProgressAtLeast, Value: float64(80)},
	}
	event := &models.Event{
		EventType: models.TriggerJobProgressUpdated,
		Payload:   models.JSONMap{"job_id": float64(10), "progress": float64(85)},
	}

	result := evaluator.Evaluate(models.TriggerJobProgressUpdated, conditions, event,
		jobContext(&models.Job{Progress: 10}))
	require.NoError(t, result.Err)
	assert.True(t, result.Matched, "payload progress wins over the stale context value")
	assert.Equal(t, float64(85), result.Details[0].Evaluated)

	// Without a payload value the job's stored progress is observed.
	bareEvent := &models.Event{
		EventType: models.TriggerJobProgressUpdated,
		Payload:   models.JSONMap{"job_id": float64(10)},
	}
	result = evaluator.Evaluate(models.TriggerJobProgressUpdated, conditions, bareEvent,
		jobContext(&models.Job{Progress: 90}))
	require.NoError(t, result.Err)
	assert.True(t, result.Matched)
}

func TestEvaluate_ProgressBelowOperators(t *testing.T) {
	evaluator := newTestEvaluator(t, time.Now())
	event := &models.Event{
		EventType: models.TriggerJobProgressUpdated,
		Payload:   models.JSONMap{"job_id": float64(10), "progress": float64(50)},
	}

	// Default operator is strict less-than.
	strict := models.ConditionList{{Key: catalog.CondProgressBelow, Value: float64(50)}}
	result := evaluator.Evaluate(models.TriggerJobProgressUpdated, strict, event, jobContext(&models.Job{}))
	require.NoError(t, result.Err)
	assert.False(t, result.Matched)

	inclusive := models.ConditionList{{Key: catalog.CondProgressBelow, Operator: catalog.OperatorLTE, Value: float64(50)}}
	result = evaluator.Evaluate(models.TriggerJobProgressUpdated, inclusive, event, jobContext(&models.Job{}))
	require.NoError(t, result.Err)
	assert.True(t, result.Matched)
}

func TestEvaluate_StockBelow(t *testing.T) {
	evaluator := newTestEvaluator(t, time.Now())
	available := 3.5
	runCtx := &models.RunContext{
		Org:      &models.OrgSettings{OrgID: 1},
		Material: &models.Material{Name: "Copper pipe", StockQuantity: 5, ReservedQuantity: 1.5},
		Facts:    models.ContextFacts{StockAvailable: &available},
	}
	event := &models.Event{
		EventType: models.TriggerMaterialStockLow,
		Payload:   models.JSONMap{"material_id": float64(7)},
	}

	conditions := models.ConditionList{{Key: catalog.CondStockBelow, Value: float64(5)}}
	result := evaluator.Evaluate(models.TriggerMaterialStockLow, conditions, event, runCtx)
	require.NoError(t, result.Err)
	assert.True(t, result.Matched)
	assert.Equal(t, 3.5, result.Details[0].Evaluated)

	conditions = models.ConditionList{{Key: catalog.CondStockBelow, Value: float64(2)}}
	result = evaluator.Evaluate(models.TriggerMaterialStockLow, conditions, event, runCtx)
	require.NoError(t, result.Err)
	assert.False(t, result.Matched)
}

func TestEvaluate_UnknownConditionKeyFails(t *testing.T) {
	evaluator := newTestEvaluator(t, time.Now())
	conditions := models.ConditionList{{Key: "job.no_such_condition", Value: "x"}}

	result := evaluator.Evaluate(models.TriggerJobStatusUpdated, conditions,
		statusEvent("completed", ""), jobContext(&models.Job{}))

	require.Error(t, result.Err)
	assert.ErrorIs(t, result.Err, ErrConditionContextMissing)
	assert.False(t, result.Matched)
	require.Len(t, result.Details, 1)
	assert.False(t, result.Details[0].Passed)
}

func TestEvaluate_MissingJobContextFails(t *testing.T) {
	evaluator := newTestEvaluator(t, time.Now())
	conditions := models.ConditionList{{Key: catalog.CondNewStatusEquals, Value: "completed"}}
	noJob := &models.RunContext{Org: &models.OrgSettings{OrgID: 1}}

	result := evaluator.Evaluate(models.TriggerJobStatusUpdated, conditions,
		statusEvent("completed", ""), noJob)

	require.Error(t, result.Err)
	assert.ErrorIs(t, result.Err, ErrConditionContextMissing)
	assert.Contains(t, result.Err.Error(), "job")
	require.Len(t, result.Details, 1)
	assert.Equal(t, "missing", result.Details[0].Evaluated)
}

func TestEvaluate_JobHasTag(t *testing.T) {
	evaluator := newTestEvaluator(t, time.Now())
	runCtx := jobContext(&models.Job{Tags: []string{"vip", "warranty"}})
	conditions := models.ConditionList{{Key: catalog.CondJobHasTag, Value: "vip"}}

	result := evaluator.Evaluate(models.TriggerJobStatusUpdated, conditions,
		statusEvent("completed", ""), runCtx)
	require.NoError(t, result.Err)
	assert.True(t, result.Matched)

	conditions = models.ConditionList{{Key: catalog.CondJobHasTag, Value: "rush"}}
	result = evaluator.Evaluate(models.TriggerJobStatusUpdated, conditions,
		statusEvent("completed", ""), runCtx)
	require.NoError(t, result.Err)
	assert.False(t, result.Matched)
}

func TestEvaluate_CrewMemberAssigned(t *testing.T) {
	evaluator := newTestEvaluator(t, time.Now())
	runCtx := jobContext(&models.Job{})
	runCtx.CrewAssignment = &models.CrewAssignment{MemberIDs: []int64{4, 9}}

	conditions := models.ConditionList{{Key: catalog.CondCrewMemberAssigned, Value: float64(9)}}
	result := evaluator.Evaluate(models.TriggerJobAssigned, conditions,
		statusEvent("", ""), runCtx)
	require.NoError(t, result.Err)
	assert.True(t, result.Matched)

	conditions = models.ConditionList{{Key: catalog.CondCrewMemberAssigned, Value: float64(5)}}
	result = evaluator.Evaluate(models.TriggerJobAssigned, conditions,
		statusEvent("", ""), runCtx)
	require.NoError(t, result.Err)
	assert.False(t, result.Matched)
}

func TestEvaluate_HasPrimaryContact(t *testing.T) {
	evaluator := newTestEvaluator(t, time.Now())
	conditions := models.ConditionList{{Key: catalog.CondHasPrimaryContact, Value: true}}

	withContact := jobContext(&models.Job{})
	withContact.PrimaryContact = &models.Contact{Name: "Dana"}
	result := evaluator.Evaluate(models.TriggerJobStatusUpdated, conditions,
		statusEvent("completed", ""), withContact)
	require.NoError(t, result.Err)
	assert.True(t, result.Matched)

	without := jobContext(&models.Job{})
	result = evaluator.Evaluate(models.TriggerJobStatusUpdated, conditions,
		statusEvent("completed", ""), without)
	require.NoError(t, result.Err)
	assert.False(t, result.Matched)

	// Value false inverts the expectation.
	inverted := models.ConditionList{{Key: catalog.CondHasPrimaryContact, Value: false}}
	result = evaluator.Evaluate(models.TriggerJobStatusUpdated, inverted,
		statusEvent("completed", ""), without)
	require.NoError(t, result.Err)
	assert.True(t, result.Matched)
}

func TestEvaluate_TitleContainsIsCaseInsensitive(t *testing.T) {
	evaluator := newTestEvaluator(t, time.Now())
	runCtx := jobContext(&models.Job{Title: "Annual HVAC Maintenance"})
	conditions := models.ConditionList{{Key: catalog.CondJobTitleContains, Value: "hvac"}}

	result := evaluator.Evaluate(models.TriggerJobStatusUpdated, conditions,
		statusEvent("completed", ""), runCtx)
	require.NoError(t, result.Err)
	assert.True(t, result.Matched)
}

func TestEvaluate_ScheduledWithinHours(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	evaluator := newTestEvaluator(t, now)
	conditions := models.ConditionList{{Key: catalog.CondScheduledWithinHours, Value: float64(4)}}

	soon := now.Add(2 * time.Hour)
	result := evaluator.Evaluate(models.TriggerJobStatusUpdated, conditions,
		statusEvent("scheduled", ""), jobContext(&models.Job{ScheduleStart: &soon}))
	require.NoError(t, result.Err)
	assert.True(t, result.Matched)

	past := now.Add(-time.Hour)
	result = evaluator.Evaluate(models.TriggerJobStatusUpdated, conditions,
		statusEvent("scheduled", ""), jobContext(&models.Job{ScheduleStart: &past}))
	require.NoError(t, result.Err)
	assert.False(t, result.Matched, "a start already in the past is not upcoming")

	far := now.Add(8 * time.Hour)
	result = evaluator.Evaluate(models.TriggerJobStatusUpdated, conditions,
		statusEvent("scheduled", ""), jobContext(&models.Job{ScheduleStart: &far}))
	require.NoError(t, result.Err)
	assert.False(t, result.Matched)

	// No schedule at all cannot match.
	result = evaluator.Evaluate(models.TriggerJobStatusUpdated, conditions,
		statusEvent("scheduled", ""), jobContext(&models.Job{}))
	require.NoError(t, result.Err)
	assert.False(t, result.Matched)
}

func TestEvaluate_LocalHourEquals(t *testing.T) {
	// 12:00 UTC on a January day is 07:00 in New York.
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	evaluator := newTestEvaluator(t, now)

	runCtx := &models.RunContext{Org: &models.OrgSettings{OrgID: 1, Timezone: "America/New_York"}}
	event := &models.Event{EventType: models.TriggerTimeDaily, Payload: models.JSONMap{}}

	conditions := models.ConditionList{{Key: catalog.CondLocalHourEquals, Value: float64(7)}}
	result := evaluator.Evaluate(models.TriggerTimeDaily, conditions, event, runCtx)
	require.NoError(t, result.Err)
	assert.True(t, result.Matched)
	assert.Equal(t, 7, result.Details[0].Evaluated)

	conditions = models.ConditionList{{Key: catalog.CondLocalHourEquals, Value: float64(12)}}
	result = evaluator.Evaluate(models.TriggerTimeDaily, conditions, event, runCtx)
	require.NoError(t, result.Err)
	assert.False(t, result.Matched)
}

func TestEvaluate_OpenJobsExist(t *testing.T) {
	evaluator := newTestEvaluator(t, time.Now())
	event := &models.Event{EventType: models.TriggerTimeDaily, Payload: models.JSONMap{}}
	conditions := models.ConditionList{{Key: catalog.CondOpenJobsExist, Value: true}}

	busy := &models.RunContext{Org: &models.OrgSettings{OrgID: 1}, Facts: models.ContextFacts{OpenJobCount: 3}}
	result := evaluator.Evaluate(models.TriggerTimeDaily, conditions, event, busy)
	require.NoError(t, result.Err)
	assert.True(t, result.Matched)

	idle := &models.RunContext{Org: &models.OrgSettings{OrgID: 1}}
	result = evaluator.Evaluate(models.TriggerTimeDaily, conditions, event, idle)
	require.NoError(t, result.Err)
	assert.False(t, result.Matched)
}

func TestEvaluate_AllConditionsTracedOnNonMatch(t *testing.T) {
	evaluator := newTestEvaluator(t, time.Now())
	runCtx := jobContext(&models.Job{Tags: []string{"vip"}})
	conditions := models.ConditionList{
		{Key: catalog.CondNewStatusEquals, Value: "completed"},
		{Key: catalog.CondJobHasTag, Value: "rush"},
		{Key: catalog.CondHasPrimaryContact, Value: false},
	}

	result := evaluator.Evaluate(models.TriggerJobStatusUpdated, conditions,
		statusEvent("completed", ""), runCtx)

	require.NoError(t, result.Err)
	assert.False(t, result.Matched)
	require.Len(t, result.Details, 3, "a failed condition does not stop the trace")
	assert.True(t, result.Details[0].Passed)
	assert.False(t, result.Details[1].Passed)
	assert.True(t, result.Details[2].Passed)
}
