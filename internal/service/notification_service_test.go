package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tazhate/healthreminders/internal/domain"
)

func TestResolve_CompletesOnce(t *testing.T) {
	h := newHarness(t)
	h.announceAny()
	ctx := context.Background()
	sc := h.createDaily(t)
	pending := h.futurePending(t, sc.ID)
	require.Len(t, pending, 1)

	at := utc(2024, 1, 2, 9, 5)
	h.clock.Set(at)
	details := json.RawMessage(`{"value":3}`)
	n, err := h.queue.Resolve(ctx, pending[0].ID, h.owner.ID, "completed", details)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, n.Status)
	require.NotNil(t, n.CompletedOrSkippedAt)
	assert.True(t, n.CompletedOrSkippedAt.Equal(at))

	h.clock.Set(utc(2024, 1, 2, 10, 0))
	_, err = h.queue.Resolve(ctx, pending[0].ID, h.owner.ID, "skipped", nil)
	var ar *domain.AlreadyResolvedError
	require.ErrorAs(t, err, &ar)
	assert.Equal(t, domain.StatusCompleted, ar.Status)

	stored, err := h.db.GetInstance(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.True(t, stored.CompletedOrSkippedAt.Equal(at), "first resolution is kept")
	assert.JSONEq(t, `{"value":3}`, string(stored.LogDetails))
}

func TestResolve_DoesNotTouchSchedule(t *testing.T) {
	h := newHarness(t)
	h.announceAny()
	ctx := context.Background()
	sc := h.createDaily(t)
	pending := h.futurePending(t, sc.ID)
	require.Len(t, pending, 1)

	_, err := h.queue.Resolve(ctx, pending[0].ID, h.owner.ID, "skipped", nil)
	require.NoError(t, err)

	stored, err := h.db.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	assert.True(t, stored.NextTriggerAt.Equal(*sc.NextTriggerAt))
	assert.True(t, stored.IsActive)
}

func TestResolve_Rejections(t *testing.T) {
	h := newHarness(t)
	h.announceAny()
	ctx := context.Background()
	sc := h.createDaily(t)
	id := h.futurePending(t, sc.ID)[0].ID

	_, err := h.queue.Resolve(ctx, id, h.owner.ID, "pending", nil)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "outcome", ve.Field)

	_, err = h.queue.Resolve(ctx, id, h.owner.ID, "completed", json.RawMessage(`[1,2]`))
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "log_details", ve.Field)

	_, err = h.queue.Resolve(ctx, id, h.owner.ID+1, "completed", nil)
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)

	_, err = h.queue.Resolve(ctx, id+1000, h.owner.ID, "completed", nil)
	require.ErrorAs(t, err, &nf)
}

func TestHistory_KeepsResolvedInstancesAcrossUpdates(t *testing.T) {
	h := newHarness(t)
	h.announceAny()
	ctx := context.Background()
	sc := h.createDaily(t)

	now := utc(2024, 1, 2, 9, 0)
	h.clock.Set(now)
	_, err := h.schedules.AdvanceDue(ctx, now)
	require.NoError(t, err)

	due, err := h.queue.ListPendingDue(ctx, h.owner.ID, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	_, err = h.queue.Resolve(ctx, due[0].Instance.ID, h.owner.ID, "completed", nil)
	require.NoError(t, err)

	spec := dailyAt("18:00")
	_, err = h.schedules.Update(ctx, sc.ID, h.owner.ID, UpdateScheduleInput{Spec: &spec})
	require.NoError(t, err)

	history, err := h.queue.History(ctx, sc.ID, h.owner.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.StatusCompleted, history[0].Status)
	assert.True(t, history[0].TriggerAt.Equal(now))
	assert.Equal(t, domain.StatusPending, history[1].Status)
	assert.True(t, history[1].TriggerAt.Equal(utc(2024, 1, 2, 18, 0)))
}

func TestListPendingDue_RendersTemplates(t *testing.T) {
	h := newHarness(t)
	h.announceAny()
	ctx := context.Background()

	value := 4.0
	_, err := h.schedules.Create(ctx, CreateScheduleInput{
		OwnerID:          h.owner.ID,
		GlobalVariableID: h.headache.ID,
		Spec:             dailyAt("09:00"),
		DefaultValue:     &value,
		MessageTemplate:  "Rate {variable} (usual {value})",
	})
	require.NoError(t, err)

	due, err := h.queue.ListPendingDue(ctx, h.owner.ID, h.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, due, "nothing is due before the first trigger")

	later := utc(2024, 1, 2, 9, 0)
	due, err = h.queue.ListPendingDue(ctx, h.owner.ID, later)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "Rate Headache (usual 4)", due[0].Message)
	assert.Equal(t, int64(42), due[0].TelegramID)
}

func TestUndelivered_MarkDelivered(t *testing.T) {
	h := newHarness(t)
	h.announceAny()
	ctx := context.Background()
	h.createDaily(t)

	later := utc(2024, 1, 2, 9, 1)
	h.clock.Set(later)
	list, err := h.queue.ListUndelivered(ctx, later, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, h.queue.MarkDelivered(ctx, list[0].Instance.ID))

	list, err = h.queue.ListUndelivered(ctx, later, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestEnsureOwnerLink_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.variables.EnsureOwnerLink(ctx, h.owner.ID, h.headache.ID)
	require.NoError(t, err)
	second, err := h.variables.EnsureOwnerLink(ctx, h.owner.ID, h.headache.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = h.variables.EnsureOwnerLink(ctx, h.owner.ID, h.headache.ID+99)
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "variable", nf.Entity)
}

func TestCreateGlobalVariable_ReturnsExistingByName(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	again, err := h.variables.CreateGlobalVariable(ctx, "headache", domain.CategoryCondition, "")
	require.NoError(t, err)
	assert.Equal(t, h.headache.ID, again.ID)

	_, err = h.variables.CreateGlobalVariable(ctx, "Aspirin", "drug", "mg")
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestEnsureTelegramUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	u, err := h.users.EnsureTelegramUser(ctx, 42, "ignored")
	require.NoError(t, err)
	assert.Equal(t, h.owner.ID, u.ID)

	u, err = h.users.EnsureTelegramUser(ctx, 77, "")
	require.NoError(t, err)
	assert.NotEqual(t, h.owner.ID, u.ID)
	assert.Equal(t, "UTC", u.Timezone)
}
