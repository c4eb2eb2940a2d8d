// File: internal/taskstore/store_test.go
package taskstore

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectPing()
	store, err := New(context.Background(), mock, zaptest.NewLogger(t))
	require.NoError(t, err)
	return store, mock
}

func sampleOutcome() schemas.TaskOutcome {
	return schemas.TaskOutcome{
		TaskID:     "task-1",
		DeviceID:   "pixel-7",
		Goal:       "send a message",
		Status:     schemas.StatusSuccess,
		StepsTaken: 3,
		Actions: []schemas.Action{
			{ID: "a-1", TaskID: "task-1", DeviceID: "pixel-7", Kind: schemas.ActionTap, ElementID: 2},
		},
		Elapsed:    4200 * time.Millisecond,
		Reason:     "confirmation on screen",
		FinishedAt: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
	}
}

func TestNew_PingFailure(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectPing().WillReturnError(assert.AnError)
	_, err = New(context.Background(), mock, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestSaveOutcome(t *testing.T) {
	store, mock := newMockStore(t)
	outcome := sampleOutcome()

	mock.ExpectExec("INSERT INTO task_outcomes").
		WithArgs(outcome.TaskID, outcome.DeviceID, outcome.Goal, string(outcome.Status),
			outcome.StepsTaken, pgxmock.AnyArg(), int64(4200), outcome.Reason, outcome.FinishedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveOutcome(context.Background(), outcome))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveOutcome_DuplicateTaskIsIdempotent(t *testing.T) {
	store, mock := newMockStore(t)
	outcome := sampleOutcome()

	// ON CONFLICT DO NOTHING: zero rows affected is still a clean save.
	mock.ExpectExec("INSERT INTO task_outcomes").
		WithArgs(outcome.TaskID, outcome.DeviceID, outcome.Goal, string(outcome.Status),
			outcome.StepsTaken, pgxmock.AnyArg(), int64(4200), outcome.Reason, outcome.FinishedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, store.SaveOutcome(context.Background(), outcome))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveOutcome_ExecError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO task_outcomes").WillReturnError(assert.AnError)
	err := store.SaveOutcome(context.Background(), sampleOutcome())
	assert.Error(t, err)
}

func TestRecentOutcomes(t *testing.T) {
	store, mock := newMockStore(t)
	finished := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{
		"task_id", "device_id", "goal", "status", "steps_taken", "actions", "elapsed_ms", "reason", "finished_at",
	}).AddRow(
		"task-1", "pixel-7", "send a message", "success", 3,
		[]byte(`[{"id":"a-1","task_id":"task-1","device_id":"pixel-7","kind":"TAP","element_id":2,"decided_at":"0001-01-01T00:00:00Z"}]`),
		int64(4200), "confirmation on screen", finished,
	).AddRow(
		"task-2", "pixel-7", "open settings", "stuck", 3,
		[]byte(`[]`), int64(900), "no observable UI change after 3 consecutive TAP actions", finished.Add(-time.Hour),
	)

	mock.ExpectQuery("SELECT (.+) FROM task_outcomes").
		WithArgs("pixel-7", 10).
		WillReturnRows(rows)

	outcomes, err := store.RecentOutcomes(context.Background(), "pixel-7", 10)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.Equal(t, "task-1", outcomes[0].TaskID)
	assert.Equal(t, schemas.StatusSuccess, outcomes[0].Status)
	assert.Equal(t, 4200*time.Millisecond, outcomes[0].Elapsed)
	require.Len(t, outcomes[0].Actions, 1)
	assert.Equal(t, schemas.ActionTap, outcomes[0].Actions[0].Kind)

	assert.Equal(t, schemas.StatusStuck, outcomes[1].Status)
	assert.Empty(t, outcomes[1].Actions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentOutcomes_DefaultLimit(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM task_outcomes").
		WithArgs("pixel-7", 20).
		WillReturnRows(pgxmock.NewRows([]string{
			"task_id", "device_id", "goal", "status", "steps_taken", "actions", "elapsed_ms", "reason", "finished_at",
		}))

	outcomes, err := store.RecentOutcomes(context.Background(), "pixel-7", 0)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS task_outcomes").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNoopJournal(t *testing.T) {
	assert.NoError(t, NewNoop().SaveOutcome(context.Background(), sampleOutcome()))
}
