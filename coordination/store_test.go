package coordination

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segurotech/emisor/batch"
	"github.com/segurotech/emisor/db"
	"github.com/segurotech/emisor/errors"
	emisortest "github.com/segurotech/emisor/internal/testing"
)

func TestGetOrCreateOpenSession(t *testing.T) {
	store := NewStore(emisortest.CreateTestDB(t))

	session, created, err := store.GetOrCreateOpenSession(10 * time.Minute)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusNotStarted, session.SIStatus)
	assert.Equal(t, StatusNotStarted, session.ViajerosStatus)
	assert.False(t, session.FinalReportSent)

	// A second trigger inside the join window lands in the same session
	joined, created, err := store.GetOrCreateOpenSession(10 * time.Minute)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, session.ID, joined.ID)
}

func TestConcurrentTriggersShareOneSession(t *testing.T) {
	// A file-backed pool: each goroutine gets its own connection, the way
	// simultaneous triggers hit the store in production
	database, err := db.OpenWithMigrations(filepath.Join(t.TempDir(), "coordination.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	store := NewStore(database)

	const triggers = 8
	ids := make([]string, triggers)
	errs := make([]error, triggers)

	var wg sync.WaitGroup
	for i := 0; i < triggers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session, _, err := store.GetOrCreateOpenSession(10 * time.Minute)
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = session.ID
		}(i)
	}
	wg.Wait()

	unique := map[string]struct{}{}
	for i := 0; i < triggers; i++ {
		require.NoError(t, errs[i], "trigger %d", i)
		unique[ids[i]] = struct{}{}
	}
	require.Len(t, unique, 1, "simultaneous triggers must land in one session")
}

func TestFinalizedSessionIsNotJoined(t *testing.T) {
	store := NewStore(emisortest.CreateTestDB(t))

	session, _, err := store.GetOrCreateOpenSession(10 * time.Minute)
	require.NoError(t, err)
	won, err := store.TryMarkReportSent(session.ID)
	require.NoError(t, err)
	require.True(t, won)

	next, created, err := store.GetOrCreateOpenSession(10 * time.Minute)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, session.ID, next.ID)
}

func TestExpiredSessionIsNotJoined(t *testing.T) {
	store := NewStore(emisortest.CreateTestDB(t))

	session, _, err := store.GetOrCreateOpenSession(10 * time.Minute)
	require.NoError(t, err)

	// A zero-width join window makes every existing session too old
	next, created, err := store.GetOrCreateOpenSession(0)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, session.ID, next.ID)
}

func TestMarkPipelineStartedAndCompleted(t *testing.T) {
	store := NewStore(emisortest.CreateTestDB(t))
	session, _, err := store.GetOrCreateOpenSession(10 * time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.MarkPipelineStarted(session.ID, batch.TypeSI))

	loaded, err := store.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, loaded.SIStatus)
	assert.Equal(t, StatusNotStarted, loaded.ViajerosStatus)
	require.NotNil(t, loaded.SIStartedAt)
	assert.Nil(t, loaded.ViajerosStartedAt)

	require.NoError(t, store.MarkPipelineCompleted(session.ID, batch.TypeSI, StatusCompleted))

	loaded, err = store.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, loaded.SIStatus)
	require.NotNil(t, loaded.SICompletedAt)
}

func TestMarkPipelineCompletedRejectsNonTerminal(t *testing.T) {
	store := NewStore(emisortest.CreateTestDB(t))
	session, _, err := store.GetOrCreateOpenSession(10 * time.Minute)
	require.NoError(t, err)

	err = store.MarkPipelineCompleted(session.ID, batch.TypeSI, StatusRunning)
	assert.Error(t, err)
}

func TestMarkPipelineStartedUnknownSession(t *testing.T) {
	store := NewStore(emisortest.CreateTestDB(t))

	err := store.MarkPipelineStarted("session_missing", batch.TypeSI)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestTryMarkReportSentClaimsOnce(t *testing.T) {
	store := NewStore(emisortest.CreateTestDB(t))
	session, _, err := store.GetOrCreateOpenSession(10 * time.Minute)
	require.NoError(t, err)

	won, err := store.TryMarkReportSent(session.ID)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.TryMarkReportSent(session.ID)
	require.NoError(t, err)
	assert.False(t, won, "the latch is claimed exactly once")

	loaded, err := store.GetSession(session.ID)
	require.NoError(t, err)
	assert.True(t, loaded.FinalReportSent)
}

func TestExecutionAuditTrail(t *testing.T) {
	store := NewStore(emisortest.CreateTestDB(t))
	session, _, err := store.GetOrCreateOpenSession(10 * time.Minute)
	require.NoError(t, err)

	_, err = store.AppendExecution(session.ID, batch.TypeViajeros, "Asegurados Viajeros | 2025-08-28")
	require.NoError(t, err)
	require.NoError(t, store.CompleteExecution(session.ID, batch.TypeViajeros, StatusCompleted, ""))

	executions, err := store.ListExecutions(session.ID)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, batch.TypeViajeros, executions[0].Pipeline)
	assert.Equal(t, StatusCompleted, executions[0].Status)
	assert.Equal(t, "Asegurados Viajeros | 2025-08-28", executions[0].TriggerLabel)
	assert.NotNil(t, executions[0].CompletedAt)
}

func TestExecutionRunID(t *testing.T) {
	store := NewStore(emisortest.CreateTestDB(t))
	session, _, err := store.GetOrCreateOpenSession(10 * time.Minute)
	require.NoError(t, err)

	runID, err := store.LatestRunID(session.ID, batch.TypeSI)
	require.NoError(t, err)
	assert.Empty(t, runID, "no run recorded yet")

	_, err = store.AppendExecution(session.ID, batch.TypeSI, "")
	require.NoError(t, err)
	require.NoError(t, store.SetExecutionRun(session.ID, batch.TypeSI, "run-abc"))
	require.NoError(t, store.CompleteExecution(session.ID, batch.TypeSI, StatusCompleted, ""))

	runID, err = store.LatestRunID(session.ID, batch.TypeSI)
	require.NoError(t, err)
	assert.Equal(t, "run-abc", runID)

	executions, err := store.ListExecutions(session.ID)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, "run-abc", executions[0].RunID)

	// Another session's executions are invisible here
	_, err = store.TryMarkReportSent(session.ID)
	require.NoError(t, err)
	next, _, err := store.GetOrCreateOpenSession(10 * time.Minute)
	require.NoError(t, err)
	runID, err = store.LatestRunID(next.ID, batch.TypeSI)
	require.NoError(t, err)
	assert.Empty(t, runID)
}

func TestLatestTriggerLabel(t *testing.T) {
	store := NewStore(emisortest.CreateTestDB(t))
	session, _, err := store.GetOrCreateOpenSession(10 * time.Minute)
	require.NoError(t, err)

	label, err := store.LatestTriggerLabel(session.ID, batch.TypeSI)
	require.NoError(t, err)
	assert.Empty(t, label)

	_, err = store.AppendExecution(session.ID, batch.TypeSI, "Asegurados SI | 2025-08-27")
	require.NoError(t, err)
	_, err = store.AppendExecution(session.ID, batch.TypeSI, "Asegurados SI | 2025-08-28")
	require.NoError(t, err)

	label, err = store.LatestTriggerLabel(session.ID, batch.TypeSI)
	require.NoError(t, err)
	assert.Equal(t, "Asegurados SI | 2025-08-28", label)
}

func TestListRecentSessions(t *testing.T) {
	store := NewStore(emisortest.CreateTestDB(t))

	first, _, err := store.GetOrCreateOpenSession(10 * time.Minute)
	require.NoError(t, err)
	_, err = store.TryMarkReportSent(first.ID)
	require.NoError(t, err)
	second, _, err := store.GetOrCreateOpenSession(10 * time.Minute)
	require.NoError(t, err)

	sessions, err := store.ListRecentSessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	ids := []string{sessions[0].ID, sessions[1].ID}
	assert.Contains(t, ids, first.ID)
	assert.Contains(t, ids, second.ID)
}

func TestSessionHelpers(t *testing.T) {
	now := time.Now()
	earlier := now.Add(-time.Minute)

	session := &Session{
		SIStatus:          StatusCompleted,
		ViajerosStatus:    StatusNotStarted,
		SIStartedAt:       &now,
		ViajerosStartedAt: nil,
		CreatedAt:         earlier,
	}

	pipeline, sole := session.SoleTerminal()
	assert.True(t, sole)
	assert.Equal(t, batch.TypeSI, pipeline)
	assert.False(t, session.BothTerminal())
	assert.Equal(t, now, session.FirstStartedAt())

	session.ViajerosStatus = StatusRunning
	_, sole = session.SoleTerminal()
	assert.False(t, sole)

	session.ViajerosStatus = StatusFailed
	assert.True(t, session.BothTerminal())

	vjStart := now.Add(-30 * time.Second)
	session.ViajerosStartedAt = &vjStart
	assert.Equal(t, vjStart, session.FirstStartedAt())

	empty := &Session{CreatedAt: earlier}
	assert.Equal(t, earlier, empty.FirstStartedAt())
}
