package coordination

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/segurotech/emisor/batch"
	"github.com/segurotech/emisor/errors"
)

// Store handles persistence of coordination sessions and execution audit
// rows.
type Store struct {
	db *sql.DB
}

// NewStore creates a new coordination store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// columnPrefix maps a pipeline type to its session column prefix. Pipeline
// types are validated before hitting SQL text.
func columnPrefix(pipeline batch.PipelineType) (string, error) {
	switch pipeline {
	case batch.TypeSI:
		return "si", nil
	case batch.TypeViajeros:
		return "viajeros", nil
	default:
		return "", errors.Newf("unknown pipeline type %q", string(pipeline))
	}
}

// GetOrCreateOpenSession joins the newest unfinalized session younger than
// the join window, or creates a fresh one. Returns the session and whether
// it was created.
//
// Lookup and insert share one write transaction: two triggers arriving at
// the same instant must not both miss the lookup and split one coordination
// window into two sessions.
func (s *Store) GetOrCreateOpenSession(joinWindow time.Duration) (*Session, bool, error) {
	cutoff := time.Now().UTC().Add(-joinWindow).Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to begin session lookup")
	}
	defer tx.Rollback()

	var id string
	created := false
	err = tx.QueryRow(`
		SELECT session_id FROM pipeline_sessions
		WHERE final_report_sent = 0 AND created_at > ?
		ORDER BY created_at DESC
		LIMIT 1
	`, cutoff).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		id = "session_" + uuid.New().String()
		now := time.Now().UTC().Format(time.RFC3339)
		if _, err := tx.Exec(`
			INSERT INTO pipeline_sessions (session_id, created_at, updated_at)
			VALUES (?, ?, ?)
		`, id, now, now); err != nil {
			return nil, false, errors.Wrap(err, "failed to create session")
		}
		created = true
	case err != nil:
		return nil, false, errors.Wrap(err, "failed to look up open session")
	}

	if err := tx.Commit(); err != nil {
		return nil, false, errors.Wrap(err, "failed to commit session lookup")
	}

	session, err := s.GetSession(id)
	if err != nil {
		return nil, false, err
	}
	return session, created, nil
}

// GetSession retrieves one session by id.
func (s *Store) GetSession(id string) (*Session, error) {
	query := `
		SELECT session_id, si_status, viajeros_status,
		       si_started_at, viajeros_started_at,
		       si_completed_at, viajeros_completed_at,
		       final_report_sent, created_at, updated_at
		FROM pipeline_sessions
		WHERE session_id = ?
	`

	var session Session
	var siStarted, vjStarted, siCompleted, vjCompleted sql.NullString
	var reportSent int
	var createdAt, updatedAt string

	err := s.db.QueryRow(query, id).Scan(
		&session.ID,
		&session.SIStatus,
		&session.ViajerosStatus,
		&siStarted,
		&vjStarted,
		&siCompleted,
		&vjCompleted,
		&reportSent,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("session %s not found", id)
		}
		return nil, errors.Wrapf(err, "failed to load session %s", id)
	}

	session.FinalReportSent = reportSent != 0
	if session.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if session.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	if session.SIStartedAt, err = parseNullTimestamp(siStarted); err != nil {
		return nil, err
	}
	if session.ViajerosStartedAt, err = parseNullTimestamp(vjStarted); err != nil {
		return nil, err
	}
	if session.SICompletedAt, err = parseNullTimestamp(siCompleted); err != nil {
		return nil, err
	}
	if session.ViajerosCompletedAt, err = parseNullTimestamp(vjCompleted); err != nil {
		return nil, err
	}
	return &session, nil
}

// MarkPipelineStarted sets a pipeline running within the session and
// records its start time.
func (s *Store) MarkPipelineStarted(sessionID string, pipeline batch.PipelineType) error {
	prefix, err := columnPrefix(pipeline)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := s.db.Exec(`
		UPDATE pipeline_sessions
		SET `+prefix+`_status = ?, `+prefix+`_started_at = ?, updated_at = ?
		WHERE session_id = ?
	`, StatusRunning, now, now, sessionID)
	if err != nil {
		return errors.Wrapf(err, "failed to mark %s started in session %s", pipeline, sessionID)
	}
	return requireOneRow(result, sessionID)
}

// MarkPipelineCompleted records a pipeline's terminal status.
func (s *Store) MarkPipelineCompleted(sessionID string, pipeline batch.PipelineType, status Status) error {
	if !status.Terminal() {
		return errors.Newf("status %q is not terminal", string(status))
	}
	prefix, err := columnPrefix(pipeline)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := s.db.Exec(`
		UPDATE pipeline_sessions
		SET `+prefix+`_status = ?, `+prefix+`_completed_at = ?, updated_at = ?
		WHERE session_id = ?
	`, status, now, now, sessionID)
	if err != nil {
		return errors.Wrapf(err, "failed to mark %s completed in session %s", pipeline, sessionID)
	}
	return requireOneRow(result, sessionID)
}

// TryMarkReportSent atomically claims the session's final-report latch.
// Returns true for exactly one caller per session; every later caller gets
// false.
func (s *Store) TryMarkReportSent(sessionID string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := s.db.Exec(`
		UPDATE pipeline_sessions
		SET final_report_sent = 1, updated_at = ?
		WHERE session_id = ? AND final_report_sent = 0
	`, now, sessionID)
	if err != nil {
		return false, errors.Wrapf(err, "failed to claim report latch for session %s", sessionID)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read rows affected")
	}
	return rows == 1, nil
}

// AppendExecution logs the start of one pipeline run within a session.
func (s *Store) AppendExecution(sessionID string, pipeline batch.PipelineType, triggerLabel string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	var label interface{}
	if triggerLabel != "" {
		label = triggerLabel
	}

	result, err := s.db.Exec(`
		INSERT INTO pipeline_executions (session_id, pipeline_type, status, trigger_label, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, pipeline, StatusRunning, label, now)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to append execution for session %s", sessionID)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read execution id")
	}
	return id, nil
}

// CompleteExecution closes the open execution row for a pipeline within a
// session.
func (s *Store) CompleteExecution(sessionID string, pipeline batch.PipelineType, status Status, errorMessage string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	var message interface{}
	if errorMessage != "" {
		message = errorMessage
	}

	_, err := s.db.Exec(`
		UPDATE pipeline_executions
		SET status = ?, completed_at = ?, error_message = ?
		WHERE session_id = ? AND pipeline_type = ? AND completed_at IS NULL
	`, status, now, message, sessionID, pipeline)
	if err != nil {
		return errors.Wrapf(err, "failed to complete execution for session %s", sessionID)
	}
	return nil
}

// SetExecutionRun records which emission run the open execution row for a
// pipeline produced. Call before the execution completes.
func (s *Store) SetExecutionRun(sessionID string, pipeline batch.PipelineType, runID string) error {
	_, err := s.db.Exec(`
		UPDATE pipeline_executions
		SET run_id = ?
		WHERE session_id = ? AND pipeline_type = ? AND completed_at IS NULL
	`, runID, sessionID, pipeline)
	if err != nil {
		return errors.Wrapf(err, "failed to record run for session %s", sessionID)
	}
	return nil
}

// LatestRunID returns the newest emission run recorded for a pipeline
// within a session, empty if the pipeline never produced one there.
func (s *Store) LatestRunID(sessionID string, pipeline batch.PipelineType) (string, error) {
	var runID sql.NullString
	err := s.db.QueryRow(`
		SELECT run_id FROM pipeline_executions
		WHERE session_id = ? AND pipeline_type = ? AND run_id IS NOT NULL
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`, sessionID, pipeline).Scan(&runID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to load run id for session %s", sessionID)
	}
	return runID.String, nil
}

// LatestTriggerLabel returns the most recent trigger label recorded for a
// pipeline in a session, empty if none was recorded.
func (s *Store) LatestTriggerLabel(sessionID string, pipeline batch.PipelineType) (string, error) {
	var label sql.NullString
	err := s.db.QueryRow(`
		SELECT trigger_label FROM pipeline_executions
		WHERE session_id = ? AND pipeline_type = ? AND trigger_label IS NOT NULL
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`, sessionID, pipeline).Scan(&label)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to load trigger label for session %s", sessionID)
	}
	return label.String, nil
}

// ListRecentSessions returns the newest sessions, most recent first.
func (s *Store) ListRecentSessions(limit int) ([]*Session, error) {
	rows, err := s.db.Query(`
		SELECT session_id FROM pipeline_sessions
		ORDER BY created_at DESC, session_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan session id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate sessions")
	}

	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		session, err := s.GetSession(id)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// ListExecutions returns a session's execution audit rows in start order.
func (s *Store) ListExecutions(sessionID string) ([]Execution, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, pipeline_type, status, trigger_label, run_id, started_at, completed_at, error_message
		FROM pipeline_executions
		WHERE session_id = ?
		ORDER BY started_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list executions for session %s", sessionID)
	}
	defer rows.Close()

	var executions []Execution
	for rows.Next() {
		var exec Execution
		var label, runID, completedAt, message sql.NullString
		var startedAt string

		if err := rows.Scan(&exec.ID, &exec.SessionID, &exec.Pipeline, &exec.Status, &label, &runID, &startedAt, &completedAt, &message); err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}
		exec.TriggerLabel = label.String
		exec.RunID = runID.String
		exec.ErrorMessage = message.String
		if exec.StartedAt, err = parseTimestamp(startedAt); err != nil {
			return nil, err
		}
		if exec.CompletedAt, err = parseNullTimestamp(completedAt); err != nil {
			return nil, err
		}
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate executions")
	}
	return executions, nil
}

func requireOneRow(result sql.Result, sessionID string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("session %s not found", sessionID)
	}
	return nil
}

func parseTimestamp(value string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid timestamp %q", value)
	}
	return ts, nil
}

func parseNullTimestamp(value sql.NullString) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	ts, err := parseTimestamp(value.String)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}
