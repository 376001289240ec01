package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWithMigrations(t *testing.T) {
	t.Run("opens database and applies full schema", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "coordination.db")

		conn, err := OpenWithMigrations(dbPath, nil)
		require.NoError(t, err)
		require.NotNil(t, conn)
		defer conn.Close()

		for _, table := range []string{"schema_migrations", "pipeline_sessions", "pipeline_executions"} {
			var count int
			err = conn.QueryRow(
				"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table,
			).Scan(&count)
			require.NoError(t, err)
			assert.Equal(t, 1, count, "table %s should exist after migrations", table)
		}
	})

	t.Run("migrations are idempotent", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "coordination.db")

		conn, err := OpenWithMigrations(dbPath, nil)
		require.NoError(t, err)
		conn.Close()

		// Second open must skip already-applied migrations
		conn, err = OpenWithMigrations(dbPath, nil)
		require.NoError(t, err)
		defer conn.Close()

		var applied int
		err = conn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied)
		require.NoError(t, err)
		assert.Equal(t, 4, applied)
	})

	t.Run("session defaults match schema", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "coordination.db")

		conn, err := OpenWithMigrations(dbPath, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, err = conn.Exec(
			"INSERT INTO pipeline_sessions (session_id, created_at, updated_at) VALUES (?, datetime('now'), datetime('now'))",
			"sess_defaults",
		)
		require.NoError(t, err)

		var siStatus, viajerosStatus string
		var reportSent bool
		err = conn.QueryRow(
			"SELECT si_status, viajeros_status, final_report_sent FROM pipeline_sessions WHERE session_id = ?",
			"sess_defaults",
		).Scan(&siStatus, &viajerosStatus, &reportSent)
		require.NoError(t, err)
		assert.Equal(t, "not_started", siStatus)
		assert.Equal(t, "not_started", viajerosStatus)
		assert.False(t, reportSent)
	})
}
