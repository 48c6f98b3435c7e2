package dbkit

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
CREATE TABLE IF NOT EXISTS widgets (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);
`

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")
	db, err := Open(dbPath, testSchema)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCreatesParentDirAndAppliesSchema(t *testing.T) {
	db := openTestDB(t)

	var count int
	err := db.SQL.QueryRow("SELECT count(*) FROM widgets").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMutateCommitsOnSuccess(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.Mutate(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, "INSERT INTO widgets (id, name) VALUES (?, ?)", "w-1", "sprocket")
		return err
	})
	require.NoError(t, err)

	var name string
	require.NoError(t, db.SQL.QueryRow("SELECT name FROM widgets WHERE id = ?", "w-1").Scan(&name))
	assert.Equal(t, "sprocket", name)
}

func TestMutateRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.Mutate(ctx, func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, "INSERT INTO widgets (id, name) VALUES (?, ?)", "w-2", "gizmo"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.SQL.QueryRow("SELECT count(*) FROM widgets WHERE id = ?", "w-2").Scan(&count))
	assert.Equal(t, 0, count, "failed mutation must not leave a partial row behind")
}

func TestMutateRejectsDuplicateUniqueColumn(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	insert := func(id string) error {
		return db.Mutate(ctx, func(conn *sql.Conn) error {
			_, err := conn.ExecContext(ctx, "INSERT INTO widgets (id, name) VALUES (?, ?)", id, "only-one")
			return err
		})
	}
	require.NoError(t, insert("w-3"))

	err := insert("w-4")
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
}

func TestIsUniqueViolationIgnoresOtherErrors(t *testing.T) {
	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsUniqueViolation(errors.New("some other failure")))
}
