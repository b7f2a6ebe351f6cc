// ABOUTME: Contract tests for database schema to detect breaking schema changes.
// ABOUTME: Validates that expected tables, columns and indexes exist for every SQLite driver.

package contract

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Danieldaguy/Chatroom-Testing/internal/store"
)

// expectedSchema defines the contract for our database schema.
// Column names are part of the wire format: REST rows and change-feed
// records use them verbatim.
var expectedSchema = map[string][]string{
	"messages": {
		"id", "username", "message", "profile_pic",
		"role", "status", "client_id", "created_at",
	},
	"direct_messages": {
		"id", "sender", "recipient", "message",
		"client_id", "created_at",
	},
}

var drivers = []string{store.DriverModernc, store.DriverMattn}

// setupTestDB creates a temporary SQLite database with the production schema.
func setupTestDB(t *testing.T, driver string) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "contract_test.db")

	sqliteStore, err := store.OpenSQLite(driver, dbPath)
	if err != nil && driver == store.DriverMattn {
		// go-sqlite3 needs cgo
		t.Skipf("driver %s unavailable: %v", driver, err)
	}
	require.NoError(t, err, "failed to create SQLite store")

	// The store owns its connection, so open a second one for inspection
	db, err := sql.Open(driver, dbPath)
	require.NoError(t, err, "failed to open database")

	t.Cleanup(func() {
		db.Close()
		sqliteStore.Close()
	})

	return db
}

// getTableColumns queries SQLite to get column names for a table.
func getTableColumns(ctx context.Context, db *sql.DB, tableName string) (map[string]bool, error) {
	query := fmt.Sprintf("PRAGMA table_info(%s)", tableName)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying table info: %w", err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scanning column info: %w", err)
		}
		columns[name] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating columns: %w", err)
	}

	return columns, nil
}

func queryNames(t *testing.T, db *sql.DB, kind string) map[string]bool {
	t.Helper()
	rows, err := db.QueryContext(t.Context(), "SELECT name FROM sqlite_master WHERE type = ? AND name NOT LIKE 'sqlite_%'", kind)
	require.NoError(t, err, "failed to query %s names", kind)
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names[name] = true
	}
	require.NoError(t, rows.Err())
	return names
}

// TestSchemaSurface verifies that all expected tables and columns exist.
func TestSchemaSurface(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			db := setupTestDB(t, driver)

			for table, expectedCols := range expectedSchema {
				t.Run(table, func(t *testing.T) {
					actualCols, err := getTableColumns(t.Context(), db, table)
					if !assert.NoError(t, err, "failed to get columns for table %s", table) {
						return
					}
					if !assert.NotEmpty(t, actualCols, "table %s should exist and have columns", table) {
						return
					}

					for _, col := range expectedCols {
						assert.True(t, actualCols[col], "column %s.%s should exist", table, col)
					}

					for col := range actualCols {
						if !slices.Contains(expectedCols, col) {
							t.Logf("INFO: extra column %s.%s not in contract (consider adding)", table, col)
						}
					}
				})
			}
		})
	}
}

// TestTablesExist is a quick sanity check that all expected tables exist.
func TestTablesExist(t *testing.T) {
	db := setupTestDB(t, store.DriverModernc)
	actualTables := queryNames(t, db, "table")

	for table := range expectedSchema {
		assert.True(t, actualTables[table], "table %s should exist", table)
	}
}

// TestSchemaHasIndexes verifies the ordering and idempotency indexes.
func TestSchemaHasIndexes(t *testing.T) {
	db := setupTestDB(t, store.DriverModernc)
	actualIndexes := queryNames(t, db, "index")

	expectedIndexes := []string{
		"idx_messages_created",
		"idx_messages_client_id",
		"idx_direct_messages_created",
		"idx_direct_messages_sender",
		"idx_direct_messages_recipient",
		"idx_direct_messages_client_id",
	}
	for _, idx := range expectedIndexes {
		assert.True(t, actualIndexes[idx], "index %s should exist", idx)
	}
}

// TestClientIDIsUnique verifies a repeated client_id cannot create a second row.
func TestClientIDIsUnique(t *testing.T) {
	db := setupTestDB(t, store.DriverModernc)
	ctx := t.Context()

	insert := "INSERT INTO messages (username, message, client_id, created_at) VALUES ('alice', 'hi', 'tok', ?)"
	_, err := db.ExecContext(ctx, insert, "2025-01-01T00:00:00Z")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, insert, "2025-01-01T00:00:01Z")
	assert.Error(t, err, "client_id must be unique")

	// rows without a token are unconstrained
	for range 2 {
		_, err = db.ExecContext(ctx, "INSERT INTO messages (username, message, created_at) VALUES ('bob', 'yo', '2025-01-01T00:00:02Z')")
		require.NoError(t, err)
	}
}
