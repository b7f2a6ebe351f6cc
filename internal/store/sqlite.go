// ABOUTME: SQLite implementation of the Store interface
// ABOUTME: Supports the pure-Go modernc driver and the cgo mattn driver with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/Danieldaguy/Chatroom-Testing/internal/chat"
)

// Driver names accepted by OpenSQLite.
const (
	DriverModernc = "sqlite"  // modernc.org/sqlite, pure Go
	DriverMattn   = "sqlite3" // github.com/mattn/go-sqlite3, requires cgo
)

// timeFormat is fixed width so created_at sorts lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	// writeMu orders stamping with committing, so stamped rows commit in
	// (created_at, id) order. lastStamp never moves backwards.
	writeMu   sync.Mutex
	lastStamp time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path using the
// pure-Go driver.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return OpenSQLite(DriverModernc, path)
}

// OpenSQLite opens a store with the named database/sql driver.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func OpenSQLite(driver, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if driver != DriverModernc && driver != DriverMattn {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "driver", driver)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			username    TEXT NOT NULL,
			message     TEXT NOT NULL,
			profile_pic TEXT,
			role        TEXT,
			status      TEXT,
			client_id   TEXT,
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_created
			ON messages(created_at, id);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_client_id
			ON messages(client_id) WHERE client_id IS NOT NULL;

		CREATE TABLE IF NOT EXISTS direct_messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			sender     TEXT NOT NULL,
			recipient  TEXT NOT NULL,
			message    TEXT NOT NULL,
			client_id  TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_direct_messages_created
			ON direct_messages(created_at, id);

		CREATE INDEX IF NOT EXISTS idx_direct_messages_sender
			ON direct_messages(sender);

		CREATE INDEX IF NOT EXISTS idx_direct_messages_recipient
			ON direct_messages(recipient);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_direct_messages_client_id
			ON direct_messages(client_id) WHERE client_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "messages",
			column: "role",
			apply:  `ALTER TABLE messages ADD COLUMN role TEXT`,
		},
		{
			table:  "messages",
			column: "status",
			apply:  `ALTER TABLE messages ADD COLUMN status TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// InsertMessage inserts a row into msg's collection and fills in the
// assigned ID and CreatedAt.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *chat.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.stamp()
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	createdAt := msg.CreatedAt.Format(timeFormat)

	var (
		res sql.Result
		err error
	)
	switch msg.Collection {
	case chat.CollectionMessages:
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO messages (username, message, profile_pic, role, status, client_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			msg.Author,
			msg.Body,
			nullString(msg.AvatarURL),
			nullString(msg.Role),
			nullString(msg.Status),
			nullString(msg.ClientID),
			createdAt,
		)
	case chat.CollectionDirectMessages:
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO direct_messages (sender, recipient, message, client_id, created_at)
			VALUES (?, ?, ?, ?, ?)
		`,
			msg.Author,
			msg.Recipient,
			msg.Body,
			nullString(msg.ClientID),
			createdAt,
		)
	default:
		return fmt.Errorf("unknown collection %q", msg.Collection)
	}
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateClientID
		}
		return fmt.Errorf("inserting %s row: %w", msg.Collection, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading inserted id: %w", err)
	}
	msg.ID = id

	s.logger.Debug("inserted message", "collection", msg.Collection, "id", id)
	return nil
}

// stamp returns the commit time of a new row. Callers hold writeMu.
func (s *SQLiteStore) stamp() time.Time {
	now := s.now().UTC()
	if now.Before(s.lastStamp) {
		now = s.lastStamp
	}
	s.lastStamp = now
	return now
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// selectClause returns the column list and filter for a query.
func selectClause(q Query) (columns, where string, args []any, err error) {
	switch q.Collection {
	case chat.CollectionMessages:
		return "id, username, message, profile_pic, role, status, client_id, created_at", "", nil, nil
	case chat.CollectionDirectMessages:
		columns = "id, sender, recipient, message, client_id, created_at"
		if q.Participant != "" {
			where = "WHERE sender = ? OR recipient = ?"
			args = []any{q.Participant, q.Participant}
		}
		return columns, where, args, nil
	default:
		return "", "", nil, fmt.Errorf("unknown collection %q", q.Collection)
	}
}

// ListMessages returns one page of a collection in canonical order along with
// the total row count for the filter.
func (s *SQLiteStore) ListMessages(ctx context.Context, q Query) (*Page, error) {
	q = q.normalize()

	columns, where, args, err := selectClause(q)
	if err != nil {
		return nil, err
	}
	table := string(q.Collection)

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", table, where)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting %s rows: %w", table, err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s %s
		ORDER BY created_at ASC, id ASC
		LIMIT ? OFFSET ?
	`, columns, table, where)

	rows, err := s.db.QueryContext(ctx, query, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}
	defer rows.Close()

	page := &Page{Total: total}
	for rows.Next() {
		msg, err := scanMessage(q.Collection, rows)
		if err != nil {
			return nil, err
		}
		page.Messages = append(page.Messages, *msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s rows: %w", table, err)
	}

	return page, nil
}

// GetMessageByClientID retrieves the row inserted with clientID.
// Returns ErrNotFound if there is none.
func (s *SQLiteStore) GetMessageByClientID(ctx context.Context, c chat.Collection, clientID string) (*chat.Message, error) {
	columns, _, _, err := selectClause(Query{Collection: c})
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE client_id = ?", columns, c)
	msg, err := scanMessage(c, s.db.QueryRowContext(ctx, query, clientID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return msg, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(c chat.Collection, row scanner) (*chat.Message, error) {
	msg := chat.Message{Collection: c}
	var createdAtStr string
	var avatar, role, status, clientID sql.NullString

	var err error
	switch c {
	case chat.CollectionMessages:
		err = row.Scan(&msg.ID, &msg.Author, &msg.Body, &avatar, &role, &status, &clientID, &createdAtStr)
	case chat.CollectionDirectMessages:
		err = row.Scan(&msg.ID, &msg.Author, &msg.Recipient, &msg.Body, &clientID, &createdAtStr)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning %s row: %w", c, err)
	}

	msg.AvatarURL = avatar.String
	msg.Role = role.String
	msg.Status = status.String
	msg.ClientID = clientID.String

	msg.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing %s created_at: %w", c, err)
	}
	return &msg, nil
}

// compile-time check
var _ Store = (*SQLiteStore)(nil)
