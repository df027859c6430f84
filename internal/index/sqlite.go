package index

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/mailsync/internal/model"
)

// defaultPageSize bounds searches that do not specify a limit.
const defaultPageSize = 50

// SQLiteStore implements Sink using a local SQLite database and adds
// search and lookup on top of it.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Sink = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Index inserts or replaces a batch of messages. A message refetched
// after a reconnect replaces the earlier row for the same
// account/folder/UID instead of duplicating it.
func (s *SQLiteStore) Index(ctx context.Context, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT OR REPLACE INTO messages (
			id, uid, account_id, folder,
			from_addr, to_addrs, cc_addrs, bcc_addrs,
			subject, text_body, html_body, attachments,
			date, flags, thread_id, is_read, is_starred, indexed_at
		) VALUES (
			?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?, ?, ?
		)`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		args, err := messageArgs(m)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("indexing message %s: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

// Update applies a partial update: only the fields set in the request
// are written, everything else keeps its stored value.
func (s *SQLiteStore) Update(ctx context.Context, id string, fields UpdateFields) error {
	var sets []string
	var args []interface{}

	if fields.IsRead != nil {
		sets = append(sets, "is_read = ?")
		args = append(args, boolToInt(*fields.IsRead))
	}
	if fields.IsStarred != nil {
		sets = append(sets, "is_starred = ?")
		args = append(args, boolToInt(*fields.IsStarred))
	}
	if fields.Folder != nil {
		sets = append(sets, "folder = ?")
		args = append(args, *fields.Folder)
	}
	if fields.Flags != nil {
		flagsJSON, err := marshalStrings(fields.Flags)
		if err != nil {
			return fmt.Errorf("marshaling flags for message %s: %w", id, err)
		}
		sets = append(sets, "flags = ?")
		args = append(args, flagsJSON)
	}

	if len(sets) == 0 {
		// Nothing to change; still report unknown IDs.
		_, err := s.Get(ctx, id)
		return err
	}

	sets = append(sets, "indexed_at = ?")
	args = append(args, time.Now().UTC(), id)

	query := "UPDATE messages SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating message %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating message %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a message by its ID. Unknown IDs are ignored.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting message %s: %w", id, err)
	}
	return nil
}

// Ping verifies the database connection is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging index: %w", err)
	}
	return nil
}

// Search retrieves messages matching the filter, newest first.
func (s *SQLiteStore) Search(
	ctx context.Context,
	f SearchFilter,
) ([]model.Message, error) {
	var conditions []string
	var args []interface{}

	if f.AccountID != "" {
		conditions = append(conditions, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.Folder != "" {
		conditions = append(conditions, "folder = ?")
		args = append(args, f.Folder)
	}
	if f.Query != "" {
		conditions = append(conditions, "(subject LIKE ? OR text_body LIKE ? OR from_addr LIKE ?)")
		q := "%" + f.Query + "%"
		args = append(args, q, q, q)
	}

	query := "SELECT * FROM messages"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY date DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	query += fmt.Sprintf(" LIMIT %d", limit)
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", f.Offset)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}

	return msgs, rows.Err()
}

// Get retrieves a single message by its ID. Returns ErrNotFound when
// no message has that ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Message, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT * FROM messages WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("getting message %s: %w", id, err)
		}
		return nil, ErrNotFound
	}

	m, err := scanMessage(rows)
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", id, err)
	}
	return &m, nil
}

// Stats counts the indexed messages, overall and per account.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT account_id, COUNT(*) FROM messages GROUP BY account_id",
	)
	if err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}
	defer rows.Close()

	stats := &Stats{ByAccount: make(map[string]int)}
	for rows.Next() {
		var accountID string
		var count int
		if err := rows.Scan(&accountID, &count); err != nil {
			return nil, fmt.Errorf("scanning stats row: %w", err)
		}
		stats.ByAccount[accountID] = count
		stats.Total += count
	}

	return stats, rows.Err()
}

// messageArgs flattens a message into the column order used by Index.
func messageArgs(m model.Message) ([]interface{}, error) {
	toJSON, err := marshalStrings(m.To)
	if err != nil {
		return nil, fmt.Errorf("marshaling to_addrs for message %s: %w", m.ID, err)
	}
	ccJSON, err := marshalStrings(m.Cc)
	if err != nil {
		return nil, fmt.Errorf("marshaling cc_addrs for message %s: %w", m.ID, err)
	}
	bccJSON, err := marshalStrings(m.Bcc)
	if err != nil {
		return nil, fmt.Errorf("marshaling bcc_addrs for message %s: %w", m.ID, err)
	}
	flagsJSON, err := marshalStrings(m.Flags)
	if err != nil {
		return nil, fmt.Errorf("marshaling flags for message %s: %w", m.ID, err)
	}

	// Attachment content stays out of the index; only metadata is
	// stored.
	attJSON, err := json.Marshal(m.Attachments)
	if err != nil {
		return nil, fmt.Errorf("marshaling attachments for message %s: %w", m.ID, err)
	}

	return []interface{}{
		m.ID, m.UID, m.AccountID, m.Folder,
		m.From, toJSON, ccJSON, bccJSON,
		m.Subject, m.Text, m.HTML, string(attJSON),
		m.Date.UTC(), flagsJSON, m.ThreadID,
		boolToInt(m.IsRead), boolToInt(m.IsStarred), time.Now().UTC(),
	}, nil
}

// scanMessage scans a message row from a sqlx.Rows result set.
func scanMessage(rows *sqlx.Rows) (model.Message, error) {
	var (
		m          model.Message
		toJSON     string
		ccJSON     string
		bccJSON    string
		flagsJSON  string
		attJSON    string
		date       time.Time
		readInt    int
		starredInt int
		indexedAt  time.Time
	)

	err := rows.Scan(
		&m.ID, &m.UID, &m.AccountID, &m.Folder,
		&m.From, &toJSON, &ccJSON, &bccJSON,
		&m.Subject, &m.Text, &m.HTML, &attJSON,
		&date, &flagsJSON, &m.ThreadID,
		&readInt, &starredInt, &indexedAt,
	)
	if err != nil {
		return model.Message{}, fmt.Errorf("scanning message row: %w", err)
	}

	m.Date = date
	m.IsRead = readInt != 0
	m.IsStarred = starredInt != 0

	if m.To, err = unmarshalStrings(toJSON); err != nil {
		return model.Message{}, fmt.Errorf("unmarshaling to_addrs: %w", err)
	}
	if m.Cc, err = unmarshalStrings(ccJSON); err != nil {
		return model.Message{}, fmt.Errorf("unmarshaling cc_addrs: %w", err)
	}
	if m.Bcc, err = unmarshalStrings(bccJSON); err != nil {
		return model.Message{}, fmt.Errorf("unmarshaling bcc_addrs: %w", err)
	}
	if m.Flags, err = unmarshalStrings(flagsJSON); err != nil {
		return model.Message{}, fmt.Errorf("unmarshaling flags: %w", err)
	}
	if attJSON != "" && attJSON != "[]" {
		if err := json.Unmarshal([]byte(attJSON), &m.Attachments); err != nil {
			return model.Message{}, fmt.Errorf("unmarshaling attachments: %w", err)
		}
	}

	return m, nil
}

// marshalStrings encodes a string slice as JSON, with nil stored as an
// empty array.
func marshalStrings(ss []string) (string, error) {
	if ss == nil {
		return "[]", nil
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// unmarshalStrings decodes a JSON string array, returning nil for an
// empty one.
func unmarshalStrings(s string) ([]string, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
