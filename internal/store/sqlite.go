package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// migrations is an ordered list of SQL statements applied on startup.
// Each entry is idempotent (IF NOT EXISTS) so re-running is safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS hosts (
		id          TEXT PRIMARY KEY,
		host        TEXT NOT NULL,
		port        INTEGER NOT NULL,
		hostname    TEXT NOT NULL DEFAULT '',
		os          TEXT NOT NULL DEFAULT '',
		fingerprint TEXT NOT NULL DEFAULT '',
		system_info TEXT NOT NULL DEFAULT '',
		added_at    TEXT NOT NULL,
		last_seen   TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS rdp_sessions (
		id         TEXT PRIMARY KEY,
		host_id    TEXT NOT NULL,
		started_at TEXT NOT NULL,
		ended_at   TEXT,
		frames     INTEGER NOT NULL DEFAULT 0,
		bytes      INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rdp_sessions_host ON rdp_sessions (host_id, started_at)`,
}

// ErrNotFound is returned by updates that match no row.
var ErrNotFound = errors.New("record not found")

// SQLiteStore implements Store using a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at path and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite handles one writer at a time.

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func checkAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Hosts ---

// UpsertHost inserts h or refreshes an existing row. Empty metadata in h
// keeps what is stored, and added_at never changes after the insert.
func (s *SQLiteStore) UpsertHost(ctx context.Context, h *HostRecord) error {
	if h.AddedAt.IsZero() {
		h.AddedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hosts (id, host, port, hostname, os, fingerprint, system_info, added_at, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			host        = excluded.host,
			port        = excluded.port,
			hostname    = COALESCE(NULLIF(excluded.hostname, ''), hosts.hostname),
			os          = COALESCE(NULLIF(excluded.os, ''), hosts.os),
			fingerprint = COALESCE(NULLIF(excluded.fingerprint, ''), hosts.fingerprint),
			system_info = COALESCE(NULLIF(excluded.system_info, ''), hosts.system_info),
			last_seen   = COALESCE(excluded.last_seen, hosts.last_seen)`,
		h.ID, h.Host, h.Port, h.Hostname, h.OS, h.Fingerprint, string(h.SystemInfo),
		formatTime(h.AddedAt), nullTime(h.LastSeen))
	return err
}

const hostColumns = `id, host, port, hostname, os, fingerprint, system_info, added_at, last_seen`

func (s *SQLiteStore) GetHost(ctx context.Context, id string) (*HostRecord, error) {
	h, err := scanHost(s.db.QueryRowContext(ctx,
		`SELECT `+hostColumns+` FROM hosts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return h, err
}

func (s *SQLiteStore) ListHosts(ctx context.Context) ([]*HostRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+hostColumns+` FROM hosts ORDER BY added_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var hosts []*HostRecord
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

func (s *SQLiteStore) TouchHost(ctx context.Context, id string, t time.Time) error {
	return checkAffected(s.db.ExecContext(ctx,
		`UPDATE hosts SET last_seen = ? WHERE id = ?`, formatTime(t), id))
}

func (s *SQLiteStore) DeleteHost(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM hosts WHERE id = ?`, id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHost(row scanner) (*HostRecord, error) {
	var h HostRecord
	var info, added string
	var seen sql.NullString
	if err := row.Scan(&h.ID, &h.Host, &h.Port, &h.Hostname, &h.OS, &h.Fingerprint, &info, &added, &seen); err != nil {
		return nil, err
	}
	if info != "" {
		h.SystemInfo = []byte(info)
	}
	h.AddedAt = parseTime(added)
	if seen.Valid {
		h.LastSeen = parseTime(seen.String)
	}
	return &h, nil
}

// --- Remote-desktop sessions ---

func (s *SQLiteStore) RecordSessionStart(ctx context.Context, r *SessionRecord) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rdp_sessions (id, host_id, started_at) VALUES (?, ?, ?)`,
		r.ID, r.HostID, formatTime(r.StartedAt))
	return err
}

func (s *SQLiteStore) RecordSessionEnd(ctx context.Context, id string, endedAt time.Time, frames, bytes int64) error {
	return checkAffected(s.db.ExecContext(ctx,
		`UPDATE rdp_sessions SET ended_at = ?, frames = ?, bytes = ? WHERE id = ?`,
		formatTime(endedAt), frames, bytes, id))
}

// ListSessions returns sessions newest first. An empty hostID lists all.
func (s *SQLiteStore) ListSessions(ctx context.Context, hostID string) ([]*SessionRecord, error) {
	query := `SELECT id, host_id, started_at, ended_at, frames, bytes FROM rdp_sessions`
	var args []any
	if hostID != "" {
		query += ` WHERE host_id = ?`
		args = append(args, hostID)
	}
	query += ` ORDER BY started_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var sessions []*SessionRecord
	for rows.Next() {
		var r SessionRecord
		var started string
		var ended sql.NullString
		if err := rows.Scan(&r.ID, &r.HostID, &started, &ended, &r.Frames, &r.Bytes); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(started)
		if ended.Valid {
			t := parseTime(ended.String)
			r.EndedAt = &t
		}
		sessions = append(sessions, &r)
	}
	return sessions, rows.Err()
}
