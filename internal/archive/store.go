// Package archive persists tracker dumps and slow-request warnings in
// SQLite for offline postmortems.
//
// The archive is export-only: a tracker writes to it but never restores
// state from it.
package archive

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema
const currentSchemaVersion = 1

// ErrNotFound is returned when a requested dump does not exist.
var ErrNotFound = errors.New("archive: not found")

// Kind says which tracker dump a document came from.
type Kind string

const (
	KindInFlight Kind = "in_flight"
	KindHistory  Kind = "history"
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindInFlight, KindHistory:
		return k, nil
	}
	return "", fmt.Errorf("unknown dump kind %q", s)
}

// DumpInfo describes an archived dump without its document.
type DumpInfo struct {
	ID      int64
	Kind    Kind
	TakenAt time.Time
	Size    int
}

// Dump is an archived dump.
type Dump struct {
	DumpInfo
	Document []byte
}

// Warning is one archived warning line.
type Warning struct {
	CheckID  int64
	TakenAt  time.Time
	Position int
	Line     string
}

// Store is a SQLite-backed archive.
// Uses WAL mode and a single connection; safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open creates or opens the archive at path, applying pragmas and the
// schema. Safe to call on an existing archive.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to archive: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("archive schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// SaveDump stores a rendered dump and returns its id.
func (s *Store) SaveDump(ctx context.Context, kind Kind, takenAt time.Time, doc []byte) (int64, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return 0, fmt.Errorf("save dump: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dumps (kind, taken_at, document) VALUES (?, ?, ?)`,
		string(kind), takenAt.UnixNano(), doc,
	)
	if err != nil {
		return 0, fmt.Errorf("save dump: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("save dump: %w", err)
	}
	return id, nil
}

// SaveWarnings stores the lines of one slow-request check, in order, and
// returns the check id. An empty slice stores nothing and returns 0.
func (s *Store) SaveWarnings(ctx context.Context, takenAt time.Time, lines []string) (int64, error) {
	if len(lines) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("save warnings: %w", err)
	}
	defer tx.Rollback()

	var checkID int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(check_id), 0) + 1 FROM warnings`,
	).Scan(&checkID); err != nil {
		return 0, fmt.Errorf("save warnings: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO warnings (check_id, taken_at, position, line) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("save warnings: %w", err)
	}
	defer stmt.Close()

	for i, line := range lines {
		if _, err := stmt.ExecContext(ctx, checkID, takenAt.UnixNano(), i, line); err != nil {
			return 0, fmt.Errorf("save warnings: line %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("save warnings: %w", err)
	}
	return checkID, nil
}

// ListDumps returns up to limit dumps, newest first. limit <= 0 means all.
func (s *Store) ListDumps(ctx context.Context, limit int) ([]DumpInfo, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, taken_at, length(document)
		FROM dumps
		ORDER BY taken_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dumps: %w", err)
	}
	defer rows.Close()

	var out []DumpInfo
	for rows.Next() {
		var (
			info    DumpInfo
			kind    string
			takenAt int64
		)
		if err := rows.Scan(&info.ID, &kind, &takenAt, &info.Size); err != nil {
			return nil, fmt.Errorf("list dumps: %w", err)
		}
		info.Kind = Kind(kind)
		info.TakenAt = time.Unix(0, takenAt).UTC()
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dumps: %w", err)
	}
	return out, nil
}

// GetDump returns the dump with id, or ErrNotFound.
func (s *Store) GetDump(ctx context.Context, id int64) (*Dump, error) {
	var (
		d       Dump
		kind    string
		takenAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, taken_at, document FROM dumps WHERE id = ?`, id,
	).Scan(&d.ID, &kind, &takenAt, &d.Document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dump %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get dump %d: %w", id, err)
	}
	d.Kind = Kind(kind)
	d.TakenAt = time.Unix(0, takenAt).UTC()
	d.Size = len(d.Document)
	return &d, nil
}

// ListWarnings returns the lines of the most recent checks, oldest check
// first and in their original order. checks <= 0 means all.
func (s *Store) ListWarnings(ctx context.Context, checks int) ([]Warning, error) {
	if checks <= 0 {
		checks = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT check_id, taken_at, position, line
		FROM warnings
		WHERE check_id IN (
			SELECT DISTINCT check_id FROM warnings ORDER BY check_id DESC LIMIT ?
		)
		ORDER BY check_id, position
	`, checks)
	if err != nil {
		return nil, fmt.Errorf("list warnings: %w", err)
	}
	defer rows.Close()

	var out []Warning
	for rows.Next() {
		var (
			w       Warning
			takenAt int64
		)
		if err := rows.Scan(&w.CheckID, &takenAt, &w.Position, &w.Line); err != nil {
			return nil, fmt.Errorf("list warnings: %w", err)
		}
		w.TakenAt = time.Unix(0, takenAt).UTC()
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list warnings: %w", err)
	}
	return out, nil
}

// verifyPragma checks a pragma value. Used by tests.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
