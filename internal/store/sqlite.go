// Package store persists lookup history in SQLite, scoped per owner.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

// ErrNotFound is returned when a lookup does not exist for the owner.
var ErrNotFound = errors.New("lookup not found")

// Store represents the SQLite storage implementation
type Store struct {
	db *sql.DB
}

// Owner identifies whose history a lookup belongs to.
type Owner struct {
	Type string `json:"type"` // "user" or "guest"
	ID   string `json:"id"`
}

func (o Owner) valid() bool {
	return strings.TrimSpace(o.Type) != "" && strings.TrimSpace(o.ID) != ""
}

// Record is one stored lookup including the full response document.
type Record struct {
	ID           string    `json:"id"`
	Owner        Owner     `json:"owner"`
	IOCValue     string    `json:"ioc_value"`
	IOCType      string    `json:"ioc_type"`
	Verdict      string    `json:"verdict"`
	Score        int       `json:"score"`
	ResponseJSON string    `json:"response_json"`
	CreatedAt    time.Time `json:"created_at"`
}

// HistoryEntry is the summary row returned by QueryHistory.
type HistoryEntry struct {
	ID        string    `json:"id"`
	IOCValue  string    `json:"ioc_value"`
	IOCType   string    `json:"ioc_type"`
	Verdict   string    `json:"verdict"`
	Timestamp time.Time `json:"timestamp"`
	Score     int       `json:"score"`
}

// HistoryQuery selects a page of an owner's history.
type HistoryQuery struct {
	Owner  Owner
	Limit  int
	Offset int
	Search string
}

// NewStore opens (creating if needed) the database at dbPath and migrates it.
func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open(sqliteDriver, dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS ioc_history (
			id TEXT PRIMARY KEY,
			owner_type TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			ioc_value TEXT NOT NULL,
			ioc_type TEXT,
			verdict TEXT NOT NULL,
			score INTEGER NOT NULL DEFAULT 0,
			response_json TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ioc_history_owner ON ioc_history(owner_type, owner_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_ioc_history_value ON ioc_history(ioc_value)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

// SaveLookup stores rec under owner and returns its id.
func (s *Store) SaveLookup(ctx context.Context, owner Owner, rec Record) (string, error) {
	if !owner.valid() {
		return "", fmt.Errorf("save lookup: owner is required")
	}
	if rec.ID == "" {
		rec.ID = "lkp_" + uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.ResponseJSON == "" {
		rec.ResponseJSON = "{}"
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO ioc_history (
		id, owner_type, owner_id, ioc_value, ioc_type, verdict, score, response_json, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, owner.Type, owner.ID, rec.IOCValue, rec.IOCType, rec.Verdict, rec.Score,
		rec.ResponseJSON, rec.CreatedAt.Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to save lookup: %w", err)
	}
	return rec.ID, nil
}

// QueryHistory returns the owner's lookups, newest first. Search is a
// case-insensitive substring match over value, type, verdict and the
// "DD/MM/YYYY HH:MM" rendering of the timestamp.
func (s *Store) QueryHistory(ctx context.Context, q HistoryQuery) ([]HistoryEntry, error) {
	if !q.Owner.valid() {
		return nil, fmt.Errorf("query history: owner is required")
	}
	limit := ClampLimit(q.Limit)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT id, ioc_value, COALESCE(ioc_type, ''), verdict, created_at, score
		FROM ioc_history
		WHERE owner_type = ? AND owner_id = ?`
	args := []interface{}{q.Owner.Type, q.Owner.ID}

	if search := strings.TrimSpace(q.Search); search != "" {
		query += ` AND (ioc_value LIKE ? ESCAPE '\' OR ioc_type LIKE ? ESCAPE '\' OR verdict LIKE ? ESCAPE '\'
			OR strftime('%d/%m/%Y %H:%M', created_at, 'unixepoch') LIKE ? ESCAPE '\')`
		pattern := "%" + escapeLike(search) + "%"
		args = append(args, pattern, pattern, pattern, pattern)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := []HistoryEntry{}
	for rows.Next() {
		var e HistoryEntry
		var ts int64
		if err := rows.Scan(&e.ID, &e.IOCValue, &e.IOCType, &e.Verdict, &ts, &e.Score); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetLookup returns one stored lookup belonging to owner.
func (s *Store) GetLookup(ctx context.Context, owner Owner, id string) (*Record, error) {
	var rec Record
	var ts int64
	err := s.db.QueryRowContext(ctx, `SELECT id, owner_type, owner_id, ioc_value, COALESCE(ioc_type, ''),
		verdict, score, response_json, created_at
		FROM ioc_history WHERE id = ? AND owner_type = ? AND owner_id = ?`,
		id, owner.Type, owner.ID,
	).Scan(&rec.ID, &rec.Owner.Type, &rec.Owner.ID, &rec.IOCValue, &rec.IOCType,
		&rec.Verdict, &rec.Score, &rec.ResponseJSON, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lookup: %w", err)
	}
	rec.CreatedAt = time.Unix(ts, 0).UTC()
	return &rec, nil
}

// DeleteHistory removes every lookup belonging to owner.
func (s *Store) DeleteHistory(ctx context.Context, owner Owner) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ioc_history WHERE owner_type = ? AND owner_id = ?`, owner.Type, owner.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete history: %w", err)
	}
	return res.RowsAffected()
}

// Reset drops every stored lookup for every owner.
func (s *Store) Reset(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ioc_history`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset history: %w", err)
	}
	return res.RowsAffected()
}

// ClampLimit applies the default and maximum page size.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
