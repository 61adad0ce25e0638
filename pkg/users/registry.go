// Package users keeps the per-fingerprint activity ledger in SQLite.
// Records are created on first contact and updated on every request;
// nothing in this package ever deletes them.
package users

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/persona-ai/persona/pkg/models"
)

var (
	// ErrNotFound is returned when no record exists for a fingerprint.
	ErrNotFound = errors.New("user record not found")
	// ErrCorruptRecord is returned when a persisted record fails to decode.
	ErrCorruptRecord = errors.New("corrupt user record")
)

const (
	maxSetValues    = 50  // bound on observed addresses/agents/countries
	maxRequestTimes = 100 // most-recent request instants kept
)

// Registry is the SQLite-backed user ledger.
type Registry struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS users (
	fingerprint TEXT PRIMARY KEY,
	first_seen DATETIME NOT NULL,
	last_seen DATETIME NOT NULL,
	request_count INTEGER NOT NULL,
	addresses TEXT NOT NULL,
	client_strings TEXT NOT NULL,
	countries TEXT NOT NULL,
	request_times TEXT NOT NULL
);
`

// New opens the registry database and runs auto-migration.
func New(dbPath string) (*Registry, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open users db: %w", err)
	}
	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate users db: %w", err)
	}
	return &Registry{db: db}, nil
}

// Touch records one request from the caller: creates the record on first
// contact, otherwise bumps counters, appends novel observed values, and
// appends the request instant (capped to the most recent 100).
func (r *Registry) Touch(ctx context.Context, fp string, caller models.Caller) (*models.UserRecord, error) {
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("touch: begin: %w", err)
	}
	defer tx.Rollback()

	rec, err := getTx(ctx, tx, fp)
	switch {
	case errors.Is(err, ErrNotFound):
		rec = &models.UserRecord{
			Fingerprint:   fp,
			FirstSeen:     now,
			LastSeen:      now,
			RequestCount:  1,
			Addresses:     []string{caller.Address},
			ClientStrings: []string{caller.ClientString},
			Countries:     []string{caller.Country},
			RequestTimes:  []time.Time{now},
		}
	case err != nil:
		return nil, err
	default:
		rec.LastSeen = now
		rec.RequestCount++
		rec.Addresses = appendNovel(rec.Addresses, caller.Address)
		rec.ClientStrings = appendNovel(rec.ClientStrings, caller.ClientString)
		rec.Countries = appendNovel(rec.Countries, caller.Country)
		rec.RequestTimes = append(rec.RequestTimes, now)
		if n := len(rec.RequestTimes); n > maxRequestTimes {
			rec.RequestTimes = rec.RequestTimes[n-maxRequestTimes:]
		}
	}

	if err := putTx(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("touch: commit: %w", err)
	}
	return rec, nil
}

// appendNovel appends v if it is not already present, keeping the set bounded.
func appendNovel(set []string, v string) []string {
	for _, existing := range set {
		if existing == v {
			return set
		}
	}
	if len(set) >= maxSetValues {
		return set
	}
	return append(set, v)
}

// Get returns the record for a fingerprint, or ErrNotFound.
func (r *Registry) Get(ctx context.Context, fp string) (*models.UserRecord, error) {
	return getQuerier(ctx, r.db, fp)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getTx(ctx context.Context, tx *sql.Tx, fp string) (*models.UserRecord, error) {
	return getQuerier(ctx, tx, fp)
}

func getQuerier(ctx context.Context, q querier, fp string) (*models.UserRecord, error) {
	row := q.QueryRowContext(ctx,
		`SELECT fingerprint, first_seen, last_seen, request_count, addresses, client_strings, countries, request_times
		 FROM users WHERE fingerprint = ?`, fp)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(r rowScanner) (*models.UserRecord, error) {
	var rec models.UserRecord
	var addresses, clients, countries, times string
	if err := r.Scan(&rec.Fingerprint, &rec.FirstSeen, &rec.LastSeen, &rec.RequestCount,
		&addresses, &clients, &countries, &times); err != nil {
		return nil, err
	}
	for _, field := range []struct {
		raw  string
		dest any
	}{
		{addresses, &rec.Addresses},
		{clients, &rec.ClientStrings},
		{countries, &rec.Countries},
		{times, &rec.RequestTimes},
	} {
		if err := json.Unmarshal([]byte(field.raw), field.dest); err != nil {
			return nil, fmt.Errorf("%w: user %s: %v", ErrCorruptRecord, rec.Fingerprint, err)
		}
	}
	return &rec, nil
}

func putTx(ctx context.Context, tx *sql.Tx, rec *models.UserRecord) error {
	addresses, err := json.Marshal(rec.Addresses)
	if err != nil {
		return fmt.Errorf("touch: encode addresses: %w", err)
	}
	clients, err := json.Marshal(rec.ClientStrings)
	if err != nil {
		return fmt.Errorf("touch: encode client strings: %w", err)
	}
	countries, err := json.Marshal(rec.Countries)
	if err != nil {
		return fmt.Errorf("touch: encode countries: %w", err)
	}
	times, err := json.Marshal(rec.RequestTimes)
	if err != nil {
		return fmt.Errorf("touch: encode request times: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO users
		 (fingerprint, first_seen, last_seen, request_count, addresses, client_strings, countries, request_times)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Fingerprint, rec.FirstSeen, rec.LastSeen, rec.RequestCount,
		string(addresses), string(clients), string(countries), string(times))
	if err != nil {
		return fmt.Errorf("touch: upsert: %w", err)
	}
	return nil
}

// All returns a snapshot of every user record, most recently active first.
func (r *Registry) All(ctx context.Context) ([]models.UserRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT fingerprint, first_seen, last_seen, request_count, addresses, client_strings, countries, request_times
		 FROM users ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var records []models.UserRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Count returns the number of tracked users.
func (r *Registry) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// Close releases the database connection.
func (r *Registry) Close() error {
	return r.db.Close()
}
