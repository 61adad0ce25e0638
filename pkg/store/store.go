// Package store persists cache entries and aggregate lookup statistics in
// SQLite. Approximate matching scans all live entries and scores each with
// the similarity engine; the entry count bound keeps the scan cheap.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"github.com/persona-ai/persona/pkg/models"
	"github.com/persona-ai/persona/pkg/similarity"
)

var (
	// ErrNotFound is returned when no cache entry has the requested id.
	ErrNotFound = errors.New("cache entry not found")
	// ErrCorruptRecord is returned when a persisted entry fails to decode.
	ErrCorruptRecord = errors.New("corrupt cache record")
)

// Options bound and tune the store.
type Options struct {
	MaxEntries int           // eviction bound, oldest-first beyond this
	Retention  time.Duration // entries older than this are not live
	Threshold  float64       // reported in Stats; SearchMatch takes its own
}

// DefaultOptions mirror the service defaults: 10k entries, 30 days, 0.90.
func DefaultOptions() Options {
	return Options{
		MaxEntries: 10000,
		Retention:  30 * 24 * time.Hour,
		Threshold:  0.90,
	}
}

// Store is the SQLite-backed cache store.
type Store struct {
	db   *sql.DB
	opts Options
}

const createTables = `
CREATE TABLE IF NOT EXISTS cache_entries (
	id TEXT PRIMARY KEY,
	created_at DATETIME NOT NULL,
	input_text TEXT NOT NULL,
	text_hash TEXT NOT NULL,
	response TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	metadata TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_created ON cache_entries(created_at);

CREATE TABLE IF NOT EXISTS cache_stats (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	total_requests INTEGER NOT NULL DEFAULT 0,
	cache_hits INTEGER NOT NULL DEFAULT 0,
	cache_misses INTEGER NOT NULL DEFAULT 0,
	api_calls_saved INTEGER NOT NULL DEFAULT 0,
	average_response_ms REAL NOT NULL DEFAULT 0,
	last_updated DATETIME
);
INSERT OR IGNORE INTO cache_stats (id) VALUES (1);
`

// New opens the store database and runs auto-migration.
func New(dbPath string, opts Options) (*Store, error) {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultOptions().MaxEntries
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultOptions().Retention
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultOptions().Threshold
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	if _, err := db.Exec(createTables); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store db: %w", err)
	}
	return &Store{db: db, opts: opts}, nil
}

// HashText returns the SHA-256 hex digest of the input text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// NewEntryID builds an entry id from the insertion time and a content-derived
// suffix, e.g. cache_1756710000_a3f9c21b.
func NewEntryID(text string, at time.Time) string {
	return fmt.Sprintf("cache_%d_%s", at.Unix(), HashText(text)[:8])
}

// Match is a cache entry paired with its similarity to the searched text.
type Match struct {
	Entry      models.CacheEntry
	Similarity float64
}

// SearchMatch scans all live entries in insertion order and returns the best
// match at or above threshold, or nil if none qualifies. Ties on the top
// score keep the first-inserted entry. Individual malformed rows are logged
// and skipped; storage errors abort the scan.
func (s *Store) SearchMatch(ctx context.Context, text string, threshold float64) (*Match, error) {
	cutoff := time.Now().UTC().Add(-s.opts.Retention)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, input_text, text_hash, response, fingerprint, metadata
		 FROM cache_entries WHERE created_at > ? ORDER BY rowid ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("search cache: %w", err)
	}
	defer rows.Close()

	var best *Match
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			log.Printf("store: skipping malformed entry: %v", err)
			continue
		}
		score := similarity.Score(text, entry.InputText)
		if score < threshold {
			continue
		}
		// Strictly greater keeps the first-inserted entry on ties.
		if best == nil || score > best.Similarity {
			best = &Match{Entry: *entry, Similarity: score}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search cache: %w", err)
	}
	return best, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (*models.CacheEntry, error) {
	var e models.CacheEntry
	var responseJSON, metadataJSON string
	if err := r.Scan(&e.ID, &e.CreatedAt, &e.InputText, &e.TextHash,
		&responseJSON, &e.Fingerprint, &metadataJSON); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(responseJSON), &e.Response); err != nil {
		return nil, fmt.Errorf("%w: entry %s response: %v", ErrCorruptRecord, e.ID, err)
	}
	if err := e.Response.Validate(); err != nil {
		return nil, fmt.Errorf("%w: entry %s: %v", ErrCorruptRecord, e.ID, err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &e.Metadata); err != nil {
		return nil, fmt.Errorf("%w: entry %s metadata: %v", ErrCorruptRecord, e.ID, err)
	}
	return &e, nil
}

// Insert appends an entry and evicts oldest-by-timestamp entries if the
// store would exceed its entry bound. Insert and eviction are one
// transaction, so readers never observe an over-full store.
func (s *Store) Insert(ctx context.Context, entry models.CacheEntry) error {
	if entry.InputText == "" {
		return errors.New("insert: empty input text")
	}
	if err := entry.Response.Validate(); err != nil {
		return fmt.Errorf("insert: %w", err)
	}

	responseJSON, err := json.Marshal(entry.Response)
	if err != nil {
		return fmt.Errorf("insert: encode response: %w", err)
	}
	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("insert: encode metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cache_entries (id, created_at, input_text, text_hash, response, fingerprint, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.CreatedAt.UTC(), entry.InputText, entry.TextHash,
		string(responseJSON), entry.Fingerprint, string(metadataJSON)); err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&count); err != nil {
		return fmt.Errorf("insert: count: %w", err)
	}
	if excess := count - s.opts.MaxEntries; excess > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE rowid IN (
				SELECT rowid FROM cache_entries ORDER BY created_at ASC, rowid ASC LIMIT ?)`,
			excess); err != nil {
			return fmt.Errorf("insert: evict: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert: commit: %w", err)
	}
	return nil
}

// RecordOutcome updates the aggregate counters for one lookup attempt. The
// running average uses newAvg = (oldAvg*(n-1) + sample)/n with n the new
// request total, computed in a single UPDATE so concurrent outcomes never
// lose increments.
func (s *Store) RecordOutcome(ctx context.Context, hit bool, elapsed time.Duration) error {
	hits, misses, saved := 0, 1, 0
	if hit {
		hits, misses, saved = 1, 0, 1
	}
	sampleMs := float64(elapsed) / float64(time.Millisecond)

	_, err := s.db.ExecContext(ctx,
		`UPDATE cache_stats SET
			total_requests = total_requests + 1,
			cache_hits = cache_hits + ?,
			cache_misses = cache_misses + ?,
			api_calls_saved = api_calls_saved + ?,
			average_response_ms = (average_response_ms * total_requests + ?) / (total_requests + 1),
			last_updated = ?
		 WHERE id = 1`,
		hits, misses, saved, sampleMs, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// Expire removes entries strictly older than retention and returns how many
// were removed. An entry whose age equals retention exactly is kept.
func (s *Store) Expire(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire: %w", err)
	}
	return n, nil
}

// GetByID returns the entry with the given id, ErrNotFound if absent, or
// ErrCorruptRecord if the persisted row fails to decode.
func (s *Store) GetByID(ctx context.Context, id string) (*models.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, input_text, text_hash, response, fingerprint, metadata
		 FROM cache_entries WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Stats returns a snapshot of the aggregate counters plus derived figures.
func (s *Store) Stats(ctx context.Context) (models.StoreStats, error) {
	var st models.StoreStats
	var lastUpdated sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT total_requests, cache_hits, cache_misses, api_calls_saved, average_response_ms, last_updated
		 FROM cache_stats WHERE id = 1`).Scan(
		&st.TotalRequests, &st.CacheHits, &st.CacheMisses,
		&st.APICallsSaved, &st.AverageResponseMs, &lastUpdated)
	if err != nil {
		return models.StoreStats{}, fmt.Errorf("stats: %w", err)
	}
	if lastUpdated.Valid {
		st.LastUpdated = lastUpdated.Time
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&st.Entries); err != nil {
		return models.StoreStats{}, fmt.Errorf("stats: count: %w", err)
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err != nil {
		return models.StoreStats{}, fmt.Errorf("stats: page count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return models.StoreStats{}, fmt.Errorf("stats: page size: %w", err)
	}
	st.SizeBytes = pageCount * pageSize
	st.SizeMB = float64(st.SizeBytes) / (1024 * 1024)

	st.HitRatePct = st.HitRate()
	st.SimilarityThreshold = s.opts.Threshold
	return st, nil
}

// Threshold returns the configured similarity threshold.
func (s *Store) Threshold() float64 { return s.opts.Threshold }

// Retention returns the configured retention window.
func (s *Store) Retention() time.Duration { return s.opts.Retention }

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
