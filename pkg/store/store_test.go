package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/persona-ai/persona/pkg/models"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "store_test.db")
	s, err := New(dbPath, opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testProfile() models.PersonalityProfile {
	return models.PersonalityProfile{
		Openness:          0.7,
		Conscientiousness: 0.6,
		Extraversion:      0.8,
		Agreeableness:     0.5,
		Neuroticism:       0.3,
		MBTIType:          "ENFP",
		ToneAnalysis:      "upbeat",
		WritingStyle:      "casual",
		Summary:           "an outgoing optimist",
	}
}

func testEntry(id, text string, at time.Time) models.CacheEntry {
	return models.CacheEntry{
		ID:          id,
		CreatedAt:   at,
		InputText:   text,
		TextHash:    HashText(text),
		Response:    testProfile(),
		Fingerprint: "abcdef0123456789",
		Metadata: models.EntryMetadata{
			TextLength:   len(text),
			Address:      "203.0.113.7",
			ClientString: "test-agent",
			Country:      "unknown",
		},
	}
}

func TestInsertAndSearchIdentical(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	text := "I love meeting new people and going to parties."

	if err := s.Insert(ctx, testEntry("e1", text, time.Now().UTC())); err != nil {
		t.Fatal(err)
	}

	m, err := s.SearchMatch(ctx, text, 0.90)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil {
		t.Fatal("expected a match for identical text")
	}
	if m.Similarity < 0.90 {
		t.Errorf("similarity = %g, want >= 0.90", m.Similarity)
	}
	if m.Entry.ID != "e1" {
		t.Errorf("matched entry %s, want e1", m.Entry.ID)
	}
}

func TestSearchMissBelowThreshold(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	if err := s.Insert(ctx, testEntry("e1", "the weather has been lovely all week", time.Now().UTC())); err != nil {
		t.Fatal(err)
	}

	m, err := s.SearchMatch(ctx, "quarterly financial projections indicate substantial revenue growth across all divisions", 0.90)
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Errorf("expected no match, got %s at %g", m.Entry.ID, m.Similarity)
	}
}

func TestSearchTieKeepsFirstInserted(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	text := "a perfectly ordinary sentence about nothing in particular"
	now := time.Now().UTC()

	_ = s.Insert(ctx, testEntry("first", text, now))
	_ = s.Insert(ctx, testEntry("second", text, now))

	m, err := s.SearchMatch(ctx, text, 0.90)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.Entry.ID != "first" {
		t.Errorf("tie should keep first-inserted entry, got %+v", m)
	}
}

func TestEvictionOldestFirst(t *testing.T) {
	s := newTestStore(t, Options{MaxEntries: 3})
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i := range 5 {
		e := testEntry(fmt.Sprintf("e%d", i), fmt.Sprintf("entirely distinct sample text number %d", i),
			base.Add(time.Duration(i)*time.Minute))
		if err := s.Insert(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Entries != 3 {
		t.Errorf("entries = %d, want 3", st.Entries)
	}

	for _, gone := range []string{"e0", "e1"} {
		if _, err := s.GetByID(ctx, gone); !errors.Is(err, ErrNotFound) {
			t.Errorf("entry %s should have been evicted, err = %v", gone, err)
		}
	}
	for _, kept := range []string{"e2", "e3", "e4"} {
		if _, err := s.GetByID(ctx, kept); err != nil {
			t.Errorf("entry %s should have been kept: %v", kept, err)
		}
	}
}

func TestExpireRemovesOnlyOldEntries(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	now := time.Now().UTC()

	_ = s.Insert(ctx, testEntry("old", "some text written long ago", now.Add(-40*24*time.Hour)))
	_ = s.Insert(ctx, testEntry("fresh", "some text written just now", now))

	removed, err := s.Expire(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := s.GetByID(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old entry should be gone, err = %v", err)
	}
	if _, err := s.GetByID(ctx, "fresh"); err != nil {
		t.Errorf("fresh entry should remain: %v", err)
	}
}

func TestExpiredEntriesNotSearched(t *testing.T) {
	s := newTestStore(t, Options{Retention: 24 * time.Hour})
	ctx := context.Background()
	text := "this exact text is cached but stale"

	_ = s.Insert(ctx, testEntry("stale", text, time.Now().UTC().Add(-48*time.Hour)))

	m, err := s.SearchMatch(ctx, text, 0.90)
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Errorf("expired entry must not match, got %s", m.Entry.ID)
	}
}

func TestRecordOutcomeHitRate(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	for range 3 {
		if err := s.RecordOutcome(ctx, true, 10*time.Millisecond); err != nil {
			t.Fatal(err)
		}
	}
	for range 2 {
		if err := s.RecordOutcome(ctx, false, 10*time.Millisecond); err != nil {
			t.Fatal(err)
		}
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalRequests != 5 || st.CacheHits != 3 || st.CacheMisses != 2 {
		t.Errorf("counters = %d/%d/%d, want 5/3/2", st.TotalRequests, st.CacheHits, st.CacheMisses)
	}
	if st.APICallsSaved != 3 {
		t.Errorf("api calls saved = %d, want 3", st.APICallsSaved)
	}
	if st.HitRatePct != 60.0 {
		t.Errorf("hit rate = %g, want 60.0", st.HitRatePct)
	}
}

func TestRunningAverage(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	_ = s.RecordOutcome(ctx, true, 10*time.Millisecond)
	_ = s.RecordOutcome(ctx, false, 20*time.Millisecond)

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(st.AverageResponseMs-15.0) > 1e-6 {
		t.Errorf("average = %g, want 15.0", st.AverageResponseMs)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	s := newTestStore(t, Options{})
	if _, err := s.GetByID(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCorruptEntrySkippedInSearch(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	text := "a valid entry that should still be found"

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (id, created_at, input_text, text_hash, response, fingerprint, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"bad", time.Now().UTC(), text, HashText(text), "{not json", "fp", "{}")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(ctx, testEntry("good", text, time.Now().UTC())); err != nil {
		t.Fatal(err)
	}

	m, err := s.SearchMatch(ctx, text, 0.90)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.Entry.ID != "good" {
		t.Errorf("expected the valid entry, got %+v", m)
	}

	if _, err := s.GetByID(ctx, "bad"); !errors.Is(err, ErrCorruptRecord) {
		t.Errorf("GetByID on corrupt row: err = %v, want ErrCorruptRecord", err)
	}
}

func TestInsertRejectsInvalidEntry(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	e := testEntry("x", "", time.Now().UTC())
	if err := s.Insert(ctx, e); err == nil {
		t.Error("empty input text should be rejected")
	}

	e = testEntry("y", "some text", time.Now().UTC())
	e.Response.Openness = 1.5
	if err := s.Insert(ctx, e); err == nil {
		t.Error("out-of-range trait score should be rejected")
	}
}

func TestNewEntryID(t *testing.T) {
	at := time.Unix(1756710000, 0)
	id := NewEntryID("hello", at)
	want := fmt.Sprintf("cache_1756710000_%s", HashText("hello")[:8])
	if id != want {
		t.Errorf("id = %s, want %s", id, want)
	}
}
