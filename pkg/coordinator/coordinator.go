// Package coordinator orchestrates a cache lookup: rate limiting, user
// tracking, similarity search, and outcome accounting. The Lookup/Commit
// split keeps the slow external analysis call outside every store operation.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/persona-ai/persona/pkg/fingerprint"
	"github.com/persona-ai/persona/pkg/models"
	"github.com/persona-ai/persona/pkg/ratelimit"
	"github.com/persona-ai/persona/pkg/store"
	"github.com/persona-ai/persona/pkg/users"
)

// Kind classifies the outcome of a Lookup.
type Kind int

const (
	// KindRateLimited means the caller exceeded its request quota.
	KindRateLimited Kind = iota
	// KindHit means a cached entry satisfied the lookup.
	KindHit
	// KindMiss means no entry qualified; the caller should analyze and Commit.
	KindMiss
)

// Result is the outcome of one Lookup.
type Result struct {
	Kind        Kind
	Fingerprint string
	Elapsed     time.Duration

	// Hit fields.
	Profile    *models.PersonalityProfile
	Similarity float64
	CachedAt   time.Time
	EntryID    string

	// Rate-limit fields.
	Remaining int
	RetryAt   time.Time
}

// Coordinator wires the rate limiter, user registry, and cache store.
type Coordinator struct {
	store     *store.Store
	users     *users.Registry
	limiter   *ratelimit.Limiter
	threshold float64
}

// New creates a Coordinator matching entries at or above threshold.
func New(s *store.Store, u *users.Registry, l *ratelimit.Limiter, threshold float64) *Coordinator {
	return &Coordinator{store: s, users: u, limiter: l, threshold: threshold}
}

// Lookup runs one cache lookup for text on behalf of caller. Rate-limited
// attempts are counted in the aggregate statistics as miss-equivalents.
// Storage failures propagate; they are never reported as a miss.
func (c *Coordinator) Lookup(ctx context.Context, text string, caller models.Caller) (*Result, error) {
	start := time.Now()
	fp := fingerprint.Derive(caller.Address, caller.ClientString, caller.AcceptLanguage)

	allowed, remaining := c.limiter.Allow(fp)
	if !allowed {
		if err := c.store.RecordOutcome(ctx, false, time.Since(start)); err != nil {
			return nil, fmt.Errorf("lookup: %w", err)
		}
		res := &Result{Kind: KindRateLimited, Fingerprint: fp, Elapsed: time.Since(start)}
		if reset, ok := c.limiter.ResetAt(fp); ok {
			res.RetryAt = reset
		}
		return res, nil
	}

	// User tracking reflects all accepted traffic, hit or miss.
	if _, err := c.users.Touch(ctx, fp, caller); err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}

	match, err := c.store.SearchMatch(ctx, text, c.threshold)
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}

	elapsed := time.Since(start)
	if match != nil {
		if err := c.store.RecordOutcome(ctx, true, elapsed); err != nil {
			return nil, fmt.Errorf("lookup: %w", err)
		}
		return &Result{
			Kind:        KindHit,
			Fingerprint: fp,
			Elapsed:     elapsed,
			Profile:     &match.Entry.Response,
			Similarity:  match.Similarity,
			CachedAt:    match.Entry.CreatedAt,
			EntryID:     match.Entry.ID,
			Remaining:   remaining,
		}, nil
	}

	if err := c.store.RecordOutcome(ctx, false, elapsed); err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	return &Result{Kind: KindMiss, Fingerprint: fp, Elapsed: elapsed, Remaining: remaining}, nil
}

// Commit stores a completed analysis result for text. Only successful
// analyses reach this point; failures are never cached.
func (c *Coordinator) Commit(ctx context.Context, text string, profile models.PersonalityProfile, caller models.Caller) (*models.CacheEntry, error) {
	now := time.Now().UTC()

	clientString := caller.ClientString
	if len(clientString) > 100 {
		clientString = clientString[:100]
	}

	entry := models.CacheEntry{
		ID:          store.NewEntryID(text, now),
		CreatedAt:   now,
		InputText:   text,
		TextHash:    store.HashText(text),
		Response:    profile,
		Fingerprint: fingerprint.Derive(caller.Address, caller.ClientString, caller.AcceptLanguage),
		Metadata: models.EntryMetadata{
			TextLength:   len(text),
			Address:      caller.Address,
			ClientString: clientString,
			Country:      caller.Country,
		},
	}

	if err := c.store.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &entry, nil
}

// Threshold returns the similarity threshold in use.
func (c *Coordinator) Threshold() float64 { return c.threshold }
