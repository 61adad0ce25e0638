// Package validation screens user-submitted text before it reaches the
// cache or the model. Rejections surface a reason string and are never
// counted as cache misses.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// Result reports whether text passed validation and the cleaned form to use.
type Result struct {
	Valid   bool
	Cleaned string
	Reason  string

	WordCount     int
	SentenceCount int
}

var (
	scriptPattern   = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	htmlTagPattern  = regexp.MustCompile(`<[^>]+>`)
	sqlPattern      = regexp.MustCompile(`(?i)(union|select|insert|update|delete|drop|create|alter)\s+`)
	repeatedPattern = regexp.MustCompile(`(.)\1{10,}`)
	sentenceSplit   = regexp.MustCompile(`[.!?]+`)
)

// Validator checks text against length and content constraints.
type Validator struct {
	minLength int
	maxLength int
}

// New creates a Validator with the given length bounds.
func New(minLength, maxLength int) *Validator {
	if minLength <= 0 {
		minLength = 10
	}
	if maxLength <= 0 {
		maxLength = 10000
	}
	return &Validator{minLength: minLength, maxLength: maxLength}
}

// Validate cleans and checks text. The returned reason is safe to show to
// the caller.
func (v *Validator) Validate(text string) Result {
	cleaned := cleanup(text)

	if cleaned == "" {
		return Result{Reason: "text cannot be empty"}
	}
	if len(cleaned) < v.minLength {
		return Result{Reason: fmt.Sprintf("text too short: minimum %d characters required, got %d", v.minLength, len(cleaned))}
	}
	if len(cleaned) > v.maxLength {
		return Result{Reason: fmt.Sprintf("text too long: maximum %d characters allowed, got %d", v.maxLength, len(cleaned))}
	}
	if scriptPattern.MatchString(cleaned) {
		return Result{Reason: "text contains potentially harmful content"}
	}
	if sqlPattern.MatchString(cleaned) {
		return Result{Reason: "text contains potentially harmful content"}
	}
	if repeatedPattern.MatchString(cleaned) {
		return Result{Reason: "text appears to be spam or low quality"}
	}

	// Strip markup the model should not see.
	cleaned = strings.TrimSpace(htmlTagPattern.ReplaceAllString(cleaned, ""))

	words := strings.Fields(cleaned)
	sentences := 0
	for _, s := range sentenceSplit.Split(cleaned, -1) {
		if strings.TrimSpace(s) != "" {
			sentences++
		}
	}

	return Result{
		Valid:         true,
		Cleaned:       cleaned,
		WordCount:     len(words),
		SentenceCount: sentences,
	}
}

// cleanup strips control characters and normalizes whitespace.
func cleanup(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r >= 32 || r == '\t' || r == '\n' || r == '\r' {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
