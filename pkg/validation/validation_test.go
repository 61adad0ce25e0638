package validation

import (
	"strings"
	"testing"
)

func TestValidText(t *testing.T) {
	v := New(10, 5000)
	res := v.Validate("I spent the afternoon reading in the park and it was wonderful.")
	if !res.Valid {
		t.Fatalf("expected valid, got reason %q", res.Reason)
	}
	if res.WordCount != 12 {
		t.Errorf("word count = %d, want 12", res.WordCount)
	}
	if res.SentenceCount != 1 {
		t.Errorf("sentence count = %d, want 1", res.SentenceCount)
	}
}

func TestLengthBounds(t *testing.T) {
	v := New(10, 50)

	if res := v.Validate("short"); res.Valid {
		t.Error("too-short text should be rejected")
	}
	if res := v.Validate(strings.Repeat("word ", 20)); res.Valid {
		t.Error("too-long text should be rejected")
	}
	if res := v.Validate("   \t\n  "); res.Valid || res.Reason != "text cannot be empty" {
		t.Errorf("whitespace-only text: %+v", res)
	}
}

func TestHarmfulContentRejected(t *testing.T) {
	v := New(10, 5000)
	cases := []string{
		"hello there <script>alert('x')</script> friend",
		"I will just DROP table users and walk away calmly",
		"please SELECT everything from the database now",
	}
	for _, text := range cases {
		if res := v.Validate(text); res.Valid {
			t.Errorf("expected rejection for %q", text)
		}
	}
}

func TestSpamRejected(t *testing.T) {
	v := New(10, 5000)
	if res := v.Validate("aaaaaaaaaaaaaaaaaaaa this is spam"); res.Valid {
		t.Error("repeated-character spam should be rejected")
	}
}

func TestCleanupNormalizesWhitespace(t *testing.T) {
	v := New(10, 5000)
	res := v.Validate("too   many    spaces\n\nbetween\twords here")
	if !res.Valid {
		t.Fatalf("unexpected rejection: %q", res.Reason)
	}
	if strings.Contains(res.Cleaned, "  ") {
		t.Errorf("cleaned text still has runs of spaces: %q", res.Cleaned)
	}
}

func TestHTMLTagsStripped(t *testing.T) {
	v := New(10, 5000)
	res := v.Validate("I really <b>love</b> writing long descriptive paragraphs.")
	if !res.Valid {
		t.Fatalf("unexpected rejection: %q", res.Reason)
	}
	if strings.Contains(res.Cleaned, "<b>") {
		t.Errorf("html not stripped: %q", res.Cleaned)
	}
}
