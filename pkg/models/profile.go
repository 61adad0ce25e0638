package models

import (
	"fmt"
	"time"
)

// PersonalityProfile is the structured result of a text analysis: the five
// OCEAN trait scores, an MBTI type code, and three free-text descriptions.
type PersonalityProfile struct {
	Openness          float64 `json:"openness"`
	Conscientiousness float64 `json:"conscientiousness"`
	Extraversion      float64 `json:"extraversion"`
	Agreeableness     float64 `json:"agreeableness"`
	Neuroticism       float64 `json:"neuroticism"`
	MBTIType          string  `json:"mbti_type"`
	ToneAnalysis      string  `json:"tone_analysis"`
	WritingStyle      string  `json:"writing_style"`
	Summary           string  `json:"summary"`
}

// Validate checks the profile invariants: trait scores in [0,1] and a
// four-letter type code.
func (p *PersonalityProfile) Validate() error {
	traits := map[string]float64{
		"openness":          p.Openness,
		"conscientiousness": p.Conscientiousness,
		"extraversion":      p.Extraversion,
		"agreeableness":     p.Agreeableness,
		"neuroticism":       p.Neuroticism,
	}
	for name, v := range traits {
		if v < 0.0 || v > 1.0 {
			return fmt.Errorf("trait %s out of range: %g", name, v)
		}
	}
	if len(p.MBTIType) != 4 {
		return fmt.Errorf("invalid mbti type: %q", p.MBTIType)
	}
	return nil
}

// AnalyzeRequest is the body of POST /analyze.
type AnalyzeRequest struct {
	Text string `json:"text"`
}

// CacheInfo describes how a response was satisfied.
type CacheInfo struct {
	CacheHit       bool      `json:"cache_hit"`
	Similarity     float64   `json:"similarity,omitempty"`
	CachedAt       time.Time `json:"cached_at,omitempty"`
	ResponseTimeMs float64   `json:"response_time_ms"`
}

// AnalyzeResponse is the body returned by POST /analyze.
type AnalyzeResponse struct {
	Success   bool                `json:"success"`
	Timestamp time.Time           `json:"timestamp"`
	Error     string              `json:"error,omitempty"`
	Response  *PersonalityProfile `json:"response,omitempty"`
	CacheInfo *CacheInfo          `json:"cache_info,omitempty"`
}
