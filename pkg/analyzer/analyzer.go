// Package analyzer calls the remote language model that produces
// personality profiles. It is the only network suspension point in the
// service; every call runs under a bounded timeout and failed analyses are
// never cached.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/persona-ai/persona/pkg/models"
)

// ErrEmptyText is returned when there is nothing to analyze.
var ErrEmptyText = errors.New("text input cannot be empty")

const prompt = `You are a psychological language analyst trained in personality assessment based on written communication.

Analyze the user's writing using the Big Five (OCEAN) personality model and the MBTI system. Consider linguistic tone, emotional depth, vocabulary complexity, subject matter, and implicit preferences. The user is fluent in English and expresses themselves naturally.

Return ONLY a valid JSON object with the following fields (no additional text):
{
    "openness": 0.0-1.0,
    "conscientiousness": 0.0-1.0,
    "extraversion": 0.0-1.0,
    "agreeableness": 0.0-1.0,
    "neuroticism": 0.0-1.0,
    "mbti_type": "4-letter MBTI type",
    "tone_analysis": "brief tone description",
    "writing_style": "brief style description",
    "summary": "brief personality summary"
}

Analyze this text:
`

// Client talks to the generateContent endpoint of the model provider.
type Client struct {
	url        string
	httpClient *http.Client
}

// New creates a Client for the given endpoint URL (API key included in the
// URL, provider convention) with a per-call timeout.
func New(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Analyze sends text to the model and returns the validated profile.
func (c *Client) Analyze(ctx context.Context, text string) (*models.PersonalityProfile, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	payload := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt + text}}}},
		GenerationConfig: generationConfig{
			Temperature:     0.7,
			MaxOutputTokens: 1000,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read model response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model request failed with status %d", resp.StatusCode)
	}

	var gen generateResponse
	if err := json.Unmarshal(respBody, &gen); err != nil {
		return nil, fmt.Errorf("decode model response: %w", err)
	}
	if len(gen.Candidates) == 0 || len(gen.Candidates[0].Content.Parts) == 0 {
		return nil, errors.New("no candidates in model response")
	}

	profile, err := parseProfile(gen.Candidates[0].Content.Parts[0].Text)
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// parseProfile extracts the profile JSON from model output, tolerating
// markdown code fences around it.
func parseProfile(raw string) (*models.PersonalityProfile, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)

	var profile models.PersonalityProfile
	dec := json.NewDecoder(strings.NewReader(clean))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&profile); err != nil {
		return nil, fmt.Errorf("model returned malformed profile: %w", err)
	}
	if profile.MBTIType == "" || profile.Summary == "" || profile.ToneAnalysis == "" || profile.WritingStyle == "" {
		return nil, errors.New("model returned incomplete profile")
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("model returned invalid profile: %w", err)
	}
	return &profile, nil
}
