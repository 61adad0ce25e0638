package models

import "time"

// AuditEntry represents a single audited analyze request.
type AuditEntry struct {
	RequestID         string    `json:"request_id"`
	FingerprintHash   string    `json:"fingerprint_hash"`
	FingerprintPrefix string    `json:"fingerprint_prefix"`
	Outcome           string    `json:"outcome"` // "hit", "miss", "rate_limited", "rejected", "error"
	InputText         string    `json:"input_text,omitempty"`
	ResponseBody      string    `json:"response_body,omitempty"`
	StatusCode        int       `json:"status_code"`
	LatencyMs         int64     `json:"latency_ms"`
	CreatedAt         time.Time `json:"created_at"`
}

// AuditConfig controls the audit logging subsystem.
type AuditConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxBodySize   int    `yaml:"max_body_size"` // bytes
}

// AuditQueryOpts specifies filters for querying audit entries.
type AuditQueryOpts struct {
	RequestID         string
	Outcome           string
	FingerprintPrefix string
	Since             time.Time
	Limit             int
}

// AuditStat holds aggregate audit counts for an outcome/day combination.
type AuditStat struct {
	Outcome string
	Day     string
	Count   int
}
