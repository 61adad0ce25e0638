package models

import "time"

// UserRecord is the activity ledger for one caller fingerprint.
type UserRecord struct {
	Fingerprint   string      `json:"fingerprint"`
	FirstSeen     time.Time   `json:"first_seen"`
	LastSeen      time.Time   `json:"last_seen"`
	RequestCount  int64       `json:"request_count"`
	Addresses     []string    `json:"addresses"`
	ClientStrings []string    `json:"client_strings"`
	Countries     []string    `json:"countries"`
	RequestTimes  []time.Time `json:"request_times"`
}

// Caller holds the request metadata a fingerprint is derived from.
type Caller struct {
	Address        string `json:"address"`
	ClientString   string `json:"client_string"`
	AcceptLanguage string `json:"accept_language"`
	Country        string `json:"country"`
}
