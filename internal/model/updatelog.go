package model

import "time"

// UpdateStatus is the outcome recorded in the update log.
type UpdateStatus string

const (
	StatusInProgress UpdateStatus = "IN_PROGRESS"
	StatusSuccess    UpdateStatus = "SUCCESS"
	StatusError      UpdateStatus = "ERROR"
)

// UpdateLogEntry is one append-only audit record.
type UpdateLogEntry struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	Status    UpdateStatus   `json:"status"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
