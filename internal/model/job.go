package model

import "time"

// JobConfig is the persisted, operator-mutable part of a scheduler job.
type JobConfig struct {
	ID         string    `json:"id"`
	Schedule   string    `json:"schedule"`
	Enabled    bool      `json:"enabled"`
	LastRun    time.Time `json:"last_run,omitempty"`
	LastStatus string    `json:"last_status,omitempty"`
}

// JobStatus is what operators see for each job.
type JobStatus struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Schedule     string        `json:"schedule"`
	Enabled      bool          `json:"enabled"`
	Running      bool          `json:"running"`
	LastRun      *time.Time    `json:"last_run,omitempty"`
	LastStatus   string        `json:"last_status,omitempty"`
	LastMessage  string        `json:"last_message,omitempty"`
	LastDuration time.Duration `json:"last_duration,omitempty"`
	NextRun      *time.Time    `json:"next_run,omitempty"`
}
