package model

import "time"

type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobRetry   JobStatus = "retry"
	JobDone    JobStatus = "done"
	JobDead    JobStatus = "dead"
)

type Job struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	UniqueKey   string     `json:"unique_key,omitempty"`
	Payload     []byte     `json:"payload"`
	Status      JobStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	RunAt       time.Time  `json:"run_at"`
	LockedUntil *time.Time `json:"locked_until"`
	LastError   string     `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
