package models

import "time"

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job asks the processor to handle one mailbox item.
type Job struct {
	ID          int64
	UID         uint32
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Exhausted reports whether the job has used up its attempts.
func (j *Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}
