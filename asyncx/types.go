package asyncx

import "time"

// Status represents task processing status recorded in the result store.
// Transitions only move forward: PENDING -> RUNNING -> SUCCESS | FAILURE.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// Terminal reports whether no further transitions may occur.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// TaskRecord is the persisted representation of a task lifecycle.
type TaskRecord struct {
	ID         string   // task id, also used as the asynq task ID
	Job        string   // job name, used as the asynq task type
	Queue      string   // queue name
	Args       []string // positional job arguments
	Status     Status
	Result     *string // job output or failure diagnostic, set once on a terminal transition
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// payload is the wire form of a task's arguments.
type payload struct {
	Args []string `json:"args"`
}
