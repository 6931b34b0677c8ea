package model

import "time"

// User is a resolved Slack identity targeted to receive a personalized DM.
//
// Users are created by mention resolution (users.info / users.list) and are
// never mutated afterwards; removal from a recipient list is positional.
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	RealName    string `json:"real_name,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Variables maps user ID -> variable name -> value.
type Variables map[string]map[string]string

// Job status values. A job is frozen once it reaches a terminal status.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// TerminalStatus reports whether s is completed or failed.
func TerminalStatus(s string) bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrorEntry describes one failed delivery within a send job.
type ErrorEntry struct {
	UserID        string `json:"user_id"`
	UserName      string `json:"user_name,omitempty"`
	Error         string `json:"error"`
	ErrorCode     string `json:"error_code,omitempty"`
	DetailedError string `json:"detailed_error,omitempty"`
}

// JobSnapshot is a point-in-time copy of a send job's state. Snapshots are
// value copies; holding one never observes later mutations of the live job.
type JobSnapshot struct {
	JobID       string       `json:"job_id"`
	Status      string       `json:"status"`
	TotalUsers  int          `json:"total_users"`
	SentCount   int          `json:"sent_count"`
	FailedCount int          `json:"failed_count"`
	Errors      []ErrorEntry `json:"errors"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// Terminal reports whether the snapshot's status is terminal.
func (s *JobSnapshot) Terminal() bool { return TerminalStatus(s.Status) }
