// Package send runs bulk personalized-DM jobs: a worker pool consumes queued
// jobs, renders the template per recipient and delivers DMs, updating an
// in-memory status map that the status API polls.
//
// Job state lives in memory for the process lifetime (bounded by TTL/size
// pruning); finished jobs are additionally handed to an optional Recorder for
// audit.
package send

import (
	"context"
	"time"

	"dmblast/internal/model"
)

// Sender delivers one DM. Satisfied by slackx.Client (with retry); tests plug
// in fakes.
type Sender interface {
	SendDMWithRetry(ctx context.Context, userID, text string) error
}

// Recorder archives finished jobs. Optional.
type Recorder interface {
	Record(ctx context.Context, snap model.JobSnapshot) error
}

type Config struct {
	Workers   int
	QueueSize int
	// StatusMax/StatusTTL bound in-memory status retention to prevent map growth.
	StatusMax int
	StatusTTL time.Duration
}

// Request describes one send job: the template, the full recipient set, the
// per-user variable bindings and the sender bound to the submitting token.
type Request struct {
	Template string
	Users    []model.User
	UserData model.Variables
	Sender   Sender
}

type job struct {
	id  string
	req Request
}

// jobState is the live, mutable record behind a job ID. External callers only
// ever see value snapshots of it.
type jobState struct {
	snap      model.JobSnapshot
	createdAt time.Time
}
