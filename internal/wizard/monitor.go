package wizard

import (
	"context"
	"sort"
	"strings"

	"dmblast/internal/model"
	logx "dmblast/pkg/logx"
)

// JobPhase is the monitor's view of the active send job.
type JobPhase int

const (
	PhaseNotStarted JobPhase = iota
	PhaseSubmitting
	PhasePolling
	PhaseCompleted
	PhaseFailed
)

func (p JobPhase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not_started"
	case PhaseSubmitting:
		return "submitting"
	case PhasePolling:
		return "polling"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (c *Controller) Phase() JobPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// StartSend submits the session's send job and blocks, polling status until
// the job reaches a terminal state or ctx is cancelled. The final snapshot is
// left on the session for the results view.
func (c *Controller) StartSend(ctx context.Context) (*model.JobSnapshot, error) {
	c.mu.Lock()
	if c.sess.Step != StepSend {
		c.mu.Unlock()
		return nil, validationf("not on the send step")
	}
	if c.phase == PhaseSubmitting || c.phase == PhasePolling {
		c.mu.Unlock()
		return nil, validationf("a send is already in progress")
	}
	if len(c.sess.Recipients) == 0 {
		c.mu.Unlock()
		return nil, validationf("no recipients selected")
	}
	if strings.TrimSpace(c.sess.Template) == "" {
		c.mu.Unlock()
		return nil, validationf("template is empty")
	}
	gen := c.gen
	tmpl := c.sess.Template
	token := c.sess.Token
	recipients := append([]model.User(nil), c.sess.Recipients...)
	userData := c.userDataLocked()
	c.phase = PhaseSubmitting
	c.sess.ActiveJob = nil
	c.mu.Unlock()

	snap, err := c.svc.SubmitSend(ctx, tmpl, recipients, userData, token)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return nil, validationf("session was reset during submission")
	}
	if err != nil {
		c.phase = PhaseFailed
		c.mu.Unlock()
		return nil, err
	}
	job := *snap
	c.sess.ActiveJob = &job
	c.phase = PhasePolling
	c.publishLocked(EventJobProgress)
	c.mu.Unlock()

	c.log.Info("send submitted",
		logx.String("job_id", snap.JobID),
		logx.Int("total", snap.TotalUsers))

	return c.pollLoop(ctx, gen, snap.JobID)
}

// pollLoop polls sequentially at the configured interval until the job turns
// terminal. Transient poll failures are logged and retried on the next tick;
// only ctx cancellation or a reset stops the loop early.
func (c *Controller) pollLoop(ctx context.Context, gen int, jobID string) (*model.JobSnapshot, error) {
	for {
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return nil, err
		}

		snap, err := c.svc.JobStatus(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warn("status poll failed", logx.String("job_id", jobID), logx.Err(err))
			continue
		}

		final, done := c.applyPoll(gen, jobID, snap)
		if done {
			return final, nil
		}
		if final == nil {
			return nil, validationf("session was reset during send")
		}
	}
}

// applyPoll applies one status snapshot under the lock. It returns (nil,
// false) when the result is stale and the caller must stop, (snap, false) to
// keep polling, and (snap, true) when the job is terminal.
func (c *Controller) applyPoll(gen int, jobID string, snap *model.JobSnapshot) (*model.JobSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.sess.ActiveJob == nil || c.sess.ActiveJob.JobID != jobID {
		return nil, false // stale result, a reset or newer job took over
	}

	job := *snap
	job.Errors = append([]model.ErrorEntry(nil), snap.Errors...)
	c.sess.ActiveJob = &job

	if job.Terminal() {
		if job.Status == model.StatusCompleted {
			c.phase = PhaseCompleted
		} else {
			c.phase = PhaseFailed
		}
		c.publishLocked(EventJobFinished)
		c.log.Info("send finished",
			logx.String("job_id", job.JobID),
			logx.String("status", job.Status),
			logx.Int("sent", job.SentCount),
			logx.Int("failed", job.FailedCount))
		final := job
		final.Errors = append([]model.ErrorEntry(nil), job.Errors...)
		return &final, true
	}

	c.publishLocked(EventJobProgress)
	cont := job
	return &cont, false
}

// RetrySend re-submits the whole original recipient set as a fresh job. There
// is no partial resend; already-delivered recipients receive the message
// again.
func (c *Controller) RetrySend(ctx context.Context) (*model.JobSnapshot, error) {
	c.mu.Lock()
	if c.sess.Step != StepSend {
		c.mu.Unlock()
		return nil, validationf("not on the send step")
	}
	if c.phase != PhaseCompleted && c.phase != PhaseFailed {
		c.mu.Unlock()
		return nil, validationf("no finished send to retry")
	}
	c.phase = PhaseNotStarted
	c.sess.ActiveJob = nil
	c.mu.Unlock()
	return c.StartSend(ctx)
}

// Progress returns send completion as a fraction in [0,1]. An empty job
// reports 0 rather than dividing by zero.
func Progress(snap *model.JobSnapshot) float64 {
	if snap == nil || snap.TotalUsers == 0 {
		return 0
	}
	return float64(snap.SentCount+snap.FailedCount) / float64(snap.TotalUsers)
}

// ErrorGroup is one results-view bucket: every failure sharing an error code.
type ErrorGroup struct {
	Code    string
	Detail  string
	Entries []model.ErrorEntry
}

// GroupErrors buckets failures by error code for the results view. Groups
// keep first-seen order; entries without a code fall into "unknown".
func GroupErrors(entries []model.ErrorEntry) []ErrorGroup {
	var groups []ErrorGroup
	index := map[string]int{}
	for _, e := range entries {
		code := e.ErrorCode
		if code == "" {
			code = "unknown"
		}
		i, ok := index[code]
		if !ok {
			i = len(groups)
			index[code] = i
			groups = append(groups, ErrorGroup{Code: code, Detail: e.DetailedError})
		}
		groups[i].Entries = append(groups[i].Entries, e)
	}
	return groups
}

// SortedCodes lists the group codes alphabetically, for stable rendering.
func SortedCodes(groups []ErrorGroup) []string {
	codes := make([]string, 0, len(groups))
	for _, g := range groups {
		codes = append(codes, g.Code)
	}
	sort.Strings(codes)
	return codes
}
