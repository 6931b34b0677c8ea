package wizard

import "dmblast/internal/model"

// Wizard steps, in order. Forward transitions are gated on the previous
// step's validity; backward transitions are always allowed.
const (
	StepCredential = 1
	StepRecipients = 2
	StepTemplate   = 3
	StepVariables  = 4
	StepSend       = 5
)

// Session is the client-held state of one wizard run. It is owned and
// mutated exclusively by the Controller; Snapshot copies leave the lock.
type Session struct {
	Step       int
	Token      string
	TokenValid bool

	// Recipients keep insertion order and are unique by ID.
	Recipients []model.User

	Template string

	// Variables is the template's variable set, re-derived on entering the
	// variables step. First-seen order.
	Variables []string

	// Bindings holds per-user variable values. Entries exist only for
	// non-empty values.
	Bindings model.Variables

	// Preview and Summary are populated on entering the send step.
	Preview *PreviewResult
	Summary Summary

	// ActiveJob is present while a send is in flight or showing results.
	ActiveJob *model.JobSnapshot
}

// Summary is the step-5 confirmation line: how many people, how many
// variables.
type Summary struct {
	Recipients int
	Variables  int
}

// Slot is one variable-input cell: a (recipient, variable) pair.
type Slot struct {
	UserID   string
	Variable string
}

func (s *Session) clone() Session {
	cp := *s
	cp.Recipients = append([]model.User(nil), s.Recipients...)
	cp.Variables = append([]string(nil), s.Variables...)
	if s.Bindings != nil {
		cp.Bindings = make(model.Variables, len(s.Bindings))
		for uid, vars := range s.Bindings {
			m := make(map[string]string, len(vars))
			for k, v := range vars {
				m[k] = v
			}
			cp.Bindings[uid] = m
		}
	}
	if s.ActiveJob != nil {
		job := *s.ActiveJob
		job.Errors = append([]model.ErrorEntry(nil), s.ActiveJob.Errors...)
		cp.ActiveJob = &job
	}
	return cp
}
