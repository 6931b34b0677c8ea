package send

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"dmblast/internal/model"
	"dmblast/internal/slackx"
	logx "dmblast/pkg/logx"
)

// fakeSender records deliveries and fails selected users.
type fakeSender struct {
	mu       sync.Mutex
	sent     []string
	messages map[string]string
	failWith map[string]error
}

func newFakeSender() *fakeSender {
	return &fakeSender{messages: map[string]string{}, failWith: map[string]error{}}
}

func (f *fakeSender) SendDMWithRetry(ctx context.Context, userID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failWith[userID]; ok {
		return err
	}
	f.sent = append(f.sent, userID)
	f.messages[userID] = text
	return nil
}

func waitTerminal(t *testing.T, s *Service, id string) *model.JobSnapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if snap, ok := s.Status(id); ok && snap.Terminal() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal status")
	return nil
}

func users(ids ...string) []model.User {
	out := make([]model.User, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.User{ID: id, Name: strings.ToLower(id), DisplayName: id})
	}
	return out
}

func TestSubmitRequiresUsers(t *testing.T) {
	s := New(Config{}, nil, logx.Nop())
	if _, err := s.Submit(Request{Template: "hi", Sender: newFakeSender()}); err == nil {
		t.Fatal("expected error for empty recipient set")
	}
}

func TestSubmitWithoutStartFails(t *testing.T) {
	s := New(Config{}, nil, logx.Nop())
	_, err := s.Submit(Request{Template: "hi", Users: users("U1"), Sender: newFakeSender()})
	if err == nil {
		t.Fatal("expected service unavailable when engine is not running")
	}
}

func TestJobRendersAndCounts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Config{Workers: 1}, nil, logx.Nop())
	s.Start(ctx)
	defer s.Stop(context.Background())

	sender := newFakeSender()
	sender.failWith["U2"] = &slackx.APIError{Code: "cant_dm_bot", Detail: "Bots cannot receive direct messages."}

	snap, err := s.Submit(Request{
		Template: "Hi {name}!",
		Users:    users("U1", "U2", "U3"),
		UserData: model.Variables{
			"U1": {"name": "Ada"},
			// U3 has no binding: placeholder stays verbatim.
		},
		Sender: sender,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if snap.Status != model.StatusPending || snap.TotalUsers != 3 {
		t.Fatalf("initial snapshot = %+v", snap)
	}

	final := waitTerminal(t, s, snap.JobID)
	if final.Status != model.StatusCompleted {
		t.Fatalf("status = %q", final.Status)
	}
	if final.SentCount != 2 || final.FailedCount != 1 {
		t.Fatalf("counts = %d/%d", final.SentCount, final.FailedCount)
	}
	if got := sender.messages["U1"]; got != "Hi Ada!" {
		t.Fatalf("U1 message = %q", got)
	}
	if got := sender.messages["U3"]; got != "Hi {name}!" {
		t.Fatalf("U3 message = %q (missing binding must stay verbatim)", got)
	}

	if len(final.Errors) != 1 {
		t.Fatalf("errors = %+v", final.Errors)
	}
	e := final.Errors[0]
	if e.UserID != "U2" || e.ErrorCode != "cant_dm_bot" || e.DetailedError == "" {
		t.Fatalf("error entry = %+v", e)
	}
	if final.StartedAt == nil || final.CompletedAt == nil {
		t.Fatal("expected start/completion timestamps")
	}
}

func TestStatusSnapshotIsolation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Config{Workers: 1}, nil, logx.Nop())
	s.Start(ctx)
	defer s.Stop(context.Background())

	snap, err := s.Submit(Request{Template: "x", Users: users("U1"), Sender: newFakeSender()})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	final := waitTerminal(t, s, snap.JobID)

	// Mutating a returned snapshot must not affect the stored job.
	final.Errors = append(final.Errors, model.ErrorEntry{UserID: "bogus"})
	final.SentCount = 99

	again, _ := s.Status(snap.JobID)
	if again.SentCount != 1 || len(again.Errors) != 0 {
		t.Fatalf("stored job mutated through snapshot: %+v", again)
	}
}

type memRecorder struct {
	mu   sync.Mutex
	jobs []model.JobSnapshot
}

func (m *memRecorder) Record(ctx context.Context, snap model.JobSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, snap)
	return nil
}

func TestFinishedJobsAreRecorded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &memRecorder{}
	s := New(Config{Workers: 1}, rec, logx.Nop())
	s.Start(ctx)
	defer s.Stop(context.Background())

	snap, err := s.Submit(Request{Template: "x", Users: users("U1", "U2"), Sender: newFakeSender()})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, s, snap.JobID)

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec.mu.Lock()
		n := len(rec.jobs)
		rec.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job never archived")
		}
		time.Sleep(5 * time.Millisecond)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.jobs[0].JobID != snap.JobID || rec.jobs[0].SentCount != 2 {
		t.Fatalf("recorded = %+v", rec.jobs[0])
	}
}

func TestUnknownJobStatus(t *testing.T) {
	s := New(Config{}, nil, logx.Nop())
	if _, ok := s.Status("nope"); ok {
		t.Fatal("expected miss for unknown job id")
	}
}
