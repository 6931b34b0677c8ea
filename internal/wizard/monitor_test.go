package wizard

import (
	"context"
	"errors"
	"testing"
	"time"

	"dmblast/internal/eventbus"
	"dmblast/internal/model"
)

func snap(id, status string, sent, failed, total int) *model.JobSnapshot {
	return &model.JobSnapshot{JobID: id, Status: status, SentCount: sent, FailedCount: failed, TotalUsers: total}
}

func TestStartSendRequiresSendStep(t *testing.T) {
	svc := &fakeService{users: testUsers(2)}
	c := newTestController(svc)
	advance(t, c, svc, StepVariables)

	if _, err := c.StartSend(context.Background()); err == nil {
		t.Fatal("StartSend off the send step must fail")
	}
	if svc.submitCount() != 0 {
		t.Fatal("nothing must be submitted")
	}
}

func TestStartSendPollsToCompletion(t *testing.T) {
	svc := &fakeService{
		users:      testUsers(2),
		submitSnap: snap("job-7", model.StatusPending, 0, 0, 10),
		polls: []pollStep{
			{snap: snap("job-7", model.StatusRunning, 5, 0, 10)},
			{snap: snap("job-7", model.StatusRunning, 7, 1, 10)},
			{snap: snap("job-7", model.StatusCompleted, 8, 2, 10)},
		},
	}
	c := newTestController(svc)
	advance(t, c, svc, StepSend)

	final, err := c.StartSend(context.Background())
	if err != nil {
		t.Fatalf("StartSend: %v", err)
	}
	if final.Status != model.StatusCompleted || final.SentCount != 8 || final.FailedCount != 2 {
		t.Fatalf("final = %+v", final)
	}
	if c.Phase() != PhaseCompleted {
		t.Fatalf("phase = %v", c.Phase())
	}
	job := c.Session().ActiveJob
	if job == nil || job.JobID != "job-7" || !job.Terminal() {
		t.Fatalf("session job = %+v", job)
	}
}

func TestStartSendStopsPollingOnceTerminal(t *testing.T) {
	// The scripted poll list repeats its last entry; counting JobStatus calls
	// confirms the loop halts at the first terminal snapshot.
	calls := 0
	svc := &fakeService{
		users: testUsers(2),
		polls: []pollStep{
			{snap: snap("job-1", model.StatusRunning, 1, 0, 2)},
			{snap: snap("job-1", model.StatusCompleted, 2, 0, 2)},
		},
	}
	svc.pollHook = func() { calls++ }
	c := newTestController(svc)
	advance(t, c, svc, StepSend)

	if _, err := c.StartSend(context.Background()); err != nil {
		t.Fatalf("StartSend: %v", err)
	}
	if calls != 2 {
		t.Fatalf("JobStatus called %d times, want 2", calls)
	}
}

func TestTransientPollErrorsAreRetried(t *testing.T) {
	svc := &fakeService{
		users: testUsers(2),
		polls: []pollStep{
			{err: errors.New("connection reset")},
			{err: errors.New("gateway timeout")},
			{snap: snap("job-1", model.StatusCompleted, 2, 0, 2)},
		},
	}
	c := newTestController(svc)
	advance(t, c, svc, StepSend)

	final, err := c.StartSend(context.Background())
	if err != nil {
		t.Fatalf("StartSend: %v", err)
	}
	if final.Status != model.StatusCompleted {
		t.Fatalf("final = %+v", final)
	}
}

func TestStartSendSubmissionFailure(t *testing.T) {
	svc := &fakeService{
		users:     testUsers(2),
		submitErr: &SubmissionError{Message: "queue full"},
	}
	c := newTestController(svc)
	advance(t, c, svc, StepSend)

	if _, err := c.StartSend(context.Background()); err == nil {
		t.Fatal("expected submission error")
	}
	if c.Phase() != PhaseFailed {
		t.Fatalf("phase = %v", c.Phase())
	}
}

func TestStartSendCancellation(t *testing.T) {
	svc := &fakeService{
		users: testUsers(2),
		polls: []pollStep{{snap: snap("job-1", model.StatusRunning, 1, 0, 2)}},
	}
	c := New(svc, WithSleep(func(ctx context.Context, _ time.Duration) error {
		return context.Canceled
	}))
	advance(t, c, svc, StepSend)

	if _, err := c.StartSend(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestResetDuringPollDiscardsResult(t *testing.T) {
	svc := &fakeService{
		users: testUsers(2),
		polls: []pollStep{{snap: snap("job-1", model.StatusRunning, 1, 0, 2)}},
	}
	c := newTestController(svc)
	svc.pollHook = func() { c.Reset() }
	advance(t, c, svc, StepSend)

	if _, err := c.StartSend(context.Background()); err == nil {
		t.Fatal("poll loop must stop after a reset")
	}
	sess := c.Session()
	if sess.ActiveJob != nil || sess.Step != StepCredential {
		t.Fatalf("stale poll leaked into reset session: %+v", sess)
	}
}

func TestRetrySendResendsFullSet(t *testing.T) {
	svc := &fakeService{
		users: testUsers(3),
		polls: []pollStep{{snap: snap("job-1", model.StatusCompleted, 2, 1, 3)}},
	}
	c := newTestController(svc)
	advance(t, c, svc, StepSend)

	if _, err := c.StartSend(context.Background()); err != nil {
		t.Fatalf("StartSend: %v", err)
	}
	if _, err := c.RetrySend(context.Background()); err != nil {
		t.Fatalf("RetrySend: %v", err)
	}

	if svc.submitCount() != 2 {
		t.Fatalf("submissions = %d, want 2", svc.submitCount())
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	// The retry carries the whole original recipient set, delivered included.
	if len(svc.submitted[1].users) != len(svc.submitted[0].users) {
		t.Fatalf("retry users = %d, want %d", len(svc.submitted[1].users), len(svc.submitted[0].users))
	}
}

func TestRetrySendOffSendStepKeepsResults(t *testing.T) {
	svc := &fakeService{
		users: testUsers(2),
		polls: []pollStep{{snap: snap("job-1", model.StatusCompleted, 1, 1, 2)}},
	}
	c := newTestController(svc)
	advance(t, c, svc, StepSend)

	if _, err := c.StartSend(context.Background()); err != nil {
		t.Fatalf("StartSend: %v", err)
	}
	if err := c.GoTo(context.Background(), StepVariables); err != nil {
		t.Fatalf("GoTo back: %v", err)
	}

	if _, err := c.RetrySend(context.Background()); err == nil {
		t.Fatal("retry off the send step must fail")
	}
	// The rejected retry must not wipe the finished job's results view.
	if c.Phase() != PhaseCompleted {
		t.Fatalf("phase = %v, want completed", c.Phase())
	}
	job := c.Session().ActiveJob
	if job == nil || job.JobID != "job-1" {
		t.Fatalf("session job = %+v", job)
	}
	if svc.submitCount() != 1 {
		t.Fatalf("submissions = %d, want 1", svc.submitCount())
	}
}

func TestRetrySendRequiresTerminalJob(t *testing.T) {
	svc := &fakeService{users: testUsers(2)}
	c := newTestController(svc)
	advance(t, c, svc, StepSend)

	if _, err := c.RetrySend(context.Background()); err == nil {
		t.Fatal("retry without a finished send must fail")
	}
}

func TestJobEventsPublished(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(32)
	defer unsub()

	svc := &fakeService{
		users: testUsers(2),
		polls: []pollStep{
			{snap: snap("job-1", model.StatusRunning, 1, 0, 2)},
			{snap: snap("job-1", model.StatusCompleted, 2, 0, 2)},
		},
	}
	c := newTestController(svc, WithBus(bus))
	advance(t, c, svc, StepSend)

	if _, err := c.StartSend(context.Background()); err != nil {
		t.Fatalf("StartSend: %v", err)
	}

	var progress, finished int
	deadline := time.After(time.Second)
loop:
	for {
		select {
		case ev := <-ch:
			switch ev.Type {
			case EventJobProgress:
				progress++
			case EventJobFinished:
				finished++
				break loop
			}
		case <-deadline:
			break loop
		}
	}
	if progress == 0 {
		t.Fatal("expected at least one progress event")
	}
	if finished != 1 {
		t.Fatalf("finished events = %d, want 1", finished)
	}
}

func TestProgress(t *testing.T) {
	cases := []struct {
		snap *model.JobSnapshot
		want float64
	}{
		{nil, 0},
		{snap("j", model.StatusRunning, 0, 0, 0), 0},
		{snap("j", model.StatusRunning, 5, 0, 10), 0.5},
		{snap("j", model.StatusRunning, 7, 3, 10), 1},
		{snap("j", model.StatusCompleted, 8, 2, 10), 1},
	}
	for _, tc := range cases {
		if got := Progress(tc.snap); got != tc.want {
			t.Errorf("Progress(%+v) = %v, want %v", tc.snap, got, tc.want)
		}
	}
}

func TestGroupErrors(t *testing.T) {
	entries := []model.ErrorEntry{
		{UserID: "U1", ErrorCode: "cant_dm_bot", DetailedError: "Bots cannot receive direct messages."},
		{UserID: "U2", ErrorCode: "user_not_found", DetailedError: "The user does not exist."},
		{UserID: "U3", ErrorCode: "cant_dm_bot", DetailedError: "Bots cannot receive direct messages."},
		{UserID: "U4"}, // no code
	}
	groups := GroupErrors(entries)
	if len(groups) != 3 {
		t.Fatalf("groups = %+v", groups)
	}
	if groups[0].Code != "cant_dm_bot" || len(groups[0].Entries) != 2 {
		t.Fatalf("group 0 = %+v", groups[0])
	}
	if groups[1].Code != "user_not_found" || len(groups[1].Entries) != 1 {
		t.Fatalf("group 1 = %+v", groups[1])
	}
	if groups[2].Code != "unknown" || groups[2].Entries[0].UserID != "U4" {
		t.Fatalf("group 2 = %+v", groups[2])
	}
	if GroupErrors(nil) != nil {
		t.Fatal("no entries must yield no groups")
	}
}
