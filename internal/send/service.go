package send

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"dmblast/internal/model"
	logx "dmblast/pkg/logx"
)

type Service struct {
	cfg Config
	log logx.Logger
	rec Recorder

	mu       sync.Mutex
	queue    chan job
	runCtx   context.Context
	cancel   context.CancelFunc
	workerWG sync.WaitGroup

	statusMu sync.RWMutex
	status   map[string]*jobState
}

func New(cfg Config, rec Recorder, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.StatusMax <= 0 {
		cfg.StatusMax = 200
	}
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = 24 * time.Hour
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		rec:    rec,
		queue:  make(chan job, cfg.QueueSize),
		status: map[string]*jobState{},
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)

	runCtx := s.runCtx
	queue := s.queue
	s.workerWG.Add(s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in send worker", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			s.worker(runCtx, queue, idx)
		}()
	}
	s.log.Info("send engine started", logx.Int("workers", s.cfg.Workers), logx.Int("queue_cap", s.cfg.QueueSize))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.runCtx = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("send engine stopped")
	case <-ctx.Done():
		// stop continues in background
	}
}

// Submit registers a new job and enqueues it. The returned snapshot has
// status "pending" (or "failed" immediately if the queue rejected it).
func (s *Service) Submit(req Request) (*model.JobSnapshot, error) {
	if len(req.Users) == 0 {
		return nil, fmt.Errorf("at least one user is required")
	}
	if req.Sender == nil {
		return nil, fmt.Errorf("no sender configured")
	}

	now := time.Now()
	s.pruneStatus(now)

	id := uuid.NewString()
	st := &jobState{
		createdAt: now,
		snap: model.JobSnapshot{
			JobID:      id,
			Status:     model.StatusPending,
			TotalUsers: len(req.Users),
		},
	}
	s.statusMu.Lock()
	s.status[id] = st
	s.statusMu.Unlock()

	s.mu.Lock()
	queue := s.queue
	running := s.runCtx != nil
	s.mu.Unlock()

	enqueued := false
	if running {
		select {
		case queue <- job{id: id, req: req}:
			enqueued = true
		default:
		}
	}
	if !enqueued {
		s.log.Warn("send queue rejected job", logx.String("job", id), logx.Bool("running", running), logx.Int("queue_len", len(queue)))
		s.update(id, func(snap *model.JobSnapshot) {
			snap.Status = model.StatusFailed
			snap.FailedCount = snap.TotalUsers
			t := time.Now()
			snap.CompletedAt = &t
		})
		return nil, fmt.Errorf("send service unavailable")
	}

	s.log.Info("send job submitted", logx.String("job", id), logx.Int("total", len(req.Users)))
	snap := st.snap
	return &snap, nil
}

// Status returns a point-in-time copy of the job's state.
func (s *Service) Status(id string) (*model.JobSnapshot, bool) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	st, ok := s.status[id]
	if !ok {
		return nil, false
	}
	snap := st.snap
	snap.Errors = append([]model.ErrorEntry(nil), st.snap.Errors...)
	return &snap, true
}

// update mutates one job's snapshot under the status lock.
func (s *Service) update(id string, fn func(*model.JobSnapshot)) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st := s.status[id]; st != nil {
		fn(&st.snap)
	}
}

// pruneStatus drops finished entries past the TTL and, if the map is still
// over StatusMax, the oldest finished entries beyond the cap.
func (s *Service) pruneStatus(now time.Time) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	for id, st := range s.status {
		if st.snap.Terminal() && now.Sub(st.createdAt) > s.cfg.StatusTTL {
			delete(s.status, id)
		}
	}
	if len(s.status) <= s.cfg.StatusMax {
		return
	}
	for id, st := range s.status {
		if len(s.status) <= s.cfg.StatusMax {
			break
		}
		if st.snap.Terminal() {
			delete(s.status, id)
		}
	}
}
