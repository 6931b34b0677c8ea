package send

import (
	"context"
	"errors"
	"time"

	"dmblast/internal/model"
	"dmblast/internal/slackx"
	"dmblast/internal/template"
	logx "dmblast/pkg/logx"
)

func (s *Service) worker(ctx context.Context, queue <-chan job, idx int) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-queue:
			s.execJob(ctx, j)
		}
	}
}

func (s *Service) execJob(ctx context.Context, j job) {
	start := time.Now()
	s.update(j.id, func(snap *model.JobSnapshot) {
		snap.Status = model.StatusRunning
		snap.StartedAt = &start
	})
	s.log.Info("send job started", logx.String("job", j.id), logx.Int("total", len(j.req.Users)))

	for _, user := range j.req.Users {
		if ctx.Err() != nil {
			s.abortJob(j.id)
			return
		}

		vars := j.req.UserData[user.ID]
		rendered := template.RenderSafe(j.req.Template, vars)

		err := j.req.Sender.SendDMWithRetry(ctx, user.ID, rendered.Rendered)
		if err != nil {
			entry := errorEntry(user, err)
			s.update(j.id, func(snap *model.JobSnapshot) {
				snap.FailedCount++
				snap.Errors = append(snap.Errors, entry)
			})
			s.log.Warn("dm delivery failed",
				logx.String("job", j.id),
				logx.String("user", user.ID),
				logx.String("code", entry.ErrorCode),
				logx.Err(err))
			continue
		}

		s.update(j.id, func(snap *model.JobSnapshot) { snap.SentCount++ })
		s.log.Debug("dm delivered", logx.String("job", j.id), logx.String("user", user.ID))
	}

	done := time.Now()
	s.update(j.id, func(snap *model.JobSnapshot) {
		snap.Status = model.StatusCompleted
		snap.CompletedAt = &done
	})
	s.record(ctx, j.id)
	s.pruneStatus(done)

	if snap, ok := s.Status(j.id); ok {
		fields := []logx.Field{
			logx.String("job", j.id),
			logx.Int("sent", snap.SentCount),
			logx.Int("failed", snap.FailedCount),
			logx.Duration("dur", time.Since(start)),
		}
		if snap.FailedCount > 0 {
			s.log.Warn("send job finished with failures", fields...)
		} else {
			s.log.Info("send job finished", fields...)
		}
	}
}

// abortJob marks a job failed when the engine shuts down mid-run.
func (s *Service) abortJob(id string) {
	now := time.Now()
	s.update(id, func(snap *model.JobSnapshot) {
		snap.Status = model.StatusFailed
		snap.FailedCount = snap.TotalUsers - snap.SentCount
		snap.CompletedAt = &now
	})
}

func (s *Service) record(ctx context.Context, id string) {
	if s.rec == nil {
		return
	}
	snap, ok := s.Status(id)
	if !ok {
		return
	}
	if err := s.rec.Record(ctx, *snap); err != nil {
		s.log.Warn("failed to archive job result", logx.String("job", id), logx.Err(err))
	}
}

func errorEntry(user model.User, err error) model.ErrorEntry {
	entry := model.ErrorEntry{
		UserID:   user.ID,
		UserName: user.DisplayName,
		Error:    err.Error(),
	}
	var apiErr *slackx.APIError
	if errors.As(err, &apiErr) {
		entry.ErrorCode = apiErr.Code
		entry.DetailedError = apiErr.Detail
	} else {
		entry.ErrorCode = "system_error"
		entry.DetailedError = "Unexpected error; check the server logs."
	}
	return entry
}
