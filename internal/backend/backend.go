// Package backend implements the wizard's Service collaborator two ways: an
// in-process Backend for embedding, and an HTTP Client for talking to a
// remote server exposing the same operations.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dmblast/internal/model"
	"dmblast/internal/roster"
	"dmblast/internal/send"
	"dmblast/internal/slackx"
	"dmblast/internal/template"
	"dmblast/internal/wizard"
	logx "dmblast/pkg/logx"
)

// ErrJobNotFound reports a status query for an unknown or already-pruned job.
var ErrJobNotFound = errors.New("job not found")

// Backend wires mention parsing, file import, template rendering and the send
// engine behind the wizard.Service interface. It holds no per-user state;
// tokens arrive with each call and are never stored.
type Backend struct {
	slack  slackx.Factory
	engine *send.Service
	log    logx.Logger
}

func New(slack slackx.Factory, engine *send.Service, log logx.Logger) *Backend {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Backend{slack: slack, engine: engine, log: log}
}

// ResolveMentions validates the token, then resolves the @mentions found in
// text. Unresolved mentions come back as warnings, not errors.
func (b *Backend) ResolveMentions(ctx context.Context, text, token string) ([]model.User, []string, error) {
	api := b.slack(token)
	if err := api.ValidateToken(ctx); err != nil {
		return nil, nil, err
	}

	mentions := roster.ParseMentions(text)
	if len(mentions) == 0 {
		return nil, nil, nil
	}
	users, unresolved := api.ResolveMentions(ctx, mentions)
	b.log.Info("mentions resolved",
		logx.Int("mentions", len(mentions)),
		logx.Int("resolved", len(users)),
		logx.Int("unresolved", len(unresolved)))
	return users, unresolved, nil
}

// ImportVariables parses an uploaded CSV/JSON file. Row-level problems are
// warnings; only an unusable file is an error.
func (b *Backend) ImportVariables(ctx context.Context, filename string, content []byte) (*wizard.ImportResult, error) {
	res, err := roster.ParseImport(filename, content)
	if err != nil {
		return nil, err
	}
	return &wizard.ImportResult{
		ImportedCount: len(res.Rows),
		UserData:      res.UserData(),
		Errors:        res.Errors,
	}, nil
}

// RenderPreview validates the template and renders it per user with the given
// bindings.
func (b *Backend) RenderPreview(ctx context.Context, tmpl string, userData model.Variables) (*wizard.PreviewResult, error) {
	if problems := template.Validate(tmpl); len(problems) > 0 {
		return nil, fmt.Errorf("invalid template: %s", strings.Join(problems, "; "))
	}
	rendered, missing := template.RenderForUsers(tmpl, userData)
	return &wizard.PreviewResult{
		RenderedMessages:   rendered,
		MissingVariables:   missing,
		AvailableVariables: template.ExtractVariables(tmpl),
	}, nil
}

// SubmitSend validates the token, then queues an asynchronous bulk send and
// returns its initial snapshot. The sender is bound to the caller's token for
// the lifetime of the job only.
func (b *Backend) SubmitSend(ctx context.Context, tmpl string, users []model.User, userData model.Variables, token string) (*model.JobSnapshot, error) {
	if problems := template.Validate(tmpl); len(problems) > 0 {
		return nil, fmt.Errorf("invalid template: %s", strings.Join(problems, "; "))
	}
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("token is required")
	}
	sender := b.slack(token)
	if err := sender.ValidateToken(ctx); err != nil {
		return nil, err
	}
	return b.engine.Submit(send.Request{
		Template: tmpl,
		Users:    users,
		UserData: userData,
		Sender:   sender,
	})
}

// JobStatus fetches the snapshot of a send job.
func (b *Backend) JobStatus(ctx context.Context, jobID string) (*model.JobSnapshot, error) {
	snap, ok := b.engine.Status(jobID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return snap, nil
}

var _ wizard.Service = (*Backend)(nil)
