package wizard

import (
	"context"

	"dmblast/internal/model"
)

// Service is the messaging-platform backend the wizard drives. The in-process
// implementation lives in internal/backend; an HTTP client implementation
// talks to a remote dmblast server. The wizard itself never speaks Slack.
type Service interface {
	// ResolveMentions validates the token and resolves @mention text to
	// workspace users. Unresolved mentions are reported as strings, not
	// errors; they never block.
	ResolveMentions(ctx context.Context, text, token string) (users []model.User, unresolved []string, err error)

	// ImportVariables parses an uploaded CSV/JSON file into per-identifier
	// variable values.
	ImportVariables(ctx context.Context, filename string, content []byte) (*ImportResult, error)

	// RenderPreview renders the template per user with the given bindings.
	RenderPreview(ctx context.Context, template string, userData model.Variables) (*PreviewResult, error)

	// SubmitSend starts an asynchronous bulk send and returns its initial
	// job snapshot.
	SubmitSend(ctx context.Context, template string, users []model.User, userData model.Variables, token string) (*model.JobSnapshot, error)

	// JobStatus fetches the current snapshot of a send job.
	JobStatus(ctx context.Context, jobID string) (*model.JobSnapshot, error)
}

// ImportResult mirrors the import API response.
type ImportResult struct {
	ImportedCount int                          `json:"imported_count"`
	UserData      map[string]map[string]string `json:"user_data"`
	Errors        []string                     `json:"errors"`
}

// PreviewResult mirrors the preview API response. MissingVariables is the
// union across users of placeholders with no binding. It is a warning, not an
// error: submission proceeds and missing placeholders render verbatim.
type PreviewResult struct {
	RenderedMessages   map[string]string `json:"rendered_messages"`
	MissingVariables   []string          `json:"missing_variables"`
	AvailableVariables []string          `json:"available_variables"`
}
