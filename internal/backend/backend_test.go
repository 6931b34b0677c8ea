package backend

import (
	"context"
	"errors"
	"testing"

	"dmblast/internal/model"
	"dmblast/internal/send"
	"dmblast/internal/slackx"
	logx "dmblast/pkg/logx"
)

// fakeAPI implements slackx.API with a canned user directory.
type fakeAPI struct {
	token string
	users map[string]model.User // by name
}

func (f *fakeAPI) ValidateToken(ctx context.Context) error {
	if f.token != "xoxp-good" {
		return &slackx.APIError{Code: "invalid_auth", Detail: "The token is invalid."}
	}
	return nil
}

func (f *fakeAPI) UserByID(ctx context.Context, id string) (*model.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return &u, nil
		}
	}
	return nil, &slackx.APIError{Code: "user_not_found"}
}

func (f *fakeAPI) UserByName(ctx context.Context, name string) (*model.User, error) {
	if u, ok := f.users[name]; ok {
		return &u, nil
	}
	return nil, &slackx.APIError{Code: "user_not_found"}
}

func (f *fakeAPI) ResolveMentions(ctx context.Context, mentions []string) ([]model.User, []string) {
	var users []model.User
	var unresolved []string
	for _, m := range mentions {
		if u, ok := f.users[m]; ok {
			users = append(users, u)
			continue
		}
		unresolved = append(unresolved, "user not found: "+m)
	}
	return users, unresolved
}

func (f *fakeAPI) SendDM(ctx context.Context, userID, text string) error          { return nil }
func (f *fakeAPI) SendDMWithRetry(ctx context.Context, userID, text string) error { return nil }

func newTestBackend(t *testing.T) (*Backend, *send.Service) {
	t.Helper()
	directory := map[string]model.User{
		"alice": {ID: "U0ALICE1234", Name: "alice", DisplayName: "Alice"},
		"bob":   {ID: "U0BOB456789", Name: "bob", DisplayName: "Bobby"},
	}
	factory := slackx.Factory(func(token string) slackx.API {
		return &fakeAPI{token: token, users: directory}
	})
	engine := send.New(send.Config{Workers: 1}, nil, logx.Nop())
	return New(factory, engine, logx.Nop()), engine
}

func TestResolveMentionsValidatesToken(t *testing.T) {
	b, _ := newTestBackend(t)

	_, _, err := b.ResolveMentions(context.Background(), "@alice", "xoxp-bad")
	var apiErr *slackx.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "invalid_auth" {
		t.Fatalf("err = %v", err)
	}

	users, unresolved, err := b.ResolveMentions(context.Background(), "hi @alice and @ghost", "xoxp-good")
	if err != nil {
		t.Fatalf("ResolveMentions: %v", err)
	}
	if len(users) != 1 || users[0].ID != "U0ALICE1234" {
		t.Fatalf("users = %+v", users)
	}
	if len(unresolved) != 1 {
		t.Fatalf("unresolved = %v", unresolved)
	}
}

func TestResolveMentionsNoMentions(t *testing.T) {
	b, _ := newTestBackend(t)
	users, unresolved, err := b.ResolveMentions(context.Background(), "no mentions here", "xoxp-good")
	if err != nil || users != nil || unresolved != nil {
		t.Fatalf("got %v, %v, %v", users, unresolved, err)
	}
}

func TestImportVariables(t *testing.T) {
	b, _ := newTestBackend(t)
	res, err := b.ImportVariables(context.Background(), "vars.json", []byte(`[{"username":"alice","name":"Ada"}]`))
	if err != nil {
		t.Fatalf("ImportVariables: %v", err)
	}
	if res.ImportedCount != 1 || res.UserData["alice"]["name"] != "Ada" {
		t.Fatalf("result = %+v", res)
	}

	if _, err := b.ImportVariables(context.Background(), "vars.json", []byte("")); err == nil {
		t.Fatal("empty file must be an error")
	}
}

func TestRenderPreview(t *testing.T) {
	b, _ := newTestBackend(t)

	res, err := b.RenderPreview(context.Background(), "Hi {name}", model.Variables{
		"U1": {"name": "Ada"},
		"U2": {},
	})
	if err != nil {
		t.Fatalf("RenderPreview: %v", err)
	}
	if res.RenderedMessages["U1"] != "Hi Ada" || res.RenderedMessages["U2"] != "Hi {name}" {
		t.Fatalf("rendered = %v", res.RenderedMessages)
	}
	if len(res.MissingVariables) != 1 || res.MissingVariables[0] != "name" {
		t.Fatalf("missing = %v", res.MissingVariables)
	}

	if _, err := b.RenderPreview(context.Background(), "Hi {1bad}", nil); err == nil {
		t.Fatal("invalid template must be rejected")
	}
}

func TestSubmitSendRequiresToken(t *testing.T) {
	b, _ := newTestBackend(t)
	_, err := b.SubmitSend(context.Background(), "hi", []model.User{{ID: "U1"}}, nil, "")
	if err == nil {
		t.Fatal("expected token error")
	}
}

func TestSubmitSendRejectsBadToken(t *testing.T) {
	b, _ := newTestBackend(t)
	snap, err := b.SubmitSend(context.Background(), "hi", []model.User{{ID: "U0ALICE1234"}}, nil, "xoxp-revoked")
	var apiErr *slackx.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "invalid_auth" {
		t.Fatalf("err = %v, want invalid_auth", err)
	}
	if snap != nil {
		t.Fatalf("no job must be queued for a rejected token, got %+v", snap)
	}
}

func TestJobStatusNotFound(t *testing.T) {
	b, _ := newTestBackend(t)
	_, err := b.JobStatus(context.Background(), "missing")
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestSubmitAndStatus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, engine := newTestBackend(t)
	engine.Start(ctx)
	defer engine.Stop(context.Background())

	snap, err := b.SubmitSend(ctx, "hi {name}", []model.User{{ID: "U0ALICE1234", Name: "alice"}}, nil, "xoxp-good")
	if err != nil {
		t.Fatalf("SubmitSend: %v", err)
	}
	if snap.JobID == "" || snap.TotalUsers != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if _, err := b.JobStatus(ctx, snap.JobID); err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
}
