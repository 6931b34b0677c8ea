package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"dmblast/internal/model"
	"dmblast/internal/slackx"
	"dmblast/internal/wizard"
)

// Client is the wizard.Service implementation that talks to a remote dmblast
// server over its HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

type parseMentionsRequest struct {
	Text  string `json:"text"`
	Token string `json:"token"`
}

type parseMentionsResponse struct {
	Users  []model.User `json:"users"`
	Errors []string     `json:"errors"`
}

func (c *Client) ResolveMentions(ctx context.Context, text, token string) ([]model.User, []string, error) {
	var resp parseMentionsResponse
	err := c.postJSON(ctx, "/api/parse-mentions", parseMentionsRequest{Text: text, Token: token}, &resp)
	if err != nil {
		return nil, nil, err
	}
	return resp.Users, resp.Errors, nil
}

func (c *Client) ImportVariables(ctx context.Context, filename string, content []byte) (*wizard.ImportResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/import-variables", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out wizard.ImportResult
	if err := c.do(req, "import variables", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type previewRequest struct {
	Template string                       `json:"template"`
	UserData map[string]map[string]string `json:"user_data"`
}

func (c *Client) RenderPreview(ctx context.Context, template string, userData model.Variables) (*wizard.PreviewResult, error) {
	var out wizard.PreviewResult
	if err := c.postJSON(ctx, "/api/preview", previewRequest{Template: template, UserData: userData}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type sendMessagesRequest struct {
	Template string                       `json:"template"`
	Users    []model.User                 `json:"users"`
	UserData map[string]map[string]string `json:"user_data"`
	Token    string                       `json:"token"`
}

func (c *Client) SubmitSend(ctx context.Context, template string, users []model.User, userData model.Variables, token string) (*model.JobSnapshot, error) {
	var out model.JobSnapshot
	err := c.postJSON(ctx, "/api/send-messages", sendMessagesRequest{
		Template: template,
		Users:    users,
		UserData: userData,
		Token:    token,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) JobStatus(ctx context.Context, jobID string) (*model.JobSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/status/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	var out model.JobSnapshot
	if err := c.do(req, "job status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, strings.TrimPrefix(path, "/api/"), out)
}

// apiError is the server's error envelope.
type apiError struct {
	Error     string `json:"error"`
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code"`
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &wizard.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &wizard.TransportError{Op: op, Err: err}
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrJobNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e apiError
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			if e.ErrorCode != "" {
				return &slackx.APIError{Code: e.ErrorCode, Detail: e.Detail}
			}
			return &wizard.ServiceError{Op: op, Message: e.Error}
		}
		return &wizard.ServiceError{Op: op, Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &wizard.TransportError{Op: op, Err: err}
	}
	return nil
}

var _ wizard.Service = (*Client)(nil)
