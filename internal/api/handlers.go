package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dmblast/internal/backend"
	"dmblast/internal/model"
	"dmblast/internal/slackx"
)

type parseMentionsReq struct {
	Text  string `json:"text"`
	Token string `json:"token"`
}

type parseMentionsResp struct {
	Users  []model.User `json:"users"`
	Errors []string     `json:"errors"`
}

func (s *Server) handleParseMentions(w http.ResponseWriter, r *http.Request) {
	var req parseMentionsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Token == "" {
		writeErr(w, http.StatusUnauthorized, "token required")
		return
	}
	if req.Text == "" {
		writeErr(w, http.StatusBadRequest, "text required")
		return
	}

	users, unresolved, err := s.backend.ResolveMentions(r.Context(), req.Text, req.Token)
	if err != nil {
		writeSlackErr(w, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	if unresolved == nil {
		unresolved = []string{}
	}
	writeJSON(w, http.StatusOK, parseMentionsResp{Users: users, Errors: unresolved})
}

func (s *Server) handleImportVariables(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxImportBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxImportBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErr(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeErr(w, http.StatusBadRequest, "parse multipart failed")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "file missing")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "read file failed")
		return
	}

	res, err := s.backend.ImportVariables(r.Context(), header.Filename, content)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if res.Errors == nil {
		res.Errors = []string{}
	}
	writeJSON(w, http.StatusOK, res)
}

type previewReq struct {
	Template string                       `json:"template"`
	UserData map[string]map[string]string `json:"user_data"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	res, err := s.backend.RenderPreview(r.Context(), req.Template, req.UserData)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if res.MissingVariables == nil {
		res.MissingVariables = []string{}
	}
	if res.AvailableVariables == nil {
		res.AvailableVariables = []string{}
	}
	writeJSON(w, http.StatusOK, res)
}

type sendMessagesReq struct {
	Template string                       `json:"template"`
	Users    []model.User                 `json:"users"`
	UserData map[string]map[string]string `json:"user_data"`
	Token    string                       `json:"token"`
}

func (s *Server) handleSendMessages(w http.ResponseWriter, r *http.Request) {
	var req sendMessagesReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Token == "" {
		writeErr(w, http.StatusUnauthorized, "token required")
		return
	}
	if len(req.Users) == 0 {
		writeErr(w, http.StatusBadRequest, "at least one user is required")
		return
	}

	snap, err := s.backend.SubmitSend(r.Context(), req.Template, req.Users, req.UserData, req.Token)
	if err != nil {
		var apiErr *slackx.APIError
		if errors.As(err, &apiErr) {
			writeSlackErr(w, err)
			return
		}
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	snap, err := s.backend.JobStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, backend.ErrJobNotFound) {
			writeErr(w, http.StatusNotFound, "job not found")
			return
		}
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// authCodes are Slack error codes that mean the token itself is bad.
var authCodes = map[string]bool{
	"invalid_auth":     true,
	"not_authed":       true,
	"token_revoked":    true,
	"account_inactive": true,
	"token_expired":    true,
}

func writeSlackErr(w http.ResponseWriter, err error) {
	var apiErr *slackx.APIError
	if errors.As(err, &apiErr) {
		code := http.StatusBadRequest
		if authCodes[apiErr.Code] {
			code = http.StatusUnauthorized
		}
		writeJSON(w, code, map[string]string{
			"error":      apiErr.Code,
			"detail":     apiErr.Detail,
			"error_code": apiErr.Code,
		})
		return
	}
	writeErr(w, http.StatusBadGateway, err.Error())
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
