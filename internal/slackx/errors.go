package slackx

import (
	"fmt"
	"regexp"
)

// APIError is a structured failure from the Slack Web API. Code is the
// machine-readable error string Slack returns (e.g. "missing_scope");
// Detail is an operator-facing explanation with remediation hints.
type APIError struct {
	Code   string
	Detail string
	Err    error
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("slack api error: %s", e.Code)
	}
	return fmt.Sprintf("slack api error: %v", e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// slack-go surfaces ok=false responses as errors whose message is the bare
// error code.
var codePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func wrapAPIError(err error) *APIError {
	code := "unknown"
	if s := err.Error(); codePattern.MatchString(s) {
		code = s
	}
	return &APIError{Code: code, Detail: errorDetail(code), Err: err}
}

// errorDetail maps Slack error codes to remediation text shown next to
// per-user failures in the send report.
func errorDetail(code string) string {
	switch code {
	case "missing_scope":
		return "Insufficient permissions: the Slack app needs the chat:write, users:read and im:write scopes. Add them under OAuth & Permissions, reinstall the app to the workspace, and use the new user token."
	case "not_authed":
		return "Authentication failed: the token is missing, invalid or expired. Make sure a user OAuth token (xoxp-) is configured."
	case "invalid_auth":
		return "Authentication failed: the token was rejected by Slack. Obtain a fresh user OAuth token."
	case "token_revoked":
		return "The token has been revoked. Obtain a new token and reconfigure."
	case "account_inactive":
		return "The account is inactive. Check that the account is still enabled in the workspace."
	case "channel_not_found":
		return "Could not open a DM channel. Check that the target user exists and is a member of the workspace."
	case "user_not_found":
		return "User not found. Check the username or user ID, and that the user is a workspace member."
	case "users_not_found":
		return "User not found. Check the username or user ID, and that the user is a workspace member."
	case "cant_dm_bot":
		return "Bots cannot receive direct messages."
	case "user_disabled":
		return "The target user has been deactivated."
	case "rate_limited", "ratelimited":
		return "Slack API rate limit reached. Wait a moment and retry."
	case "team_access_not_granted":
		return "The token has no access to this workspace."
	default:
		return fmt.Sprintf("Unexpected Slack error %q; see the Slack API documentation for details.", code)
	}
}
