// Package slackx wraps the Slack Web API client used for token validation,
// identity resolution and DM delivery. All calls go through a per-token rate
// limiter; delivery additionally gets capped exponential-backoff retries.
package slackx

import (
	"context"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"dmblast/internal/model"
	logx "dmblast/pkg/logx"
)

// API is the surface the rest of the system consumes. *Client implements it;
// tests substitute fakes.
type API interface {
	ValidateToken(ctx context.Context) error
	UserByID(ctx context.Context, id string) (*model.User, error)
	UserByName(ctx context.Context, name string) (*model.User, error)
	ResolveMentions(ctx context.Context, mentions []string) ([]model.User, []string)
	SendDM(ctx context.Context, userID, text string) error
	SendDMWithRetry(ctx context.Context, userID, text string) error
}

// Factory builds a client bound to one user token. Clients are cheap; one is
// created per request carrying a token, mirroring how the token never gets
// stored server-side.
type Factory func(token string) API

type Config struct {
	RatePerSec int
	RetryMax   int
	RetryBase  time.Duration
}

type Client struct {
	api       *slack.Client
	limiter   *rate.Limiter
	retryMax  int
	retryBase time.Duration
	log       logx.Logger
}

// New creates a client for one token. Extra slack.Options are for tests
// (pointing the API URL at a fake server).
func New(token string, cfg Config, log logx.Logger, opts ...slack.Option) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = time.Second
	}
	retryMax := cfg.RetryMax
	if retryMax < 0 {
		retryMax = 0
	}
	return &Client{
		api:       slack.New(token, opts...),
		limiter:   rate.NewLimiter(rate.Limit(rps), rps),
		retryMax:  retryMax,
		retryBase: retryBase,
		log:       log,
	}
}

// NewFactory returns a Factory with cfg and opts baked in.
func NewFactory(cfg Config, log logx.Logger, opts ...slack.Option) Factory {
	return func(token string) API {
		return New(token, cfg, log, opts...)
	}
}

// ValidateToken calls auth.test.
func (c *Client) ValidateToken(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := c.api.AuthTestContext(ctx); err != nil {
		return wrapAPIError(err)
	}
	return nil
}

// UserByID looks a user up via users.info.
func (c *Client) UserByID(ctx context.Context, id string) (*model.User, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	u, err := c.api.GetUserInfoContext(ctx, id)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	mu := fromSlackUser(*u)
	return &mu, nil
}

// UserByName scans users.list for a user whose name, real name or display
// name matches. Deleted users are skipped.
func (c *Client) UserByName(ctx context.Context, name string) (*model.User, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	members, err := c.api.GetUsersContext(ctx)
	if err != nil {
		return nil, wrapAPIError(err)
	}

	clean := strings.TrimPrefix(name, "@")
	for _, u := range members {
		if u.Deleted {
			continue
		}
		candidates := []string{u.Name, u.RealName, u.Profile.DisplayName, u.Profile.RealName}
		for _, c := range candidates {
			if c != "" && (c == name || c == clean) {
				mu := fromSlackUser(u)
				return &mu, nil
			}
		}
	}
	return nil, &APIError{Code: "user_not_found", Detail: errorDetail("user_not_found")}
}

// ResolveMentions resolves mention names to users. Names that look like user
// IDs (U + 10 chars) go through users.info, the rest through the users.list
// scan. Unresolved mentions come back as strings, not errors.
func (c *Client) ResolveMentions(ctx context.Context, mentions []string) ([]model.User, []string) {
	var users []model.User
	var unresolved []string
	seen := map[string]bool{}

	for _, mention := range mentions {
		clean := strings.TrimPrefix(strings.TrimSpace(mention), "@")
		if clean == "" {
			continue
		}

		var u *model.User
		var err error
		if looksLikeUserID(clean) {
			u, err = c.UserByID(ctx, clean)
		} else {
			u, err = c.UserByName(ctx, clean)
		}
		if err != nil || u == nil {
			c.log.Debug("mention did not resolve", logx.String("mention", mention), logx.Err(err))
			unresolved = append(unresolved, "user not found: "+mention)
			continue
		}
		if !seen[u.ID] {
			users = append(users, *u)
			seen[u.ID] = true
		}
	}
	return users, unresolved
}

// SendDM opens (or reuses) the DM channel for userID and posts text into it.
func (c *Client) SendDM(ctx context.Context, userID, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	channel, _, _, err := c.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users: []string{userID},
	})
	if err != nil {
		return wrapAPIError(err)
	}

	if _, _, err := c.api.PostMessageContext(ctx, channel.ID, slack.MsgOptionText(text, false)); err != nil {
		return wrapAPIError(err)
	}
	return nil
}

// SendDMWithRetry retries SendDM with exponential backoff, up to retryMax
// extra attempts.
func (c *Client) SendDMWithRetry(ctx context.Context, userID, text string) error {
	var last error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		last = c.SendDM(ctx, userID, text)
		if last == nil {
			if attempt > 0 {
				c.log.Info("dm delivered after retry", logx.String("user", userID), logx.Int("attempts", attempt+1))
			}
			return nil
		}
		if attempt == c.retryMax {
			break
		}

		wait := c.retryBase << attempt
		c.log.Warn("dm send failed; retrying",
			logx.String("user", userID),
			logx.Int("attempt", attempt+1),
			logx.Duration("wait", wait),
			logx.Err(last))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return last
}

func looksLikeUserID(s string) bool {
	return len(s) == 11 && strings.HasPrefix(s, "U")
}

func fromSlackUser(u slack.User) model.User {
	display := u.Profile.DisplayName
	if display == "" {
		display = u.RealName
	}
	if display == "" {
		display = u.Name
	}
	return model.User{
		ID:          u.ID,
		Name:        u.Name,
		DisplayName: display,
		RealName:    u.RealName,
		Email:       u.Profile.Email,
	}
}
