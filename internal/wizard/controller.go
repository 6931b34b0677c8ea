// Package wizard is the client-side orchestrator of the DM batch-send flow:
// an ordered five-step state machine (credential, recipients, template,
// variables, send) over a single in-memory session, plus the monitor that
// tracks the asynchronous send job to completion.
//
// The Controller owns the session exclusively. Collaborator calls go through
// the Service interface and their results are applied back under the
// controller lock, guarded against staleness (a reset or job change makes
// late results no-ops). Observers subscribe to state-change events on an
// eventbus instead of being called into directly.
package wizard

import (
	"context"
	"strings"
	"sync"
	"time"

	"dmblast/internal/eventbus"
	"dmblast/internal/model"
	"dmblast/internal/template"
	logx "dmblast/pkg/logx"
)

// Event types published on the bus. Data is an EventData value.
const (
	EventStepChanged       = "wizard.step_changed"
	EventRecipientsChanged = "wizard.recipients_changed"
	EventJobProgress       = "wizard.job_progress"
	EventJobFinished       = "wizard.job_finished"
	EventReset             = "wizard.reset"
)

// EventData accompanies every wizard event.
type EventData struct {
	Step     int
	Job      *model.JobSnapshot
	Progress float64
}

const tokenPrefix = "xoxp-"

// defaultPollInterval matches the observed 1-second status poll cadence.
const defaultPollInterval = time.Second

type Controller struct {
	svc Service
	bus eventbus.Bus
	log logx.Logger

	pollInterval time.Duration
	sleep        func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	sess  Session
	phase JobPhase
	// gen invalidates in-flight async results: it is bumped on Reset() and on
	// every submission, and results carrying an older gen are discarded.
	gen int
}

type Option func(*Controller)

func WithBus(bus eventbus.Bus) Option   { return func(c *Controller) { c.bus = bus } }
func WithLogger(log logx.Logger) Option { return func(c *Controller) { c.log = log } }

// WithPollInterval sets the status poll cadence.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithSleep replaces the poll delay; tests inject an immediate or counting
// clock here.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

func New(svc Service, opts ...Option) *Controller {
	c := &Controller{
		svc:          svc,
		bus:          eventbus.New(),
		log:          logx.Nop(),
		pollInterval: defaultPollInterval,
		sleep:        sleepFor,
		sess:         Session{Step: StepCredential},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepFor(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Session returns a deep copy of the current session state.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.clone()
}

func (c *Controller) Step() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.Step
}

// ---- Step 1: credential ----

// ValidateToken checks the token format locally, then confirms it against the
// backend. On success the token is stored and step 2 unlocks.
func (c *Controller) ValidateToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return validationf("token is required")
	}
	if !strings.HasPrefix(token, tokenPrefix) {
		return validationf("user tokens must start with %s", tokenPrefix)
	}

	// The backend has no dedicated validation call; resolving a throwaway
	// mention exercises auth the same way the original client did.
	if _, _, err := c.svc.ResolveMentions(ctx, "@token-check", token); err != nil {
		return err
	}

	c.mu.Lock()
	c.sess.Token = token
	c.sess.TokenValid = true
	c.mu.Unlock()
	c.log.Info("token validated")
	return nil
}

// ---- Step 2: recipients ----

// ResolveRecipients resolves mention text into the session's recipient list,
// replacing any previous list. Unresolved mentions are returned as warnings.
func (c *Controller) ResolveRecipients(ctx context.Context, text string) ([]string, error) {
	c.mu.Lock()
	token := c.sess.Token
	valid := c.sess.TokenValid
	c.mu.Unlock()

	if !valid {
		return nil, validationf("token has not been validated")
	}
	if strings.TrimSpace(text) == "" {
		return nil, validationf("mention text is required")
	}

	users, unresolved, err := c.svc.ResolveMentions(ctx, text, token)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.sess.Recipients = dedupeByID(users)
	c.mu.Unlock()
	c.publish(EventRecipientsChanged)
	c.log.Info("recipients resolved", logx.Int("count", len(users)), logx.Int("unresolved", len(unresolved)))
	return unresolved, nil
}

// RemoveRecipient removes the recipient at position i.
func (c *Controller) RemoveRecipient(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.sess.Recipients) {
		return &IndexError{Index: i, Len: len(c.sess.Recipients)}
	}
	removed := c.sess.Recipients[i]
	c.sess.Recipients = append(c.sess.Recipients[:i:i], c.sess.Recipients[i+1:]...)
	delete(c.sess.Bindings, removed.ID)
	c.publishLocked(EventRecipientsChanged)
	return nil
}

func dedupeByID(users []model.User) []model.User {
	out := make([]model.User, 0, len(users))
	seen := map[string]bool{}
	for _, u := range users {
		if !seen[u.ID] {
			out = append(out, u)
			seen[u.ID] = true
		}
	}
	return out
}

// ---- Step 3: template ----

func (c *Controller) SetTemplate(t string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sess.Template = t
}

// ---- Step 4: variables ----

// Slots lists the variable-input cells for the current session: one per
// (recipient × variable) pair, in recipient-then-variable order.
func (c *Controller) Slots() []Slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	slots := make([]Slot, 0, len(c.sess.Recipients)*len(c.sess.Variables))
	for _, u := range c.sess.Recipients {
		for _, v := range c.sess.Variables {
			slots = append(slots, Slot{UserID: u.ID, Variable: v})
		}
	}
	return slots
}

// SetBinding records one variable value. Empty values remove the binding
// rather than storing blanks.
func (c *Controller) SetBinding(userID, variable, value string) {
	value = strings.TrimSpace(value)
	c.mu.Lock()
	defer c.mu.Unlock()
	if value == "" {
		if vars, ok := c.sess.Bindings[userID]; ok {
			delete(vars, variable)
			if len(vars) == 0 {
				delete(c.sess.Bindings, userID)
			}
		}
		return
	}
	if c.sess.Bindings == nil {
		c.sess.Bindings = model.Variables{}
	}
	if c.sess.Bindings[userID] == nil {
		c.sess.Bindings[userID] = map[string]string{}
	}
	c.sess.Bindings[userID][variable] = value
}

// ImportBindings uploads a variable file and applies the rows that match an
// existing recipient by ID, username or display name (in that order).
// Unmatched rows are ignored; they never create recipients.
func (c *Controller) ImportBindings(ctx context.Context, filename string, content []byte) (matched int, warnings []string, err error) {
	res, err := c.svc.ImportVariables(ctx, filename, content)
	if err != nil {
		return 0, nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	known := map[string]bool{}
	for _, v := range template.ExtractVariables(c.sess.Template) {
		known[v] = true
	}

	for identifier, vars := range res.UserData {
		user, ok := c.findRecipientLocked(identifier)
		if !ok {
			continue
		}
		applied := false
		for name, value := range vars {
			if !known[name] || strings.TrimSpace(value) == "" {
				continue
			}
			if c.sess.Bindings == nil {
				c.sess.Bindings = model.Variables{}
			}
			if c.sess.Bindings[user.ID] == nil {
				c.sess.Bindings[user.ID] = map[string]string{}
			}
			c.sess.Bindings[user.ID][name] = strings.TrimSpace(value)
			applied = true
		}
		if applied {
			matched++
		}
	}
	return matched, res.Errors, nil
}

func (c *Controller) findRecipientLocked(identifier string) (model.User, bool) {
	for _, u := range c.sess.Recipients {
		if u.ID == identifier {
			return u, true
		}
	}
	for _, u := range c.sess.Recipients {
		if u.Name == identifier {
			return u, true
		}
	}
	for _, u := range c.sess.Recipients {
		if u.DisplayName == identifier {
			return u, true
		}
	}
	return model.User{}, false
}

// ---- Navigation ----

// GoTo requests a transition to the target step. Backward transitions always
// succeed; forward transitions require every intermediate guard to hold.
// Re-requesting the current step is a no-op (entry hooks do not re-fire).
func (c *Controller) GoTo(ctx context.Context, target int) error {
	if target < StepCredential || target > StepSend {
		return validationf("no such step: %d", target)
	}

	c.mu.Lock()
	cur := c.sess.Step
	if target == cur {
		c.mu.Unlock()
		return nil
	}
	if target > cur {
		for step := cur; step < target; step++ {
			if reason := c.guardLocked(step); reason != "" {
				c.mu.Unlock()
				return &PreconditionError{From: cur, To: target, Reason: reason}
			}
		}
	}
	c.sess.Step = target
	if target == StepVariables {
		c.enterVariablesLocked()
	}
	c.publishLocked(EventStepChanged)
	c.mu.Unlock()

	if target == StepSend {
		c.enterSend(ctx)
	}
	c.log.Debug("step changed", logx.Int("from", cur), logx.Int("to", target))
	return nil
}

// guardLocked reports why the transition out of step may not proceed, or ""
// if it may.
func (c *Controller) guardLocked(step int) string {
	switch step {
	case StepCredential:
		if !c.sess.TokenValid {
			return "token has not been validated"
		}
	case StepRecipients:
		if len(c.sess.Recipients) == 0 {
			return "no recipients selected"
		}
	case StepTemplate:
		if strings.TrimSpace(c.sess.Template) == "" {
			return "template is empty"
		}
	}
	return ""
}

// enterVariablesLocked re-derives the variable set from the current template
// and drops bindings for (recipient, variable) pairs that no longer exist.
func (c *Controller) enterVariablesLocked() {
	c.sess.Variables = template.ExtractVariables(c.sess.Template)

	known := map[string]bool{}
	for _, v := range c.sess.Variables {
		known[v] = true
	}
	recipients := map[string]bool{}
	for _, u := range c.sess.Recipients {
		recipients[u.ID] = true
	}

	for uid, vars := range c.sess.Bindings {
		if !recipients[uid] {
			delete(c.sess.Bindings, uid)
			continue
		}
		for name := range vars {
			if !known[name] {
				delete(vars, name)
			}
		}
		if len(vars) == 0 {
			delete(c.sess.Bindings, uid)
		}
	}
}

// enterSend fetches the authoritative preview and computes the summary. A
// preview failure is non-fatal: the step is still entered, without a preview.
func (c *Controller) enterSend(ctx context.Context) {
	c.mu.Lock()
	gen := c.gen
	tmpl := c.sess.Template
	userData := c.userDataLocked()
	c.sess.Summary = Summary{
		Recipients: len(c.sess.Recipients),
		Variables:  len(template.ExtractVariables(tmpl)),
	}
	c.mu.Unlock()

	preview, err := c.svc.RenderPreview(ctx, tmpl, userData)
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.sess.Step != StepSend {
		return // session moved on while the preview was in flight
	}
	if err != nil {
		c.log.Warn("preview render failed", logx.Err(err))
		c.sess.Preview = nil
		return
	}
	c.sess.Preview = preview
	if len(preview.MissingVariables) > 0 {
		c.log.Warn("preview has unbound variables", logx.Any("missing", preview.MissingVariables))
	}
}

// userDataLocked builds the per-recipient variable map covering every
// recipient, unbound ones included, so rendering reports their missing
// placeholders.
func (c *Controller) userDataLocked() model.Variables {
	out := make(model.Variables, len(c.sess.Recipients))
	for _, u := range c.sess.Recipients {
		vars := make(map[string]string, len(c.sess.Bindings[u.ID]))
		for k, v := range c.sess.Bindings[u.ID] {
			vars[k] = v
		}
		out[u.ID] = vars
	}
	return out
}

// Reset clears the whole session and returns to step 1. Any in-flight poll
// results become stale and are discarded.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.gen++
	c.sess = Session{Step: StepCredential}
	c.phase = PhaseNotStarted
	c.publishLocked(EventReset)
	c.mu.Unlock()
	c.log.Info("session reset")
}

// ---- events ----

func (c *Controller) publish(eventType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishLocked(eventType)
}

func (c *Controller) publishLocked(eventType string) {
	data := EventData{Step: c.sess.Step}
	if c.sess.ActiveJob != nil {
		job := *c.sess.ActiveJob
		data.Job = &job
		data.Progress = Progress(&job)
	}
	c.bus.Publish(eventbus.Event{Type: eventType, Data: data})
}
