package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lead-crm/internal/audit"
	"lead-crm/internal/leads"
	"lead-crm/internal/metrics"
	"lead-crm/internal/voice"
)

const persistTimeout = 10 * time.Second

// Config is per-deployment call configuration.
type Config struct {
	AgentID     string
	SettleDelay time.Duration
}

// Deps are the collaborators of a Controller. Recorder, Metrics and Logger
// are optional.
type Deps struct {
	Tokens   voice.TokenIssuer
	Provider voice.Provider
	Leads    LeadWriter
	Recorder Recorder
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
}

// Controller drives one call attempt for one lead:
//
//	idle -> initializing -> connecting -> connected -> ended
//	                                  \-> failed (token, never connected, error, abort)
//
// Provider events are dispatched into the state machine under mu. Record
// writes made by the lifecycle and by tool calls are serialized by writeMu.
// The completion callback fires exactly once.
type Controller struct {
	cfg    Config
	leadID string
	deps   Deps
	log    *slog.Logger
	now    func() time.Time
	done   func(Outcome)

	// sleep waits out the settle delay; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	mu            sync.Mutex
	state         State
	everConnected bool
	terminated    bool
	err           error
	session       voice.Session
	startedAt     time.Time
	endedAt       time.Time
	messages      []voice.Message
	baseCtx       context.Context

	writeMu  sync.Mutex
	doneOnce sync.Once
	finished chan struct{}
}

// NewController builds a controller in state initializing. done may be nil.
func NewController(cfg Config, leadID string, deps Deps, done func(Outcome)) *Controller {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	deps.Metrics.CallStarted()
	return &Controller{
		cfg:      cfg,
		leadID:   leadID,
		deps:     deps,
		log:      log.With("lead_id", leadID),
		now:      now,
		done:     done,
		sleep:    sleepCtx,
		state:    StateInitializing,
		baseCtx:  context.Background(),
		finished: make(chan struct{}),
	}
}

func (c *Controller) LeadID() string { return c.leadID }

// Done is closed after the completion callback has run.
func (c *Controller) Done() <-chan struct{} { return c.finished }

// Start waits the settle delay, fetches a signed URL and opens the session.
// It returns once the session is started; the lifecycle then advances on
// provider events. A returned error has already been reported through the
// completion callback.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateInitializing {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.baseCtx = context.WithoutCancel(ctx)
	c.mu.Unlock()

	if err := c.sleep(ctx, c.cfg.SettleDelay); err != nil {
		return c.abortBeforeSession()
	}

	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return ErrUserAborted
	}
	c.state = StateConnecting
	c.mu.Unlock()
	c.log.Info("call connecting", "agent_id", c.cfg.AgentID)

	url, err := c.deps.Tokens.SignedURL(ctx, c.cfg.AgentID)
	if err == nil && url == "" {
		err = voice.ErrNoSignedURL
	}
	if err != nil {
		return c.failBeforeSession(fmt.Errorf("%w: %v", ErrTokenFetchFailed, err))
	}

	c.mu.Lock()
	aborted := c.terminated
	c.mu.Unlock()
	if aborted {
		return ErrUserAborted
	}

	sess, err := c.deps.Provider.Start(ctx, url, c.Dispatch, c.HandleTool)
	if err != nil {
		return c.failBeforeSession(fmt.Errorf("%w: %v", ErrSessionNeverConnected, err))
	}

	c.mu.Lock()
	c.session = sess
	aborted = c.terminated && errors.Is(c.err, ErrUserAborted)
	c.mu.Unlock()
	if aborted {
		// hung up while the session was starting
		_ = sess.End(ctx)
		return ErrUserAborted
	}
	return nil
}

func (c *Controller) failBeforeSession(err error) error {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return ErrUserAborted
	}
	c.terminated = true
	c.state = StateFailed
	c.err = err
	out := c.outcomeLocked()
	c.mu.Unlock()

	c.log.Warn("call failed before session", "err", err)
	c.complete(out)
	return err
}

func (c *Controller) abortBeforeSession() error {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return ErrUserAborted
	}
	c.terminated = true
	c.state = StateFailed
	c.err = ErrUserAborted
	out := c.outcomeLocked()
	c.mu.Unlock()
	c.complete(out)
	return ErrUserAborted
}

// Dispatch feeds one provider event into the state machine.
func (c *Controller) Dispatch(ev voice.Event) {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return
	}

	switch ev.Type {
	case voice.EventConnected:
		if c.state != StateConnecting {
			c.mu.Unlock()
			return
		}
		c.state = StateConnected
		c.everConnected = true
		c.startedAt = c.now().UTC()
		started := c.startedAt
		c.persistLocked(leads.Patch{
			Status:        leads.StatusPtr(leads.StatusCalling),
			CallStartedAt: leads.Time(started),
		})
		c.mu.Unlock()
		c.log.Info("call connected")
		c.record(audit.EventTypeCallConnected, "session connected", nil)

	case voice.EventMessage:
		if ev.Message != nil {
			c.messages = append(c.messages, *ev.Message)
		}
		c.mu.Unlock()

	case voice.EventDisconnected:
		c.terminated = true
		c.endedAt = c.now().UTC()
		if c.everConnected {
			c.state = StateEnded
			c.persistLocked(c.completionPatchLocked())
		} else {
			c.state = StateFailed
			c.err = fmt.Errorf("%w: %s", ErrSessionNeverConnected, ev.Reason)
		}
		out := c.outcomeLocked()
		c.mu.Unlock()
		c.complete(out)

	case voice.EventError:
		c.terminated = true
		c.endedAt = c.now().UTC()
		c.state = StateFailed
		c.err = fmt.Errorf("%w: %v", ErrProviderError, ev.Err)
		sess, base := c.session, c.baseCtx
		out := c.outcomeLocked()
		c.mu.Unlock()
		if sess != nil {
			_ = sess.End(base)
		}
		c.complete(out)

	default:
		c.mu.Unlock()
	}
}

// Hangup ends the call locally. The lifecycle is marked terminal before the
// provider is asked to end, so the provider's own disconnect is ignored.
// Calling Hangup on a terminated lifecycle is a no-op.
func (c *Controller) Hangup(ctx context.Context) error {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return nil
	}
	c.terminated = true
	c.err = ErrUserAborted
	c.endedAt = c.now().UTC()
	if c.everConnected {
		c.state = StateEnded
		c.persistLocked(c.completionPatchLocked())
	} else {
		c.state = StateFailed
	}
	sess := c.session
	out := c.outcomeLocked()
	c.mu.Unlock()

	if sess != nil {
		if err := sess.End(ctx); err != nil {
			c.log.Warn("provider end failed", "err", err)
		}
	}
	c.complete(out)
	return nil
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		LeadID:        c.leadID,
		State:         c.state,
		EverConnected: c.everConnected,
		Messages:      append([]voice.Message{}, c.messages...),
	}
	if c.session != nil {
		s.SessionID = c.session.ID()
	}
	if c.err != nil {
		s.Error = c.err.Error()
	}
	return s
}

// completionPatchLocked ends the call on the record. A terminal status set
// earlier by a tool call (qualified, not_qualified) is kept.
func (c *Controller) completionPatchLocked() leads.Patch {
	ended := c.endedAt
	p := leads.Patch{
		CallEndedAt:         leads.Time(ended),
		CallDurationSeconds: leads.Int(int(ended.Sub(c.startedAt).Seconds())),
	}
	ctx, cancel := context.WithTimeout(c.baseCtx, persistTimeout)
	defer cancel()
	cur, err := c.deps.Leads.Get(ctx, c.leadID)
	if err != nil || !cur.Status.IsTerminal() {
		p.Status = leads.StatusPtr(leads.StatusCallCompleted)
	}
	return p
}

func (c *Controller) persistLocked(p leads.Patch) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(c.baseCtx, persistTimeout)
	defer cancel()
	if _, err := c.deps.Leads.Apply(ctx, c.leadID, p); err != nil {
		c.log.Error("lead update failed", "state", c.state, "err", err)
	}
}

func (c *Controller) outcomeLocked() Outcome {
	return Outcome{
		LeadID:    c.leadID,
		State:     c.state,
		Err:       c.err,
		Connected: c.everConnected,
		StartedAt: c.startedAt,
		EndedAt:   c.endedAt,
		Messages:  append([]voice.Message{}, c.messages...),
	}
}

func (c *Controller) complete(out Outcome) {
	c.doneOnce.Do(func() {
		c.deps.Metrics.CallFinished(out.Label(), out.Duration())
		typ := audit.EventTypeCallEnded
		if out.State == StateFailed {
			typ = audit.EventTypeCallFailed
		}
		meta := map[string]any{"outcome": out.Label(), "duration_seconds": int(out.Duration().Seconds())}
		if out.Err != nil {
			meta["error"] = out.Err.Error()
		}
		c.record(typ, out.Label(), meta)
		c.log.Info("call finished", "state", out.State, "outcome", out.Label())
		if c.done != nil {
			c.done(out)
		}
		close(c.finished)
	})
}

func (c *Controller) record(typ audit.EventType, msg string, meta map[string]any) {
	if c.deps.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.baseContext(), persistTimeout)
	defer cancel()
	if err := c.deps.Recorder.Record(ctx, c.leadID, typ, msg, meta); err != nil {
		c.log.Warn("lead event not recorded", "type", typ, "err", err)
	}
}

func (c *Controller) baseContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseCtx
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
