package leads

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// NotifyChannel is the postgres channel the leads trigger publishes to.
// Payload: {"op":"INSERT"|"UPDATE","id":"<uuid>"}.
const NotifyChannel = "lead_changes"

type notifyPayload struct {
	Op string `json:"op"`
	ID string `json:"id"`
}

// Fetcher loads the post-mutation record for a notification.
type Fetcher interface {
	Get(ctx context.Context, id string) (Lead, error)
}

// Listener holds one dedicated pgx connection on LISTEN lead_changes and fans
// changes out to subscribers with the full record attached.
type Listener struct {
	dsn     string
	fetch   Fetcher
	log     *slog.Logger
	backoff time.Duration

	mu     sync.Mutex
	subs   map[int]memorySub
	nextID int
}

func NewListener(dsn string, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{dsn: dsn, log: log, backoff: 2 * time.Second, subs: map[int]memorySub{}}
}

// SetFetcher must be called before Run; usually the PostgresRepo itself.
func (l *Listener) SetFetcher(f Fetcher) { l.fetch = f }

// Run listens until ctx is cancelled, reconnecting after connection loss.
func (l *Listener) Run(ctx context.Context) error {
	if l.fetch == nil {
		return errors.New("leads: listener fetcher not configured")
	}
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.log.Warn("lead listener disconnected", "err", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.backoff):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return err
	}
	l.log.Info("lead listener started", "channel", NotifyChannel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.handle(ctx, n.Payload)
	}
}

func (l *Listener) handle(ctx context.Context, payload string) {
	var p notifyPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil || p.ID == "" {
		l.log.Warn("lead listener bad payload", "payload", payload)
		return
	}
	typ := ChangeUpdate
	if p.Op == "INSERT" {
		typ = ChangeInsert
	}
	lead, err := l.fetch.Get(ctx, p.ID)
	if err != nil {
		l.log.Warn("lead listener fetch failed", "lead_id", p.ID, "err", err)
		return
	}
	l.Publish(Change{Type: typ, Lead: lead})
}

func (l *Listener) Subscribe(ctx context.Context, f SubscribeFilter) <-chan Change {
	ch := make(chan Change, 32)
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = memorySub{filter: f, ch: ch}
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.subs, id)
		close(ch)
		l.mu.Unlock()
	}()
	return ch
}

// Publish delivers c to matching subscribers without blocking.
func (l *Listener) Publish(c Change) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.subs {
		if !s.filter.Match(c) {
			continue
		}
		select {
		case s.ch <- c:
		default:
		}
	}
}
