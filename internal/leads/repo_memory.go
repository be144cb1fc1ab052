package leads

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Store for tests and local development.
// Subscribers that fall behind drop changes rather than blocking writers.
type MemoryRepo struct {
	mu    sync.Mutex
	leads map[string]Lead
	order []string

	subs   map[int]memorySub
	nextID int

	// Updates counts successful Update calls; useful in tests.
	Updates int
}

type memorySub struct {
	filter SubscribeFilter
	ch     chan Change
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{leads: map[string]Lead{}, subs: map[int]memorySub{}}
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok {
		return Lead{}, ErrNotFound
	}
	return l, nil
}

func (r *MemoryRepo) List(ctx context.Context, f ListFilter) ([]Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Lead, 0, len(r.order))
	// newest first, matching the dashboard ordering
	for i := len(r.order) - 1; i >= 0; i-- {
		l := r.leads[r.order[i]]
		if !f.match(l) {
			continue
		}
		out = append(out, l)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryRepo) Insert(ctx context.Context, in NewLead, now time.Time) (Lead, error) {
	l := Lead{
		ID:        uuid.NewString(),
		Name:      in.Name,
		Surname:   in.Surname,
		Email:     in.Email,
		Phone:     in.Phone,
		Website:   in.Website,
		Status:    StatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.mu.Lock()
	r.leads[l.ID] = l
	r.order = append(r.order, l.ID)
	r.publishLocked(Change{Type: ChangeInsert, Lead: l})
	r.mu.Unlock()
	return l, nil
}

// Put stores l as-is, bypassing validation. Intended for test fixtures.
func (r *MemoryRepo) Put(l Lead) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.leads[l.ID]; !ok {
		r.order = append(r.order, l.ID)
	}
	r.leads[l.ID] = l
}

func (r *MemoryRepo) Update(ctx context.Context, id string, p Patch, now time.Time) (Lead, error) {
	if p.IsEmpty() {
		return Lead{}, ErrEmptyPatch
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok {
		return Lead{}, ErrNotFound
	}
	p.Apply(&l)
	l.UpdatedAt = now
	r.leads[id] = l
	r.Updates++
	r.publishLocked(Change{Type: ChangeUpdate, Lead: l})
	return l, nil
}

func (r *MemoryRepo) Subscribe(ctx context.Context, f SubscribeFilter) (<-chan Change, error) {
	ch := make(chan Change, 32)
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = memorySub{filter: f, ch: ch}
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.subs, id)
		close(ch)
		r.mu.Unlock()
	}()
	return ch, nil
}

func (r *MemoryRepo) publishLocked(c Change) {
	ids := make([]int, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		s := r.subs[id]
		if !s.filter.Match(c) {
			continue
		}
		select {
		case s.ch <- c:
		default:
		}
	}
}
