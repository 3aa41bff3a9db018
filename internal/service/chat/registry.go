package chat

import (
	"context"
	"sync"

	"github.com/zhouzirui/z-tavern/rpg/internal/storage"
)

// DefaultRegistryLimit caps how many unleased controllers stay cached.
const DefaultRegistryLimit = 256

// Registry keeps one controller per session so concurrent requests for the
// same session share a single send cycle. A controller stays registered
// while any lease on it is held; only unleased controllers are pruned.
type Registry struct {
	store storage.Store
	build func() *Controller
	limit int

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	ctrl   *Controller
	leases int
}

// NewRegistry returns a registry whose controllers are created by build.
func NewRegistry(store storage.Store, limit int, build func() *Controller) *Registry {
	if limit <= 0 {
		limit = DefaultRegistryLimit
	}
	return &Registry{
		store:   store,
		build:   build,
		limit:   limit,
		entries: make(map[string]*entry),
	}
}

// Acquire leases the controller bound to sessionID, loading the session and
// transcript on first use. Sessions owned by another user are not found.
// Callers must call release once they stop using the controller.
func (r *Registry) Acquire(ctx context.Context, userID, sessionID string) (*Controller, func(), error) {
	session, err := r.store.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, nil, err
	}

	if c, release, ok := r.lease(sessionID); ok {
		return c, release, nil
	}

	messages, err := r.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	c := r.build()
	if err := c.Bind(session, messages); err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	if !ok {
		r.pruneLocked()
		e = &entry{ctrl: c}
		r.entries[sessionID] = e
	}
	e.leases++
	return e.ctrl, r.releaser(sessionID, e), nil
}

func (r *Registry) lease(sessionID string) (*Controller, func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return nil, nil, false
	}
	e.leases++
	return e.ctrl, r.releaser(sessionID, e), true
}

func (r *Registry) releaser(sessionID string, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			e.leases--
			r.mu.Unlock()
		})
	}
}

// Evict drops the cached controller for sessionID.
func (r *Registry) Evict(sessionID string) {
	r.mu.Lock()
	delete(r.entries, sessionID)
	r.mu.Unlock()
}

// Len reports the number of cached controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// pruneLocked drops unleased idle controllers once the cache is full. Leased
// controllers are kept even past the limit.
func (r *Registry) pruneLocked() {
	if len(r.entries) < r.limit {
		return
	}
	for id, e := range r.entries {
		if e.leases == 0 && e.ctrl.Phase() == PhaseIdle {
			delete(r.entries, id)
		}
		if len(r.entries) < r.limit {
			return
		}
	}
}
