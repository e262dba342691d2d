package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/contextloop/core"
)

// Interface compliance (compile-time assertion)
var _ core.ThreadStore = (*InMemoryStore)(nil)

type entry struct {
	thread    core.Thread
	updatedAt time.Time
}

// InMemoryStore is a volatile ThreadStore keeping threads in a process local
// map. It is safe for concurrent access and best suited for tests, dev mode
// and --no-memory runs. Threads are immutable values, so no cloning is needed
// on the way in or out.
type InMemoryStore struct {
	mu      sync.RWMutex
	threads map[string]entry
	now     func() time.Time
}

// NewInMemoryStore constructs an empty in-memory thread store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{threads: make(map[string]entry), now: time.Now}
}

// Load returns the stored thread or an error wrapping core.ErrThreadNotFound.
func (s *InMemoryStore) Load(ctx context.Context, id string) (core.Thread, error) {
	if err := ctx.Err(); err != nil {
		return core.Thread{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.threads[id]
	if !ok {
		return core.Thread{}, fmt.Errorf("%w: %s", core.ErrThreadNotFound, id)
	}

	return e.thread, nil
}

// Save stores the thread value, replacing any previous value under its id.
func (s *InMemoryStore) Save(ctx context.Context, t core.Thread) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if t.ID() == "" {
		return fmt.Errorf("memory: cannot save thread without id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.threads[t.ID()] = entry{thread: t, updatedAt: s.now().UTC()}

	return nil
}

// Delete removes the thread. Unknown ids are ignored.
func (s *InMemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.threads, id)

	return nil
}

// List returns a summary of every stored thread, most recently updated first.
func (s *InMemoryStore) List(ctx context.Context) ([]core.ThreadInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.ThreadInfo, 0, len(s.threads))
	for _, e := range s.threads {
		out = append(out, core.ThreadInfo{
			ID:         e.thread.ID(),
			CreatedAt:  e.thread.CreatedAt(),
			UpdatedAt:  e.updatedAt,
			EventCount: e.thread.Len(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})

	return out, nil
}
