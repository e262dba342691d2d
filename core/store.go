package core

import (
	"context"
	"errors"
	"time"
)

// ThreadStore persists threads by id.
//
// Save must be durable before it returns and idempotent: saving the same
// thread value twice leaves the store unchanged. Running two loops on the
// same thread id concurrently is not supported; stores serialize saves and
// the last writer wins.
type ThreadStore interface {
	// Load returns the thread or an error wrapping ErrThreadNotFound.
	Load(ctx context.Context, id string) (Thread, error)
	Save(ctx context.Context, t Thread) error
	// Delete removes the thread. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]ThreadInfo, error)
}

// ThreadInfo summarizes a stored thread.
type ThreadInfo struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	EventCount int       `json:"event_count"`
}

// StoreStats aggregates the contents of a store.
type StoreStats struct {
	Threads      int       `json:"threads"`
	Events       int       `json:"events"`
	Messages     int       `json:"messages"`
	LastActivity time.Time `json:"last_activity"`
	// SizeBytes is the on-disk size, zero for stores without one.
	SizeBytes int64 `json:"size_bytes"`
}

// StatsReporter is implemented by stores that aggregate without loading
// every thread.
type StatsReporter interface {
	Stats(ctx context.Context) (StoreStats, error)
}

// CollectStats aggregates store. Stores implementing StatsReporter answer
// directly, others are summarized thread by thread.
func CollectStats(ctx context.Context, store ThreadStore) (StoreStats, error) {
	if r, ok := store.(StatsReporter); ok {
		return r.Stats(ctx)
	}

	infos, err := store.List(ctx)
	if err != nil {
		return StoreStats{}, err
	}

	var st StoreStats

	for _, info := range infos {
		th, err := store.Load(ctx, info.ID)
		if errors.Is(err, ErrThreadNotFound) {
			continue
		}

		if err != nil {
			return StoreStats{}, err
		}

		st.Threads++
		st.Events += th.Len()

		for _, e := range th.events {
			if e.IsMessage() {
				st.Messages++
			}
		}

		if info.UpdatedAt.After(st.LastActivity) {
			st.LastActivity = info.UpdatedAt
		}
	}

	return st, nil
}
