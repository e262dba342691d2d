// Package storetest holds a conformance suite every core.ThreadStore
// implementation runs in its own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/contextloop/core"
	"github.com/hupe1980/contextloop/internal/testutil"
)

// Run exercises store against the ThreadStore contract. newStore must return
// an empty store.
func Run(t *testing.T, newStore func(t *testing.T) core.ThreadStore) {
	ctx := context.Background()

	sample := func(id string) core.Thread {
		return testutil.NewThreadBuilder(id).
			User("what is 2*3?").
			Call("c1", "calculate", map[string]any{"expression": "2*3"}).
			Result("c1", "calculate", 6.0).
			Assistant("6").
			Build()
	}

	t.Run("LoadMissing", func(t *testing.T) {
		_, err := newStore(t).Load(ctx, "nope")
		assert.ErrorIs(t, err, core.ErrThreadNotFound)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		s := newStore(t)
		th := sample("t1")

		require.NoError(t, s.Save(ctx, th))

		got, err := s.Load(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, th.ID(), got.ID())
		assert.True(t, th.CreatedAt().Equal(got.CreatedAt()))
		assert.Equal(t, th.Events(), got.Events())
	})

	t.Run("StructuredPayloads", func(t *testing.T) {
		s := newStore(t)
		th := testutil.NewThreadBuilder("t1").
			Call("c1", "query", map[string]any{
				"limit": 5,
				"ratio": 0.5,
				"flags": []any{true, nil},
				"opts":  map[string]any{"depth": 2, "tags": []string{"a", "b"}},
			}).
			Result("c1", "query", map[string]any{"rows": []any{map[string]any{"id": 1}}, "total": 1}).
			Build()

		require.NoError(t, s.Save(ctx, th))

		got, err := s.Load(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, th.Events(), got.Events())
		assert.Equal(t, 5.0, got.At(0).Call.Arguments["limit"])
		assert.Equal(t, map[string]any{"rows": []any{map[string]any{"id": 1.0}}, "total": 1.0}, got.At(1).Result.Output)
	})

	t.Run("EmptyThread", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, core.NewThread("empty", testutil.FixedTime)))

		got, err := s.Load(ctx, "empty")
		require.NoError(t, err)
		assert.Equal(t, 0, got.Len())
	})

	t.Run("IdempotentSave", func(t *testing.T) {
		s := newStore(t)
		th := sample("t1")

		require.NoError(t, s.Save(ctx, th))
		first, err := s.Load(ctx, "t1")
		require.NoError(t, err)

		require.NoError(t, s.Save(ctx, th))
		require.NoError(t, s.Save(ctx, first))

		second, err := s.Load(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, first.Events(), second.Events())

		infos, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.Equal(t, th.Len(), infos[0].EventCount)
	})

	t.Run("GrowAndReplace", func(t *testing.T) {
		s := newStore(t)
		th := sample("t1")
		require.NoError(t, s.Save(ctx, th))

		grown := th.Append(core.NewUserMessage("and 3*4?"))
		require.NoError(t, s.Save(ctx, grown))

		got, err := s.Load(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, grown.Len(), got.Len())

		// Last writer wins, even with a shorter value.
		require.NoError(t, s.Save(ctx, th))
		got, err = s.Load(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, th.Events(), got.Events())
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, sample("t1")))
		require.NoError(t, s.Save(ctx, sample("t2")))

		require.NoError(t, s.Delete(ctx, "t1"))
		require.NoError(t, s.Delete(ctx, "unknown"))

		_, err := s.Load(ctx, "t1")
		assert.ErrorIs(t, err, core.ErrThreadNotFound)

		_, err = s.Load(ctx, "t2")
		assert.NoError(t, err)

		infos, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.Equal(t, "t2", infos[0].ID)
	})

	t.Run("Stats", func(t *testing.T) {
		s := newStore(t)

		empty, err := core.CollectStats(ctx, s)
		require.NoError(t, err)
		assert.Zero(t, empty.Threads)
		assert.True(t, empty.LastActivity.IsZero())

		require.NoError(t, s.Save(ctx, sample("t1")))
		require.NoError(t, s.Save(ctx, sample("t2").Append(core.NewUserMessage("thanks"))))

		st, err := core.CollectStats(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, 2, st.Threads)
		assert.Equal(t, 9, st.Events)
		assert.Equal(t, 5, st.Messages)
		assert.False(t, st.LastActivity.IsZero())

		infos, err := s.List(ctx)
		require.NoError(t, err)
		assert.True(t, infos[0].UpdatedAt.Equal(st.LastActivity))
	})

	t.Run("ConcurrentDistinctThreads", func(t *testing.T) {
		s := newStore(t)

		var wg sync.WaitGroup

		for i := 0; i < 8; i++ {
			wg.Add(1)

			go func(i int) {
				defer wg.Done()

				th := core.NewThread(fmt.Sprintf("t%d", i), testutil.FixedTime)
				for j := 0; j <= i; j++ {
					th = th.Append(core.NewUserMessage(fmt.Sprintf("m%d", j)))
					assert.NoError(t, s.Save(ctx, th))
				}
			}(i)
		}

		wg.Wait()

		for i := 0; i < 8; i++ {
			got, err := s.Load(ctx, fmt.Sprintf("t%d", i))
			require.NoError(t, err)
			assert.Equal(t, i+1, got.Len())
		}
	})
}
