package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/contextloop/core"
	"github.com/hupe1980/contextloop/internal/storetest"
	"github.com/hupe1980/contextloop/internal/testutil"
)

func openTemp(t *testing.T, optFns ...func(o *Options)) *Store {
	t.Helper()

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "threads.db"), optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) core.ThreadStore { return openTemp(t) })
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "threads.db")

	th := testutil.NewThreadBuilder("t1").User("hi").Assistant("hello").Build()

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, th))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, th.Events(), got.Events())
	assert.True(t, testutil.FixedTime.Equal(got.CreatedAt()))
}

func TestStore_UnchangedSaveKeepsUpdatedAt(t *testing.T) {
	ctx := context.Background()
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s := openTemp(t, func(o *Options) {
		o.Now = func() time.Time { tick = tick.Add(time.Minute); return tick }
	})

	th := testutil.NewThreadBuilder("t1").User("hi").Build()
	require.NoError(t, s.Save(ctx, th))

	before, err := s.List(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, th))

	after, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	require.NoError(t, s.Save(ctx, th.Append(core.NewAssistantMessage("hello"))))

	grown, err := s.List(ctx)
	require.NoError(t, err)
	assert.True(t, grown[0].UpdatedAt.After(before[0].UpdatedAt))
	assert.Equal(t, 2, grown[0].EventCount)
}

func TestStore_Backup(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	th := testutil.NewThreadBuilder("t1").User("hi").Build()
	require.NoError(t, s.Save(ctx, th))

	dst := filepath.Join(t.TempDir(), "backup.db")
	require.NoError(t, s.Backup(ctx, dst))

	b, err := Open(ctx, dst)
	require.NoError(t, err)
	defer b.Close()

	got, err := b.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
}

func TestStore_StatsReportsSize(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	require.NoError(t, s.Save(ctx, testutil.NewThreadBuilder("t1").User("hi").Assistant("hello").Build()))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Threads)
	assert.Equal(t, 2, st.Events)
	assert.Equal(t, 2, st.Messages)
	assert.Positive(t, st.SizeBytes)
}
