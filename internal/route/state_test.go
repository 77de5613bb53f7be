package route

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stateStores(t *testing.T) map[string]StateStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() }) //nolint:errcheck
	return map[string]StateStore{
		"memory": NewMemoryState(),
		"redis":  NewRedisState(client, ""),
	}
}

func TestStateStores(t *testing.T) {
	for name, st := range stateStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			used := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

			require.NoError(t, st.RecordSuccess(ctx, "a"))
			require.NoError(t, st.RecordSuccess(ctx, "a"))
			require.NoError(t, st.RecordFailure(ctx, "a"))
			require.NoError(t, st.RecordFailure(ctx, "b"))
			require.NoError(t, st.MarkUsed(ctx, "a", used))

			got, err := st.Load(ctx, []string{"a", "b", "c"})
			require.NoError(t, err)
			assert.Equal(t, 2, got["a"].Successes)
			assert.Equal(t, 1, got["a"].Failures)
			assert.True(t, used.Equal(got["a"].LastUsed))
			assert.Equal(t, 1, got["b"].Failures)
			assert.Equal(t, Counters{}, got["c"])

			require.NoError(t, st.ResetFailures(ctx, []string{"a", "b"}))
			got, err = st.Load(ctx, []string{"a", "b"})
			require.NoError(t, err)
			assert.Equal(t, 0, got["a"].Failures)
			assert.Equal(t, 2, got["a"].Successes)
			assert.Equal(t, 0, got["b"].Failures)
		})
	}
}

func TestRedisState_KeyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() }) //nolint:errcheck

	st := NewRedisState(client, "")
	require.NoError(t, st.RecordFailure(context.Background(), "proxy-1"))
	assert.Equal(t, "1", mr.HGet(DefaultKeyPrefix+"proxy-1", "failures"))
}
