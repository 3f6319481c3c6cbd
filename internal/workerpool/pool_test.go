package workerpool_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/moira-alert/moira/internal/store"
	"github.com/moira-alert/moira/internal/workerpool"
)

type stubChecker struct {
	calls atomic.Int64
}

func (c *stubChecker) Check(ctx context.Context, triggerID string, fromTime *int64, now int64, cacheTTL time.Duration) error {
	c.calls.Add(1)
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return store.NewFromClient(client)
}

func TestPoolDrainsPendingChecks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddTriggerCheck(ctx, "t1", "t1", 0))
	require.NoError(t, s.AddTriggerCheck(ctx, "t2", "t2", 0))

	c := &stubChecker{}
	cfg := workerpool.DefaultConfig()
	cfg.Workers = 2
	pool := workerpool.New(s, c, cfg)

	runCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	pool.Run(runCtx)

	require.Equal(t, int64(2), c.calls.Load())
}
