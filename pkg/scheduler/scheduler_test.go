package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSyncer struct {
	calls atomic.Int32
	err   error
}

func (c *countingSyncer) Sync(context.Context) (int, error) {
	c.calls.Add(1)
	return 1, c.err
}

func TestScheduler_Run(t *testing.T) {
	syncer := &countingSyncer{}
	s := New(syncer, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// one immediate run plus several ticks
	assert.GreaterOrEqual(t, syncer.calls.Load(), int32(3))
}

func TestScheduler_RunContinuesAfterError(t *testing.T) {
	syncer := &countingSyncer{err: errors.New("boom")}
	s := New(syncer, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()

	_ = s.Run(ctx)
	assert.GreaterOrEqual(t, syncer.calls.Load(), int32(2), "errors do not stop the loop")
}
