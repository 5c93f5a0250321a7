package noncepublisher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	calls     atomic.Int32
	failUntil int32
	nonce     uint32
}

func (f *fakeFetcher) GetPendingNonce(ctx context.Context, address []byte) (uint32, error) {
	n := f.calls.Add(1)
	if n <= f.failUntil {
		return 0, errors.New("transient rpc failure")
	}
	return f.nonce, nil
}

func TestPublisher_LatestIsUnsetBeforeFirstFetch(t *testing.T) {
	p := New(&fakeFetcher{}, []byte("addr"), time.Millisecond)
	_, ok := p.Latest()
	assert.False(t, ok)
}

func TestPublisher_StartPublishesSuccessfulFetches(t *testing.T) {
	f := &fakeFetcher{nonce: 42}
	p := New(f, []byte("addr"), 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool {
		nonce, ok := p.Latest()
		return ok && nonce == 42
	}, time.Second, time.Millisecond)
}

func TestPublisher_FetchNowRetriesThenSucceeds(t *testing.T) {
	f := &fakeFetcher{nonce: 7, failUntil: 2}
	p := New(f, []byte("addr"), time.Hour)
	p.timeout = 50 * time.Millisecond

	nonce, err := p.FetchNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(7), nonce)
	assert.Equal(t, int32(3), f.calls.Load())

	cached, ok := p.Latest()
	assert.True(t, ok)
	assert.Equal(t, uint32(7), cached)
}

func TestPublisher_FetchNowGivesUpWhenContextCancelled(t *testing.T) {
	f := &fakeFetcher{failUntil: 1 << 20}
	p := New(f, []byte("addr"), time.Hour)
	p.timeout = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.FetchNow(ctx)
	assert.Error(t, err)
}
