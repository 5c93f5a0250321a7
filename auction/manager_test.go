package auction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astriaorg/go-auctioneer/bundle"
	"github.com/astriaorg/go-auctioneer/errs"
	"github.com/astriaorg/go-auctioneer/rollupchannel"
	"github.com/astriaorg/go-auctioneer/sequencerchannel"
	"github.com/astriaorg/go-auctioneer/signer"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	s, err := signer.NewEphemeral()
	require.NoError(t, err)
	params := testParams()
	params.LatencyMargin = 10 * time.Millisecond
	return NewManager(params, &fakeSubmitter{}, s, &fakeNonceFetcher{nonce: 1})
}

func TestManager_StartBidsForUnknownAuctionIsNoSuchAuction(t *testing.T) {
	m := newTestManager(t)
	err := m.StartBids(bundle.Hash{1}, rollupchannel.Executed{})
	assert.Equal(t, errs.NoSuchAuction, err)
}

func TestManager_StartBidsRoutesToTheRightWorker(t *testing.T) {
	m := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := bundle.Hash{5}
	m.NewAuction(ctx, id, 10)
	require.Equal(t, 1, m.Pending())

	err := m.StartBids(id, rollupchannel.Executed{SequencerBlockHash: id})
	require.NoError(t, err)

	err = m.StartTimer(id, sequencerchannel.Commitment{BlockHash: id, Height: 10})
	require.NoError(t, err)

	summary, err := m.NextWinner(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, summary.ID)
	assert.Equal(t, OutcomeNoBids, summary.Outcome)
	assert.Equal(t, 0, m.Pending())
}

func TestManager_ForwardBundleToUnknownAuctionIsNoSuchAuction(t *testing.T) {
	m := newTestManager(t)
	err := m.ForwardBundle(bundle.Bundle{BaseSequencerBlockHash: bundle.Hash{9}})
	assert.Equal(t, errs.NoSuchAuction, err)
}

func TestManager_ReorgAbortsThePriorWorkerBeforeReplacing(t *testing.T) {
	m := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := bundle.Hash{6}
	old := m.NewAuction(ctx, id, 1)
	replacement := m.NewAuction(ctx, id, 1)
	assert.NotSame(t, old, replacement)

	first, err := m.NextWinner(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, first.Outcome)
	assert.Equal(t, 1, m.Pending())
}

func TestManager_AbortAllReturnsPendingCountAndDrains(t *testing.T) {
	m := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.NewAuction(ctx, bundle.Hash{1}, 1)
	m.NewAuction(ctx, bundle.Hash{2}, 2)

	pending := m.AbortAll()
	assert.Equal(t, 2, pending)

	for i := 0; i < 2; i++ {
		_, err := m.NextWinner(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, m.Pending())
}

func TestManager_LookupDistinguishesCompletedFromUnknown(t *testing.T) {
	m := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := bundle.Hash{3}
	m.NewAuction(ctx, id, 1)
	m.Abort(id)

	s := <-m.Completions()
	m.Finish(s)

	_, ok := m.lookup(id)
	assert.False(t, ok)
	if _, cached := m.recent.Get(id); !cached {
		t.Fatal("expected completed auction id to be cached in recent")
	}

	err := m.StartBids(id, rollupchannel.Executed{})
	assert.Equal(t, errs.NoSuchAuction, err)
}
