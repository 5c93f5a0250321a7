package driver

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astriaorg/go-auctioneer/auction"
	"github.com/astriaorg/go-auctioneer/bundle"
	"github.com/astriaorg/go-auctioneer/config"
	"github.com/astriaorg/go-auctioneer/rollupchannel"
	"github.com/astriaorg/go-auctioneer/sequencerchannel"
	"github.com/astriaorg/go-auctioneer/signer"
)

type fakeSubmitter struct{}

func (fakeSubmitter) SubmitTransaction(ctx context.Context, txBytes []byte) (sequencerchannel.SubmitResult, error) {
	return sequencerchannel.SubmitResult{}, nil
}

type fakeNonceFetcher struct{}

func (fakeNonceFetcher) FetchNow(ctx context.Context) (uint32, error) {
	return 0, nil
}

func newTestDriver(t *testing.T) (*Driver, *auction.Manager) {
	t.Helper()
	s, err := signer.NewEphemeral()
	require.NoError(t, err)
	params := auction.Params{
		RollupID:             []byte("rollup"),
		FeeAssetDenomination: "nria",
		SequencerChainID:     "astria-test",
		LatencyMargin:        10 * time.Millisecond,
		BidQueueCapacity:     4,
	}
	mgr := auction.NewManager(params, fakeSubmitter{}, s, fakeNonceFetcher{})
	cfg := config.Config{ShutdownGraceS: 1}
	d := New(nil, nil, mgr, cfg)
	return d, mgr
}

func TestDriver_HandleCommitmentForUnknownAuctionIsIgnored(t *testing.T) {
	d, _ := newTestDriver(t)
	l := logger.With("test", true)
	assert.NotPanics(t, func() {
		d.handleCommitment(l, sequencerchannel.Commitment{BlockHash: bundle.Hash{1}, Height: 1})
	})
}

func TestDriver_HandleExecutedForUnknownAuctionIsIgnored(t *testing.T) {
	d, _ := newTestDriver(t)
	l := logger.With("test", true)
	assert.NotPanics(t, func() {
		d.handleExecuted(l, rollupchannel.Executed{SequencerBlockHash: bundle.Hash{1}})
	})
}

func TestDriver_HandleBundleForUnknownAuctionIsIgnored(t *testing.T) {
	d, _ := newTestDriver(t)
	l := logger.With("test", true)
	assert.NotPanics(t, func() {
		d.handleBundle(l, bundle.Bundle{BaseSequencerBlockHash: bundle.Hash{1}})
	})
}

func TestDriver_HandleCommitmentMarksCurrentBlockCommitted(t *testing.T) {
	d, mgr := newTestDriver(t)
	l := logger.With("test", true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := bundle.Hash{2}
	mgr.NewAuction(ctx, id, 5)
	d.current = currentBlock{SequencerBlockHash: id, Height: 5}

	d.handleCommitment(l, sequencerchannel.Commitment{BlockHash: id, Height: 5})
	assert.True(t, d.current.Committed)
}

func TestDriver_HandleExecutedMarksCurrentBlockExecuted(t *testing.T) {
	d, mgr := newTestDriver(t)
	l := logger.With("test", true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := bundle.Hash{3}
	mgr.NewAuction(ctx, id, 5)
	d.current = currentBlock{SequencerBlockHash: id, Height: 5}

	d.handleExecuted(l, rollupchannel.Executed{SequencerBlockHash: id})
	assert.True(t, d.current.Executed)
}

func TestDriver_HandleCompletionFinishesTheAuction(t *testing.T) {
	d, mgr := newTestDriver(t)
	l := logger.With("test", true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := bundle.Hash{4}
	mgr.NewAuction(ctx, id, 5)
	require.Equal(t, 1, mgr.Pending())

	summary := auction.Summary{ID: id, Outcome: auction.OutcomeNoBids}
	d.handleCompletion(l, summary)
	assert.Equal(t, 0, mgr.Pending())
}

func TestDriver_ShutdownReturnsImmediatelyWhenNothingPending(t *testing.T) {
	d, _ := newTestDriver(t)
	l := logger.With("test", true)
	err := d.shutdown(l, context.Canceled)
	assert.Equal(t, context.Canceled, err)
}

func TestDriver_ShutdownDrainsPendingAuctionsBeforeGraceExpires(t *testing.T) {
	d, mgr := newTestDriver(t)
	l := logger.With("test", true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr.NewAuction(ctx, bundle.Hash{5}, 1)
	mgr.NewAuction(ctx, bundle.Hash{6}, 2)

	done := make(chan error, 1)
	go func() { done <- d.shutdown(l, context.Canceled) }()

	select {
	case err := <-done:
		assert.Equal(t, context.Canceled, err)
		assert.Equal(t, 0, mgr.Pending())
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not return before the grace period in a test that should drain quickly")
	}
}

// alwaysFailingSubmitter models a sequencer that never accepts the
// submission: the worker is then stuck retrying inside PhaseSubmitting,
// which (per worker.submit's doc comment) only reacts to ctx cancellation,
// not Abort. That's the one state AbortAll cannot reach synchronously, so
// it's what exercises shutdown's grace-period timeout path.
type alwaysFailingSubmitter struct{}

func (alwaysFailingSubmitter) SubmitTransaction(ctx context.Context, txBytes []byte) (sequencerchannel.SubmitResult, error) {
	return sequencerchannel.SubmitResult{}, assertAlwaysFails
}

var assertAlwaysFails = errors.New("submission endpoint unreachable")

func TestDriver_ShutdownAbandonsStragglersAfterGraceExpires(t *testing.T) {
	s, err := signer.NewEphemeral()
	require.NoError(t, err)
	params := auction.Params{
		RollupID:             []byte("rollup"),
		FeeAssetDenomination: "nria",
		SequencerChainID:     "astria-test",
		LatencyMargin:        time.Millisecond,
		BidQueueCapacity:     4,
	}
	mgr := auction.NewManager(params, alwaysFailingSubmitter{}, s, fakeNonceFetcher{})
	cfg := config.Config{ShutdownGraceS: 1}
	d := New(nil, nil, mgr, cfg)
	l := logger.With("test", true)

	ctx := context.Background()
	id := bundle.Hash{7}
	handle := mgr.NewAuction(ctx, id, 1)
	require.NoError(t, handle.StartBids(rollupchannel.Executed{SequencerBlockHash: id}))
	// A matching bid, so the worker has a winner to submit once the
	// deadline fires instead of ending with OutcomeNoBids.
	require.NoError(t, handle.TryBid(bundle.Bundle{Bid: 1, BaseSequencerBlockHash: id, RollupPayload: []byte("x")}))
	require.NoError(t, handle.StartTimer(sequencerchannel.Commitment{BlockHash: id, Height: 1}))

	// Give the worker time to pass the deadline and land in PhaseSubmitting,
	// where it's now retrying against a submitter that never succeeds.
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	resultErr := d.shutdown(l, context.Canceled)
	elapsed := time.Since(start)
	assert.Equal(t, context.Canceled, resultErr)
	assert.GreaterOrEqual(t, elapsed, cfg.ShutdownGrace())
	assert.Equal(t, 1, mgr.Pending())
}

func TestDriver_TryShutdownReturnsDoneWhenContextCancelled(t *testing.T) {
	d, _ := newTestDriver(t)
	l := logger.With("test", true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err, done := d.tryShutdown(ctx, l)
	assert.True(t, done)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDriver_TryShutdownNotDoneWhileContextLive(t *testing.T) {
	d, _ := newTestDriver(t)
	l := logger.With("test", true)
	ctx := context.Background()

	_, done := d.tryShutdown(ctx, l)
	assert.False(t, done)
}

type fakeBlockSender struct {
	sent []rollupchannel.BaseBlock
}

func (f *fakeBlockSender) Send(b rollupchannel.BaseBlock) error {
	f.sent = append(f.sent, b)
	return nil
}

func TestDriver_TryOptimisticDrainsAReadyOptimisticBlock(t *testing.T) {
	d, _ := newTestDriver(t)
	l := logger.With("test", true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := bundle.Hash{11}
	optimisticCh := make(chan sequencerchannel.Optimistic, 1)
	optimisticCh <- sequencerchannel.Optimistic{BlockHash: id, Height: 1}

	handled := d.tryOptimistic(ctx, l, optimisticCh, &fakeBlockSender{})
	assert.True(t, handled)
	assert.Equal(t, id, d.current.SequencerBlockHash)
}

func TestDriver_TryOptimisticFalseWhenChannelEmpty(t *testing.T) {
	d, _ := newTestDriver(t)
	l := logger.With("test", true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	optimisticCh := make(chan sequencerchannel.Optimistic)
	handled := d.tryOptimistic(ctx, l, optimisticCh, &fakeBlockSender{})
	assert.False(t, handled)
}

// TestDriver_TryOptimisticPrioritizedOverStaleDownstreamEvent is the test
// spec §9 mandates for the Driver's biased select: a reorg (new
// optimistic block) must be processed ahead of any stale downstream event
// for the block it supersedes, even when both are simultaneously ready.
func TestDriver_TryOptimisticPrioritizedOverStaleDownstreamEvent(t *testing.T) {
	d, mgr := newTestDriver(t)
	l := logger.With("test", true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	oldID := bundle.Hash{12}
	mgr.NewAuction(ctx, oldID, 1)
	d.current = currentBlock{SequencerBlockHash: oldID, Height: 1}

	newID := bundle.Hash{13}
	optimisticCh := make(chan sequencerchannel.Optimistic, 1)
	optimisticCh <- sequencerchannel.Optimistic{BlockHash: newID, Height: 2}

	// A stale commitment for the superseded block, ready at the same
	// time as the reorg above. It must still be sitting untouched after
	// the priority checks below: tryOptimistic only ever looks at
	// optimisticCh, so the main select (where commitCh would otherwise
	// be raced against it unbiased) is never reached this iteration.
	commitCh := make(chan sequencerchannel.Commitment, 1)
	commitCh <- sequencerchannel.Commitment{BlockHash: oldID, Height: 1}

	sender := &fakeBlockSender{}

	// Mirrors Run's fixed priority order.
	if _, done := d.tryShutdown(ctx, l); done {
		t.Fatal("unexpected shutdown")
	}
	if _, handled := d.tryCompletion(l); handled {
		t.Fatal("unexpected completion")
	}
	handled := d.tryOptimistic(ctx, l, optimisticCh, sender)
	require.True(t, handled)

	assert.Equal(t, newID, d.current.SequencerBlockHash, "reorg must be observed before any stale event for the old block is considered")
	assert.Len(t, sender.sent, 1)
	assert.Len(t, commitCh, 1, "stale commitment must remain undrained: tryOptimistic never touches commitCh")
}

func TestDriver_TryCompletionDrainsAReadyCompletion(t *testing.T) {
	d, mgr := newTestDriver(t)
	l := logger.With("test", true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := bundle.Hash{8}
	mgr.NewAuction(ctx, id, 1)
	mgr.Abort(id)

	require.Eventually(t, func() bool {
		_, handled := d.tryCompletion(l)
		return handled
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, mgr.Pending())
}

