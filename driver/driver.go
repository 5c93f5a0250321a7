// Package driver implements the top-level event loop (spec §4.1): the
// single place that owns every external stream handle, keeps the
// AuctionManager's registry consistent with the latest observed proposal,
// and propagates shutdown. Grounded on the teacher's worker/agent.go
// dispatch loop and consensus/istanbul/core's event-driven state handling,
// generalized from "one blockchain's consensus messages" to "four
// independent block-lifecycle streams plus worker completions".
package driver

import (
	"context"
	"time"

	"github.com/pborman/uuid"
	"github.com/pkg/errors"

	"github.com/astriaorg/go-auctioneer/auction"
	"github.com/astriaorg/go-auctioneer/bundle"
	"github.com/astriaorg/go-auctioneer/config"
	"github.com/astriaorg/go-auctioneer/log"
	"github.com/astriaorg/go-auctioneer/rollupchannel"
	"github.com/astriaorg/go-auctioneer/sequencerchannel"
)

var logger = log.NewModuleLogger(log.Driver)

// currentBlock mirrors the Rust source's `block::Current`: the latest
// optimistic/commitment/executed triple the Driver has observed, kept only
// so a stale event for a superseded id can be logged against what the
// Driver currently considers the live block, rather than bare "unknown".
type currentBlock struct {
	SequencerBlockHash bundle.Hash
	Height             uint64
	Committed          bool
	Executed           bool
}

// Driver is the top-level loop described in spec §4.1. Construct with New
// and call Run once.
type Driver struct {
	seq    *sequencerchannel.Channel
	rollup *rollupchannel.Channel
	mgr    *auction.Manager
	cfg    config.Config
	runID  string

	current currentBlock
}

// New wires a Driver from already-dialed channels and an already-running
// AuctionManager (its PendingNoncePublisher should already be started).
func New(seq *sequencerchannel.Channel, rollup *rollupchannel.Channel, mgr *auction.Manager, cfg config.Config) *Driver {
	return &Driver{
		seq:    seq,
		rollup: rollup,
		mgr:    mgr,
		cfg:    cfg,
		runID:  uuid.New(),
	}
}

// Run opens every input stream and multiplexes them until ctx is
// cancelled or a required stream fails terminally. After a ctx-triggered
// shutdown it returns ctx.Err(); any other non-nil error is Fatal per
// spec §7 (a required stream failed) and the process should terminate.
func (d *Driver) Run(ctx context.Context) error {
	log := logger.With("run_id", d.runID)
	log.Info("driver starting")

	optimisticCh, optimisticErrCh := d.seq.OptimisticBlockStream(ctx)
	commitCh, commitErrCh := d.seq.BlockCommitmentStream(ctx)
	bundleCh, bundleErrCh := d.rollup.BundleStream(ctx)
	execStream, executedCh, executedErrCh := d.rollup.ExecuteOptimisticBlockStream(ctx)
	if execStream == nil {
		return errors.New("failed to open execute-optimistic-block stream")
	}
	defer execStream.Close()

	for {
		if err, done := d.tryShutdown(ctx, log); done {
			return err
		}
		if _, handled := d.tryCompletion(log); handled {
			continue
		}
		if d.tryOptimistic(ctx, log, optimisticCh, execStream) {
			continue
		}

		select {
		case <-ctx.Done():
			return d.shutdown(log, ctx.Err())

		case s := <-d.mgr.Completions():
			d.handleCompletion(log, s)

		case opt := <-optimisticCh:
			d.handleOptimistic(ctx, log, opt, execStream)
		case err := <-optimisticErrCh:
			return errors.Wrap(err, "optimistic block stream failed")

		case c := <-commitCh:
			d.handleCommitment(log, c)
		case err := <-commitErrCh:
			return errors.Wrap(err, "block commitment stream failed")

		case e := <-executedCh:
			d.handleExecuted(log, e)
		case err := <-executedErrCh:
			return errors.Wrap(err, "execute-optimistic-block stream failed")

		case b := <-bundleCh:
			d.handleBundle(log, b)
		case err := <-bundleErrCh:
			return errors.Wrap(err, "bundle stream failed")
		}
	}
}

// tryShutdown is a non-blocking, highest-priority check: if ctx is already
// done, the loop returns without considering any other ready case, even
// one that raced in at the same instant.
func (d *Driver) tryShutdown(ctx context.Context, log *log.Logger) (error, bool) {
	select {
	case <-ctx.Done():
		return d.shutdown(log, ctx.Err()), true
	default:
		return nil, false
	}
}

// tryCompletion is the second-highest priority: worker completions are
// drained ahead of any input stream so a finished auction is reported
// promptly even under sustained bundle/block traffic.
func (d *Driver) tryCompletion(log *log.Logger) (auction.Summary, bool) {
	select {
	case s := <-d.mgr.Completions():
		d.handleCompletion(log, s)
		return s, true
	default:
		return auction.Summary{}, false
	}
}

// blockSender is the one method this package needs from
// *rollupchannel.ExecutedStream, kept as an interface so tests can
// exercise handleOptimistic/tryOptimistic without a live bidi gRPC stream.
type blockSender interface {
	Send(b rollupchannel.BaseBlock) error
}

// tryOptimistic is the third-highest priority: a new optimistic block (a
// reorg onto a new sequencer block) is drained ahead of commitment,
// executed, and bundle traffic for the block it is superseding. Spec §9
// requires this ordering so a late commitment or executed result for the
// old block can never be misapplied to the worker that just replaced it
// (id collision is impossible since id is the sequencer block hash, but a
// late signal for the old id would otherwise still be served before the
// reorg is observed). commitment/executed/bundle are not mutually
// ordered against each other; the spec only requires reorgs ahead of
// stale downstream events, not a total order among the three.
func (d *Driver) tryOptimistic(ctx context.Context, log *log.Logger, optimisticCh <-chan sequencerchannel.Optimistic, execStream blockSender) bool {
	select {
	case opt := <-optimisticCh:
		d.handleOptimistic(ctx, log, opt, execStream)
		return true
	default:
		return false
	}
}

func (d *Driver) handleOptimistic(ctx context.Context, log *log.Logger, opt sequencerchannel.Optimistic, execStream blockSender) {
	if d.current.SequencerBlockHash == opt.BlockHash {
		log.Debug("duplicate optimistic block, ignoring", "block", opt.BlockHash)
		return
	}

	// Reorg handling: cancel the prior worker before the replacement is
	// created (spec invariant I6), never the other way around.
	if d.current.SequencerBlockHash != (bundle.Hash{}) {
		log.Info("reorg observed, aborting superseded auction", "old_block", d.current.SequencerBlockHash, "new_block", opt.BlockHash)
		d.mgr.Abort(d.current.SequencerBlockHash)
	}

	d.current = currentBlock{SequencerBlockHash: opt.BlockHash, Height: opt.Height}
	d.mgr.NewAuction(ctx, opt.BlockHash, opt.Height)

	// opt.FilteredBlock stands in for the already-rollup-filtered
	// transaction set the real astria sequencer block carries; this
	// module's wire layer never decodes it further than "bytes to
	// forward" (see DESIGN.md), and it's left empty rather than
	// populated with unrelated bytes that would misrepresent it.
	transactions := [][]byte{}
	if len(opt.FilteredBlock) > 0 {
		transactions = [][]byte{opt.FilteredBlock}
	}
	err := execStream.Send(rollupchannel.BaseBlock{
		SequencerBlockHash: opt.BlockHash,
		Transactions:       transactions,
		TimestampUnixNanos: time.Now().UnixNano(),
	})
	if err != nil {
		log.Error("failed to forward optimistic block to rollup, aborting auction", "block", opt.BlockHash, "err", err)
		d.mgr.Abort(opt.BlockHash)
	}
}

func (d *Driver) handleCommitment(log *log.Logger, c sequencerchannel.Commitment) {
	if err := d.mgr.StartTimer(c.BlockHash, c); err != nil {
		log.Warn("commitment for unknown or already-finished auction, dropping", "block", c.BlockHash, "err", err)
		return
	}
	if d.current.SequencerBlockHash == c.BlockHash {
		d.current.Committed = true
	}
}

func (d *Driver) handleExecuted(log *log.Logger, e rollupchannel.Executed) {
	if err := d.mgr.StartBids(e.SequencerBlockHash, e); err != nil {
		log.Warn("executed result for unknown or already-finished auction, dropping", "block", e.SequencerBlockHash, "err", err)
		return
	}
	if d.current.SequencerBlockHash == e.SequencerBlockHash {
		d.current.Executed = true
	}
}

func (d *Driver) handleBundle(log *log.Logger, b bundle.Bundle) {
	if err := d.mgr.ForwardBundle(b); err != nil {
		log.Warn("bundle for unknown, already-finished, or mismatched auction, dropping", "block", b.BaseSequencerBlockHash, "err", err)
	}
}

func (d *Driver) handleCompletion(log *log.Logger, s auction.Summary) {
	d.mgr.Finish(s)
	switch s.Outcome {
	case auction.OutcomeSubmitted:
		log.Info("auction submitted", "auction", s.ID, "nonce", s.NonceUsed, "code", s.Code, "tx_hash", s.TxHash)
	case auction.OutcomeNoBids:
		log.Info("auction ended with no bids", "auction", s.ID)
	case auction.OutcomeCancelled:
		log.Info("auction cancelled", "auction", s.ID)
	case auction.OutcomeFailed:
		log.Warn("auction failed", "auction", s.ID, "nonce", s.NonceUsed, "err", s.Err)
	}
}

// shutdown cancels every running auction and drains their completions up
// to the configured grace period, then aborts any stragglers (spec §4.1).
// cause is returned verbatim, so after a shutdown Run returns ctx.Err()
// and its caller can tell that apart from a required-stream failure,
// which Run returns directly without calling shutdown.
func (d *Driver) shutdown(log *log.Logger, cause error) error {
	pending := d.mgr.AbortAll()
	log.Info("driver shutting down, aborting in-flight auctions", "cause", cause, "pending", pending)
	if pending == 0 {
		return cause
	}

	grace := time.NewTimer(d.cfg.ShutdownGrace())
	defer grace.Stop()

	for {
		select {
		case <-grace.C:
			log.Warn("shutdown grace period elapsed, abandoning remaining auctions", "still_pending", d.mgr.Pending())
			return cause
		case s := <-d.mgr.Completions():
			d.handleCompletion(log, s)
			if d.mgr.Pending() == 0 {
				return cause
			}
		}
	}
}
