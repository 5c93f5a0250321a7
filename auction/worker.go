package auction

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/astriaorg/go-auctioneer/allocation"
	"github.com/astriaorg/go-auctioneer/bundle"
	"github.com/astriaorg/go-auctioneer/errs"
	"github.com/astriaorg/go-auctioneer/log"
	"github.com/astriaorg/go-auctioneer/metrics"
	"github.com/astriaorg/go-auctioneer/retry"
	"github.com/astriaorg/go-auctioneer/rollupchannel"
	"github.com/astriaorg/go-auctioneer/sequencerchannel"
	"github.com/astriaorg/go-auctioneer/signer"
)

var logger = log.NewModuleLogger(log.AuctionWorker)

// Handle is the owner-side (AuctionManager / Driver) view of a running
// worker: one-shot signal senders plus a best-effort bid sink. All methods
// are safe to call concurrently and from a different goroutine than the
// one running the worker loop.
type Handle struct {
	id     Id
	height uint64

	startBidsCh  chan rollupchannel.Executed
	startTimerCh chan sequencerchannel.Commitment
	bundlesCh    chan bundle.Bundle
	abortCh      chan struct{}

	startBidsSent  atomic.Bool
	startTimerSent atomic.Bool
	abortSent      atomic.Bool
}

// StartBids signals that the rollup has produced an optimistic execution
// result for this auction's block, unblocking bid admission (spec §4.3,
// transition Created→Bidding). Per invariant I1, a second call returns
// errs.AlreadySignaled without touching worker state.
func (h *Handle) StartBids(e rollupchannel.Executed) error {
	if !h.startBidsSent.CompareAndSwap(false, true) {
		return errs.AlreadySignaled
	}
	h.startBidsCh <- e
	return nil
}

// StartTimer signals that this auction's block has been committed,
// arming the submission deadline (spec §4.3, transition Bidding→Deadline).
// Per invariant I1, start_timer never precedes start_bids upstream; a
// second call here returns errs.AlreadySignaled.
func (h *Handle) StartTimer(c sequencerchannel.Commitment) error {
	if !h.startTimerSent.CompareAndSwap(false, true) {
		return errs.AlreadySignaled
	}
	h.startTimerCh <- c
	return nil
}

// TryBid offers b to the worker's bounded bid queue. A full queue drops b
// and reports errs.QueueFull; per spec §4.1 this is logged by the caller,
// not retried. Only queue capacity is checked here: a bid queued while the
// worker is not reading bids (before start_bids, or after the deadline)
// is buffered and reports nil.
func (h *Handle) TryBid(b bundle.Bundle) error {
	select {
	case h.bundlesCh <- b:
		return nil
	default:
		return errs.QueueFull
	}
}

// Abort cancels the auction if it hasn't reached PhaseSubmitting yet
// (spec §4.3: reorg handling cancels the superseded worker before the
// replacement is created). A second Abort call is a silent no-op: the
// first one already requested cancellation and that intent doesn't need
// restating.
func (h *Handle) Abort() {
	if h.abortSent.CompareAndSwap(false, true) {
		close(h.abortCh)
	}
}

// worker is the state machine itself; Handle is the only thing a caller
// outside this file ever touches.
type worker struct {
	id     Id
	height uint64
	params Params

	handle *Handle

	rule        allocation.Rule
	submitter   Submitter
	signer      *signer.Signer
	noncePub    NonceFetcher
	completions chan<- Summary

	// warmedNonce/warmedOK cache the result of the speculative warmNonce
	// fetch issued at start_timer acceptance, so submit can hand it off
	// instead of issuing a second get_pending_nonce RPC for the same
	// value (spec invariant I3: the nonce only needs to be current as of
	// start_timer, and warmNonce already fetched exactly that).
	warmedNonce atomic.Uint32
	warmedOK    atomic.Bool
}

// newWorker constructs a worker and its Handle, wired to signal on signals
// and to publish its single completion to completions: the AuctionManager's
// shared fan-in channel, grounded on the teacher's work/worker.go, where
// every Agent sends its *Result to one shared `recv chan *Result` rather
// than the owner polling per-agent channels.
func newWorker(id Id, height uint64, params Params, submitter Submitter, s *signer.Signer, noncePub NonceFetcher, completions chan<- Summary) (*worker, *Handle) {
	h := &Handle{
		id:           id,
		height:       height,
		startBidsCh:  make(chan rollupchannel.Executed, 1),
		startTimerCh: make(chan sequencerchannel.Commitment, 1),
		bundlesCh:    make(chan bundle.Bundle, params.BidQueueCapacity),
		abortCh:      make(chan struct{}),
	}
	w := &worker{
		id:          id,
		height:      height,
		params:      params,
		handle:      h,
		rule:        allocation.New(),
		submitter:   submitter,
		signer:      s,
		noncePub:    noncePub,
		completions: completions,
	}
	return w, h
}

// run drives the state machine to completion and publishes exactly one
// completion. Intended to be launched with `go w.run(ctx)`.
func (w *worker) run(ctx context.Context) {
	summary := w.runPhases(ctx)
	w.completions <- summary
}

func (w *worker) runPhases(ctx context.Context) Summary {
	phase := PhaseCreated

	// startBidsCh/bundlesCh/startTimerCh are only "live" select targets
	// while the corresponding phase allows them; outside that window the
	// local variable is nil so the select case never fires, mirroring the
	// Rust source's `if auction_is_open` select guards without needing an
	// explicit boolean per branch.
	startBidsCh := w.handle.startBidsCh
	var bundlesCh chan bundle.Bundle
	var startTimerCh chan sequencerchannel.Commitment
	var deadline <-chan time.Time

	var executed *rollupchannel.Executed

auctionLoop:
	for {
		if cancelled, summaryIfCancelled := w.checkCancelled(ctx); cancelled {
			return summaryIfCancelled
		}
		// The timer is authoritative: per spec §4.3, bid ingress is
		// disabled synchronously with the fire event, so a deadline that
		// has already elapsed preempts a simultaneously-ready bid even
		// though bundlesCh stays live right up to that instant.
		if deadline != nil && w.checkDeadlineFired(deadline) {
			break auctionLoop
		}

		select {
		case <-ctx.Done():
			return Summary{ID: w.id, Outcome: OutcomeCancelled, Err: ctx.Err()}
		case <-w.handle.abortCh:
			return Summary{ID: w.id, Outcome: OutcomeCancelled}
		case <-deadline:
			break auctionLoop

		case e := <-startBidsCh:
			executed = &e
			phase = PhaseBidding
			startBidsCh = nil
			bundlesCh = w.handle.bundlesCh
			startTimerCh = w.handle.startTimerCh
			logger.Debug("auction phase transition", "auction", w.id, "phase", phase)

		case b := <-bundlesCh:
			if executed == nil || !b.MatchesTarget(w.id, executed.RollupBlockHash) {
				logger.Warn("dropping bid targeting a different block", "auction", w.id)
				metrics.BidsRejected.Inc()
				continue
			}
			w.rule.Bid(b)
			metrics.BidsAdmitted.Inc()

		case c := <-startTimerCh:
			if c.BlockHash != w.id || c.Height != w.height {
				logger.Warn("start_timer commitment mismatch, ignoring", "auction", w.id, "got", c.BlockHash)
				continue
			}
			phase = PhaseDeadline
			startTimerCh = nil
			// bundlesCh stays live: the Rust source's auction_is_open
			// remains true until the timer actually fires, so bids
			// arriving in the (start_timer, fire) window still count
			// (spec §4.3, glossary "latency margin").
			deadline = time.After(w.params.LatencyMargin)
			logger.Debug("auction phase transition", "auction", w.id, "phase", phase)
			go w.warmNonce(ctx)
		}
	}

	return w.submit(ctx)
}

// checkCancelled is a non-blocking priority check run before every select
// iteration so shutdown/abort preempt bid or timer traffic even when both
// are simultaneously ready, approximating the teacher's and the Rust
// source's biased-select ordering without a language-level bias operator.
func (w *worker) checkCancelled(ctx context.Context) (bool, Summary) {
	select {
	case <-ctx.Done():
		return true, Summary{ID: w.id, Outcome: OutcomeCancelled, Err: ctx.Err()}
	case <-w.handle.abortCh:
		return true, Summary{ID: w.id, Outcome: OutcomeCancelled}
	default:
		return false, Summary{}
	}
}

// checkDeadlineFired is a second-tier non-blocking priority check, run
// after checkCancelled and before the main select, so the timer firing
// preempts a bid that became ready in the same instant: spec §4.3 makes
// the fire event authoritative over bid ingress, not merely first-come.
func (w *worker) checkDeadlineFired(deadline <-chan time.Time) bool {
	select {
	case <-deadline:
		return true
	default:
		return false
	}
}

func (w *worker) warmNonce(ctx context.Context) {
	// FetchNow itself retries with the bounded backoff policy; this
	// goroutine's only job is to not block the select loop above while
	// that happens, mirroring the Rust source's `tokio::spawn(nonce_fetch)`
	// issued at start_timer acceptance (spec §4.3, invariant I3). The
	// fetched value is cached for submit to pick up, rather than
	// discarded and re-fetched.
	nonce, err := w.noncePub.FetchNow(ctx)
	if err != nil {
		return
	}
	w.warmedNonce.Store(nonce)
	w.warmedOK.Store(true)
}

// submit runs the PhaseSubmitting steps: await a nonce known to be
// current as of start_timer, pick the winner, sign, and submit with
// bounded retry. Per the real Rust source, only shutdown (ctx) preempts
// this phase — by the time a worker reaches submission, the Manager has
// already stopped routing new signals to it.
func (w *worker) submit(ctx context.Context) Summary {
	winner, ok := w.rule.Winner()
	if !ok {
		return Summary{ID: w.id, Outcome: OutcomeNoBids}
	}

	start := time.Now()
	defer func() { metrics.AuctionSubmissionLatency.Observe(time.Since(start).Seconds()) }()

	// If warmNonce already landed a value (the common case: it has the
	// full LatencyMargin to complete), reuse it instead of issuing a
	// second get_pending_nonce RPC for the same value. Otherwise fall
	// back to fetching here, synchronously.
	// warmedOK is read before warmedNonce: warmNonce stores the nonce
	// first, so a true flag guarantees the nonce read below is the warmed one.
	ok = w.warmedOK.Load()
	nonce := w.warmedNonce.Load()
	if !ok {
		var err error
		nonce, err = w.noncePub.FetchNow(ctx)
		if err != nil {
			return Summary{ID: w.id, Outcome: OutcomeFailed, Err: errs.New(errs.PerAuctionTerminal, err, "pending nonce fetch exhausted retry budget")}
		}
	}

	result := bundle.Result{Winner: winner, AuctioneerAddress: w.signer.Address()}
	body, err := result.IntoTransactionBody(bundle.TransactionParams{
		Nonce:                nonce,
		RollupID:             w.params.RollupID,
		FeeAssetDenomination: w.params.FeeAssetDenomination,
		ChainID:              w.params.SequencerChainID,
	})
	if err != nil {
		return Summary{ID: w.id, Outcome: OutcomeFailed, Err: errs.New(errs.PerAuctionTerminal, err, "failed to build transaction body")}
	}

	signed, err := w.signer.Sign(body)
	if err != nil {
		return Summary{ID: w.id, Outcome: OutcomeFailed, Err: errs.New(errs.PerAuctionTerminal, err, "failed to sign winning bundle")}
	}
	txBytes := encodeSignedTransaction(signed)

	var submitResult sequencerchannel.SubmitResult
	retryErr := retry.Default.Do(ctx, func(attempt int, delay time.Duration, err error) {
		logger.Warn("submit_transaction attempt failed, retrying", "auction", w.id, "attempt", attempt, "delay", delay, "err", err)
	}, func(ctx context.Context) error {
		r, err := w.submitter.SubmitTransaction(ctx, txBytes)
		if err != nil {
			return err
		}
		submitResult = r
		return nil
	})
	if retryErr != nil {
		return Summary{ID: w.id, Outcome: OutcomeFailed, NonceUsed: nonce, Err: errs.New(errs.PerAuctionTerminal, retryErr, "submit_transaction exhausted retry budget")}
	}
	if submitResult.Code != 0 {
		rejected := fmt.Errorf("code %d: %s", submitResult.Code, submitResult.Log)
		return Summary{ID: w.id, Outcome: OutcomeFailed, NonceUsed: nonce, Code: submitResult.Code, TxHash: submitResult.Hash, Err: errs.New(errs.PerAuctionTerminal, rejected, "sequencer rejected submitted transaction")}
	}

	return Summary{
		ID:        w.id,
		Outcome:   OutcomeSubmitted,
		NonceUsed: nonce,
		Code:      submitResult.Code,
		TxHash:    submitResult.Hash,
	}
}

// encodeSignedTransaction concatenates the wire-ready parts of a
// SignedTransaction into the bytes submit_transaction expects. Stands in
// for the generated astria.protocol.transaction.v1.SignedTransaction
// protobuf encoding for the same reason bundle.TransactionBody does: that
// generated type wasn't resolvable inside this sandbox (see DESIGN.md).
func encodeSignedTransaction(tx signer.SignedTransaction) []byte {
	out := make([]byte, 0, len(tx.Body.Payload)+len(tx.Signature)+len(tx.PublicKey))
	out = append(out, tx.PublicKey...)
	out = append(out, tx.Signature...)
	out = append(out, tx.Body.Payload...)
	return out
}
