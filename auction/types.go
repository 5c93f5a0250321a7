// Package auction implements the per-block auction state machine
// (AuctionWorker, spec §4.3) and the id→worker registry that owns it
// (AuctionManager, spec §4.2). Grounded on the teacher's work/worker.go +
// work/agent.go pair: a long-lived per-unit-of-work goroutine, a shared
// completion channel every unit sends its one result to (klaytn's
// `recv chan *Result` shared by all Agents), and atomic lifecycle flags
// rather than locks for state shared between the owner and the worker.
package auction

import (
	"context"
	"time"

	"github.com/astriaorg/go-auctioneer/bundle"
	"github.com/astriaorg/go-auctioneer/sequencerchannel"
)

// Submitter is the slice of sequencerchannel.Channel a worker needs to
// submit a winning bundle. Interfaced so tests can exercise the state
// machine without a live gRPC/ABCI connection.
type Submitter interface {
	SubmitTransaction(ctx context.Context, txBytes []byte) (sequencerchannel.SubmitResult, error)
}

// NonceFetcher is the slice of noncepublisher.Publisher a worker needs:
// a forced, retried, synchronous fetch at start_timer acceptance (spec
// §4.3, invariant I3). Interfaced for the same reason as Submitter.
type NonceFetcher interface {
	FetchNow(ctx context.Context) (uint32, error)
}

// Id names an auction; per spec §3, "AuctionId = block_hash" — two
// auctions are the same iff they target the same sequencer block hash.
type Id = bundle.Hash

// Phase is a worker's position in the state machine from spec §4.3's
// table: Created → Bidding → Deadline → Submitting → Done.
type Phase int

const (
	PhaseCreated Phase = iota
	PhaseBidding
	PhaseDeadline
	PhaseSubmitting
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseBidding:
		return "bidding"
	case PhaseDeadline:
		return "deadline"
	case PhaseSubmitting:
		return "submitting"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Outcome is the terminal classification of a finished auction.
type Outcome int

const (
	// OutcomeSubmitted: a winning bundle was built, signed, and
	// submitted; NonceUsed/Code/TxHash on the Summary are populated.
	OutcomeSubmitted Outcome = iota
	// OutcomeNoBids: the timer fired with no admitted bids.
	OutcomeNoBids
	// OutcomeCancelled: abort or shutdown was received before submission.
	OutcomeCancelled
	// OutcomeFailed: submission was attempted and failed terminally (or
	// the nonce fetch exhausted its retry budget). Err on the Summary
	// carries the cause.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSubmitted:
		return "submitted"
	case OutcomeNoBids:
		return "no_bids"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Summary is what a worker produces exactly once, on completion (spec
// §4.3, §7: "per block, exactly one of Submitted{...}, NoBids,
// CancelledDuringAuction, or a failure summary is logged").
type Summary struct {
	ID        Id
	Outcome   Outcome
	NonceUsed uint32
	Code      uint32
	TxHash    bundle.Hash
	Err       error
}

// Params are the per-worker configuration values that don't change across
// the lifetime of a single Auctioneer process: fee asset, chain id,
// rollup id, and the latency margin duration.
type Params struct {
	RollupID             []byte
	FeeAssetDenomination string
	SequencerChainID     string
	LatencyMargin        time.Duration
	BidQueueCapacity     int
}
