// Package config holds the single struct the Auctioneer core is
// constructed from, matching the "Boundary to operators" contract in
// spec §6: a plain struct of recognized options, the way klaytn's
// node/sc.SCConfig carries its service's knobs. No CLI, env, or
// persisted-state handling lives here — that belongs to the hosting
// process (cmd/auctioneer).
package config

import "time"

// Config is the full set of options the core Auctioneer accepts.
type Config struct {
	// SequencerGRPCEndpoint is the address of the sequencer's gRPC
	// service (optimistic blocks, commitments, pending nonce); transaction
	// submission goes through SequencerABCIEndpoint instead.
	SequencerGRPCEndpoint string
	// SequencerABCIEndpoint is the address used for submit_transaction.
	SequencerABCIEndpoint string
	// RollupGRPCEndpoint is the address of the rollup's optimistic
	// execution and bundle-streaming service.
	RollupGRPCEndpoint string
	// RollupID identifies the rollup this Auctioneer runs auctions for.
	RollupID []byte
	// SignerKeySource locates the Auctioneer's signing key (e.g. a file
	// path or a KMS URI); interpretation is left to the signer package's
	// constructor.
	SignerKeySource string
	// FeeAssetDenomination is the asset used to pay fees on submitted
	// transactions.
	FeeAssetDenomination string
	// SequencerChainID is included in signed transaction bodies.
	SequencerChainID string
	// LatencyMarginMS is the bidding-window duration, measured from
	// block-commitment acceptance, in milliseconds.
	LatencyMarginMS uint64
	// NonceFetchIntervalMS is the PendingNoncePublisher's poll interval,
	// in milliseconds. Defaults to 500ms per spec §4.5.
	NonceFetchIntervalMS uint64
	// BidQueueCapacity bounds each AuctionWorker's bid-ingress queue.
	BidQueueCapacity int
	// ShutdownGraceS bounds how long the Driver waits for in-flight
	// auctions to finish before aborting them. Spec §4.1 fixes this at
	// 25s; exposed here so the hosting process can shorten it in tests.
	ShutdownGraceS uint64
}

// DefaultNonceFetchIntervalMS is spec §4.5's FETCH_INTERVAL default.
const DefaultNonceFetchIntervalMS = 500

// DefaultShutdownGraceS is spec §4.1's shutdown grace window.
const DefaultShutdownGraceS = 25

// DefaultBidQueueCapacity bounds memory used by a single auction's bid
// ingress queue absent an operator override.
const DefaultBidQueueCapacity = 256

// LatencyMargin returns LatencyMarginMS as a time.Duration.
func (c Config) LatencyMargin() time.Duration {
	return time.Duration(c.LatencyMarginMS) * time.Millisecond
}

// NonceFetchInterval returns NonceFetchIntervalMS as a time.Duration,
// falling back to DefaultNonceFetchIntervalMS when unset.
func (c Config) NonceFetchInterval() time.Duration {
	ms := c.NonceFetchIntervalMS
	if ms == 0 {
		ms = DefaultNonceFetchIntervalMS
	}
	return time.Duration(ms) * time.Millisecond
}

// ShutdownGrace returns ShutdownGraceS as a time.Duration, falling back to
// DefaultShutdownGraceS when unset.
func (c Config) ShutdownGrace() time.Duration {
	s := c.ShutdownGraceS
	if s == 0 {
		s = DefaultShutdownGraceS
	}
	return time.Duration(s) * time.Second
}

// Validate checks that every field required to construct the core is
// present. A failure here is Fatal per spec §7: the process must not start
// with an invalid configuration.
func (c Config) Validate() error {
	switch {
	case c.SequencerGRPCEndpoint == "":
		return fieldErr("SequencerGRPCEndpoint")
	case c.SequencerABCIEndpoint == "":
		return fieldErr("SequencerABCIEndpoint")
	case c.RollupGRPCEndpoint == "":
		return fieldErr("RollupGRPCEndpoint")
	case len(c.RollupID) == 0:
		return fieldErr("RollupID")
	case c.SignerKeySource == "":
		return fieldErr("SignerKeySource")
	case c.FeeAssetDenomination == "":
		return fieldErr("FeeAssetDenomination")
	case c.SequencerChainID == "":
		return fieldErr("SequencerChainID")
	case c.LatencyMarginMS == 0:
		return fieldErr("LatencyMarginMS")
	}
	return nil
}

func fieldErr(field string) error {
	return &missingFieldError{field: field}
}

type missingFieldError struct{ field string }

func (e *missingFieldError) Error() string {
	return "config: missing required field " + e.field
}
