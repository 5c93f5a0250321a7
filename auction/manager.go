package auction

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/astriaorg/go-auctioneer/bundle"
	"github.com/astriaorg/go-auctioneer/errs"
	logpkg "github.com/astriaorg/go-auctioneer/log"
	"github.com/astriaorg/go-auctioneer/metrics"
	"github.com/astriaorg/go-auctioneer/rollupchannel"
	"github.com/astriaorg/go-auctioneer/sequencerchannel"
	"github.com/astriaorg/go-auctioneer/signer"
)

var managerLogger = logpkg.NewModuleLogger(logpkg.AuctionManager)

// recentCacheSize bounds the "recently completed auctions" cache
// (spec §4.2: a late, stale start_bids/start_timer/bundle for an id that
// already finished is distinguishable from one for an id never created,
// so lookup can log the two cases differently). Sized generously
// above any plausible reorg depth; adapted from the teacher's
// common/cache.go, which wraps the same hashicorp/golang-lru package
// behind a narrower, domain-specific interface here instead of the
// teacher's generic Add/Get/Contains/Purge surface.
const recentCacheSize = 256

// Manager is the AuctionManager from spec §4.2: it owns the id→worker
// registry, holds the single shared PendingNoncePublisher all workers read
// from, and is where the Driver asks "who won" one completion at a time.
type Manager struct {
	mu      sync.Mutex
	workers map[Id]*Handle
	recent  *lru.Cache

	params    Params
	submitter Submitter
	signer    *signer.Signer
	noncePub  NonceFetcher

	completions chan Summary
}

// NewManager constructs a Manager. noncePub should already have Start
// called on it by the caller; Manager only reads from it. submitter and
// noncePub are accepted as the narrow Submitter/NonceFetcher interfaces
// (rather than *sequencerchannel.Channel/*noncepublisher.Publisher
// directly) so tests can wire in fakes; the production caller in
// cmd/auctioneer passes the concrete types, which satisfy both.
func NewManager(params Params, submitter Submitter, s *signer.Signer, noncePub NonceFetcher) *Manager {
	cache, err := lru.New(recentCacheSize)
	if err != nil {
		// lru.New only fails for a non-positive size, which recentCacheSize
		// never is.
		panic(err)
	}
	return &Manager{
		workers:     make(map[Id]*Handle),
		recent:      cache,
		params:      params,
		submitter:   submitter,
		signer:      s,
		noncePub:    noncePub,
		completions: make(chan Summary, 64),
	}
}

// NewAuction creates and starts a worker for id at the given sequencer
// block height (spec §4.1: "on optimistic block: create an auction").
// Creating an id that already has a live worker is a caller bug; this
// replaces the old entry after aborting it, since the Driver's reorg path
// (spec §4.1, "on reorg: abort then create") is the only legitimate
// caller of NewAuction for an id already present.
func (m *Manager) NewAuction(ctx context.Context, id Id, height uint64) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.workers[id]; ok {
		old.Abort()
	}

	w, handle := newWorker(id, height, m.params, m.submitter, m.signer, m.noncePub, m.completions)
	m.workers[id] = handle
	metrics.AuctionsStarted.Inc()
	go w.run(ctx)
	return handle
}

// StartBids routes an execute-optimistic-block result to the auction it
// targets. errs.NoSuchAuction is returned (and Ignored per the taxonomy)
// when id names an auction never created or already completed.
func (m *Manager) StartBids(id Id, e rollupchannel.Executed) error {
	h, ok := m.lookup(id)
	if !ok {
		return errs.NoSuchAuction
	}
	return h.StartBids(e)
}

// StartTimer routes a block commitment to the auction it targets.
func (m *Manager) StartTimer(id Id, c sequencerchannel.Commitment) error {
	h, ok := m.lookup(id)
	if !ok {
		return errs.NoSuchAuction
	}
	return h.StartTimer(c)
}

// ForwardBundle routes a searcher bundle to the auction targeting its base
// sequencer block. Bundles for an id this Manager has never heard of (or
// has already finished) are Ignored per spec §4.1.
func (m *Manager) ForwardBundle(b bundle.Bundle) error {
	h, ok := m.lookup(b.BaseSequencerBlockHash)
	if !ok {
		return errs.NoSuchAuction
	}
	return h.TryBid(b)
}

// Abort cancels the auction for id if it is still running. A miss
// (already finished, or never existed) is not an error: abort is
// idempotent from the caller's point of view.
func (m *Manager) Abort(id Id) {
	h, ok := m.lookup(id)
	if !ok {
		return
	}
	h.Abort()
}

// AbortAll cancels every currently running auction and returns the count
// still running at the moment of the call (spec §4.2: "returns the count
// still running").
func (m *Manager) AbortAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.workers {
		h.Abort()
	}
	return len(m.workers)
}

// Pending reports how many auctions are still registered (not yet
// completed). Used by the Driver's shutdown drain loop to return as soon
// as every in-flight auction has reported, rather than always waiting out
// the full grace period.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// NextWinner blocks until a worker completes, removes it from the
// registry, records it in the recently-completed cache, and returns its
// Summary. This is the Driver's single point of contact with worker
// completions (spec §4.2: "await next completion").
func (m *Manager) NextWinner(ctx context.Context) (Summary, error) {
	select {
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	case s := <-m.completions:
		m.mu.Lock()
		delete(m.workers, s.ID)
		m.recent.Add(s.ID, s)
		m.mu.Unlock()
		recordOutcome(s)
		return s, nil
	}
}

// Completions exposes the shared completion channel for callers (the
// Driver's biased-select loop) that need to treat "a worker finished" as
// one more case alongside the input streams, rather than blocking on
// NextWinner in isolation.
func (m *Manager) Completions() <-chan Summary {
	return m.completions
}

// Finish performs the bookkeeping NextWinner does, for a Summary the
// caller already received directly off Completions().
func (m *Manager) Finish(s Summary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workers, s.ID)
	m.recent.Add(s.ID, s)
	recordOutcome(s)
}

// lookup finds the live Handle for id, logging (at debug) whether a miss
// was because the auction already finished or was never created — the
// distinction spec §4.2 calls out as worth preserving for diagnosis.
func (m *Manager) lookup(id Id) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.workers[id]; ok {
		return h, true
	}
	if _, ok := m.recent.Get(id); ok {
		managerLogger.Debug("event for already-completed auction", "auction", id)
	} else {
		managerLogger.Debug("event for unknown auction", "auction", id)
	}
	return nil, false
}

func recordOutcome(s Summary) {
	switch s.Outcome {
	case OutcomeSubmitted:
		metrics.AuctionsSubmitted.Inc()
	case OutcomeNoBids:
		metrics.AuctionsNoBids.Inc()
	case OutcomeCancelled:
		metrics.AuctionsCancelled.Inc()
	case OutcomeFailed:
		metrics.AuctionsFailed.Inc()
	}
}
