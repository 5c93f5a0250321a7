// Package allocation implements the AllocationRule from spec §4.4: a
// pure, stateful reducer over bids with no I/O. FirstPrice is the only
// policy needed today; the interface exists so a future allocation
// strategy doesn't require changing AuctionWorker.
package allocation

import "github.com/astriaorg/go-auctioneer/bundle"

// Rule is the policy that picks a winning bundle from the admitted set.
type Rule interface {
	// Bid admits b and reports whether it becomes the new leader.
	Bid(b bundle.Bundle) bool
	// Winner returns the current leader, or false if none has been
	// admitted yet.
	Winner() (bundle.Bundle, bool)
}

// FirstPrice keeps the bundle with the strictly greatest Bid seen so far;
// ties are broken by first-arrival (the earlier bid keeps the lead).
type FirstPrice struct {
	leader bundle.Bundle
	hasLeader bool
}

// New returns an empty FirstPrice rule.
func New() *FirstPrice {
	return &FirstPrice{}
}

// Bid admits b. Strictly-greater bids replace the leader; equal or lesser
// bids are recorded as losing (no-op) since the first-admitted bundle
// already holds the tiebreak.
func (f *FirstPrice) Bid(b bundle.Bundle) bool {
	if !f.hasLeader || b.Bid > f.leader.Bid {
		f.leader = b
		f.hasLeader = true
		return true
	}
	return false
}

// Winner returns the current leader.
func (f *FirstPrice) Winner() (bundle.Bundle, bool) {
	return f.leader, f.hasLeader
}
