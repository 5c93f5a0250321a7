package allocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astriaorg/go-auctioneer/bundle"
)

func bundleWithBid(bid uint64) bundle.Bundle {
	return bundle.Bundle{Bid: bid}
}

func TestFirstPrice_NoBidsHasNoWinner(t *testing.T) {
	rule := New()
	_, ok := rule.Winner()
	assert.False(t, ok)
}

func TestFirstPrice_HigherBidBecomesLeader(t *testing.T) {
	rule := New()

	changed := rule.Bid(bundleWithBid(10))
	assert.True(t, changed)

	changed = rule.Bid(bundleWithBid(20))
	assert.True(t, changed)

	winner, ok := rule.Winner()
	require.True(t, ok)
	assert.Equal(t, uint64(20), winner.Bid)
}

func TestFirstPrice_LowerBidDoesNotDisplaceLeader(t *testing.T) {
	rule := New()
	rule.Bid(bundleWithBid(20))

	changed := rule.Bid(bundleWithBid(10))
	assert.False(t, changed)

	winner, ok := rule.Winner()
	require.True(t, ok)
	assert.Equal(t, uint64(20), winner.Bid)
}

func TestFirstPrice_TieKeepsFirstAdmitted(t *testing.T) {
	rule := New()
	first := bundleWithBid(15)
	first.RollupPayload = []byte("first")
	second := bundleWithBid(15)
	second.RollupPayload = []byte("second")

	rule.Bid(first)
	changed := rule.Bid(second)
	assert.False(t, changed, "a tying bid must not become the new leader")

	winner, ok := rule.Winner()
	require.True(t, ok)
	assert.Equal(t, "first", string(winner.RollupPayload))
}

func TestFirstPrice_WinnerIsMaxAcrossAnySequence(t *testing.T) {
	bids := []uint64{5, 30, 12, 30, 7, 29}
	rule := New()
	for _, b := range bids {
		rule.Bid(bundleWithBid(b))
	}

	winner, ok := rule.Winner()
	require.True(t, ok)
	assert.Equal(t, uint64(30), winner.Bid)
}
