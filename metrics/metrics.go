// Package metrics exposes the Auctioneer's Prometheus instrumentation. It
// mirrors the counter/timer naming style of the grounded astria `flame`
// execution server (getBlockRequestCount, executeBlockTimer, ...), adapted
// to auction events. Per spec §7, no behavior in this repository depends on
// metrics being scraped or even registered successfully — every call here
// is fire-and-forget.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "astria_auctioneer"

var (
	AuctionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auctions_started_total",
		Help:      "Number of auctions created from an observed optimistic block.",
	})

	AuctionsCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auctions_cancelled_total",
		Help:      "Number of auctions that ended in Done(Cancelled), e.g. due to a reorg or shutdown.",
	})

	AuctionsNoBids = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auctions_no_bids_total",
		Help:      "Number of auctions whose timer fired with no admitted bids.",
	})

	AuctionsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auctions_submitted_total",
		Help:      "Number of auctions that submitted a winning bundle to the sequencer.",
	})

	AuctionsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auctions_failed_total",
		Help:      "Number of auctions that ended in a terminal error (submission rejected, retries exhausted).",
	})

	BidsAdmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bids_admitted_total",
		Help:      "Number of bundles admitted into an allocation rule.",
	})

	BidsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bids_rejected_total",
		Help:      "Number of bundles a worker dropped for targeting a different sequencer block or rollup parent.",
	})

	AuctionSubmissionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "auction_submission_latency_seconds",
		Help:      "Time from the start of submission (deadline fired, winner chosen) to its completion, successful or failed.",
		Buckets:   prometheus.DefBuckets,
	})

	NonceFetchFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "nonce_fetch_failures_total",
		Help:      "Number of failed get_pending_nonce RPCs observed by the PendingNoncePublisher.",
	})
)

func init() {
	prometheus.MustRegister(
		AuctionsStarted,
		AuctionsCancelled,
		AuctionsNoBids,
		AuctionsSubmitted,
		AuctionsFailed,
		BidsAdmitted,
		BidsRejected,
		AuctionSubmissionLatency,
		NonceFetchFailures,
	)
}
