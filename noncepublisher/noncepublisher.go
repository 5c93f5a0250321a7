// Package noncepublisher implements the PendingNoncePublisher from spec
// §4.5: a background task that polls get_pending_nonce on a fixed
// interval and publishes the latest value to any subscriber, which reads
// it without blocking. Modeled on the teacher's single-writer /
// many-reader pattern in work/worker.go's atomic snapshot fields
// (snapshotBlock/snapshotState behind an RWMutex), generalized from "the
// latest mined block" to "the latest pending nonce".
package noncepublisher

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/astriaorg/go-auctioneer/log"
	"github.com/astriaorg/go-auctioneer/metrics"
	"github.com/astriaorg/go-auctioneer/retry"
)

var logger = log.NewModuleLogger(log.NoncePublisher)

// NonceFetcher is the one method this package needs from
// sequencerchannel.Channel; kept as an interface so tests don't need a
// live gRPC connection.
type NonceFetcher interface {
	GetPendingNonce(ctx context.Context, address []byte) (uint32, error)
}

// Publisher polls NonceFetcher.GetPendingNonce on a fixed interval and
// exposes the latest successfully fetched value. The zero value is not
// usable; construct with New.
type Publisher struct {
	fetcher  NonceFetcher
	address  []byte
	interval time.Duration
	timeout  time.Duration

	latest atomic.Uint32
	ready  atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Publisher. Call Start to begin polling.
func New(fetcher NonceFetcher, address []byte, interval time.Duration) *Publisher {
	return &Publisher{
		fetcher:  fetcher,
		address:  address,
		interval: interval,
		timeout:  2 * interval,
		done:     make(chan struct{}),
	}
}

// Start launches the polling loop in a background goroutine. Missed ticks
// accumulate delay rather than bursting: a fetch that outlasts interval
// simply pushes the next tick later, it does not queue up catch-up
// fetches (spec §4.5: "Missed ticks accumulate to 'delay' (do not
// burst)").
func (p *Publisher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	go func() {
		defer close(p.done)
		timer := time.NewTimer(p.interval)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				p.fetchOnce(ctx)
				timer.Reset(p.interval)
			}
		}
	}()
}

func (p *Publisher) fetchOnce(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	nonce, err := p.fetcher.GetPendingNonce(fetchCtx, p.address)
	if err != nil {
		metrics.NonceFetchFailures.Inc()
		logger.Warn("pending nonce fetch failed, retaining previous value", "err", err, "previous", p.latest.Load())
		return
	}
	p.latest.Store(nonce)
	p.ready.Store(true)
}

// Latest returns the most recently published nonce without blocking, and
// whether any successful fetch has completed yet. A worker calling this
// at timer-fire time (spec §4.3) gets whatever is cached; it never waits
// on an in-flight RPC.
func (p *Publisher) Latest() (nonce uint32, ok bool) {
	return p.latest.Load(), p.ready.Load()
}

// FetchNow forces an immediate, synchronous fetch with the bounded
// exponential-backoff retry policy, updating the published value on
// success. Called by the AuctionWorker once it accepts start_timer (and
// again at submission if that fetch has not completed) to snapshot a nonce
// known to be at-or-after the triggering commitment (spec invariant I3),
// rather than waiting for the next background tick.
func (p *Publisher) FetchNow(ctx context.Context) (uint32, error) {
	var nonce uint32
	err := retry.Default.Do(ctx, func(attempt int, delay time.Duration, err error) {
		metrics.NonceFetchFailures.Inc()
		logger.Warn("pending nonce fetch attempt failed, retrying", "attempt", attempt, "delay", delay, "err", err)
	}, func(ctx context.Context) error {
		fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		n, err := p.fetcher.GetPendingNonce(fetchCtx, p.address)
		if err != nil {
			return err
		}
		nonce = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	p.latest.Store(nonce)
	p.ready.Store(true)
	return nonce, nil
}

// Stop halts the polling loop and waits for it to exit.
func (p *Publisher) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}
