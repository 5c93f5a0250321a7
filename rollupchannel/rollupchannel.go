// Package rollupchannel is the typed handle over the rollup's gRPC
// surface (spec §2.3, §4.6, §6): the bundle stream searchers submit to,
// and the bidirectional optimistic-execution stream.
package rollupchannel

import (
	"context"
	"io"
	"math/rand"
	"time"

	bundlev1grpc "buf.build/gen/go/astria/bundle-apis/grpc/go/astria/bundle/v1alpha1/bundlev1alphagrpc"
	bundlev1 "buf.build/gen/go/astria/bundle-apis/protocolbuffers/go/astria/bundle/v1alpha1"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/astriaorg/go-auctioneer/bundle"
	"github.com/astriaorg/go-auctioneer/log"
)

var logger = log.NewModuleLogger(log.RollupChannel)

// BaseBlock is sent to execute_optimistic_block: the sequencer block,
// filtered to this rollup's transactions, that should be executed
// optimistically.
type BaseBlock struct {
	SequencerBlockHash bundle.Hash
	Transactions       [][]byte
	TimestampUnixNanos int64
}

// Executed is the rollup's optimistic execution result for a BaseBlock.
type Executed struct {
	SequencerBlockHash bundle.Hash
	RollupBlockHash    bundle.Hash
	RollupBlock        []byte
}

const (
	reconnectBaseDelay = 250 * time.Millisecond
	reconnectMaxDelay  = 10 * time.Second
)

// Channel is a cheaply-cloneable handle to the rollup's gRPC connection
// pool (spec §9).
type Channel struct {
	conn *grpc.ClientConn
	cli  bundlev1grpc.BundleServiceClient
}

// Dial opens the connection pool backing a Channel.
func Dial(endpoint string) (*Channel, error) {
	conn, err := grpc.Dial(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial rollup grpc endpoint")
	}
	return &Channel{conn: conn, cli: bundlev1grpc.NewBundleServiceClient(conn)}, nil
}

// Close releases the underlying connection pool.
func (c *Channel) Close() error {
	return c.conn.Close()
}

// BundleStream yields searcher-submitted Bundle values until ctx is
// cancelled or the stream terminally fails.
func (c *Channel) BundleStream(ctx context.Context) (<-chan bundle.Bundle, <-chan error) {
	out := make(chan bundle.Bundle)
	fatal := make(chan error, 1)

	go func() {
		defer close(out)
		delay := reconnectBaseDelay
		for {
			stream, err := c.cli.GetBundleStream(ctx, &bundlev1.GetBundleStreamRequest{})
			if err != nil {
				if !waitBackoff(ctx, &delay, reconnectMaxDelay) {
					fatal <- errors.Wrap(err, "bundle stream: cancelled while waiting to redial")
					return
				}
				continue
			}
			delay = reconnectBaseDelay
			for {
				resp, err := stream.Recv()
				if err == io.EOF {
					break
				}
				if err != nil {
					logger.Warn("bundle stream recv error, reconnecting", "err", err)
					break
				}
				raw := resp.GetBundle()
				if raw == nil {
					continue
				}
				b := bundle.Bundle{
					Bid:           raw.GetBid(),
					RollupPayload: raw.GetPayload(),
				}
				copy(b.BaseSequencerBlockHash[:], raw.GetBaseSequencerBlockHash())
				copy(b.ParentRollupBlockHash[:], raw.GetParentRollupBlockHash())
				select {
				case out <- b:
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
			if !waitBackoff(ctx, &delay, reconnectMaxDelay) {
				fatal <- errors.New("bundle stream: cancelled while waiting to reconnect")
				return
			}
		}
	}()

	return out, fatal
}

// ExecutedStream is the handle returned by ExecuteOptimisticBlockStream: a
// sink for BaseBlock values and a source of Executed results.
type ExecutedStream struct {
	cli    bundlev1.BundleService_ExecuteOptimisticBlockStreamClient
	cancel context.CancelFunc
}

// ExecuteOptimisticBlockStream opens the bidirectional stream used to
// forward optimistic blocks to the rollup and read back execution results.
func (c *Channel) ExecuteOptimisticBlockStream(ctx context.Context) (*ExecutedStream, <-chan Executed, <-chan error) {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Executed)
	fatal := make(chan error, 1)

	cli, err := c.cli.ExecuteOptimisticBlockStream(ctx)
	if err != nil {
		fatal <- errors.Wrap(err, "failed to open execute-optimistic-block stream")
		close(out)
		cancel()
		return nil, out, fatal
	}

	go func() {
		defer close(out)
		for {
			resp, err := cli.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				fatal <- errors.Wrap(err, "execute-optimistic-block stream closed")
				return
			}
			raw := resp.GetBlock()
			if raw == nil {
				continue
			}
			e := Executed{RollupBlock: raw.GetRollupBlock()}
			copy(e.SequencerBlockHash[:], resp.GetBaseSequencerBlockHash())
			copy(e.RollupBlockHash[:], raw.GetRollupBlockHash())
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	return &ExecutedStream{cli: cli, cancel: cancel}, out, fatal
}

// Send forwards a BaseBlock for optimistic execution. The Driver handles a
// send error by logging it and aborting that block's auction; it does not
// stop the Driver loop or return the error from Run.
func (s *ExecutedStream) Send(b BaseBlock) error {
	return s.cli.Send(&bundlev1.ExecuteOptimisticBlockStreamRequest{
		BaseBlock: &bundlev1.BaseBlock{
			SequencerBlockHash: b.SequencerBlockHash[:],
			Transactions:       b.Transactions,
		},
	})
}

// Close tears down the bidirectional stream.
func (s *ExecutedStream) Close() {
	s.cancel()
}

func waitBackoff(ctx context.Context, delay *time.Duration, max time.Duration) bool {
	jitter := time.Duration(rand.Int63n(int64(*delay)/5 + 1))
	timer := time.NewTimer(*delay + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}
	*delay *= 2
	if *delay > max {
		*delay = max
	}
	return true
}
