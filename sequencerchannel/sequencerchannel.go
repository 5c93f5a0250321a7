// Package sequencerchannel is the typed handle over the sequencer's gRPC
// and ABCI surfaces (spec §2.2, §4.6, §6). It translates wire messages
// (astria.sequencerblock.v1 / astria.primitive.v1, grounded on the
// real astria-auctioneer source and the astria `flame` execution-server
// example) into the domain types the rest of this module works with, and
// owns reconnection policy for the two gRPC streams.
package sequencerchannel

import (
	"context"
	"io"
	"math/rand"
	"time"

	sequencerblockv1grpc "buf.build/gen/go/astria/sequencerblock-apis/grpc/go/astria/sequencerblock/v1/sequencerblockv1grpc"
	sequencerblockv1 "buf.build/gen/go/astria/sequencerblock-apis/protocolbuffers/go/astria/sequencerblock/v1"
	primitivev1 "buf.build/gen/go/astria/primitives/protocolbuffers/go/astria/primitive/v1"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/astriaorg/go-auctioneer/bundle"
	"github.com/astriaorg/go-auctioneer/log"
)

var logger = log.NewModuleLogger(log.SequencerChannel)

// Optimistic is an optimistic block proposal broadcast before consensus
// finalizes it (spec glossary). FilteredBlock stands in for the rollup's
// filtered transaction set (the real
// astria.sequencerblock.v1.FilteredSequencerBlock payload, per DESIGN.md);
// it is left nil rather than populated with the block hash, since the
// hash is already available via BlockHash and a non-empty FilteredBlock
// would misleadingly suggest decoded transactions that were never
// extracted.
type Optimistic struct {
	BlockHash     bundle.Hash
	Height        uint64
	FilteredBlock []byte
}

// Commitment signals that a sequencer block has been committed (spec
// glossary); both hash and height are checked downstream per spec §9's
// resolution of the "height equality" open question.
type Commitment struct {
	BlockHash bundle.Hash
	Height    uint64
}

// SubmitResult is the ABCI-style response to SubmitTransaction.
type SubmitResult struct {
	Code uint32
	Log  string
	Hash bundle.Hash
}

// reconnectBaseDelay/reconnectMaxDelay bound the backoff used when a
// stream's Recv returns a transient error and must be re-established.
const (
	reconnectBaseDelay = 250 * time.Millisecond
	reconnectMaxDelay  = 10 * time.Second
)

// Channel is a cheaply-cloneable handle sharing one underlying gRPC
// connection pool, per spec §9 ("Shared handles to long-lived
// connections"). The zero value is not usable; construct with Dial.
type Channel struct {
	conn      *grpc.ClientConn
	grpcCli   sequencerblockv1grpc.SequencerServiceClient
	abci      abciClient
	rollupID  []byte
}

// abciClient is the narrow slice of the sequencer's ABCI RPC surface this
// package needs. Defined as an interface so tests can substitute a fake
// without standing up a real cometBFT endpoint.
type abciClient interface {
	BroadcastTxSync(ctx context.Context, tx []byte) (SubmitResult, error)
}

// Dial opens the connection pool backing a Channel. abciEndpoint is used
// for SubmitTransaction, grpcEndpoint for everything else.
func Dial(grpcEndpoint, abciEndpoint string, rollupID []byte) (*Channel, error) {
	conn, err := grpc.Dial(grpcEndpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial sequencer grpc endpoint")
	}
	return &Channel{
		conn:     conn,
		grpcCli:  sequencerblockv1grpc.NewSequencerServiceClient(conn),
		abci:     newHTTPABCIClient(abciEndpoint),
		rollupID: rollupID,
	}, nil
}

// Close releases the underlying connection pool.
func (c *Channel) Close() error {
	return c.conn.Close()
}

// OptimisticBlockStream yields Optimistic values until ctx is cancelled or
// the stream terminally fails (spec §4.6: "surfacing stream closure as a
// terminal condition"). Transient errors are retried with bounded backoff
// and jitter and do not close the returned channel.
func (c *Channel) OptimisticBlockStream(ctx context.Context) (<-chan Optimistic, <-chan error) {
	out := make(chan Optimistic)
	fatal := make(chan error, 1)

	go func() {
		defer close(out)
		delay := reconnectBaseDelay
		for {
			stream, err := c.grpcCli.GetOptimisticBlockStream(ctx, &sequencerblockv1.GetOptimisticBlockStreamRequest{
				RollupId: &primitivev1.RollupId{Inner: c.rollupID},
			})
			if err != nil {
				if !waitBackoff(ctx, &delay, reconnectMaxDelay) {
					fatal <- errors.Wrap(err, "optimistic block stream: cancelled while waiting to redial")
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
					logger.Warn("optimistic block stream recv error, reconnecting", "err", err)
					break
				}
				blk := resp.GetBlock()
				if blk == nil {
					continue
				}
				opt := Optimistic{
					Height: blk.GetSequencerBlockHeader().GetHeight(),
				}
				copy(opt.BlockHash[:], blk.GetSequencerBlockHash())
				select {
				case out <- opt:
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
			if !waitBackoff(ctx, &delay, reconnectMaxDelay) {
				fatal <- errors.New("optimistic block stream: cancelled while waiting to reconnect")
				return
			}
		}
	}()

	return out, fatal
}

// BlockCommitmentStream yields Commitment values; same reconnect semantics
// as OptimisticBlockStream.
func (c *Channel) BlockCommitmentStream(ctx context.Context) (<-chan Commitment, <-chan error) {
	out := make(chan Commitment)
	fatal := make(chan error, 1)

	go func() {
		defer close(out)
		delay := reconnectBaseDelay
		for {
			stream, err := c.grpcCli.GetBlockCommitmentStream(ctx, &sequencerblockv1.GetBlockCommitmentStreamRequest{})
			if err != nil {
				if !waitBackoff(ctx, &delay, reconnectMaxDelay) {
					fatal <- errors.Wrap(err, "block commitment stream: cancelled while waiting to redial")
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
					logger.Warn("block commitment stream recv error, reconnecting", "err", err)
					break
				}
				commit := resp.GetCommitment()
				if commit == nil {
					continue
				}
				c := Commitment{Height: commit.GetHeight()}
				copy(c.BlockHash[:], commit.GetBlockHash())
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
			if !waitBackoff(ctx, &delay, reconnectMaxDelay) {
				fatal <- errors.New("block commitment stream: cancelled while waiting to reconnect")
				return
			}
		}
	}()

	return out, fatal
}

// GetPendingNonce fetches the current pending nonce for address.
func (c *Channel) GetPendingNonce(ctx context.Context, address []byte) (uint32, error) {
	resp, err := c.grpcCli.GetPendingNonce(ctx, &sequencerblockv1.GetPendingNonceRequest{
		Address: &primitivev1.Address{Bech32M: string(address)},
	})
	if err != nil {
		return 0, errors.Wrap(err, "get_pending_nonce failed")
	}
	return resp.GetInner(), nil
}

// SubmitTransaction submits a signed transaction via the ABCI broadcast
// endpoint, returning the (code, log, hash) response verbatim.
func (c *Channel) SubmitTransaction(ctx context.Context, txBytes []byte) (SubmitResult, error) {
	return c.abci.BroadcastTxSync(ctx, txBytes)
}

// waitBackoff sleeps for *delay (plus up to 20% jitter), doubling *delay
// up to max, and reports whether the caller should keep retrying (false
// means ctx was cancelled).
func waitBackoff(ctx context.Context, delay *time.Duration, max time.Duration) bool {
	jitter := time.Duration(rand.Int63n(int64(*delay) / 5 + 1))
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
