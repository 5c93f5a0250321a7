// Command auctioneer is the hosting process for the core Auctioneer:
// flag parsing, wiring, and process lifecycle. Per spec §1, CLI parsing
// and process supervision are explicitly outside the core's scope; this
// is that "other service in the repository." Modeled on the teacher's
// cmd/kcn flag-to-Config wiring, built on the teacher's own CLI library,
// github.com/urfave/cli.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/astriaorg/go-auctioneer/auction"
	"github.com/astriaorg/go-auctioneer/config"
	"github.com/astriaorg/go-auctioneer/driver"
	"github.com/astriaorg/go-auctioneer/log"
	"github.com/astriaorg/go-auctioneer/noncepublisher"
	"github.com/astriaorg/go-auctioneer/rollupchannel"
	"github.com/astriaorg/go-auctioneer/sequencerchannel"
	"github.com/astriaorg/go-auctioneer/signer"
)

var logger = log.NewModuleLogger(log.Driver)

var flags = []cli.Flag{
	cli.StringFlag{Name: "sequencer-grpc-endpoint", Usage: "sequencer gRPC endpoint"},
	cli.StringFlag{Name: "sequencer-abci-endpoint", Usage: "sequencer ABCI RPC endpoint"},
	cli.StringFlag{Name: "rollup-grpc-endpoint", Usage: "rollup gRPC endpoint"},
	cli.StringFlag{Name: "rollup-id", Usage: "hex-encoded rollup id"},
	cli.StringFlag{Name: "signer-key-path", Usage: "path to the ed25519 seed file"},
	cli.StringFlag{Name: "fee-asset", Usage: "fee asset denomination"},
	cli.StringFlag{Name: "sequencer-chain-id", Usage: "sequencer chain id"},
	cli.Uint64Flag{Name: "latency-margin-ms", Usage: "bidding window duration in milliseconds"},
	cli.Uint64Flag{Name: "nonce-fetch-interval-ms", Value: config.DefaultNonceFetchIntervalMS},
	cli.IntFlag{Name: "bid-queue-capacity", Value: config.DefaultBidQueueCapacity},
	cli.Uint64Flag{Name: "shutdown-grace-seconds", Value: config.DefaultShutdownGraceS},
	cli.StringFlag{Name: "log-level", Value: "info"},
}

func main() {
	app := cli.NewApp()
	app.Name = "auctioneer"
	app.Usage = "runs the per-block bundle auction for a single rollup"
	app.Flags = flags
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logger.Crit("auctioneer exited with error", "err", err)
	}
}

func run(c *cli.Context) error {
	if err := log.SetLevel(c.String("log-level")); err != nil {
		return cli.NewExitError("invalid --log-level: "+err.Error(), 1)
	}

	rollupID, err := decodeHex(c.String("rollup-id"))
	if err != nil {
		return cli.NewExitError("invalid --rollup-id: "+err.Error(), 1)
	}

	cfg := config.Config{
		SequencerGRPCEndpoint: c.String("sequencer-grpc-endpoint"),
		SequencerABCIEndpoint: c.String("sequencer-abci-endpoint"),
		RollupGRPCEndpoint:    c.String("rollup-grpc-endpoint"),
		RollupID:              rollupID,
		SignerKeySource:       c.String("signer-key-path"),
		FeeAssetDenomination:  c.String("fee-asset"),
		SequencerChainID:      c.String("sequencer-chain-id"),
		LatencyMarginMS:       c.Uint64("latency-margin-ms"),
		NonceFetchIntervalMS:  c.Uint64("nonce-fetch-interval-ms"),
		BidQueueCapacity:      c.Int("bid-queue-capacity"),
		ShutdownGraceS:        c.Uint64("shutdown-grace-seconds"),
	}
	if err := cfg.Validate(); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go waitForSignal(cancel)

	s, err := signer.New(cfg.SignerKeySource)
	if err != nil {
		return cli.NewExitError("failed to load signer: "+err.Error(), 1)
	}

	seqChannel, err := sequencerchannel.Dial(cfg.SequencerGRPCEndpoint, cfg.SequencerABCIEndpoint, cfg.RollupID)
	if err != nil {
		return cli.NewExitError("failed to dial sequencer: "+err.Error(), 1)
	}
	defer seqChannel.Close()

	rollupChannel, err := rollupchannel.Dial(cfg.RollupGRPCEndpoint)
	if err != nil {
		return cli.NewExitError("failed to dial rollup: "+err.Error(), 1)
	}
	defer rollupChannel.Close()

	noncePub := noncepublisher.New(seqChannel, s.Address(), cfg.NonceFetchInterval())
	noncePub.Start(ctx)
	defer noncePub.Stop()

	params := auction.Params{
		RollupID:             cfg.RollupID,
		FeeAssetDenomination: cfg.FeeAssetDenomination,
		SequencerChainID:     cfg.SequencerChainID,
		LatencyMargin:        cfg.LatencyMargin(),
		BidQueueCapacity:     cfg.BidQueueCapacity,
	}
	mgr := auction.NewManager(params, seqChannel, s, noncePub)

	d := driver.New(seqChannel, rollupChannel, mgr, cfg)
	if err := d.Run(ctx); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	return nil
}

func waitForSignal(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("signal received, beginning shutdown")
	cancel()
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, cli.NewExitError("odd-length hex string", 1)
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, err := hexNibble(s[i*2])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, cli.NewExitError("invalid hex character", 1)
	}
}
