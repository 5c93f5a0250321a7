// Package bundle defines the searcher-submitted Bundle (spec §3) and the
// transformation from a winning Bundle into a signable sequencer
// transaction body.
package bundle

import (
	"bytes"

	"github.com/pkg/errors"
)

// Hash is a 32-byte sequencer or rollup block hash. Used both as
// Bundle.BaseSequencerBlockHash / ParentRollupBlockHash and, aliased, as an
// auction id (spec §3: "AuctionId = block_hash").
type Hash [32]byte

func (h Hash) String() string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, len(h)*2)
	for i, b := range h {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}

// Bundle is a signed searcher submission. Immutable once constructed;
// cheap to copy since it holds no mutable state of its own — callers that
// need "clone and share" semantics just pass the value, which is what the
// Driver and AuctionWorker both do when routing a Bundle by id.
type Bundle struct {
	// Bid is the bundle's offer; the allocation rule picks the bundle
	// with the strictly greatest Bid, first-admitted wins ties.
	Bid uint64
	// BaseSequencerBlockHash is the proposed sequencer block this bundle
	// targets.
	BaseSequencerBlockHash Hash
	// ParentRollupBlockHash is the rollup parent this bundle was built
	// atop; must match the executed block's result for the targeted
	// sequencer block (spec invariant I4).
	ParentRollupBlockHash Hash
	// RollupPayload is the opaque rollup-specific transaction payload.
	RollupPayload []byte
}

// MatchesTarget reports whether the bundle targets the given sequencer
// block and rollup parent, the check enforced by spec invariant I4 when the
// AuctionWorker admits a bid into its allocation rule. Routing by the
// AuctionManager matches only BaseSequencerBlockHash.
func (b Bundle) MatchesTarget(sequencerBlockHash, parentRollupBlockHash Hash) bool {
	return b.BaseSequencerBlockHash == sequencerBlockHash && b.ParentRollupBlockHash == parentRollupBlockHash
}

// Result wraps the winning Bundle together with the Auctioneer's own
// address before it is embedded in a RollupDataSubmission. Per the real
// astria-auctioneer source (auctioneer/inner/auction/mod.rs), the
// sequencer does not preserve the original transaction signer's metadata
// in the RollupData events it records, so the Auctioneer must carry its
// own identity inside the payload it signs, not just in the envelope.
type Result struct {
	Winner           Bundle
	AuctioneerAddress []byte
}

// TransactionParams are the fields every sequencer transaction body needs
// regardless of which bundle won: the nonce to use, the rollup this
// RollupDataSubmission targets, and the fee asset to pay with.
type TransactionParams struct {
	Nonce                uint32
	RollupID             []byte
	FeeAssetDenomination string
	ChainID              string
}

// TransactionBody is the unsigned sequencer transaction constructed from a
// winning auction Result, ready for Signer.Sign. It stands in for the
// generated astria.protocol.transaction.v1.TransactionBody: the precise
// action/params layout of that generated type was not resolvable against
// a real `buf.build` checkout inside this sandbox, so this module defines
// the fields the spec actually names (§3's "into_transaction_body(nonce,
// rollup_id, fee_asset)") rather than guess at generated-code internals it
// cannot verify. See DESIGN.md.
type TransactionBody struct {
	Params  TransactionParams
	Payload []byte // the serialized RollupDataSubmission payload (AuctionResult-wrapped bundle)
}

// IntoTransactionBody builds the unsigned transaction body for this
// Result, per spec §3's Bundle.into_transaction_body contract.
func (r Result) IntoTransactionBody(params TransactionParams) (TransactionBody, error) {
	if len(r.Winner.RollupPayload) == 0 {
		return TransactionBody{}, errors.New("winning bundle has an empty rollup payload")
	}
	payload := encodeAuctionResult(r)
	return TransactionBody{Params: params, Payload: payload}, nil
}

// encodeAuctionResult serializes the AuctionResult envelope (auctioneer
// address + winning bundle payload) into the bytes submitted as a
// RollupDataSubmission. A length-prefixed concatenation stands in for the
// real protobuf encoding of astria's AuctionResult message.
func encodeAuctionResult(r Result) []byte {
	var buf bytes.Buffer
	writeLenPrefixed(&buf, r.AuctioneerAddress)
	writeLenPrefixed(&buf, r.Winner.RollupPayload)
	return buf.Bytes()
}

func writeLenPrefixed(buf *bytes.Buffer, data []byte) {
	var lenBytes [4]byte
	n := len(data)
	lenBytes[0] = byte(n >> 24)
	lenBytes[1] = byte(n >> 16)
	lenBytes[2] = byte(n >> 8)
	lenBytes[3] = byte(n)
	buf.Write(lenBytes[:])
	buf.Write(data)
}
