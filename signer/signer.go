// Package signer wraps a long-lived keypair and signs transaction bodies,
// per spec §2.1: "wraps a long-lived keypair; signs a transaction body
// producing a submittable transaction. Stateless."
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/astriaorg/go-auctioneer/bundle"
)

// Signer holds a private key in memory and signs TransactionBody values.
// It carries no per-call state: every Sign is independent of every other,
// which is what lets it be shared (read-only) across concurrently running
// AuctionWorkers (spec §5, "Shared resources: Signer: shared (read-only)
// across workers").
type Signer struct {
	private ed25519.PrivateKey
	address []byte
}

// SignedTransaction is a TransactionBody plus the signature and public key
// needed for the sequencer to verify it, ready for
// SequencerChannel.SubmitTransaction.
type SignedTransaction struct {
	Body      bundle.TransactionBody
	PublicKey ed25519.PublicKey
	Signature []byte
}

// Address returns the signer's address (derived from its public key),
// embedded as the Auctioneer's identity in every bundle.Result it signs.
func (s *Signer) Address() []byte {
	return s.address
}

// New loads a signer from keySource. The only source implemented today is
// a raw 32-byte ed25519 seed file at a filesystem path; a KMS-backed
// implementation would live behind the same constructor signature.
func New(keySource string) (*Signer, error) {
	f, err := os.Open(keySource)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open signer key source")
	}
	defer f.Close()

	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(f, seed); err != nil {
		return nil, errors.Wrap(err, "failed to read ed25519 seed")
	}
	return fromSeed(seed)
}

// NewEphemeral generates a fresh, random keypair. Used in tests so callers
// don't need a key file on disk to exercise the auction path end-to-end.
func NewEphemeral() (*Signer, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, errors.Wrap(err, "failed to generate ed25519 seed")
	}
	return fromSeed(seed)
}

func fromSeed(seed []byte) (*Signer, error) {
	private := ed25519.NewKeyFromSeed(seed)
	public := private.Public().(ed25519.PublicKey)
	return &Signer{private: private, address: deriveAddress(public)}, nil
}

// deriveAddress is a stand-in for astria's bech32m address derivation
// (truncated hash of the public key); the exact address-encoding scheme is
// out of scope for this repository per spec §1 ("other services in the
// repository" own wallet/address tooling), so the raw 20-byte prefix of
// the public key is used as an address-shaped identifier.
func deriveAddress(public ed25519.PublicKey) []byte {
	addr := make([]byte, 20)
	copy(addr, public)
	return addr
}

// Sign serializes body and produces a submittable SignedTransaction. This
// never fails for an in-memory key (ed25519 signing is infallible given a
// valid key), but returns an error to keep the door open for a KMS-backed
// Signer whose Sign call is a network round-trip.
func (s *Signer) Sign(body bundle.TransactionBody) (SignedTransaction, error) {
	msg := encodeForSigning(body)
	sig := ed25519.Sign(s.private, msg)
	return SignedTransaction{
		Body:      body,
		PublicKey: s.private.Public().(ed25519.PublicKey),
		Signature: sig,
	}, nil
}

func encodeForSigning(body bundle.TransactionBody) []byte {
	buf := make([]byte, 0, len(body.Payload)+len(body.Params.RollupID)+16)
	buf = append(buf, body.Params.RollupID...)
	buf = append(buf, []byte(body.Params.FeeAssetDenomination)...)
	buf = append(buf, []byte(body.Params.ChainID)...)
	var nonceBytes [4]byte
	n := body.Params.Nonce
	nonceBytes[0] = byte(n >> 24)
	nonceBytes[1] = byte(n >> 16)
	nonceBytes[2] = byte(n >> 8)
	nonceBytes[3] = byte(n)
	buf = append(buf, nonceBytes[:]...)
	buf = append(buf, body.Payload...)
	return buf
}
