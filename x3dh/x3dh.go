// Package x3dh implements the handshake that authenticates a peer's
// signed prekey and derives a shared root key seed for a fresh Double
// Ratchet session.
//
// This is a simplified, non-canonical form: a single DH between the
// initiator's identity key and the peer's identity public key, rather
// than the textbook three-DH construction (identity<->SPK, EK<->identity,
// EK<->SPK). Do not treat this as production-grade without a deliberate
// security review.
package x3dh

import (
	"github.com/cipherlink/core/bundle"
	"github.com/cipherlink/core/coreerr"
	"github.com/cipherlink/core/suite"
)

// RootKeySeed is the output of a successful handshake: 32 bytes of key
// material ready to seed a Double Ratchet session via
// ratchet.NewSending/NewReceiving.
type RootKeySeed []byte

const rootKeyInfo = "X3DH Root Key"

// Perform runs the handshake against peer's bundle using the caller's
// identity private key, and returns the derived root key seed.
//
// peer.SuiteID must match s.ID(); callers are expected to have already
// selected s via suite.NewByID(peer.SuiteID) or equivalent — there is no
// suite-negotiation path, so mismatched suites simply fail.
func Perform(s suite.Suite, identityPrivate suite.KEMPrivateKey, peer bundle.Bundle) (RootKeySeed, error) {
	if suite.ID(peer.SuiteID) != s.ID() {
		return nil, coreerr.New(coreerr.SuiteMismatch, "x3dh.Perform", nil)
	}

	if err := s.Verify(
		suite.SignaturePublicKey(peer.VerifyingKey),
		peer.SignedPrekeyPublic,
		suite.Signature(peer.Signature),
	); err != nil {
		return nil, coreerr.New(coreerr.SignatureVerification, "x3dh.Perform", err)
	}

	shared, err := s.KEMDecapsulate(identityPrivate, suite.KEMPublicKey(peer.IdentityPublic))
	if err != nil {
		return nil, coreerr.New(coreerr.InvalidInput, "x3dh.Perform", err)
	}

	rootKey, err := s.HKDFDerive(nil, shared, []byte(rootKeyInfo), 32)
	if err != nil {
		return nil, coreerr.New(coreerr.KeyDerivation, "x3dh.Perform", err)
	}
	return RootKeySeed(rootKey), nil
}
