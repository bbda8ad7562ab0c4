// Package suite abstracts the cryptographic capability bundle a session
// needs: KEM keygen/encapsulation, signatures, AEAD, and the two Double
// Ratchet KDFs, all behind one interface so a classic
// (X25519/Ed25519/ChaCha20-Poly1305/HKDF-SHA256) and, eventually, a
// post-quantum hybrid implementation are pluggable without touching x3dh
// or ratchet.
//
// This generalizes github.com/ericlagergren/dr's Ratchet interface:
// Generate/DH/KDFrk/KDFck/Seal/Open become
// GenerateKEM/KEMDecapsulate/KDFRootKey/KDFChainKey/AEADEncrypt/AEADDecrypt,
// plus a Signature capability for verifying a peer's signed prekey during
// the handshake, which a ratchet-only interface never needed.
package suite

import (
	"io"

	"github.com/cipherlink/core/coreerr"
)

// ID identifies a concrete cryptographic suite. It travels with every
// bundle and message so a receiver can refuse a mismatched peer.
type ID uint16

const (
	// ClassicID is the X25519 + Ed25519 + ChaCha20-Poly1305 + HKDF-SHA256 suite id.
	ClassicID ID = 1
	// PQHybridID is reserved for a future post-quantum hybrid suite.
	PQHybridID ID = 2
)

// KEMPublicKey is an opaque KEM (or classic DH) public key.
type KEMPublicKey []byte

// KEMPrivateKey is an opaque KEM (or classic DH) private key.
type KEMPrivateKey []byte

// SignaturePublicKey is an opaque signature verification key.
type SignaturePublicKey []byte

// SignaturePrivateKey is an opaque signature signing key.
type SignaturePrivateKey []byte

// Signature is an opaque signature value.
type Signature []byte

// RootKey is the current root-chain key. Always 32 bytes for Classic.
type RootKey []byte

// ChainKey is an ephemeral symmetric ratchet key. Always 32 bytes for Classic.
type ChainKey []byte

// MessageKey is a single-use message encryption key. Always 32 bytes for Classic.
type MessageKey []byte

// Suite bundles every cryptographic capability a Double Ratchet session
// and the X3DH handshake need. Implementations must be safe for
// concurrent use by multiple goroutines.
type Suite interface {
	// ID returns this suite's wire identifier.
	ID() ID

	// GenerateKEM creates a new KEM (or classic DH) private key, reading
	// entropy from r.
	GenerateKEM(r io.Reader) (KEMPrivateKey, error)
	// KEMPublic returns the public half of priv.
	KEMPublic(priv KEMPrivateKey) (KEMPublicKey, error)
	// KEMEncapsulate generates a fresh ephemeral key pair, returns its
	// public half as the encapsulation "ciphertext", and the shared
	// secret derived against pub.
	KEMEncapsulate(pub KEMPublicKey) (ciphertext KEMPublicKey, shared []byte, err error)
	// KEMDecapsulate derives the shared secret from priv and a peer
	// public key (or, for the classic suite, any encapsulation
	// ciphertext, which is itself a public key).
	KEMDecapsulate(priv KEMPrivateKey, peerPublic KEMPublicKey) ([]byte, error)

	// GenerateSignature creates a new signing key pair.
	GenerateSignature(r io.Reader) (SignaturePrivateKey, SignaturePublicKey, error)
	// Sign signs data under priv.
	Sign(priv SignaturePrivateKey, data []byte) (Signature, error)
	// Verify verifies sig over data under pub.
	Verify(pub SignaturePublicKey, data []byte, sig Signature) error

	// AEADEncrypt encrypts and authenticates plaintext, authenticating
	// additionalData, under key and nonce.
	AEADEncrypt(key MessageKey, nonce, plaintext, additionalData []byte) ([]byte, error)
	// AEADDecrypt decrypts and authenticates ciphertext.
	AEADDecrypt(key MessageKey, nonce, ciphertext, additionalData []byte) ([]byte, error)

	// HKDFDerive runs HKDF (extract with salt and ikm, then expand with
	// info to length bytes); for Classic this is HKDF-SHA256.
	HKDFDerive(salt, ikm, info []byte, length int) ([]byte, error)
	// KDFRootKey applies the root-chain KDF: salt = rootKey, ikm =
	// dhOutput, info = "Double-Ratchet-Root-Key-Expansion", split 32/32.
	KDFRootKey(rootKey RootKey, dhOutput []byte) (RootKey, ChainKey, error)
	// KDFChainKey applies the symmetric-chain KDF: salt = chainKey, ikm
	// empty, info = "Double-Ratchet-Chain-Key-Expansion", split 32/32.
	KDFChainKey(chainKey ChainKey) (ChainKey, MessageKey, error)

	// Nonce returns fresh, random AEAD nonce bytes of the suite's width
	// (96 bits / 12 bytes for Classic).
	Nonce() ([]byte, error)
}

// KDF info strings are part of the wire contract and must never change
// between implementations claiming the same suite id.
const (
	rootKeyInfo  = "Double-Ratchet-Root-Key-Expansion"
	chainKeyInfo = "Double-Ratchet-Chain-Key-Expansion"
)

// NewByID returns the Suite implementation for id. There is no suite
// negotiation: peers either share a suite id or the handshake fails, so
// this is the one place a mismatched or unimplemented id is turned into
// an error rather than silently defaulting to Classic.
func NewByID(id ID) (Suite, error) {
	switch id {
	case ClassicID:
		return NewClassic(), nil
	case PQHybridID:
		return nil, coreerr.New(coreerr.NotImplemented, "suite.NewByID", nil)
	default:
		return nil, coreerr.New(coreerr.SuiteMismatch, "suite.NewByID", nil)
	}
}
