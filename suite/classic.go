package suite

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/cipherlink/core/coreerr"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// Classic implements Suite using X25519, Ed25519, ChaCha20-Poly1305, and
// HKDF-SHA256.
//
// This generalizes the djb binding in github.com/ericlagergren/dr (djb.go)
// off XChaCha20-Poly1305's 192-bit nonce and onto plain 96-bit-nonce
// ChaCha20-Poly1305, and splits DH-key generation from public-key
// extraction into two calls (GenerateKEM / KEMPublic) rather than a single
// Generate-returns-both-halves KeyPair shape.
type Classic struct{}

var _ Suite = Classic{}

// NewClassic returns the Classic suite implementation.
func NewClassic() Suite { return Classic{} }

func (Classic) ID() ID { return ClassicID }

func (Classic) GenerateKEM(r io.Reader) (KEMPrivateKey, error) {
	var priv [curve25519.ScalarSize]byte
	if _, err := io.ReadFull(r, priv[:]); err != nil {
		return nil, coreerr.New(coreerr.InvalidInput, "suite.GenerateKEM", err)
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	return KEMPrivateKey(priv[:]), nil
}

func (Classic) KEMPublic(priv KEMPrivateKey) (KEMPublicKey, error) {
	if len(priv) != curve25519.ScalarSize {
		return nil, coreerr.New(coreerr.InvalidInput, "suite.KEMPublic", nil)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, coreerr.New(coreerr.InvalidInput, "suite.KEMPublic", err)
	}
	return KEMPublicKey(pub), nil
}

func (c Classic) KEMEncapsulate(pub KEMPublicKey) (KEMPublicKey, []byte, error) {
	if len(pub) != curve25519.PointSize {
		return nil, nil, coreerr.New(coreerr.InvalidInput, "suite.KEMEncapsulate", nil)
	}
	ephPriv, err := c.GenerateKEM(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	ephPub, err := c.KEMPublic(ephPriv)
	if err != nil {
		return nil, nil, err
	}
	shared, err := c.KEMDecapsulate(ephPriv, pub)
	if err != nil {
		return nil, nil, err
	}
	return ephPub, shared, nil
}

func (Classic) KEMDecapsulate(priv KEMPrivateKey, peerPublic KEMPublicKey) ([]byte, error) {
	if len(priv) != curve25519.ScalarSize {
		return nil, coreerr.New(coreerr.InvalidInput, "suite.KEMDecapsulate", nil)
	}
	if len(peerPublic) != curve25519.PointSize {
		return nil, coreerr.New(coreerr.InvalidInput, "suite.KEMDecapsulate", nil)
	}
	shared, err := curve25519.X25519(priv, peerPublic)
	if err != nil {
		return nil, coreerr.New(coreerr.InvalidInput, "suite.KEMDecapsulate", err)
	}
	return shared, nil
}

func (Classic) GenerateSignature(r io.Reader) (SignaturePrivateKey, SignaturePublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, nil, coreerr.New(coreerr.InvalidInput, "suite.GenerateSignature", err)
	}
	return SignaturePrivateKey(priv), SignaturePublicKey(pub), nil
}

func (Classic) Sign(priv SignaturePrivateKey, data []byte) (Signature, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, coreerr.New(coreerr.InvalidInput, "suite.Sign", nil)
	}
	sig := ed25519.Sign(ed25519.PrivateKey(priv), data)
	return Signature(sig), nil
}

func (Classic) Verify(pub SignaturePublicKey, data []byte, sig Signature) error {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return coreerr.New(coreerr.InvalidInput, "suite.Verify", nil)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), data, sig) {
		return coreerr.New(coreerr.SignatureVerification, "suite.Verify", nil)
	}
	return nil
}

func (Classic) AEADEncrypt(key MessageKey, nonce, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, coreerr.New(coreerr.InvalidInput, "suite.AEADEncrypt", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, coreerr.New(coreerr.InvalidInput, "suite.AEADEncrypt", nil)
	}
	return aead.Seal(nil, nonce, plaintext, additionalData), nil
}

func (Classic) AEADDecrypt(key MessageKey, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, coreerr.New(coreerr.InvalidInput, "suite.AEADDecrypt", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, coreerr.New(coreerr.InvalidInput, "suite.AEADDecrypt", nil)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, coreerr.New(coreerr.AeadDecryption, "suite.AEADDecrypt", err)
	}
	return plaintext, nil
}

func (Classic) HKDFDerive(salt, ikm, info []byte, length int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, coreerr.New(coreerr.KeyDerivation, "suite.HKDFDerive", err)
	}
	return out, nil
}

func (c Classic) KDFRootKey(rootKey RootKey, dhOutput []byte) (RootKey, ChainKey, error) {
	out, err := c.HKDFDerive(rootKey, dhOutput, []byte(rootKeyInfo), 64)
	if err != nil {
		return nil, nil, err
	}
	return RootKey(out[:32:32]), ChainKey(out[32:64:64]), nil
}

func (c Classic) KDFChainKey(chainKey ChainKey) (ChainKey, MessageKey, error) {
	out, err := c.HKDFDerive(chainKey, nil, []byte(chainKeyInfo), 64)
	if err != nil {
		return nil, nil, err
	}
	return ChainKey(out[:32:32]), MessageKey(out[32:64:64]), nil
}

func (Classic) Nonce() ([]byte, error) {
	n := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(rand.Reader, n); err != nil {
		return nil, coreerr.New(coreerr.InvalidInput, "suite.Nonce", err)
	}
	return n, nil
}
