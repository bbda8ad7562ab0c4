// Package keymanager owns a party's long-term identity, its signing key,
// and a rotating signed prekey with bounded history — the collaborator
// that produces the bundle an X3DH initiator consumes.
//
// Grounded on the source's KeyManager<P>/PrekeyStore<P>: one current
// signed prekey, a history map pruned on rotation, and a monotonic
// key_id counter starting at 1.
package keymanager

import (
	"crypto/rand"
	"runtime"

	"github.com/cipherlink/core/bundle"
	"github.com/cipherlink/core/clock"
	"github.com/cipherlink/core/coreerr"
	"github.com/cipherlink/core/suite"
)

// PrekeyRetentionSeconds is the age, counted from a prekey's CreatedAt,
// past which a rotated-out prekey is pruned from history at the next
// rotation; until then it stays available via GetPrekey, for decrypting
// in-flight handshakes that started under it.
const PrekeyRetentionSeconds = 30 * 24 * 3600

// Manager owns one party's identity and signed-prekey material. A Manager
// returned by New is uninitialized: every accessor that returns an error
// fails with Uninitialized until Initialize succeeds. GetPrekey returns no
// error; before Initialize it reports that no prekey was found.
type Manager struct {
	suite suite.Suite
	clock clock.Clock

	identityPrivate suite.KEMPrivateKey
	identityPublic  suite.KEMPublicKey
	signingPrivate  suite.SignaturePrivateKey
	signingPublic   suite.SignaturePublicKey

	current      *Prekey
	history      map[uint32]*Prekey
	nextPrekeyID uint32

	initialized bool
}

// New returns an uninitialized Manager bound to s and clk.
func New(s suite.Suite, clk clock.Clock) *Manager {
	return &Manager{suite: s, clock: clk, history: make(map[uint32]*Prekey), nextPrekeyID: 1}
}

func (m *Manager) requireInitialized(op string) error {
	if !m.initialized {
		return coreerr.New(coreerr.Uninitialized, op, nil)
	}
	return nil
}

// Initialize generates a fresh identity key pair and signing key pair,
// then rotates in the first signed prekey. It is the only path that
// makes a Manager usable, and may only be called once.
func (m *Manager) Initialize() error {
	if m.initialized {
		return coreerr.New(coreerr.InvalidInput, "keymanager.Initialize", nil)
	}

	identityPriv, err := m.suite.GenerateKEM(rand.Reader)
	if err != nil {
		return coreerr.New(coreerr.KeyDerivation, "keymanager.Initialize", err)
	}
	identityPub, err := m.suite.KEMPublic(identityPriv)
	if err != nil {
		return coreerr.New(coreerr.KeyDerivation, "keymanager.Initialize", err)
	}
	signingPriv, signingPub, err := m.suite.GenerateSignature(rand.Reader)
	if err != nil {
		return coreerr.New(coreerr.KeyDerivation, "keymanager.Initialize", err)
	}

	m.identityPrivate = identityPriv
	m.identityPublic = identityPub
	m.signingPrivate = signingPriv
	m.signingPublic = signingPub
	m.initialized = true

	return m.RotateSignedPrekey()
}

// RotateSignedPrekey generates a new signed prekey, signs its public
// half under the signing key, moves the previous current prekey into
// history, and prunes history entries older than PrekeyRetentionSeconds.
func (m *Manager) RotateSignedPrekey() error {
	if err := m.requireInitialized("keymanager.RotateSignedPrekey"); err != nil {
		return err
	}

	priv, err := m.suite.GenerateKEM(rand.Reader)
	if err != nil {
		return coreerr.New(coreerr.KeyDerivation, "keymanager.RotateSignedPrekey", err)
	}
	pub, err := m.suite.KEMPublic(priv)
	if err != nil {
		return coreerr.New(coreerr.KeyDerivation, "keymanager.RotateSignedPrekey", err)
	}
	sig, err := m.suite.Sign(m.signingPrivate, pub)
	if err != nil {
		return coreerr.New(coreerr.KeyDerivation, "keymanager.RotateSignedPrekey", err)
	}

	next := &Prekey{
		Private:   priv,
		Public:    pub,
		Signature: sig,
		CreatedAt: m.clock.Now(),
		KeyID:     m.nextPrekeyID,
	}
	m.nextPrekeyID++

	if m.current != nil {
		m.history[m.current.KeyID] = m.current
	}
	m.current = next

	m.pruneHistory()
	return nil
}

func (m *Manager) pruneHistory() {
	now := m.clock.Now()
	for id, p := range m.history {
		if now-p.CreatedAt > PrekeyRetentionSeconds {
			p.wipe()
			delete(m.history, id)
		}
	}
}

// GetPrekey returns the prekey with the given id: the current prekey if
// it matches, else a history lookup, else ok is false.
func (m *Manager) GetPrekey(keyID uint32) (Prekey, bool) {
	if m.current != nil && m.current.KeyID == keyID {
		return *m.current, true
	}
	if p, ok := m.history[keyID]; ok {
		return *p, true
	}
	return Prekey{}, false
}

// IdentityPrivate returns the long-term identity private key, for
// passing into x3dh.Perform or ratchet.NewSending/NewReceiving.
func (m *Manager) IdentityPrivate() (suite.KEMPrivateKey, error) {
	if err := m.requireInitialized("keymanager.IdentityPrivate"); err != nil {
		return nil, err
	}
	return m.identityPrivate, nil
}

// Sign signs data under the signing key.
func (m *Manager) Sign(data []byte) (suite.Signature, error) {
	if err := m.requireInitialized("keymanager.Sign"); err != nil {
		return nil, err
	}
	return m.suite.Sign(m.signingPrivate, data)
}

func (m *Manager) exportBundle(op string) (bundle.Bundle, error) {
	if err := m.requireInitialized(op); err != nil {
		return bundle.Bundle{}, err
	}
	if m.current == nil {
		return bundle.Bundle{}, coreerr.New(coreerr.Uninitialized, op, nil)
	}
	return bundle.Bundle{
		IdentityPublic:     m.identityPublic,
		SignedPrekeyPublic: m.current.Public,
		Signature:          m.current.Signature,
		VerifyingKey:       m.signingPublic,
		SuiteID:            uint16(m.suite.ID()),
	}, nil
}

// ExportRegistrationBundle returns the current-prekey view of this
// identity suitable for first-time registration with a directory.
func (m *Manager) ExportRegistrationBundle() (bundle.Bundle, error) {
	return m.exportBundle("keymanager.ExportRegistrationBundle")
}

// ExportPublicBundle returns the current-prekey public bundle handed to
// a peer initiating a handshake. Identical shape to the registration
// bundle; kept as a separate method because callers reach for the two
// at different points in a session's lifecycle.
func (m *Manager) ExportPublicBundle() (bundle.Bundle, error) {
	return m.exportBundle("keymanager.ExportPublicBundle")
}

//go:noinline
func wipeBytes(p []byte) {
	for i := range p {
		p[i] = 0
	}
	runtime.KeepAlive(p)
}
