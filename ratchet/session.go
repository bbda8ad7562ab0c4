// Package ratchet implements the Double Ratchet session: the symmetric
// chain-key ratchet layered under a Diffie-Hellman ratchet, generalized
// off github.com/ericlagergren/dr's Session/State/Store so it runs over
// the suite.Suite capability interface instead of a single hard-coded
// binding, and keys its skipped-message table by a (ratchet epoch,
// message number) pair instead of a bare message counter.
package ratchet

import (
	"crypto/rand"
	"crypto/subtle"

	"github.com/google/uuid"

	"github.com/cipherlink/core/clock"
	"github.com/cipherlink/core/coreerr"
	"github.com/cipherlink/core/suite"
	"github.com/cipherlink/core/x3dh"
)

// MaxSkippedMessages bounds the skipped-message-key table. Exceeding it
// aborts the current decrypt rather than growing the table without limit.
const MaxSkippedMessages = 1000

// MaxSkippedMessageAgeSeconds is the eligibility horizon for opportunistic
// skipped-key eviction.
const MaxSkippedMessageAgeSeconds = 7 * 24 * 3600

const initialRootKeyInfo = "InitialRootKey"

// Session is one party's view of an asynchronous Double Ratchet
// conversation with a single contact.
type Session struct {
	suite     suite.Suite
	clock     clock.Clock
	state     *State
	sessionID string
	contactID string
}

func deriveInitialRootKey(s suite.Suite, seed x3dh.RootKeySeed) (suite.RootKey, error) {
	out, err := s.HKDFDerive(nil, seed, []byte(initialRootKeyInfo), 32)
	if err != nil {
		return nil, coreerr.New(coreerr.KeyDerivation, "ratchet.deriveInitialRootKey", err)
	}
	return suite.RootKey(out), nil
}

func newSkipTables() (map[skippedKeyID]suite.MessageKey, map[skippedKeyID]int64) {
	return make(map[skippedKeyID]suite.MessageKey), make(map[skippedKeyID]int64)
}

// NewSending builds a session for the party that performed the X3DH
// handshake and is about to send the first message. Step 3 derives the
// initial sending chain from DH(own freshly generated ratchet private
// key, peer's identity public key) — the same quantity the responder
// derives in NewReceiving as DH(own identity private key, peer's
// announced ratchet public key), since X25519 DH is commutative in the
// two keys it's given regardless of which side calls itself "private".
func NewSending(s suite.Suite, clk clock.Clock, seed x3dh.RootKeySeed, ownIdentityPrivate suite.KEMPrivateKey, peerIdentityPublic suite.KEMPublicKey, contactID string) (*Session, error) {
	rootKey0, err := deriveInitialRootKey(s, seed)
	if err != nil {
		return nil, err
	}

	dhPriv, err := s.GenerateKEM(rand.Reader)
	if err != nil {
		return nil, coreerr.New(coreerr.KeyDerivation, "ratchet.NewSending", err)
	}
	dhPub, err := s.KEMPublic(dhPriv)
	if err != nil {
		return nil, coreerr.New(coreerr.KeyDerivation, "ratchet.NewSending", err)
	}
	dhOut, err := s.KEMDecapsulate(dhPriv, peerIdentityPublic)
	if err != nil {
		return nil, coreerr.New(coreerr.KeyDerivation, "ratchet.NewSending", err)
	}
	rootKey, sendCK, err := s.KDFRootKey(rootKey0, dhOut)
	if err != nil {
		return nil, err
	}

	skipped, skippedAt := newSkipTables()
	state := &State{
		suiteID:      s.ID(),
		dhPrivate:    dhPriv,
		dhPublic:     dhPub,
		remotePublic: peerIdentityPublic,
		rootKey:      rootKey,
		sendCK:       sendCK,
		skipped:      skipped,
		skippedAt:    skippedAt,
	}
	return &Session{suite: s, clock: clk, state: state, sessionID: uuid.NewString(), contactID: contactID}, nil
}

// NewReceiving builds a session from the first message a peer sent, per
// the responder construction: derive the receiving chain off the
// sender's announced ratchet public key, then generate this party's own
// ratchet key pair and derive the sending chain off it.
func NewReceiving(s suite.Suite, clk clock.Clock, seed x3dh.RootKeySeed, ownIdentityPrivate suite.KEMPrivateKey, first Message, contactID string) (*Session, error) {
	if first.SuiteID != s.ID() {
		return nil, coreerr.New(coreerr.SuiteMismatch, "ratchet.NewReceiving", nil)
	}

	rootKey0, err := deriveInitialRootKey(s, seed)
	if err != nil {
		return nil, err
	}

	remotePublic := first.DHPublicKey
	dhOut1, err := s.KEMDecapsulate(ownIdentityPrivate, remotePublic)
	if err != nil {
		return nil, coreerr.New(coreerr.KeyDerivation, "ratchet.NewReceiving", err)
	}
	rootKey1, recvCK, err := s.KDFRootKey(rootKey0, dhOut1)
	if err != nil {
		return nil, err
	}

	dhPriv, err := s.GenerateKEM(rand.Reader)
	if err != nil {
		return nil, coreerr.New(coreerr.KeyDerivation, "ratchet.NewReceiving", err)
	}
	dhPub, err := s.KEMPublic(dhPriv)
	if err != nil {
		return nil, coreerr.New(coreerr.KeyDerivation, "ratchet.NewReceiving", err)
	}
	dhOut2, err := s.KEMDecapsulate(dhPriv, remotePublic)
	if err != nil {
		return nil, coreerr.New(coreerr.KeyDerivation, "ratchet.NewReceiving", err)
	}
	rootKey2, sendCK, err := s.KDFRootKey(rootKey1, dhOut2)
	if err != nil {
		return nil, err
	}

	skipped, skippedAt := newSkipTables()
	state := &State{
		suiteID:      s.ID(),
		dhPrivate:    dhPriv,
		dhPublic:     dhPub,
		remotePublic: remotePublic,
		rootKey:      rootKey2,
		sendCK:       sendCK,
		recvCK:       recvCK,
		skipped:      skipped,
		skippedAt:    skippedAt,
	}
	return &Session{suite: s, clock: clk, state: state, sessionID: uuid.NewString(), contactID: contactID}, nil
}

// SessionID returns the session's fresh v4 UUID, assigned at construction.
func (s *Session) SessionID() string { return s.sessionID }

// ContactID returns the opaque contact identifier this session was built for.
func (s *Session) ContactID() string { return s.contactID }

func epochKey(pub suite.KEMPublicKey) string { return string(pub) }

// Encrypt advances the sending chain by one step and returns the
// resulting wire message.
func (s *Session) Encrypt(plaintext []byte) (Message, error) {
	ck, mk, err := s.suite.KDFChainKey(s.state.sendCK)
	if err != nil {
		return Message{}, err
	}
	nonce, err := s.suite.Nonce()
	if err != nil {
		return Message{}, err
	}
	ciphertext, err := s.suite.AEADEncrypt(mk, nonce, plaintext, nil)
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		DHPublicKey:         s.state.dhPublic,
		PreviousChainLength: s.state.prevSendN,
		MessageNumber:       s.state.sendN,
		Ciphertext:          ciphertext,
		Nonce:               nonce,
		SuiteID:             s.state.suiteID,
	}

	wipeBytes(s.state.sendCK)
	s.state.sendCK = ck
	s.state.sendN++
	wipeBytes(mk)
	return msg, nil
}

// Decrypt authenticates and decrypts msg against the session's receiving
// chain, performing a DH-ratchet step first if msg announces a new
// remote ratchet public key. Skipped keys older than
// MaxSkippedMessageAgeSeconds are evicted first, whatever the outcome;
// apart from that, state is mutated only after the candidate message
// key's AEAD tag verifies, and any failure leaves the session as it was.
func (s *Session) Decrypt(msg Message) ([]byte, error) {
	if msg.SuiteID != s.state.suiteID {
		return nil, coreerr.New(coreerr.SuiteMismatch, "ratchet.Decrypt", nil)
	}

	s.pruneExpiredSkipped()

	epoch := epochKey(msg.DHPublicKey)
	if s.state.remotePublic != nil && subtle.ConstantTimeCompare(msg.DHPublicKey, s.state.remotePublic) == 1 {
		epoch = epochKey(s.state.remotePublic)
	}
	id := skippedKeyID{epoch: epoch, n: msg.MessageNumber}
	if mk, ok := s.state.skipped[id]; ok {
		plaintext, err := s.suite.AEADDecrypt(mk, msg.Nonce, msg.Ciphertext, nil)
		if err != nil {
			return nil, coreerr.New(coreerr.AeadDecryption, "ratchet.Decrypt", err)
		}
		delete(s.state.skipped, id)
		delete(s.state.skippedAt, id)
		wipeBytes(mk)
		return plaintext, nil
	}

	tmp := s.state.clone()
	isNewEpoch := tmp.remotePublic == nil || subtle.ConstantTimeCompare(msg.DHPublicKey, tmp.remotePublic) != 1
	if isNewEpoch {
		oldEpoch := ""
		if tmp.remotePublic != nil {
			oldEpoch = epochKey(tmp.remotePublic)
		}
		if err := tmp.skipToPrevious(s.suite, s.clock, oldEpoch, msg.PreviousChainLength); err != nil {
			return nil, err
		}
		if err := s.dhRatchet(tmp, msg.DHPublicKey); err != nil {
			return nil, err
		}
	}

	newEpoch := epochKey(tmp.remotePublic)
	for tmp.recvN <= msg.MessageNumber {
		ck, mk, err := s.suite.KDFChainKey(tmp.recvCK)
		if err != nil {
			return nil, err
		}
		tmp.recvCK = ck

		if tmp.recvN == msg.MessageNumber {
			plaintext, err := s.suite.AEADDecrypt(mk, msg.Nonce, msg.Ciphertext, nil)
			if err != nil {
				return nil, coreerr.New(coreerr.AeadDecryption, "ratchet.Decrypt", err)
			}
			tmp.recvN++
			s.state.wipe()
			s.state = tmp
			wipeBytes(mk)
			return plaintext, nil
		}

		skipID := skippedKeyID{epoch: newEpoch, n: tmp.recvN}
		tmp.skipped[skipID] = mk
		tmp.skippedAt[skipID] = s.clock.Now()
		tmp.recvN++
		if len(tmp.skipped) > MaxSkippedMessages {
			return nil, coreerr.New(coreerr.TooManySkipped, "ratchet.Decrypt", nil)
		}
	}

	return nil, coreerr.New(coreerr.MessageKeyNotFound, "ratchet.Decrypt", nil)
}

// dhRatchet performs one DH-ratchet step on tmp against newRemotePublic.
// The replaced ratchet private key is zeroized.
func (s *Session) dhRatchet(tmp *State, newRemotePublic suite.KEMPublicKey) error {
	tmp.prevSendN = tmp.sendN

	dhRecv, err := s.suite.KEMDecapsulate(tmp.dhPrivate, newRemotePublic)
	if err != nil {
		return coreerr.New(coreerr.KeyDerivation, "ratchet.dhRatchet", err)
	}
	newRoot, recvCK, err := s.suite.KDFRootKey(tmp.rootKey, dhRecv)
	if err != nil {
		return err
	}
	tmp.recvN = 0

	newDHPriv, err := s.suite.GenerateKEM(rand.Reader)
	if err != nil {
		return coreerr.New(coreerr.KeyDerivation, "ratchet.dhRatchet", err)
	}
	newDHPub, err := s.suite.KEMPublic(newDHPriv)
	if err != nil {
		return coreerr.New(coreerr.KeyDerivation, "ratchet.dhRatchet", err)
	}
	dhSend, err := s.suite.KEMDecapsulate(newDHPriv, newRemotePublic)
	if err != nil {
		return coreerr.New(coreerr.KeyDerivation, "ratchet.dhRatchet", err)
	}
	newRoot2, sendCK, err := s.suite.KDFRootKey(newRoot, dhSend)
	if err != nil {
		return err
	}
	tmp.sendN = 0

	wipeBytes(tmp.dhPrivate)
	wipeBytes(tmp.rootKey)
	tmp.dhPrivate = newDHPriv
	tmp.dhPublic = newDHPub
	tmp.remotePublic = append(suite.KEMPublicKey(nil), newRemotePublic...)
	tmp.rootKey = newRoot2
	tmp.recvCK = recvCK
	tmp.sendCK = sendCK
	return nil
}

// skipToPrevious advances the receiving chain up to (but not including)
// until, storing a skipped key for every message number in between under
// epoch. Called just before a DH-ratchet step to account for messages
// from the outgoing chain that never arrived.
func (s *State) skipToPrevious(sv suite.Suite, clk clock.Clock, epoch string, until uint32) error {
	if s.recvCK == nil {
		return nil
	}
	for s.recvN < until {
		ck, mk, err := sv.KDFChainKey(s.recvCK)
		if err != nil {
			return err
		}
		s.recvCK = ck
		id := skippedKeyID{epoch: epoch, n: s.recvN}
		s.skipped[id] = mk
		s.skippedAt[id] = clk.Now()
		s.recvN++
		if len(s.skipped) > MaxSkippedMessages {
			return coreerr.New(coreerr.TooManySkipped, "ratchet.skipToPrevious", nil)
		}
	}
	return nil
}

// pruneExpiredSkipped opportunistically evicts skipped keys older than
// MaxSkippedMessageAgeSeconds.
func (s *Session) pruneExpiredSkipped() {
	now := s.clock.Now()
	for id, at := range s.state.skippedAt {
		if now-at > MaxSkippedMessageAgeSeconds {
			if mk, ok := s.state.skipped[id]; ok {
				wipeBytes(mk)
			}
			delete(s.state.skipped, id)
			delete(s.state.skippedAt, id)
		}
	}
}

// Close zeroizes the session's secret state. The session must not be used
// afterward.
func (s *Session) Close() { s.state.wipe() }
