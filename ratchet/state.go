package ratchet

import (
	"runtime"

	"github.com/cipherlink/core/suite"
)

// skippedKeyID identifies one derived-but-not-yet-consumed message key.
// epoch is the remote ratchet public key active on the chain the message
// belongs to, not a synthetic counter: distinct DH-ratchet steps produce
// distinct public keys, so the pair disambiguates a message number across
// ratchet steps the same way a (chain, index) pair would.
type skippedKeyID struct {
	epoch string
	n     uint32
}

// State is one party's mutable Double Ratchet session state. A session
// built by NewSending starts with only its sending chain; its receiving
// chain is filled in lazily by the first DH-ratchet step triggered on
// receipt. NewReceiving fills in both chains.
type State struct {
	suiteID suite.ID

	dhPrivate    suite.KEMPrivateKey
	dhPublic     suite.KEMPublicKey
	remotePublic suite.KEMPublicKey

	rootKey suite.RootKey
	sendCK  suite.ChainKey
	recvCK  suite.ChainKey

	sendN     uint32
	recvN     uint32
	prevSendN uint32

	skipped   map[skippedKeyID]suite.MessageKey
	skippedAt map[skippedKeyID]int64
}

// clone deep-copies s so a failed decrypt never mutates the committed
// session state.
func (s *State) clone() *State {
	c := &State{
		suiteID:      s.suiteID,
		dhPrivate:    append(suite.KEMPrivateKey(nil), s.dhPrivate...),
		dhPublic:     append(suite.KEMPublicKey(nil), s.dhPublic...),
		remotePublic: append(suite.KEMPublicKey(nil), s.remotePublic...),
		rootKey:      append(suite.RootKey(nil), s.rootKey...),
		sendCK:       append(suite.ChainKey(nil), s.sendCK...),
		recvCK:       append(suite.ChainKey(nil), s.recvCK...),
		sendN:        s.sendN,
		recvN:        s.recvN,
		prevSendN:    s.prevSendN,
		skipped:      make(map[skippedKeyID]suite.MessageKey, len(s.skipped)),
		skippedAt:    make(map[skippedKeyID]int64, len(s.skippedAt)),
	}
	for k, v := range s.skipped {
		c.skipped[k] = append(suite.MessageKey(nil), v...)
	}
	for k, v := range s.skippedAt {
		c.skippedAt[k] = v
	}
	return c
}

// wipe zeroizes every secret field. Called on the losing side of a
// clone-then-commit decrypt and when a session is discarded.
func (s *State) wipe() {
	wipeBytes(s.dhPrivate)
	wipeBytes(s.rootKey)
	wipeBytes(s.sendCK)
	wipeBytes(s.recvCK)
	for _, k := range s.skipped {
		wipeBytes(k)
	}
}

//go:noinline
func wipeBytes(p []byte) {
	for i := range p {
		p[i] = 0
	}
	runtime.KeepAlive(p)
}
