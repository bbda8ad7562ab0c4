package ratchet

import (
	"github.com/cipherlink/core/clock"
	"github.com/cipherlink/core/coreerr"
	"github.com/cipherlink/core/suite"
	"github.com/cipherlink/core/wire"
)

// skippedEntry flattens one skippedKeyID -> key/timestamp pair for
// transport; msgpack has no notion of a struct-valued map key.
type skippedEntry struct {
	Epoch     []byte `msgpack:"epoch"`
	N         uint32 `msgpack:"n"`
	Key       []byte `msgpack:"key"`
	Timestamp int64  `msgpack:"timestamp"`
}

// SerializableSession is the opaque, suite-stable snapshot format named
// by the session-state table: every key field as a byte string plus the
// suite id, flattened so it round-trips through msgpack unchanged.
type SerializableSession struct {
	SuiteID               uint16         `msgpack:"suite_id"`
	RootKey               []byte         `msgpack:"root_key"`
	SendingChainKey       []byte         `msgpack:"sending_chain_key"`
	SendingChainLength    uint32         `msgpack:"sending_chain_length"`
	ReceivingChainKey     []byte         `msgpack:"receiving_chain_key"`
	ReceivingChainLength  uint32         `msgpack:"receiving_chain_length"`
	DHRatchetPrivate      []byte         `msgpack:"dh_ratchet_private"`
	DHRatchetPublic       []byte         `msgpack:"dh_ratchet_public"`
	RemoteDHPublic        []byte         `msgpack:"remote_dh_public"`
	PreviousSendingLength uint32         `msgpack:"previous_sending_length"`
	SkippedMessageKeys    []skippedEntry `msgpack:"skipped_message_keys"`
	SessionID             string         `msgpack:"session_id"`
	ContactID             string         `msgpack:"contact_id"`
}

// ToSerializable snapshots s into its wire-stable form.
func (s *Session) ToSerializable() SerializableSession {
	entries := make([]skippedEntry, 0, len(s.state.skipped))
	for id, key := range s.state.skipped {
		entries = append(entries, skippedEntry{
			Epoch:     []byte(id.epoch),
			N:         id.n,
			Key:       append([]byte(nil), key...),
			Timestamp: s.state.skippedAt[id],
		})
	}
	return SerializableSession{
		SuiteID:               uint16(s.state.suiteID),
		RootKey:               append([]byte(nil), s.state.rootKey...),
		SendingChainKey:       append([]byte(nil), s.state.sendCK...),
		SendingChainLength:    s.state.sendN,
		ReceivingChainKey:     append([]byte(nil), s.state.recvCK...),
		ReceivingChainLength:  s.state.recvN,
		DHRatchetPrivate:      append([]byte(nil), s.state.dhPrivate...),
		DHRatchetPublic:       append([]byte(nil), s.state.dhPublic...),
		RemoteDHPublic:        append([]byte(nil), s.state.remotePublic...),
		PreviousSendingLength: s.state.prevSendN,
		SkippedMessageKeys:    entries,
		SessionID:             s.sessionID,
		ContactID:             s.contactID,
	}
}

// FromSerializable restores a session from a snapshot produced by
// ToSerializable, bound to suite implementation sv and clock clk.
func FromSerializable(sv suite.Suite, clk clock.Clock, snap SerializableSession) (*Session, error) {
	if suite.ID(snap.SuiteID) != sv.ID() {
		return nil, coreerr.New(coreerr.SuiteMismatch, "ratchet.FromSerializable", nil)
	}

	skipped, skippedAt := newSkipTables()
	for _, e := range snap.SkippedMessageKeys {
		id := skippedKeyID{epoch: string(e.Epoch), n: e.N}
		skipped[id] = suite.MessageKey(e.Key)
		skippedAt[id] = e.Timestamp
	}

	state := &State{
		suiteID:      sv.ID(),
		dhPrivate:    suite.KEMPrivateKey(snap.DHRatchetPrivate),
		dhPublic:     suite.KEMPublicKey(snap.DHRatchetPublic),
		remotePublic: suite.KEMPublicKey(snap.RemoteDHPublic),
		rootKey:      suite.RootKey(snap.RootKey),
		sendCK:       suite.ChainKey(snap.SendingChainKey),
		recvCK:       suite.ChainKey(snap.ReceivingChainKey),
		sendN:        snap.SendingChainLength,
		recvN:        snap.ReceivingChainLength,
		prevSendN:    snap.PreviousSendingLength,
		skipped:      skipped,
		skippedAt:    skippedAt,
	}
	return &Session{suite: sv, clock: clk, state: state, sessionID: snap.SessionID, contactID: snap.ContactID}, nil
}

// Encode snapshots and msgpack-encodes s in one step.
func (s *Session) Encode() ([]byte, error) {
	return wire.Encode(s.ToSerializable())
}

// DecodeSession msgpack-decodes data and restores a session from it.
func DecodeSession(sv suite.Suite, clk clock.Clock, data []byte) (*Session, error) {
	var snap SerializableSession
	if err := wire.Decode(data, &snap); err != nil {
		return nil, err
	}
	return FromSerializable(sv, clk, snap)
}
