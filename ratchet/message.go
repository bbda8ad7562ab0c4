package ratchet

import (
	"github.com/cipherlink/core/coreerr"
	"github.com/cipherlink/core/suite"
	"github.com/cipherlink/core/wire"
)

// Message is the on-the-wire atom a session's Encrypt produces and Decrypt
// consumes.
type Message struct {
	DHPublicKey          suite.KEMPublicKey
	PreviousChainLength  uint32
	MessageNumber        uint32
	Ciphertext           []byte
	Nonce                []byte
	SuiteID              suite.ID
}

// encodedMessage is the msgpack wire shape: named keys, byte-string key
// material, integer suite id.
type encodedMessage struct {
	DHPublicKey         []byte `msgpack:"dh_public_key"`
	PreviousChainLength uint32 `msgpack:"previous_chain_length"`
	MessageNumber       uint32 `msgpack:"message_number"`
	Ciphertext          []byte `msgpack:"ciphertext"`
	Nonce               []byte `msgpack:"nonce"`
	SuiteID             uint16 `msgpack:"suite_id"`
}

// Encode msgpack-encodes m.
func (m Message) Encode() ([]byte, error) {
	return wire.Encode(encodedMessage{
		DHPublicKey:         m.DHPublicKey,
		PreviousChainLength: m.PreviousChainLength,
		MessageNumber:       m.MessageNumber,
		Ciphertext:          m.Ciphertext,
		Nonce:               m.Nonce,
		SuiteID:             uint16(m.SuiteID),
	})
}

// DecodeMessage msgpack-decodes data into a Message. A suite id that
// suite.NewByID does not accept is rejected before any other field is
// checked; matching the id against a particular session is left to
// Session.Decrypt.
func DecodeMessage(data []byte) (Message, error) {
	var e encodedMessage
	if err := wire.Decode(data, &e); err != nil {
		return Message{}, err
	}
	if _, err := suite.NewByID(suite.ID(e.SuiteID)); err != nil {
		return Message{}, err
	}
	if len(e.DHPublicKey) == 0 || len(e.Nonce) == 0 {
		return Message{}, coreerr.New(coreerr.InvalidInput, "ratchet.DecodeMessage", nil)
	}
	return Message{
		DHPublicKey:         suite.KEMPublicKey(e.DHPublicKey),
		PreviousChainLength: e.PreviousChainLength,
		MessageNumber:       e.MessageNumber,
		Ciphertext:          e.Ciphertext,
		Nonce:               e.Nonce,
		SuiteID:             suite.ID(e.SuiteID),
	}, nil
}
