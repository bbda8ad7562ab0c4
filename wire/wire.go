// Package wire implements the MessagePack codecs used for the encrypted
// ratchet message and the session snapshot.
//
// MessagePack is adopted here the same way go.salty.im/ratchet depends
// on github.com/vmihailenco/msgpack for ratchet-message framing: a
// self-describing, length-delimited encoding with named keys.
package wire

import (
	"github.com/cipherlink/core/coreerr"
	"github.com/vmihailenco/msgpack/v5"
)

// Encode msgpack-encodes v (a message or session-snapshot wire struct; see
// ratchet's encodedMessage and SerializableSession).
func Encode(v any) ([]byte, error) {
	out, err := msgpack.Marshal(v)
	if err != nil {
		return nil, coreerr.New(coreerr.Serialization, "wire.Encode", err)
	}
	return out, nil
}

// Decode msgpack-decodes data into v.
func Decode(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return coreerr.New(coreerr.Serialization, "wire.Decode", err)
	}
	return nil
}
