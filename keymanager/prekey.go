package keymanager

import (
	"github.com/cipherlink/core/suite"
)

// Prekey is a signed prekey pair plus the metadata needed to prove its
// freshness and find it by id.
type Prekey struct {
	Private   suite.KEMPrivateKey
	Public    suite.KEMPublicKey
	Signature suite.Signature
	CreatedAt int64
	KeyID     uint32
}

func (p Prekey) wipe() { wipeBytes(p.Private) }
