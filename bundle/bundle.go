// Package bundle implements the JSON peer-bundle wire format used to
// bootstrap a session across a transport: a Registration Bundle or
// Public Key Bundle, base64-encoded field by field.
package bundle

import (
	"encoding/base64"
	"encoding/json"
	"strconv"

	"github.com/cipherlink/core/coreerr"
)

// Bundle is the Registration Bundle / Public Key Bundle tuple:
// possession of a valid Bundle is sufficient to begin a session. The
// same Go type serves both the registration and public-only views;
// keymanager.Manager's ExportRegistrationBundle and ExportPublicBundle
// both produce one of these.
type Bundle struct {
	IdentityPublic     []byte `json:"-"`
	SignedPrekeyPublic []byte `json:"-"`
	Signature          []byte `json:"-"`
	VerifyingKey       []byte `json:"-"`
	SuiteID            uint16 `json:"-"`
}

// wireBundle is the literal JSON shape on the wire: base64 fields and a
// decimal-string suite id.
type wireBundle struct {
	IdentityPublic     string `json:"identity_public"`
	SignedPrekeyPublic string `json:"signed_prekey_public"`
	Signature          string `json:"signature"`
	VerifyingKey       string `json:"verifying_key"`
	SuiteID            string `json:"suite_id"`
}

// Encode serializes b to its JSON wire form.
func Encode(b Bundle) ([]byte, error) {
	w := wireBundle{
		IdentityPublic:     base64.StdEncoding.EncodeToString(b.IdentityPublic),
		SignedPrekeyPublic: base64.StdEncoding.EncodeToString(b.SignedPrekeyPublic),
		Signature:          base64.StdEncoding.EncodeToString(b.Signature),
		VerifyingKey:       base64.StdEncoding.EncodeToString(b.VerifyingKey),
		SuiteID:            strconv.FormatUint(uint64(b.SuiteID), 10),
	}
	out, err := json.Marshal(w)
	if err != nil {
		return nil, coreerr.New(coreerr.Serialization, "bundle.Encode", err)
	}
	return out, nil
}

// Decode parses the JSON wire form back into a Bundle.
func Decode(data []byte) (Bundle, error) {
	var w wireBundle
	if err := json.Unmarshal(data, &w); err != nil {
		return Bundle{}, coreerr.New(coreerr.InvalidInput, "bundle.Decode", err)
	}

	identity, err := base64.StdEncoding.DecodeString(w.IdentityPublic)
	if err != nil {
		return Bundle{}, coreerr.New(coreerr.InvalidInput, "bundle.Decode", err)
	}
	prekey, err := base64.StdEncoding.DecodeString(w.SignedPrekeyPublic)
	if err != nil {
		return Bundle{}, coreerr.New(coreerr.InvalidInput, "bundle.Decode", err)
	}
	sig, err := base64.StdEncoding.DecodeString(w.Signature)
	if err != nil {
		return Bundle{}, coreerr.New(coreerr.InvalidInput, "bundle.Decode", err)
	}
	verifying, err := base64.StdEncoding.DecodeString(w.VerifyingKey)
	if err != nil {
		return Bundle{}, coreerr.New(coreerr.InvalidInput, "bundle.Decode", err)
	}
	suiteIDVal, err := strconv.ParseUint(w.SuiteID, 10, 16)
	if err != nil {
		return Bundle{}, coreerr.New(coreerr.InvalidInput, "bundle.Decode", err)
	}
	suiteID := uint16(suiteIDVal)

	return Bundle{
		IdentityPublic:     identity,
		SignedPrekeyPublic: prekey,
		Signature:          sig,
		VerifyingKey:       verifying,
		SuiteID:            suiteID,
	}, nil
}

