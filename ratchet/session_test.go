package ratchet_test

import (
	"bytes"
	"testing"

	mrand "github.com/ericlagergren/saferand"

	"github.com/cipherlink/core/clock"
	"github.com/cipherlink/core/coreerr"
	"github.com/cipherlink/core/keymanager"
	"github.com/cipherlink/core/ratchet"
	"github.com/cipherlink/core/suite"
	"github.com/cipherlink/core/x3dh"
)

// handshake builds an Alice/Bob session pair the way a real caller would:
// Alice runs X3DH against Bob's public bundle, sends a first message, and
// Bob materializes his receiving session from it. X25519 static-static DH
// is commutative, so Bob deriving his own root key seed against Alice's
// bundle would land on the same value Alice already computed; the test
// reuses Alice's seed directly rather than constructing Alice's own
// registration bundle just to re-derive it.
func handshake(t *testing.T, first string) (alice, bob *ratchet.Session) {
	t.Helper()

	sv := suite.NewClassic()
	clk := clock.Real()

	aliceMgr := keymanager.New(sv, clk)
	if err := aliceMgr.Initialize(); err != nil {
		t.Fatalf("alice initialize: %v", err)
	}
	bobMgr := keymanager.New(sv, clk)
	if err := bobMgr.Initialize(); err != nil {
		t.Fatalf("bob initialize: %v", err)
	}

	bobBundle, err := bobMgr.ExportPublicBundle()
	if err != nil {
		t.Fatalf("bob export bundle: %v", err)
	}
	aliceIdentity, err := aliceMgr.IdentityPrivate()
	if err != nil {
		t.Fatalf("alice identity: %v", err)
	}
	bobIdentity, err := bobMgr.IdentityPrivate()
	if err != nil {
		t.Fatalf("bob identity: %v", err)
	}

	seed, err := x3dh.Perform(sv, aliceIdentity, bobBundle)
	if err != nil {
		t.Fatalf("x3dh: %v", err)
	}

	alice, err = ratchet.NewSending(sv, clk, seed, aliceIdentity, suite.KEMPublicKey(bobBundle.IdentityPublic), "bob")
	if err != nil {
		t.Fatalf("new sending: %v", err)
	}

	msg, err := alice.Encrypt([]byte(first))
	if err != nil {
		t.Fatalf("encrypt first: %v", err)
	}

	bob, err = ratchet.NewReceiving(sv, clk, seed, bobIdentity, msg, "alice")
	if err != nil {
		t.Fatalf("new receiving: %v", err)
	}
	got, err := bob.Decrypt(msg)
	if err != nil {
		t.Fatalf("bob decrypt first: %v", err)
	}
	if string(got) != first {
		t.Fatalf("expected %q, got %q", first, got)
	}
	return alice, bob
}

func TestFullSessionLifecycle(t *testing.T) {
	alice, bob := handshake(t, "hello")

	reply, err := bob.Encrypt([]byte("world"))
	if err != nil {
		t.Fatalf("bob encrypt: %v", err)
	}
	got, err := alice.Decrypt(reply)
	if err != nil {
		t.Fatalf("alice decrypt reply: %v", err)
	}
	if string(got) != "world" {
		t.Fatalf("expected %q, got %q", "world", got)
	}
}

func TestOutOfOrderDelivery(t *testing.T) {
	alice, bob := handshake(t, "hello")

	const n = 200
	msgs := make([]ratchet.Message, n)
	plaintexts := make([][]byte, n)
	for i := range msgs {
		pt := []byte{byte(i), byte(i >> 8)}
		msg, err := alice.Encrypt(pt)
		if err != nil {
			t.Fatalf("#%d encrypt: %v", i, err)
		}
		msgs[i] = msg
		plaintexts[i] = pt
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	mrand.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })

	for _, i := range order {
		got, err := bob.Decrypt(msgs[i])
		if err != nil {
			t.Fatalf("decrypt #%d: %v", i, err)
		}
		if !bytes.Equal(got, plaintexts[i]) {
			t.Fatalf("#%d: expected %x, got %x", i, plaintexts[i], got)
		}
	}
}

func TestDHRatchetOnReply(t *testing.T) {
	alice, bob := handshake(t, "hello")

	reply, err := bob.Encrypt([]byte("world"))
	if err != nil {
		t.Fatalf("bob encrypt: %v", err)
	}
	if _, err := alice.Decrypt(reply); err != nil {
		t.Fatalf("alice decrypt reply: %v", err)
	}

	m3, err := alice.Encrypt([]byte("x"))
	if err != nil {
		t.Fatalf("alice encrypt m3: %v", err)
	}
	got, err := bob.Decrypt(m3)
	if err != nil {
		t.Fatalf("bob decrypt m3 (expected ratchet step): %v", err)
	}
	if string(got) != "x" {
		t.Fatalf("expected %q, got %q", "x", got)
	}
}

func TestReplayRejected(t *testing.T) {
	alice, bob := handshake(t, "hello")

	msg, err := alice.Encrypt([]byte("again"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := bob.Decrypt(msg); err != nil {
		t.Fatalf("first decrypt: %v", err)
	}

	_, err = bob.Decrypt(msg)
	if err == nil {
		t.Fatal("expected replay to fail")
	}
	if kind, ok := coreerr.Of(err); !ok || kind != coreerr.MessageKeyNotFound {
		t.Fatalf("expected MessageKeyNotFound, got %v", err)
	}
}

func TestTamperRejected(t *testing.T) {
	alice, bob := handshake(t, "hello")

	msg, err := alice.Encrypt([]byte("intact"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	msg.Ciphertext[0] ^= 0xff

	_, err = bob.Decrypt(msg)
	if err == nil {
		t.Fatal("expected tamper to fail")
	}
	if kind, ok := coreerr.Of(err); !ok || kind != coreerr.AeadDecryption {
		t.Fatalf("expected AeadDecryption, got %v", err)
	}

	good, err := alice.Encrypt([]byte("still good"))
	if err != nil {
		t.Fatalf("encrypt after tamper: %v", err)
	}
	got, err := bob.Decrypt(good)
	if err != nil {
		t.Fatalf("decrypt after tamper: %v", err)
	}
	if string(got) != "still good" {
		t.Fatalf("expected %q, got %q", "still good", got)
	}
}

func TestTooManySkipped(t *testing.T) {
	alice, bob := handshake(t, "hello")

	var last ratchet.Message
	// The handshake already delivered message 0, so delivering only message
	// number MaxSkippedMessages+2 skips message numbers
	// 1..MaxSkippedMessages+1, i.e. MaxSkippedMessages+1 keys — one past
	// the bound, which is what should trip TooManySkipped.
	for i := 0; i < ratchet.MaxSkippedMessages+2; i++ {
		msg, err := alice.Encrypt([]byte("x"))
		if err != nil {
			t.Fatalf("#%d encrypt: %v", i, err)
		}
		last = msg
	}

	_, err := bob.Decrypt(last)
	if err == nil {
		t.Fatal("expected TooManySkipped")
	}
	if kind, ok := coreerr.Of(err); !ok || kind != coreerr.TooManySkipped {
		t.Fatalf("expected TooManySkipped, got %v", err)
	}
}

func TestSuiteMismatchRejected(t *testing.T) {
	_, bob := handshake(t, "hello")

	msg, err := bob.Encrypt([]byte("doesn't matter"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	msg.SuiteID = suite.PQHybridID

	_, err = bob.Decrypt(msg)
	if err == nil {
		t.Fatal("expected suite mismatch")
	}
	if kind, ok := coreerr.Of(err); !ok || kind != coreerr.SuiteMismatch {
		t.Fatalf("expected SuiteMismatch, got %v", err)
	}
}
