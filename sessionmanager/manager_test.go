package sessionmanager_test

import (
	"testing"

	"github.com/cipherlink/core/clock"
	"github.com/cipherlink/core/keymanager"
	"github.com/cipherlink/core/ratchet"
	"github.com/cipherlink/core/sessionmanager"
	"github.com/cipherlink/core/suite"
	"github.com/cipherlink/core/x3dh"
)

type steppingClock struct{ now int64 }

func (c *steppingClock) Now() int64 { return c.now }

func newTestSession(t *testing.T, sv suite.Suite, clk clock.Clock, contactID string) *ratchet.Session {
	t.Helper()

	selfMgr := keymanager.New(sv, clk)
	if err := selfMgr.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	peerMgr := keymanager.New(sv, clk)
	if err := peerMgr.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	peerBundle, err := peerMgr.ExportPublicBundle()
	if err != nil {
		t.Fatalf("export bundle: %v", err)
	}
	identity, err := selfMgr.IdentityPrivate()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	seed, err := x3dh.Perform(sv, identity, peerBundle)
	if err != nil {
		t.Fatalf("x3dh: %v", err)
	}
	sess, err := ratchet.NewSending(sv, clk, seed, identity, suite.KEMPublicKey(peerBundle.IdentityPublic), contactID)
	if err != nil {
		t.Fatalf("new sending: %v", err)
	}
	return sess
}

func TestAddGetSession(t *testing.T) {
	sv := suite.NewClassic()
	clk := &steppingClock{now: 1000}
	mgr, err := sessionmanager.New(sv, clk, 0)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	sess := newTestSession(t, sv, clk, "contact1")
	mgr.AddSession("contact1", sess)

	if !mgr.HasSession("contact1") {
		t.Fatal("expected session to be indexed")
	}
	if mgr.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", mgr.Len())
	}

	got, err := mgr.GetSession("contact1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SessionID() != sess.SessionID() {
		t.Fatal("got a different session back")
	}

	meta, ok := mgr.Metadata("contact1")
	if !ok {
		t.Fatal("expected metadata")
	}
	if meta.MessageCount != 1 {
		t.Fatalf("expected message count 1 after one GetSession, got %d", meta.MessageCount)
	}
}

func TestRemoveSession(t *testing.T) {
	sv := suite.NewClassic()
	clk := &steppingClock{now: 1000}
	mgr, err := sessionmanager.New(sv, clk, 0)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	sess := newTestSession(t, sv, clk, "contact1")
	mgr.AddSession("contact1", sess)
	mgr.RemoveSession("contact1")

	if mgr.HasSession("contact1") {
		t.Fatal("expected session to be removed")
	}
}

func TestLRUEvictionAtCapacity(t *testing.T) {
	sv := suite.NewClassic()
	clk := &steppingClock{now: 1000}
	mgr, err := sessionmanager.New(sv, clk, 2)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	mgr.AddSession("a", newTestSession(t, sv, clk, "a"))
	mgr.AddSession("b", newTestSession(t, sv, clk, "b"))
	// Touch "a" so "b" becomes the least-recently-used entry.
	if _, err := mgr.GetSession("a"); err != nil {
		t.Fatalf("get a: %v", err)
	}
	mgr.AddSession("c", newTestSession(t, sv, clk, "c"))

	if mgr.HasSession("b") {
		t.Fatal("expected b to be evicted as least-recently-used")
	}
	if !mgr.HasSession("a") || !mgr.HasSession("c") {
		t.Fatal("expected a and c to remain indexed")
	}
}

func TestCleanupSessionsOlderThan(t *testing.T) {
	sv := suite.NewClassic()
	clk := &steppingClock{now: 1000}
	mgr, err := sessionmanager.New(sv, clk, 0)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	mgr.AddSession("old", newTestSession(t, sv, clk, "old"))
	clk.now += 1000
	mgr.AddSession("new", newTestSession(t, sv, clk, "new"))

	mgr.CleanupSessionsOlderThan(500)

	if mgr.HasSession("old") {
		t.Fatal("expected old session to be cleaned up")
	}
	if !mgr.HasSession("new") {
		t.Fatal("expected new session to survive cleanup")
	}
}

func TestExportImportAllSessions(t *testing.T) {
	sv := suite.NewClassic()
	clk := &steppingClock{now: 1000}
	mgr, err := sessionmanager.New(sv, clk, 0)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	mgr.AddSession("a", newTestSession(t, sv, clk, "a"))
	mgr.AddSession("b", newTestSession(t, sv, clk, "b"))

	exported, err := mgr.ExportAllSessions()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(exported) != 2 {
		t.Fatalf("expected 2 exported sessions, got %d", len(exported))
	}

	restored, err := sessionmanager.New(sv, clk, 0)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := restored.ImportAllSessions(exported); err != nil {
		t.Fatalf("import: %v", err)
	}
	if restored.Len() != 2 {
		t.Fatalf("expected 2 sessions after import, got %d", restored.Len())
	}
}
