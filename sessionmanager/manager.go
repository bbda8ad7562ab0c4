// Package sessionmanager indexes one Double Ratchet session per contact,
// bounded in count with least-recently-used eviction.
//
// Grounded on the source's SessionManager<P>: a HashMap<contact_id,
// SessionStore> with a hand-rolled min-by-last_used eviction on
// overflow. This replaces the hand-rolled eviction with
// github.com/hashicorp/golang-lru/v2, which performs the same
// least-recently-used policy as a first-class operation.
package sessionmanager

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cipherlink/core/clock"
	"github.com/cipherlink/core/coreerr"
	"github.com/cipherlink/core/ratchet"
	"github.com/cipherlink/core/suite"
)

// DefaultCapacity is the session count at which insertion starts
// evicting the least-recently-used entry.
const DefaultCapacity = 100

// Metadata describes one indexed session.
type Metadata struct {
	SessionID    string
	ContactID    string
	CreatedAt    int64
	LastUsed     int64
	MessageCount uint64
}

type entry struct {
	session  *ratchet.Session
	metadata Metadata
}

// Manager is a bounded, contact-indexed store of live sessions.
type Manager struct {
	cache *lru.Cache[string, *entry]
	suite suite.Suite
	clock clock.Clock
}

// New returns a Manager bound to suite s and clock clk, holding up to
// capacity sessions (DefaultCapacity if capacity <= 0).
func New(s suite.Suite, clk clock.Clock, capacity int) (*Manager, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	cache, err := lru.New[string, *entry](capacity)
	if err != nil {
		return nil, coreerr.New(coreerr.InvalidInput, "sessionmanager.New", err)
	}
	return &Manager{cache: cache, suite: s, clock: clk}, nil
}

// AddSession indexes sess under contactID, evicting the least-recently-used
// entry first if the manager is at capacity.
func (m *Manager) AddSession(contactID string, sess *ratchet.Session) {
	now := m.clock.Now()
	m.cache.Add(contactID, &entry{
		session: sess,
		metadata: Metadata{
			SessionID:    sess.SessionID(),
			ContactID:    contactID,
			CreatedAt:    now,
			LastUsed:     now,
			MessageCount: 0,
		},
	})
}

// GetSession returns the session for contactID, marking it as the most
// recently used and bumping its metadata's LastUsed/MessageCount.
func (m *Manager) GetSession(contactID string) (*ratchet.Session, error) {
	e, ok := m.cache.Get(contactID)
	if !ok {
		return nil, coreerr.New(coreerr.SessionNotFound, "sessionmanager.GetSession", nil)
	}
	e.metadata.LastUsed = m.clock.Now()
	e.metadata.MessageCount++
	return e.session, nil
}

// HasSession reports whether contactID has an indexed session, without
// affecting LRU order.
func (m *Manager) HasSession(contactID string) bool {
	return m.cache.Contains(contactID)
}

// RemoveSession deletes contactID's session, if any.
func (m *Manager) RemoveSession(contactID string) {
	m.cache.Remove(contactID)
}

// Metadata returns contactID's session metadata without affecting LRU
// order.
func (m *Manager) Metadata(contactID string) (Metadata, bool) {
	e, ok := m.cache.Peek(contactID)
	if !ok {
		return Metadata{}, false
	}
	return e.metadata, true
}

// ActiveContacts returns every contact id with a currently indexed
// session.
func (m *Manager) ActiveContacts() []string {
	return m.cache.Keys()
}

// Len returns the number of indexed sessions.
func (m *Manager) Len() int {
	return m.cache.Len()
}

// Clear removes every indexed session.
func (m *Manager) Clear() {
	m.cache.Purge()
}

// CleanupSessionsOlderThan removes every session whose LastUsed is more
// than maxAgeSeconds in the past.
func (m *Manager) CleanupSessionsOlderThan(maxAgeSeconds int64) {
	now := m.clock.Now()
	for _, contactID := range m.cache.Keys() {
		e, ok := m.cache.Peek(contactID)
		if !ok {
			continue
		}
		if now-e.metadata.LastUsed > maxAgeSeconds {
			m.cache.Remove(contactID)
		}
	}
}

// SerializeSession snapshots contactID's session to its wire-stable
// byte form, suitable for handing to a persistence collaborator.
func (m *Manager) SerializeSession(contactID string) ([]byte, error) {
	e, ok := m.cache.Peek(contactID)
	if !ok {
		return nil, coreerr.New(coreerr.SessionNotFound, "sessionmanager.SerializeSession", nil)
	}
	return e.session.Encode()
}

// DeserializeSession restores a session from data and indexes it under
// contactID, as a fresh entry (matching AddSession's eviction policy).
func (m *Manager) DeserializeSession(contactID string, data []byte) error {
	sess, err := ratchet.DecodeSession(m.suite, m.clock, data)
	if err != nil {
		return err
	}
	m.AddSession(contactID, sess)
	return nil
}

// ExportAllSessions snapshots every indexed session, keyed by contact id.
func (m *Manager) ExportAllSessions() (map[string][]byte, error) {
	out := make(map[string][]byte, m.cache.Len())
	for _, contactID := range m.cache.Keys() {
		data, err := m.SerializeSession(contactID)
		if err != nil {
			return nil, err
		}
		out[contactID] = data
	}
	return out, nil
}

// ImportAllSessions restores every (contact id, snapshot) pair in
// sessions.
func (m *Manager) ImportAllSessions(sessions map[string][]byte) error {
	for contactID, data := range sessions {
		if err := m.DeserializeSession(contactID, data); err != nil {
			return err
		}
	}
	return nil
}
