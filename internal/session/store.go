// Package session holds per-client recognition state: a sliding window of
// feature vectors, the recent vote history, and the finalized sign slot.
package session

import (
	"sync"
	"time"
)

// Default buffer sizes.
const (
	DefaultWindowCapacity = 50
	DefaultVoteCapacity   = 8
)

// Session is the mutable state of one client stream.
//
// The buffer methods are not synchronized. Callers that may process two
// frames of the same session concurrently must hold Lock around them.
// Distinct sessions are independent.
type Session struct {
	mu        sync.Mutex
	id        string
	window    *Ring[[]float64]
	votes     *Ring[int]
	finalized []string
}

// ID returns the session key.
func (s *Session) ID() string {
	return s.id
}

// Lock serializes frame processing for this session.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the lock taken by Lock.
func (s *Session) Unlock() { s.mu.Unlock() }

// Append pushes a feature vector onto the window, evicting the oldest vector
// once the window is full.
func (s *Session) Append(features []float64) {
	s.window.Push(features)
}

// WindowLen returns the number of buffered feature vectors.
func (s *Session) WindowLen() int {
	return s.window.Len()
}

// Window returns the buffered feature vectors, oldest first. The outer slice
// is a copy; the vectors themselves are shared and must not be modified.
func (s *Session) Window() [][]float64 {
	return s.window.Items()
}

// RecordVote pushes a top-1 label index onto the vote history.
func (s *Session) RecordVote(label int) {
	s.votes.Push(label)
}

// ClearVotes empties the vote history.
func (s *Session) ClearVotes() {
	s.votes.Clear()
}

// Votes returns the vote history, oldest first.
func (s *Session) Votes() []int {
	return s.votes.Items()
}

// SetFinalized makes label the finalized sign. The slot never holds more
// than the most recent entry.
func (s *Session) SetFinalized(label string) {
	s.finalized = append(s.finalized, label)
	s.ClearExtraFinalized()
}

// Finalized returns the current finalized sign, if any.
func (s *Session) Finalized() (string, bool) {
	if len(s.finalized) == 0 {
		return "", false
	}
	return s.finalized[len(s.finalized)-1], true
}

// ClearExtraFinalized trims the finalized slot to its most recent entry.
func (s *Session) ClearExtraFinalized() {
	if n := len(s.finalized); n > 1 {
		s.finalized = []string{s.finalized[n-1]}
	}
}

type entry struct {
	session    *Session
	lastAccess time.Time
}

// Store owns every session keyed by its opaque id. The map and the access
// timestamps are guarded by a mutex so that expiry can run alongside frames
// of other sessions.
type Store struct {
	mu             sync.RWMutex
	sessions       map[string]*entry
	windowCapacity int
	voteCapacity   int
}

// NewStore creates an empty store whose sessions buffer up to windowCapacity
// feature vectors and voteCapacity votes.
func NewStore(windowCapacity, voteCapacity int) *Store {
	if windowCapacity <= 0 {
		windowCapacity = DefaultWindowCapacity
	}
	if voteCapacity <= 0 {
		voteCapacity = DefaultVoteCapacity
	}
	return &Store{
		sessions:       make(map[string]*entry),
		windowCapacity: windowCapacity,
		voteCapacity:   voteCapacity,
	}
}

// GetOrCreate returns the session for id, creating an empty one if it does
// not exist, and records now as its last access time.
func (st *Store) GetOrCreate(id string, now time.Time) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	e, ok := st.sessions[id]
	if !ok {
		e = &entry{session: &Session{
			id:     id,
			window: NewRing[[]float64](st.windowCapacity),
			votes:  NewRing[int](st.voteCapacity),
		}}
		st.sessions[id] = e
	}
	e.lastAccess = now
	return e.session
}

// Get returns the session for id without touching it.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	e, ok := st.sessions[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// LastAccess returns when id was last touched.
func (st *Store) LastAccess(id string) (time.Time, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	e, ok := st.sessions[id]
	if !ok {
		return time.Time{}, false
	}
	return e.lastAccess, true
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Delete removes a session and all of its buffers.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// Expire removes every session whose last access is more than maxAge before
// now and returns the number removed. A session is dropped as a whole: its
// window, votes, finalized slot and timestamp disappear together.
func (st *Store) Expire(now time.Time, maxAge time.Duration) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	removed := 0
	for id, e := range st.sessions {
		if now.Sub(e.lastAccess) > maxAge {
			delete(st.sessions, id)
			removed++
		}
	}
	return removed
}

// WindowCapacity returns the per-session window size.
func (st *Store) WindowCapacity() int {
	return st.windowCapacity
}

// VoteCapacity returns the per-session vote history size.
func (st *Store) VoteCapacity() int {
	return st.voteCapacity
}
