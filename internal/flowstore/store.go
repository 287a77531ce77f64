package flowstore

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vanakhel/server/internal/model"
)

// ErrNotFound is returned for unknown or expired flow IDs.
var ErrNotFound = errors.New("login flow not found")

// ErrBusy is returned when a submission for the flow is already in flight.
// Only one remote call may be outstanding per flow.
var ErrBusy = errors.New("login flow busy")

type entry struct {
	session  *model.LoginSession
	inFlight bool
	deadline time.Time
}

// Store is an in-memory registry of live login sessions. Flows are
// transient: they expire after the TTL and do not survive a restart,
// matching the lifetime of the wizard they back.
type Store struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry
	ttl     time.Duration
	now     func() time.Time
}

// New creates a registry whose flows expire ttl after creation. A sweep
// goroutine reclaims abandoned flows.
func New(ttl time.Duration) *Store {
	s := &Store{
		entries: make(map[uuid.UUID]*entry),
		ttl:     ttl,
		now:     time.Now,
	}
	go s.sweep()
	return s
}

// NewWithClock is New with a pinned time source and no sweeper; tests use it.
func NewWithClock(ttl time.Duration, now func() time.Time) *Store {
	return &Store{
		entries: make(map[uuid.UUID]*entry),
		ttl:     ttl,
		now:     now,
	}
}

// Create registers a fresh login session and returns it.
func (s *Store) Create() *model.LoginSession {
	id := uuid.New()
	now := s.now()
	sess := model.NewLoginSession(id, now)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = &entry{session: sess, deadline: now.Add(s.ttl)}
	return sess
}

// Acquire returns the session and marks it in flight. A second Acquire
// before Release fails with ErrBusy; this is the submit-button disable of
// the wizard, enforced server-side.
func (s *Store) Acquire(id uuid.UUID) (*model.LoginSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || s.now().After(e.deadline) {
		delete(s.entries, id)
		return nil, ErrNotFound
	}
	if e.inFlight {
		return nil, ErrBusy
	}
	e.inFlight = true
	return e.session, nil
}

// Release clears the in-flight mark set by Acquire.
func (s *Store) Release(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.inFlight = false
	}
}

// Peek returns the session without acquiring it, for read-only rendering.
func (s *Store) Peek(id uuid.UUID) (*model.LoginSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || s.now().After(e.deadline) {
		delete(s.entries, id)
		return nil, ErrNotFound
	}
	return e.session, nil
}

// Discard removes the flow, completed or abandoned. A slow upstream
// response that lands after Discard finds no flow to mutate.
func (s *Store) Discard(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Len reports the number of live flows.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		now := s.now()
		for id, e := range s.entries {
			if now.After(e.deadline) {
				delete(s.entries, id)
			}
		}
		s.mu.Unlock()
	}
}
