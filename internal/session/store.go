package session

import (
	"context"
	"errors"
	"sync"

	"github.com/vanakhel/server/internal/model"
)

// ErrNotFound is returned when no session record exists for the user.
var ErrNotFound = errors.New("session record not found")

// Repo persists the session record written after a completed login. The
// flow only ever writes it once per login; the rest of the application
// reads it to answer "is this user logged in".
type Repo interface {
	Save(ctx context.Context, rec model.SessionRecord) error
	GetByUserID(ctx context.Context, userID string) (model.SessionRecord, error)
	Delete(ctx context.Context, userID string) error
}

// MemoryRepo is a map-backed Repo for development and tests.
type MemoryRepo struct {
	mu      sync.RWMutex
	records map[string]model.SessionRecord
}

// NewMemoryRepo creates an empty in-memory repository.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{records: make(map[string]model.SessionRecord)}
}

// Save stores or replaces the record for its user.
func (r *MemoryRepo) Save(_ context.Context, rec model.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.UserID] = rec
	return nil
}

// GetByUserID returns the record for the user, or ErrNotFound.
func (r *MemoryRepo) GetByUserID(_ context.Context, userID string) (model.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[userID]
	if !ok {
		return model.SessionRecord{}, ErrNotFound
	}
	return rec, nil
}

// Delete removes the record for the user, if present.
func (r *MemoryRepo) Delete(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, userID)
	return nil
}
