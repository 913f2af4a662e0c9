// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package memory provides in-process repository implementations. The
// session store defaults to this package: sessions do not outlive the
// process.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gatehouse/gatehouse/internal/auth"
)

// SessionRepository implements auth.SessionRepository with an in-process
// map keyed by token hash.
//
// All operations take the mutex for their full duration, so operations
// on the same token are linearizable: a lookup ordered after a delete
// never observes the deleted session.
type SessionRepository struct {
	mu       sync.RWMutex
	byHash   map[string]*auth.Session
	idToHash map[ulid.ULID]string
}

// NewSessionRepository creates an empty SessionRepository.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		byHash:   make(map[string]*auth.Session),
		idToHash: make(map[ulid.ULID]string),
	}
}

// Create stores a new session.
func (r *SessionRepository) Create(_ context.Context, session *auth.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *session
	r.byHash[session.TokenHash] = &copied
	r.idToHash[session.ID] = session.TokenHash
	return nil
}

// GetByTokenHash retrieves a session by its token hash.
func (r *SessionRepository) GetByTokenHash(_ context.Context, tokenHash string) (*auth.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.byHash[tokenHash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

// UpdateLastSeen updates the LastSeenAt timestamp for a session.
func (r *SessionRepository) UpdateLastSeen(_ context.Context, id ulid.ULID, lastSeen time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	hash, ok := r.idToHash[id]
	if !ok {
		return auth.ErrNotFound
	}
	r.byHash[hash].LastSeenAt = lastSeen
	return nil
}

// DeleteByTokenHash removes the session holding the given token hash.
func (r *SessionRepository) DeleteByTokenHash(_ context.Context, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.byHash[tokenHash]
	if !ok {
		return auth.ErrNotFound
	}
	delete(r.byHash, tokenHash)
	delete(r.idToHash, session.ID)
	return nil
}

// DeleteByUser removes all sessions for a user.
func (r *SessionRepository) DeleteByUser(_ context.Context, userID ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for hash, session := range r.byHash {
		if session.UserID.Compare(userID) == 0 {
			delete(r.byHash, hash)
			delete(r.idToHash, session.ID)
		}
	}
	return nil
}

// DeleteExpired removes all expired sessions and returns the count.
func (r *SessionRepository) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var deleted int64
	for hash, session := range r.byHash {
		if session.IsExpiredAt(now) {
			delete(r.byHash, hash)
			delete(r.idToHash, session.ID)
			deleted++
		}
	}
	return deleted, nil
}

// Len returns the number of live sessions. Used by tests and metrics.
func (r *SessionRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHash)
}

// Compile-time interface check.
var _ auth.SessionRepository = (*SessionRepository)(nil)
