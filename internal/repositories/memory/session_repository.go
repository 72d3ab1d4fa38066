// Package memory provides an in-memory session store useful for testing and
// local development.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/verifield/api/internal/domain"
	"github.com/verifield/api/internal/repositories"
)

// SessionRepository keeps sessions in a mutex-guarded map. Expired sessions
// are pruned lazily on access.
type SessionRepository struct {
	clock func() time.Time

	mu       sync.Mutex
	sessions map[string]*domain.Session
}

// NewSessionRepository constructs an empty in-memory session store.
func NewSessionRepository(clock func() time.Time) *SessionRepository {
	if clock == nil {
		clock = time.Now
	}
	return &SessionRepository{
		clock:    clock,
		sessions: make(map[string]*domain.Session),
	}
}

// Get implements repositories.SessionRepository.
func (r *SessionRepository) Get(_ context.Context, id string) (*domain.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, repositories.NewError("sessions.get", repositories.ErrorInvalidInput, "session id is required", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()

	session, ok := r.sessions[id]
	if !ok {
		return nil, repositories.NewError("sessions.get", repositories.ErrorNotFound, fmt.Sprintf("session %s not found", id), nil)
	}
	return session.Clone(), nil
}

// Put implements repositories.SessionRepository.
func (r *SessionRepository) Put(_ context.Context, session *domain.Session) error {
	if session == nil || strings.TrimSpace(session.ID) == "" {
		return repositories.NewError("sessions.put", repositories.ErrorInvalidInput, "session with id is required", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session.Clone()
	return nil
}

// Delete implements repositories.SessionRepository.
func (r *SessionRepository) Delete(_ context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return repositories.NewError("sessions.delete", repositories.ErrorInvalidInput, "session id is required", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *SessionRepository) pruneLocked() {
	now := r.clock().UTC()
	for id, session := range r.sessions {
		if !session.ExpiresAt.IsZero() && now.After(session.ExpiresAt) {
			delete(r.sessions, id)
		}
	}
}
