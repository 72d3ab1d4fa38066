// Package firestore persists verification sessions in Cloud Firestore so the
// flow survives process restarts between suspend points.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/verifield/api/internal/domain"
	"github.com/verifield/api/internal/repositories"
)

const sessionsCollection = "verification_sessions"

type decisionDocument struct {
	Original string `firestore:"original"`
	Status   string `firestore:"status"`
	NewValue string `firestore:"newValue"`
}

type sessionDocument struct {
	State         string                      `firestore:"state"`
	Email         string                      `firestore:"email"`
	EmployeeID    int64                       `firestore:"employeeId"`
	OTPHash       string                      `firestore:"otpHash"`
	OTPIssuedAt   time.Time                   `firestore:"otpIssuedAt"`
	OTPAttempts   int                         `firestore:"otpAttempts"`
	Authenticated bool                        `firestore:"authenticated"`
	Cursor        int                         `firestore:"cursor"`
	Decisions     map[string]decisionDocument `firestore:"decisions,omitempty"`
	CreatedAt     time.Time                   `firestore:"createdAt"`
	UpdatedAt     time.Time                   `firestore:"updatedAt"`
	ExpiresAt     time.Time                   `firestore:"expiresAt"`
}

// SessionRepository implements repositories.SessionRepository backed by a
// Firestore collection keyed by session id.
type SessionRepository struct {
	client *firestore.Client
}

// NewSessionRepository constructs a Firestore-backed session repository.
func NewSessionRepository(client *firestore.Client) (*SessionRepository, error) {
	if client == nil {
		return nil, errors.New("session repository requires firestore client")
	}
	return &SessionRepository{client: client}, nil
}

// Get implements repositories.SessionRepository.
func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, repositories.NewError("sessions.get", repositories.ErrorInvalidInput, "session id is required", nil)
	}

	snapshot, err := r.client.Collection(sessionsCollection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, repositories.NewError("sessions.get", repositories.ErrorNotFound, fmt.Sprintf("session %s not found", id), err)
	}
	if err != nil {
		return nil, repositories.NewError("sessions.get", repositories.ErrorUnavailable, "firestore get session", err)
	}

	var doc sessionDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return nil, repositories.NewError("sessions.get", repositories.ErrorUnknown, fmt.Sprintf("decode session %s", id), err)
	}
	return docToSession(id, doc), nil
}

// Put implements repositories.SessionRepository.
func (r *SessionRepository) Put(ctx context.Context, session *domain.Session) error {
	if session == nil || strings.TrimSpace(session.ID) == "" {
		return repositories.NewError("sessions.put", repositories.ErrorInvalidInput, "session with id is required", nil)
	}

	_, err := r.client.Collection(sessionsCollection).Doc(session.ID).Set(ctx, sessionToDoc(session))
	if err != nil {
		return repositories.NewError("sessions.put", repositories.ErrorUnavailable, "firestore put session", err)
	}
	return nil
}

// Delete implements repositories.SessionRepository. Deleting an absent
// session is not an error.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return repositories.NewError("sessions.delete", repositories.ErrorInvalidInput, "session id is required", nil)
	}

	_, err := r.client.Collection(sessionsCollection).Doc(id).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return repositories.NewError("sessions.delete", repositories.ErrorUnavailable, "firestore delete session", err)
	}
	return nil
}

func sessionToDoc(s *domain.Session) sessionDocument {
	doc := sessionDocument{
		State:         string(s.State),
		Email:         s.Email,
		EmployeeID:    s.EmployeeID,
		OTPHash:       s.OTPHash,
		OTPIssuedAt:   s.OTPIssuedAt,
		OTPAttempts:   s.OTPAttempts,
		Authenticated: s.Authenticated,
		Cursor:        s.Cursor,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		ExpiresAt:     s.ExpiresAt,
	}
	if len(s.Decisions) > 0 {
		doc.Decisions = make(map[string]decisionDocument, len(s.Decisions))
		for field, decision := range s.Decisions {
			doc.Decisions[field] = decisionDocument{
				Original: decision.Original,
				Status:   string(decision.Status),
				NewValue: decision.NewValue,
			}
		}
	}
	return doc
}

func docToSession(id string, doc sessionDocument) *domain.Session {
	session := &domain.Session{
		ID:            id,
		State:         domain.SessionState(doc.State),
		Email:         doc.Email,
		EmployeeID:    doc.EmployeeID,
		OTPHash:       doc.OTPHash,
		OTPIssuedAt:   doc.OTPIssuedAt,
		OTPAttempts:   doc.OTPAttempts,
		Authenticated: doc.Authenticated,
		Cursor:        doc.Cursor,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
		ExpiresAt:     doc.ExpiresAt,
	}
	if len(doc.Decisions) > 0 {
		session.Decisions = make(map[string]domain.CorrectionDecision, len(doc.Decisions))
		for field, decision := range doc.Decisions {
			session.Decisions[field] = domain.CorrectionDecision{
				Original: decision.Original,
				Status:   domain.DecisionStatus(decision.Status),
				NewValue: decision.NewValue,
			}
		}
	}
	return session
}
