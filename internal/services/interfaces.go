package services

import (
	"context"
	"time"

	domain "github.com/verifield/api/internal/domain"
)

// Mailer delivers plaintext messages to a recipient. Implementations live in
// platform/mail; failures surface as delivery errors, the code stays valid.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SubmissionEventPublisher announces successful submissions. Publish failures
// are logged and never affect the submission outcome.
type SubmissionEventPublisher interface {
	PublishSubmission(ctx context.Context, event SubmissionEvent) (string, error)
}

// SubmissionEvent is the notification payload emitted after a log row is
// durably written to either store.
type SubmissionEvent struct {
	EmployeeID   int64     `json:"employee_id"`
	Email        string    `json:"email"`
	SubmittedAt  time.Time `json:"submitted_at"`
	FallbackUsed bool      `json:"fallback_used"`
	Corrected    int       `json:"corrected_fields"`
}

// CredentialIssuer generates and checks one-time codes bound to a session.
type CredentialIssuer interface {
	// Issue generates a fresh code, stores its hash and issue time on the
	// session, resets the attempt counter, and emails the plaintext. The
	// plaintext is never persisted.
	Issue(ctx context.Context, session *domain.Session) error
	// Verify checks a candidate code against the session, enforcing the
	// validity window and the attempt cap. Success authenticates the
	// session and is idempotent thereafter.
	Verify(ctx context.Context, session *domain.Session, candidate string) error
}

// IdentityGate validates a code request before any code is sent.
type IdentityGate interface {
	// RequestCode validates the email domain, the employee id, the
	// already-submitted exclusion, and the resend cooldown, then delegates
	// to the credential issuer. On failure nothing is sent and the stored
	// hash is unchanged.
	RequestCode(ctx context.Context, session *domain.Session, email, employeeID string) error
	// AlreadySubmitted reports whether the employee id is present in the
	// union of the primary and fallback log stores.
	AlreadySubmitted(ctx context.Context, employeeID int64) (bool, error)
}

// DecisionInput is one user decision for a field: confirm the original or
// correct it with a new value.
type DecisionInput struct {
	Field    string
	Confirm  bool
	NewValue string
}

// ReviewField describes one field as presented to the user.
type ReviewField struct {
	Name     string
	Label    string
	Type     domain.FieldType
	Original string
	// Options is the selectable set for categorical fields; it always
	// contains the current value even when that value is absent from the
	// precomputed set.
	Options []string
	// Default seeds the date picker: the current value, or today when the
	// original is absent.
	Default string
	// Decided carries the recorded decision status, empty while pending.
	Decided domain.DecisionStatus
	// NewValue echoes a recorded correction.
	NewValue string
}

// ReviewView is the rendering directive for the review step.
type ReviewView struct {
	Fields []ReviewField
	// Cursor indexes the next undecided field for sequential mode; equal to
	// len(Fields) once every decision is recorded.
	Cursor   int
	Complete bool
}

// FieldReviewer iterates the master record's fields and collects one
// correction decision per field, in batch or one field at a time.
type FieldReviewer interface {
	// View shapes the current review state for rendering.
	View(ctx context.Context, session *domain.Session) (ReviewView, error)
	// ApplyBatch records a decision for every field at once.
	ApplyBatch(ctx context.Context, session *domain.Session, decisions []DecisionInput) error
	// ApplyNext records a decision for the field at the session cursor and
	// advances it.
	ApplyNext(ctx context.Context, session *domain.Session, decision DecisionInput) error
}

// SubmitResult reports the outcome of a submission write.
type SubmitResult struct {
	SubmittedAt time.Time
	// FallbackUsed indicates the primary store was unreachable and the row
	// went to the local fallback file instead.
	FallbackUsed bool
}

// SubmissionRecorder serialises the decision map into one log row and writes
// it exactly once.
type SubmissionRecorder interface {
	Submit(ctx context.Context, session *domain.Session) (SubmitResult, error)
}

// SessionController drives the forward-only state machine. Each method is one
// suspend point: it receives a single user action, mutates the session,
// persists it, and returns a rendering directive.
type SessionController interface {
	// Start creates a fresh anonymous session and returns it.
	Start(ctx context.Context) (*domain.Session, error)
	// RequestCode handles the login form action.
	RequestCode(ctx context.Context, sessionID, email, employeeID string) (*domain.Session, error)
	// VerifyCode handles the one-time-code form action.
	VerifyCode(ctx context.Context, sessionID, code string) (*domain.Session, error)
	// Review enters or resumes the review step.
	Review(ctx context.Context, sessionID string) (ReviewView, error)
	// ApplyDecisions records a batch of decisions.
	ApplyDecisions(ctx context.Context, sessionID string, decisions []DecisionInput) (ReviewView, error)
	// ApplyNextDecision records the decision for the cursor field.
	ApplyNextDecision(ctx context.Context, sessionID string, decision DecisionInput) (ReviewView, error)
	// Submit writes the log row and invalidates the session.
	Submit(ctx context.Context, sessionID string) (SubmitResult, error)
}
