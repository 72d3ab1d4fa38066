package repositories

import (
	"context"

	domain "github.com/verifield/api/internal/domain"
)

// MasterDataRepository serves the read-only master dataset. Implementations
// load the dataset once per process lifetime and answer from cache.
type MasterDataRepository interface {
	// Schema returns the ordered field schema, including the precomputed
	// allowed-value sets for categorical columns.
	Schema(ctx context.Context) (domain.Schema, error)
	// Record returns the master row for the employee id.
	Record(ctx context.Context, employeeID int64) (domain.MasterRecord, error)
	// Exists reports whether the employee id is present in the dataset.
	Exists(ctx context.Context, employeeID int64) (bool, error)
}

// SubmissionLogRepository is an append-only row sink keyed by employee id.
// Both the primary (remote tabular) and fallback (local file) stores satisfy
// this contract.
type SubmissionLogRepository interface {
	// Append writes one flattened submission row.
	Append(ctx context.Context, record domain.SubmissionRecord) error
	// ListEmployeeIDs returns the set of employee ids already present.
	ListEmployeeIDs(ctx context.Context) (map[int64]struct{}, error)
}

// SessionRepository persists verification sessions between suspend points.
type SessionRepository interface {
	Get(ctx context.Context, id string) (*domain.Session, error)
	Put(ctx context.Context, session *domain.Session) error
	Delete(ctx context.Context, id string) error
}

// Registry exposes the concrete stores to the dependency container. Production
// wiring backs it with the CSV, Sheets, and Firestore implementations; tests
// can supply in-memory substitutes.
type Registry interface {
	Close(ctx context.Context) error

	Master() MasterDataRepository
	Primary() SubmissionLogRepository
	Fallback() SubmissionLogRepository
	Sessions() SessionRepository
}
