package domain

import (
	"strconv"
	"time"
)

// BlankSentinel is the display value for originals that are absent in the master
// dataset. It is distinguished from the empty string so that a blank original is
// never auto-equal to an empty correction.
const BlankSentinel = "<blank>"

// DateDisplayLayout is the locale-fixed day/month/year layout used for showing
// and submitting date values.
const DateDisplayLayout = "02/01/2006"

// FieldType enumerates the widget classes a master-data column can map to.
// The type is decided once at schema load time and dispatched via lookup,
// never by inspecting runtime values.
type FieldType string

const (
	// FieldTypeText is free text entry; corrections must be non-empty.
	FieldTypeText FieldType = "text"
	// FieldTypeCategorical is a closed-choice selector over the column's
	// distinct values.
	FieldTypeCategorical FieldType = "categorical"
	// FieldTypeDate is a calendar date shown and edited as dd/mm/yyyy.
	FieldTypeDate FieldType = "date"
)

// FieldSchema describes one reviewable column of the master dataset.
type FieldSchema struct {
	// Name is the column identifier, e.g. "marital_status".
	Name string
	// Label is the human form of Name, e.g. "Marital Status".
	Label string
	Type  FieldType
	// Options holds the sorted allowed-value set for categorical fields,
	// computed once at load time. Empty for other types.
	Options []string
}

// Schema is the ordered list of reviewable fields. Order matches the master
// dataset's declared column order and fixes the log row column order.
type Schema []FieldSchema

// Field returns the schema entry for the named column.
func (s Schema) Field(name string) (FieldSchema, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSchema{}, false
}

// FieldValue is one cell of a master record. Present distinguishes a genuine
// value from an absent one.
type FieldValue struct {
	Text    string
	Date    time.Time
	IsDate  bool
	Present bool
}

// Display renders the value for review: dates in dd/mm/yyyy, absent values as
// the blank sentinel.
func (v FieldValue) Display() string {
	if !v.Present {
		return BlankSentinel
	}
	if v.IsDate {
		return v.Date.Format(DateDisplayLayout)
	}
	return v.Text
}

// MasterRecord is the authoritative, read-only row for one employee.
type MasterRecord struct {
	EmployeeID int64
	Values     map[string]FieldValue
}

// DecisionStatus tags a per-field decision.
type DecisionStatus string

const (
	// DecisionConfirmed means the employee attested the original value.
	DecisionConfirmed DecisionStatus = "confirmed"
	// DecisionCorrected means the employee supplied a replacement value.
	DecisionCorrected DecisionStatus = "corrected"
)

// CorrectionDecision records the outcome of reviewing one field. NewValue is
// empty when Status is DecisionConfirmed.
type CorrectionDecision struct {
	Original string
	Status   DecisionStatus
	NewValue string
}

// SubmissionCell is the flattened (original, status, new) triple for one field.
type SubmissionCell struct {
	Field    string
	Original string
	Status   DecisionStatus
	NewValue string
}

// SubmissionRecord is the single immutable log entry produced per employee.
// Cells follow the schema's declared field order.
type SubmissionRecord struct {
	EmployeeID  int64
	Email       string
	SubmittedAt time.Time
	Cells       []SubmissionCell
}

// Row flattens the record into the log store's column order:
// employee_id, email, timestamp, then original/status/new per field.
func (r SubmissionRecord) Row() []string {
	row := make([]string, 0, 3+len(r.Cells)*3)
	row = append(row,
		strconv.FormatInt(r.EmployeeID, 10),
		r.Email,
		r.SubmittedAt.UTC().Format(time.RFC3339),
	)
	for _, cell := range r.Cells {
		row = append(row, cell.Original, string(cell.Status), cell.NewValue)
	}
	return row
}

// RowHeader returns the flattened header matching Row for the given schema.
func RowHeader(schema Schema) []string {
	header := make([]string, 0, 3+len(schema)*3)
	header = append(header, "employee_id", "email", "timestamp")
	for _, f := range schema {
		header = append(header, f.Name+"_original", f.Name+"_status", f.Name+"_new")
	}
	return header
}

// SessionState models the forward-only verification flow.
type SessionState string

const (
	// StateAnonymous is the initial state before any code has been issued.
	StateAnonymous SessionState = "anonymous"
	// StateCodeRequested means a one-time code is outstanding.
	StateCodeRequested SessionState = "code_requested"
	// StateAuthenticated means the code was verified.
	StateAuthenticated SessionState = "authenticated"
	// StateReviewing means the field review is underway.
	StateReviewing SessionState = "reviewing"
	// StateSubmitted is terminal; the employee id is permanently ineligible.
	StateSubmitted SessionState = "submitted"
)

// Session is the ephemeral per-user flow state persisted between suspend
// points. Only the code's hash is ever stored, never the plaintext.
type Session struct {
	ID         string
	State      SessionState
	Email      string
	EmployeeID int64

	// OTPHash is the hex SHA-256 digest of the outstanding code; empty when
	// no code is outstanding.
	OTPHash       string
	OTPIssuedAt   time.Time
	OTPAttempts   int
	Authenticated bool

	// Cursor is the index of the next undecided field in sequential mode.
	Cursor    int
	Decisions map[string]CorrectionDecision

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// DecisionFor returns the recorded decision for a field, if any.
func (s *Session) DecisionFor(field string) (CorrectionDecision, bool) {
	if s == nil || s.Decisions == nil {
		return CorrectionDecision{}, false
	}
	d, ok := s.Decisions[field]
	return d, ok
}

// Complete reports whether every schema field has a decision.
func (s *Session) Complete(schema Schema) bool {
	if s == nil {
		return false
	}
	for _, f := range schema {
		if _, ok := s.Decisions[f.Name]; !ok {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so callers can mutate without aliasing the stored
// session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Decisions != nil {
		out.Decisions = make(map[string]CorrectionDecision, len(s.Decisions))
		for k, v := range s.Decisions {
			out.Decisions[k] = v
		}
	}
	return &out
}
