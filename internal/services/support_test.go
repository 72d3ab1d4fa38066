package services

import (
	"context"
	"sync"
	"time"

	domain "github.com/verifield/api/internal/domain"
	"github.com/verifield/api/internal/repositories"
)

type sentMail struct {
	to      string
	subject string
	body    string
}

type stubMailer struct {
	sent []sentMail
	err  error
}

func (m *stubMailer) Send(_ context.Context, to, subject, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

type stubMasterRepo struct {
	schema    domain.Schema
	records   map[int64]domain.MasterRecord
	schemaErr error
	recordErr error
	existsErr error
}

func (r *stubMasterRepo) Schema(context.Context) (domain.Schema, error) {
	if r.schemaErr != nil {
		return nil, r.schemaErr
	}
	return r.schema, nil
}

func (r *stubMasterRepo) Record(_ context.Context, employeeID int64) (domain.MasterRecord, error) {
	if r.recordErr != nil {
		return domain.MasterRecord{}, r.recordErr
	}
	record, ok := r.records[employeeID]
	if !ok {
		return domain.MasterRecord{}, repositories.NewError("master.record", repositories.ErrorNotFound, "no such employee", nil)
	}
	return record, nil
}

func (r *stubMasterRepo) Exists(_ context.Context, employeeID int64) (bool, error) {
	if r.existsErr != nil {
		return false, r.existsErr
	}
	_, ok := r.records[employeeID]
	return ok, nil
}

type stubSubmissionLog struct {
	ids       map[int64]struct{}
	listErr   error
	appendErr error
	appended  []domain.SubmissionRecord
}

func (l *stubSubmissionLog) Append(_ context.Context, record domain.SubmissionRecord) error {
	if l.appendErr != nil {
		return l.appendErr
	}
	l.appended = append(l.appended, record)
	if l.ids == nil {
		l.ids = make(map[int64]struct{})
	}
	l.ids[record.EmployeeID] = struct{}{}
	return nil
}

func (l *stubSubmissionLog) ListEmployeeIDs(context.Context) (map[int64]struct{}, error) {
	if l.listErr != nil {
		return nil, l.listErr
	}
	out := make(map[int64]struct{}, len(l.ids))
	for id := range l.ids {
		out[id] = struct{}{}
	}
	return out, nil
}

type stubSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	putErr   error
	deleted  []string
}

func (r *stubSessionRepo) Get(_ context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, repositories.NewError("sessions.get", repositories.ErrorNotFound, "no such session", nil)
	}
	return session.Clone(), nil
}

func (r *stubSessionRepo) Put(_ context.Context, session *domain.Session) error {
	if r.putErr != nil {
		return r.putErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions == nil {
		r.sessions = make(map[string]*domain.Session)
	}
	r.sessions[session.ID] = session.Clone()
	return nil
}

func (r *stubSessionRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	r.deleted = append(r.deleted, id)
	return nil
}

type recordingWarnLogger struct {
	messages []string
}

func (l *recordingWarnLogger) Warnf(format string, _ ...any) {
	l.messages = append(l.messages, format)
}

func testSchema() domain.Schema {
	return domain.Schema{
		{Name: "first_name", Label: "First Name", Type: domain.FieldTypeText},
		{Name: "marital_status", Label: "Marital Status", Type: domain.FieldTypeCategorical, Options: []string{"Divorced", "Married", "Single"}},
		{Name: "joining_date", Label: "Joining Date", Type: domain.FieldTypeDate},
	}
}

func testRecord(employeeID int64) domain.MasterRecord {
	return domain.MasterRecord{
		EmployeeID: employeeID,
		Values: map[string]domain.FieldValue{
			"first_name":     {Text: "Priya", Present: true},
			"marital_status": {Text: "Single", Present: true},
			"joining_date":   {Date: time.Date(2021, time.June, 14, 0, 0, 0, 0, time.UTC), IsDate: true, Present: true},
		},
	}
}

func testMaster(employeeIDs ...int64) *stubMasterRepo {
	records := make(map[int64]domain.MasterRecord, len(employeeIDs))
	for _, id := range employeeIDs {
		records[id] = testRecord(id)
	}
	return &stubMasterRepo{schema: testSchema(), records: records}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
