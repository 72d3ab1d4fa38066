package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/verifield/api/internal/domain"
)

type recorderFixture struct {
	recorder  SubmissionRecorder
	master    *stubMasterRepo
	primary   *stubSubmissionLog
	fallback  *stubSubmissionLog
	publisher *stubPublisher
	logger    *recordingWarnLogger
}

type stubPublisher struct {
	events []SubmissionEvent
	err    error
}

func (p *stubPublisher) PublishSubmission(_ context.Context, event SubmissionEvent) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.events = append(p.events, event)
	return "msg-1", nil
}

func newRecorderFixture(t *testing.T, now time.Time) *recorderFixture {
	t.Helper()
	master := testMaster(1042)
	primary := &stubSubmissionLog{}
	fallback := &stubSubmissionLog{}
	publisher := &stubPublisher{}
	logger := &recordingWarnLogger{}

	issuer := newTestIssuer(t, &stubMailer{}, fixedClock(now))
	gate, err := NewIdentityGate(IdentityGateDeps{
		Master:         master,
		Primary:        primary,
		Fallback:       fallback,
		Issuer:         issuer,
		Clock:          fixedClock(now),
		AllowedDomains: []string{"globex.com"},
	})
	if err != nil {
		t.Fatalf("NewIdentityGate: %v", err)
	}

	recorder, err := NewSubmissionRecorder(SubmissionRecorderDeps{
		Master:    master,
		Primary:   primary,
		Fallback:  fallback,
		Gate:      gate,
		Publisher: publisher,
		Clock:     fixedClock(now),
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("NewSubmissionRecorder: %v", err)
	}
	return &recorderFixture{recorder: recorder, master: master, primary: primary, fallback: fallback, publisher: publisher, logger: logger}
}

func decidedSession() *domain.Session {
	return &domain.Session{
		ID:            "s1",
		Email:         "priya@globex.com",
		EmployeeID:    1042,
		Authenticated: true,
		State:         domain.StateReviewing,
		Decisions: map[string]domain.CorrectionDecision{
			"first_name":     {Original: "Priya", Status: domain.DecisionConfirmed},
			"marital_status": {Original: "Single", Status: domain.DecisionCorrected, NewValue: "Married"},
			"joining_date":   {Original: "14/06/2021", Status: domain.DecisionConfirmed},
		},
	}
}

func TestSubmitWritesFlattenedRowToPrimary(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)
	fx := newRecorderFixture(t, now)

	result, err := fx.recorder.Submit(context.Background(), decidedSession())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.FallbackUsed {
		t.Fatalf("the primary store accepted the row")
	}
	if !result.SubmittedAt.Equal(now) {
		t.Fatalf("the timestamp is captured at submit time, got %v", result.SubmittedAt)
	}
	if len(fx.primary.appended) != 1 || len(fx.fallback.appended) != 0 {
		t.Fatalf("expected exactly one primary row, got %d primary / %d fallback", len(fx.primary.appended), len(fx.fallback.appended))
	}

	row := fx.primary.appended[0].Row()
	want := []string{
		"1042", "priya@globex.com", "2025-03-10T09:30:00Z",
		"Priya", "confirmed", "",
		"Single", "corrected", "Married",
		"14/06/2021", "confirmed", "",
	}
	if len(row) != len(want) {
		t.Fatalf("expected %d columns, got %d", len(want), len(row))
	}
	for i := range want {
		if row[i] != want[i] {
			t.Fatalf("column %d: expected %q, got %q", i, want[i], row[i])
		}
	}
}

func TestSubmitFallsBackWhenPrimaryFails(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)
	fx := newRecorderFixture(t, now)
	fx.primary.appendErr = errors.New("quota exceeded")

	result, err := fx.recorder.Submit(context.Background(), decidedSession())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !result.FallbackUsed {
		t.Fatalf("expected the fallback store to take the row")
	}
	if len(fx.fallback.appended) != 1 {
		t.Fatalf("expected one fallback row, got %d", len(fx.fallback.appended))
	}
	if len(fx.logger.messages) == 0 {
		t.Fatalf("expected a warning about the failed primary")
	}
}

func TestSubmitFailsWhenBothStoresFail(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)
	fx := newRecorderFixture(t, now)
	fx.primary.appendErr = errors.New("quota exceeded")
	fx.fallback.appendErr = errors.New("disk full")

	_, err := fx.recorder.Submit(context.Background(), decidedSession())
	flowErr, ok := AsFlowError(err)
	if !ok || flowErr.Code != CodeSubmissionFailed {
		t.Fatalf("expected submission_failed, got %v", err)
	}
	if len(fx.publisher.events) != 0 {
		t.Fatalf("no event should be published for a failed submission")
	}
}

func TestSubmitRejectsIncompleteReview(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)
	fx := newRecorderFixture(t, now)

	session := decidedSession()
	delete(session.Decisions, "joining_date")
	_, err := fx.recorder.Submit(context.Background(), session)
	flowErr, ok := AsFlowError(err)
	if !ok || flowErr.Code != CodeReviewIncomplete {
		t.Fatalf("expected review_incomplete, got %v", err)
	}
	if len(fx.primary.appended) != 0 {
		t.Fatalf("an incomplete review must not be written")
	}
}

func TestSubmitRejectsDuplicate(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)
	fx := newRecorderFixture(t, now)
	fx.fallback.ids = map[int64]struct{}{1042: {}}

	_, err := fx.recorder.Submit(context.Background(), decidedSession())
	flowErr, ok := AsFlowError(err)
	if !ok || flowErr.Code != CodeAlreadySubmitted {
		t.Fatalf("expected already_submitted, got %v", err)
	}
}

func TestSubmitPublishesEvent(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)
	fx := newRecorderFixture(t, now)

	if _, err := fx.recorder.Submit(context.Background(), decidedSession()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(fx.publisher.events) != 1 {
		t.Fatalf("expected one event, got %d", len(fx.publisher.events))
	}
	event := fx.publisher.events[0]
	if event.EmployeeID != 1042 || event.Email != "priya@globex.com" {
		t.Fatalf("unexpected event identity %+v", event)
	}
	if event.Corrected != 1 {
		t.Fatalf("expected one corrected field, got %d", event.Corrected)
	}
	if event.FallbackUsed {
		t.Fatalf("the primary store took the row")
	}
}

func TestSubmitPublishFailureIsNonFatal(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)
	fx := newRecorderFixture(t, now)
	fx.publisher.err = errors.New("topic gone")

	if _, err := fx.recorder.Submit(context.Background(), decidedSession()); err != nil {
		t.Fatalf("a publish failure must not fail the submission: %v", err)
	}
	if len(fx.logger.messages) == 0 {
		t.Fatalf("expected a warning about the failed publish")
	}
}

func TestSubmitRequiresAuthentication(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)
	fx := newRecorderFixture(t, now)

	session := decidedSession()
	session.Authenticated = false
	_, err := fx.recorder.Submit(context.Background(), session)
	flowErr, ok := AsFlowError(err)
	if !ok || flowErr.Code != CodeInvalidState {
		t.Fatalf("expected invalid_state, got %v", err)
	}
}
