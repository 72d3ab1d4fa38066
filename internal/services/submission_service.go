package services

import (
	"context"
	"fmt"
	"time"

	domain "github.com/verifield/api/internal/domain"
	"github.com/verifield/api/internal/repositories"
)

type submissionRecorder struct {
	master    repositories.MasterDataRepository
	primary   repositories.SubmissionLogRepository
	fallback  repositories.SubmissionLogRepository
	gate      IdentityGate
	publisher SubmissionEventPublisher
	clock     func() time.Time
	logger    WarnLogger
}

// SubmissionRecorderDeps bundles constructor inputs for the recorder.
type SubmissionRecorderDeps struct {
	Master   repositories.MasterDataRepository
	Primary  repositories.SubmissionLogRepository
	Fallback repositories.SubmissionLogRepository
	Gate     IdentityGate
	// Publisher is optional; publish failures never affect the outcome.
	Publisher SubmissionEventPublisher
	Clock     func() time.Time
	Logger    WarnLogger
}

// NewSubmissionRecorder creates the recorder that writes the single log row.
func NewSubmissionRecorder(deps SubmissionRecorderDeps) (SubmissionRecorder, error) {
	if deps.Master == nil {
		return nil, fmt.Errorf("submission recorder: master data repository is required")
	}
	if deps.Primary == nil {
		return nil, fmt.Errorf("submission recorder: primary submission log is required")
	}
	if deps.Fallback == nil {
		return nil, fmt.Errorf("submission recorder: fallback submission log is required")
	}
	if deps.Gate == nil {
		return nil, fmt.Errorf("submission recorder: identity gate is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopWarnLogger{}
	}

	return &submissionRecorder{
		master:    deps.Master,
		primary:   deps.Primary,
		fallback:  deps.Fallback,
		gate:      deps.Gate,
		publisher: deps.Publisher,
		clock:     func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

// Submit builds the flattened row and writes it exactly once: the primary
// store first, the local fallback on any primary failure. The timestamp is
// captured at submit time, not earlier.
func (s *submissionRecorder) Submit(ctx context.Context, session *domain.Session) (SubmitResult, error) {
	if session == nil || !session.Authenticated {
		return SubmitResult{}, NewFlowError(KindState, CodeInvalidState, "authentication required", nil)
	}

	schema, err := s.master.Schema(ctx)
	if err != nil {
		return SubmitResult{}, err
	}
	if !session.Complete(schema) {
		return SubmitResult{}, NewFlowError(KindValidation, CodeReviewIncomplete, "every field needs a decision before submitting", nil)
	}

	// Narrows the window between the gate's pre-check and the append when
	// two flows for the same employee started before either submitted.
	submitted, err := s.gate.AlreadySubmitted(ctx, session.EmployeeID)
	if err != nil {
		return SubmitResult{}, err
	}
	if submitted {
		return SubmitResult{}, NewFlowError(KindValidation, CodeAlreadySubmitted, "a submission already exists for this employee id", nil)
	}

	record := domain.SubmissionRecord{
		EmployeeID:  session.EmployeeID,
		Email:       session.Email,
		SubmittedAt: s.clock(),
		Cells:       make([]domain.SubmissionCell, 0, len(schema)),
	}
	corrected := 0
	for _, f := range schema {
		decision := session.Decisions[f.Name]
		if decision.Status == domain.DecisionCorrected {
			corrected++
		}
		record.Cells = append(record.Cells, domain.SubmissionCell{
			Field:    f.Name,
			Original: decision.Original,
			Status:   decision.Status,
			NewValue: decision.NewValue,
		})
	}

	result := SubmitResult{SubmittedAt: record.SubmittedAt}
	if err := s.primary.Append(ctx, record); err != nil {
		s.logger.Warnf("submission recorder: primary append failed, using fallback: %v", err)
		if fallbackErr := s.fallback.Append(ctx, record); fallbackErr != nil {
			return SubmitResult{}, NewFlowError(KindPersistence, CodeSubmissionFailed, "could not record the submission in either store", fallbackErr)
		}
		result.FallbackUsed = true
	}

	s.publish(ctx, record, result.FallbackUsed, corrected)
	return result, nil
}

func (s *submissionRecorder) publish(ctx context.Context, record domain.SubmissionRecord, fallbackUsed bool, corrected int) {
	if s.publisher == nil {
		return
	}
	event := SubmissionEvent{
		EmployeeID:   record.EmployeeID,
		Email:        record.Email,
		SubmittedAt:  record.SubmittedAt,
		FallbackUsed: fallbackUsed,
		Corrected:    corrected,
	}
	if _, err := s.publisher.PublishSubmission(ctx, event); err != nil {
		s.logger.Warnf("submission recorder: event publish failed: %v", err)
	}
}
