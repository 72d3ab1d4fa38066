package services

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/verifield/api/internal/domain"
	"github.com/verifield/api/internal/repositories"
)

type fieldReviewer struct {
	master    repositories.MasterDataRepository
	clock     func() time.Time
	sanitizer *bluemonday.Policy
}

// FieldReviewerDeps bundles constructor inputs for the field reviewer.
type FieldReviewerDeps struct {
	Master repositories.MasterDataRepository
	Clock  func() time.Time
}

// NewFieldReviewer creates the reviewer that collects per-field decisions.
func NewFieldReviewer(deps FieldReviewerDeps) (FieldReviewer, error) {
	if deps.Master == nil {
		return nil, fmt.Errorf("field reviewer: master data repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &fieldReviewer{
		master:    deps.Master,
		clock:     func() time.Time { return clock().UTC() },
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

// View implements FieldReviewer.
func (r *fieldReviewer) View(ctx context.Context, session *domain.Session) (ReviewView, error) {
	schema, record, err := r.load(ctx, session)
	if err != nil {
		return ReviewView{}, err
	}

	view := ReviewView{Fields: make([]ReviewField, 0, len(schema))}
	for _, f := range schema {
		value := record.Values[f.Name]
		field := ReviewField{
			Name:     f.Name,
			Label:    f.Label,
			Type:     f.Type,
			Original: value.Display(),
		}
		switch f.Type {
		case domain.FieldTypeCategorical:
			field.Options = optionsWithCurrent(f.Options, value)
		case domain.FieldTypeDate:
			if value.Present {
				field.Default = value.Display()
			} else {
				field.Default = r.clock().Format(domain.DateDisplayLayout)
			}
		}
		if decision, ok := session.DecisionFor(f.Name); ok {
			field.Decided = decision.Status
			field.NewValue = decision.NewValue
		}
		view.Fields = append(view.Fields, field)
	}

	view.Cursor = firstUndecided(schema, session)
	view.Complete = view.Cursor == len(schema)
	return view, nil
}

// ApplyBatch implements FieldReviewer: one decision per schema field, all at
// once. The batch is validated in full before anything is recorded.
func (r *fieldReviewer) ApplyBatch(ctx context.Context, session *domain.Session, decisions []DecisionInput) error {
	schema, record, err := r.load(ctx, session)
	if err != nil {
		return err
	}

	byField := make(map[string]DecisionInput, len(decisions))
	for _, input := range decisions {
		name := strings.TrimSpace(input.Field)
		if _, ok := schema.Field(name); !ok {
			return NewFlowError(KindValidation, CodeInvalidDecision, fmt.Sprintf("unknown field %q", name), nil)
		}
		if _, dup := byField[name]; dup {
			return NewFlowError(KindValidation, CodeInvalidDecision, fmt.Sprintf("duplicate decision for field %q", name), nil)
		}
		byField[name] = input
	}

	resolved := make(map[string]domain.CorrectionDecision, len(schema))
	for _, f := range schema {
		input, ok := byField[f.Name]
		if !ok {
			return NewFlowError(KindValidation, CodeReviewIncomplete, fmt.Sprintf("missing decision for field %q", f.Name), nil)
		}
		decision, err := r.makeDecision(f, record.Values[f.Name], input)
		if err != nil {
			return err
		}
		resolved[f.Name] = decision
	}

	if session.Decisions == nil {
		session.Decisions = make(map[string]domain.CorrectionDecision, len(resolved))
	}
	for name, decision := range resolved {
		session.Decisions[name] = decision
	}
	session.Cursor = len(schema)
	return nil
}

// ApplyNext implements FieldReviewer: records the decision for the cursor
// field only, then advances. The cursor never moves past an unset decision.
func (r *fieldReviewer) ApplyNext(ctx context.Context, session *domain.Session, input DecisionInput) error {
	schema, record, err := r.load(ctx, session)
	if err != nil {
		return err
	}

	cursor := firstUndecided(schema, session)
	if cursor >= len(schema) {
		return NewFlowError(KindValidation, CodeInvalidDecision, "every field is already decided", nil)
	}

	current := schema[cursor]
	name := strings.TrimSpace(input.Field)
	if name != "" && name != current.Name {
		return NewFlowError(KindValidation, CodeInvalidDecision, fmt.Sprintf("expected a decision for field %q", current.Name), nil)
	}

	decision, err := r.makeDecision(current, record.Values[current.Name], input)
	if err != nil {
		return err
	}

	if session.Decisions == nil {
		session.Decisions = make(map[string]domain.CorrectionDecision, len(schema))
	}
	session.Decisions[current.Name] = decision
	session.Cursor = firstUndecided(schema, session)
	return nil
}

func (r *fieldReviewer) load(ctx context.Context, session *domain.Session) (domain.Schema, domain.MasterRecord, error) {
	if session == nil || !session.Authenticated {
		return nil, domain.MasterRecord{}, NewFlowError(KindState, CodeInvalidState, "authentication required", nil)
	}
	schema, err := r.master.Schema(ctx)
	if err != nil {
		return nil, domain.MasterRecord{}, err
	}
	record, err := r.master.Record(ctx, session.EmployeeID)
	if err != nil {
		return nil, domain.MasterRecord{}, err
	}
	return schema, record, nil
}

func (r *fieldReviewer) makeDecision(f domain.FieldSchema, value domain.FieldValue, input DecisionInput) (domain.CorrectionDecision, error) {
	original := originalRowValue(value)

	if input.Confirm {
		return domain.CorrectionDecision{
			Original: original,
			Status:   domain.DecisionConfirmed,
		}, nil
	}

	newValue := strings.TrimSpace(input.NewValue)
	switch f.Type {
	case domain.FieldTypeCategorical:
		allowed := optionsWithCurrent(f.Options, value)
		found := false
		for _, option := range allowed {
			if option == newValue {
				found = true
				break
			}
		}
		if !found {
			return domain.CorrectionDecision{}, NewFlowError(KindValidation, CodeInvalidDecision, fmt.Sprintf("%q is not an allowed value for %s", newValue, f.Name), nil)
		}
	case domain.FieldTypeDate:
		parsed, err := time.Parse(domain.DateDisplayLayout, newValue)
		if err != nil {
			return domain.CorrectionDecision{}, NewFlowError(KindValidation, CodeInvalidDecision, fmt.Sprintf("%s must be a dd/mm/yyyy date", f.Name), err)
		}
		newValue = parsed.Format(domain.DateDisplayLayout)
	default:
		newValue = r.sanitizeText(newValue)
		if newValue == "" {
			// A blank original never makes an empty correction valid.
			return domain.CorrectionDecision{}, NewFlowError(KindValidation, CodeInvalidDecision, fmt.Sprintf("a correction for %s cannot be empty", f.Name), nil)
		}
	}

	return domain.CorrectionDecision{
		Original: original,
		Status:   domain.DecisionCorrected,
		NewValue: newValue,
	}, nil
}

func (r *fieldReviewer) sanitizeText(input string) string {
	sanitized := r.sanitizer.Sanitize(input)
	// StrictPolicy entity-escapes its output; undo that for plain values.
	return strings.TrimSpace(html.UnescapeString(sanitized))
}

// originalRowValue is the value recorded in the log row: dates in dd/mm/yyyy,
// absent originals as the empty string (the blank sentinel is display-only).
func originalRowValue(v domain.FieldValue) string {
	if !v.Present {
		return ""
	}
	return v.Display()
}

// optionsWithCurrent unions the precomputed allowed set with the record's
// current value so an out-of-set value stays selectable.
func optionsWithCurrent(options []string, value domain.FieldValue) []string {
	if !value.Present {
		return options
	}
	current := value.Display()
	for _, option := range options {
		if option == current {
			return options
		}
	}
	merged := make([]string, 0, len(options)+1)
	merged = append(merged, options...)
	merged = append(merged, current)
	sort.Strings(merged)
	return merged
}

func firstUndecided(schema domain.Schema, session *domain.Session) int {
	for i, f := range schema {
		if _, ok := session.DecisionFor(f.Name); !ok {
			return i
		}
	}
	return len(schema)
}
