// Package sheets implements the primary submission log on top of a Google
// Sheets spreadsheet: one appended row per submission, employee ids in the
// first column.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	domain "github.com/verifield/api/internal/domain"
	"github.com/verifield/api/internal/repositories"
)

// Config identifies the spreadsheet backing the log.
type Config struct {
	SpreadsheetID string
	// SheetName is the tab holding the log rows, e.g. "Sheet1".
	SheetName string
	// CredentialsJSON holds the service account key. When empty, application
	// default credentials are used.
	CredentialsJSON string
}

// SubmissionRepository appends submission rows to the configured sheet and
// reads back the first column for the already-submitted check.
type SubmissionRepository struct {
	svc           *sheetsapi.Service
	spreadsheetID string
	sheetName     string
}

// NewSubmissionRepository dials the Sheets API and validates the config.
func NewSubmissionRepository(ctx context.Context, cfg Config) (*SubmissionRepository, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, repositories.NewError("sheets.new", repositories.ErrorInvalidInput, "spreadsheet id is required", nil)
	}
	sheetName := strings.TrimSpace(cfg.SheetName)
	if sheetName == "" {
		sheetName = "Sheet1"
	}

	opts := []option.ClientOption{option.WithScopes(sheetsapi.SpreadsheetsScope)}
	if creds := strings.TrimSpace(cfg.CredentialsJSON); creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	}
	svc, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, repositories.NewError("sheets.new", repositories.ErrorUnavailable, "dial sheets api", err)
	}

	return &SubmissionRepository{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     sheetName,
	}, nil
}

// Append implements repositories.SubmissionLogRepository.
func (r *SubmissionRepository) Append(ctx context.Context, record domain.SubmissionRecord) error {
	if r == nil || r.svc == nil {
		return repositories.NewError("sheets.append", repositories.ErrorUnavailable, "sheets repository not initialised", nil)
	}

	row := record.Row()
	values := make([]any, len(row))
	for i, cell := range row {
		values[i] = cell
	}

	_, err := r.svc.Spreadsheets.Values.
		Append(r.spreadsheetID, r.sheetName, &sheetsapi.ValueRange{Values: [][]any{values}}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return wrapAPIError("sheets.append", err)
	}
	return nil
}

// ListEmployeeIDs implements repositories.SubmissionLogRepository by reading
// the first column of the log sheet.
func (r *SubmissionRepository) ListEmployeeIDs(ctx context.Context) (map[int64]struct{}, error) {
	if r == nil || r.svc == nil {
		return nil, repositories.NewError("sheets.list", repositories.ErrorUnavailable, "sheets repository not initialised", nil)
	}

	resp, err := r.svc.Spreadsheets.Values.
		Get(r.spreadsheetID, fmt.Sprintf("%s!A:A", r.sheetName)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapAPIError("sheets.list", err)
	}

	ids := make(map[int64]struct{}, len(resp.Values))
	for _, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		raw, ok := row[0].(string)
		if !ok {
			raw = fmt.Sprint(row[0])
		}
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			// Header row and stray cells are not ids.
			continue
		}
		ids[id] = struct{}{}
	}
	return ids, nil
}

func wrapAPIError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return repositories.NewError(op, repositories.ErrorUnavailable, fmt.Sprintf("sheets api status %d", apiErr.Code), err)
	}
	return repositories.NewError(op, repositories.ErrorUnavailable, "sheets api call failed", err)
}
