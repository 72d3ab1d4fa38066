package localcsv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	domain "github.com/verifield/api/internal/domain"
	"github.com/verifield/api/internal/repositories"
)

const employeeIDColumn = "employee_id"

// Accepted on load; display always uses domain.DateDisplayLayout.
var dateParseLayouts = []string{
	domain.DateDisplayLayout,
	"2006-01-02",
	time.RFC3339,
}

// MasterConfig controls how the master CSV is interpreted.
type MasterConfig struct {
	// Path locates the CSV file. The first row must be a header containing
	// the employee_id column.
	Path string
	// DateColumns are forced to date treatment.
	DateColumns []string
	// TextColumns are forced to free-text treatment (name-like fields).
	TextColumns []string
}

// MasterRepository serves the master dataset from a CSV file loaded once at
// construction time. All reads answer from the in-memory copy.
type MasterRepository struct {
	schema  domain.Schema
	records map[int64]domain.MasterRecord
}

// NewMasterRepository loads and indexes the dataset, computing the field
// schema and the categorical option sets in the same pass.
func NewMasterRepository(cfg MasterConfig) (*MasterRepository, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, repositories.NewError("master.load", repositories.ErrorInvalidInput, "master dataset path is required", nil)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, repositories.NewError("master.load", repositories.ErrorUnavailable, fmt.Sprintf("open master dataset %s", path), err)
	}
	defer file.Close()

	return loadMaster(file, cfg)
}

func loadMaster(r io.Reader, cfg MasterConfig) (*MasterRepository, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, repositories.NewError("master.load", repositories.ErrorInvalidInput, "master dataset has no header row", err)
	}

	idIndex := -1
	columns := make([]string, 0, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == employeeIDColumn {
			idIndex = i
		}
		columns = append(columns, name)
	}
	if idIndex < 0 {
		return nil, repositories.NewError("master.load", repositories.ErrorInvalidInput, "master dataset is missing the employee_id column", nil)
	}

	dateCols := toSet(cfg.DateColumns)
	textCols := toSet(cfg.TextColumns)

	records := make(map[int64]domain.MasterRecord)
	optionSets := make(map[string]map[string]struct{})

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, repositories.NewError("master.load", repositories.ErrorInvalidInput, "malformed master dataset row", err)
		}

		rawID := strings.TrimSpace(row[idIndex])
		employeeID, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			return nil, repositories.NewError("master.load", repositories.ErrorInvalidInput, fmt.Sprintf("employee_id %q is not numeric", rawID), err)
		}

		values := make(map[string]domain.FieldValue, len(columns)-1)
		for i, column := range columns {
			if i == idIndex || i >= len(row) {
				continue
			}
			raw := strings.TrimSpace(row[i])
			value := domain.FieldValue{}
			if raw != "" {
				value.Present = true
				value.Text = raw
				if _, isDate := dateCols[column]; isDate {
					if parsed, ok := parseDate(raw); ok {
						value.IsDate = true
						value.Date = parsed
					}
				}
			}
			values[column] = value

			_, forcedDate := dateCols[column]
			_, forcedText := textCols[column]
			if value.Present && !forcedDate && !forcedText {
				set, ok := optionSets[column]
				if !ok {
					set = make(map[string]struct{})
					optionSets[column] = set
				}
				set[value.Display()] = struct{}{}
			}
		}

		records[employeeID] = domain.MasterRecord{EmployeeID: employeeID, Values: values}
	}

	titler := cases.Title(language.English)
	schema := make(domain.Schema, 0, len(columns)-1)
	for i, column := range columns {
		if i == idIndex {
			continue
		}
		field := domain.FieldSchema{
			Name:  column,
			Label: titler.String(strings.ReplaceAll(column, "_", " ")),
		}
		switch {
		case contains(dateCols, column):
			field.Type = domain.FieldTypeDate
		case contains(textCols, column):
			field.Type = domain.FieldTypeText
		default:
			field.Type = domain.FieldTypeCategorical
			field.Options = sortedOptions(optionSets[column])
		}
		schema = append(schema, field)
	}

	return &MasterRepository{schema: schema, records: records}, nil
}

// Schema implements repositories.MasterDataRepository.
func (r *MasterRepository) Schema(_ context.Context) (domain.Schema, error) {
	return r.schema, nil
}

// Record implements repositories.MasterDataRepository.
func (r *MasterRepository) Record(_ context.Context, employeeID int64) (domain.MasterRecord, error) {
	record, ok := r.records[employeeID]
	if !ok {
		return domain.MasterRecord{}, repositories.NewError("master.record", repositories.ErrorNotFound, fmt.Sprintf("employee %d not found", employeeID), nil)
	}
	return record, nil
}

// Exists implements repositories.MasterDataRepository.
func (r *MasterRepository) Exists(_ context.Context, employeeID int64) (bool, error) {
	_, ok := r.records[employeeID]
	return ok, nil
}

func parseDate(raw string) (time.Time, bool) {
	for _, layout := range dateParseLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

func contains(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}

func sortedOptions(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
