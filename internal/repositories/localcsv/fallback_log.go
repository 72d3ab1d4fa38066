package localcsv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	domain "github.com/verifield/api/internal/domain"
	"github.com/verifield/api/internal/repositories"
)

// FallbackLog is the local durable submission sink used when the primary
// store is unreachable. The header row is written exactly once, on first
// append to a missing or empty file.
type FallbackLog struct {
	path   string
	schema domain.Schema

	mu sync.Mutex
}

// NewFallbackLog constructs the fallback store. The file is not created until
// the first append.
func NewFallbackLog(path string, schema domain.Schema) (*FallbackLog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, repositories.NewError("fallback.new", repositories.ErrorInvalidInput, "fallback log path is required", nil)
	}
	if len(schema) == 0 {
		return nil, repositories.NewError("fallback.new", repositories.ErrorInvalidInput, "fallback log schema is required", nil)
	}
	return &FallbackLog{path: path, schema: schema}, nil
}

// Append implements repositories.SubmissionLogRepository.
func (l *FallbackLog) Append(_ context.Context, record domain.SubmissionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return repositories.NewError("fallback.append", repositories.ErrorUnavailable, fmt.Sprintf("open fallback log %s", l.path), err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return repositories.NewError("fallback.append", repositories.ErrorUnavailable, "stat fallback log", err)
	}

	writer := csv.NewWriter(file)
	if info.Size() == 0 {
		if err := writer.Write(domain.RowHeader(l.schema)); err != nil {
			return repositories.NewError("fallback.append", repositories.ErrorUnavailable, "write fallback header", err)
		}
	}
	if err := writer.Write(record.Row()); err != nil {
		return repositories.NewError("fallback.append", repositories.ErrorUnavailable, "write fallback row", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return repositories.NewError("fallback.append", repositories.ErrorUnavailable, "flush fallback row", err)
	}
	if err := file.Sync(); err != nil {
		return repositories.NewError("fallback.append", repositories.ErrorUnavailable, "sync fallback log", err)
	}
	return nil
}

// ListEmployeeIDs implements repositories.SubmissionLogRepository. A missing
// file means no submissions have been recorded locally.
func (l *FallbackLog) ListEmployeeIDs(_ context.Context) (map[int64]struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[int64]struct{}{}, nil
	}
	if err != nil {
		return nil, repositories.NewError("fallback.list", repositories.ErrorUnavailable, fmt.Sprintf("open fallback log %s", l.path), err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	// Rows can grow a column triple when the schema gains a field.
	reader.FieldsPerRecord = -1

	ids := make(map[int64]struct{})
	first := true
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, repositories.NewError("fallback.list", repositories.ErrorUnavailable, "read fallback log", err)
		}
		if first {
			first = false
			if len(row) > 0 && row[0] == "employee_id" {
				continue
			}
		}
		if len(row) == 0 {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
		if err != nil {
			continue
		}
		ids[id] = struct{}{}
	}
	return ids, nil
}
