package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-student-records/internal/dto"
	"github.com/noah-isme/sma-student-records/internal/models"
	appErrors "github.com/noah-isme/sma-student-records/pkg/errors"
	"github.com/noah-isme/sma-student-records/pkg/export"
)

const (
	importOutcomeImported = "imported"
	importOutcomeFailed   = "failed"
)

type studentCreator interface {
	Create(ctx context.Context, instansiID string, payload dto.StudentPayload) (*models.Student, error)
}

// ImportConfig bounds a single bulk import.
type ImportConfig struct {
	MaxRows int
}

// ImportService turns spreadsheet uploads into student records row by row.
type ImportService struct {
	students studentCreator
	metrics  *MetricsService
	logger   *zap.Logger
	cfg      ImportConfig
}

// NewImportService constructs the bulk import service.
func NewImportService(students studentCreator, metrics *MetricsService, logger *zap.Logger, cfg ImportConfig) *ImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportService{students: students, metrics: metrics, logger: logger, cfg: cfg}
}

// ImportStudents parses an .xlsx or .csv upload and creates one student per data row.
// Row failures are reported in the result and never stop the batch.
func (s *ImportService) ImportStudents(ctx context.Context, instansiID, filename string, payload []byte) (*dto.ImportResult, error) {
	rows, err := readSheet(filename, payload)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is empty")
	}

	columns, err := mapImportHeader(rows[0])
	if err != nil {
		return nil, err
	}
	data := rows[1:]
	if s.cfg.MaxRows > 0 && len(data) > s.cfg.MaxRows {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file has %d rows, maximum is %d", len(data), s.cfg.MaxRows))
	}

	result := &dto.ImportResult{Results: make([]dto.ImportRowResult, 0, len(data))}
	for i, cells := range data {
		if err := ctx.Err(); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "import cancelled")
		}
		if blankRow(cells) {
			continue
		}
		rowNumber := i + 1
		student, err := s.importRow(ctx, instansiID, columns, cells)
		if err != nil {
			result.Failed++
			s.metrics.RecordImportRow(importOutcomeFailed)
			appErr := appErrors.FromError(err)
			message := appErr.Message
			if appErr.Code == appErrors.ErrValidation.Code {
				message = appErr.Error()
			}
			result.Results = append(result.Results, dto.ImportRowResult{
				Success: false,
				Error:   message,
				Code:    appErr.Code,
				Row:     rowNumber,
			})
			continue
		}
		result.Imported++
		s.metrics.RecordImportRow(importOutcomeImported)
		result.Results = append(result.Results, dto.ImportRowResult{Success: true, Data: student, Row: rowNumber})
	}
	result.Success = result.Failed == 0

	s.logger.Info("student import finished",
		zap.String("instansi_id", instansiID),
		zap.String("file", filename),
		zap.Int("imported", result.Imported),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func (s *ImportService) importRow(ctx context.Context, instansiID string, columns []string, cells []string) (*models.Student, error) {
	values := make(map[string]string, len(columns))
	for idx, field := range columns {
		if field == "" || idx >= len(cells) {
			continue
		}
		values[field] = cells[idx]
	}
	payload, err := dto.PayloadFromRow(values)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid row")
	}
	return s.students.Create(ctx, instansiID, payload)
}

func readSheet(filename string, payload []byte) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		rows, err := export.ReadXLSX(payload)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unreadable xlsx file")
		}
		return rows, nil
	case ".csv":
		rows, err := export.ReadCSV(payload)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unreadable csv file")
		}
		return rows, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported file type, expected .xlsx or .csv")
	}
}

// mapImportHeader resolves each header cell to a canonical field. Unknown columns map to "".
func mapImportHeader(header []string) ([]string, error) {
	columns := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, cell := range header {
		field, ok := dto.CanonicalStudentField(cell)
		if !ok || seen[field] {
			continue
		}
		seen[field] = true
		columns[i] = field
	}
	if !seen["nik"] || !seen["full_name"] {
		return nil, appErrors.Clone(appErrors.ErrValidation, "header must contain nik and full_name columns")
	}
	return columns, nil
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
