package service

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-student-records/internal/dto"
	"github.com/noah-isme/sma-student-records/internal/models"
	appErrors "github.com/noah-isme/sma-student-records/pkg/errors"
	"github.com/noah-isme/sma-student-records/pkg/export"
)

type pagedLister struct {
	students []models.Student
	filters  []models.StudentFilter
}

func (p *pagedLister) List(ctx context.Context, instansiID string, filter models.StudentFilter) ([]models.Student, *models.Pagination, bool, error) {
	p.filters = append(p.filters, filter)
	start := (filter.Page - 1) * filter.PageSize
	if start > len(p.students) {
		start = len(p.students)
	}
	end := start + filter.PageSize
	if end > len(p.students) {
		end = len(p.students)
	}
	return p.students[start:end], models.NewPagination(filter.Page, filter.PageSize, len(p.students)), false, nil
}

func exportStudents(n int) []models.Student {
	out := make([]models.Student, n)
	for i := range out {
		out[i] = models.Student{
			ID:         fmt.Sprintf("s%03d", i),
			InstansiID: "tenant-1",
			NIK:        fmt.Sprintf("3201010101%06d", i),
			FullName:   fmt.Sprintf("Siswa %d", i),
			Gender:     models.GenderFemale,
			IsActive:   true,
		}
	}
	return out
}

func newExportFixture(n, maxRows int) (*ExportService, *pagedLister) {
	lister := &pagedLister{students: exportStudents(n)}
	svc := NewExportService(lister, ExportConfig{MaxRows: maxRows}, nil, nil, nil, nil)
	svc.now = func() time.Time { return time.Date(2024, 8, 1, 9, 30, 0, 0, time.UTC) }
	return svc, lister
}

func TestExportServiceCSVPagesThroughList(t *testing.T) {
	svc, lister := newExportFixture(250, 0)
	filter := models.StudentFilter{Status: models.StudentStatusActive, AcademicYear: "2024/2025"}

	file, err := svc.Export(context.Background(), "tenant-1", ExportFormatCSV, filter)
	require.NoError(t, err)
	assert.Equal(t, "siswa_tenant-1_20240801_093000.csv", file.Filename)
	assert.Equal(t, contentTypeCSV, file.ContentType)

	rows, err := export.ReadCSV(file.Content)
	require.NoError(t, err)
	require.Len(t, rows, 251)
	assert.Equal(t, dto.StudentFieldNames(), rows[0])
	assert.Equal(t, "3201010101000000", rows[1][0])

	require.Len(t, lister.filters, 3)
	for _, f := range lister.filters {
		assert.Equal(t, models.StudentStatusActive, f.Status)
		assert.Equal(t, "2024/2025", f.AcademicYear)
	}
}

func TestExportServiceMaxRows(t *testing.T) {
	svc, lister := newExportFixture(250, 120)

	file, err := svc.Export(context.Background(), "tenant-1", ExportFormatExcel, models.StudentFilter{})
	require.NoError(t, err)
	assert.Equal(t, contentTypeXLSX, file.ContentType)

	rows, err := export.ReadXLSX(file.Content)
	require.NoError(t, err)
	assert.Len(t, rows, 121)
	assert.Len(t, lister.filters, 2)
}

func TestExportServiceTemplateAndPDF(t *testing.T) {
	svc, lister := newExportFixture(3, 0)
	ctx := context.Background()

	template, err := svc.Export(ctx, "tenant-1", ExportFormatTemplate, models.StudentFilter{})
	require.NoError(t, err)
	rows, err := export.ReadXLSX(template.Content)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, dto.StudentFieldNames(), rows[0])
	assert.Empty(t, lister.filters)

	pdf, err := svc.Export(ctx, "tenant-1", ExportFormatPDF, models.StudentFilter{})
	require.NoError(t, err)
	assert.Equal(t, contentTypePDF, pdf.ContentType)
	assert.True(t, bytes.HasPrefix(pdf.Content, []byte("%PDF")))
}

func TestExportServiceUnsupportedFormat(t *testing.T) {
	svc, _ := newExportFixture(1, 0)
	_, err := svc.Export(context.Background(), "tenant-1", "docx", models.StudentFilter{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}
