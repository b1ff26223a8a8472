package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-student-records/internal/dto"
	"github.com/noah-isme/sma-student-records/internal/models"
	appErrors "github.com/noah-isme/sma-student-records/pkg/errors"
	"github.com/noah-isme/sma-student-records/pkg/export"
)

// Export formats served under /students/export/:format.
const (
	ExportFormatTemplate = "template"
	ExportFormatExcel    = "excel"
	ExportFormatCSV      = "csv"
	ExportFormatPDF      = "pdf"
)

const (
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypeCSV  = "text/csv; charset=utf-8"
	contentTypePDF  = "application/pdf"

	exportPageSize = 100
)

var pdfColumns = []string{"nik", "nisn", "full_name", "gender", "current_grade", "academic_year", "is_active"}

var pdfLabels = map[string]string{
	"nik":           "NIK",
	"nisn":          "NISN",
	"full_name":     "Nama Lengkap",
	"gender":        "L/P",
	"current_grade": "Kelas",
	"academic_year": "Tahun Ajaran",
	"is_active":     "Aktif",
}

type studentLister interface {
	List(ctx context.Context, instansiID string, filter models.StudentFilter) ([]models.Student, *models.Pagination, bool, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type xlsxRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	MaxRows int
}

// ExportFile is a rendered download.
type ExportFile struct {
	Filename    string
	ContentType string
	Content     []byte
}

// ExportService renders student lists into downloadable files.
type ExportService struct {
	students studentLister
	csv      csvRenderer
	xlsx     xlsxRenderer
	pdf      pdfRenderer
	logger   *zap.Logger
	cfg      ExportConfig
	now      func() time.Time
}

// NewExportService constructs an ExportService. Nil renderers fall back to the defaults.
func NewExportService(students studentLister, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, xlsx xlsxRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 5000
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if xlsx == nil {
		xlsx = export.NewXLSXExporter("Siswa")
	}
	if pdf == nil {
		pdf = &export.PDFExporter{Labels: pdfLabels}
	}
	return &ExportService{
		students: students,
		csv:      csv,
		xlsx:     xlsx,
		pdf:      pdf,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Export renders the tenant's students matching filter in the requested format.
func (s *ExportService) Export(ctx context.Context, instansiID, format string, filter models.StudentFilter) (*ExportFile, error) {
	stamp := s.now().UTC().Format("20060102_150405")
	if format == ExportFormatTemplate {
		payload, err := s.xlsx.Render(export.Dataset{Headers: dto.StudentFieldNames()})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render template")
		}
		return &ExportFile{Filename: "template_import_siswa.xlsx", ContentType: contentTypeXLSX, Content: payload}, nil
	}

	var render func(export.Dataset) ([]byte, error)
	var contentType, ext string
	headers := dto.StudentFieldNames()
	switch format {
	case ExportFormatExcel:
		render, contentType, ext = s.xlsx.Render, contentTypeXLSX, "xlsx"
	case ExportFormatCSV:
		render, contentType, ext = s.csv.Render, contentTypeCSV, "csv"
	case ExportFormatPDF:
		headers = pdfColumns
		render = func(d export.Dataset) ([]byte, error) {
			return s.pdf.Render(d, fmt.Sprintf("Data Siswa %s", s.now().Format("02-01-2006")))
		}
		contentType, ext = contentTypePDF, "pdf"
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	students, err := s.collect(ctx, instansiID, filter)
	if err != nil {
		return nil, err
	}
	dataset := export.Dataset{Headers: headers, Rows: make([]map[string]string, 0, len(students))}
	for i := range students {
		dataset.Rows = append(dataset.Rows, studentExportRow(&students[i]))
	}
	payload, err := render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	s.logger.Debug("student export rendered",
		zap.String("instansi_id", instansiID),
		zap.String("format", format),
		zap.Int("rows", len(students)),
	)
	return &ExportFile{
		Filename:    fmt.Sprintf("siswa_%s_%s.%s", sanitizeFilename(instansiID), stamp, ext),
		ContentType: contentType,
		Content:     payload,
	}, nil
}

// collect pages through List until the filter is exhausted or MaxRows is reached.
func (s *ExportService) collect(ctx context.Context, instansiID string, filter models.StudentFilter) ([]models.Student, error) {
	filter.PageSize = exportPageSize
	var out []models.Student
	for page := 1; len(out) < s.cfg.MaxRows; page++ {
		filter.Page = page
		items, pagination, _, err := s.students.List(ctx, instansiID, filter)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if len(items) == 0 || pagination == nil || page >= pagination.TotalPages {
			break
		}
	}
	if len(out) > s.cfg.MaxRows {
		out = out[:s.cfg.MaxRows]
	}
	return out, nil
}

func studentExportRow(st *models.Student) map[string]string {
	row := map[string]string{
		"nik":                 st.NIK,
		"nisn":                st.NISNValue(),
		"full_name":           st.FullName,
		"nickname":            st.Nickname,
		"gender":              st.Gender,
		"birth_place":         st.BirthPlace,
		"religion":            st.Religion,
		"email":               st.Email,
		"phone":               st.Phone,
		"address":             st.Address,
		"rt":                  st.RT,
		"rw":                  st.RW,
		"village":             st.Village,
		"district":            st.District,
		"city":                st.City,
		"province":            st.Province,
		"postal_code":         st.PostalCode,
		"father_name":         st.FatherName,
		"father_nik":          st.FatherNIK,
		"father_phone":        st.FatherPhone,
		"father_occupation":   st.FatherOccupation,
		"father_education":    st.FatherEducation,
		"father_income":       st.FatherIncome,
		"mother_name":         st.MotherName,
		"mother_nik":          st.MotherNIK,
		"mother_phone":        st.MotherPhone,
		"mother_occupation":   st.MotherOccupation,
		"mother_education":    st.MotherEducation,
		"mother_income":       st.MotherIncome,
		"guardian_name":       st.GuardianName,
		"guardian_relation":   st.GuardianRelation,
		"guardian_phone":      st.GuardianPhone,
		"guardian_occupation": st.GuardianOccupation,
		"guardian_education":  st.GuardianEducation,
		"guardian_income":     st.GuardianIncome,
		"academic_year":       st.AcademicYear,
		"academic_level":      st.AcademicLevel,
		"current_grade":       st.CurrentGrade,
		"is_active":           strconv.FormatBool(st.IsActive),
	}
	if st.BirthDate != nil {
		row["birth_date"] = st.BirthDate.Format("2006-01-02")
	}
	if st.ClassID != nil {
		row["class_id"] = *st.ClassID
	}
	return row
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
