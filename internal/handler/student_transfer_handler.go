package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-student-records/internal/dto"
	"github.com/noah-isme/sma-student-records/internal/middleware"
	"github.com/noah-isme/sma-student-records/internal/models"
	"github.com/noah-isme/sma-student-records/internal/service"
	appErrors "github.com/noah-isme/sma-student-records/pkg/errors"
	"github.com/noah-isme/sma-student-records/pkg/response"
)

// multipartOverhead allows for boundaries and part headers on top of the file itself.
const multipartOverhead = 64 << 10

type studentImporter interface {
	ImportStudents(ctx context.Context, instansiID, filename string, payload []byte) (*dto.ImportResult, error)
}

type studentExporter interface {
	Export(ctx context.Context, instansiID, format string, filter models.StudentFilter) (*service.ExportFile, error)
}

// StudentTransferHandler serves spreadsheet import and file exports.
type StudentTransferHandler struct {
	importer    studentImporter
	exporter    studentExporter
	maxFileSize int64
}

// NewStudentTransferHandler constructs the handler. maxFileSize <= 0 means unlimited.
func NewStudentTransferHandler(importer studentImporter, exporter studentExporter, maxFileSize int64) *StudentTransferHandler {
	return &StudentTransferHandler{importer: importer, exporter: exporter, maxFileSize: maxFileSize}
}

// Import godoc
// @Summary Bulk import students from a spreadsheet
// @Description Accepts .xlsx or .csv. Each data row is created independently and reported in results.
// @Tags Students
// @Accept multipart/form-data
// @Produce json
// @Param instansiId path string true "Institution ID"
// @Param file formData file true "Spreadsheet"
// @Success 200 {object} dto.ImportResult
// @Failure 400 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /instansi/{instansiId}/students/import/excel [post]
func (h *StudentTransferHandler) Import(c *gin.Context) {
	if h.maxFileSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxFileSize+multipartOverhead)
	}
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file exceeds the maximum upload size"))
			return
		}
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "file is required"))
		return
	}
	if h.maxFileSize > 0 && header.Size > h.maxFileSize {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file exceeds the maximum upload size"))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unable to open file"))
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unable to read file"))
		return
	}

	result, err := h.importer.ImportStudents(c.Request.Context(), middleware.TenantID(c), header.Filename, payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Export godoc
// @Summary Export students
// @Description format is one of template, excel, csv or pdf. List filters apply.
// @Tags Students
// @Produce application/octet-stream
// @Param instansiId path string true "Institution ID"
// @Param format path string true "template | excel | csv | pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /instansi/{instansiId}/students/export/{format} [get]
func (h *StudentTransferHandler) Export(c *gin.Context) {
	file, err := h.exporter.Export(c.Request.Context(), middleware.TenantID(c), c.Param("format"), parseStudentFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, file.Filename, file.ContentType, file.Content)
}
