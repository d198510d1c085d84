package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upliftworks/enrollment-api/internal/models"
	appErrors "github.com/upliftworks/enrollment-api/pkg/errors"
	"github.com/upliftworks/enrollment-api/pkg/export"
	"github.com/upliftworks/enrollment-api/pkg/storage"
)

// ExportFormat names a supported export encoding.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportResult is a rendered export ready to stream to the client.
type ExportResult struct {
	Content     []byte
	ContentType string
	Filename    string
}

// ArchivedExport references a stored roster export retrievable via a
// signed download token.
type ArchivedExport struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type enrollmentLister interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
}

// ExportService renders enrollment rosters for staff reporting. Rendered
// rosters can also be archived to local storage and fetched later through
// a signed, expiring download token.
type ExportService struct {
	enrollments enrollmentLister
	csv         *export.CSVExporter
	pdf         *export.PDFExporter
	store       *storage.LocalStorage
	signer      *storage.SignedURLSigner
	logger      *zap.Logger
}

// NewExportService constructs ExportService. Store and signer may be nil,
// in which case archiving is unavailable and only streaming works.
func NewExportService(enrollments enrollmentLister, store *storage.LocalStorage, signer *storage.SignedURLSigner, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		enrollments: enrollments,
		csv:         export.NewCSVExporter(),
		pdf:         export.NewPDFExporter(),
		store:       store,
		signer:      signer,
		logger:      logger,
	}
}

// Render produces the roster in the requested format.
func (s *ExportService) Render(ctx context.Context, filter models.EnrollmentFilter, format ExportFormat) (*ExportResult, error) {
	// Exports ignore pagination and take up to the repository cap per page.
	filter.Page = 1
	filter.PageSize = 100

	enrollments, _, err := s.enrollments.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments for export")
	}

	dataset := buildRosterDataset(enrollments)
	stamp := time.Now().UTC().Format("20060102")

	switch format {
	case ExportFormatCSV:
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export")
		}
		return &ExportResult{Content: content, ContentType: "text/csv", Filename: fmt.Sprintf("enrollments-%s.csv", stamp)}, nil
	case ExportFormatPDF:
		content, err := s.pdf.Render(dataset, "Enrollment Roster")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
		}
		return &ExportResult{Content: content, ContentType: "application/pdf", Filename: fmt.Sprintf("enrollments-%s.pdf", stamp)}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}

// Archive renders the roster, stores it on disk and returns a signed
// download token.
func (s *ExportService) Archive(ctx context.Context, filter models.EnrollmentFilter, format ExportFormat) (*ArchivedExport, error) {
	if s.store == nil || s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "export archiving is not configured")
	}

	result, err := s.Render(ctx, filter, format)
	if err != nil {
		return nil, err
	}

	exportID := uuid.NewString()
	relPath := fmt.Sprintf("%s/%s", exportID, result.Filename)
	if _, err := s.store.Save(relPath, result.Content); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}

	token, expiresAt, err := s.signer.Generate(exportID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export token")
	}

	return &ArchivedExport{ID: exportID, Filename: result.Filename, Token: token, ExpiresAt: expiresAt}, nil
}

// Download resolves a signed token to the stored export content.
func (s *ExportService) Download(token string) (*ExportResult, error) {
	if s.store == nil || s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "export archiving is not configured")
	}

	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid or expired download token")
	}

	file, err := s.store.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export no longer available")
	}
	defer file.Close() //nolint:errcheck

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read export")
	}

	filename := filepath.Base(relPath)
	contentType := "text/csv"
	if filepath.Ext(filename) == ".pdf" {
		contentType = "application/pdf"
	}
	return &ExportResult{Content: content, ContentType: contentType, Filename: filename}, nil
}

func buildRosterDataset(enrollments []models.EnrollmentDetail) export.Dataset {
	headers := []string{"Learner", "Email", "Program", "Status", "Pathway", "Orientation", "Documents", "Applied"}
	rows := make([]map[string]string, 0, len(enrollments))
	for _, e := range enrollments {
		pathway := ""
		if e.Pathway != nil {
			pathway = string(*e.Pathway)
		}
		rows = append(rows, map[string]string{
			"Learner":     e.LearnerName,
			"Email":       e.LearnerEmail,
			"Program":     e.ProgramName,
			"Status":      string(e.Status),
			"Pathway":     pathway,
			"Orientation": formatTimestamp(e.OrientationCompletedAt),
			"Documents":   formatTimestamp(e.DocumentsSubmittedAt),
			"Applied":     e.CreatedAt.Format("2006-01-02"),
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}

func formatTimestamp(ts *time.Time) string {
	if ts == nil {
		return ""
	}
	return ts.Format("2006-01-02")
}
