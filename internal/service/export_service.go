package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campushub/approval-api/internal/dto"
	"github.com/campushub/approval-api/internal/models"
	"github.com/campushub/approval-api/pkg/export"
	appErrors "github.com/campushub/approval-api/pkg/errors"
)

// ExportFormat enumerates supported register export formats.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportResult carries the rendered register with response metadata.
type ExportResult struct {
	FileName    string
	ContentType string
	Content     []byte
}

type exportRequestLister interface {
	List(ctx context.Context, filter models.RequestFilter) ([]models.RequestRecord, error)
}

// ExportService renders the approval register, the flat listing of requests
// with their decision trail, as CSV or PDF for offline filing.
type ExportService struct {
	repo    exportRequestLister
	audit   auditLogger
	csv     *export.CSVExporter
	pdf     *export.PDFExporter
	maxRows int
	logger  *zap.Logger
	now     func() time.Time
}

// NewExportService constructs the export service. maxRows caps a single
// export so a wide-open query cannot hold a connection rendering forever.
func NewExportService(repo exportRequestLister, audit auditLogger, maxRows int, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRows <= 0 {
		maxRows = 5000
	}
	return &ExportService{
		repo:    repo,
		audit:   audit,
		csv:     export.NewCSVExporter(),
		pdf:     export.NewPDFExporter(),
		maxRows: maxRows,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

var registerHeaders = []string{"ID", "Type", "Status", "Created By", "Created At", "Current Approver", "Decisions"}

// Export renders the register for the matching requests. Only approvers and
// admins may export.
func (s *ExportService) Export(ctx context.Context, query dto.RequestQuery, format ExportFormat, actor models.Identity) (*ExportResult, error) {
	if !actor.Role.IsApprover() && actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only approvers may export the register")
	}

	limit := query.Limit
	if limit <= 0 || limit > s.maxRows {
		limit = s.maxRows
	}
	records, err := s.repo.List(ctx, models.RequestFilter{
		Type:         query.Type,
		Status:       query.Status,
		ApproverRole: query.Role,
		Limit:        limit,
		Offset:       query.Offset,
	})
	if err != nil {
		return nil, mapStoreErr(err, "failed to load register")
	}

	dataset := export.Dataset{Headers: registerHeaders, Rows: make([]map[string]string, 0, len(records))}
	for _, rec := range records {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"ID":               rec.ID,
			"Type":             string(rec.RequestType),
			"Status":           string(rec.Status),
			"Created By":       rec.CreatedByName,
			"Created At":       rec.CreatedAt.Format(time.RFC3339),
			"Current Approver": string(rec.CurrentApproverRole),
			"Decisions":        summariseHistory(rec.History),
		})
	}

	var result ExportResult
	stamp := s.now().Format("20060102-150405")
	switch format {
	case ExportFormatCSV, "":
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv register")
		}
		result = ExportResult{
			FileName:    fmt.Sprintf("approval-register-%s.csv", stamp),
			ContentType: "text/csv",
			Content:     content,
		}
	case ExportFormatPDF:
		content, err := s.pdf.Render(dataset, "Approval Register")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf register")
		}
		result = ExportResult{
			FileName:    fmt.Sprintf("approval-register-%s.pdf", stamp),
			ContentType: "application/pdf",
			Content:     content,
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	if s.audit != nil {
		uid := actor.UID
		log := &models.AuditLog{
			Action:    models.AuditActionRegisterExport,
			Resource:  "register",
			NewValues: []byte(fmt.Sprintf(`{"format":%q,"rows":%d}`, format, len(records))),
			IPAddress: "system",
			UserAgent: "export-service",
		}
		if uid != "" {
			log.UserID = &uid
		}
		if err := s.audit.CreateAuditLog(ctx, log); err != nil {
			s.logger.Warn("failed to record export audit log", zap.Error(err))
		}
	}

	return &result, nil
}

func summariseHistory(entries []models.AuditEntry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf("%s by %s (%s)", e.Action, e.ActorName, e.ActorRole))
	}
	return strings.Join(parts, "; ")
}
