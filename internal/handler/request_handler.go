package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/campushub/approval-api/internal/dto"
	"github.com/campushub/approval-api/internal/models"
	"github.com/campushub/approval-api/internal/service"
	appErrors "github.com/campushub/approval-api/pkg/errors"
	"github.com/campushub/approval-api/pkg/response"
)

// RequestHandler exposes the approval workflow over HTTP.
type RequestHandler struct {
	workflow *service.WorkflowService
	exports  *service.ExportService
}

// NewRequestHandler creates a new handler.
func NewRequestHandler(workflow *service.WorkflowService, exports *service.ExportService) *RequestHandler {
	return &RequestHandler{workflow: workflow, exports: exports}
}

// Create godoc
// @Summary Submit a request
// @Description Create a new request and route it through its approval chain
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body dto.SubmitRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid request payload"))
		return
	}

	rec, err := h.workflow.Submit(c.Request.Context(), req, claims.Identity())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, rec)
}

// List godoc
// @Summary List requests
// @Description List requests filtered by type, status and role. Submitters see only their own.
// @Tags Requests
// @Produce json
// @Param type query string false "Request type"
// @Param status query string false "Comma separated statuses"
// @Param role query string false "Current approver role"
// @Param mine query bool false "Only requests submitted by the caller"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	query := parseRequestQuery(c)
	records, err := h.workflow.List(c.Request.Context(), query, claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, records, nil)
}

// Pending godoc
// @Summary List the caller's approval inbox
// @Description Requests currently awaiting the caller's role
// @Tags Requests
// @Produce json
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /requests/pending [get]
func (h *RequestHandler) Pending(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	limit := queryInt(c, "limit", 100)
	offset := queryInt(c, "offset", 0)

	records, err := h.workflow.ListPendingFor(c.Request.Context(), claims.Role, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, records, nil)
}

// Mine godoc
// @Summary List the caller's submitted requests
// @Tags Requests
// @Produce json
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /requests/mine [get]
func (h *RequestHandler) Mine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	limit := queryInt(c, "limit", 100)
	offset := queryInt(c, "offset", 0)

	records, err := h.workflow.ListMine(c.Request.Context(), claims.UserID, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, records, nil)
}

// Get godoc
// @Summary Get one request
// @Description Fetch a request with its approval flow and history
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	rec, err := h.workflow.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, rec, nil)
}

// Approve godoc
// @Summary Approve a request
// @Description Resolve the current step for the caller's role and advance the chain
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.DecisionRequest false "Optional comment"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/approve [post]
func (h *RequestHandler) Approve(c *gin.Context) {
	h.decide(c, h.workflow.Approve)
}

// Reject godoc
// @Summary Reject a request
// @Description Terminate the chain at the caller's step
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.DecisionRequest false "Optional comment"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/reject [post]
func (h *RequestHandler) Reject(c *gin.Context) {
	h.decide(c, h.workflow.Reject)
}

// Forward godoc
// @Summary Forward a request
// @Description Approve the current step but hand the request to an explicit target role
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.ForwardRequest true "Forward target"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /requests/{id}/forward [post]
func (h *RequestHandler) Forward(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.ForwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid forward payload"))
		return
	}

	rec, err := h.workflow.Forward(c.Request.Context(), c.Param("id"), claims.Identity(), req.TargetRole, req.Comment)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, rec, nil)
}

// Export godoc
// @Summary Export the approval register
// @Description Render the filtered request register as CSV or PDF
// @Tags Requests
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf" default(csv)
// @Param type query string false "Request type"
// @Param status query string false "Comma separated statuses"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /requests/export [get]
func (h *RequestHandler) Export(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	query := parseRequestQuery(c)
	format := service.ExportFormat(strings.ToLower(c.DefaultQuery("format", "csv")))

	result, err := h.exports.Export(c.Request.Context(), query, format, claims.Identity())
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+result.FileName+`"`)
	c.Data(http.StatusOK, result.ContentType, result.Content)
}

func (h *RequestHandler) decide(c *gin.Context, apply func(ctx context.Context, id string, actor models.Identity, comment string) (*models.RequestRecord, error)) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.DecisionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid decision payload"))
			return
		}
	}

	rec, err := apply(c.Request.Context(), c.Param("id"), claims.Identity(), req.Comment)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, rec, nil)
}

func parseRequestQuery(c *gin.Context) dto.RequestQuery {
	query := dto.RequestQuery{
		Type:   models.RequestType(strings.ToUpper(c.Query("type"))),
		Role:   models.UserRole(strings.ToUpper(c.Query("role"))),
		Mine:   c.Query("mine") == "true",
		Limit:  queryInt(c, "limit", 100),
		Offset: queryInt(c, "offset", 0),
	}
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.ToUpper(strings.TrimSpace(part))
			if trimmed != "" {
				query.Status = append(query.Status, models.RequestStatus(trimmed))
			}
		}
	}
	return query
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
