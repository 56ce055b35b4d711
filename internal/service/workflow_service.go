package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campushub/approval-api/internal/dto"
	"github.com/campushub/approval-api/internal/models"
	"github.com/campushub/approval-api/internal/store"
	"github.com/campushub/approval-api/internal/workflow"
	appErrors "github.com/campushub/approval-api/pkg/errors"
)

type requestStore interface {
	Create(ctx context.Context, rec *models.RequestRecord) error
	Update(ctx context.Context, rec *models.RequestRecord) error
	GetByID(ctx context.Context, id string) (*models.RequestRecord, error)
	ListPendingFor(ctx context.Context, role models.UserRole, limit, offset int) ([]models.RequestRecord, error)
	ListByCreator(ctx context.Context, uid string, limit, offset int) ([]models.RequestRecord, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.RequestRecord, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type transitionRecorder interface {
	RecordTransition(requestType, action, outcome string)
}

// PayloadValidator checks a type-specific payload before submission. The
// engine itself treats payloads as opaque; validation is injected per
// request type rather than duplicated per screen.
type PayloadValidator interface {
	Validate(payload json.RawMessage) error
}

// PayloadValidatorFunc allows using plain functions.
type PayloadValidatorFunc func(payload json.RawMessage) error

// Validate implements PayloadValidator.
func (f PayloadValidatorFunc) Validate(payload json.RawMessage) error {
	return f(payload)
}

// WorkflowService orchestrates the pure transition engine against the
// document store: read record and revision, compute next state, commit with
// compare-and-swap, surface StaleTransition on a lost race.
type WorkflowService struct {
	repo       requestStore
	audit      auditLogger
	metrics    transitionRecorder
	cache      *CacheService
	validators map[models.RequestType]PayloadValidator
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string
}

// WorkflowServiceOption configures the service.
type WorkflowServiceOption func(*WorkflowService)

// WithPayloadValidators sets per-type payload validators.
func WithPayloadValidators(validators map[models.RequestType]PayloadValidator) WorkflowServiceOption {
	return func(s *WorkflowService) {
		for k, v := range validators {
			s.validators[k] = v
		}
	}
}

// WithTransitionRecorder attaches a metrics recorder.
func WithTransitionRecorder(metrics transitionRecorder) WorkflowServiceOption {
	return func(s *WorkflowService) {
		s.metrics = metrics
	}
}

// WithListingCache attaches a cache for role inbox listings.
func WithListingCache(cache *CacheService) WorkflowServiceOption {
	return func(s *WorkflowService) {
		s.cache = cache
	}
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) WorkflowServiceOption {
	return func(s *WorkflowService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewWorkflowService constructs the service with defaults.
func NewWorkflowService(repo requestStore, audit auditLogger, logger *zap.Logger, opts ...WorkflowServiceOption) *WorkflowService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &WorkflowService{
		repo:       repo,
		audit:      audit,
		logger:     logger,
		validators: make(map[models.RequestType]PayloadValidator),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Submit creates a new request record with its full approval flow pending
// and the submitter's entry in history.
func (s *WorkflowService) Submit(ctx context.Context, req dto.SubmitRequest, submitter models.Identity) (*models.RequestRecord, error) {
	if req.Type == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "request type is required")
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "payload must be valid JSON")
	}
	if v, ok := s.validators[req.Type]; ok {
		if err := v.Validate(req.Payload); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
		}
	}

	rec, err := workflow.NewRequest(s.newID(), req.Type, req.Payload, submitter, s.now())
	if err != nil {
		s.record(string(req.Type), "submit", err)
		return nil, err
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		s.record(string(req.Type), "submit", err)
		return nil, mapStoreErr(err, "failed to persist request")
	}
	s.record(string(req.Type), "submit", nil)
	s.invalidateListings(ctx)
	s.emitAudit(ctx, submitter, models.AuditActionRequestSubmit, rec, nil)
	return rec, nil
}

// Approve resolves the current step for the acting role and advances or
// completes the chain.
func (s *WorkflowService) Approve(ctx context.Context, id string, actor models.Identity, comment string) (*models.RequestRecord, error) {
	return s.transition(ctx, id, actor, "approve", models.AuditActionRequestApprove,
		func(rec *models.RequestRecord, now time.Time) (*models.RequestRecord, error) {
			return workflow.Approve(rec, actor, comment, now)
		})
}

// Reject terminates the chain at the acting role's step.
func (s *WorkflowService) Reject(ctx context.Context, id string, actor models.Identity, comment string) (*models.RequestRecord, error) {
	return s.transition(ctx, id, actor, "reject", models.AuditActionRequestReject,
		func(rec *models.RequestRecord, now time.Time) (*models.RequestRecord, error) {
			return workflow.Reject(rec, actor, comment, now)
		})
}

// Forward approves the current step but hands the request to an explicit
// target role.
func (s *WorkflowService) Forward(ctx context.Context, id string, actor models.Identity, target models.UserRole, comment string) (*models.RequestRecord, error) {
	if target == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "target role is required")
	}
	return s.transition(ctx, id, actor, "forward", models.AuditActionRequestForward,
		func(rec *models.RequestRecord, now time.Time) (*models.RequestRecord, error) {
			return workflow.Forward(rec, actor, target, comment, now)
		})
}

func (s *WorkflowService) transition(ctx context.Context, id string, actor models.Identity, action, auditAction string,
	apply func(*models.RequestRecord, time.Time) (*models.RequestRecord, error)) (*models.RequestRecord, error) {

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load request")
	}
	before, _ := json.Marshal(rec)

	next, err := apply(rec, s.now())
	if err != nil {
		s.record(string(rec.RequestType), action, err)
		return nil, err
	}

	// The commit is conditioned on the revision read above; a concurrent
	// transition surfaces as StaleTransition and nothing is written.
	if err := s.repo.Update(ctx, next); err != nil {
		s.record(string(rec.RequestType), action, err)
		if errors.Is(err, store.ErrRevisionMismatch) {
			return nil, appErrors.ErrStaleTransition
		}
		return nil, mapStoreErr(err, "failed to commit transition")
	}

	s.record(string(rec.RequestType), action, nil)
	s.invalidateListings(ctx)
	s.emitAudit(ctx, actor, auditAction, next, before)
	return next, nil
}

// Get returns a request, restricting submitters to their own records.
func (s *WorkflowService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.RequestRecord, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load request")
	}
	if !actor.Role.IsApprover() && actor.Role != models.RoleAdmin && rec.CreatedByID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	return rec, nil
}

// ListPendingFor returns the inbox of records awaiting the given role,
// read-through cached when a cache is attached.
func (s *WorkflowService) ListPendingFor(ctx context.Context, role models.UserRole, limit, offset int) ([]models.RequestRecord, error) {
	if !role.IsApprover() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s is not an approver role", role))
	}
	key := fmt.Sprintf("requests:pending:%s:%d:%d", role, limit, offset)
	if s.cache.Enabled() {
		var cached []models.RequestRecord
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return cached, nil
		}
	}
	records, err := s.repo.ListPendingFor(ctx, role, limit, offset)
	if err != nil {
		return nil, mapStoreErr(err, "failed to list pending requests")
	}
	if s.cache.Enabled() {
		_ = s.cache.Set(ctx, key, records, 0)
	}
	return records, nil
}

// ListMine returns records submitted by the caller.
func (s *WorkflowService) ListMine(ctx context.Context, uid string, limit, offset int) ([]models.RequestRecord, error) {
	records, err := s.repo.ListByCreator(ctx, uid, limit, offset)
	if err != nil {
		return nil, mapStoreErr(err, "failed to list requests")
	}
	return records, nil
}

// List returns records matching the query, scoped by the caller's role:
// approvers and admins see everything, submitters only their own.
func (s *WorkflowService) List(ctx context.Context, query dto.RequestQuery, actor *models.JWTClaims) ([]models.RequestRecord, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	filter := models.RequestFilter{
		Type:         query.Type,
		Status:       query.Status,
		ApproverRole: query.Role,
		Limit:        query.Limit,
		Offset:       query.Offset,
	}
	if query.Mine || (!actor.Role.IsApprover() && actor.Role != models.RoleAdmin) {
		filter.CreatedByID = actor.UserID
		filter.ApproverRole = ""
	}
	records, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, mapStoreErr(err, "failed to list requests")
	}
	return records, nil
}

func (s *WorkflowService) record(requestType, action string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "accepted"
	if err != nil {
		outcome = appErrors.FromError(err).Code
	}
	s.metrics.RecordTransition(requestType, action, outcome)
}

func (s *WorkflowService) invalidateListings(ctx context.Context) {
	if s.cache.Enabled() {
		if err := s.cache.Invalidate(ctx, "requests:pending:*"); err != nil {
			s.logger.Warn("failed to invalidate listing cache", zap.Error(err))
		}
	}
}

func (s *WorkflowService) emitAudit(ctx context.Context, actor models.Identity, action string, rec *models.RequestRecord, before []byte) {
	if s.audit == nil || rec == nil {
		return
	}
	after, _ := json.Marshal(rec)
	uid := actor.UID
	log := &models.AuditLog{
		Action:     action,
		Resource:   string(rec.RequestType),
		ResourceID: &rec.ID,
		OldValues:  before,
		NewValues:  after,
		IPAddress:  "system",
		UserAgent:  "workflow-service",
	}
	if uid != "" {
		log.UserID = &uid
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func mapStoreErr(err error, message string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return appErrors.ErrNotFound
	case errors.Is(err, store.ErrRevisionMismatch):
		return appErrors.ErrStaleTransition
	default:
		return appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, message)
	}
}
