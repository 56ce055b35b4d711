package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campushub/approval-api/internal/dto"
	"github.com/campushub/approval-api/internal/models"
	"github.com/campushub/approval-api/internal/store"
	appErrors "github.com/campushub/approval-api/pkg/errors"
)

type stubRequestStore struct {
	records   map[string]*models.RequestRecord
	updateErr error
}

func newStubRequestStore() *stubRequestStore {
	return &stubRequestStore{records: make(map[string]*models.RequestRecord)}
}

func (s *stubRequestStore) Create(_ context.Context, rec *models.RequestRecord) error {
	if _, ok := s.records[rec.ID]; ok {
		return store.ErrRevisionMismatch
	}
	stored := rec.Clone()
	stored.Revision = 1
	s.records[rec.ID] = stored
	rec.Revision = 1
	return nil
}

func (s *stubRequestStore) Update(_ context.Context, rec *models.RequestRecord) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	stored, ok := s.records[rec.ID]
	if !ok {
		return store.ErrNotFound
	}
	if stored.Revision != rec.Revision {
		return store.ErrRevisionMismatch
	}
	next := rec.Clone()
	next.Revision = stored.Revision + 1
	s.records[rec.ID] = next
	rec.Revision = next.Revision
	return nil
}

func (s *stubRequestStore) GetByID(_ context.Context, id string) (*models.RequestRecord, error) {
	stored, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	rec := stored.Clone()
	rec.Revision = stored.Revision
	return rec, nil
}

func (s *stubRequestStore) ListPendingFor(_ context.Context, role models.UserRole, _, _ int) ([]models.RequestRecord, error) {
	var records []models.RequestRecord
	for _, rec := range s.records {
		if rec.CurrentApproverRole == role {
			records = append(records, *rec.Clone())
		}
	}
	return records, nil
}

func (s *stubRequestStore) ListByCreator(_ context.Context, uid string, _, _ int) ([]models.RequestRecord, error) {
	var records []models.RequestRecord
	for _, rec := range s.records {
		if rec.CreatedByID == uid {
			records = append(records, *rec.Clone())
		}
	}
	return records, nil
}

func (s *stubRequestStore) List(_ context.Context, filter models.RequestFilter) ([]models.RequestRecord, error) {
	var records []models.RequestRecord
	for _, rec := range s.records {
		if filter.CreatedByID != "" && rec.CreatedByID != filter.CreatedByID {
			continue
		}
		if filter.Type != "" && rec.RequestType != filter.Type {
			continue
		}
		records = append(records, *rec.Clone())
	}
	return records, nil
}

type stubAudit struct {
	logs []models.AuditLog
}

func (s *stubAudit) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	s.logs = append(s.logs, *log)
	return nil
}

type stubMetrics struct {
	outcomes map[string]int
}

func (s *stubMetrics) RecordTransition(_, _, outcome string) {
	if s.outcomes == nil {
		s.outcomes = make(map[string]int)
	}
	s.outcomes[outcome]++
}

var (
	testStudent   = models.Identity{UID: "stu-1", DisplayName: "Asha Student", Role: models.RoleStudent}
	testRegistrar = models.Identity{UID: "reg-1", DisplayName: "Rita Registrar", Role: models.RoleRegistrar}
	testPrincipal = models.Identity{UID: "pri-1", DisplayName: "Paul Principal", Role: models.RolePrincipal}
)

func newTestWorkflowService(repo requestStore, audit auditLogger, opts ...WorkflowServiceOption) *WorkflowService {
	opts = append(opts, WithClock(func() time.Time { return time.Unix(5000, 0).UTC() }))
	return NewWorkflowService(repo, audit, nil, opts...)
}

func submitCertificate(t *testing.T, svc *WorkflowService) *models.RequestRecord {
	t.Helper()
	rec, err := svc.Submit(context.Background(), dto.SubmitRequest{
		Type:    models.RequestTypeCertificate,
		Payload: json.RawMessage(`{"certificateType":"bonafide"}`),
	}, testStudent)
	require.NoError(t, err)
	return rec
}

func TestSubmitCreatesRecord(t *testing.T) {
	repo := newStubRequestStore()
	audit := &stubAudit{}
	svc := newTestWorkflowService(repo, audit)

	rec := submitCertificate(t, svc)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, models.RequestStatusPending, rec.Status)
	assert.Equal(t, models.RoleRegistrar, rec.CurrentApproverRole)
	require.Len(t, rec.History, 1)
	assert.Equal(t, models.HistoryActionSubmitted, rec.History[0].Action)

	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionRequestSubmit, audit.logs[0].Action)
	assert.Equal(t, string(models.RequestTypeCertificate), audit.logs[0].Resource)
}

func TestSubmitUnknownType(t *testing.T) {
	svc := newTestWorkflowService(newStubRequestStore(), &stubAudit{})

	_, err := svc.Submit(context.Background(), dto.SubmitRequest{Type: "SABBATICAL"}, testStudent)
	require.ErrorIs(t, err, appErrors.ErrInvalidRequestType)

	_, err = svc.Submit(context.Background(), dto.SubmitRequest{}, testStudent)
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestSubmitRejectsMalformedPayload(t *testing.T) {
	svc := newTestWorkflowService(newStubRequestStore(), &stubAudit{})

	_, err := svc.Submit(context.Background(), dto.SubmitRequest{
		Type:    models.RequestTypeCertificate,
		Payload: json.RawMessage(`{"broken"`),
	}, testStudent)
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestSubmitRunsPayloadValidator(t *testing.T) {
	called := false
	svc := newTestWorkflowService(newStubRequestStore(), &stubAudit{},
		WithPayloadValidators(map[models.RequestType]PayloadValidator{
			models.RequestTypeCertificate: PayloadValidatorFunc(func(payload json.RawMessage) error {
				called = true
				return errors.New("certificateType is required")
			}),
		}))

	_, err := svc.Submit(context.Background(), dto.SubmitRequest{
		Type:    models.RequestTypeCertificate,
		Payload: json.RawMessage(`{}`),
	}, testStudent)
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.True(t, called)
}

func TestApproveAdvancesChain(t *testing.T) {
	repo := newStubRequestStore()
	audit := &stubAudit{}
	metrics := &stubMetrics{}
	svc := newTestWorkflowService(repo, audit, WithTransitionRecorder(metrics))

	rec := submitCertificate(t, svc)

	mid, err := svc.Approve(context.Background(), rec.ID, testRegistrar, "looks fine")
	require.NoError(t, err)
	assert.Equal(t, models.RolePrincipal, mid.CurrentApproverRole)

	done, err := svc.Approve(context.Background(), rec.ID, testPrincipal, "")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, done.Status)
	assert.Equal(t, models.RoleCompleted, done.CurrentApproverRole)

	assert.Equal(t, 3, metrics.outcomes["accepted"])
	require.Len(t, audit.logs, 3)
	assert.Equal(t, models.AuditActionRequestApprove, audit.logs[2].Action)
}

func TestRejectTerminates(t *testing.T) {
	repo := newStubRequestStore()
	svc := newTestWorkflowService(repo, &stubAudit{})

	rec := submitCertificate(t, svc)

	done, err := svc.Reject(context.Background(), rec.ID, testRegistrar, "missing documents")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusRejected, done.Status)

	_, err = svc.Approve(context.Background(), rec.ID, testPrincipal, "")
	require.ErrorIs(t, err, appErrors.ErrNotCurrentApprover)
}

func TestApproveReplayIsStale(t *testing.T) {
	repo := newStubRequestStore()
	metrics := &stubMetrics{}
	svc := newTestWorkflowService(repo, &stubAudit{}, WithTransitionRecorder(metrics))

	rec := submitCertificate(t, svc)

	_, err := svc.Approve(context.Background(), rec.ID, testRegistrar, "")
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), rec.ID, testRegistrar, "")
	require.ErrorIs(t, err, appErrors.ErrStaleTransition)
	assert.Equal(t, 1, metrics.outcomes["STALE_TRANSITION"])
}

func TestLostRaceSurfacesAsStale(t *testing.T) {
	repo := newStubRequestStore()
	svc := newTestWorkflowService(repo, &stubAudit{})

	rec := submitCertificate(t, svc)

	// Another instance commits between our read and our write.
	repo.updateErr = store.ErrRevisionMismatch
	_, err := svc.Approve(context.Background(), rec.ID, testRegistrar, "")
	require.ErrorIs(t, err, appErrors.ErrStaleTransition)

	// Nothing was written; after a re-read the same decision lands.
	repo.updateErr = nil
	next, err := svc.Approve(context.Background(), rec.ID, testRegistrar, "")
	require.NoError(t, err)
	assert.Equal(t, models.RolePrincipal, next.CurrentApproverRole)
}

func TestForwardValidatesTarget(t *testing.T) {
	repo := newStubRequestStore()
	svc := newTestWorkflowService(repo, &stubAudit{})

	rec := submitCertificate(t, svc)

	_, err := svc.Forward(context.Background(), rec.ID, testRegistrar, "", "")
	require.ErrorIs(t, err, appErrors.ErrValidation)

	next, err := svc.Forward(context.Background(), rec.ID, testRegistrar, models.RolePrincipal, "escalating")
	require.NoError(t, err)
	assert.Equal(t, models.RolePrincipal, next.CurrentApproverRole)
	assert.Equal(t, "Forwarded to PRINCIPAL", next.History[len(next.History)-1].Action)
}

func TestGetRestrictsSubmitters(t *testing.T) {
	repo := newStubRequestStore()
	svc := newTestWorkflowService(repo, &stubAudit{})

	rec := submitCertificate(t, svc)

	owner := &models.JWTClaims{UserID: testStudent.UID, Role: models.RoleStudent}
	found, err := svc.Get(context.Background(), rec.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, found.ID)

	stranger := &models.JWTClaims{UserID: "stu-2", Role: models.RoleStudent}
	_, err = svc.Get(context.Background(), rec.ID, stranger)
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	approver := &models.JWTClaims{UserID: "reg-1", Role: models.RoleRegistrar}
	_, err = svc.Get(context.Background(), rec.ID, approver)
	require.NoError(t, err)
}

func TestListPendingForRequiresApproverRole(t *testing.T) {
	svc := newTestWorkflowService(newStubRequestStore(), &stubAudit{})

	_, err := svc.ListPendingFor(context.Background(), models.RoleStudent, 0, 0)
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestListScopesSubmittersToOwnRecords(t *testing.T) {
	repo := newStubRequestStore()
	svc := newTestWorkflowService(repo, &stubAudit{})

	submitCertificate(t, svc)

	other, err := svc.Submit(context.Background(), dto.SubmitRequest{
		Type: models.RequestTypeCertificate,
	}, models.Identity{UID: "stu-2", DisplayName: "Ben Student", Role: models.RoleStudent})
	require.NoError(t, err)

	records, err := svc.List(context.Background(), dto.RequestQuery{}, &models.JWTClaims{UserID: "stu-2", Role: models.RoleStudent})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, other.ID, records[0].ID)

	all, err := svc.List(context.Background(), dto.RequestQuery{}, &models.JWTClaims{UserID: "reg-1", Role: models.RoleRegistrar})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
