package repository

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campushub/approval-api/internal/models"
	"github.com/campushub/approval-api/internal/store"
)

// memStore is an in-memory document store honoring the same revision
// compare-and-swap contract as the Postgres implementation.
type memStore struct {
	docs map[string]store.Document
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]store.Document)}
}

func (m *memStore) Get(_ context.Context, path string) (*store.Document, error) {
	doc, ok := m.docs[path]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &doc, nil
}

func (m *memStore) List(_ context.Context, prefix string, _, _ int) ([]store.Document, error) {
	var docs []store.Document
	for path, doc := range m.docs {
		if strings.HasPrefix(path, prefix) {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (m *memStore) Where(_ context.Context, prefix, field, value string, _, _ int) ([]store.Document, error) {
	var docs []store.Document
	for path, doc := range m.docs {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		var body map[string]interface{}
		if err := json.Unmarshal(doc.Data, &body); err != nil {
			return nil, err
		}
		if s, ok := body[field].(string); ok && s == value {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (m *memStore) AtomicMultiUpdate(_ context.Context, writes []store.Write) error {
	for _, w := range writes {
		existing, ok := m.docs[w.Path]
		if w.ExpectedRevision == 0 {
			if ok {
				return store.ErrRevisionMismatch
			}
			continue
		}
		if !ok || existing.Revision != w.ExpectedRevision {
			return store.ErrRevisionMismatch
		}
	}
	now := time.Now().UTC()
	for _, w := range writes {
		m.docs[w.Path] = store.Document{
			Path:      w.Path,
			Data:      w.Data,
			Revision:  w.ExpectedRevision + 1,
			UpdatedAt: now,
		}
	}
	return nil
}

func sampleRecord(id string) *models.RequestRecord {
	return &models.RequestRecord{
		ID:                  id,
		RequestType:         models.RequestTypeCertificate,
		Payload:             json.RawMessage(`{}`),
		CreatedBy:           models.RoleStudent,
		CreatedByID:         "stu-1",
		CreatedByName:       "Asha Student",
		CreatedAt:           time.Unix(1000, 0).UTC(),
		Status:              models.RequestStatusPending,
		CurrentApproverRole: models.RoleRegistrar,
		ApprovalFlow: []models.ApprovalStep{
			{Role: models.RoleRegistrar, Status: models.StepStatusPending},
			{Role: models.RolePrincipal, Status: models.StepStatusPending},
		},
	}
}

func TestRequestRepositoryCreateSetsRevision(t *testing.T) {
	repo := NewRequestRepository(newMemStore())
	rec := sampleRecord("r1")

	require.NoError(t, repo.Create(context.Background(), rec))
	assert.Equal(t, int64(1), rec.Revision)

	// A second submit with the same id must not overwrite.
	dup := sampleRecord("r1")
	err := repo.Create(context.Background(), dup)
	require.ErrorIs(t, err, store.ErrRevisionMismatch)
}

func TestRequestRepositoryUpdateCAS(t *testing.T) {
	repo := NewRequestRepository(newMemStore())
	rec := sampleRecord("r1")
	require.NoError(t, repo.Create(context.Background(), rec))

	// Two actors read the same revision; only the first commit lands.
	first := rec.Clone()
	second := rec.Clone()

	first.Status = models.RequestStatusApproved
	require.NoError(t, repo.Update(context.Background(), first))
	assert.Equal(t, int64(2), first.Revision)

	second.Status = models.RequestStatusRejected
	err := repo.Update(context.Background(), second)
	require.ErrorIs(t, err, store.ErrRevisionMismatch)

	stored, err := repo.Get(context.Background(), rec.RequestType, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, stored.Status)
	assert.Equal(t, int64(2), stored.Revision)
}

func TestRequestRepositoryGetByID(t *testing.T) {
	repo := NewRequestRepository(newMemStore())
	rec := sampleRecord("r1")
	require.NoError(t, repo.Create(context.Background(), rec))

	found, err := repo.GetByID(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, found.ID)
	assert.Equal(t, int64(1), found.Revision)

	_, err = repo.GetByID(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRequestRepositoryListPendingFor(t *testing.T) {
	repo := NewRequestRepository(newMemStore())

	first := sampleRecord("r1")
	require.NoError(t, repo.Create(context.Background(), first))

	second := sampleRecord("r2")
	second.CurrentApproverRole = models.RolePrincipal
	require.NoError(t, repo.Create(context.Background(), second))

	pending, err := repo.ListPendingFor(context.Background(), models.RoleRegistrar, 0, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "r1", pending[0].ID)
}

func TestRequestRepositoryListStatusFilter(t *testing.T) {
	repo := NewRequestRepository(newMemStore())

	first := sampleRecord("r1")
	require.NoError(t, repo.Create(context.Background(), first))

	second := sampleRecord("r2")
	require.NoError(t, repo.Create(context.Background(), second))
	second.Status = models.RequestStatusApproved
	require.NoError(t, repo.Update(context.Background(), second))

	third := sampleRecord("r3")
	require.NoError(t, repo.Create(context.Background(), third))
	third.Status = models.RequestStatusRejected
	require.NoError(t, repo.Update(context.Background(), third))

	records, err := repo.List(context.Background(), models.RequestFilter{
		Status: []models.RequestStatus{models.RequestStatusApproved, models.RequestStatusRejected},
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.NotEqual(t, models.RequestStatusPending, rec.Status)
	}
}

func TestRequestPath(t *testing.T) {
	assert.Equal(t, "requests/certificate/r1", RequestPath(models.RequestTypeCertificate, "r1"))
	assert.Equal(t, "requests/library_timing/x", RequestPath(models.RequestTypeLibraryTiming, "x"))
}
