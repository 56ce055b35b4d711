package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campushub/approval-api/internal/models"
	"github.com/campushub/approval-api/internal/store"
	"github.com/campushub/approval-api/internal/ws"
	"github.com/campushub/approval-api/pkg/jobs"
)

func requestEvent(t *testing.T, path string, revision int64, rec models.RequestRecord) jobs.Job {
	t.Helper()
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	return jobs.Job{
		ID:      path,
		Type:    "request.changed",
		Payload: store.Event{Path: path, Data: data, Revision: revision},
	}
}

func TestNotificationAdvanceTracksRevisionsPerPath(t *testing.T) {
	svc := NewNotificationService(nil, ws.NewHub(nil), 1, nil)

	assert.True(t, svc.advance("requests/certificate/r1", 1))
	assert.True(t, svc.advance("requests/certificate/r1", 2))
	assert.False(t, svc.advance("requests/certificate/r1", 2))
	assert.False(t, svc.advance("requests/certificate/r1", 1))

	// Paths are tracked independently.
	assert.True(t, svc.advance("requests/certificate/r2", 1))
}

func TestDeliverDropsSupersededEvent(t *testing.T) {
	svc := NewNotificationService(nil, ws.NewHub(nil), 1, nil)

	path := "requests/certificate/r1"
	rec := models.RequestRecord{
		ID:                  "r1",
		RequestType:         models.RequestTypeCertificate,
		Status:              models.RequestStatusPending,
		CreatedByID:         "stu-1",
		CurrentApproverRole: models.RolePrincipal,
	}

	// The commit at revision 3 reached the queue before revision 2.
	require.NoError(t, svc.deliver(context.Background(), requestEvent(t, path, 3, rec)))

	older := rec
	older.CurrentApproverRole = models.RoleRegistrar
	require.NoError(t, svc.deliver(context.Background(), requestEvent(t, path, 2, older)))

	// The late event must not roll the delivered state backwards.
	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, int64(3), svc.lastRev[path])
}
