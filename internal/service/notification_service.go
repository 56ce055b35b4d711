package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/campushub/approval-api/internal/models"
	"github.com/campushub/approval-api/internal/repository"
	"github.com/campushub/approval-api/internal/store"
	"github.com/campushub/approval-api/internal/ws"
	"github.com/campushub/approval-api/pkg/jobs"
)

// RequestNotification is the payload pushed to connected dashboards when a
// request changes.
type RequestNotification struct {
	RequestID   string               `json:"requestId"`
	Type        models.RequestType   `json:"requestType"`
	Status      models.RequestStatus `json:"status"`
	CurrentRole models.UserRole      `json:"currentApproverRole"`
	CreatedByID string               `json:"createdById"`
	UpdatedAt   time.Time            `json:"updatedAt"`
}

// NotificationService bridges committed store events to websocket clients.
// Events arrive only after the owning transaction commits, so subscribers
// never observe partial transitions.
type NotificationService struct {
	notifier store.Notifier
	hub      *ws.Hub
	queue    *jobs.Queue
	logger   *zap.Logger

	// Workers drain the queue concurrently and publishers emit per commit,
	// so events for one path can arrive out of revision order. Delivery is
	// gated on the highest revision already pushed per path.
	mu      sync.Mutex
	lastRev map[string]int64

	cancel func()
}

// NewNotificationService constructs the notification pipeline with the given
// worker count.
func NewNotificationService(notifier store.Notifier, hub *ws.Hub, workers int, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = 2
	}
	s := &NotificationService{
		notifier: notifier,
		hub:      hub,
		logger:   logger,
		lastRev:  make(map[string]int64),
	}
	s.queue = jobs.NewQueue("request-notifications", s.deliver, jobs.QueueConfig{
		Workers:    workers,
		BufferSize: 128,
		MaxRetries: 3,
		RetryDelay: 500 * time.Millisecond,
		Logger:     logger,
	})
	return s
}

// Start subscribes to request document changes and begins delivery.
func (s *NotificationService) Start(ctx context.Context) error {
	s.queue.Start(ctx)

	cancel, err := s.notifier.Subscribe(ctx, repository.RequestRoot, func(event store.Event) {
		job := jobs.Job{
			ID:      event.Path,
			Type:    "request.changed",
			Payload: event,
		}
		if err := s.queue.Enqueue(job); err != nil {
			s.logger.Warn("failed to enqueue notification", zap.String("path", event.Path), zap.Error(err))
		}
	})
	if err != nil {
		s.queue.Stop()
		return err
	}
	s.cancel = cancel
	return nil
}

// Stop tears down the subscription and drains workers.
func (s *NotificationService) Stop() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.queue.Stop()
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(store.Event)
	if !ok {
		s.logger.Warn("unexpected notification payload", zap.String("job_id", job.ID))
		return nil
	}
	if !s.advance(event.Path, event.Revision) {
		s.logger.Debug("dropping superseded store event",
			zap.String("path", event.Path),
			zap.Int64("revision", event.Revision))
		return nil
	}

	var rec models.RequestRecord
	if err := json.Unmarshal(event.Data, &rec); err != nil {
		s.logger.Warn("failed to decode request event", zap.String("path", event.Path), zap.Error(err))
		return nil
	}

	payload, err := json.Marshal(RequestNotification{
		RequestID:   rec.ID,
		Type:        rec.RequestType,
		Status:      rec.Status,
		CurrentRole: rec.CurrentApproverRole,
		CreatedByID: rec.CreatedByID,
		UpdatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	msg := ws.Message{
		Roles: []models.UserRole{models.RoleAdmin},
		UIDs:  []string{rec.CreatedByID},
		Data:  payload,
	}
	if rec.CurrentApproverRole != models.RoleCompleted {
		msg.Roles = append(msg.Roles, rec.CurrentApproverRole)
	}

	s.hub.Send(msg)
	return nil
}

// advance records the revision as delivered for the path. It returns false
// when an equal or newer revision was already pushed, in which case the event
// is stale and must not reach clients.
func (s *NotificationService) advance(path string, revision int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if revision <= s.lastRev[path] {
		return false
	}
	s.lastRev[path] = revision
	return true
}
