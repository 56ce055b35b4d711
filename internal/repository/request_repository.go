package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/campushub/approval-api/internal/models"
	"github.com/campushub/approval-api/internal/store"
)

// RequestRoot is the path prefix under which all request documents live:
// requests/{collection}/{id}, with one collection per request type.
const RequestRoot = "requests/"

// Collection maps a request type to its store collection segment.
func Collection(t models.RequestType) string {
	return strings.ToLower(string(t))
}

// RequestPath builds the document path for a record.
func RequestPath(t models.RequestType, id string) string {
	return RequestRoot + Collection(t) + "/" + id
}

// RequestRepository marshals request records in and out of the document
// store and carries the revision needed for compare-and-swap updates.
type RequestRepository struct {
	store store.Store
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(s store.Store) *RequestRepository {
	return &RequestRepository{store: s}
}

// Create persists a freshly submitted record. The write is conditioned on
// the path not existing yet.
func (r *RequestRepository) Create(ctx context.Context, rec *models.RequestRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode request %s: %w", rec.ID, err)
	}
	if err := r.store.AtomicMultiUpdate(ctx, []store.Write{{
		Path: RequestPath(rec.RequestType, rec.ID),
		Data: data,
	}}); err != nil {
		return err
	}
	rec.Revision = 1
	return nil
}

// Update commits a transitioned record conditioned on the revision the
// caller read. The whole record body (status, currentApproverRole,
// approvalFlow, history) lands in one conditional write, so subscribers
// never observe a partial transition.
func (r *RequestRepository) Update(ctx context.Context, rec *models.RequestRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode request %s: %w", rec.ID, err)
	}
	if err := r.store.AtomicMultiUpdate(ctx, []store.Write{{
		Path:             RequestPath(rec.RequestType, rec.ID),
		Data:             data,
		ExpectedRevision: rec.Revision,
	}}); err != nil {
		return err
	}
	rec.Revision++
	return nil
}

// Get loads a record by type and id.
func (r *RequestRepository) Get(ctx context.Context, t models.RequestType, id string) (*models.RequestRecord, error) {
	doc, err := r.store.Get(ctx, RequestPath(t, id))
	if err != nil {
		return nil, err
	}
	return decodeRequest(doc)
}

// GetByID locates a record by id across all collections.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.RequestRecord, error) {
	docs, err := r.store.Where(ctx, RequestRoot, "id", id, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, store.ErrNotFound
	}
	return decodeRequest(&docs[0])
}

// ListPendingFor returns every record currently awaiting the given role.
func (r *RequestRepository) ListPendingFor(ctx context.Context, role models.UserRole, limit, offset int) ([]models.RequestRecord, error) {
	docs, err := r.store.Where(ctx, RequestRoot, "currentApproverRole", string(role), limit, offset)
	if err != nil {
		return nil, err
	}
	return decodeRequests(docs)
}

// ListByCreator returns records submitted by the given user.
func (r *RequestRepository) ListByCreator(ctx context.Context, uid string, limit, offset int) ([]models.RequestRecord, error) {
	docs, err := r.store.Where(ctx, RequestRoot, "createdById", uid, limit, offset)
	if err != nil {
		return nil, err
	}
	return decodeRequests(docs)
}

// List returns records matching the filter. Single-field predicates are
// pushed to the store; the rest is filtered here, which is fine at register
// scale.
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.RequestRecord, error) {
	prefix := RequestRoot
	if filter.Type != "" {
		prefix = RequestRoot + Collection(filter.Type) + "/"
	}

	var (
		docs []store.Document
		err  error
	)
	switch {
	case filter.ApproverRole != "":
		docs, err = r.store.Where(ctx, prefix, "currentApproverRole", string(filter.ApproverRole), filter.Limit, filter.Offset)
	case filter.CreatedByID != "":
		docs, err = r.store.Where(ctx, prefix, "createdById", filter.CreatedByID, filter.Limit, filter.Offset)
	case len(filter.Status) == 1:
		docs, err = r.store.Where(ctx, prefix, "status", string(filter.Status[0]), filter.Limit, filter.Offset)
	default:
		docs, err = r.store.List(ctx, prefix, filter.Limit, filter.Offset)
	}
	if err != nil {
		return nil, err
	}

	records, err := decodeRequests(docs)
	if err != nil {
		return nil, err
	}
	if len(filter.Status) <= 1 {
		return records, nil
	}
	filtered := records[:0]
	for _, rec := range records {
		for _, status := range filter.Status {
			if rec.Status == status {
				filtered = append(filtered, rec)
				break
			}
		}
	}
	return filtered, nil
}

func decodeRequest(doc *store.Document) (*models.RequestRecord, error) {
	var rec models.RequestRecord
	if err := json.Unmarshal(doc.Data, &rec); err != nil {
		return nil, fmt.Errorf("decode request at %s: %w", doc.Path, err)
	}
	rec.Revision = doc.Revision
	return &rec, nil
}

func decodeRequests(docs []store.Document) ([]models.RequestRecord, error) {
	records := make([]models.RequestRecord, 0, len(docs))
	for i := range docs {
		rec, err := decodeRequest(&docs[i])
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}
