package store

import (
	"context"
	"errors"
	"time"
)

// The store package is the adapter over the keyed, hierarchical document
// store the workflow persists into. Keys are slash-separated paths
// ("requests/certificate/<id>"). Every document carries a revision used for
// optimistic concurrency: a write commits only when the document still holds
// the revision the writer read.

var (
	// ErrNotFound indicates no document exists at the path.
	ErrNotFound = errors.New("store: document not found")
	// ErrRevisionMismatch indicates the compare-and-swap precondition
	// failed: the document changed (or appeared) since it was read.
	ErrRevisionMismatch = errors.New("store: revision mismatch")
)

// Document is one stored value with its concurrency metadata.
type Document struct {
	Path      string    `db:"path"`
	Data      []byte    `db:"data"`
	Revision  int64     `db:"revision"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Write describes one conditional write inside an atomic multi-key update.
// ExpectedRevision zero means the document must not exist yet.
type Write struct {
	Path             string
	Data             []byte
	ExpectedRevision int64
}

// Event is a committed change pushed to subscribers. Partial writes are
// never observable: events are published only after the whole multi-key
// update committed.
type Event struct {
	Path     string `json:"path"`
	Data     []byte `json:"data"`
	Revision int64  `json:"revision"`
}

// Store is the capability surface consumed by the workflow layer.
type Store interface {
	Get(ctx context.Context, path string) (*Document, error)
	List(ctx context.Context, pathPrefix string, limit, offset int) ([]Document, error)
	// Where filters documents under a prefix by equality on a top-level
	// field of the JSON body.
	Where(ctx context.Context, pathPrefix, field, value string, limit, offset int) ([]Document, error)
	// AtomicMultiUpdate applies every write or none. Any revision mismatch
	// aborts the whole batch with ErrRevisionMismatch.
	AtomicMultiUpdate(ctx context.Context, writes []Write) error
}

// Notifier distributes committed change events to interested subscribers.
type Notifier interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe invokes handler for every event whose path starts with
	// pathPrefix until the returned cancel function is called.
	Subscribe(ctx context.Context, pathPrefix string, handler func(Event)) (func(), error)
}
