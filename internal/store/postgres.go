package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// PostgresStore keeps documents in a single jsonb table keyed by path. The
// revision column backs the compare-and-swap; all writes of a batch share
// one transaction so subscribers only ever see fully committed states.
type PostgresStore struct {
	db       *sqlx.DB
	notifier Notifier
	logger   *zap.Logger
}

// NewPostgresStore constructs the store. The notifier may be nil, in which
// case committed changes are simply not pushed.
func NewPostgresStore(db *sqlx.DB, notifier Notifier, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{db: db, notifier: notifier, logger: logger}
}

// Get fetches the document at path.
func (s *PostgresStore) Get(ctx context.Context, path string) (*Document, error) {
	const query = `SELECT path, data, revision, updated_at FROM documents WHERE path = $1`
	var doc Document
	if err := s.db.GetContext(ctx, &doc, query, path); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get document %s: %w", path, err)
	}
	return &doc, nil
}

// List returns documents under the prefix, most recently written first.
func (s *PostgresStore) List(ctx context.Context, pathPrefix string, limit, offset int) ([]Document, error) {
	const query = `SELECT path, data, revision, updated_at FROM documents
	WHERE path LIKE $1 || '%' ORDER BY updated_at DESC LIMIT $2 OFFSET $3`
	limit, offset = clampPage(limit, offset)
	var docs []Document
	if err := s.db.SelectContext(ctx, &docs, query, pathPrefix, limit, offset); err != nil {
		return nil, fmt.Errorf("list documents %s: %w", pathPrefix, err)
	}
	return docs, nil
}

// Where filters documents under a prefix by a top-level JSON field equality.
func (s *PostgresStore) Where(ctx context.Context, pathPrefix, field, value string, limit, offset int) ([]Document, error) {
	const query = `SELECT path, data, revision, updated_at FROM documents
	WHERE path LIKE $1 || '%' AND data->>$2 = $3 ORDER BY updated_at DESC LIMIT $4 OFFSET $5`
	limit, offset = clampPage(limit, offset)
	var docs []Document
	if err := s.db.SelectContext(ctx, &docs, query, pathPrefix, field, value, limit, offset); err != nil {
		return nil, fmt.Errorf("query documents %s where %s=%s: %w", pathPrefix, field, value, err)
	}
	return docs, nil
}

// AtomicMultiUpdate applies every write in one transaction. A write with
// ExpectedRevision zero inserts and fails the batch when the path already
// exists; any other write requires the stored revision to still match.
func (s *PostgresStore) AtomicMultiUpdate(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin multi update: %w", err)
	}

	now := time.Now().UTC()
	events := make([]Event, 0, len(writes))
	for _, w := range writes {
		var res sql.Result
		if w.ExpectedRevision == 0 {
			res, err = tx.ExecContext(ctx,
				`INSERT INTO documents (path, data, revision, updated_at) VALUES ($1, $2, 1, $3)
				 ON CONFLICT (path) DO NOTHING`,
				w.Path, w.Data, now)
		} else {
			res, err = tx.ExecContext(ctx,
				`UPDATE documents SET data = $2, revision = revision + 1, updated_at = $3
				 WHERE path = $1 AND revision = $4`,
				w.Path, w.Data, now, w.ExpectedRevision)
		}
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("write document %s: %w", w.Path, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("write document %s: %w", w.Path, err)
		}
		if rows == 0 {
			_ = tx.Rollback()
			return ErrRevisionMismatch
		}
		events = append(events, Event{Path: w.Path, Data: w.Data, Revision: w.ExpectedRevision + 1})
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit multi update: %w", err)
	}

	if s.notifier != nil {
		for _, event := range events {
			if err := s.notifier.Publish(ctx, event); err != nil {
				s.logger.Warn("failed to publish store event", zap.String("path", event.Path), zap.Error(err))
			}
		}
	}
	return nil
}

// clampPage substitutes defaults for missing paging values. An explicit
// limit is always honored: register exports legitimately read thousands of
// documents in one query, and silently shrinking their page would truncate
// the result.
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
