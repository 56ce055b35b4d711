package workflow

import "github.com/campushub/approval-api/internal/models"

// AppendHistory concatenates an immutable audit entry to the record's
// history and returns the record. Prior entries are never edited or removed;
// ordering is by call sequence, which the store's compare-and-swap turns into
// acceptance order. Wall-clock timestamps are advisory only.
func AppendHistory(rec *models.RequestRecord, entry models.AuditEntry) *models.RequestRecord {
	rec.History = append(rec.History, entry)
	return rec
}
