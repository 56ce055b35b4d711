package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/campushub/approval-api/internal/models"
	appErrors "github.com/campushub/approval-api/pkg/errors"
)

// The engine is a set of pure transition functions over RequestRecord. It
// performs no I/O and never mutates its input; callers persist the returned
// record with a compare-and-swap against the revision they read. Two racing
// actors therefore produce exactly one accepted transition, the loser gets
// ErrStaleTransition from the store layer.

// NewRequest builds a freshly submitted record: chain resolved from the
// routing table, every flow step pending, the submitter's entry appended to
// history.
func NewRequest(id string, t models.RequestType, payload json.RawMessage, submitter models.Identity, now time.Time) (*models.RequestRecord, error) {
	chain, ok := Chain(t)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidRequestType, fmt.Sprintf("no approval chain defined for request type %s", t))
	}

	flow := make([]models.ApprovalStep, len(chain))
	for i, role := range chain {
		flow[i] = models.ApprovalStep{Role: role, Status: models.StepStatusPending}
	}

	rec := &models.RequestRecord{
		ID:                  id,
		RequestType:         t,
		Payload:             append(json.RawMessage(nil), payload...),
		CreatedBy:           submitter.Role,
		CreatedByID:         submitter.UID,
		CreatedByName:       submitter.DisplayName,
		CreatedAt:           now,
		Status:              models.RequestStatusPending,
		CurrentApproverRole: chain[0],
		ApprovalFlow:        flow,
	}
	return AppendHistory(rec, models.AuditEntry{
		Action:    models.HistoryActionSubmitted,
		ActorName: submitter.DisplayName,
		ActorRole: submitter.Role,
		Timestamp: now,
	}), nil
}

// Approve resolves the current step and advances the chain, completing the
// request when the acting role held the last unresolved step.
func Approve(rec *models.RequestRecord, actor models.Identity, comment string, now time.Time) (*models.RequestRecord, error) {
	next, idx, err := beginTransition(rec, actor)
	if err != nil {
		return nil, err
	}

	resolveStep(&next.ApprovalFlow[idx], models.StepStatusApproved, actor.DisplayName, comment, now)

	if ni := nextPending(next, idx); ni >= 0 {
		next.CurrentApproverRole = next.ApprovalFlow[ni].Role
		return AppendHistory(next, models.AuditEntry{
			Action:    forwardedAction(next.ApprovalFlow[ni].Role),
			ActorName: actor.DisplayName,
			ActorRole: actor.Role,
			Timestamp: now,
			Comment:   comment,
		}), nil
	}

	next.Status = models.RequestStatusApproved
	next.CurrentApproverRole = models.RoleCompleted
	return AppendHistory(next, models.AuditEntry{
		Action:    models.HistoryActionApproved,
		ActorName: actor.DisplayName,
		ActorRole: actor.Role,
		Timestamp: now,
		Comment:   comment,
	}), nil
}

// Reject short-circuits the chain: the current step is marked rejected and
// the record becomes terminal. Steps after the acting one are never resolved.
func Reject(rec *models.RequestRecord, actor models.Identity, comment string, now time.Time) (*models.RequestRecord, error) {
	next, idx, err := beginTransition(rec, actor)
	if err != nil {
		return nil, err
	}

	resolveStep(&next.ApprovalFlow[idx], models.StepStatusRejected, actor.DisplayName, comment, now)
	next.Status = models.RequestStatusRejected
	next.CurrentApproverRole = models.RoleCompleted
	return AppendHistory(next, models.AuditEntry{
		Action:    models.HistoryActionRejected,
		ActorName: actor.DisplayName,
		ActorRole: actor.Role,
		Timestamp: now,
		Comment:   comment,
	}), nil
}

// Forward behaves as Approve but hands the request to an explicit target
// role instead of the statically-next chain role. The target must hold a
// later unresolved step or belong to the type's escalation set; steps
// bypassed on the way are marked skipped, and an escalation target with no
// step of its own gets one inserted after the acting step.
func Forward(rec *models.RequestRecord, actor models.Identity, target models.UserRole, comment string, now time.Time) (*models.RequestRecord, error) {
	next, idx, err := beginTransition(rec, actor)
	if err != nil {
		return nil, err
	}
	if !legalForwardTarget(next, idx, target) {
		return nil, appErrors.Clone(appErrors.ErrInvalidForwardTarget, fmt.Sprintf("cannot forward %s request to %s", next.RequestType, target))
	}

	resolveStep(&next.ApprovalFlow[idx], models.StepStatusApproved, actor.DisplayName, comment, now)

	targetIdx := -1
	for i := idx + 1; i < len(next.ApprovalFlow); i++ {
		if next.ApprovalFlow[i].Role == target && !next.ApprovalFlow[i].Status.Resolved() {
			targetIdx = i
			break
		}
	}
	if targetIdx < 0 {
		// Escalation outside the flow: give the target its own step right
		// after the acting one.
		inserted := models.ApprovalStep{Role: target, Status: models.StepStatusPending}
		next.ApprovalFlow = append(next.ApprovalFlow[:idx+1], append([]models.ApprovalStep{inserted}, next.ApprovalFlow[idx+1:]...)...)
	} else {
		for i := idx + 1; i < targetIdx; i++ {
			if !next.ApprovalFlow[i].Status.Resolved() {
				next.ApprovalFlow[i].Status = models.StepStatusSkipped
				next.ApprovalFlow[i].Timestamp = &now
			}
		}
	}

	next.CurrentApproverRole = target
	return AppendHistory(next, models.AuditEntry{
		Action:    forwardedAction(target),
		ActorName: actor.DisplayName,
		ActorRole: actor.Role,
		Timestamp: now,
		Comment:   comment,
	}), nil
}

// beginTransition validates the acting role against the record and returns a
// clone plus the index of the step to resolve.
func beginTransition(rec *models.RequestRecord, actor models.Identity) (*models.RequestRecord, int, error) {
	if rec == nil {
		return nil, -1, appErrors.ErrNotFound
	}
	if rec.Status.Terminal() || actor.Role != rec.CurrentApproverRole {
		// A replay of an already-resolved step reads as "someone already
		// acted"; anything else is a plain wrong-approver call.
		for _, step := range rec.ApprovalFlow {
			if step.Role == actor.Role && step.Status.Resolved() {
				return nil, -1, appErrors.ErrStaleTransition
			}
		}
		return nil, -1, appErrors.ErrNotCurrentApprover
	}
	idx := rec.CurrentStepIndex()
	if idx < 0 {
		return nil, -1, appErrors.ErrNotCurrentApprover
	}
	return rec.Clone(), idx, nil
}

func resolveStep(step *models.ApprovalStep, status models.StepStatus, approver, comment string, now time.Time) {
	step.Status = status
	step.ApproverName = approver
	step.Timestamp = &now
	step.Comment = comment
}

// nextPending returns the index of the first unresolved step after idx, or -1.
func nextPending(rec *models.RequestRecord, idx int) int {
	for i := idx + 1; i < len(rec.ApprovalFlow); i++ {
		if !rec.ApprovalFlow[i].Status.Resolved() {
			return i
		}
	}
	return -1
}

func forwardedAction(role models.UserRole) string {
	return fmt.Sprintf("Forwarded to %s", role)
}
