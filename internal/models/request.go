package models

import (
	"encoding/json"
	"time"
)

// RequestType enumerates the request categories routed through approval chains.
type RequestType string

const (
	RequestTypeCertificate          RequestType = "CERTIFICATE"
	RequestTypeLibraryResource      RequestType = "LIBRARY_RESOURCE"
	RequestTypeLibraryTiming        RequestType = "LIBRARY_TIMING"
	RequestTypeTeacherApplication   RequestType = "TEACHER_APPLICATION"
	RequestTypeMaintenanceComplaint RequestType = "MAINTENANCE_COMPLAINT"
	RequestTypeGeneric              RequestType = "GENERIC"
)

// RequestStatus captures the overall lifecycle state of a request.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "PENDING"
	RequestStatusApproved RequestStatus = "APPROVED"
	RequestStatusRejected RequestStatus = "REJECTED"
)

// Terminal reports whether no further transition is permitted.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusApproved || s == RequestStatusRejected
}

// StepStatus captures the state of a single approval step.
type StepStatus string

const (
	StepStatusPending  StepStatus = "PENDING"
	StepStatusApproved StepStatus = "APPROVED"
	StepStatusRejected StepStatus = "REJECTED"
	// StepStatusSkipped marks steps bypassed by an explicit forward so the
	// flow remains an honest record of who actually acted.
	StepStatusSkipped StepStatus = "SKIPPED"
)

// Resolved reports whether the step can no longer be acted on.
func (s StepStatus) Resolved() bool {
	return s != StepStatusPending
}

// RoleCompleted is the terminal sentinel for CurrentApproverRole once the
// chain is exhausted or a rejection occurred.
const RoleCompleted UserRole = "COMPLETED"

// History entry actions recorded on accepted transitions.
const (
	HistoryActionSubmitted = "Request Submitted"
	HistoryActionApproved  = "Request Approved"
	HistoryActionRejected  = "Request Rejected"
)

// ApprovalStep is one role's entry within a request's approval flow. Each
// step is resolved at most once, in flow order.
type ApprovalStep struct {
	Role         UserRole   `json:"role"`
	ApproverName string     `json:"approverName,omitempty"`
	Status       StepStatus `json:"status"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
	Comment      string     `json:"comment,omitempty"`
}

// AuditEntry is one immutable record in a request's history. Entries are
// ordered by acceptance order at the store; timestamps are display-only
// since actors' clocks may be skewed.
type AuditEntry struct {
	Action    string    `json:"action"`
	ActorName string    `json:"by"`
	ActorRole UserRole  `json:"role"`
	Timestamp time.Time `json:"timestamp"`
	Comment   string    `json:"comment,omitempty"`
}

// RequestRecord is the persisted unit of work moving through an approval
// chain. Status, CurrentApproverRole, ApprovalFlow and History are mutated
// exclusively by the workflow engine; everything else is immutable after
// submission.
type RequestRecord struct {
	ID                  string          `json:"id"`
	RequestType         RequestType     `json:"requestType"`
	Payload             json.RawMessage `json:"payload"`
	CreatedBy           UserRole        `json:"createdBy"`
	CreatedByID         string          `json:"createdById"`
	CreatedByName       string          `json:"createdByName"`
	CreatedAt           time.Time       `json:"createdAt"`
	Status              RequestStatus   `json:"status"`
	CurrentApproverRole UserRole        `json:"currentApproverRole"`
	ApprovalFlow        []ApprovalStep  `json:"approvalFlow"`
	History             []AuditEntry    `json:"history"`

	// Revision is the store document revision backing the optimistic
	// concurrency check. It is not part of the persisted record body.
	Revision int64 `json:"-"`
}

// Clone returns a deep copy so pure transition functions never alias the
// caller's slices.
func (r *RequestRecord) Clone() *RequestRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Payload = append(json.RawMessage(nil), r.Payload...)
	clone.ApprovalFlow = append([]ApprovalStep(nil), r.ApprovalFlow...)
	clone.History = append([]AuditEntry(nil), r.History...)
	return &clone
}

// CurrentStepIndex returns the index of the flow step awaiting
// CurrentApproverRole, or -1 when the record is terminal or inconsistent.
func (r *RequestRecord) CurrentStepIndex() int {
	if r.Status.Terminal() || r.CurrentApproverRole == RoleCompleted {
		return -1
	}
	for i, step := range r.ApprovalFlow {
		if step.Status == StepStatusPending && step.Role == r.CurrentApproverRole {
			return i
		}
	}
	return -1
}

// RequestFilter constrains listing queries.
type RequestFilter struct {
	Type         RequestType
	Status       []RequestStatus
	ApproverRole UserRole
	CreatedByID  string
	Limit        int
	Offset       int
}
