package dto

import (
	"encoding/json"

	"github.com/campushub/approval-api/internal/models"
)

// SubmitRequest is the payload for submitting a new approval request.
type SubmitRequest struct {
	Type    models.RequestType `json:"type"`
	Payload json.RawMessage    `json:"payload"`
}

// DecisionRequest carries the optional free-text comment for approve/reject.
type DecisionRequest struct {
	Comment string `json:"comment"`
}

// ForwardRequest redirects a request to an explicit target role.
type ForwardRequest struct {
	TargetRole models.UserRole `json:"targetRole"`
	Comment    string          `json:"comment"`
}

// RequestQuery mirrors supported listing filters.
type RequestQuery struct {
	Type   models.RequestType
	Status []models.RequestStatus
	Role   models.UserRole
	Mine   bool
	Limit  int
	Offset int
}
