package workflow

import (
	"github.com/campushub/approval-api/internal/models"
)

// chains is the static routing table: request type to the ordered list of
// roles that must approve. Resolved once at submission time; the resulting
// approval flow is then the record's own source of truth, so later table
// edits never re-route in-flight requests.
var chains = map[models.RequestType][]models.UserRole{
	models.RequestTypeCertificate:          {models.RoleRegistrar, models.RolePrincipal},
	models.RequestTypeLibraryResource:      {models.RoleRegistrar},
	models.RequestTypeLibraryTiming:        {models.RoleRegistrar, models.RolePrincipal},
	models.RequestTypeTeacherApplication:   {models.RoleHOD, models.RoleRegistrar, models.RolePrincipal},
	models.RequestTypeMaintenanceComplaint: {models.RoleClerk, models.RoleRegistrar},
	models.RequestTypeGeneric:              {models.RoleRegistrar, models.RolePrincipal},
}

// escalations lists roles a current approver may forward to even when the
// target holds no later position in the chain (ad hoc escalation, e.g. a
// clerk routing an urgent certificate straight to the principal).
var escalations = map[models.RequestType][]models.UserRole{
	models.RequestTypeCertificate:        {models.RolePrincipal},
	models.RequestTypeLibraryResource:    {models.RolePrincipal},
	models.RequestTypeTeacherApplication: {models.RolePrincipal},
}

// Chain returns the ordered approver roles for the request type. The second
// return is false when no chain is defined, which is a configuration error.
func Chain(t models.RequestType) ([]models.UserRole, bool) {
	chain, ok := chains[t]
	if !ok || len(chain) == 0 {
		return nil, false
	}
	return append([]models.UserRole(nil), chain...), true
}

// RequestTypes returns every type with a defined chain.
func RequestTypes() []models.RequestType {
	types := make([]models.RequestType, 0, len(chains))
	for t := range chains {
		types = append(types, t)
	}
	return types
}

// legalForwardTarget reports whether target is a permitted forward
// destination for the record: either a role holding a later unresolved step
// in the flow, or a member of the type's escalation set.
func legalForwardTarget(rec *models.RequestRecord, fromIdx int, target models.UserRole) bool {
	if !target.IsApprover() || target == rec.CurrentApproverRole {
		return false
	}
	for i := fromIdx + 1; i < len(rec.ApprovalFlow); i++ {
		if rec.ApprovalFlow[i].Role == target && !rec.ApprovalFlow[i].Status.Resolved() {
			return true
		}
	}
	for _, role := range escalations[rec.RequestType] {
		if role == target {
			return true
		}
	}
	return false
}
