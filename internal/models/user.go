package models

import "time"

// UserRole represents the available roles for the RBAC system. Approver
// roles double as positions in approval chains.
type UserRole string

const (
	RoleAdmin              UserRole = "ADMIN"
	RoleStudent            UserRole = "STUDENT"
	RoleTeacher            UserRole = "TEACHER"
	RoleClerk              UserRole = "CLERK"
	RoleHOD                UserRole = "HOD"
	RoleAssistantLibrarian UserRole = "ASSISTANT_LIBRARIAN"
	RoleRegistrar          UserRole = "REGISTRAR"
	RolePrincipal          UserRole = "PRINCIPAL"
)

// ApproverRoles lists every role that can occupy a chain position.
var ApproverRoles = []UserRole{RoleClerk, RoleHOD, RoleAssistantLibrarian, RoleRegistrar, RolePrincipal}

// IsApprover reports whether the role may act on approval steps.
func (r UserRole) IsApprover() bool {
	for _, role := range ApproverRoles {
		if r == role {
			return true
		}
	}
	return false
}

// User represents an application user stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Identity is the submitter/approver identity the workflow engine trusts,
// resolved from JWT claims by the handlers.
type Identity struct {
	UID         string   `json:"uid"`
	DisplayName string   `json:"displayName"`
	Role        UserRole `json:"role"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
