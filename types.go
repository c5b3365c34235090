package rephi

import "github.com/rephi/rephi-go/rbac"

// Domain types live in the rbac package; the aliases keep the common
// case importable from the SDK root.
type (
	User       = rbac.User
	Role       = rbac.Role
	Permission = rbac.Permission
)

// Credentials is the login and registration request body.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is what the server returns from login and register.
type AuthResponse struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}

// RoleInput is the create/update body for roles. On update, empty
// fields are left unchanged.
type RoleInput struct {
	Name        string `json:"name,omitempty"`
	Slug        string `json:"slug,omitempty"`
	Description string `json:"description,omitempty"`
}

// PermissionInput is the create/update body for permissions.
type PermissionInput struct {
	Name        string `json:"name,omitempty"`
	Slug        string `json:"slug,omitempty"`
	Description string `json:"description,omitempty"`
}
