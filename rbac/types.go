package rbac

import "time"

// Role is a named grant bundle. Slug is the stable human-readable key;
// ID is the referential key used for assignment.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	InsertedAt  time.Time `json:"inserted_at,omitzero"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

// Permission is a single grantable capability, identified by slug.
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	InsertedAt  time.Time `json:"inserted_at,omitzero"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

// User is an account together with its resolved roles and direct
// permissions. It is replaced wholesale on each authentication; callers
// must never patch it field by field.
type User struct {
	ID          int64        `json:"id"`
	Email       string       `json:"email"`
	Roles       []Role       `json:"roles,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
	InsertedAt  time.Time    `json:"inserted_at,omitzero"`
	UpdatedAt   time.Time    `json:"updated_at,omitzero"`
}

// AdminSlug is the role slug that grants access to the admin surface.
const AdminSlug = "admin"
