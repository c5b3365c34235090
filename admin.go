package rephi

import (
	"context"
	"fmt"
	"net/http"
)

// Admin returns the admin API surface. Calls fail with ErrForbidden
// when the session user lacks the admin role server-side.
func (c *Client) Admin() *AdminAPI { return &AdminAPI{c: c} }

// AdminAPI wraps the role, permission, and user management endpoints.
type AdminAPI struct {
	c *Client
}

type dataEnvelope[T any] struct {
	Data T `json:"data"`
}

// Roles lists all roles.
func (a *AdminAPI) Roles(ctx context.Context) ([]Role, error) {
	var resp dataEnvelope[[]Role]
	if err := a.c.do(ctx, http.MethodGet, "/roles", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Role fetches one role by id.
func (a *AdminAPI) Role(ctx context.Context, id int64) (*Role, error) {
	var resp dataEnvelope[Role]
	if err := a.c.do(ctx, http.MethodGet, fmt.Sprintf("/roles/%d", id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// CreateRole creates a role. Name and Slug are required.
func (a *AdminAPI) CreateRole(ctx context.Context, input RoleInput) (*Role, error) {
	body := struct {
		Role RoleInput `json:"role"`
	}{Role: input}
	var resp dataEnvelope[Role]
	if err := a.c.do(ctx, http.MethodPost, "/roles", body, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// UpdateRole patches a role; empty input fields are left unchanged.
func (a *AdminAPI) UpdateRole(ctx context.Context, id int64, input RoleInput) (*Role, error) {
	body := struct {
		Role RoleInput `json:"role"`
	}{Role: input}
	var resp dataEnvelope[Role]
	if err := a.c.do(ctx, http.MethodPut, fmt.Sprintf("/roles/%d", id), body, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

func (a *AdminAPI) DeleteRole(ctx context.Context, id int64) error {
	return a.c.do(ctx, http.MethodDelete, fmt.Sprintf("/roles/%d", id), nil, nil)
}

// RolePermissions lists the permissions granted to a role.
func (a *AdminAPI) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	var resp dataEnvelope[[]Permission]
	if err := a.c.do(ctx, http.MethodGet, fmt.Sprintf("/roles/%d/permissions", roleID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (a *AdminAPI) AssignPermission(ctx context.Context, roleID, permissionID int64) error {
	return a.c.do(ctx, http.MethodPost, fmt.Sprintf("/roles/%d/permissions/%d", roleID, permissionID), nil, nil)
}

func (a *AdminAPI) RemovePermission(ctx context.Context, roleID, permissionID int64) error {
	return a.c.do(ctx, http.MethodDelete, fmt.Sprintf("/roles/%d/permissions/%d", roleID, permissionID), nil, nil)
}

// Permissions lists all permissions.
func (a *AdminAPI) Permissions(ctx context.Context) ([]Permission, error) {
	var resp dataEnvelope[[]Permission]
	if err := a.c.do(ctx, http.MethodGet, "/permissions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Permission fetches one permission by id.
func (a *AdminAPI) Permission(ctx context.Context, id int64) (*Permission, error) {
	var resp dataEnvelope[Permission]
	if err := a.c.do(ctx, http.MethodGet, fmt.Sprintf("/permissions/%d", id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

func (a *AdminAPI) CreatePermission(ctx context.Context, input PermissionInput) (*Permission, error) {
	body := struct {
		Permission PermissionInput `json:"permission"`
	}{Permission: input}
	var resp dataEnvelope[Permission]
	if err := a.c.do(ctx, http.MethodPost, "/permissions", body, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

func (a *AdminAPI) UpdatePermission(ctx context.Context, id int64, input PermissionInput) (*Permission, error) {
	body := struct {
		Permission PermissionInput `json:"permission"`
	}{Permission: input}
	var resp dataEnvelope[Permission]
	if err := a.c.do(ctx, http.MethodPut, fmt.Sprintf("/permissions/%d", id), body, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

func (a *AdminAPI) DeletePermission(ctx context.Context, id int64) error {
	return a.c.do(ctx, http.MethodDelete, fmt.Sprintf("/permissions/%d", id), nil, nil)
}

// Users lists all users with their resolved roles and permissions.
func (a *AdminAPI) Users(ctx context.Context) ([]User, error) {
	var resp dataEnvelope[[]User]
	if err := a.c.do(ctx, http.MethodGet, "/users", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// User fetches one user by id.
func (a *AdminAPI) User(ctx context.Context, id int64) (*User, error) {
	var resp dataEnvelope[User]
	if err := a.c.do(ctx, http.MethodGet, fmt.Sprintf("/users/%d", id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// UserRoles lists the roles assigned to a user.
func (a *AdminAPI) UserRoles(ctx context.Context, userID int64) ([]Role, error) {
	var resp dataEnvelope[[]Role]
	if err := a.c.do(ctx, http.MethodGet, fmt.Sprintf("/users/%d/roles", userID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (a *AdminAPI) AssignRole(ctx context.Context, userID, roleID int64) error {
	return a.c.do(ctx, http.MethodPost, fmt.Sprintf("/users/%d/roles/%d", userID, roleID), nil, nil)
}

func (a *AdminAPI) RemoveRole(ctx context.Context, userID, roleID int64) error {
	return a.c.do(ctx, http.MethodDelete, fmt.Sprintf("/users/%d/roles/%d", userID, roleID), nil, nil)
}
