package server

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "rephi.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateUserAndLookup(t *testing.T) {
	store := newTestStore(t)

	acct, err := store.CreateUser("Alice@Example.com", "hash-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), acct.ID)
	assert.Equal(t, "alice@example.com", acct.Email)

	byEmail, err := store.AccountByEmail("ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, byEmail.ID)
	assert.Equal(t, "hash-1", byEmail.PasswordHash)

	user, err := store.User(acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Empty(t, user.Roles)
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	store := newTestStore(t)

	_, err := store.CreateUser("alice@example.com", "hash-1")
	require.NoError(t, err)

	_, err = store.CreateUser("Alice@Example.com", "hash-2")
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestAccountByEmailMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.AccountByEmail("nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdatePasswordHash(t *testing.T) {
	store := newTestStore(t)

	acct, err := store.CreateUser("alice@example.com", "hash-1")
	require.NoError(t, err)

	require.NoError(t, store.UpdatePasswordHash(acct.ID, "hash-2"))

	byEmail, err := store.AccountByEmail("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "hash-2", byEmail.PasswordHash)

	assert.ErrorIs(t, store.UpdatePasswordHash(999, "hash-3"), ErrNotFound)
}

func TestRoleLifecycle(t *testing.T) {
	store := newTestStore(t)

	role, err := store.CreateRole("Admin", "admin", "full access")
	require.NoError(t, err)
	assert.Equal(t, int64(1), role.ID)

	_, err = store.CreateRole("Another Admin", "admin", "")
	assert.ErrorIs(t, err, ErrDuplicate)

	updated, err := store.UpdateRole(role.ID, "Administrator", "", "")
	require.NoError(t, err)
	assert.Equal(t, "Administrator", updated.Name)
	assert.Equal(t, "admin", updated.Slug, "blank fields keep their value")

	renamed, err := store.UpdateRole(role.ID, "", "superuser", "")
	require.NoError(t, err)
	assert.Equal(t, "superuser", renamed.Slug)

	// The old slug is free again.
	_, err = store.CreateRole("Admin", "admin", "")
	require.NoError(t, err)

	roles, err := store.Roles()
	require.NoError(t, err)
	assert.Len(t, roles, 2)

	require.NoError(t, store.DeleteRole(role.ID))
	_, err = store.Role(role.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.DeleteRole(role.ID), ErrNotFound)
}

func TestDeleteRoleCascades(t *testing.T) {
	store := newTestStore(t)

	acct, err := store.CreateUser("alice@example.com", "hash")
	require.NoError(t, err)
	role, err := store.CreateRole("Editor", "editor", "")
	require.NoError(t, err)
	perm, err := store.CreatePermission("Edit posts", "posts.edit", "")
	require.NoError(t, err)

	require.NoError(t, store.AssignRole(acct.ID, role.ID))
	require.NoError(t, store.AssignPermission(role.ID, perm.ID))

	require.NoError(t, store.DeleteRole(role.ID))

	roles, err := store.UserRoles(acct.ID)
	require.NoError(t, err)
	assert.Empty(t, roles)

	user, err := store.User(acct.ID)
	require.NoError(t, err)
	assert.Empty(t, user.Permissions)
}

func TestPermissionLifecycle(t *testing.T) {
	store := newTestStore(t)

	perm, err := store.CreatePermission("View reports", "reports.view", "")
	require.NoError(t, err)

	_, err = store.CreatePermission("Duplicate", "reports.view", "")
	assert.ErrorIs(t, err, ErrDuplicate)

	updated, err := store.UpdatePermission(perm.ID, "", "", "read-only reports")
	require.NoError(t, err)
	assert.Equal(t, "reports.view", updated.Slug)
	assert.Equal(t, "read-only reports", updated.Description)

	require.NoError(t, store.DeletePermission(perm.ID))
	_, err = store.Permission(perm.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserResolvesRolesAndPermissions(t *testing.T) {
	store := newTestStore(t)

	acct, err := store.CreateUser("alice@example.com", "hash")
	require.NoError(t, err)

	editor, err := store.CreateRole("Editor", "editor", "")
	require.NoError(t, err)
	reviewer, err := store.CreateRole("Reviewer", "reviewer", "")
	require.NoError(t, err)

	edit, err := store.CreatePermission("Edit", "posts.edit", "")
	require.NoError(t, err)
	view, err := store.CreatePermission("View", "posts.view", "")
	require.NoError(t, err)

	// Both roles grant view; the union must not duplicate it.
	require.NoError(t, store.AssignPermission(editor.ID, edit.ID))
	require.NoError(t, store.AssignPermission(editor.ID, view.ID))
	require.NoError(t, store.AssignPermission(reviewer.ID, view.ID))

	require.NoError(t, store.AssignRole(acct.ID, editor.ID))
	require.NoError(t, store.AssignRole(acct.ID, reviewer.ID))

	user, err := store.User(acct.ID)
	require.NoError(t, err)
	assert.Len(t, user.Roles, 2)
	assert.Len(t, user.Permissions, 2)
}

func TestAssignmentValidatesBothSides(t *testing.T) {
	store := newTestStore(t)

	acct, err := store.CreateUser("alice@example.com", "hash")
	require.NoError(t, err)
	role, err := store.CreateRole("Editor", "editor", "")
	require.NoError(t, err)

	assert.ErrorIs(t, store.AssignRole(999, role.ID), ErrNotFound)
	assert.ErrorIs(t, store.AssignRole(acct.ID, 999), ErrNotFound)

	require.NoError(t, store.AssignRole(acct.ID, role.ID))
	// Assigning twice is a no-op.
	require.NoError(t, store.AssignRole(acct.ID, role.ID))

	roles, err := store.UserRoles(acct.ID)
	require.NoError(t, err)
	require.Len(t, roles, 1)

	require.NoError(t, store.RemoveRole(acct.ID, role.ID))
	roles, err = store.UserRoles(acct.ID)
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestRolePermissionAssignment(t *testing.T) {
	store := newTestStore(t)

	role, err := store.CreateRole("Editor", "editor", "")
	require.NoError(t, err)
	perm, err := store.CreatePermission("Edit", "posts.edit", "")
	require.NoError(t, err)

	assert.ErrorIs(t, store.AssignPermission(role.ID, 999), ErrNotFound)

	require.NoError(t, store.AssignPermission(role.ID, perm.ID))
	perms, err := store.RolePermissions(role.ID)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, "posts.edit", perms[0].Slug)

	require.NoError(t, store.RemovePermission(role.ID, perm.ID))
	perms, err = store.RolePermissions(role.ID)
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestUsersListing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.CreateUser("a@example.com", "hash")
	require.NoError(t, err)
	_, err = store.CreateUser("b@example.com", "hash")
	require.NoError(t, err)

	users, err := store.Users()
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "a@example.com", users[0].Email)
}
