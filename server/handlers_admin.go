package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type entityInput struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
}

func urlID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func decodeEntity(r *http.Request, key string) (entityInput, bool) {
	var body map[string]entityInput
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return entityInput{}, false
	}
	input, ok := body[key]
	return input, ok
}

func writeData(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, map[string]any{"data": v})
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.store.Roles()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusOK, roles)
}

func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	input, ok := decodeEntity(r, "role")
	if !ok || input.Name == "" || input.Slug == "" {
		writeError(w, http.StatusBadRequest, "role name and slug are required")
		return
	}
	role, err := s.store.CreateRole(input.Name, input.Slug, input.Description)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.log.Info("role created", "role", role.ID, "slug", role.Slug)
	writeData(w, http.StatusCreated, role)
}

func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	role, err := s.store.Role(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusOK, role)
}

func (s *Server) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	input, ok := decodeEntity(r, "role")
	if !ok {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	role, err := s.store.UpdateRole(id, input.Name, input.Slug, input.Description)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusOK, role)
}

func (s *Server) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.store.DeleteRole(id); err != nil {
		writeStoreError(w, err)
		return
	}
	s.log.Info("role deleted", "role", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	perms, err := s.store.RolePermissions(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusOK, perms)
}

func (s *Server) handleAssignPermission(w http.ResponseWriter, r *http.Request) {
	roleID, okRole := urlID(r, "id")
	permID, okPerm := urlID(r, "permID")
	if !okRole || !okPerm {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.store.AssignPermission(roleID, permID); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemovePermission(w http.ResponseWriter, r *http.Request) {
	roleID, okRole := urlID(r, "id")
	permID, okPerm := urlID(r, "permID")
	if !okRole || !okPerm {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.store.RemovePermission(roleID, permID); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := s.store.Permissions()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusOK, perms)
}

func (s *Server) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	input, ok := decodeEntity(r, "permission")
	if !ok || input.Name == "" || input.Slug == "" {
		writeError(w, http.StatusBadRequest, "permission name and slug are required")
		return
	}
	perm, err := s.store.CreatePermission(input.Name, input.Slug, input.Description)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.log.Info("permission created", "permission", perm.ID, "slug", perm.Slug)
	writeData(w, http.StatusCreated, perm)
}

func (s *Server) handleGetPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	perm, err := s.store.Permission(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusOK, perm)
}

func (s *Server) handleUpdatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	input, ok := decodeEntity(r, "permission")
	if !ok {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	perm, err := s.store.UpdatePermission(id, input.Name, input.Slug, input.Description)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusOK, perm)
}

func (s *Server) handleDeletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.store.DeletePermission(id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.Users()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusOK, users)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	user, err := s.store.User(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusOK, user)
}

func (s *Server) handleUserRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	roles, err := s.store.UserRoles(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusOK, roles)
}

func (s *Server) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	userID, okUser := urlID(r, "id")
	roleID, okRole := urlID(r, "roleID")
	if !okUser || !okRole {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.store.AssignRole(userID, roleID); err != nil {
		writeStoreError(w, err)
		return
	}
	s.log.Info("role assigned", "user", userID, "role", roleID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveRole(w http.ResponseWriter, r *http.Request) {
	userID, okUser := urlID(r, "id")
	roleID, okRole := urlID(r, "roleID")
	if !okUser || !okRole {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.store.RemoveRole(userID, roleID); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
