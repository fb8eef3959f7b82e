// Package rbachttp exposes the role administration API. Two tiers share one
// handler: the super-admin surface sees everything, the sub-admin surface is
// scoped to the roles delegated under the caller's admin role.
package rbachttp

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/rolegate/rolegate/internal/authz"
	"github.com/rolegate/rolegate/internal/platform/httpx"
	"github.com/rolegate/rolegate/internal/rbac"
	"github.com/rolegate/rolegate/internal/shared"
)

// Handler wires role and permission administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *rbac.Service
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *rbac.Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountAdminRoutes registers the unscoped super-admin surface.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Get("/roles", h.listRoles)
	r.Post("/roles", h.createRole)
	r.Get("/roles/{roleID}", h.getRole)
	r.Delete("/roles/{roleID}", h.deleteRole)
	r.Put("/roles/{roleID}/parent", h.setRoleParent)
	r.Get("/roles/{roleID}/permissions", h.listRolePermissions)
	r.Put("/roles/{roleID}/permissions/{permissionID}", h.assignPermission)
	r.Delete("/roles/{roleID}/permissions/{permissionID}", h.removePermission)
	r.Get("/permissions", h.listPermissions)
	r.Post("/permissions", h.createPermission)
	r.Get("/users", h.listUsers)
	r.Put("/users/{userID}/roles", h.replaceUserRoles)
	r.Delete("/users/{userID}/roles/{roleID}", h.removeUserRole)
}

// MountSubRoutes registers the scoped sub-admin surface. The caller's admin
// role is resolved from claims on every request; creates are forced under
// it and reads are filtered to it.
func (h *Handler) MountSubRoutes(r chi.Router) {
	r.Get("/roles", h.subListRoles)
	r.Post("/roles", h.subCreateRole)
	r.Delete("/roles/{roleID}", h.subDeleteRole)
	r.Get("/roles/{roleID}/permissions", h.subListRolePermissions)
	r.Put("/roles/{roleID}/permissions/{permissionID}", h.subAssignPermission)
	r.Delete("/roles/{roleID}/permissions/{permissionID}", h.subRemovePermission)
	r.Get("/permissions", h.listPermissions)
	r.Post("/permissions", h.createPermission)
	r.Get("/users", h.subListUsers)
	r.Put("/users/{userID}/roles", h.subReplaceUserRoles)
}

type createRoleRequest struct {
	Name         string  `json:"name" validate:"required,min=1,max=128"`
	ParentRoleID *string `json:"parent_role_id"`
	IsAdminRole  bool    `json:"is_admin_role"`
}

type createPermissionRequest struct {
	Name string `json:"name" validate:"required,min=1,max=128"`
}

type setParentRequest struct {
	ParentRoleID *string `json:"parent_role_id"`
}

type replaceRolesRequest struct {
	RoleIDs []string `json:"role_ids" validate:"required"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("parent_role_id"); raw != "" {
		parentID, err := uuid.Parse(raw)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("parent_role_id", "must be a UUID"))
			return
		}
		roles, err := h.service.ListRolesByParent(r.Context(), parentID)
		if err != nil {
			h.respondErr(w, "list roles by parent", err)
			return
		}
		httpx.JSON(w, http.StatusOK, roles)
		return
	}
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.respondErr(w, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	var parentID *uuid.UUID
	if req.ParentRoleID != nil {
		id, err := uuid.Parse(*req.ParentRoleID)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("parent_role_id", "must be a UUID"))
			return
		}
		parentID = &id
	}
	role, err := h.service.CreateRole(r.Context(), req.Name, parentID, req.IsAdminRole)
	if err != nil {
		h.respondErr(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	role, err := h.service.GetRole(r.Context(), roleID)
	if err != nil {
		h.respondErr(w, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), roleID); err != nil {
		h.respondErr(w, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setRoleParent(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	var req setParentRequest
	if !h.decode(w, r, &req) {
		return
	}
	var parentID *uuid.UUID
	if req.ParentRoleID != nil {
		id, err := uuid.Parse(*req.ParentRoleID)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("parent_role_id", "must be a UUID"))
			return
		}
		parentID = &id
	}
	if err := h.service.SetRoleParent(r.Context(), roleID, parentID); err != nil {
		h.respondErr(w, "set role parent", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	perms, err := h.service.ListRolePermissions(r.Context(), roleID)
	if err != nil {
		h.respondErr(w, "list role permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) assignPermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	permissionID, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.service.AssignPermissionToRole(r.Context(), roleID, permissionID); err != nil {
		h.respondErr(w, "assign permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removePermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	permissionID, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.service.RemovePermissionFromRole(r.Context(), roleID, permissionID); err != nil {
		h.respondErr(w, "remove permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.respondErr(w, "list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), req.Name)
	if err != nil {
		h.respondErr(w, "create permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, perm)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.respondErr(w, "list users", err)
		return
	}
	httpx.JSON(w, http.StatusOK, users)
}

func (h *Handler) replaceUserRoles(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req replaceRolesRequest
	if !h.decode(w, r, &req) {
		return
	}
	roleIDs, err := parseIDs(req.RoleIDs)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.ReplaceUserRoles(r.Context(), userID, roleIDs); err != nil {
		h.respondErr(w, "replace user roles", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeUserRole(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.service.RemoveUserRole(r.Context(), userID, roleID); err != nil {
		h.respondErr(w, "remove user role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", "request body is not valid JSON")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		httpx.RespondError(w, shared.Invalid(param, "must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondErr(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, shared.Invalid("role_ids", "must be UUIDs")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// adminScope resolves the caller's delegation root from claims. The gating
// middleware has already required the admin role; this recovers its id.
func (h *Handler) adminScope(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	claims, ok := authz.ClaimsFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return uuid.Nil, false
	}
	adminRoleID, ok := authz.AdminRoleID(claims.Roles, chi.URLParam(r, "type"))
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
		return uuid.Nil, false
	}
	return adminRoleID, true
}

// inScope verifies a role is parented directly under the admin role. Roles
// outside the delegation are reported as not found rather than forbidden, so
// the scoped surface does not leak the rest of the hierarchy.
func (h *Handler) inScope(r *http.Request, adminRoleID, roleID uuid.UUID) error {
	role, err := h.service.GetRole(r.Context(), roleID)
	if err != nil {
		return err
	}
	if role.ParentRoleID == nil || *role.ParentRoleID != adminRoleID {
		return shared.NotFound("role", roleID.String())
	}
	return nil
}

func (h *Handler) subListRoles(w http.ResponseWriter, r *http.Request) {
	adminRoleID, ok := h.adminScope(w, r)
	if !ok {
		return
	}
	roles, err := h.service.ListRolesByParent(r.Context(), adminRoleID)
	if err != nil {
		h.respondErr(w, "list scoped roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) subCreateRole(w http.ResponseWriter, r *http.Request) {
	adminRoleID, ok := h.adminScope(w, r)
	if !ok {
		return
	}
	var req createPermissionRequest // same shape: just a name
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.Name, &adminRoleID, false)
	if err != nil {
		h.respondErr(w, "create scoped role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) subDeleteRole(w http.ResponseWriter, r *http.Request) {
	adminRoleID, ok := h.adminScope(w, r)
	if !ok {
		return
	}
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.inScope(r, adminRoleID, roleID); err != nil {
		h.respondErr(w, "delete scoped role", err)
		return
	}
	if err := h.service.DeleteRole(r.Context(), roleID); err != nil {
		h.respondErr(w, "delete scoped role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) subListRolePermissions(w http.ResponseWriter, r *http.Request) {
	adminRoleID, ok := h.adminScope(w, r)
	if !ok {
		return
	}
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.inScope(r, adminRoleID, roleID); err != nil {
		h.respondErr(w, "list scoped role permissions", err)
		return
	}
	perms, err := h.service.ListRolePermissions(r.Context(), roleID)
	if err != nil {
		h.respondErr(w, "list scoped role permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) subAssignPermission(w http.ResponseWriter, r *http.Request) {
	adminRoleID, ok := h.adminScope(w, r)
	if !ok {
		return
	}
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	permissionID, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.inScope(r, adminRoleID, roleID); err != nil {
		h.respondErr(w, "assign scoped permission", err)
		return
	}
	if err := h.service.AssignPermissionToRole(r.Context(), roleID, permissionID); err != nil {
		h.respondErr(w, "assign scoped permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) subRemovePermission(w http.ResponseWriter, r *http.Request) {
	adminRoleID, ok := h.adminScope(w, r)
	if !ok {
		return
	}
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	permissionID, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.inScope(r, adminRoleID, roleID); err != nil {
		h.respondErr(w, "remove scoped permission", err)
		return
	}
	if err := h.service.RemovePermissionFromRole(r.Context(), roleID, permissionID); err != nil {
		h.respondErr(w, "remove scoped permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) subListUsers(w http.ResponseWriter, r *http.Request) {
	adminRoleID, ok := h.adminScope(w, r)
	if !ok {
		return
	}
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.respondErr(w, "list scoped users", err)
		return
	}
	allRoles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.respondErr(w, "list scoped users", err)
		return
	}
	httpx.JSON(w, http.StatusOK, authz.ScopedUsers(users, allRoles, adminRoleID))
}

func (h *Handler) subReplaceUserRoles(w http.ResponseWriter, r *http.Request) {
	adminRoleID, ok := h.adminScope(w, r)
	if !ok {
		return
	}
	userID := chi.URLParam(r, "userID")
	var req replaceRolesRequest
	if !h.decode(w, r, &req) {
		return
	}
	roleIDs, err := parseIDs(req.RoleIDs)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	scoped, err := h.service.ListRolesByParent(r.Context(), adminRoleID)
	if err != nil {
		h.respondErr(w, "replace scoped user roles", err)
		return
	}
	allowed := make(map[uuid.UUID]struct{}, len(scoped))
	for _, role := range scoped {
		allowed[role.ID] = struct{}{}
	}
	for _, id := range roleIDs {
		if _, ok := allowed[id]; !ok {
			httpx.RespondError(w, shared.Invalid("role_ids", "role "+id.String()+" is outside this delegation"))
			return
		}
	}
	if err := h.service.ReplaceUserRoles(r.Context(), userID, roleIDs); err != nil {
		h.respondErr(w, "replace scoped user roles", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
