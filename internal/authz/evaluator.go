// Package authz decides access from mirrored role claims. The evaluator is
// pure: it never touches the database or the identity provider, it only
// inspects the claim set handed to it, so request gating costs no I/O beyond
// verifying the session token.
package authz

import (
	"sort"

	"github.com/google/uuid"

	"github.com/rolegate/rolegate/internal/identity"
	"github.com/rolegate/rolegate/internal/rbac"
)

// HasRole reports whether the claim set contains a role with the exact name.
func HasRole(claims []rbac.Claim, roleName string) bool {
	for _, claim := range claims {
		if claim.Name == roleName {
			return true
		}
	}
	return false
}

// HasAdminRole reports whether the claim set contains an admin role with the
// exact name. A same-named non-admin role does not qualify.
func HasAdminRole(claims []rbac.Claim, roleName string) bool {
	for _, claim := range claims {
		if claim.Name == roleName && claim.IsAdminRole {
			return true
		}
	}
	return false
}

// HasPermission reports whether any claimed role carries a permission with
// the given name.
func HasPermission(claims []rbac.Claim, permissionName string) bool {
	for _, claim := range claims {
		for _, perm := range claim.Permissions {
			if perm.Name == permissionName {
				return true
			}
		}
	}
	return false
}

// AdminRoleID returns the id of the admin role with the given name from the
// claim set. This is how a sub-admin's own delegation root is resolved.
func AdminRoleID(claims []rbac.Claim, roleName string) (uuid.UUID, bool) {
	for _, claim := range claims {
		if claim.Name == roleName && claim.IsAdminRole {
			return claim.ID, true
		}
	}
	return uuid.Nil, false
}

// ScopedRoles filters roles to those parented directly under the given admin
// role, ordered by name. This restricts a sub-admin's management view to the
// roles it delegates.
func ScopedRoles(allRoles []rbac.Role, adminRoleID uuid.UUID) []rbac.Role {
	scoped := []rbac.Role{}
	for _, role := range allRoles {
		if role.ParentRoleID != nil && *role.ParentRoleID == adminRoleID {
			scoped = append(scoped, role)
		}
	}
	sort.Slice(scoped, func(i, j int) bool { return scoped[i].Name < scoped[j].Name })
	return scoped
}

// ScopedUsers filters users to those a sub-admin may manage: users holding
// no roles at all, or holding at least one role parented under the admin
// role. Mirrored claims do not carry parent ids, so membership is resolved
// against the full role list.
//
// Zero-role users being visible to every sub-admin is inherited policy;
// do not widen or narrow it without product sign-off.
func ScopedUsers(users []identity.User, allRoles []rbac.Role, adminRoleID uuid.UUID) []identity.User {
	childIDs := make(map[uuid.UUID]struct{})
	for _, role := range allRoles {
		if role.ParentRoleID != nil && *role.ParentRoleID == adminRoleID {
			childIDs[role.ID] = struct{}{}
		}
	}

	scoped := []identity.User{}
	for _, user := range users {
		claims, err := rbac.ClaimsFromMetadata(user.PublicMetadata)
		if err != nil {
			// Unreadable mirrors are treated as empty claim sets, matching
			// the zero-role visibility rule.
			claims = nil
		}
		if len(claims) == 0 {
			scoped = append(scoped, user)
			continue
		}
		for _, claim := range claims {
			if _, ok := childIDs[claim.ID]; ok {
				scoped = append(scoped, user)
				break
			}
		}
	}
	return scoped
}
