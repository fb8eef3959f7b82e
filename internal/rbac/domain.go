// Package rbac owns the role and permission model: the relational store of
// record, the orchestration between it and the identity mirror, and the
// administrative HTTP surface.
package rbac

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// SuperRoleName is the distinguished singleton admin role created during setup.
// It is unscoped: parent is always nil and IsAdminRole is always true.
const SuperRoleName = "super"

// ClaimSchemaVersion is written next to the roles array in provider metadata
// and validated on read.
const ClaimSchemaVersion = 1

// MetadataRolesKey is the metadata field holding the mirrored claim set.
const MetadataRolesKey = "roles"

// MetadataSchemaKey is the metadata field holding the claim schema version.
const MetadataSchemaKey = "roles_schema_version"

// Permission is an atomic named capability.
type Permission struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Role is a named permission bundle, optionally scoped under a parent admin role.
type Role struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	ParentRoleID *uuid.UUID `json:"parent_role_id"`
	IsAdminRole  bool       `json:"is_admin_role"`
	Permissions  []Permission `json:"permissions"`
}

// Claim is the denormalized snapshot of one held role, as mirrored into the
// identity provider's per-user metadata. It is a cache of the store of
// record; only the synchronizer may write it.
type Claim struct {
	ID          uuid.UUID    `json:"id"`
	Name        string       `json:"name"`
	IsAdminRole bool         `json:"is_admin_role"`
	Permissions []Permission `json:"permissions"`
}

// ClaimsForRoles builds the mirror payload for a role set. Output is ordered
// by role name so repeated syncs of the same set produce identical payloads.
func ClaimsForRoles(roles []Role) []Claim {
	claims := make([]Claim, 0, len(roles))
	for _, role := range roles {
		perms := make([]Permission, len(role.Permissions))
		copy(perms, role.Permissions)
		sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
		claims = append(claims, Claim{
			ID:          role.ID,
			Name:        role.Name,
			IsAdminRole: role.IsAdminRole,
			Permissions: perms,
		})
	}
	sort.Slice(claims, func(i, j int) bool { return claims[i].Name < claims[j].Name })
	return claims
}

// ClaimsFromMetadata decodes and validates the mirrored claim set from a
// provider metadata object. A missing roles key yields an empty set. An
// unknown schema version is an error rather than a silent misread.
func ClaimsFromMetadata(metadata map[string]any) ([]Claim, error) {
	if metadata == nil {
		return nil, nil
	}
	if raw, ok := metadata[MetadataSchemaKey]; ok {
		version, ok := asInt(raw)
		if !ok || version > ClaimSchemaVersion || version < 1 {
			return nil, fmt.Errorf("rbac: unsupported claim schema version %v", raw)
		}
	}
	raw, ok := metadata[MetadataRolesKey]
	if !ok || raw == nil {
		return nil, nil
	}
	entries, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("rbac: metadata %q is not a list", MetadataRolesKey)
	}
	claims := make([]Claim, 0, len(entries))
	for _, entry := range entries {
		obj, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("rbac: malformed claim entry")
		}
		claim, err := claimFromObject(obj)
		if err != nil {
			return nil, err
		}
		claims = append(claims, claim)
	}
	return claims, nil
}

func claimFromObject(obj map[string]any) (Claim, error) {
	id, err := uuidField(obj, "id")
	if err != nil {
		return Claim{}, err
	}
	name, _ := obj["name"].(string)
	if name == "" {
		return Claim{}, fmt.Errorf("rbac: claim %s has no name", id)
	}
	isAdmin, _ := obj["is_admin_role"].(bool)
	claim := Claim{ID: id, Name: name, IsAdminRole: isAdmin, Permissions: []Permission{}}
	rawPerms, _ := obj["permissions"].([]any)
	for _, rawPerm := range rawPerms {
		permObj, ok := rawPerm.(map[string]any)
		if !ok {
			return Claim{}, fmt.Errorf("rbac: claim %s has malformed permission", id)
		}
		permID, err := uuidField(permObj, "id")
		if err != nil {
			return Claim{}, err
		}
		permName, _ := permObj["name"].(string)
		claim.Permissions = append(claim.Permissions, Permission{ID: permID, Name: permName})
	}
	return claim, nil
}

func uuidField(obj map[string]any, key string) (uuid.UUID, error) {
	raw, _ := obj[key].(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("rbac: parse %s: %w", key, err)
	}
	return id, nil
}

func asInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
