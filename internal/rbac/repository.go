package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rolegate/rolegate/internal/platform/db"
	"github.com/rolegate/rolegate/internal/shared"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Repository provides PostgreSQL backed persistence for roles, permissions,
// and user-role assignments. It is the store of record; the identity mirror
// is derived from it, never the other way around.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type dbtx interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// CreatePermission inserts a permission. Permission names are unique;
// duplicates fail with a ConflictError.
func (r *Repository) CreatePermission(ctx context.Context, name string) (Permission, error) {
	var perm Permission
	err := r.pool.QueryRow(ctx,
		`INSERT INTO permissions (name) VALUES ($1) RETURNING id, name`,
		name,
	).Scan(&perm.ID, &perm.Name)
	if err != nil {
		if isPgCode(err, pgUniqueViolation) {
			return Permission{}, shared.Conflict("permission", fmt.Sprintf("name %q already exists", name))
		}
		return Permission{}, fmt.Errorf("rbac: create permission: %w", err)
	}
	return perm, nil
}

// CreateRole inserts a role. The super role is a singleton: creating a second
// role with that name fails with a ConflictError. A missing parent fails with
// a NotFoundError.
func (r *Repository) CreateRole(ctx context.Context, name string, parentRoleID *uuid.UUID, isAdminRole bool) (Role, error) {
	parentRoleID, isAdminRole = pinSuper(name, parentRoleID, isAdminRole)
	role := Role{Permissions: []Permission{}}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if name == SuperRoleName {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM roles WHERE name = $1)`, SuperRoleName,
			).Scan(&exists); err != nil {
				return fmt.Errorf("rbac: check super role: %w", err)
			}
			if exists {
				return shared.Conflict("role", "super role already exists")
			}
		}
		err := tx.QueryRow(ctx,
			`INSERT INTO roles (name, parent_role_id, is_admin_role)
			 VALUES ($1, $2, $3)
			 RETURNING id, name, parent_role_id, is_admin_role`,
			name, parentRoleID, isAdminRole,
		).Scan(&role.ID, &role.Name, &role.ParentRoleID, &role.IsAdminRole)
		if err != nil {
			if isPgCode(err, pgForeignKeyViolation) {
				return shared.NotFound("role", deref(parentRoleID))
			}
			if isPgCode(err, pgUniqueViolation) {
				return shared.Conflict("role", fmt.Sprintf("name %q already exists", name))
			}
			return fmt.Errorf("rbac: create role: %w", err)
		}
		return nil
	})
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// GetRole fetches a role with its permissions.
func (r *Repository) GetRole(ctx context.Context, id uuid.UUID) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, parent_role_id, is_admin_role FROM roles WHERE id = $1`, id,
	).Scan(&role.ID, &role.Name, &role.ParentRoleID, &role.IsAdminRole)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.NotFound("role", id.String())
		}
		return Role{}, fmt.Errorf("rbac: get role: %w", err)
	}
	roles := []Role{role}
	if err := r.attachPermissions(ctx, r.pool, roles); err != nil {
		return Role{}, err
	}
	return roles[0], nil
}

// FindRoleByName fetches a role by exact name.
func (r *Repository) FindRoleByName(ctx context.Context, name string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, parent_role_id, is_admin_role FROM roles WHERE name = $1 ORDER BY name LIMIT 1`, name,
	).Scan(&role.ID, &role.Name, &role.ParentRoleID, &role.IsAdminRole)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.NotFound("role", name)
		}
		return Role{}, fmt.Errorf("rbac: find role by name: %w", err)
	}
	roles := []Role{role}
	if err := r.attachPermissions(ctx, r.pool, roles); err != nil {
		return Role{}, err
	}
	return roles[0], nil
}

// SetRoleParent re-parents a role. The super role is permanently a root,
// a role cannot be its own parent, and parenting a role to one of its own
// descendants fails with a ValidationError so the hierarchy stays acyclic.
func (r *Repository) SetRoleParent(ctx context.Context, roleID uuid.UUID, parentRoleID *uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var name string
		err := tx.QueryRow(ctx, `SELECT name FROM roles WHERE id = $1 FOR UPDATE`, roleID).Scan(&name)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return shared.NotFound("role", roleID.String())
			}
			return fmt.Errorf("rbac: load role: %w", err)
		}
		if err := validateReparent(name, roleID, parentRoleID); err != nil {
			return err
		}
		if parentRoleID != nil {
			parents, err := loadRoleParents(ctx, tx)
			if err != nil {
				return err
			}
			if isDescendant(parents, roleID, *parentRoleID) {
				return shared.Invalid("parent_role_id", "role cannot be parented to its own descendant")
			}
		}
		if _, err := tx.Exec(ctx,
			`UPDATE roles SET parent_role_id = $2 WHERE id = $1`, roleID, parentRoleID); err != nil {
			if isPgCode(err, pgForeignKeyViolation) {
				return shared.NotFound("role", deref(parentRoleID))
			}
			return fmt.Errorf("rbac: set role parent: %w", err)
		}
		return nil
	})
}

// pinSuper forces the super role's structural invariants regardless of the
// caller's input: it is always an admin role and always a root.
func pinSuper(name string, parentRoleID *uuid.UUID, isAdminRole bool) (*uuid.UUID, bool) {
	if name == SuperRoleName {
		return nil, true
	}
	return parentRoleID, isAdminRole
}

// validateReparent enforces the structural rules that need no hierarchy
// walk: the super role stays a root, and a role cannot be its own parent.
func validateReparent(name string, roleID uuid.UUID, parentRoleID *uuid.UUID) error {
	if parentRoleID == nil {
		return nil
	}
	if name == SuperRoleName {
		return shared.Invalid("parent_role_id", "the super role cannot be re-parented")
	}
	if *parentRoleID == roleID {
		return shared.Invalid("parent_role_id", "role cannot be its own parent")
	}
	return nil
}

func loadRoleParents(ctx context.Context, q dbtx) (map[uuid.UUID]uuid.UUID, error) {
	rows, err := q.Query(ctx, `SELECT id, parent_role_id FROM roles WHERE parent_role_id IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("rbac: load role parents: %w", err)
	}
	defer rows.Close()
	parents := make(map[uuid.UUID]uuid.UUID)
	for rows.Next() {
		var id, parent uuid.UUID
		if err := rows.Scan(&id, &parent); err != nil {
			return nil, fmt.Errorf("rbac: scan role parent: %w", err)
		}
		parents[id] = parent
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rbac: load role parents: %w", err)
	}
	return parents, nil
}

// isDescendant reports whether candidate sits in the subtree below roleID,
// following the child-to-parent edges in parents. A chain that loops without
// reaching roleID terminates as not-a-descendant.
func isDescendant(parents map[uuid.UUID]uuid.UUID, roleID, candidate uuid.UUID) bool {
	seen := make(map[uuid.UUID]bool)
	for cur := candidate; !seen[cur]; {
		seen[cur] = true
		parent, ok := parents[cur]
		if !ok {
			return false
		}
		if parent == roleID {
			return true
		}
		cur = parent
	}
	return false
}

// AssignPermissionToRole upserts into the join relation. Reassigning an
// existing pair is a no-op, not an error.
func (r *Repository) AssignPermissionToRole(ctx context.Context, roleID, permissionID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO role_permissions (role_id, permission_id)
		 VALUES ($1, $2)
		 ON CONFLICT (role_id, permission_id) DO NOTHING`,
		roleID, permissionID,
	)
	if err != nil {
		if isPgCode(err, pgForeignKeyViolation) {
			return shared.NotFound("role or permission", "")
		}
		return fmt.Errorf("rbac: assign permission: %w", err)
	}
	return nil
}

// RemovePermissionFromRole deletes the pair; absent pairs are a no-op.
func (r *Repository) RemovePermissionFromRole(ctx context.Context, roleID, permissionID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`,
		roleID, permissionID,
	)
	if err != nil {
		return fmt.Errorf("rbac: remove permission: %w", err)
	}
	return nil
}

// DeleteRole removes the role's user assignments, its permission
// associations, and finally the role itself, all in one transaction. It
// returns the ids of users who held the role so the caller can bring their
// mirrors up to date after the transaction has committed.
func (r *Repository) DeleteRole(ctx context.Context, roleID uuid.UUID) ([]string, error) {
	var userIDs []string
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		userIDs, err = roleHolders(ctx, tx, roleID)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE role_id = $1`, roleID); err != nil {
			return fmt.Errorf("rbac: delete user roles: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return fmt.Errorf("rbac: delete role permissions: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
		if err != nil {
			return fmt.Errorf("rbac: delete role: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.NotFound("role", roleID.String())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return userIDs, nil
}

// RoleHolders returns the ids of users currently assigned the role, ordered
// by user id. Permission changes use it to resync only affected mirrors.
func (r *Repository) RoleHolders(ctx context.Context, roleID uuid.UUID) ([]string, error) {
	return roleHolders(ctx, r.pool, roleID)
}

func roleHolders(ctx context.Context, q dbtx, roleID uuid.UUID) ([]string, error) {
	rows, err := q.Query(ctx,
		`SELECT user_id FROM user_roles WHERE role_id = $1 ORDER BY user_id`, roleID)
	if err != nil {
		return nil, fmt.Errorf("rbac: list role holders: %w", err)
	}
	defer rows.Close()
	var userIDs []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("rbac: scan role holder: %w", err)
		}
		userIDs = append(userIDs, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rbac: list role holders: %w", err)
	}
	return userIDs, nil
}

// ListRoles returns all roles with their permissions, ordered by name.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	return r.queryRoles(ctx, `SELECT id, name, parent_role_id, is_admin_role FROM roles ORDER BY name`)
}

// ListRolesByParent returns the roles scoped under the given parent, ordered
// by name. This is the delegation view a sub-admin manages.
func (r *Repository) ListRolesByParent(ctx context.Context, parentRoleID uuid.UUID) ([]Role, error) {
	return r.queryRoles(ctx,
		`SELECT id, name, parent_role_id, is_admin_role FROM roles WHERE parent_role_id = $1 ORDER BY name`,
		parentRoleID)
}

// ListPermissions returns all permissions ordered by name.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM permissions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("rbac: list permissions: %w", err)
	}
	defer rows.Close()
	perms := []Permission{}
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Name); err != nil {
			return nil, fmt.Errorf("rbac: scan permission: %w", err)
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rbac: list permissions: %w", err)
	}
	return perms, nil
}

// ListRolePermissions returns the permissions attached to a role, ordered by name.
func (r *Repository) ListRolePermissions(ctx context.Context, roleID uuid.UUID) ([]Permission, error) {
	if _, err := r.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT p.id, p.name FROM permissions p
		 JOIN role_permissions rp ON p.id = rp.permission_id
		 WHERE rp.role_id = $1
		 ORDER BY p.name`,
		roleID)
	if err != nil {
		return nil, fmt.Errorf("rbac: list role permissions: %w", err)
	}
	defer rows.Close()
	perms := []Permission{}
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Name); err != nil {
			return nil, fmt.Errorf("rbac: scan role permission: %w", err)
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rbac: list role permissions: %w", err)
	}
	return perms, nil
}

// ReplaceUserRoles swaps the user's assignment set for exactly the given
// roles in a single transaction: delete-all-then-insert, never a merge. A
// failure leaves the prior set intact. The returned roles carry permissions
// and feed the mirror sync.
func (r *Repository) ReplaceUserRoles(ctx context.Context, userID string, roleIDs []uuid.UUID) ([]Role, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("rbac: clear user roles: %w", err)
		}
		for _, roleID := range roleIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)
				 ON CONFLICT (user_id, role_id) DO NOTHING`,
				userID, roleID,
			); err != nil {
				if isPgCode(err, pgForeignKeyViolation) {
					return shared.NotFound("role", roleID.String())
				}
				return fmt.Errorf("rbac: assign user role: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.UserRoles(ctx, userID)
}

// UserRoles returns the roles a user currently holds, with permissions,
// ordered by name.
func (r *Repository) UserRoles(ctx context.Context, userID string) ([]Role, error) {
	return r.queryRoles(ctx,
		`SELECT r.id, r.name, r.parent_role_id, r.is_admin_role
		 FROM roles r JOIN user_roles ur ON r.id = ur.role_id
		 WHERE ur.user_id = $1
		 ORDER BY r.name`,
		userID)
}

// Counts returns the number of roles and user-role assignments. The setup
// protocol uses it to decide whether the system is untouched.
func (r *Repository) Counts(ctx context.Context) (roles int64, userRoles int64, err error) {
	err = r.pool.QueryRow(ctx,
		`SELECT (SELECT count(*) FROM roles), (SELECT count(*) FROM user_roles)`,
	).Scan(&roles, &userRoles)
	if err != nil {
		return 0, 0, fmt.Errorf("rbac: counts: %w", err)
	}
	return roles, userRoles, nil
}

func (r *Repository) queryRoles(ctx context.Context, sql string, args ...any) ([]Role, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("rbac: query roles: %w", err)
	}
	defer rows.Close()
	roles := []Role{}
	for rows.Next() {
		role := Role{Permissions: []Permission{}}
		if err := rows.Scan(&role.ID, &role.Name, &role.ParentRoleID, &role.IsAdminRole); err != nil {
			return nil, fmt.Errorf("rbac: scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rbac: query roles: %w", err)
	}
	if err := r.attachPermissions(ctx, r.pool, roles); err != nil {
		return nil, err
	}
	return roles, nil
}

func (r *Repository) attachPermissions(ctx context.Context, q dbtx, roles []Role) error {
	if len(roles) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(roles))
	index := make(map[uuid.UUID]int, len(roles))
	for i, role := range roles {
		ids[i] = role.ID
		index[role.ID] = i
	}
	rows, err := q.Query(ctx,
		`SELECT rp.role_id, p.id, p.name
		 FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id
		 WHERE rp.role_id = ANY($1)
		 ORDER BY p.name`,
		ids)
	if err != nil {
		return fmt.Errorf("rbac: load permissions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var roleID uuid.UUID
		var perm Permission
		if err := rows.Scan(&roleID, &perm.ID, &perm.Name); err != nil {
			return fmt.Errorf("rbac: scan permissions: %w", err)
		}
		if i, ok := index[roleID]; ok {
			roles[i].Permissions = append(roles[i].Permissions, perm)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rbac: load permissions: %w", err)
	}
	return nil
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func deref(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
