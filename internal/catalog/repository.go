package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/clinicore-authz/internal/platform/db"
	"github.com/clinicore/clinicore-authz/internal/shared"
)

// Repository defines persistence operations for the permission catalog.
type Repository interface {
	ListPermissions(ctx context.Context) ([]Permission, error)
	GetPermissionByName(ctx context.Context, name string) (Permission, error)
	CreatePermission(ctx context.Context, p Permission) (Permission, error)
	UpdatePermission(ctx context.Context, p Permission) (Permission, error)
	DeletePermission(ctx context.Context, id int64) error
	CountActiveGrants(ctx context.Context, permissionID int64) (int64, error)

	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	CreateRole(ctx context.Context, r Role) (Role, error)
	UpdateRole(ctx context.Context, r Role) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	CountRoleUsers(ctx context.Context, roleID int64) (int64, error)

	RolePermissionNames(ctx context.Context, roleID int64) ([]string, error)
	LegacyRolePermissionNames(ctx context.Context, roleName string) ([]string, error)
	SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error

	GetUserRole(ctx context.Context, userID int64) (UserRole, error)
	AssignRole(ctx context.Context, userID int64, role Role) error

	DependencyNames(ctx context.Context, permissionID int64) ([]string, error)
	AddDependency(ctx context.Context, dep Dependency) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// ListPermissions returns all permissions ordered by name.
func (r *PGRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, resource, action, description, created_at, updated_at FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// GetPermissionByName fetches a permission by its unique name.
func (r *PGRepository) GetPermissionByName(ctx context.Context, name string) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx, `SELECT id, name, resource, action, description, created_at, updated_at FROM permissions WHERE name = $1`, name).
		Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, fmt.Errorf("catalog: permission %q: %w", name, shared.ErrNotFound)
		}
		return Permission{}, err
	}
	return p, nil
}

// CreatePermission inserts a new permission.
func (r *PGRepository) CreatePermission(ctx context.Context, p Permission) (Permission, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO permissions (name, resource, action, description, created_at, updated_at)
VALUES ($1, $2, $3, $4, NOW(), NOW()) RETURNING id, created_at, updated_at`,
		p.Name, p.Resource, p.Action, p.Description).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Permission{}, mapConstraint(err, fmt.Sprintf("permission %q already exists", p.Name))
	}
	return p, nil
}

// UpdatePermission updates description/resource/action of a permission.
func (r *PGRepository) UpdatePermission(ctx context.Context, p Permission) (Permission, error) {
	err := r.pool.QueryRow(ctx, `UPDATE permissions SET resource = $2, action = $3, description = $4, updated_at = NOW()
WHERE id = $1 RETURNING name, created_at, updated_at`, p.ID, p.Resource, p.Action, p.Description).
		Scan(&p.Name, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, fmt.Errorf("catalog: permission %d: %w", p.ID, shared.ErrNotFound)
		}
		return Permission{}, err
	}
	return p, nil
}

// DeletePermission removes a permission by ID.
func (r *PGRepository) DeletePermission(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("catalog: permission %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// CountActiveGrants counts live temporary grants referencing a permission.
func (r *PGRepository) CountActiveGrants(ctx context.Context, permissionID int64) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM temporary_permissions WHERE permission_id = $1 AND is_active AND expires_at > NOW()`, permissionID).Scan(&count)
	return count, err
}

// ListRoles returns all roles ordered by priority, highest authority first.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, display_name, priority, created_at, updated_at FROM roles ORDER BY priority DESC, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.DisplayName, &role.Priority, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRole fetches a role by ID.
func (r *PGRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `SELECT id, name, display_name, priority, created_at, updated_at FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.DisplayName, &role.Priority, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, fmt.Errorf("catalog: role %d: %w", id, shared.ErrNotFound)
		}
		return Role{}, err
	}
	return role, nil
}

// GetRoleByName fetches a role by its unique name.
func (r *PGRepository) GetRoleByName(ctx context.Context, name string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `SELECT id, name, display_name, priority, created_at, updated_at FROM roles WHERE name = $1`, name).
		Scan(&role.ID, &role.Name, &role.DisplayName, &role.Priority, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, fmt.Errorf("catalog: role %q: %w", name, shared.ErrNotFound)
		}
		return Role{}, err
	}
	return role, nil
}

// CreateRole inserts a new role.
func (r *PGRepository) CreateRole(ctx context.Context, role Role) (Role, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO roles (name, display_name, priority, created_at, updated_at)
VALUES ($1, $2, $3, NOW(), NOW()) RETURNING id, created_at, updated_at`,
		role.Name, role.DisplayName, role.Priority).Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return Role{}, mapConstraint(err, fmt.Sprintf("role %q already exists", role.Name))
	}
	return role, nil
}

// UpdateRole updates display name and priority of a role.
func (r *PGRepository) UpdateRole(ctx context.Context, role Role) (Role, error) {
	err := r.pool.QueryRow(ctx, `UPDATE roles SET display_name = $2, priority = $3, updated_at = NOW()
WHERE id = $1 RETURNING name, created_at, updated_at`, role.ID, role.DisplayName, role.Priority).
		Scan(&role.Name, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, fmt.Errorf("catalog: role %d: %w", role.ID, shared.ErrNotFound)
		}
		return Role{}, err
	}
	return role, nil
}

// DeleteRole removes a role by ID.
func (r *PGRepository) DeleteRole(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("catalog: role %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// CountRoleUsers counts users currently assigned to a role.
func (r *PGRepository) CountRoleUsers(ctx context.Context, roleID int64) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM user_roles WHERE role_id = $1`, roleID).Scan(&count)
	return count, err
}

// RolePermissionNames returns permission names attached to a normalized role.
func (r *PGRepository) RolePermissionNames(ctx context.Context, roleID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.name FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id WHERE rp.role_id = $1`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNames(rows)
}

// LegacyRolePermissionNames returns permission names from the legacy table
// keyed by role name. Kept until the schema migration completes.
func (r *PGRepository) LegacyRolePermissionNames(ctx context.Context, roleName string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT permission_name FROM legacy_role_permissions WHERE role_name = $1`, roleName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNames(rows)
}

// SetRolePermissions replaces permissions for a role inside one transaction:
// attach missing, detach removed. Readers never observe a half-replaced set.
func (r *PGRepository) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT permission_id FROM role_permissions WHERE role_id = $1`, roleID)
		if err != nil {
			return err
		}
		existing := make(map[int64]struct{})
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			existing[id] = struct{}{}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		attach, detach := diffPermissionIDs(existing, permissionIDs)
		for _, id := range attach {
			if _, err := tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id, created_at) VALUES ($1, $2, NOW())`, roleID, id); err != nil {
				return err
			}
		}
		for _, id := range detach {
			if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// diffPermissionIDs computes the inserts and deletes that turn existing into
// want, leaving shared rows untouched so their created_at survives.
func diffPermissionIDs(existing map[int64]struct{}, want []int64) (attach, detach []int64) {
	keep := make(map[int64]struct{}, len(want))
	for _, id := range want {
		if _, dup := keep[id]; dup {
			continue
		}
		keep[id] = struct{}{}
		if _, ok := existing[id]; !ok {
			attach = append(attach, id)
		}
	}
	for id := range existing {
		if _, ok := keep[id]; !ok {
			detach = append(detach, id)
		}
	}
	return attach, detach
}

// GetUserRole fetches the role assignment for a user. Unknown users yield
// ErrNotFound so resolution never mistakes them for permissionless users.
func (r *PGRepository) GetUserRole(ctx context.Context, userID int64) (UserRole, error) {
	var ur UserRole
	err := r.pool.QueryRow(ctx, `SELECT user_id, role_name, role_id FROM user_roles WHERE user_id = $1`, userID).
		Scan(&ur.UserID, &ur.RoleName, &ur.RoleID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserRole{}, fmt.Errorf("catalog: user %d: %w", userID, shared.ErrNotFound)
		}
		return UserRole{}, err
	}
	return ur, nil
}

// AssignRole sets a user's role, updating both legacy name and normalized ID.
func (r *PGRepository) AssignRole(ctx context.Context, userID int64, role Role) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO user_roles (user_id, role_name, role_id)
VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE SET role_name = EXCLUDED.role_name, role_id = EXCLUDED.role_id`,
		userID, role.Name, role.ID)
	return err
}

// DependencyNames returns the names of permissions the given permission
// depends on.
func (r *PGRepository) DependencyNames(ctx context.Context, permissionID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.name FROM permission_dependencies d JOIN permissions p ON p.id = d.depends_on_permission_id WHERE d.permission_id = $1`, permissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNames(rows)
}

// AddDependency records that one permission requires another.
func (r *PGRepository) AddDependency(ctx context.Context, dep Dependency) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO permission_dependencies (permission_id, depends_on_permission_id)
VALUES ($1, $2) ON CONFLICT DO NOTHING`, dep.PermissionID, dep.DependsOnID)
	return err
}

func scanNames(rows pgx.Rows) ([]string, error) {
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func mapConstraint(err error, detail string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("catalog: %s: %w", detail, shared.ErrConflict)
	}
	return err
}

var _ Repository = (*PGRepository)(nil)
