package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"sitekeeper/internal/rbac/domain"
)

const (
	roleColumns       = `id, name, description, priority, is_active, is_system_role, created_at, updated_at`
	permissionColumns = `id, name, description, category, resource, action, is_active, is_system_permission, created_at`
	uniqueViolation   = "23505"
)

// PostgresRepository persists RBAC data in the roles, permissions, role_permissions and user_roles tables.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an RBAC repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func mapUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateName
	}
	return err
}

func (r *PostgresRepository) ListRoles(ctx context.Context) ([]*domain.Role, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY priority DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetRole(ctx context.Context, id int64) (*domain.Role, error) {
	return r.getRole(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
}

func (r *PostgresRepository) GetRoleByName(ctx context.Context, name string) (*domain.Role, error) {
	return r.getRole(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name)
}

func (r *PostgresRepository) getRole(ctx context.Context, query string, arg any) (*domain.Role, error) {
	role, err := scanRole(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return role, err
}

func (r *PostgresRepository) CreateRole(ctx context.Context, role *domain.Role) error {
	err := r.db.QueryRowContext(ctx, `INSERT INTO roles (name, description, priority, is_active, is_system_role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6) RETURNING id`,
		role.Name, role.Description, role.Priority, role.IsActive, role.IsSystemRole, role.CreatedAt,
	).Scan(&role.ID)
	return mapUnique(err)
}

func (r *PostgresRepository) UpdateRole(ctx context.Context, role *domain.Role) error {
	_, err := r.db.ExecContext(ctx, `UPDATE roles SET name = $2, description = $3, priority = $4, is_active = $5, updated_at = $6
		WHERE id = $1`, role.ID, role.Name, role.Description, role.Priority, role.IsActive, role.UpdatedAt)
	return mapUnique(err)
}

// DeleteRole removes the role; grants cascade via foreign keys.
func (r *PostgresRepository) DeleteRole(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id)
	return err
}

func (r *PostgresRepository) ListPermissions(ctx context.Context) ([]*domain.Permission, error) {
	return r.listPermissions(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY name`)
}

func (r *PostgresRepository) GetPermission(ctx context.Context, id int64) (*domain.Permission, error) {
	return r.getPermission(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id)
}

func (r *PostgresRepository) GetPermissionByName(ctx context.Context, name string) (*domain.Permission, error) {
	return r.getPermission(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE name = $1`, name)
}

func (r *PostgresRepository) getPermission(ctx context.Context, query string, arg any) (*domain.Permission, error) {
	p, err := scanPermission(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (r *PostgresRepository) CreatePermission(ctx context.Context, p *domain.Permission) error {
	err := r.db.QueryRowContext(ctx, `INSERT INTO permissions (name, description, category, resource, action, is_active, is_system_permission, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		p.Name, p.Description, p.Category, p.Resource, p.Action, p.IsActive, p.IsSystemPermission, p.CreatedAt,
	).Scan(&p.ID)
	return mapUnique(err)
}

func (r *PostgresRepository) UpdatePermission(ctx context.Context, p *domain.Permission) error {
	_, err := r.db.ExecContext(ctx, `UPDATE permissions SET name = $2, description = $3, category = $4, resource = $5,
		action = $6, is_active = $7 WHERE id = $1`,
		p.ID, p.Name, p.Description, p.Category, p.Resource, p.Action, p.IsActive)
	return mapUnique(err)
}

func (r *PostgresRepository) DeletePermission(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	return err
}

func (r *PostgresRepository) ListRolePermissions(ctx context.Context, roleID int64) ([]*domain.Permission, error) {
	return r.listPermissions(ctx, `SELECT p.id, p.name, p.description, p.category, p.resource, p.action, p.is_active,
		p.is_system_permission, p.created_at
		FROM permissions p JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1 ORDER BY p.name`, roleID)
}

func (r *PostgresRepository) listPermissions(ctx context.Context, query string, args ...any) ([]*domain.Permission, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GrantPermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO role_permissions (role_id, permission_id, granted_at)
		VALUES ($1, $2, $3) ON CONFLICT (role_id, permission_id) DO NOTHING`, roleID, permissionID, time.Now().UTC())
	return err
}

func (r *PostgresRepository) RevokePermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *PostgresRepository) ListUserRoles(ctx context.Context, userID string) ([]*domain.UserRole, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id, role_id, is_primary, is_active, valid_from, valid_to, assigned_by, assigned_at
		FROM user_roles WHERE user_id = $1 ORDER BY role_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.UserRole
	for rows.Next() {
		var (
			ur      domain.UserRole
			validTo sql.NullTime
		)
		if err := rows.Scan(&ur.UserID, &ur.RoleID, &ur.IsPrimary, &ur.IsActive, &ur.ValidFrom, &validTo, &ur.AssignedBy, &ur.AssignedAt); err != nil {
			return nil, err
		}
		if validTo.Valid {
			ur.ValidTo = &validTo.Time
		}
		out = append(out, &ur)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) ListRoleUserIDs(ctx context.Context, roleID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id FROM user_roles WHERE role_id = $1 ORDER BY user_id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) AssignRole(ctx context.Context, ur *domain.UserRole) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if ur.IsPrimary {
		if _, err := tx.ExecContext(ctx, `UPDATE user_roles SET is_primary = FALSE WHERE user_id = $1 AND role_id <> $2`, ur.UserID, ur.RoleID); err != nil {
			return err
		}
	}
	var validTo sql.NullTime
	if ur.ValidTo != nil {
		validTo = sql.NullTime{Time: *ur.ValidTo, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO user_roles (user_id, role_id, is_primary, is_active, valid_from, valid_to, assigned_by, assigned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, role_id) DO UPDATE SET is_primary = EXCLUDED.is_primary, is_active = EXCLUDED.is_active,
			valid_from = EXCLUDED.valid_from, valid_to = EXCLUDED.valid_to, assigned_by = EXCLUDED.assigned_by,
			assigned_at = EXCLUDED.assigned_at`,
		ur.UserID, ur.RoleID, ur.IsPrimary, ur.IsActive, ur.ValidFrom, validTo, ur.AssignedBy, ur.AssignedAt)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresRepository) RevokeRole(ctx context.Context, userID string, roleID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *PostgresRepository) EffectivePermissions(ctx context.Context, userID string, at time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT p.name
		FROM user_roles ur
		JOIN roles ro ON ro.id = ur.role_id AND ro.is_active
		JOIN role_permissions rp ON rp.role_id = ro.id
		JOIN permissions p ON p.id = rp.permission_id AND p.is_active
		WHERE ur.user_id = $1 AND ur.is_active
			AND ur.valid_from <= $2 AND (ur.valid_to IS NULL OR ur.valid_to >= $2)
		ORDER BY p.name`, userID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRole(sc scanner) (*domain.Role, error) {
	var role domain.Role
	if err := sc.Scan(&role.ID, &role.Name, &role.Description, &role.Priority, &role.IsActive, &role.IsSystemRole, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return nil, err
	}
	return &role, nil
}

func scanPermission(sc scanner) (*domain.Permission, error) {
	var p domain.Permission
	if err := sc.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Resource, &p.Action, &p.IsActive, &p.IsSystemPermission, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
