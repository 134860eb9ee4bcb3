package repository

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-shift-reviews/internal/database"
	"github.com/pesio-ai/be-shift-reviews/internal/errors"
)

// Roles used by the review workflow.
const (
	RoleController = "controller"
	RoleManager    = "manager"
)

// UserProfile is a row of the profile store.
type UserProfile struct {
	ID          string
	Email       string
	DisplayName string
	Name        string
	Role        string
	IsActive    bool
	Permissions map[string]bool
}

// CanApprove reports whether the profile carries the approve permission.
func (u *UserProfile) CanApprove() bool {
	return u.Permissions["canApprove"]
}

// UserRepository reads user profiles.
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, coalesce(email, ''), coalesce(display_name, ''), coalesce(name, ''),
	coalesce(role, ''), is_active, permissions`

// GetByID returns the profile with the given id.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*UserProfile, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", id)
	}
	return u, err
}

// FindByEmail returns the first profile whose email matches, ignoring case.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*UserProfile, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1) ORDER BY id LIMIT 1`
	u, err := scanUser(r.db.QueryRow(ctx, query, strings.TrimSpace(email)))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", email)
	}
	return u, err
}

// ListApproverIDs returns the ids of every user holding canApprove.
func (r *UserRepository) ListApproverIDs(ctx context.Context) ([]string, error) {
	query := `SELECT id FROM users WHERE permissions->'canApprove' = 'true'::jsonb ORDER BY id`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approvers")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approver")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate approvers")
	}
	return ids, nil
}

// ListActiveByRoles returns up to limit active users whose role is in roles.
func (r *UserRepository) ListActiveByRoles(ctx context.Context, roles []string, limit int) ([]*UserProfile, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE is_active AND role = ANY($1) ORDER BY id LIMIT $2`
	rows, err := r.db.Query(ctx, query, roles, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list users by role")
	}
	defer rows.Close()

	var users []*UserProfile
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate users")
	}
	return users, nil
}

type userScanner interface {
	Scan(dest ...any) error
}

func scanUser(sc userScanner) (*UserProfile, error) {
	u := &UserProfile{}
	var permissions []byte
	err := sc.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Name, &u.Role, &u.IsActive, &permissions)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan user")
	}

	u.Permissions = map[string]bool{}
	if len(permissions) > 0 {
		var raw map[string]any
		if err := json.Unmarshal(permissions, &raw); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to decode user permissions")
		}
		for k, v := range raw {
			if b, ok := v.(bool); ok {
				u.Permissions[k] = b
			}
		}
	}
	return u, nil
}
