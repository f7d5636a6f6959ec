package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/file-manager-api/internal/models"
)

const pqUniqueViolation = "23505"

// ErrDuplicate marks an insert rejected by a uniqueness constraint.
var ErrDuplicate = errors.New("duplicate row")

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// UserRepository provides database access for user management.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByUsername returns a user by username.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	const query = `SELECT id, username, hashed_password, role, last_active, created_at FROM users WHERE username = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, username); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by username: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	const query = `SELECT id, username, hashed_password, role, last_active, created_at FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// Create inserts a new user and fills in the generated identifier.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	const query = `INSERT INTO users (username, hashed_password, role, created_at) VALUES ($1, $2, $3, $4) RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query, user.Username, user.HashedPassword, user.Role, user.CreatedAt).Scan(&user.ID); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UpdateLastActive refreshes the activity heartbeat for a user.
func (r *UserRepository) UpdateLastActive(ctx context.Context, id int64, ts time.Time) error {
	const query = `UPDATE users SET last_active = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts); err != nil {
		return fmt.Errorf("update last active: %w", err)
	}
	return nil
}

// AdminActiveSince reports whether any admin has a heartbeat at or
// after the cutoff. It is the sole input to the admin activity gate.
func (r *UserRepository) AdminActiveSince(ctx context.Context, cutoff time.Time) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM users WHERE role = $1 AND last_active >= $2)`
	var active bool
	if err := r.db.GetContext(ctx, &active, query, models.RoleAdmin, cutoff); err != nil {
		return false, fmt.Errorf("check admin activity: %w", err)
	}
	return active, nil
}
