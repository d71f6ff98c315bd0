package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/crucial707/equipment-manager/internal/db"
	"github.com/crucial707/equipment-manager/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// ErrUserNotFound is returned when no user has the requested username.
var ErrUserNotFound = errors.New("user not found")

// ==========================
// UserRepo
// ==========================
type UserRepo struct {
	DB    *sql.DB
	retry *db.Retrier
}

// ==========================
// Constructor
// ==========================
func NewUserRepo(conn *sql.DB, retry *db.Retrier) *UserRepo {
	if retry == nil {
		retry = db.NewRetrier(conn, 0, nil)
	}
	return &UserRepo{DB: conn, retry: retry}
}

// ==========================
// Create User
// ==========================

// Create stores a new user. An empty password creates a user that signs in by
// username alone. A taken username surfaces as a constraint error.
func (r *UserRepo) Create(ctx context.Context, username, password string) (*models.User, error) {
	hash := ""
	if password != "" {
		b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		hash = string(b)
	}

	query := `
		INSERT INTO users (username, password_hash)
		VALUES ($1, $2)
		RETURNING id, username, password_hash, created_at
	`

	user := &models.User{}
	err := r.retry.Do(ctx, "user.create", func(ctx context.Context) error {
		return r.DB.QueryRowContext(ctx, query, username, hash).
			Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	})
	if err != nil {
		return nil, err
	}

	return user, nil
}

// ==========================
// Get By Username
// ==========================
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username = $1
	`

	user := &models.User{}
	err := r.retry.Do(ctx, "user.get", func(ctx context.Context) error {
		return r.DB.QueryRowContext(ctx, query, username).
			Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	return user, nil
}

// ==========================
// Check Password
// ==========================

// CheckPassword reports whether password matches u. A user without a password
// accepts only the empty password.
func CheckPassword(u *models.User, password string) bool {
	if u.PasswordHash == "" {
		return password == ""
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// ==========================
// List Users
// ==========================
func (r *UserRepo) List(ctx context.Context) ([]models.User, error) {
	users := []models.User{}
	err := r.retry.Do(ctx, "user.list", func(ctx context.Context) error {
		rows, err := r.DB.QueryContext(ctx, `SELECT id, username, created_at FROM users ORDER BY username`)
		if err != nil {
			return err
		}
		defer rows.Close()

		users = users[:0]
		for rows.Next() {
			var u models.User
			if err := rows.Scan(&u.ID, &u.Username, &u.CreatedAt); err != nil {
				return err
			}
			users = append(users, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return users, nil
}
