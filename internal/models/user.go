package models

import "time"

// User is an engineer who signs in and is recorded as the actor on audit entries.
// Users without a password may sign in with their username alone.
type User struct {
	ID           int64     `json:"id" db:"id" goqu:"skipinsert"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at" goqu:"skipinsert"`
}
