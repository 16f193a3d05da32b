package auth

import "time"

// User is an operator account.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal is the authenticated identity behind a session.
type Principal struct {
	UserID int64
	Email  string
}
