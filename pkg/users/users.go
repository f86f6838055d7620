// Package users manages registered assistant users: their credentials in
// Postgres and their per-user environment files on disk.
package users

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound = errors.New("user not found")
	ErrExists   = errors.New("user already exists")
)

// User is one registered profile. Password hashes never leave the store.
type User struct {
	UserID                  string
	Location                string
	TodoistAPIToken         string
	GoogleOAuthCredentials  string
	GmailCredentialsFile    string
	CalendarCredentialsFile string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// NewUser carries the fields accepted at registration.
type NewUser struct {
	UserID                  string
	Password                string
	Location                string
	TodoistAPIToken         string
	GoogleOAuthCredentials  string
	GmailCredentialsFile    string
	CalendarCredentialsFile string
}

// Update carries optional profile changes. Nil fields are left untouched.
type Update struct {
	Password                *string
	Location                *string
	TodoistAPIToken         *string
	GoogleOAuthCredentials  *string
	GmailCredentialsFile    *string
	CalendarCredentialsFile *string
}

func (u Update) empty() bool {
	return u.Password == nil && u.Location == nil && u.TodoistAPIToken == nil &&
		u.GoogleOAuthCredentials == nil && u.GmailCredentialsFile == nil &&
		u.CalendarCredentialsFile == nil
}

// NormalizeID canonicalizes a user id. Every lookup and insert goes through
// this so "Ada " and "ada" are the same account.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
