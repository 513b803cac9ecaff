// Package auth verifies the API's admin credentials and issues tokens.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrNoCredentials is returned when the admin password hash is not set.
var ErrNoCredentials = errors.New("admin password hash is not configured")

// bcrypt ignores everything past 72 bytes.
const maxPasswordLen = 72

// HashPassword returns the bcrypt hash stored in ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password must not be empty")
	}
	if len(password) > maxPasswordLen {
		return "", fmt.Errorf("password longer than %d bytes", maxPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Admin is the single operator account allowed to log in.
type Admin struct {
	username string
	hash     []byte
}

// NewAdmin checks that hash is a usable bcrypt hash.
func NewAdmin(username, hash string) (*Admin, error) {
	if hash == "" {
		return nil, ErrNoCredentials
	}
	if username == "" {
		return nil, fmt.Errorf("admin username must not be empty")
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("invalid admin password hash: %w", err)
	}
	return &Admin{username: username, hash: []byte(hash)}, nil
}

// Verify reports whether username and password match the admin account.
// The bcrypt comparison runs even on a wrong username.
func (a *Admin) Verify(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK := bcrypt.CompareHashAndPassword(a.hash, []byte(password)) == nil
	return userOK && passOK
}
