package identity

import (
	"crypto/rand"
	"encoding/base64"
	"errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// HashPassword will generate a password hash
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), 14)
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return err
	}
	return nil
}

// GenerateProvisionalPassword returns a random cleartext password suitable
// for migration-provisioned credentials. The account is created with
// MustChangePassword set, so the value is only a bootstrap secret.
func GenerateProvisionalPassword() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// RandomPasswordHash is a temporary password hash nobody can log in with
// until an administrator or reset flow replaces it.
func RandomPasswordHash() string {
	pwd, err := GenerateProvisionalPassword()
	if err != nil {
		pwd = uuid.NewString()
	}

	h, err := HashPassword(pwd)
	if err != nil {
		// Unreachable with a non-empty seed and a fixed valid cost; an
		// empty hash fails closed because no password compares to it.
		return ""
	}

	return h
}
