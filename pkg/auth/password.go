// Package auth wraps credential hashing. The hash format is opaque to the
// rest of the system; callers only store and verify.
package auth

import "golang.org/x/crypto/bcrypt"

// HashPassword derives a salted bcrypt hash for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword verifies a password against a stored hash. The comparison
// inside bcrypt is constant-time, so a mismatch is indistinguishable from a
// near-miss by timing.
func CheckPassword(password, stored string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}
