package auth

import (
	"fmt"
	"regexp"
	"unicode"

	"emberframe/internal/apperr"

	"golang.org/x/crypto/bcrypt"
)

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,30}$`)

func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: username must be 3-30 letters, digits or underscores", apperr.ErrInvalidArgument)
	}
	return nil
}

// ValidatePassword requires at least 6 characters with one letter and one digit.
func ValidatePassword(password string) error {
	if len(password) < 6 {
		return fmt.Errorf("%w: password must be at least 6 characters", apperr.ErrInvalidArgument)
	}
	if len(password) > 72 {
		return fmt.Errorf("%w: password must be at most 72 bytes", apperr.ErrInvalidArgument)
	}
	var letter, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		return fmt.Errorf("%w: password must contain a letter and a digit", apperr.ErrInvalidArgument)
	}
	return nil
}
