package resolver

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	generatedUserNameDigits = 11
	generatedPasswordLength = 32

	passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// generateUserName produces a fixed-length candidate username: one lowercase
// letter followed by generatedUserNameDigits random digits. Collisions are
// possible and handled by the caller's bounded retry.
func generateUserName() (string, error) {
	letter, err := randomIndex(26)
	if err != nil {
		return "", err
	}
	name := make([]byte, 1+generatedUserNameDigits)
	name[0] = byte('a' + letter)
	for i := 1; i < len(name); i++ {
		digit, err := randomIndex(10)
		if err != nil {
			return "", err
		}
		name[i] = byte('0' + digit)
	}
	return string(name), nil
}

// generatePassword produces a strong random password. The user never sees it;
// it only has to be unguessable.
func generatePassword() (string, error) {
	password := make([]byte, generatedPasswordLength)
	for i := range password {
		idx, err := randomIndex(len(passwordAlphabet))
		if err != nil {
			return "", err
		}
		password[i] = passwordAlphabet[idx]
	}
	return string(password), nil
}

func randomIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("random generation failed: %w", err)
	}
	return int(v.Int64()), nil
}
