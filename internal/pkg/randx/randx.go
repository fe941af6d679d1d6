/*
Package randx provides functions for generating cryptographically secure random codes.

It is used to generate the fixed-length Base62 sign-up codes handed out by operators.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the total number of characters in the Base62 character set (62).
	Base62Len = int64(len(Base62Chars))

	// RegisterCodeLength is the fixed length of a sign-up code.
	RegisterCodeLength = 6
)

// RegisterCode generates a Base62 sign-up code using crypto/rand.
func RegisterCode() (string, error) {
	result := make([]byte, RegisterCodeLength)

	for i := range RegisterCodeLength {
		num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number for register code: %v", err)
		}

		result[i] = Base62Chars[num.Int64()]
	}

	return string(result), nil
}

// IsValidRegisterCode checks the length and alphabet of code.
func IsValidRegisterCode(code string) bool {
	if len(code) != RegisterCodeLength {
		return false
	}

	for _, char := range code {
		if !strings.ContainsRune(Base62Chars, char) {
			return false
		}
	}

	return true
}
