/*
Package randx provides functions for generating cryptographically secure random identifiers.

Session tokens are fixed-length Base62 strings drawn from crypto/rand; connection and
account identifiers are UUID v4 strings.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the total number of characters in the Base62 character set (62).
	Base62Len = int64(len(Base62Chars))

	// SessionTokenLength is the length of a session token. 43 Base62 characters carry ~256 bits.
	SessionTokenLength = 43
)

// base62 returns a random Base62 string of the given length.
func base62(length int) (string, error) {
	result := make([]byte, length)
	limit := big.NewInt(Base62Len)

	for i := range length {
		num, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}
		result[i] = Base62Chars[num.Int64()]
	}

	return string(result), nil
}

// SessionToken generates a new opaque session token.
func SessionToken() (string, error) {
	return base62(SessionTokenLength)
}

// IsWellFormedToken reports whether s has the shape of a session token.
// It lets callers reject garbage before touching the session store.
func IsWellFormedToken(s string) bool {
	if len(s) != SessionTokenLength {
		return false
	}

	for _, char := range s {
		if !strings.ContainsRune(Base62Chars, char) {
			return false
		}
	}

	return true
}

// ConnectionID generates an identifier for one WebSocket connection.
func ConnectionID() string {
	return uuid.NewString()
}

// AccountID generates an identifier for a new account row.
func AccountID() string {
	return uuid.NewString()
}
