package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// compare is swapped out in tests to observe how much input was compared.
var compare = subtle.ConstantTimeCompare

// IsValid reports whether presented matches expected.
//
// An empty expected secret never validates. Lengths are checked first since
// length is not secret; the byte comparison itself runs in constant time and
// always inspects every byte.
func IsValid(presented, expected []byte) bool {
	if len(expected) == 0 {
		return false
	}
	if len(presented) != len(expected) {
		return false
	}
	return compare(presented, expected) == 1
}

// IsValidString is IsValid for string secrets.
func IsValidString(presented, expected string) bool {
	return IsValid([]byte(presented), []byte(expected))
}

func ExtractBearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	token := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	if token == "" {
		return "", errors.New("missing API key")
	}
	return token, nil
}
