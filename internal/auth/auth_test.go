package auth

import (
	"crypto/subtle"
	"net/http/httptest"
	"testing"
)

func TestIsValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		presented string
		expected  string
		want      bool
	}{
		{"match", "s3cret", "s3cret", true},
		{"mismatch same length", "s3creT", "s3cret", false},
		{"shorter", "s3cre", "s3cret", false},
		{"longer", "s3crets", "s3cret", false},
		{"empty presented", "", "s3cret", false},
		{"empty expected", "s3cret", "", false},
		{"both empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidString(tt.presented, tt.expected); got != tt.want {
				t.Fatalf("IsValidString(%q, %q) = %v, want %v", tt.presented, tt.expected, got, tt.want)
			}
		})
	}
}

func TestIsValidReflexive(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"a", "token", "a-much-longer-shared-secret-value-0123456789"} {
		if !IsValid([]byte(s), []byte(s)) {
			t.Fatalf("IsValid(%q, %q) = false", s, s)
		}
		if IsValid(nil, []byte(s)) {
			t.Fatalf("IsValid(nil, %q) = true", s)
		}
		if IsValid([]byte(s), nil) {
			t.Fatalf("IsValid(%q, nil) = true", s)
		}
	}
}

// Every equal-length candidate, whatever the position of its differing byte,
// must be handed to the comparison in full.
func TestIsValidComparesWholeInput(t *testing.T) {
	secret := []byte("0123456789abcdef")

	var calls, comparedBytes int
	orig := compare
	compare = func(x, y []byte) int {
		calls++
		comparedBytes += len(x)
		return subtle.ConstantTimeCompare(x, y)
	}
	t.Cleanup(func() { compare = orig })

	for pos := range secret {
		candidate := append([]byte(nil), secret...)
		candidate[pos] ^= 0xff

		calls, comparedBytes = 0, 0
		if IsValid(candidate, secret) {
			t.Fatalf("mismatch at %d validated", pos)
		}
		if calls != 1 || comparedBytes != len(secret) {
			t.Fatalf("mismatch at %d: calls=%d compared=%d, want 1 and %d", pos, calls, comparedBytes, len(secret))
		}
	}
}

func TestIsValidSkipsCompareWhenUnconfigured(t *testing.T) {
	var calls int
	orig := compare
	compare = func(x, y []byte) int {
		calls++
		return subtle.ConstantTimeCompare(x, y)
	}
	t.Cleanup(func() { compare = orig })

	_ = IsValid([]byte("x"), nil)
	if calls != 0 {
		t.Fatalf("expected no comparison for an empty secret, got %d", calls)
	}
}

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/status", nil)
	if _, err := ExtractBearerToken(r); err == nil {
		t.Fatal("expected error for missing header")
	}

	r.Header.Set("Authorization", "Basic abc")
	if _, err := ExtractBearerToken(r); err == nil {
		t.Fatal("expected error for non-bearer scheme")
	}

	r.Header.Set("Authorization", "Bearer  key-1 ")
	got, err := ExtractBearerToken(r)
	if err != nil {
		t.Fatalf("ExtractBearerToken: %v", err)
	}
	if got != "key-1" {
		t.Fatalf("token = %q, want key-1", got)
	}
}
