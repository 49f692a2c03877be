package auth

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsRejectedProviderToken(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrProviderTokenRejected, true},
		{"wrapped sentinel", fmt.Errorf("verify: %w", ErrProviderTokenRejected), true},
		{"unavailable sentinel wins over message", fmt.Errorf("%w: invalid token", ErrProviderUnavailable), false},
		{"token expired", errors.New("idtoken: token expired: now=2, expires=1"), true},
		{"used too late", errors.New("Token used too late"), true},
		{"three segments", errors.New("idtoken: invalid token, token must have three segments; found 2"), true},
		{"audience", errors.New("idtoken: audience provided does not match aud claim in the JWT"), true},
		{"alg mismatch", errors.New("idtoken: expected JWT signed with RS256 but found HS256"), true},
		{"unknown cert", errors.New("idtoken: could not find matching cert keyId for the token provided"), true},
		{"bad signature", errors.New("crypto/rsa: verification error"), true},
		{"bad base64", errors.New("illegal base64 data at input byte 4"), true},
		{"network", errors.New("dial tcp 142.250.0.1:443: connect: connection refused"), false},
		{"context", errors.New("context deadline exceeded"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRejectedProviderToken(tt.err); got != tt.want {
				t.Errorf("IsRejectedProviderToken(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
