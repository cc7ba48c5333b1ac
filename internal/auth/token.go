package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roamio/chatsync/internal/domain"
)

// TokenSource supplies the bearer credential used for the transport dial and
// directory calls. Token issuance is owned by an external auth collaborator;
// the core only consumes what it hands out.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Static wraps a fixed token string.
type Static struct {
	token string
}

// NewStatic returns a TokenSource backed by a fixed token.
func NewStatic(token string) *Static {
	return &Static{token: token}
}

// Token returns the wrapped token, or ErrAuthRequired if none was configured.
func (s *Static) Token(ctx context.Context) (string, error) {
	if s.token == "" {
		return "", domain.ErrAuthRequired
	}
	return s.token, nil
}

// ExpiryChecked decorates a TokenSource with a local JWT expiry check, so an
// obviously stale token fails fast with ErrAuthRequired instead of bouncing
// off the broker. The signature is not verified here; that is the broker's job.
type ExpiryChecked struct {
	source TokenSource
	now    func() time.Time
}

// NewExpiryChecked wraps source with expiry inspection.
func NewExpiryChecked(source TokenSource) *ExpiryChecked {
	return &ExpiryChecked{source: source, now: time.Now}
}

// Token returns the underlying token after checking its exp claim. Tokens that
// are not JWTs pass through untouched.
func (e *ExpiryChecked) Token(ctx context.Context) (string, error) {
	token, err := e.source.Token(ctx)
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		// Opaque token; let the broker judge it.
		return token, nil
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return token, nil
	}
	if e.now().After(exp.Time) {
		return "", fmt.Errorf("bearer token expired at %s: %w", exp.Time.Format(time.RFC3339), domain.ErrAuthRequired)
	}
	return token, nil
}
