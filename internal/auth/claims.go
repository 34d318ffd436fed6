package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// tokenUseClaim marks what the marketplace auth service issued a token for.
// Refresh tokens share the signing key, so they must not pass as access tokens.
const tokenUseClaim = "token_use"

var (
	errNoSubject        = errors.New("auth: token has no subject")
	errNotAccessToken   = errors.New("auth: not an access token")
	errWrongAlgorithm   = errors.New("auth: unexpected token algorithm")
	errMissingAlgorithm = errors.New("auth: token missing algorithm")
)

// accessPolicy holds the claim checks applied to every storefront caller.
type accessPolicy struct {
	issuer    string
	audience  string
	skew      time.Duration
	algorithm jwa.SignatureAlgorithm
}

func (p accessPolicy) check(tok jwt.Token, algorithm jwa.SignatureAlgorithm, now time.Time) error {
	if tok == nil {
		return errors.New("auth: token is nil")
	}
	switch {
	case algorithm == "":
		return errMissingAlgorithm
	case algorithm != p.algorithm:
		return fmt.Errorf("%w %s", errWrongAlgorithm, algorithm)
	}

	opts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithAcceptableSkew(p.skew),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	if p.audience != "" {
		opts = append(opts, jwt.WithAudience(p.audience))
	}
	if err := jwt.Validate(tok, opts...); err != nil {
		return err
	}

	if strings.TrimSpace(tok.Subject()) == "" {
		return errNoSubject
	}
	if use, ok := tok.Get(tokenUseClaim); ok {
		if s, _ := use.(string); s != "access" {
			return errNotAccessToken
		}
	}
	return nil
}
