package token

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Amsterdam/haal-centraal-proxy/internal/token/revocation"
	dErrors "github.com/Amsterdam/haal-centraal-proxy/pkg/domainerrors"
	strutil "github.com/Amsterdam/haal-centraal-proxy/pkg/platform/strings"
)

// Sentinel causes for authentication failures. They are wrapped inside a
// single CodeUnauthorized domain error so the caller never learns which check
// failed; logs and tests can still distinguish them with errors.Is.
var (
	ErrNoKeys           = errors.New("no signing keys published")
	ErrMalformedToken   = errors.New("malformed token")
	ErrExpiredToken     = errors.New("token expired")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidAudience  = errors.New("invalid audience")
	ErrInvalidIssuer    = errors.New("invalid issuer")
	ErrRevokedToken     = errors.New("token revoked")
)

// Validator verifies bearer tokens and extracts the caller context.
type Validator struct {
	keys     *KeySource
	issuer   string
	audience string
	trl      revocation.List
	logger   *slog.Logger
}

type claims struct {
	// The IdP emits either a space-separated "scope" claim (RFC 8693 style)
	// or a "scopes" array; both are accepted.
	Scope  string   `json:"scope,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// Option configures the Validator.
type Option func(*Validator)

// WithRevocationList enables revoked-token checks keyed by JTI.
func WithRevocationList(trl revocation.List) Option {
	return func(v *Validator) { v.trl = trl }
}

// WithLogger sets a logger for rejected-token detail.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) { v.logger = logger }
}

// NewValidator builds a validator bound to a key source. Issuer and audience
// checks are skipped when the corresponding value is empty.
func NewValidator(keys *KeySource, issuer, audience string, opts ...Option) *Validator {
	v := &Validator{keys: keys, issuer: issuer, audience: audience}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate verifies the raw bearer token and returns the caller context.
// Every failure surfaces as CodeUnauthorized; the specific cause is wrapped
// for logging and never leaks to the HTTP response.
func (v *Validator) Validate(ctx context.Context, rawToken string) (*Caller, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, v.reject(ctx, ErrMalformedToken)
	}

	keySet := v.keys.Current()
	if keySet == nil || keySet.Len() == 0 {
		// Fail closed: without published keys nothing can be verified.
		return nil, v.reject(ctx, ErrNoKeys)
	}

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256"})}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}

	var cl claims
	parsed, err := jwt.ParseWithClaims(rawToken, &cl, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		pub, ok := keySet.Key(kid)
		if !ok {
			return nil, ErrInvalidSignature
		}
		return pub, nil
	}, parserOpts...)
	if err != nil {
		return nil, v.reject(ctx, classifyJWTError(err))
	}
	if !parsed.Valid {
		return nil, v.reject(ctx, ErrInvalidSignature)
	}

	if v.trl != nil && cl.ID != "" {
		revoked, err := v.trl.IsRevoked(ctx, cl.ID)
		if err != nil {
			// A revocation list we cannot consult fails closed.
			return nil, v.reject(ctx, err)
		}
		if revoked {
			return nil, v.reject(ctx, ErrRevokedToken)
		}
	}

	caller := NewCaller(cl.Subject, normalizeScopes(cl), expiryOf(cl))
	return caller, nil
}

func (v *Validator) reject(ctx context.Context, cause error) error {
	if v.logger != nil {
		v.logger.WarnContext(ctx, "token rejected", "cause", cause)
	}
	return dErrors.Wrap(dErrors.CodeUnauthorized, "invalid or expired token", cause)
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
		return errors.Join(ErrExpiredToken, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return errors.Join(ErrInvalidAudience, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return errors.Join(ErrInvalidIssuer, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return errors.Join(ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return errors.Join(ErrMalformedToken, err)
	default:
		return errors.Join(ErrInvalidSignature, err)
	}
}

func normalizeScopes(cl claims) []string {
	var raw []string
	if cl.Scope != "" {
		raw = append(raw, strings.Fields(cl.Scope)...)
	}
	raw = append(raw, cl.Scopes...)
	return strutil.DedupeAndTrim(raw)
}

func expiryOf(cl claims) time.Time {
	if cl.ExpiresAt != nil {
		return cl.ExpiresAt.Time
	}
	return time.Time{}
}
