// Package revocation tracks revoked token IDs (JTI claims). The validator
// consults the list after signature verification; a list that cannot be
// consulted fails closed.
package revocation

import (
	"context"
	"time"
)

// List is the token revocation list consulted per request.
type List interface {
	// IsRevoked reports whether the token ID has been revoked.
	IsRevoked(ctx context.Context, jti string) (bool, error)

	// Revoke marks a token ID as revoked until its natural expiry, after
	// which the entry may be forgotten.
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
}
