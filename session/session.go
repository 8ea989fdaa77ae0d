// Package session owns the signed-in identity: the session record, the
// manager that persists it and announces lifecycle transitions, and the
// scheduler that refreshes the access token before it expires.
package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/serandives/accounts-client/permissions"
	"github.com/serandives/accounts-client/tokens"
)

// DefaultRefreshMargin is subtracted from the server-reported expiry so the
// token is treated as expired slightly before the server invalidates it.
const DefaultRefreshMargin = time.Minute

// Session is the authenticated identity. A record is either fully populated
// or the session is absent (nil); partially populated records are never
// persisted.
type Session struct {
	// TokenID identifies the current token server-side.
	TokenID string `json:"tokenId"`

	// Username is the display/login identifier, empty until resolved.
	Username string `json:"username,omitempty"`

	// AccessToken is the bearer credential.
	AccessToken string `json:"access_token"`

	// RefreshToken mints the next access token.
	RefreshToken string `json:"refresh_token"`

	// ExpiresAt is the epoch-millisecond instant after which AccessToken
	// must not be trusted. The refresh margin is already subtracted.
	ExpiresAt int64 `json:"expires_at"`

	// Permissions is the server-supplied grant tree; nil falls back to the
	// anonymous tree.
	Permissions *permissions.Tree `json:"has,omitempty"`
}

// Expiry returns ExpiresAt as a time.Time.
func (s *Session) Expiry() time.Time {
	return time.UnixMilli(s.ExpiresAt)
}

// Expired reports whether the session must not be trusted at now. A nil
// session is always expired.
func (s *Session) Expired(now time.Time) bool {
	return s == nil || !now.Before(s.Expiry())
}

// Can reports whether the session grants action on the permission path. A nil
// session, or one without a grant tree, is checked against the anonymous
// tree.
func (s *Session) Can(path, action string) bool {
	tree := permissions.Anonymous()
	if s != nil && s.Permissions != nil {
		tree = s.Permissions
	}
	return tree.Can(path, action)
}

// Validate reports whether the record is complete enough to persist.
func (s *Session) Validate() error {
	if s == nil {
		return errors.New("session is nil")
	}
	if s.TokenID == "" {
		return errors.New("session missing token id")
	}
	if s.AccessToken == "" {
		return errors.New("session missing access token")
	}
	if s.RefreshToken == "" {
		return errors.New("session missing refresh token")
	}
	if s.ExpiresAt <= 0 {
		return errors.New("session missing expiry")
	}
	return nil
}

// FromResponse builds a session record from a token endpoint response. The
// expiry is now plus the reported lifetime minus margin. When the response
// omits the lifetime or the token id, both are recovered from the access
// token's JWT claims when present — an unverified parse, the client never
// validates signatures.
func FromResponse(r *tokens.Response, now time.Time, margin time.Duration) (*Session, error) {
	if r == nil || r.AccessToken == "" {
		return nil, errors.New("FromResponse empty token response")
	}

	id := r.ID
	expiresIn := time.Duration(r.ExpiresIn) * time.Second

	if id == "" || expiresIn <= 0 {
		if claims := parseClaims(r.AccessToken); claims != nil {
			if id == "" {
				id, _ = claims["jti"].(string)
			}
			if expiresIn <= 0 {
				if exp, ok := claims["exp"].(float64); ok {
					expiresIn = time.Unix(int64(exp), 0).Sub(now)
				}
			}
		}
	}
	if id == "" {
		return nil, errors.New("FromResponse token response has no id")
	}
	if expiresIn <= 0 {
		return nil, errors.New("FromResponse token response has no expiry")
	}

	return &Session{
		TokenID:      id,
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    now.Add(expiresIn - margin).UnixMilli(),
	}, nil
}

func parseClaims(raw string) jwt.MapClaims {
	token, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil
	}
	return claims
}
