package tokens

import "github.com/serandives/accounts-client/permissions"

// GrantType names the grant being exchanged at the token endpoint.
type GrantType string

const (
	GrantPassword          GrantType = "password"
	GrantRefreshToken      GrantType = "refresh_token"
	GrantAuthorizationCode GrantType = "authorization_code"
)

// Response is the token endpoint's reply for every grant type.
type Response struct {
	// ID is the server-side identifier of the issued token, used to
	// resolve its permission grants via GET /tokens/{id}.
	ID string `json:"id,omitempty"`

	// AccessToken is the bearer credential for API calls.
	AccessToken string `json:"access_token"`

	// RefreshToken mints a new access token without re-authentication.
	// Rotates on each use.
	RefreshToken string `json:"refresh_token,omitempty"`

	// TokenType is "bearer".
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int `json:"expires_in,omitempty"`
}

// Grants is the reply of GET /tokens/{id}: the identity behind a token and
// the permission tree it carries.
type Grants struct {
	ID   string            `json:"id"`
	User string            `json:"user,omitempty"`
	Has  *permissions.Tree `json:"has,omitempty"`
}
