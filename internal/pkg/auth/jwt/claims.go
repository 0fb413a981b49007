package jwt

import "github.com/golang-jwt/jwt"

// Payload is the claim set issued by the identity provider and verified here.
type Payload struct {
	// StandardClaims carries exp, iat, iss and sub at the top level of the token.
	jwt.StandardClaims

	// ID is the user identity the bearer is allowed to join as.
	ID string `json:"id"`

	// UserType is the role of the principal, e.g. "user" or "service".
	// Service tokens may call the HTTP notification API on behalf of any user.
	UserType string `json:"user_type"`
}

// UserTypeService marks tokens held by backend callers rather than end users.
const UserTypeService = "service"

// IsService reports whether the payload belongs to a backend caller.
func (p *Payload) IsService() bool {
	return p != nil && p.UserType == UserTypeService
}
