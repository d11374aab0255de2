package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims is the resolved identity attached by the upstream identity
// provider. The engine never issues or refreshes tokens; it only reads the
// acting user and tenant for audit fields and scoping.
type JWTClaims struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the acting user administers the organization.
func (c *JWTClaims) IsAdmin() bool {
	return c != nil && c.Role == "admin"
}
