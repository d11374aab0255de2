package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/agendaworks/scheduling-engine/internal/models"
	appErrors "github.com/agendaworks/scheduling-engine/pkg/errors"
	"github.com/agendaworks/scheduling-engine/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

// ContextTenantKey is the gin context key storing the resolved tenant id.
const ContextTenantKey = "currentTenant"

// JWT requires a valid bearer token signed by the upstream identity
// provider. The engine never issues tokens; it only verifies them.
func JWT(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims := &models.JWTClaims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return key, nil
		})
		if err != nil || !token.Valid {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired token"))
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

// Tenant resolves the acting tenant and stores it in the context. The tenant
// comes from the token; organization admins may act on another tenant via
// the X-Tenant-ID header.
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := value.(*models.JWTClaims)

		tenantID := claims.TenantID
		if override := c.GetHeader("X-Tenant-ID"); override != "" && claims.IsAdmin() {
			tenantID = override
		}
		if tenantID == "" {
			response.Error(c, appErrors.ErrTenantRequired)
			c.Abort()
			return
		}

		c.Set(ContextTenantKey, tenantID)
		c.Next()
	}
}

// RequireAdmin restricts a route to organization admins.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := value.(*models.JWTClaims)
		if !claims.IsAdmin() {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
