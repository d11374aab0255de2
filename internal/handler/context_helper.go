package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agendaworks/scheduling-engine/internal/middleware"
	"github.com/agendaworks/scheduling-engine/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

func tenantFromContext(c *gin.Context) string {
	value, exists := c.Get(middleware.ContextTenantKey)
	if !exists {
		return ""
	}
	tenantID, _ := value.(string)
	return tenantID
}

func actorFromContext(c *gin.Context) string {
	if claims := claimsFromContext(c); claims != nil {
		return claims.UserID
	}
	return ""
}

func pageParams(c *gin.Context) (int, int) {
	page := 1
	size := 20
	if v, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil && v > 0 {
		size = v
	}
	return page, size
}

func timeQuery(c *gin.Context, name string) *time.Time {
	raw := c.Query(name)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}
