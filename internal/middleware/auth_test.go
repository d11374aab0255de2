package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agendaworks/scheduling-engine/internal/models"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims *models.JWTClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func authRouter(extra ...gin.HandlerFunc) (*gin.Engine, *string, *models.JWTClaims) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var gotTenant string
	captured := &models.JWTClaims{}
	handlers := append([]gin.HandlerFunc{JWT(testSecret), Tenant()}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		gotTenant = c.GetString(ContextTenantKey)
		if v, ok := c.Get(ContextUserKey); ok {
			*captured = *v.(*models.JWTClaims)
		}
		c.Status(http.StatusOK)
	})
	r.GET("/protected", handlers...)
	return r, &gotTenant, captured
}

func TestJWTAcceptsValidToken(t *testing.T) {
	r, gotTenant, claims := authRouter()
	token := signToken(t, &models.JWTClaims{UserID: "user-1", TenantID: "tenant-1", Role: "member"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tenant-1", *gotTenant)
	assert.Equal(t, "user-1", claims.UserID)
}

func TestJWTRejectsMissingAndMalformedHeaders(t *testing.T) {
	r, _, _ := authRouter()

	cases := map[string]string{
		"missing":     "",
		"not bearer":  "Basic abc",
		"bad token":   "Bearer not.a.token",
		"wrong parts": "Bearer",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestJWTRejectsWrongSignature(t *testing.T) {
	r, _, _ := authRouter()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.JWTClaims{UserID: "user-1", TenantID: "tenant-1"})
	signed, err := token.SignedString([]byte("other-secret"))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTRejectsExpiredToken(t *testing.T) {
	r, _, _ := authRouter()
	token := signToken(t, &models.JWTClaims{
		UserID:   "user-1",
		TenantID: "tenant-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTenantAdminOverride(t *testing.T) {
	r, gotTenant, _ := authRouter()
	token := signToken(t, &models.JWTClaims{UserID: "admin-1", TenantID: "tenant-1", Role: "admin"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Tenant-ID", "tenant-2")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tenant-2", *gotTenant)
}

func TestTenantOverrideIgnoredForMembers(t *testing.T) {
	r, gotTenant, _ := authRouter()
	token := signToken(t, &models.JWTClaims{UserID: "user-1", TenantID: "tenant-1", Role: "member"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Tenant-ID", "tenant-2")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tenant-1", *gotTenant)
}

func TestTenantRequiredWhenTokenHasNone(t *testing.T) {
	r, _, _ := authRouter()
	token := signToken(t, &models.JWTClaims{UserID: "user-1", Role: "member"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequireAdmin(t *testing.T) {
	r, _, _ := authRouter(RequireAdmin())

	memberToken := signToken(t, &models.JWTClaims{UserID: "user-1", TenantID: "tenant-1", Role: "member"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+memberToken)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	adminToken := signToken(t, &models.JWTClaims{UserID: "admin-1", TenantID: "tenant-1", Role: "admin"})
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
