package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/agendaworks/scheduling-engine/internal/middleware"
	"github.com/agendaworks/scheduling-engine/internal/models"
	appErrors "github.com/agendaworks/scheduling-engine/pkg/errors"
	"github.com/agendaworks/scheduling-engine/pkg/response"
)

// testCtx builds a request-bound gin context with tenant and actor identity
// already resolved, the state every handler runs in behind the middleware
// chain.
func testCtx(t *testing.T, method, target string, body interface{}) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", TenantID: "tenant-1", Role: "member"})
	c.Set(middleware.ContextTenantKey, "tenant-1")
	return w, c
}

// decodeEnvelope unmarshals the response envelope with data decoded into
// dest.
func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) response.Envelope {
	t.Helper()
	var envelope struct {
		Data       json.RawMessage    `json:"data"`
		Error      *appErrors.Error   `json:"error"`
		Pagination *models.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	if dest != nil && len(envelope.Data) > 0 {
		require.NoError(t, json.Unmarshal(envelope.Data, dest))
	}
	return response.Envelope{Error: envelope.Error, Pagination: envelope.Pagination}
}
