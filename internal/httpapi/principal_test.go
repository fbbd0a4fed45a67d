package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext(req *http.Request) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = req
	return c, rec
}

func TestResolvePrincipalRejectsMissingAuthOutsideDevMode(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/chatbot/getthread?thread_id=t1", nil)
	c, rec := newTestContext(req)

	ResolvePrincipal(false)(c)

	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestResolvePrincipalAcceptsBearerAndUsername(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/chatbot/getthread?thread_id=t1", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	req.Header.Set(headerUsername, "alice")
	req.Header.Set(headerVaultURL, "https://vault.example.com")
	c, _ := newTestContext(req)

	ResolvePrincipal(false)(c)

	require.False(t, c.IsAborted())
	p, ok := GetPrincipal(c)
	require.True(t, ok)
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, "secret-token", p.BearerToken)
	assert.Equal(t, "https://vault.example.com", p.VaultURL)
}

func TestResolvePrincipalDevModeDefaultsUsername(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/chatbot/getthread?thread_id=t1", nil)
	c, _ := newTestContext(req)

	ResolvePrincipal(true)(c)

	require.False(t, c.IsAborted())
	p, ok := GetPrincipal(c)
	require.True(t, ok)
	assert.Equal(t, "dev-user", p.Username)
}

func TestResolvePrincipalUsesQueryUsernameFallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/chatbot/getthread?thread_id=t1&username=bob", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	c, _ := newTestContext(req)

	ResolvePrincipal(false)(c)

	require.False(t, c.IsAborted())
	p, ok := GetPrincipal(c)
	require.True(t, ok)
	assert.Equal(t, "bob", p.Username)
}
