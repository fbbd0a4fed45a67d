// Package httpapi implements the HTTP Boundary Adapter (C8, spec.md §4.8):
// principal resolution, the NDJSON streaming endpoint, and the thin
// storage-facade control endpoints of spec.md §6. Principal resolution and
// CORS/routing concerns are explicitly out of scope per spec.md §1 ("HTTP
// request routing, authentication header parsing... contribute only a
// resolved principal"); this package's job stops at producing that resolved
// principal and wiring it into C4/C5/C7 calls.
package httpapi

import (
	"net/http"

	"github.com/frevagpt/orchestrator/internal/apierrors"
	"github.com/gin-gonic/gin"
)

// Principal is the resolved caller identity spec.md §1 says the (out-of-scope)
// auth layer contributes: "username, vault url, rest url, bearer token."
type Principal struct {
	Username    string
	VaultURL    string
	RestURL     string
	BearerToken string
}

const (
	headerUsername      = "X-Frevagpt-Username"
	headerVaultURL      = "X-Frevagpt-Vault-Url"
	headerRestURL       = "X-Frevagpt-Rest-Url"
	headerAuthorization = "Authorization"
)

// principalKey is the gin context key Principal is stored under by
// resolvePrincipal, grounded on the teacher's auth.UserIDKey context-value
// pattern (internal/auth/middleware.go).
const principalKey = "httpapi.principal"

// ResolvePrincipal builds a gin middleware that extracts a Principal from
// request headers, following the teacher's FirebaseAuthMiddleware.RequireAuth
// shape (header parse -> typed 401 on failure -> context.Set). In
// FREVAGPT_DEV mode, a bearer token is not required (SPEC_FULL.md §4.9
// "dev-mode auth... stubs"); production mode requires a non-empty Bearer
// token but performs no verification here, since validating it is the
// explicitly out-of-scope auth protocol (spec.md §1).
func ResolvePrincipal(devMode bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.GetHeader(headerUsername)
		if username == "" {
			username = c.Query("username")
		}

		token := bearerToken(c)

		if !devMode {
			if token == "" {
				apierrors.AbortWithAuth(c, http.StatusUnauthorized, "missing bearer token", nil)
				return
			}
			if username == "" {
				apierrors.AbortWithAuth(c, http.StatusUnauthorized, "missing principal username", nil)
				return
			}
		}
		if devMode && username == "" {
			username = "dev-user"
		}

		p := Principal{
			Username:    username,
			VaultURL:    c.GetHeader(headerVaultURL),
			RestURL:     c.GetHeader(headerRestURL),
			BearerToken: token,
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	auth := c.GetHeader(headerAuthorization)
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

// GetPrincipal retrieves the Principal set by ResolvePrincipal.
func GetPrincipal(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// toolHeaders derives the extra headers forwarded to tool servers from the
// resolved principal (vault/rest URLs, bearer token) -- the tool manager
// headers bundle spec.md §4.8 says the boundary "obtains" for C3.
func (p Principal) toolHeaders() map[string]string {
	headers := make(map[string]string, 3)
	if p.VaultURL != "" {
		headers["X-Vault-Url"] = p.VaultURL
	}
	if p.RestURL != "" {
		headers["X-Rest-Url"] = p.RestURL
	}
	if p.BearerToken != "" {
		headers["Authorization"] = "Bearer " + p.BearerToken
	}
	return headers
}
