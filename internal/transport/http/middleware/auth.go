package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
	"github.com/gerizimschools-star/netsafi-iam/internal/infra/security"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// newErrorResponse creates an error response with trace ID
func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// RequireAuth validates the Authorization header and extracts credential claims
func RequireAuth(issuer *security.CredentialIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "missing authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "invalid authorization format: expected 'Bearer <token>'"))
			return
		}

		token := strings.TrimSpace(parts[1])
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "missing credential"))
			return
		}

		claims, err := issuer.Parse(token)
		if err != nil {
			if errors.Is(err, security.ErrExpiredCredentialToken) {
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "credential expired"))
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "invalid credential"))
			return
		}

		// Store principal information in context
		c.Set(PrincipalIDKey, claims.PrincipalID)
		c.Set(PrincipalKindKey, claims.PrincipalKind)
		c.Set("claims", claims)

		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.PrincipalID = claims.PrincipalID
			reqCtx.PrincipalKind = claims.PrincipalKind
		}

		c.Next()
	}
}

// RequireAdmin restricts a route to authenticated admin principals.
// It must run after RequireAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		kindVal, exists := c.Get(PrincipalKindKey)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "authentication required"))
			return
		}

		kind, ok := kindVal.(string)
		if !ok || kind != string(domain.PrincipalKindAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				newErrorResponse(c, "insufficient permissions"))
			return
		}

		c.Next()
	}
}

// GetAuthenticatedPrincipal retrieves the principal ID and kind from context
// (helper for handlers).
func GetAuthenticatedPrincipal(c *gin.Context) (string, string, bool) {
	idVal, exists := c.Get(PrincipalIDKey)
	if !exists {
		return "", "", false
	}
	id, ok := idVal.(string)
	if !ok || id == "" {
		return "", "", false
	}

	kindVal, _ := c.Get(PrincipalKindKey)
	kind, _ := kindVal.(string)
	return id, kind, true
}
