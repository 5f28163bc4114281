package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/quotaguard/internal/observability/context"
	"github.com/smallbiznis/quotaguard/internal/observability/logger"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	headerAuthorization = "Authorization"
	bearerPrefix        = "bearer "
	contextIdentityKey  = "identity"
)

// AdminAuthRequired checks the bearer token against the configured bcrypt
// hash. Without a hash, admin routes are open only in development.
func (s *Server) AdminAuthRequired() gin.HandlerFunc {
	hash := []byte(strings.TrimSpace(s.cfg.Admin.TokenHash))
	return func(c *gin.Context) {
		if len(hash) == 0 {
			if s.cfg.IsDevelopment() {
				c.Next()
				return
			}
			logger.FromContext(c.Request.Context()).Warn("admin route called without ADMIN_TOKEN_HASH configured")
			AbortWithError(c, ErrUnauthorized)
			return
		}

		token := bearerToken(c.GetHeader(headerAuthorization))
		if token == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := bcrypt.CompareHashAndPassword(hash, []byte(token)); err != nil {
			logger.FromContext(c.Request.Context()).Debug("admin token rejected", zap.Error(err))
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}

// setRequestIdentity tags the request log line and downstream context with
// the identity being acted on.
func setRequestIdentity(c *gin.Context, identity string) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return
	}
	c.Set(contextIdentityKey, identity)
	c.Request = c.Request.WithContext(obscontext.WithIdentity(c.Request.Context(), identity))
}
