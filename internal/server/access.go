package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	enforcementdomain "github.com/smallbiznis/quotaguard/internal/enforcement/domain"
)

// CheckAccess answers whether the enforcement point currently lets the
// identity through. Upstream gateways call it per request.
func (s *Server) CheckAccess(c *gin.Context) {
	identity := strings.TrimSpace(c.Param("identity"))
	if identity == "" {
		AbortWithError(c, enforcementdomain.ErrInvalidIdentity)
		return
	}
	setRequestIdentity(c, identity)

	allowed, err := s.point.Allowed(c.Request.Context(), identity)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": identity, "allowed": allowed})
}
