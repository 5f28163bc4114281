package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	admindomain "github.com/smallbiznis/quotaguard/internal/admin/domain"
	quotadomain "github.com/smallbiznis/quotaguard/internal/quota/domain"
	usagedomain "github.com/smallbiznis/quotaguard/internal/usage/domain"
	"github.com/smallbiznis/quotaguard/pkg/db/pagination"
)

func (s *Server) ManualBlock(c *gin.Context) {
	var req admindomain.BlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	setRequestIdentity(c, req.IdentityKey)

	result, err := s.adminSvc.ManualBlock(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) ManualUnblock(c *gin.Context) {
	var req admindomain.UnblockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	setRequestIdentity(c, req.IdentityKey)

	result, err := s.adminSvc.ManualUnblock(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) SetProtection(c *gin.Context) {
	var req admindomain.ProtectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	setRequestIdentity(c, req.IdentityKey)

	result, err := s.adminSvc.SetProtection(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) CheckStatus(c *gin.Context) {
	identity := strings.TrimSpace(c.Param("identity"))
	setRequestIdentity(c, identity)

	status, err := s.adminSvc.CheckStatus(c.Request.Context(), identity)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": status})
}

func (s *Server) GetQuota(c *gin.Context) {
	identity := strings.TrimSpace(c.Param("identity"))
	setRequestIdentity(c, identity)

	record, err := s.adminSvc.GetQuota(c.Request.Context(), identity)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": record})
}

// UpsertQuota takes the identity from the path; an identity in the body is
// ignored.
func (s *Server) UpsertQuota(c *gin.Context) {
	var req quotadomain.UpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.IdentityKey = strings.TrimSpace(c.Param("identity"))
	setRequestIdentity(c, req.IdentityKey)

	record, err := s.adminSvc.UpsertQuota(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) ListUsage(c *gin.Context) {
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	identity := strings.TrimSpace(c.Param("identity"))
	setRequestIdentity(c, identity)

	resp, err := s.adminSvc.ListUsage(c.Request.Context(), usagedomain.ListUsageRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		IdentityKey: identity,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp.UsageEvents, "page_info": resp.PageInfo})
}
