package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/quotaguard/internal/usage/domain"
	"github.com/smallbiznis/quotaguard/pkg/telemetry/correlation"
)

const (
	ingestStatusAccepted = "accepted"
	ingestStatusFiltered = "filtered"
	ingestStatusRejected = "rejected"
)

func (s *Server) IngestUsage(c *gin.Context) {
	var event usagedomain.Event
	if err := c.ShouldBindJSON(&event); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(event.CorrelationID) == "" {
		event.CorrelationID = correlation.ExtractCorrelationID(c.Request.Context())
	}
	if !event.Unresolvable() {
		setRequestIdentity(c, event.IdentityRef)
	}

	outcome, err := s.pipeline.Process(c.Request.Context(), event)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	switch {
	case outcome.Ingest.Accepted:
		c.JSON(http.StatusAccepted, gin.H{"status": ingestStatusAccepted, "outcome": outcome})
	case outcome.Ingest.Filtered():
		c.JSON(http.StatusOK, gin.H{"status": ingestStatusFiltered, "outcome": outcome})
	default:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"status": ingestStatusRejected, "outcome": outcome})
	}
}
