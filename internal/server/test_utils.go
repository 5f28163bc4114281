package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type testCleanupRequest struct {
	Prefix string `json:"prefix"`
}

// cleanupTables lists identity keyed tables in the order they are cleared.
var cleanupTables = []string{
	"usage_events",
	"audit_entries",
	"blocking_states",
	"identity_quotas",
}

// TestCleanup removes every row whose identity starts with prefix. It is only
// routed in development environments.
func (s *Server) TestCleanup(c *gin.Context) {
	if !s.cfg.IsDevelopment() {
		AbortWithError(c, ErrNotFound)
		return
	}

	var req testCleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	prefix := strings.TrimSpace(req.Prefix)
	if prefix == "" {
		AbortWithError(c, newValidationError("prefix", "required", "prefix is required"))
		return
	}
	like := escapeLike(prefix) + "%"

	deleted := make(map[string]int64, len(cleanupTables))
	err := s.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		for _, table := range cleanupTables {
			res := tx.Exec(`DELETE FROM `+table+` WHERE identity_key LIKE ? ESCAPE '\'`, like)
			if res.Error != nil {
				return res.Error
			}
			deleted[table] = res.RowsAffected
		}
		return nil
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "deleted": deleted})
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}
