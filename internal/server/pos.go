package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PosHeartbeat probes the configured POS. An unreachable POS is reported in
// the body rather than as an HTTP error.
func (s *Server) PosHeartbeat(c *gin.Context) {
	if s.dispatcher == nil || !s.dispatcher.Enabled() {
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"enabled": false}})
		return
	}

	resp, err := s.dispatcher.Heartbeat(c.Request.Context())
	if err != nil {
		s.log.Warn("pos heartbeat failed", zap.String("vendor", s.dispatcher.Vendor()), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"data": gin.H{
			"enabled":   true,
			"vendor":    s.dispatcher.Vendor(),
			"reachable": false,
			"error":     err.Error(),
		}})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"enabled":   true,
		"vendor":    s.dispatcher.Vendor(),
		"reachable": true,
		"response":  resp,
	}})
}
