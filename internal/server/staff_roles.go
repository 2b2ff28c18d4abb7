package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/cashstation/internal/audit/domain"
)

type assignStaffRoleRequest struct {
	Role string `json:"role"`
}

func (s *Server) GetStaffRole(c *gin.Context) {
	if s.authzSvc == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	staffID := strings.TrimSpace(c.Param("id"))
	role, err := s.authzSvc.RoleOf(c.Request.Context(), staffID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"staff_id": staffID, "role": role}})
}

func (s *Server) AssignStaffRole(c *gin.Context) {
	if s.authzSvc == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	var req assignStaffRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	staffID := strings.TrimSpace(c.Param("id"))
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if err := s.authzSvc.AssignRole(c.Request.Context(), staffID, role); err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, auditdomain.ActionStaffRoleAssigned, "staff", staffID, map[string]any{"role": role})

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"staff_id": staffID, "role": role}})
}
