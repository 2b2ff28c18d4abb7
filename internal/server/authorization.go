package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/cashstation/internal/observability/context"
)

const (
	staffHeader    = "X-Staff-ID"
	actorTypeStaff = "staff"
)

// StaffContext attaches the staff member operating the terminal, if any, to
// the request context so audit entries and authorization see the same actor.
func (s *Server) StaffContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		staffID := strings.TrimSpace(c.GetHeader(staffHeader))
		if staffID != "" {
			ctx := obscontext.WithActor(c.Request.Context(), actorTypeStaff, staffID)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authorizeWithContext(c, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) authorizeWithContext(c *gin.Context, object string, action string) error {
	if !s.cfg.Authz.Enabled || s.authzSvc == nil {
		return nil
	}

	actorType, staffID := obscontext.ActorFromContext(c.Request.Context())
	if actorType != actorTypeStaff || staffID == "" {
		return ErrUnauthorized
	}

	return s.authzSvc.Authorize(c.Request.Context(), staffID, strings.TrimSpace(object), strings.TrimSpace(action))
}

// staffFromRequest prefers the body value and falls back to the header actor.
func staffFromRequest(c *gin.Context, bodyValue string) string {
	if trimmed := strings.TrimSpace(bodyValue); trimmed != "" {
		return trimmed
	}
	actorType, staffID := obscontext.ActorFromContext(c.Request.Context())
	if actorType == actorTypeStaff {
		return staffID
	}
	return ""
}
