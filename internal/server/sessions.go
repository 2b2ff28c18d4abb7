package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	cashdomain "github.com/smallbiznis/cashstation/internal/cashsession/domain"
	denomdomain "github.com/smallbiznis/cashstation/internal/denomination/domain"
	depositdomain "github.com/smallbiznis/cashstation/internal/deposit/domain"
)

type startSessionRequest struct {
	Purpose string `json:"purpose"`
	StaffID string `json:"staff_id"`
}

type finalizeSessionRequest struct {
	TransactionID string  `json:"transaction_id"`
	DepositType   string  `json:"deposit_type"`
	StaffID       string  `json:"staff_id"`
	ProductCode   *string `json:"product_code"`
}

type payoutSessionRequest struct {
	StaffID string             `json:"staff_id"`
	Notes   []denomdomain.Line `json:"notes"`
	Coins   []denomdomain.Line `json:"coins"`
}

type resolveSessionRequest struct {
	StaffID string `json:"staff_id"`
	Note    string `json:"note"`
}

func (s *Server) StartSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	purpose := cashdomain.Purpose(strings.ToLower(strings.TrimSpace(req.Purpose)))
	if purpose == "" {
		purpose = cashdomain.PurposeDeposit
	}

	session, err := s.sessions.Start(c.Request.Context(), cashdomain.StartRequest{
		Purpose: purpose,
		StaffID: staffFromRequest(c, req.StaffID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": session})
}

// CurrentSession returns the cached session. refresh=true polls the device
// first, which keeps a stalled UI in sync without waiting for the ticker.
func (s *Server) CurrentSession(c *gin.Context) {
	refresh, err := parseOptionalBool(c.Query("refresh"))
	if err != nil {
		AbortWithError(c, newValidationError("refresh", "invalid_refresh", "invalid refresh"))
		return
	}

	if refresh != nil && *refresh {
		session, err := s.sessions.Poll(c.Request.Context())
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": session})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s.sessions.Current()})
}

func (s *Server) ConfirmSession(c *gin.Context) {
	session, err := s.sessions.Confirm(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}

func (s *Server) CancelSession(c *gin.Context) {
	session, err := s.sessions.Cancel(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}

func (s *Server) FinalizeSession(c *gin.Context) {
	var req finalizeSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	depositType, ok := depositdomain.ParseDepositType(req.DepositType)
	if !ok {
		AbortWithError(c, depositdomain.ErrInvalidDepositType)
		return
	}

	var productCode *string
	if req.ProductCode != nil {
		if trimmed := strings.TrimSpace(*req.ProductCode); trimmed != "" {
			productCode = &trimmed
		}
	}

	tx, err := s.sessions.FinalizeDeposit(c.Request.Context(), strings.TrimSpace(c.Param("id")), cashdomain.FinalizeRequest{
		TransactionID: strings.TrimSpace(req.TransactionID),
		DepositType:   depositType,
		StaffID:       staffFromRequest(c, req.StaffID),
		ProductCode:   productCode,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": tx})
}

// PayoutSession dispenses the exchange for a settling session. Without an
// explicit breakdown the plan is computed from the live inventory.
func (s *Server) PayoutSession(c *gin.Context) {
	var req payoutSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	id := strings.TrimSpace(c.Param("id"))

	var plan denomdomain.Plan
	if len(req.Notes) == 0 && len(req.Coins) == 0 {
		current := s.sessions.Current()
		if current.ID != id {
			AbortWithError(c, cashdomain.ErrSessionNotFound)
			return
		}
		if current.FinalMinor == nil {
			AbortWithError(c, cashdomain.ErrInvalidState)
			return
		}
		snapshot, err := s.inventorySvc.Snapshot(ctx)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		plan, err = s.denomSvc.ComputePlan(ctx, *current.FinalMinor, snapshot.Stock())
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if err := plan.RequireExact(); err != nil {
			AbortWithError(c, err)
			return
		}
	} else {
		plan = denomdomain.Plan{Notes: req.Notes, Coins: req.Coins}
		plan.DispensedMinor = denomdomain.SumLines(plan.Lines())
		plan.RequestedMinor = plan.DispensedMinor
	}

	session, err := s.sessions.Payout(ctx, id, cashdomain.PayoutRequest{
		StaffID: staffFromRequest(c, req.StaffID),
		Plan:    plan,
		Purpose: cashdomain.PurposeExchange,
	})
	if errors.Is(err, cashdomain.ErrRecordFailed) {
		status, payload := mapError(err)
		c.JSON(status, gin.H{"error": payload, "data": session})
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}

func (s *Server) ResolveSession(c *gin.Context) {
	var req resolveSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	staffID := staffFromRequest(c, req.StaffID)
	if staffID == "" {
		AbortWithError(c, cashdomain.ErrInvalidStaff)
		return
	}

	session, err := s.sessions.ResolveIntervention(c.Request.Context(), strings.TrimSpace(c.Param("id")), staffID, strings.TrimSpace(req.Note))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}
