package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	withdrawaldomain "github.com/smallbiznis/cashstation/internal/withdrawal/domain"
	"github.com/smallbiznis/cashstation/pkg/db/pagination"
)

type listWithdrawalsQuery struct {
	PageToken   string `form:"page_token"`
	PageSize    int    `form:"page_size"`
	Type        string `form:"type"`
	GloryStatus string `form:"glory_status"`
	StartAt     string `form:"start_at"`
	EndAt       string `form:"end_at"`
	From        string `form:"from"`
	To          string `form:"to"`
}

func (s *Server) ListWithdrawals(c *gin.Context) {
	var query listWithdrawalsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	startAt, endAt, err := parseTimeRange(query.StartAt, query.From, query.EndAt, query.To, s.loc)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.withdrawalSvc.List(c.Request.Context(), withdrawaldomain.ListRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		Type:        strings.TrimSpace(query.Type),
		GloryStatus: strings.TrimSpace(query.GloryStatus),
		StartAt:     startAt,
		EndAt:       endAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Withdrawals, "page_info": resp.PageInfo})
}

// CreateWithdrawal dispenses cash out of the recycler. A failed dispense
// still returns the stored withdrawal next to the error so staff can follow
// up on it.
func (s *Server) CreateWithdrawal(c *gin.Context) {
	var req withdrawaldomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.StaffID = staffFromRequest(c, req.StaffID)

	w, err := s.withdrawalSvc.Create(c.Request.Context(), req)
	if err != nil {
		if w != nil {
			status, payload := mapError(err)
			c.JSON(status, gin.H{"error": payload, "data": w})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": w})
}

func (s *Server) GetWithdrawal(c *gin.Context) {
	w, err := s.withdrawalSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": w})
}

func (s *Server) UpdateWithdrawalStatus(c *gin.Context) {
	var req withdrawaldomain.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = strings.TrimSpace(c.Param("id"))
	req.StaffID = staffFromRequest(c, req.StaffID)

	w, err := s.withdrawalSvc.UpdateStatus(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": w})
}
