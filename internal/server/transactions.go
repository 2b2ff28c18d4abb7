package server

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	depositdomain "github.com/smallbiznis/cashstation/internal/deposit/domain"
	"github.com/smallbiznis/cashstation/internal/ratelimit"
	"github.com/smallbiznis/cashstation/internal/receipt"
	"github.com/smallbiznis/cashstation/pkg/db/pagination"
	"go.uber.org/zap"
)

type listTransactionsQuery struct {
	PageToken   string `form:"page_token"`
	PageSize    int    `form:"page_size"`
	DepositType string `form:"deposit_type"`
	PosStatus   string `form:"pos_status"`
	StaffID     string `form:"staff_id"`
	StartAt     string `form:"start_at"`
	EndAt       string `form:"end_at"`
	From        string `form:"from"`
	To          string `form:"to"`
}

func (s *Server) ListTransactions(c *gin.Context) {
	var query listTransactionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	startAt, endAt, err := parseTimeRange(query.StartAt, query.From, query.EndAt, query.To, s.loc)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	depositType := strings.TrimSpace(query.DepositType)
	if depositType != "" {
		parsed, ok := depositdomain.ParseDepositType(depositType)
		if !ok {
			AbortWithError(c, depositdomain.ErrInvalidDepositType)
			return
		}
		depositType = string(parsed)
	}

	resp, err := s.depositSvc.List(c.Request.Context(), depositdomain.ListRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		DepositType: depositType,
		PosStatus:   strings.ToLower(strings.TrimSpace(query.PosStatus)),
		StaffID:     strings.TrimSpace(query.StaffID),
		StartAt:     startAt,
		EndAt:       endAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Transactions, "page_info": resp.PageInfo})
}

func (s *Server) GetTransaction(c *gin.Context) {
	tx, err := s.depositSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": tx})
}

func (s *Server) RetryTransactionPos(c *gin.Context) {
	ctx := c.Request.Context()
	id := strings.TrimSpace(c.Param("id"))

	res, err := s.posRetry.Allow(ctx, id)
	switch {
	case errors.Is(err, ratelimit.ErrRateLimited):
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
		AbortWithError(c, err)
		return
	case err != nil:
		s.log.Warn("pos retry rate limit check failed", zap.String("transaction_id", id), zap.Error(err))
	}

	tx, err := s.depositSvc.RetryPos(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": tx})
}

func (s *Server) GetTransactionReceipt(c *gin.Context) {
	r, err := s.receiptSvc.ForTransaction(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", r.Filename))
	c.Data(http.StatusOK, receipt.ContentType, r.Body)
}
