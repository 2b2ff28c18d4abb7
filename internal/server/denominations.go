package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	denomdomain "github.com/smallbiznis/cashstation/internal/denomination/domain"
	"github.com/smallbiznis/cashstation/internal/money"
)

type denominationResponse struct {
	ValueMinor int64            `json:"value_minor"`
	Value      string           `json:"value"`
	Kind       denomdomain.Kind `json:"kind"`
}

type computePlanRequest struct {
	Amount      string           `json:"amount"`
	AmountMinor *int64           `json:"amount_minor"`
	Stock       map[string]int64 `json:"stock"`
}

func (s *Server) ListDenominations(c *gin.Context) {
	ladder := s.denomSvc.Ladder()
	resp := make([]denominationResponse, 0, len(ladder))
	for _, d := range ladder {
		resp = append(resp, denominationResponse{
			ValueMinor: d.ValueMinor,
			Value:      money.FormatMajor(d.ValueMinor),
			Kind:       d.Kind,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// ComputeDenominationPlan previews a payout. Stock defaults to the live
// inventory; callers may pass an explicit stock keyed by value in minor units.
func (s *Server) ComputeDenominationPlan(c *gin.Context) {
	var req computePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	amountMinor, err := planAmount(req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	var stock denomdomain.Stock
	if req.Stock != nil {
		stock, err = parseStock(req.Stock)
		if err != nil {
			AbortWithError(c, err)
			return
		}
	} else {
		snapshot, err := s.inventorySvc.Snapshot(ctx)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		stock = snapshot.Stock()
	}

	plan, err := s.denomSvc.ComputePlan(ctx, amountMinor, stock)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plan})
}

func planAmount(req computePlanRequest) (int64, error) {
	if req.AmountMinor != nil {
		if *req.AmountMinor < 0 {
			return 0, money.ErrNegativeAmount
		}
		return *req.AmountMinor, nil
	}
	if strings.TrimSpace(req.Amount) == "" {
		return 0, newValidationError("amount", "invalid_amount", "amount is required")
	}
	return money.ParseMajor(req.Amount)
}

func parseStock(raw map[string]int64) (denomdomain.Stock, error) {
	stock := make(denomdomain.Stock, len(raw))
	for key, qty := range raw {
		value, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil || value <= 0 || qty < 0 {
			return nil, newValidationError("stock", "invalid_stock", "stock must map positive values to non-negative quantities")
		}
		stock[value] = qty
	}
	return stock, nil
}
