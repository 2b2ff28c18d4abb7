package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/cashstation/internal/money"
	shiftdomain "github.com/smallbiznis/cashstation/internal/shiftaudit/domain"
	"github.com/smallbiznis/cashstation/pkg/db/pagination"
)

// closeShiftRequest takes amounts in major units, like the withdrawal API.
type closeShiftRequest struct {
	StaffID     string `json:"staff_id"`
	PosShiftID  string `json:"pos_shift_id"`
	PosReported string `json:"pos_reported"`
	Notes       string `json:"notes"`
	Force       bool   `json:"force"`
}

type endOfDayRequest struct {
	closeShiftRequest
	Collected   string `json:"collected"`
	ReserveKept string `json:"reserve_kept"`
}

type listShiftsQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
	AuditType string `form:"audit_type"`
	State     string `form:"state"`
	StartAt   string `form:"start_at"`
	EndAt     string `form:"end_at"`
	From      string `form:"from"`
	To        string `form:"to"`
}

func optionalMajor(raw string) (*int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	minor, err := money.ParseMajor(raw)
	if err != nil {
		return nil, err
	}
	return &minor, nil
}

func (r closeShiftRequest) toDomain(c *gin.Context) (shiftdomain.CloseRequest, error) {
	reported, err := optionalMajor(r.PosReported)
	if err != nil {
		return shiftdomain.CloseRequest{}, err
	}
	return shiftdomain.CloseRequest{
		StaffID:          staffFromRequest(c, r.StaffID),
		PosShiftID:       r.PosShiftID,
		PosReportedMinor: reported,
		Notes:            r.Notes,
		Force:            r.Force,
	}, nil
}

func (s *Server) CurrentShift(c *gin.Context) {
	preview, err := s.shiftSvc.Current(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": preview})
}

func (s *Server) CloseShift(c *gin.Context) {
	var body closeShiftRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req, err := body.toDomain(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	a, err := s.shiftSvc.CloseShift(c.Request.Context(), req)
	if err != nil {
		s.abortShiftError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": a})
}

func (s *Server) EndOfDay(c *gin.Context) {
	var body endOfDayRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	closeReq, err := body.toDomain(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	collected, err := optionalMajor(body.Collected)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	reserve, err := optionalMajor(body.ReserveKept)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	a, err := s.shiftSvc.EndOfDay(c.Request.Context(), shiftdomain.EndOfDayRequest{
		CloseRequest:     closeReq,
		CollectedMinor:   collected,
		ReserveKeptMinor: reserve,
	})
	if err != nil {
		s.abortShiftError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": a})
}

// abortShiftError adds the outstanding POS count to the conflict so the
// terminal can offer a forced close.
func (s *Server) abortShiftError(c *gin.Context, err error) {
	var pending *shiftdomain.PendingError
	if errors.As(err, &pending) {
		status, payload := mapError(err)
		c.AbortWithStatusJSON(status, gin.H{"error": payload, "pending_pos_count": pending.Count})
		return
	}
	AbortWithError(c, err)
}

func (s *Server) ListShifts(c *gin.Context) {
	var query listShiftsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	startAt, endAt, err := parseTimeRange(query.StartAt, query.From, query.EndAt, query.To, s.loc)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.shiftSvc.List(c.Request.Context(), shiftdomain.ListRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		AuditType: query.AuditType,
		State:     query.State,
		StartAt:   startAt,
		EndAt:     endAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Audits, "page_info": resp.PageInfo})
}

func (s *Server) GetShift(c *gin.Context) {
	a, err := s.shiftSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": a})
}

func (s *Server) ConfirmShift(c *gin.Context) {
	s.reviewShift(c, s.shiftSvc.Confirm)
}

func (s *Server) ReconcileShift(c *gin.Context) {
	s.reviewShift(c, s.shiftSvc.Reconcile)
}

func (s *Server) reviewShift(c *gin.Context, apply func(ctx context.Context, req shiftdomain.ReviewRequest) (*shiftdomain.Audit, error)) {
	var req shiftdomain.ReviewRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	req.ID = strings.TrimSpace(c.Param("id"))
	req.StaffID = staffFromRequest(c, req.StaffID)

	a, err := apply(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": a})
}
