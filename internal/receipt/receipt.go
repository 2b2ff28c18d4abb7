// Package receipt renders printable receipts for stored cash transactions.
package receipt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/smallbiznis/cashstation/internal/config"
	denomdomain "github.com/smallbiznis/cashstation/internal/denomination/domain"
	depositdomain "github.com/smallbiznis/cashstation/internal/deposit/domain"
	"github.com/smallbiznis/cashstation/internal/money"
	"github.com/smallbiznis/cashstation/internal/providers/pdf"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const ContentType = "application/pdf"

var ErrRenderFailed = errors.New("receipt_render_failed")

type Receipt struct {
	Filename string
	Body     []byte
}

type Service interface {
	ForTransaction(ctx context.Context, id string) (*Receipt, error)
}

type Params struct {
	fx.In

	Log          *zap.Logger
	Cfg          config.Config
	Transactions depositdomain.Service
	Denomination denomdomain.Service
	PDF          pdf.Provider
}

type service struct {
	log          *zap.Logger
	stationID    string
	terminalID   string
	transactions depositdomain.Service
	denom        denomdomain.Service
	pdf          pdf.Provider
	location     *time.Location
}

func New(p Params) Service {
	loc, err := time.LoadLocation("Asia/Bangkok")
	if err != nil {
		loc = time.UTC
	}
	return &service{
		log:          p.Log.Named("receipt.service"),
		stationID:    p.Cfg.StationID,
		terminalID:   p.Cfg.TerminalID,
		transactions: p.Transactions,
		denom:        p.Denomination,
		pdf:          p.PDF,
		location:     loc,
	}
}

var Module = fx.Module("receipt",
	fx.Provide(New),
)

func (s *service) ForTransaction(ctx context.Context, id string) (*Receipt, error) {
	tx, err := s.transactions.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	reader, err := s.pdf.GenerateReceipt(ctx, s.buildData(tx))
	if err != nil {
		s.log.Error("render receipt failed", zap.String("transaction_id", tx.TransactionID), zap.Error(err))
		return nil, errors.Join(ErrRenderFailed, err)
	}
	if reader == nil {
		return nil, ErrRenderFailed
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return nil, err
	}
	return &Receipt{
		Filename: "receipt-" + tx.TransactionID + ".pdf",
		Body:     buf.Bytes(),
	}, nil
}

func (s *service) buildData(tx *depositdomain.Transaction) pdf.ReceiptData {
	data := pdf.ReceiptData{
		Title:         titleFor(depositdomain.DepositType(tx.DepositType)),
		StationID:     s.stationID,
		TerminalID:    tx.TerminalID,
		TransactionID: tx.TransactionID,
		IssuedAt:      tx.CreatedAt.In(s.location).Format("2006-01-02 15:04:05"),
		StaffID:       tx.StaffID,
		DepositType:   tx.DepositType,
		PosStatus:     tx.PosStatus,
		Currency:      "THB",
		Total:         money.FormatMajor(tx.AmountMinor),
	}
	if data.TerminalID == "" {
		data.TerminalID = s.terminalID
	}
	if tx.ProductCode != nil {
		data.ProductCode = *tx.ProductCode
	}

	var lines []denomdomain.Line
	if len(tx.Breakdown) > 0 {
		if err := json.Unmarshal(tx.Breakdown, &lines); err != nil {
			s.log.Warn("unreadable breakdown on receipt", zap.String("transaction_id", tx.TransactionID), zap.Error(err))
		}
	}
	ladder := s.denom.Ladder()
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		kind, ok := ladder.KindOf(l.ValueMinor)
		if !ok {
			kind = denomdomain.KindNote
		}
		data.Lines = append(data.Lines, pdf.ReceiptLine{
			Denomination: money.FormatMajor(l.ValueMinor),
			Kind:         string(kind),
			Qty:          l.Quantity,
			Amount:       money.FormatMajor(l.TotalMinor()),
		})
	}
	return data
}

func titleFor(t depositdomain.DepositType) string {
	switch t {
	case depositdomain.DepositTypeWithdrawal:
		return "Withdrawal slip"
	case depositdomain.DepositTypeExchangeCash:
		return "Exchange receipt"
	default:
		return "Deposit receipt - " + strings.ReplaceAll(string(t), "_", " ")
	}
}
