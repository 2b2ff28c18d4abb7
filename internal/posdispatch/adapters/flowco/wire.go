// Package flowco speaks the FlowCo POS deposit protocol over HTTP or a raw
// TCP line protocol.
package flowco

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/smallbiznis/cashstation/internal/money"
	"github.com/smallbiznis/cashstation/internal/posdispatch/domain"
)

type depositPayload struct {
	TransactionID string      `json:"transaction_id"`
	StaffID       string      `json:"staff_id"`
	Amount        json.Number `json:"amount"`
	ProductCode   *string     `json:"product_code,omitempty"`
	TerminalID    string      `json:"terminal_id,omitempty"`
}

type heartbeatPayload struct {
	SourceSystem  string `json:"source_system"`
	POSTerminalID string `json:"pos_terminal_id"`
}

// POS replies spell the description field both ways.
type reply struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Description   string `json:"description"`
	Discription   string `json:"discription"`
	Timestamp     string `json:"time_stamp"`
}

func newDepositPayload(d domain.Deposit) depositPayload {
	return depositPayload{
		TransactionID: d.TransactionID,
		StaffID:       d.StaffID,
		Amount:        json.Number(money.FormatMajor(d.AmountMinor)),
		ProductCode:   d.ProductCode,
		TerminalID:    d.TerminalID,
	}
}

var errEmptyReply = errors.New("empty reply")

// parseReply decodes a POS answer. Bodies without a status are malformed.
func parseReply(body []byte) (*domain.Response, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, errEmptyReply
	}
	var r reply
	if err := json.Unmarshal([]byte(trimmed), &r); err != nil {
		return nil, err
	}
	if strings.TrimSpace(r.Status) == "" {
		return nil, errors.New("reply without status")
	}

	raw := map[string]any{}
	_ = json.Unmarshal([]byte(trimmed), &raw)

	description := r.Description
	if description == "" {
		description = r.Discription
	}
	return &domain.Response{
		TransactionID: r.TransactionID,
		Status:        strings.ToUpper(strings.TrimSpace(r.Status)),
		Description:   description,
		Timestamp:     r.Timestamp,
		Raw:           raw,
	}, nil
}
