package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// ReceiptData is a cash transaction rendered for printing. Amounts are
// preformatted major-unit strings.
type ReceiptData struct {
	Title         string
	StationID     string
	TerminalID    string
	TransactionID string
	IssuedAt      string
	StaffID       string
	DepositType   string
	ProductCode   string
	PosStatus     string
	Currency      string
	Total         string
	Lines         []ReceiptLine
}

type ReceiptLine struct {
	Denomination string
	Kind         string
	Qty          int64
	Amount       string
}

func (p *PDFProvider) GenerateReceipt(ctx context.Context, receipt ReceiptData) (io.Reader, error) {
	if receipt.TransactionID == "" {
		return nil, fmt.Errorf("receipt without transaction id")
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, receipt.Title, props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, receipt.StationID, props.Text{
			Size:  10,
			Align: align.Right,
		}),
	)

	m.AddRow(30,
		col.New(6).Add(
			text.New("Transaction: "+receipt.TransactionID, props.Text{Top: 0}),
			text.New("Date: "+receipt.IssuedAt, props.Text{Top: 5}),
			text.New("Terminal: "+receipt.TerminalID, props.Text{Top: 10}),
			text.New("Staff: "+receipt.StaffID, props.Text{Top: 15}),
		),
		col.New(6).Add(
			text.New("Type: "+receipt.DepositType, props.Text{Top: 0, Align: align.Right}),
			text.New("Product: "+orDash(receipt.ProductCode), props.Text{Top: 5, Align: align.Right}),
			text.New("POS: "+receipt.PosStatus, props.Text{Top: 10, Align: align.Right}),
		),
	)

	m.AddRow(10,
		text.NewCol(5, "Denomination", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Kind", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(3, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, item := range receipt.Lines {
		m.AddRow(8,
			text.NewCol(5, item.Denomination, props.Text{Size: 9}),
			text.NewCol(2, item.Kind, props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%d", item.Qty), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(3, item.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(4, line.NewCol(12))
	m.AddRow(10,
		col.New(7),
		text.NewCol(2, "Total", props.Text{Size: 10, Style: fontstyle.Bold}),
		text.NewCol(3, receipt.Total+" "+receipt.Currency, props.Text{Size: 10, Style: fontstyle.Bold, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
