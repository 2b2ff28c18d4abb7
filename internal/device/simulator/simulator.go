// Package simulator is an in-process recycler used on benches without
// hardware and by tests that need to script device behaviour.
package simulator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	denomdomain "github.com/smallbiznis/cashstation/internal/denomination/domain"
	"github.com/smallbiznis/cashstation/internal/device/domain"
)

type Simulator struct {
	mu sync.Mutex

	currency string
	stock    map[int64]*domain.InventoryItem

	session string
	mode    domain.Mode
	code    domain.StatusCode
	escrow  map[int64]int64

	failures map[string][]error
	calls    []string
}

// New builds a simulator holding the given inventory.
func New(inv domain.Inventory) *Simulator {
	s := &Simulator{
		currency: inv.Currency,
		stock:    map[int64]*domain.InventoryItem{},
		code:     domain.StatusIdle,
		escrow:   map[int64]int64{},
		failures: map[string][]error{},
	}
	if s.currency == "" {
		s.currency = "THB"
	}
	for _, item := range inv.Items() {
		item := item
		s.stock[item.ValueMinor] = &item
	}
	return s
}

// Filled returns an inventory with qty units of every ladder denomination.
func Filled(ladder denomdomain.Ladder, qty, capacity int64) domain.Inventory {
	inv := domain.Inventory{Currency: "THB"}
	for _, d := range ladder {
		item := domain.InventoryItem{
			ValueMinor: d.ValueMinor,
			Kind:       d.Kind,
			Quantity:   qty,
			Capacity:   capacity,
			UnitStatus: domain.UnitStatusOK,
		}
		if d.Kind == denomdomain.KindCoin {
			inv.Coins = append(inv.Coins, item)
		} else {
			inv.Notes = append(inv.Notes, item)
		}
	}
	return inv
}

// Fail queues err to be returned by the next call to op ("open", "status",
// "end", "cancel", "dispense", "inventory").
func (s *Simulator) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], err)
}

// Insert simulates a customer feeding cash; the device returns to waiting
// for insertion once the bundle is counted.
func (s *Simulator) Insert(lines ...denomdomain.Line) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, line := range lines {
		if line.Quantity > 0 {
			s.escrow[line.ValueMinor] += line.Quantity
		}
	}
	s.code = domain.StatusWaitingInsertion
}

// SetCode forces the next reported status code.
func (s *Simulator) SetCode(code domain.StatusCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code = code
}

// TakeCash simulates the customer removing dispensed cash.
func (s *Simulator) TakeCash() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.code == domain.StatusWaitingCashOutRemoval {
		s.code = domain.StatusIdle
	}
}

// Calls returns the operations performed so far, in order.
func (s *Simulator) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Simulator) Open(ctx context.Context, sessionID string, mode domain.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("open"); err != nil {
		return err
	}
	s.session = sessionID
	s.mode = mode
	s.escrow = map[int64]int64{}
	if mode == domain.ModeCashIn {
		s.code = domain.StatusWaitingInsertion
	} else {
		s.code = domain.StatusIdle
	}
	return nil
}

func (s *Simulator) Status(ctx context.Context, sessionID string) (domain.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("status"); err != nil {
		return domain.Status{}, err
	}
	status := domain.Status{Code: s.code}
	for value, qty := range s.escrow {
		status.CountedMinor += value * qty
		status.Counted = append(status.Counted, denomdomain.Line{ValueMinor: value, Quantity: qty})
	}
	sort.Slice(status.Counted, func(i, j int) bool { return status.Counted[i].ValueMinor > status.Counted[j].ValueMinor })
	return status, nil
}

// End stores the escrow in the recycler.
func (s *Simulator) End(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("end"); err != nil {
		return err
	}
	if err := s.checkSession("end", sessionID); err != nil {
		return err
	}
	for value, qty := range s.escrow {
		s.unit(value).Quantity += qty
	}
	s.escrow = map[int64]int64{}
	s.code = domain.StatusIdle
	return nil
}

// Cancel returns the escrow to the customer.
func (s *Simulator) Cancel(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("cancel"); err != nil {
		return err
	}
	if err := s.checkSession("cancel", sessionID); err != nil {
		return err
	}
	s.escrow = map[int64]int64{}
	s.code = domain.StatusIdle
	return nil
}

// Dispense pays out from stock. A refund after End also goes through here,
// so the deposited units are already back in stock.
func (s *Simulator) Dispense(ctx context.Context, sessionID string, notes, coins []denomdomain.Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("dispense"); err != nil {
		return err
	}
	lines := append(append([]denomdomain.Line(nil), notes...), coins...)
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		unit, ok := s.stock[line.ValueMinor]
		if !ok || unit.Quantity < line.Quantity || unit.UnitStatus == domain.UnitStatusNG {
			return &domain.ResultError{Op: "dispense", Code: domain.ResultInnerError}
		}
	}
	for _, line := range lines {
		if line.Quantity > 0 {
			s.stock[line.ValueMinor].Quantity -= line.Quantity
		}
	}
	s.session = sessionID
	s.code = domain.StatusWaitingCashOutRemoval
	return nil
}

func (s *Simulator) Inventory(ctx context.Context, sessionID string) (domain.Inventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("inventory"); err != nil {
		return domain.Inventory{}, err
	}
	values := make([]int64, 0, len(s.stock))
	for value := range s.stock {
		values = append(values, value)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] > values[j] })

	inv := domain.Inventory{Currency: s.currency}
	for _, value := range values {
		item := *s.stock[value]
		if item.Kind == denomdomain.KindCoin {
			inv.Coins = append(inv.Coins, item)
		} else {
			inv.Notes = append(inv.Notes, item)
		}
	}
	return inv, nil
}

func (s *Simulator) enter(op string) error {
	s.calls = append(s.calls, op)
	queued := s.failures[op]
	if len(queued) == 0 {
		return nil
	}
	err := queued[0]
	s.failures[op] = queued[1:]
	return err
}

func (s *Simulator) checkSession(op, sessionID string) error {
	if s.session != sessionID {
		return &domain.ResultError{Op: op, Code: domain.ResultInvalidSession}
	}
	return nil
}

func (s *Simulator) unit(value int64) *domain.InventoryItem {
	unit, ok := s.stock[value]
	if !ok {
		kind := denomdomain.KindNote
		if value < 2000 {
			kind = denomdomain.KindCoin
		}
		unit = &domain.InventoryItem{ValueMinor: value, Kind: kind, UnitStatus: domain.UnitStatusOK}
		s.stock[value] = unit
	}
	return unit
}

// String is used in log lines.
func (s *Simulator) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("simulator(session=%s mode=%s code=%s)", s.session, s.mode, s.code)
}

var _ domain.Adapter = (*Simulator)(nil)
