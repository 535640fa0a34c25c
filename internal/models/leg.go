package models

import "fmt"

// Side is the direction of a leg.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OptionType is CALL or PUT.
type OptionType string

const (
	OptionCall OptionType = "CALL"
	OptionPut  OptionType = "PUT"
)

// Suffix returns the exchange symbol suffix (CE/PE).
func (o OptionType) Suffix() string {
	if o == OptionCall {
		return "CE"
	}
	return "PE"
}

// LegKey identifies a contract within one position (the expiry is the position's).
type LegKey struct {
	Strike int        `json:"strike"`
	Type   OptionType `json:"type"`
}

func (k LegKey) String() string {
	return fmt.Sprintf("%d%s", k.Strike, k.Type.Suffix())
}

// Leg is one option contract held by a position.
// Strike and Quantity never change after entry; CurrentPrice only moves while open.
type Leg struct {
	Side         Side       `json:"side"`
	OptionType   OptionType `json:"option_type"`
	Strike       int        `json:"strike"`
	Quantity     int        `json:"quantity"`
	EntryPrice   float64    `json:"entry_price"`
	CurrentPrice float64    `json:"current_price"`
	ExitPrice    float64    `json:"exit_price,omitempty"`
	Closed       bool       `json:"closed"`
	EntryOrderID string     `json:"entry_order_id,omitempty"`
	ExitOrderID  string     `json:"exit_order_id,omitempty"`
}

// Key returns the leg's quote key.
func (l Leg) Key() LegKey {
	return LegKey{Strike: l.Strike, Type: l.OptionType}
}

// Sign is +1 for premium received (SELL) and -1 for premium paid (BUY).
func (l Leg) Sign() float64 {
	if l.Side == SideSell {
		return 1
	}
	return -1
}

// Mark updates the current price of an open leg. Non-positive prices are ignored.
func (l *Leg) Mark(price float64) bool {
	if l.Closed || price <= 0 {
		return false
	}
	l.CurrentPrice = price
	return true
}

// Close freezes the leg at its exit price. Closing twice is a no-op.
func (l *Leg) Close(price float64, orderID string) {
	if l.Closed {
		return
	}
	if price <= 0 {
		price = l.CurrentPrice
	}
	l.Closed = true
	l.ExitPrice = price
	l.CurrentPrice = price
	l.ExitOrderID = orderID
}

// PnL is the money P&L of the leg at its exit (closed) or current (open) price.
func (l Leg) PnL() float64 {
	mark := l.CurrentPrice
	if l.Closed {
		mark = l.ExitPrice
	}
	return l.Sign() * (l.EntryPrice - mark) * float64(l.Quantity)
}

func (l Leg) String() string {
	return fmt.Sprintf("%s %d%s x%d", l.Side, l.Strike, l.OptionType.Suffix(), l.Quantity)
}
