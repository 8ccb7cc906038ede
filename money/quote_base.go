// Package money gives quote-currency and base-currency amounts distinct
// Go types so a value computed in one unit cannot be silently multiplied
// or compared as if it were the other. The ledger, the sizer, and the
// position manager all speak these types instead of bare float64/decimal.
package money

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Quote is an amount denominated in the quote currency (e.g. USDT in
// BTC/USDT). All P&L, equity, and ledger figures are Quote.
type Quote struct{ d decimal.Decimal }

// Base is an amount denominated in the base currency (e.g. BTC in
// BTC/USDT). Position sizes are Base; they never carry a price.
type Base struct{ d decimal.Decimal }

// Price is a quote-per-base exchange rate: how many Quote one unit of
// Base costs. It is the only thing that can turn a Base into a Quote.
type Price struct{ d decimal.Decimal }

func NewQuote(v float64) Quote { return Quote{decimal.NewFromFloat(v)} }
func NewBase(v float64) Base   { return Base{decimal.NewFromFloat(v)} }
func NewPrice(v float64) Price { return Price{decimal.NewFromFloat(v)} }

func QuoteFromDecimal(d decimal.Decimal) Quote { return Quote{d} }
func BaseFromDecimal(d decimal.Decimal) Base   { return Base{d} }
func PriceFromDecimal(d decimal.Decimal) Price { return Price{d} }

func ZeroQuote() Quote { return Quote{decimal.Zero} }
func ZeroBase() Base   { return Base{decimal.Zero} }

// Dec exposes the underlying decimal for callers that need to persist
// or format it; it is never implicitly convertible back into a Quote or
// Base of a different unit.
func (q Quote) Dec() decimal.Decimal { return q.d }
func (b Base) Dec() decimal.Decimal  { return b.d }
func (p Price) Dec() decimal.Decimal { return p.d }

func (q Quote) Add(o Quote) Quote { return Quote{q.d.Add(o.d)} }
func (q Quote) Sub(o Quote) Quote { return Quote{q.d.Sub(o.d)} }
func (q Quote) Neg() Quote        { return Quote{q.d.Neg()} }
func (q Quote) MulFrac(frac decimal.Decimal) Quote {
	return Quote{q.d.Mul(frac)}
}
func (q Quote) Cmp(o Quote) int        { return q.d.Cmp(o.d) }
func (q Quote) IsNegative() bool       { return q.d.IsNegative() }
func (q Quote) IsPositive() bool       { return q.d.IsPositive() }
func (q Quote) GreaterThan(o Quote) bool  { return q.d.GreaterThan(o.d) }
func (q Quote) GreaterOrEqual(o Quote) bool {
	return q.d.GreaterThanOrEqual(o.d)
}
func (q Quote) LessThan(o Quote) bool { return q.d.LessThan(o.d) }
func (q Quote) Float64() float64      { return mustFloat(q.d) }
func (q Quote) String() string        { return q.d.StringFixed(8) + " quote" }

func (b Base) Add(o Base) Base { return Base{b.d.Add(o.d)} }
func (b Base) Sub(o Base) Base { return Base{b.d.Sub(o.d)} }
func (b Base) Cmp(o Base) int  { return b.d.Cmp(o.d) }
func (b Base) IsPositive() bool   { return b.d.IsPositive() }
func (b Base) IsZero() bool       { return b.d.IsZero() }
func (b Base) GreaterThan(o Base) bool     { return b.d.GreaterThan(o.d) }
func (b Base) GreaterOrEqual(o Base) bool  { return b.d.GreaterThanOrEqual(o.d) }
func (b Base) LessThan(o Base) bool        { return b.d.LessThan(o.d) }
func (b Base) Float64() float64 { return mustFloat(b.d) }
func (b Base) String() string   { return b.d.StringFixed(8) + " base" }

// ToQuote converts a Base amount into a Quote amount at the given Price.
// This is the ONLY path from Base to Quote in the whole codebase; there
// is deliberately no arithmetic operator that does it implicitly, which
// rules out the class of bug where a base-unit P&L gets multiplied by
// price a second time before it reaches the ledger.
func (b Base) ToQuote(p Price) Quote { return Quote{b.d.Mul(p.d)} }

// ToBase converts a Quote notional into a Base quantity at the given
// Price (the inverse of ToQuote).
func (q Quote) ToBase(p Price) Base {
	if p.d.IsZero() {
		return Base{decimal.Zero}
	}
	return Base{q.d.Div(p.d)}
}

func (p Price) Mul(frac decimal.Decimal) Price { return Price{p.d.Mul(frac)} }
func (p Price) Add(o Price) Price              { return Price{p.d.Add(o.d)} }
func (p Price) Sub(o Price) Price              { return Price{p.d.Sub(o.d)} }
func (p Price) Cmp(o Price) int                { return p.d.Cmp(o.d) }
func (p Price) GreaterThan(o Price) bool       { return p.d.GreaterThan(o.d) }
func (p Price) LessThan(o Price) bool          { return p.d.LessThan(o.d) }
func (p Price) Float64() float64               { return mustFloat(p.d) }
func (p Price) String() string                 { return p.d.StringFixed(8) }

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// JSON marshaling keeps ledger files human-readable plain numbers rather
// than decimal's default string form, matching the project's existing
// JSON state-file convention (trader.go saveState).
func (q Quote) MarshalJSON() ([]byte, error) { return json.Marshal(q.Float64()) }
func (b Base) MarshalJSON() ([]byte, error)  { return json.Marshal(b.Float64()) }
func (p Price) MarshalJSON() ([]byte, error) { return json.Marshal(p.Float64()) }

func (q *Quote) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("money.Quote: %w", err)
	}
	q.d = decimal.NewFromFloat(f)
	return nil
}
func (b *Base) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("money.Base: %w", err)
	}
	b.d = decimal.NewFromFloat(f)
	return nil
}
func (p *Price) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("money.Price: %w", err)
	}
	p.d = decimal.NewFromFloat(f)
	return nil
}
