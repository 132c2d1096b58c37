// Package pricing computes quotation totals from resolved cost-library lines.
//
// Calculate is a pure function: it performs no I/O and identical inputs always
// produce identical decimal outputs, which is what lets a stored quote version
// be replayed exactly.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places monetary amounts are rounded to.
const MoneyScale = 2

// RateScale is the maximum number of decimal places accepted for quantities,
// unit rates, margin and tax rates. Stored versions keep them at this scale,
// so anything finer would not replay.
const RateScale = 4

// Upper bounds (exclusive) matching the storage columns.
var (
	maxQuantityOrRate = decimal.New(1, 10) // NUMERIC(14,4)
	maxMarginRate     = decimal.New(1, 4)  // NUMERIC(8,4)
	maxAmount         = decimal.New(1, 14) // NUMERIC(16,2)
)

var (
	// ErrInvalidLineItem reports a line that cannot be priced.
	ErrInvalidLineItem = errors.New("invalid line item")
	// ErrInvalidRate reports a margin or tax rate outside its allowed range.
	ErrInvalidRate = errors.New("invalid rate")
)

// Input is one line to price, already resolved against the cost library.
type Input struct {
	EntryID      int64
	Name         string
	UnitID       int64
	UnitSymbol   string
	Rate         decimal.Decimal
	OverrideRate *decimal.Decimal
	Quantity     decimal.Decimal
}

// Item is a priced line with the rate frozen at calculation time.
type Item struct {
	EntryID        int64           `json:"entry_id"`
	Name           string          `json:"name"`
	UnitID         int64           `json:"unit_id"`
	UnitSymbol     string          `json:"unit"`
	Quantity       decimal.Decimal `json:"quantity"`
	Rate           decimal.Decimal `json:"rate"`
	RateOverridden bool            `json:"rate_overridden"`
	ExtendedCost   decimal.Decimal `json:"extended_cost"`
}

// Result is the itemised outcome of a calculation.
type Result struct {
	Items        []Item          `json:"items"`
	MarginRate   decimal.Decimal `json:"margin_rate"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	MarginAmount decimal.Decimal `json:"margin_amount"`
	TaxAmount    decimal.Decimal `json:"tax_amount"`
	Total        decimal.Decimal `json:"total"`
}

// LineError identifies the offending line of a rejected calculation.
type LineError struct {
	Position int
	EntryID  int64
	Reason   string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d (entry %d): %s", e.Position, e.EntryID, e.Reason)
}

// Unwrap lets callers match the failure with errors.Is(err, ErrInvalidLineItem).
func (e *LineError) Unwrap() error {
	return ErrInvalidLineItem
}

// fitsScale reports whether d has at most places significant decimals.
func fitsScale(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Truncate(places))
}

// ValidateRates checks a margin/tax pair without pricing anything.
func ValidateRates(marginRate, taxRate decimal.Decimal) error {
	if marginRate.IsNegative() {
		return fmt.Errorf("%w: margin rate %s is negative", ErrInvalidRate, marginRate)
	}
	if !marginRate.LessThan(maxMarginRate) {
		return fmt.Errorf("%w: margin rate %s must be below %s", ErrInvalidRate, marginRate, maxMarginRate)
	}
	if taxRate.IsNegative() || taxRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: tax rate %s must be between 0 and 1", ErrInvalidRate, taxRate)
	}
	if !fitsScale(marginRate, RateScale) || !fitsScale(taxRate, RateScale) {
		return fmt.Errorf("%w: margin and tax rates allow at most %d decimal places", ErrInvalidRate, RateScale)
	}
	return nil
}

// Calculate prices the inputs applying the margin first and tax on the
// marked-up amount:
//
//	subtotal = Σ rate × quantity
//	margin   = subtotal × marginRate
//	tax      = (subtotal + margin) × taxRate
//	total    = subtotal + margin + tax
//
// Each monetary stage is rounded half away from zero to MoneyScale places.
func Calculate(inputs []Input, marginRate, taxRate decimal.Decimal) (Result, error) {
	if err := ValidateRates(marginRate, taxRate); err != nil {
		return Result{}, err
	}

	items := make([]Item, 0, len(inputs))
	subtotal := decimal.Zero
	for i, in := range inputs {
		item, err := priceLine(i+1, in)
		if err != nil {
			return Result{}, err
		}
		subtotal = subtotal.Add(item.ExtendedCost)
		items = append(items, item)
	}

	marginAmount := subtotal.Mul(marginRate).Round(MoneyScale)
	taxAmount := subtotal.Add(marginAmount).Mul(taxRate).Round(MoneyScale)
	total := subtotal.Add(marginAmount).Add(taxAmount)
	if !total.LessThan(maxAmount) {
		return Result{}, fmt.Errorf("%w: total %s exceeds the maximum quotable amount", ErrInvalidLineItem, total.StringFixed(MoneyScale))
	}

	return Result{
		Items:        items,
		MarginRate:   marginRate,
		TaxRate:      taxRate,
		Subtotal:     subtotal.Round(MoneyScale),
		MarginAmount: marginAmount,
		TaxAmount:    taxAmount,
		Total:        total.Round(MoneyScale),
	}, nil
}

func priceLine(position int, in Input) (Item, error) {
	fail := func(format string, args ...any) (Item, error) {
		return Item{}, &LineError{Position: position, EntryID: in.EntryID, Reason: fmt.Sprintf(format, args...)}
	}
	if !in.Quantity.IsPositive() {
		return fail("quantity %s must be greater than zero", in.Quantity)
	}
	if !fitsScale(in.Quantity, RateScale) {
		return fail("quantity %s has more than %d decimal places", in.Quantity, RateScale)
	}
	if !in.Quantity.LessThan(maxQuantityOrRate) {
		return fail("quantity %s is too large", in.Quantity)
	}
	rate := in.Rate
	overridden := false
	if in.OverrideRate != nil {
		rate = *in.OverrideRate
		overridden = true
	}
	if rate.IsNegative() {
		return fail("rate %s is negative", rate)
	}
	if !fitsScale(rate, RateScale) {
		return fail("rate %s has more than %d decimal places", rate, RateScale)
	}
	if !rate.LessThan(maxQuantityOrRate) {
		return fail("rate %s is too large", rate)
	}
	return Item{
		EntryID:        in.EntryID,
		Name:           in.Name,
		UnitID:         in.UnitID,
		UnitSymbol:     in.UnitSymbol,
		Quantity:       in.Quantity,
		Rate:           rate,
		RateOverridden: overridden,
		ExtendedCost:   rate.Mul(in.Quantity).Round(MoneyScale),
	}, nil
}
