package costlib

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Kind classifies cost entries.
type Kind string

const (
	KindLabor    Kind = "labor"
	KindMaterial Kind = "material"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindLabor || k == KindMaterial
}

// ErrNotFound indicates that a unit or cost entry does not exist.
var ErrNotFound = errors.New("costlib: not found")

// Unit is a unit of measure referenced by cost entries.
type Unit struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

// Entry is a priceable catalog record.
type Entry struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Kind        Kind            `json:"kind"`
	Unit        Unit            `json:"unit"`
	RatePerUnit decimal.Decimal `json:"rate_per_unit"`
	Active      bool            `json:"active"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Filter narrows ListEntries.
type Filter struct {
	Category   string
	Kind       Kind
	ActiveOnly bool
}
