package quotes

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atelier-ops/atelier/internal/pricing"
)

// Type distinguishes furniture quotations from whole-space quotations.
type Type string

const (
	TypeFurniture Type = "furniture"
	TypeSpace     Type = "space"
)

// Valid reports whether t is a known quote type.
func (t Type) Valid() bool {
	return t == TypeFurniture || t == TypeSpace
}

// Status is the commercial state of a quote.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusSent     Status = "sent"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

// Quote is one quotation lineage for a project.
type Quote struct {
	ID               int64           `json:"id"`
	ProjectID        int64           `json:"project_id"`
	SpaceID          *int64          `json:"space_id,omitempty"`
	QuoteType        Type            `json:"quote_type"`
	IVARate          decimal.Decimal `json:"iva_rate"`
	MarginRate       decimal.Decimal `json:"margin_rate"`
	Status           Status          `json:"status"`
	Notes            *string         `json:"notes,omitempty"`
	CurrentVersionID *int64          `json:"current_version_id"`
	CreatedBy        int64           `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// LineItem is a priced line frozen inside a version.
type LineItem struct {
	Position       int             `json:"position"`
	EntryID        int64           `json:"entry_id"`
	EntryName      string          `json:"name"`
	UnitID         int64           `json:"unit_id"`
	UnitSymbol     string          `json:"unit"`
	Quantity       decimal.Decimal `json:"quantity"`
	Rate           decimal.Decimal `json:"rate"`
	RateOverridden bool            `json:"rate_overridden"`
	ExtendedCost   decimal.Decimal `json:"extended_cost"`
}

// Version is an immutable numbered snapshot of a quote's pricing.
type Version struct {
	ID                 int64           `json:"id"`
	QuoteID            int64           `json:"quote_id"`
	VersionNumber      int             `json:"version_number"`
	LineItems          []LineItem      `json:"line_items"`
	MarginRate         decimal.Decimal `json:"margin_rate"`
	IVARate            decimal.Decimal `json:"iva_rate"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	MarginAmount       decimal.Decimal `json:"margin_amount"`
	TaxAmount          decimal.Decimal `json:"tax_amount"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	IsFinal            bool            `json:"is_final"`
	ChangesDescription string          `json:"changes_description"`
	CreatedBy          int64           `json:"created_by"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Snapshot is the content of a version before it is numbered and stored.
type Snapshot struct {
	LineItems          []LineItem
	MarginRate         decimal.Decimal
	IVARate            decimal.Decimal
	Subtotal           decimal.Decimal
	MarginAmount       decimal.Decimal
	TaxAmount          decimal.Decimal
	TotalAmount        decimal.Decimal
	IsFinal            bool
	ChangesDescription string
	CreatedBy          int64
}

// Current is a quote with its current version, if any.
type Current struct {
	Quote   Quote    `json:"quotation"`
	Version *Version `json:"current_version"`
}

func snapshotFromResult(res pricing.Result, description string, createdBy int64) Snapshot {
	items := make([]LineItem, len(res.Items))
	for i, it := range res.Items {
		items[i] = LineItem{
			Position:       i + 1,
			EntryID:        it.EntryID,
			EntryName:      it.Name,
			UnitID:         it.UnitID,
			UnitSymbol:     it.UnitSymbol,
			Quantity:       it.Quantity,
			Rate:           it.Rate,
			RateOverridden: it.RateOverridden,
			ExtendedCost:   it.ExtendedCost,
		}
	}
	return Snapshot{
		LineItems:          items,
		MarginRate:         res.MarginRate,
		IVARate:            res.TaxRate,
		Subtotal:           res.Subtotal,
		MarginAmount:       res.MarginAmount,
		TaxAmount:          res.TaxAmount,
		TotalAmount:        res.Total,
		ChangesDescription: description,
		CreatedBy:          createdBy,
	}
}

// finalCopy returns the version's content marked final.
func (v Version) finalCopy(description string, createdBy int64) Snapshot {
	items := make([]LineItem, len(v.LineItems))
	copy(items, v.LineItems)
	if description == "" {
		description = v.ChangesDescription
	}
	return Snapshot{
		LineItems:          items,
		MarginRate:         v.MarginRate,
		IVARate:            v.IVARate,
		Subtotal:           v.Subtotal,
		MarginAmount:       v.MarginAmount,
		TaxAmount:          v.TaxAmount,
		TotalAmount:        v.TotalAmount,
		IsFinal:            true,
		ChangesDescription: description,
		CreatedBy:          createdBy,
	}
}
