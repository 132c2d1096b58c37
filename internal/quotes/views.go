package quotes

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atelier-ops/atelier/internal/pricing"
)

// Response shapes. Money is rendered at a fixed scale so clients always
// receive "348.00" rather than "348".

type quoteView struct {
	ID               int64     `json:"id"`
	ProjectID        int64     `json:"project_id"`
	SpaceID          *int64    `json:"space_id,omitempty"`
	QuoteType        Type      `json:"quote_type"`
	IVARate          string    `json:"iva_rate"`
	MarginRate       string    `json:"margin_rate"`
	Status           Status    `json:"status"`
	Notes            *string   `json:"notes,omitempty"`
	CurrentVersionID *int64    `json:"current_version_id"`
	CreatedBy        int64     `json:"created_by"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type lineItemView struct {
	Position       int    `json:"position"`
	EntryID        int64  `json:"entry_id"`
	Name           string `json:"name"`
	UnitID         int64  `json:"unit_id"`
	Unit           string `json:"unit"`
	Quantity       string `json:"quantity"`
	Rate           string `json:"rate"`
	RateOverridden bool   `json:"rate_overridden"`
	ExtendedCost   string `json:"extended_cost"`
}

type versionView struct {
	ID                 int64          `json:"id"`
	QuoteID            int64          `json:"quote_id"`
	VersionNumber      int            `json:"version_number"`
	LineItems          []lineItemView `json:"line_items"`
	MarginRate         string         `json:"margin_rate"`
	IVARate            string         `json:"iva_rate"`
	Subtotal           string         `json:"subtotal"`
	MarginAmount       string         `json:"margin_amount"`
	TaxAmount          string         `json:"tax_amount"`
	TotalAmount        string         `json:"total_amount"`
	IsFinal            bool           `json:"is_final"`
	ChangesDescription string         `json:"changes_description"`
	CreatedBy          int64          `json:"created_by"`
	CreatedAt          time.Time      `json:"created_at"`
}

type resultView struct {
	Items        []lineItemView `json:"items"`
	MarginRate   string         `json:"margin_rate"`
	IVARate      string         `json:"iva_rate"`
	Subtotal     string         `json:"subtotal"`
	MarginAmount string         `json:"margin_amount"`
	TaxAmount    string         `json:"tax_amount"`
	TotalAmount  string         `json:"total_amount"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(pricing.MoneyScale)
}

func newQuoteView(q Quote) quoteView {
	return quoteView{
		ID:               q.ID,
		ProjectID:        q.ProjectID,
		SpaceID:          q.SpaceID,
		QuoteType:        q.QuoteType,
		IVARate:          q.IVARate.String(),
		MarginRate:       q.MarginRate.String(),
		Status:           q.Status,
		Notes:            q.Notes,
		CurrentVersionID: q.CurrentVersionID,
		CreatedBy:        q.CreatedBy,
		CreatedAt:        q.CreatedAt,
		UpdatedAt:        q.UpdatedAt,
	}
}

func newLineItemView(li LineItem) lineItemView {
	return lineItemView{
		Position:       li.Position,
		EntryID:        li.EntryID,
		Name:           li.EntryName,
		UnitID:         li.UnitID,
		Unit:           li.UnitSymbol,
		Quantity:       li.Quantity.String(),
		Rate:           li.Rate.String(),
		RateOverridden: li.RateOverridden,
		ExtendedCost:   money(li.ExtendedCost),
	}
}

func newVersionView(v Version) versionView {
	items := make([]lineItemView, len(v.LineItems))
	for i, li := range v.LineItems {
		items[i] = newLineItemView(li)
	}
	return versionView{
		ID:                 v.ID,
		QuoteID:            v.QuoteID,
		VersionNumber:      v.VersionNumber,
		LineItems:          items,
		MarginRate:         v.MarginRate.String(),
		IVARate:            v.IVARate.String(),
		Subtotal:           money(v.Subtotal),
		MarginAmount:       money(v.MarginAmount),
		TaxAmount:          money(v.TaxAmount),
		TotalAmount:        money(v.TotalAmount),
		IsFinal:            v.IsFinal,
		ChangesDescription: v.ChangesDescription,
		CreatedBy:          v.CreatedBy,
		CreatedAt:          v.CreatedAt,
	}
}

func newVersionViews(vs []Version) []versionView {
	out := make([]versionView, len(vs))
	for i, v := range vs {
		out[i] = newVersionView(v)
	}
	return out
}

func newOptionalVersionView(v *Version) *versionView {
	if v == nil {
		return nil
	}
	view := newVersionView(*v)
	return &view
}

func newResultView(res pricing.Result) resultView {
	items := make([]lineItemView, len(res.Items))
	for i, it := range res.Items {
		items[i] = lineItemView{
			Position:       i + 1,
			EntryID:        it.EntryID,
			Name:           it.Name,
			UnitID:         it.UnitID,
			Unit:           it.UnitSymbol,
			Quantity:       it.Quantity.String(),
			Rate:           it.Rate.String(),
			RateOverridden: it.RateOverridden,
			ExtendedCost:   money(it.ExtendedCost),
		}
	}
	return resultView{
		Items:        items,
		MarginRate:   res.MarginRate.String(),
		IVARate:      res.TaxRate.String(),
		Subtotal:     money(res.Subtotal),
		MarginAmount: money(res.MarginAmount),
		TaxAmount:    money(res.TaxAmount),
		TotalAmount:  money(res.Total),
	}
}
