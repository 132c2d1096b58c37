package quotes

import "github.com/shopspring/decimal"

// Monetary and rate fields decode from JSON strings or number literals
// without passing through float64, and encode as strings.

type LineItemRequest struct {
	EntryID      int64            `json:"entry_id" validate:"required,gt=0"`
	Quantity     decimal.Decimal  `json:"quantity"`
	RateOverride *decimal.Decimal `json:"rate_override,omitempty"`
}

type QuoteData struct {
	Items              []LineItemRequest `json:"items" validate:"omitempty,max=500,dive"`
	MarginRate         *decimal.Decimal  `json:"margin_rate" validate:"required"`
	IVARate            *decimal.Decimal  `json:"iva_rate" validate:"required"`
	ChangesDescription string            `json:"changes_description" validate:"max=2000"`
}

type CreateQuoteRequest struct {
	ProjectID   int64            `json:"project_id" validate:"required,gt=0"`
	SpaceID     *int64           `json:"space_id,omitempty" validate:"omitempty,gt=0"`
	QuoteType   Type             `json:"quote_type" validate:"required,oneof=furniture space"`
	Notes       *string          `json:"notes,omitempty" validate:"omitempty,max=4000"`
	QuoteData   *QuoteData       `json:"quote_data" validate:"required"`
	TotalAmount *decimal.Decimal `json:"total_amount" validate:"required"`
}

type UpdateQuoteRequest struct {
	IVARate    *decimal.Decimal `json:"iva_rate,omitempty"`
	MarginRate *decimal.Decimal `json:"margin_rate,omitempty"`
	Status     *Status          `json:"status,omitempty" validate:"omitempty,oneof=draft sent accepted rejected"`
	Notes      *string          `json:"notes,omitempty" validate:"omitempty,max=4000"`
}

type RecalculateRequest struct {
	Items              []LineItemRequest `json:"items" validate:"omitempty,max=500,dive"`
	ChangesDescription string            `json:"changes_description" validate:"max=2000"`
}

type UpdateVersionRequest struct {
	IsFinal            *bool   `json:"is_final,omitempty"`
	ChangesDescription *string `json:"changes_description,omitempty" validate:"omitempty,max=2000"`
}

type CalculateRequest struct {
	Items      []LineItemRequest `json:"items" validate:"omitempty,max=500,dive"`
	MarginRate *decimal.Decimal  `json:"margin_rate" validate:"required"`
	IVARate    *decimal.Decimal  `json:"iva_rate" validate:"required"`
}

func toLineInputs(items []LineItemRequest) []LineInput {
	out := make([]LineInput, len(items))
	for i, it := range items {
		out[i] = LineInput{EntryID: it.EntryID, Quantity: it.Quantity, OverrideRate: it.RateOverride}
	}
	return out
}

func (req CreateQuoteRequest) input() CreateInput {
	return CreateInput{
		ProjectID:          req.ProjectID,
		SpaceID:            req.SpaceID,
		QuoteType:          req.QuoteType,
		MarginRate:         *req.QuoteData.MarginRate,
		IVARate:            *req.QuoteData.IVARate,
		Notes:              req.Notes,
		Items:              toLineInputs(req.QuoteData.Items),
		TotalAmount:        *req.TotalAmount,
		ChangesDescription: req.QuoteData.ChangesDescription,
	}
}

func (req UpdateQuoteRequest) input() UpdateInput {
	return UpdateInput{
		RatesUpdate: RatesUpdate{MarginRate: req.MarginRate, IVARate: req.IVARate},
		Status:      req.Status,
		Notes:       req.Notes,
	}
}

func (req UpdateQuoteRequest) changesRates() bool {
	return req.MarginRate != nil || req.IVARate != nil
}
