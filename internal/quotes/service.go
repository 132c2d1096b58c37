package quotes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atelier-ops/atelier/internal/costlib"
	"github.com/atelier-ops/atelier/internal/pricing"
	"github.com/atelier-ops/atelier/internal/shared"
)

// DefaultMaxAttempts bounds retries of a lost version-number race.
const DefaultMaxAttempts = 3

// Catalog resolves cost-library entries for pricing.
type Catalog interface {
	Resolve(ctx context.Context, ids []int64) (map[int64]costlib.Entry, error)
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Recorder receives quote engine metrics.
type Recorder interface {
	VersionAppended(reason string)
	VersionConflict(outcome string)
}

type noopRecorder struct{}

func (noopRecorder) VersionAppended(string) {}
func (noopRecorder) VersionConflict(string) {}

// LineInput is one requested line of a quotation.
type LineInput struct {
	EntryID      int64
	Quantity     decimal.Decimal
	OverrideRate *decimal.Decimal
}

// RatesUpdate changes the pricing configuration of a quote.
type RatesUpdate struct {
	MarginRate *decimal.Decimal
	IVARate    *decimal.Decimal
}

// UpdateInput changes the mutable fields of a quote.
type UpdateInput struct {
	RatesUpdate
	Status *Status
	Notes  *string
}

// CreateInput describes a quote saved together with its first version.
type CreateInput struct {
	ProjectID          int64
	SpaceID            *int64
	QuoteType          Type
	MarginRate         decimal.Decimal
	IVARate            decimal.Decimal
	Notes              *string
	Items              []LineInput
	TotalAmount        decimal.Decimal
	ChangesDescription string
}

// VersionUpdate is a requested change to a stored version.
type VersionUpdate struct {
	IsFinal            *bool
	ChangesDescription *string
}

// Options tune the Service.
type Options struct {
	MaxAttempts int
	Logger      *slog.Logger
	Audit       AuditRecorder
	Metrics     Recorder
}

// Service orchestrates pricing and versioning of quotations.
type Service struct {
	repo        Repository
	store       *VersionStore
	catalog     Catalog
	audit       AuditRecorder
	metrics     Recorder
	logger      *slog.Logger
	maxAttempts int
}

// NewService wires a Service.
func NewService(repo Repository, catalog Catalog, opts Options) *Service {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = noopRecorder{}
	}
	return &Service{
		repo:        repo,
		store:       NewVersionStore(repo),
		catalog:     catalog,
		audit:       opts.Audit,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		maxAttempts: opts.MaxAttempts,
	}
}

// Create prices the submitted lines, checks the caller's total and stores
// the quote with version 1 in a single transaction.
func (s *Service) Create(ctx context.Context, p shared.Principal, in CreateInput) (Current, error) {
	if in.ProjectID <= 0 {
		return Current{}, newError(KindValidation, "project_id is required")
	}
	if !in.QuoteType.Valid() {
		return Current{}, newError(KindValidation, "quote_type must be furniture or space")
	}
	inputs, err := s.resolve(ctx, in.Items, nil)
	if err != nil {
		return Current{}, err
	}
	res, err := price(inputs, in.MarginRate, in.IVARate)
	if err != nil {
		return Current{}, err
	}
	if !res.Total.Equal(in.TotalAmount) {
		return Current{}, newError(KindValidation, "total_amount %s does not match computed total %s",
			in.TotalAmount.StringFixed(pricing.MoneyScale), res.Total.StringFixed(pricing.MoneyScale))
	}

	description := strings.TrimSpace(in.ChangesDescription)
	if description == "" {
		description = "Initial quotation"
	}
	snap := snapshotFromResult(res, description, p.UserID)

	var out Current
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		q, err := tx.CreateQuote(ctx, Quote{
			ProjectID:  in.ProjectID,
			SpaceID:    in.SpaceID,
			QuoteType:  in.QuoteType,
			IVARate:    in.IVARate,
			MarginRate: in.MarginRate,
			Status:     StatusDraft,
			Notes:      in.Notes,
			CreatedBy:  p.UserID,
		})
		if err != nil {
			return err
		}
		v, err := appendLocked(ctx, tx, q.ID, snap)
		if err != nil {
			return err
		}
		q, err = tx.GetQuote(ctx, q.ID)
		if err != nil {
			return err
		}
		out = Current{Quote: q, Version: &v}
		return nil
	})
	if err != nil {
		return Current{}, err
	}
	s.afterAppend(ctx, p, "create", *out.Version)
	return out, nil
}

// Recalculate prices items with the quote's current rates and appends the
// result as a new draft version.
func (s *Service) Recalculate(ctx context.Context, p shared.Principal, quoteID int64, items []LineInput, description string) (Version, error) {
	v, err := withRetry(ctx, s, quoteID, func(ctx context.Context) (Version, error) {
		q, err := s.repo.GetQuote(ctx, quoteID)
		if err != nil {
			return Version{}, err
		}
		carried, err := s.currentEntryIDs(ctx, q)
		if err != nil {
			return Version{}, err
		}
		inputs, err := s.resolve(ctx, items, carried)
		if err != nil {
			return Version{}, err
		}
		res, err := price(inputs, q.MarginRate, q.IVARate)
		if err != nil {
			return Version{}, err
		}
		snap := snapshotFromResult(res, strings.TrimSpace(description), p.UserID)
		return s.store.AppendVersion(ctx, quoteID, snap, func(locked Quote) error {
			if !locked.MarginRate.Equal(q.MarginRate) || !locked.IVARate.Equal(q.IVARate) {
				return wrapError(KindConflict, errRatesChanged, "rates of quote %d changed during recalculation", quoteID)
			}
			return nil
		})
	})
	if err != nil {
		return Version{}, err
	}
	s.afterAppend(ctx, p, "recalculate", v)
	return v, nil
}

// Reprice replays the current version's lines under the quote's present
// rates and cost library.
func (s *Service) Reprice(ctx context.Context, p shared.Principal, quoteID int64) (Version, error) {
	cur, err := s.GetCurrent(ctx, quoteID)
	if err != nil {
		return Version{}, err
	}
	if cur.Version == nil {
		return Version{}, newError(KindValidation, "quote %d has no version to reprice", quoteID)
	}
	items := make([]LineInput, len(cur.Version.LineItems))
	for i, li := range cur.Version.LineItems {
		items[i] = LineInput{EntryID: li.EntryID, Quantity: li.Quantity}
		if li.RateOverridden {
			rate := li.Rate
			items[i].OverrideRate = &rate
		}
	}
	return s.Recalculate(ctx, p, quoteID, items, "Repriced after rate change")
}

// Finalize appends a final copy of the given version. Finalizing a version
// that is already final returns it unchanged.
func (s *Service) Finalize(ctx context.Context, p shared.Principal, quoteID, versionID int64) (Version, error) {
	return s.finalize(ctx, p, quoteID, versionID, "")
}

func (s *Service) finalize(ctx context.Context, p shared.Principal, quoteID, versionID int64, description string) (Version, error) {
	src, err := s.GetVersion(ctx, quoteID, versionID)
	if err != nil {
		return Version{}, err
	}
	if src.IsFinal {
		return src, nil
	}
	snap := src.finalCopy(strings.TrimSpace(description), p.UserID)
	v, err := withRetry(ctx, s, quoteID, func(ctx context.Context) (Version, error) {
		return s.store.AppendVersion(ctx, quoteID, snap, func(locked Quote) error {
			return requireCurrent(locked, versionID)
		})
	})
	if err != nil {
		return Version{}, err
	}
	s.afterAppend(ctx, p, "finalize", v)
	return v, nil
}

// UpdateVersion applies a PUT on a version. Setting is_final appends a final
// copy; descriptions can only be edited on the current draft version.
func (s *Service) UpdateVersion(ctx context.Context, p shared.Principal, quoteID, versionID int64, upd VersionUpdate) (Version, error) {
	if upd.IsFinal == nil && upd.ChangesDescription == nil {
		return Version{}, newError(KindValidation, "nothing to update")
	}
	v, err := s.GetVersion(ctx, quoteID, versionID)
	if err != nil {
		return Version{}, err
	}

	if upd.IsFinal != nil {
		if *upd.IsFinal {
			description := ""
			if upd.ChangesDescription != nil {
				description = *upd.ChangesDescription
			}
			return s.finalize(ctx, p, quoteID, versionID, description)
		}
		if v.IsFinal {
			return Version{}, newError(KindConflict, "version %d is final and cannot be reopened", versionID)
		}
	}
	if upd.ChangesDescription == nil {
		return v, nil
	}
	if v.IsFinal {
		return Version{}, newError(KindConflict, "version %d is final and cannot be edited", versionID)
	}

	var updated Version
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		locked, err := tx.LockQuote(ctx, quoteID)
		if err != nil {
			return err
		}
		if err := requireCurrent(locked, versionID); err != nil {
			return err
		}
		updated, err = tx.UpdateVersionDescription(ctx, versionID, strings.TrimSpace(*upd.ChangesDescription))
		return err
	})
	if err != nil {
		return Version{}, err
	}
	return updated, nil
}

// UpdateRates changes the quote's margin and tax rates without creating a
// version.
func (s *Service) UpdateRates(ctx context.Context, quoteID int64, upd RatesUpdate) (Quote, error) {
	return s.Update(ctx, quoteID, UpdateInput{RatesUpdate: upd})
}

// Update changes rates, status or notes of a quote.
func (s *Service) Update(ctx context.Context, quoteID int64, in UpdateInput) (Quote, error) {
	if in.Status != nil && !in.Status.Valid() {
		return Quote{}, newError(KindValidation, "unknown status %q", *in.Status)
	}
	return withRetry(ctx, s, quoteID, func(ctx context.Context) (Quote, error) {
		return s.update(ctx, quoteID, in)
	})
}

func (s *Service) update(ctx context.Context, quoteID int64, in UpdateInput) (Quote, error) {
	var updated Quote
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		q, err := tx.LockQuote(ctx, quoteID)
		if err != nil {
			return err
		}
		if in.MarginRate != nil {
			q.MarginRate = *in.MarginRate
		}
		if in.IVARate != nil {
			q.IVARate = *in.IVARate
		}
		if err := pricing.ValidateRates(q.MarginRate, q.IVARate); err != nil {
			return wrapError(KindValidation, err, "%s", err.Error())
		}
		if in.Status != nil {
			q.Status = *in.Status
		}
		if in.Notes != nil {
			notes := strings.TrimSpace(*in.Notes)
			q.Notes = &notes
		}
		updated, err = tx.UpdateQuote(ctx, q)
		return err
	})
	if err != nil {
		return Quote{}, err
	}
	return updated, nil
}

// GetCurrent returns the quote and its current version, if any.
func (s *Service) GetCurrent(ctx context.Context, quoteID int64) (Current, error) {
	q, err := s.repo.GetQuote(ctx, quoteID)
	if err != nil {
		return Current{}, err
	}
	out := Current{Quote: q}
	if q.CurrentVersionID == nil {
		return out, nil
	}
	v, err := s.store.GetVersion(ctx, *q.CurrentVersionID)
	if err != nil {
		return Current{}, err
	}
	out.Version = &v
	return out, nil
}

// GetVersion returns a version that belongs to the quote.
func (s *Service) GetVersion(ctx context.Context, quoteID, versionID int64) (Version, error) {
	if _, err := s.repo.GetQuote(ctx, quoteID); err != nil {
		return Version{}, err
	}
	v, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return Version{}, err
	}
	if v.QuoteID != quoteID {
		return Version{}, newError(KindInvalidReference, "version %d does not belong to quote %d", versionID, quoteID)
	}
	return v, nil
}

// ListVersions returns the quote's history by ascending version number.
func (s *Service) ListVersions(ctx context.Context, quoteID int64) ([]Version, error) {
	if _, err := s.repo.GetQuote(ctx, quoteID); err != nil {
		return nil, err
	}
	return s.store.ListVersions(ctx, quoteID)
}

// Delete removes the quote and its history.
func (s *Service) Delete(ctx context.Context, quoteID int64) error {
	return s.repo.DeleteQuote(ctx, quoteID)
}

// Preview prices items without storing anything.
func (s *Service) Preview(ctx context.Context, items []LineInput, marginRate, ivaRate decimal.Decimal) (pricing.Result, error) {
	inputs, err := s.resolve(ctx, items, nil)
	if err != nil {
		return pricing.Result{}, err
	}
	return price(inputs, marginRate, ivaRate)
}

// withRetry runs fn until it succeeds, fails with a non-retryable error, or
// maxAttempts is spent.
func withRetry[T any](ctx context.Context, s *Service, quoteID int64, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !retryable(err) {
			return zero, err
		}
		lastErr = err
		s.metrics.VersionConflict("retried")
		s.logger.Warn("quote version conflict",
			slog.Int64("quote_id", quoteID),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
	}
	s.metrics.VersionConflict("exhausted")
	return zero, wrapError(KindConflict, lastErr, "quote %d is being edited concurrently, gave up after %d attempts", quoteID, s.maxAttempts)
}

// resolve turns requested lines into pricing inputs. Inactive entries are
// accepted only when carried lists them.
func (s *Service) resolve(ctx context.Context, items []LineInput, carried map[int64]struct{}) ([]pricing.Input, error) {
	if len(items) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.EntryID
	}
	entries, err := s.catalog.Resolve(ctx, ids)
	if err != nil {
		return nil, err
	}

	inputs := make([]pricing.Input, len(items))
	for i, it := range items {
		entry, ok := entries[it.EntryID]
		if !ok {
			return nil, newError(KindInvalidLineItem, "line %d: cost entry %d not found", i+1, it.EntryID)
		}
		if !entry.Active {
			if _, ok := carried[entry.ID]; !ok {
				return nil, newError(KindInvalidLineItem, "line %d: cost entry %d is inactive", i+1, it.EntryID)
			}
		}
		inputs[i] = pricing.Input{
			EntryID:      entry.ID,
			Name:         entry.Name,
			UnitID:       entry.Unit.ID,
			UnitSymbol:   entry.Unit.Symbol,
			Rate:         entry.RatePerUnit,
			OverrideRate: it.OverrideRate,
			Quantity:     it.Quantity,
		}
	}
	return inputs, nil
}

func (s *Service) currentEntryIDs(ctx context.Context, q Quote) (map[int64]struct{}, error) {
	if q.CurrentVersionID == nil {
		return nil, nil
	}
	v, err := s.store.GetVersion(ctx, *q.CurrentVersionID)
	if err != nil {
		return nil, err
	}
	ids := make(map[int64]struct{}, len(v.LineItems))
	for _, li := range v.LineItems {
		ids[li.EntryID] = struct{}{}
	}
	return ids, nil
}

func (s *Service) afterAppend(ctx context.Context, p shared.Principal, reason string, v Version) {
	s.metrics.VersionAppended(reason)
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  p.UserID,
		Action:   "quote.version." + reason,
		Entity:   "quote_version",
		EntityID: strconv.FormatInt(v.ID, 10),
		Meta: map[string]any{
			"quote_id":       v.QuoteID,
			"version_number": v.VersionNumber,
			"is_final":       v.IsFinal,
			"total_amount":   v.TotalAmount.StringFixed(pricing.MoneyScale),
		},
	})
	if err != nil {
		s.logger.Error("audit quote version", slog.Int64("version_id", v.ID), slog.Any("error", err))
	}
}

func requireCurrent(locked Quote, versionID int64) error {
	if locked.CurrentVersionID == nil || *locked.CurrentVersionID != versionID {
		return wrapError(KindConflict, ErrStaleVersion, "version %d is not the current version of quote %d", versionID, locked.ID)
	}
	return nil
}

func price(inputs []pricing.Input, marginRate, ivaRate decimal.Decimal) (pricing.Result, error) {
	res, err := pricing.Calculate(inputs, marginRate, ivaRate)
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, pricing.ErrInvalidLineItem):
		return pricing.Result{}, wrapError(KindInvalidLineItem, err, "%s", err.Error())
	case errors.Is(err, pricing.ErrInvalidRate):
		return pricing.Result{}, wrapError(KindValidation, err, "%s", err.Error())
	default:
		return pricing.Result{}, fmt.Errorf("price quote: %w", err)
	}
}
