package quotes

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atelier-ops/atelier/internal/platform/db"
)

// Repository persists quotes and their versions. Methods called on the
// Repository handed to WithTx run inside that transaction.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	CreateQuote(ctx context.Context, q Quote) (Quote, error)
	GetQuote(ctx context.Context, id int64) (Quote, error)
	// LockQuote reads the quote with a row lock held until the transaction ends.
	LockQuote(ctx context.Context, id int64) (Quote, error)
	UpdateQuote(ctx context.Context, q Quote) (Quote, error)
	DeleteQuote(ctx context.Context, id int64) error
	MaxVersionNumber(ctx context.Context, quoteID int64) (int, error)
	InsertVersion(ctx context.Context, quoteID int64, number int, snap Snapshot) (Version, error)
	SetCurrentVersion(ctx context.Context, quoteID, versionID int64) error
	GetVersion(ctx context.Context, versionID int64) (Version, error)
	ListVersions(ctx context.Context, quoteID int64) ([]Version, error)
	UpdateVersionDescription(ctx context.Context, versionID int64, description string) (Version, error)
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository builds a pgx backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return conflictFromTx(db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	}))
}

// conflictFromTx turns a transaction lost to a concurrent writer (unique
// violation, serialization failure, deadlock) into a retryable conflict.
func conflictFromTx(err error) error {
	if err == nil || errors.Is(err, errVersionRace) || !db.IsWriteConflict(err) {
		return err
	}
	return wrapError(KindConflict, fmt.Errorf("%w: %v", errVersionRace, err), "concurrent update on quote")
}

const quoteColumns = `id, project_id, space_id, quote_type, iva_rate, margin_rate, status, notes,
	current_version_id, created_by, created_at, updated_at`

func scanQuote(row pgx.Row) (Quote, error) {
	var q Quote
	err := row.Scan(&q.ID, &q.ProjectID, &q.SpaceID, &q.QuoteType, &q.IVARate, &q.MarginRate,
		&q.Status, &q.Notes, &q.CurrentVersionID, &q.CreatedBy, &q.CreatedAt, &q.UpdatedAt)
	return q, err
}

func (r *repository) CreateQuote(ctx context.Context, q Quote) (Quote, error) {
	if q.Status == "" {
		q.Status = StatusDraft
	}
	row := r.db.QueryRow(ctx, `INSERT INTO quotes (project_id, space_id, quote_type, iva_rate, margin_rate, status, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+quoteColumns,
		q.ProjectID, q.SpaceID, q.QuoteType, q.IVARate, q.MarginRate, q.Status, q.Notes, q.CreatedBy)
	created, err := scanQuote(row)
	if err != nil {
		return Quote{}, fmt.Errorf("insert quote: %w", err)
	}
	return created, nil
}

func (r *repository) GetQuote(ctx context.Context, id int64) (Quote, error) {
	q, err := scanQuote(r.db.QueryRow(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, newError(KindNotFound, "quote %d not found", id)
		}
		return Quote{}, fmt.Errorf("get quote: %w", err)
	}
	return q, nil
}

func (r *repository) LockQuote(ctx context.Context, id int64) (Quote, error) {
	q, err := scanQuote(r.db.QueryRow(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, newError(KindNotFound, "quote %d not found", id)
		}
		return Quote{}, fmt.Errorf("lock quote: %w", err)
	}
	return q, nil
}

func (r *repository) UpdateQuote(ctx context.Context, q Quote) (Quote, error) {
	row := r.db.QueryRow(ctx, `UPDATE quotes
		SET iva_rate = $2, margin_rate = $3, status = $4, notes = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING `+quoteColumns,
		q.ID, q.IVARate, q.MarginRate, q.Status, q.Notes)
	updated, err := scanQuote(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, newError(KindNotFound, "quote %d not found", q.ID)
		}
		return Quote{}, fmt.Errorf("update quote: %w", err)
	}
	return updated, nil
}

func (r *repository) DeleteQuote(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM quotes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete quote: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return newError(KindNotFound, "quote %d not found", id)
	}
	return nil
}

func (r *repository) MaxVersionNumber(ctx context.Context, quoteID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COALESCE(MAX(version_number), 0) FROM quote_versions WHERE quote_id = $1`, quoteID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("max version number: %w", err)
	}
	return n, nil
}

func (r *repository) InsertVersion(ctx context.Context, quoteID int64, number int, snap Snapshot) (Version, error) {
	v := Version{
		QuoteID:            quoteID,
		VersionNumber:      number,
		MarginRate:         snap.MarginRate,
		IVARate:            snap.IVARate,
		Subtotal:           snap.Subtotal,
		MarginAmount:       snap.MarginAmount,
		TaxAmount:          snap.TaxAmount,
		TotalAmount:        snap.TotalAmount,
		IsFinal:            snap.IsFinal,
		ChangesDescription: snap.ChangesDescription,
		CreatedBy:          snap.CreatedBy,
	}
	err := r.db.QueryRow(ctx, `INSERT INTO quote_versions
		(quote_id, version_number, margin_rate, iva_rate, subtotal, margin_amount, tax_amount, total_amount, is_final, changes_description, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`,
		quoteID, number, snap.MarginRate, snap.IVARate, snap.Subtotal, snap.MarginAmount, snap.TaxAmount,
		snap.TotalAmount, snap.IsFinal, snap.ChangesDescription, snap.CreatedBy).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		if db.ErrorCode(err) == db.CodeUniqueViolation {
			return Version{}, wrapError(KindConflict, errVersionRace, "version %d of quote %d already exists", number, quoteID)
		}
		return Version{}, fmt.Errorf("insert version: %w", err)
	}

	v.LineItems = make([]LineItem, len(snap.LineItems))
	for i, item := range snap.LineItems {
		item.Position = i + 1
		_, err := r.db.Exec(ctx, `INSERT INTO quote_version_items
			(version_id, position, entry_id, entry_name, unit_id, unit_symbol, quantity, rate, rate_override, extended_cost)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			v.ID, item.Position, item.EntryID, item.EntryName, item.UnitID, item.UnitSymbol,
			item.Quantity, item.Rate, item.RateOverridden, item.ExtendedCost)
		if err != nil {
			if db.ErrorCode(err) == db.CodeForeignKeyViolation {
				return Version{}, wrapError(KindInvalidLineItem, err, "line %d references unknown unit %d", item.Position, item.UnitID)
			}
			return Version{}, fmt.Errorf("insert version item: %w", err)
		}
		v.LineItems[i] = item
	}
	return v, nil
}

func (r *repository) SetCurrentVersion(ctx context.Context, quoteID, versionID int64) error {
	var owner int64
	err := r.db.QueryRow(ctx, `SELECT quote_id FROM quote_versions WHERE id = $1`, versionID).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return newError(KindNotFound, "version %d not found", versionID)
		}
		return fmt.Errorf("lookup version owner: %w", err)
	}
	if owner != quoteID {
		return newError(KindInvalidReference, "version %d does not belong to quote %d", versionID, quoteID)
	}
	tag, err := r.db.Exec(ctx, `UPDATE quotes SET current_version_id = $2, updated_at = NOW() WHERE id = $1`, quoteID, versionID)
	if err != nil {
		return fmt.Errorf("set current version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return newError(KindNotFound, "quote %d not found", quoteID)
	}
	return nil
}

const versionColumns = `id, quote_id, version_number, margin_rate, iva_rate, subtotal, margin_amount,
	tax_amount, total_amount, is_final, changes_description, created_by, created_at`

func scanVersion(row pgx.Row) (Version, error) {
	var v Version
	err := row.Scan(&v.ID, &v.QuoteID, &v.VersionNumber, &v.MarginRate, &v.IVARate, &v.Subtotal,
		&v.MarginAmount, &v.TaxAmount, &v.TotalAmount, &v.IsFinal, &v.ChangesDescription,
		&v.CreatedBy, &v.CreatedAt)
	return v, err
}

func (r *repository) GetVersion(ctx context.Context, versionID int64) (Version, error) {
	v, err := scanVersion(r.db.QueryRow(ctx, `SELECT `+versionColumns+` FROM quote_versions WHERE id = $1`, versionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Version{}, newError(KindNotFound, "version %d not found", versionID)
		}
		return Version{}, fmt.Errorf("get version: %w", err)
	}
	items, err := r.loadItems(ctx, []int64{v.ID})
	if err != nil {
		return Version{}, err
	}
	v.LineItems = items[v.ID]
	if v.LineItems == nil {
		v.LineItems = []LineItem{}
	}
	return v, nil
}

func (r *repository) ListVersions(ctx context.Context, quoteID int64) ([]Version, error) {
	rows, err := r.db.Query(ctx, `SELECT `+versionColumns+` FROM quote_versions WHERE quote_id = $1 ORDER BY version_number`, quoteID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []Version
	var ids []int64
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
		ids = append(ids, v.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Version{}, nil
	}

	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range versions {
		versions[i].LineItems = items[versions[i].ID]
		if versions[i].LineItems == nil {
			versions[i].LineItems = []LineItem{}
		}
	}
	return versions, nil
}

func (r *repository) loadItems(ctx context.Context, versionIDs []int64) (map[int64][]LineItem, error) {
	rows, err := r.db.Query(ctx, `SELECT version_id, position, entry_id, entry_name, unit_id, unit_symbol,
		quantity, rate, rate_override, extended_cost
		FROM quote_version_items
		WHERE version_id = ANY($1)
		ORDER BY version_id, position`, versionIDs)
	if err != nil {
		return nil, fmt.Errorf("load version items: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]LineItem, len(versionIDs))
	for rows.Next() {
		var versionID int64
		var item LineItem
		if err := rows.Scan(&versionID, &item.Position, &item.EntryID, &item.EntryName, &item.UnitID,
			&item.UnitSymbol, &item.Quantity, &item.Rate, &item.RateOverridden, &item.ExtendedCost); err != nil {
			return nil, err
		}
		out[versionID] = append(out[versionID], item)
	}
	return out, rows.Err()
}

func (r *repository) UpdateVersionDescription(ctx context.Context, versionID int64, description string) (Version, error) {
	tag, err := r.db.Exec(ctx, `UPDATE quote_versions SET changes_description = $2 WHERE id = $1 AND is_final = FALSE`, versionID, description)
	if err != nil {
		return Version{}, fmt.Errorf("update version description: %w", err)
	}
	if tag.RowsAffected() == 0 {
		v, err := r.GetVersion(ctx, versionID)
		if err != nil {
			return Version{}, err
		}
		if v.IsFinal {
			return Version{}, newError(KindConflict, "version %d is final and cannot be edited", versionID)
		}
	}
	return r.GetVersion(ctx, versionID)
}
