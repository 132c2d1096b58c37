package costlib

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads the cost library. Entries are maintained by external CRUD.
type Repository interface {
	ListEntries(ctx context.Context, filter Filter) ([]Entry, error)
	GetEntry(ctx context.Context, id int64) (Entry, error)
	GetEntries(ctx context.Context, ids []int64) ([]Entry, error)
	ListUnits(ctx context.Context) ([]Unit, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a pgx backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const entryColumns = `
	e.id, e.name, e.category, e.kind, e.rate_per_unit, e.active, e.updated_at,
	u.id, u.name, u.symbol`

// ListEntries uses a dynamic query because every filter is optional.
func (r *repository) ListEntries(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM cost_entries e JOIN units u ON u.id = e.unit_id WHERE 1=1`
	args := []interface{}{}

	if c := strings.TrimSpace(filter.Category); c != "" {
		args = append(args, c)
		query += ` AND e.category = $` + strconv.Itoa(len(args))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		query += ` AND e.kind = $` + strconv.Itoa(len(args))
	}
	if filter.ActiveOnly {
		query += ` AND e.active`
	}
	query += ` ORDER BY e.name ASC, e.id ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *repository) GetEntry(ctx context.Context, id int64) (Entry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM cost_entries e JOIN units u ON u.id = e.unit_id WHERE e.id = $1`, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	return e, nil
}

func (r *repository) GetEntries(ctx context.Context, ids []int64) ([]Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM cost_entries e JOIN units u ON u.id = e.unit_id WHERE e.id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *repository) ListUnits(ctx context.Context) ([]Unit, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, symbol FROM units ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	units := []Unit{}
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.Name, &u.Symbol); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	var kind string
	err := row.Scan(
		&e.ID, &e.Name, &e.Category, &kind, &e.RatePerUnit, &e.Active, &e.UpdatedAt,
		&e.Unit.ID, &e.Unit.Name, &e.Unit.Symbol,
	)
	e.Kind = Kind(kind)
	return e, err
}
