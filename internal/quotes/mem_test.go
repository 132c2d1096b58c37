package quotes

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/atelier-ops/atelier/internal/costlib"
	"github.com/atelier-ops/atelier/internal/shared"
)

// ============================================================================
// IN-MEMORY REPOSITORY
// ============================================================================

type memState struct {
	nextQuoteID   int64
	nextVersionID int64
	quotes        map[int64]Quote
	versions      map[int64]Version
}

func (s *memState) clone() *memState {
	out := &memState{
		nextQuoteID:   s.nextQuoteID,
		nextVersionID: s.nextVersionID,
		quotes:        make(map[int64]Quote, len(s.quotes)),
		versions:      make(map[int64]Version, len(s.versions)),
	}
	for id, q := range s.quotes {
		out.quotes[id] = q
	}
	for id, v := range s.versions {
		out.versions[id] = v
	}
	return out
}

// memStore holds committed state. WithTx holds mu for the whole transaction,
// which serializes writers the same way the quote row lock does.
type memStore struct {
	mu    sync.Mutex
	state *memState

	// insertConflicts makes the next N InsertVersion calls lose the race.
	insertConflicts int
	inserts         int

	// updateConflicts makes the next N UpdateQuote calls fail the way a
	// serialization failure does after conflictFromTx.
	updateConflicts int
	updates         int
}

func newMemStore() *memStore {
	return &memStore{state: &memState{
		quotes:   map[int64]Quote{},
		versions: map[int64]Version{},
	}}
}

type memRepo struct {
	store *memStore
	tx    *memState
}

func newMemRepo() *memRepo {
	return &memRepo{store: newMemStore()}
}

func (r *memRepo) do(fn func(st *memState) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return fn(r.store.state)
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if r.tx != nil {
		return fn(ctx, r)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	working := r.store.state.clone()
	if err := fn(ctx, &memRepo{store: r.store, tx: working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.store.state = working
	return nil
}

func (r *memRepo) CreateQuote(ctx context.Context, q Quote) (Quote, error) {
	err := r.do(func(st *memState) error {
		st.nextQuoteID++
		q.ID = st.nextQuoteID
		if q.Status == "" {
			q.Status = StatusDraft
		}
		q.CreatedAt = time.Now()
		q.UpdatedAt = q.CreatedAt
		st.quotes[q.ID] = q
		return nil
	})
	return q, err
}

func (r *memRepo) GetQuote(ctx context.Context, id int64) (Quote, error) {
	var q Quote
	err := r.do(func(st *memState) error {
		found, ok := st.quotes[id]
		if !ok {
			return newError(KindNotFound, "quote %d not found", id)
		}
		q = found
		return nil
	})
	return q, err
}

func (r *memRepo) LockQuote(ctx context.Context, id int64) (Quote, error) {
	return r.GetQuote(ctx, id)
}

func (r *memRepo) UpdateQuote(ctx context.Context, q Quote) (Quote, error) {
	var out Quote
	err := r.do(func(st *memState) error {
		r.store.updates++
		if r.store.updateConflicts > 0 {
			r.store.updateConflicts--
			return conflictFromTx(&pgconn.PgError{Code: "40001"})
		}
		existing, ok := st.quotes[q.ID]
		if !ok {
			return newError(KindNotFound, "quote %d not found", q.ID)
		}
		existing.IVARate = q.IVARate
		existing.MarginRate = q.MarginRate
		existing.Status = q.Status
		existing.Notes = q.Notes
		existing.UpdatedAt = time.Now()
		st.quotes[q.ID] = existing
		out = existing
		return nil
	})
	return out, err
}

func (r *memRepo) DeleteQuote(ctx context.Context, id int64) error {
	return r.do(func(st *memState) error {
		if _, ok := st.quotes[id]; !ok {
			return newError(KindNotFound, "quote %d not found", id)
		}
		delete(st.quotes, id)
		for vid, v := range st.versions {
			if v.QuoteID == id {
				delete(st.versions, vid)
			}
		}
		return nil
	})
}

func (r *memRepo) MaxVersionNumber(ctx context.Context, quoteID int64) (int, error) {
	highest := 0
	err := r.do(func(st *memState) error {
		for _, v := range st.versions {
			if v.QuoteID == quoteID && v.VersionNumber > highest {
				highest = v.VersionNumber
			}
		}
		return nil
	})
	return highest, err
}

func (r *memRepo) InsertVersion(ctx context.Context, quoteID int64, number int, snap Snapshot) (Version, error) {
	var out Version
	err := r.do(func(st *memState) error {
		r.store.inserts++
		if r.store.insertConflicts > 0 {
			r.store.insertConflicts--
			return wrapError(KindConflict, errVersionRace, "version %d of quote %d already exists", number, quoteID)
		}
		for _, v := range st.versions {
			if v.QuoteID == quoteID && v.VersionNumber == number {
				return wrapError(KindConflict, errVersionRace, "version %d of quote %d already exists", number, quoteID)
			}
		}
		st.nextVersionID++
		items := make([]LineItem, len(snap.LineItems))
		for i, li := range snap.LineItems {
			li.Position = i + 1
			items[i] = li
		}
		out = Version{
			ID:                 st.nextVersionID,
			QuoteID:            quoteID,
			VersionNumber:      number,
			LineItems:          items,
			MarginRate:         snap.MarginRate,
			IVARate:            snap.IVARate,
			Subtotal:           snap.Subtotal,
			MarginAmount:       snap.MarginAmount,
			TaxAmount:          snap.TaxAmount,
			TotalAmount:        snap.TotalAmount,
			IsFinal:            snap.IsFinal,
			ChangesDescription: snap.ChangesDescription,
			CreatedBy:          snap.CreatedBy,
			CreatedAt:          time.Now(),
		}
		st.versions[out.ID] = out
		return nil
	})
	return out, err
}

func (r *memRepo) SetCurrentVersion(ctx context.Context, quoteID, versionID int64) error {
	return r.do(func(st *memState) error {
		v, ok := st.versions[versionID]
		if !ok {
			return newError(KindNotFound, "version %d not found", versionID)
		}
		if v.QuoteID != quoteID {
			return newError(KindInvalidReference, "version %d does not belong to quote %d", versionID, quoteID)
		}
		q, ok := st.quotes[quoteID]
		if !ok {
			return newError(KindNotFound, "quote %d not found", quoteID)
		}
		id := versionID
		q.CurrentVersionID = &id
		st.quotes[quoteID] = q
		return nil
	})
}

func (r *memRepo) GetVersion(ctx context.Context, versionID int64) (Version, error) {
	var out Version
	err := r.do(func(st *memState) error {
		v, ok := st.versions[versionID]
		if !ok {
			return newError(KindNotFound, "version %d not found", versionID)
		}
		out = copyVersion(v)
		return nil
	})
	return out, err
}

func (r *memRepo) ListVersions(ctx context.Context, quoteID int64) ([]Version, error) {
	out := []Version{}
	err := r.do(func(st *memState) error {
		for _, v := range st.versions {
			if v.QuoteID == quoteID {
				out = append(out, copyVersion(v))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out, err
}

func (r *memRepo) UpdateVersionDescription(ctx context.Context, versionID int64, description string) (Version, error) {
	var out Version
	err := r.do(func(st *memState) error {
		v, ok := st.versions[versionID]
		if !ok {
			return newError(KindNotFound, "version %d not found", versionID)
		}
		if v.IsFinal {
			return newError(KindConflict, "version %d is final and cannot be edited", versionID)
		}
		v.ChangesDescription = description
		st.versions[versionID] = v
		out = copyVersion(v)
		return nil
	})
	return out, err
}

func (r *memRepo) insertCount() int {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.store.inserts
}

func (r *memRepo) injectUpdateConflicts(n int) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.updateConflicts = n
}

func (r *memRepo) updateCount() int {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.store.updates
}

func (r *memRepo) injectInsertConflicts(n int) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.insertConflicts = n
}

func copyVersion(v Version) Version {
	items := make([]LineItem, len(v.LineItems))
	copy(items, v.LineItems)
	v.LineItems = items
	return v
}

// ============================================================================
// COLLABORATOR FAKES
// ============================================================================

type fakeCatalog struct {
	mu      sync.Mutex
	entries map[int64]costlib.Entry
	onCall  func(call int)
	calls   int
}

func newFakeCatalog(entries ...costlib.Entry) *fakeCatalog {
	c := &fakeCatalog{entries: map[int64]costlib.Entry{}}
	for _, e := range entries {
		c.entries[e.ID] = e
	}
	return c
}

func (c *fakeCatalog) Resolve(ctx context.Context, ids []int64) (map[int64]costlib.Entry, error) {
	c.mu.Lock()
	c.calls++
	call := c.calls
	hook := c.onCall
	out := make(map[int64]costlib.Entry, len(ids))
	for _, id := range ids {
		if e, ok := c.entries[id]; ok {
			out[id] = e
		}
	}
	c.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	return out, nil
}

func (c *fakeCatalog) set(e costlib.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.ID] = e
}

type fakeAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *fakeAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type fakeRecorder struct {
	mu        sync.Mutex
	appended  map[string]int
	conflicts map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{appended: map[string]int{}, conflicts: map[string]int{}}
}

func (f *fakeRecorder) VersionAppended(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended[reason]++
}

func (f *fakeRecorder) VersionConflict(outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conflicts[outcome]++
}

// ============================================================================
// FIXTURES
// ============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

var (
	unitHour  = costlib.Unit{ID: 1, Name: "Hour", Symbol: "h"}
	unitPiece = costlib.Unit{ID: 2, Name: "Piece", Symbol: "pc"}

	entryA = costlib.Entry{ID: 10, Name: "Upholstery", Category: "labor", Kind: costlib.KindLabor, Unit: unitHour, RatePerUnit: dec("100"), Active: true}
	entryB = costlib.Entry{ID: 11, Name: "Oak panel", Category: "wood", Kind: costlib.KindMaterial, Unit: unitPiece, RatePerUnit: dec("50"), Active: true}
	entryC = costlib.Entry{ID: 12, Name: "Walnut veneer", Category: "wood", Kind: costlib.KindMaterial, Unit: unitPiece, RatePerUnit: dec("80"), Active: false}
)

var designer = shared.Principal{UserID: 7, Role: shared.RoleDesigner}

// seedQuote inserts a draft quote with no versions.
func seedQuote(repo *memRepo, margin, tax string) Quote {
	q, _ := repo.CreateQuote(context.Background(), Quote{
		ProjectID:  100,
		QuoteType:  TypeFurniture,
		MarginRate: dec(margin),
		IVARate:    dec(tax),
		Status:     StatusDraft,
		CreatedBy:  designer.UserID,
	})
	return q
}

func scenarioItems() []LineInput {
	return []LineInput{
		{EntryID: entryA.ID, Quantity: dec("2")},
		{EntryID: entryB.ID, Quantity: dec("1")},
	}
}
