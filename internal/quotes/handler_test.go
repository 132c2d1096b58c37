package quotes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelier-ops/atelier/internal/platform/httpx"
	"github.com/atelier-ops/atelier/internal/rbac"
	"github.com/atelier-ops/atelier/internal/shared"
)

// ============================================================================
// HARNESS
// ============================================================================

type fakeIdempotency struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (f *fakeIdempotency) Claim(ctx context.Context, scope, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[scope+":"+key] {
		return shared.ErrIdempotencyConflict
	}
	f.seen[scope+":"+key] = true
	return nil
}

func (f *fakeIdempotency) Release(ctx context.Context, scope, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen, scope+":"+key)
	return nil
}

type fakeEnqueuer struct {
	quoteIDs []int64
}

func (f *fakeEnqueuer) EnqueueRecalculate(ctx context.Context, quoteID, actorID int64) error {
	f.quoteIDs = append(f.quoteIDs, quoteID)
	return nil
}

type harness struct {
	t      *testing.T
	repo   *memRepo
	svc    *Service
	router chi.Router
	idem   *fakeIdempotency
	jobs   *fakeEnqueuer
}

// asPrincipal stands in for the auth middleware: it reads X-Test-Role.
func asPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if role := r.Header.Get("X-Test-Role"); role != "" {
			r = r.WithContext(shared.ContextWithPrincipal(r.Context(), shared.Principal{UserID: 7, Role: role}))
		}
		next.ServeHTTP(w, r)
	})
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := newMemRepo()
	svc := NewService(repo, newFakeCatalog(entryA, entryB, entryC), Options{})
	h := &harness{t: t, repo: repo, svc: svc, idem: &fakeIdempotency{}, jobs: &fakeEnqueuer{}}
	handler := NewHandler(nil, svc, rbac.Middleware{}, h.idem, h.jobs)

	r := chi.NewRouter()
	r.Use(asPrincipal)
	r.Route("/quotes", handler.MountRoutes)
	h.router = r
	return h
}

func (h *harness) do(method, path, role, body string, headers ...string) *httptest.ResponseRecorder {
	h.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("X-Test-Role", role)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(bytes.NewReader(rr.Body.Bytes())).Decode(target))
}

func problemOf(t *testing.T, rr *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var p httpx.ProblemDetail
	decodeBody(t, rr, &p)
	return p
}

const createBody = `{
	"project_id": 100,
	"quote_type": "furniture",
	"quote_data": {
		"items": [
			{"entry_id": 10, "quantity": "2"},
			{"entry_id": 11, "quantity": 1}
		],
		"margin_rate": "0.20",
		"iva_rate": "0.16"
	},
	"total_amount": "348.00"
}`

type createResponse struct {
	Quote          quoteView    `json:"quote"`
	CurrentVersion *versionView `json:"current_version"`
}

func (h *harness) create() createResponse {
	h.t.Helper()
	rr := h.do(http.MethodPost, "/quotes", shared.RoleDesigner, createBody)
	require.Equal(h.t, http.StatusCreated, rr.Code, rr.Body.String())
	var out createResponse
	decodeBody(h.t, rr, &out)
	return out
}

func quotePath(id int64, rest ...string) string {
	return "/quotes/" + strconv.FormatInt(id, 10) + strings.Join(rest, "")
}

// ============================================================================
// TESTS
// ============================================================================

func TestCreateQuoteEndpoint(t *testing.T) {
	h := newHarness(t)
	out := h.create()

	assert.Equal(t, StatusDraft, out.Quote.Status)
	require.NotNil(t, out.CurrentVersion)
	assert.Equal(t, 1, out.CurrentVersion.VersionNumber)
	assert.Equal(t, "250.00", out.CurrentVersion.Subtotal)
	assert.Equal(t, "50.00", out.CurrentVersion.MarginAmount)
	assert.Equal(t, "48.00", out.CurrentVersion.TaxAmount)
	assert.Equal(t, "348.00", out.CurrentVersion.TotalAmount)
	assert.Equal(t, "200.00", out.CurrentVersion.LineItems[0].ExtendedCost)
}

func TestCreateQuoteValidation(t *testing.T) {
	h := newHarness(t)

	rr := h.do(http.MethodPost, "/quotes", shared.RoleDesigner, `{"project_id": 1}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	assert.Equal(t, string(KindValidation), problemOf(t, rr).Kind)

	rr = h.do(http.MethodPost, "/quotes", shared.RoleDesigner, strings.Replace(createBody, `"348.00"`, `"300"`, 1))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = h.do(http.MethodPost, "/quotes", shared.RoleDesigner, strings.Replace(createBody, `"entry_id": 11`, `"entry_id": 99`, 1))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(KindInvalidLineItem), problemOf(t, rr).Kind)

	rr = h.do(http.MethodPost, "/quotes", shared.RoleDesigner, ``)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateQuoteIdempotencyKey(t *testing.T) {
	h := newHarness(t)

	rr := h.do(http.MethodPost, "/quotes", shared.RoleDesigner, createBody, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = h.do(http.MethodPost, "/quotes", shared.RoleDesigner, createBody, "Idempotency-Key", "abc")
	assert.Equal(t, http.StatusConflict, rr.Code)

	bad := strings.Replace(createBody, `"348.00"`, `"1"`, 1)
	rr = h.do(http.MethodPost, "/quotes", shared.RoleDesigner, bad, "Idempotency-Key", "def")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr = h.do(http.MethodPost, "/quotes", shared.RoleDesigner, createBody, "Idempotency-Key", "def")
	assert.Equal(t, http.StatusCreated, rr.Code, "failed requests release their key")
}

func TestAuthorization(t *testing.T) {
	h := newHarness(t)
	out := h.create()

	rr := h.do(http.MethodGet, quotePath(out.Quote.ID), "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = h.do(http.MethodGet, quotePath(out.Quote.ID), shared.RoleViewer, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = h.do(http.MethodPut, quotePath(out.Quote.ID), shared.RoleViewer, `{"margin_rate":"0.3"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = h.do(http.MethodPost, "/quotes", "", createBody)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = h.do(http.MethodPut, quotePath(out.Quote.ID), shared.RoleAdmin, `{"margin_rate":"0.3"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestShowQuote(t *testing.T) {
	h := newHarness(t)
	out := h.create()

	rr := h.do(http.MethodGet, quotePath(out.Quote.ID), shared.RoleViewer, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Quotation      quoteView    `json:"quotation"`
		CurrentVersion *versionView `json:"current_version"`
	}
	decodeBody(t, rr, &body)
	assert.Equal(t, out.Quote.ID, body.Quotation.ID)
	require.NotNil(t, body.CurrentVersion)
	assert.Equal(t, "348.00", body.CurrentVersion.TotalAmount)

	rr = h.do(http.MethodGet, quotePath(999), shared.RoleViewer, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, string(KindNotFound), problemOf(t, rr).Kind)

	rr = h.do(http.MethodGet, "/quotes/abc", shared.RoleViewer, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUpdateQuoteEndpoint(t *testing.T) {
	h := newHarness(t)
	out := h.create()

	rr := h.do(http.MethodPut, quotePath(out.Quote.ID, "?recalculate=true"), shared.RoleDesigner,
		`{"iva_rate":"0.08","status":"sent","notes":"first draft sent"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var body struct {
		Quotation quoteView `json:"quotation"`
		Enqueued  bool      `json:"recalculation_enqueued"`
	}
	decodeBody(t, rr, &body)
	assert.Equal(t, "0.08", body.Quotation.IVARate)
	assert.Equal(t, StatusSent, body.Quotation.Status)
	assert.True(t, body.Enqueued)
	assert.Equal(t, []int64{out.Quote.ID}, h.jobs.quoteIDs)

	rr = h.do(http.MethodPut, quotePath(out.Quote.ID), shared.RoleDesigner, `{"status":"archived"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = h.do(http.MethodPut, quotePath(out.Quote.ID), shared.RoleDesigner, `{"iva_rate":"1.2"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = h.do(http.MethodPut, quotePath(999), shared.RoleDesigner, `{"iva_rate":"0.1"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = h.do(http.MethodPut, quotePath(out.Quote.ID), shared.RoleDesigner, `{"unknown":true}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRecalculateAndVersionsEndpoints(t *testing.T) {
	h := newHarness(t)
	out := h.create()

	rr := h.do(http.MethodPost, quotePath(out.Quote.ID, "/recalculate"), shared.RoleDesigner,
		`{"items":[{"entry_id":10,"quantity":"1","rate_override":"80"}],"changes_description":"trimmed"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var recalculated struct {
		Version versionView `json:"version"`
	}
	decodeBody(t, rr, &recalculated)
	assert.Equal(t, 2, recalculated.Version.VersionNumber)
	assert.Equal(t, "80.00", recalculated.Version.Subtotal)
	assert.True(t, recalculated.Version.LineItems[0].RateOverridden)

	rr = h.do(http.MethodGet, quotePath(out.Quote.ID, "/versions"), shared.RoleViewer, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Versions []versionView `json:"versions"`
	}
	decodeBody(t, rr, &list)
	require.Len(t, list.Versions, 2)
	assert.Equal(t, 1, list.Versions[0].VersionNumber)
	assert.Equal(t, 2, list.Versions[1].VersionNumber)

	rr = h.do(http.MethodPost, quotePath(out.Quote.ID, "/recalculate"), shared.RoleDesigner,
		`{"items":[{"entry_id":10,"quantity":"0"}]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(KindInvalidLineItem), problemOf(t, rr).Kind)
}

func TestVersionEndpoints(t *testing.T) {
	h := newHarness(t)
	first := h.create()
	other := h.create()
	v1 := first.CurrentVersion.ID

	rr := h.do(http.MethodGet, quotePath(first.Quote.ID, "/versions/", strconv.FormatInt(v1, 10)), shared.RoleViewer, "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = h.do(http.MethodGet, quotePath(other.Quote.ID, "/versions/", strconv.FormatInt(v1, 10)), shared.RoleViewer, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(KindInvalidReference), problemOf(t, rr).Kind)

	rr = h.do(http.MethodGet, quotePath(first.Quote.ID, "/versions/999"), shared.RoleViewer, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = h.do(http.MethodPut, quotePath(first.Quote.ID, "/versions/", strconv.FormatInt(v1, 10)), shared.RoleDesigner, `{"is_final":true}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var finalized struct {
		Version versionView `json:"version"`
	}
	decodeBody(t, rr, &finalized)
	assert.True(t, finalized.Version.IsFinal)
	assert.Equal(t, 2, finalized.Version.VersionNumber)

	finalPath := quotePath(first.Quote.ID, "/versions/", strconv.FormatInt(finalized.Version.ID, 10))
	rr = h.do(http.MethodPut, finalPath, shared.RoleDesigner, `{"is_final":true}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var again struct {
		Version versionView `json:"version"`
	}
	decodeBody(t, rr, &again)
	assert.Equal(t, finalized.Version.ID, again.Version.ID)

	rr = h.do(http.MethodPut, quotePath(first.Quote.ID, "/versions/", strconv.FormatInt(v1, 10)), shared.RoleDesigner, `{"is_final":true}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, string(KindConflict), problemOf(t, rr).Kind)

	rr = h.do(http.MethodPut, finalPath, shared.RoleDesigner, `{"is_final":false}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = h.do(http.MethodPut, finalPath, shared.RoleDesigner, `{"changes_description":"rewrite history"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestCalculateEndpoint(t *testing.T) {
	h := newHarness(t)

	rr := h.do(http.MethodPost, "/quotes/calculate", shared.RoleViewer,
		`{"items":[{"entry_id":10,"quantity":"2"},{"entry_id":11,"quantity":"1"}],"margin_rate":"0.20","iva_rate":"0.16"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var body struct {
		QuoteData resultView `json:"quote_data"`
	}
	decodeBody(t, rr, &body)
	assert.Equal(t, "348.00", body.QuoteData.TotalAmount)
	assert.Len(t, body.QuoteData.Items, 2)

	rr = h.do(http.MethodPost, "/quotes/calculate", shared.RoleViewer, `{"items":[]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = h.do(http.MethodPost, "/quotes/calculate", shared.RoleViewer, `{"items":[],"margin_rate":"0.2","iva_rate":"0.16"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeBody(t, rr, &body)
	assert.Equal(t, "0.00", body.QuoteData.TotalAmount)
}

func TestDeleteEndpoint(t *testing.T) {
	h := newHarness(t)
	out := h.create()

	rr := h.do(http.MethodDelete, quotePath(out.Quote.ID), shared.RoleViewer, "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = h.do(http.MethodDelete, quotePath(out.Quote.ID), shared.RoleAdmin, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = h.do(http.MethodGet, quotePath(out.Quote.ID), shared.RoleViewer, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
