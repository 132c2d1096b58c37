package quotes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atelier-ops/atelier/internal/platform/httpx"
	"github.com/atelier-ops/atelier/internal/rbac"
	"github.com/atelier-ops/atelier/internal/shared"
)

const idempotencyScope = "quotes.create"

// Idempotency guards POST /quotes against replays.
type Idempotency interface {
	Claim(ctx context.Context, scope, key string) error
	Release(ctx context.Context, scope, key string) error
}

// Enqueuer schedules background recalculation after a rate change.
type Enqueuer interface {
	EnqueueRecalculate(ctx context.Context, quoteID, actorID int64) error
}

// Handler serves the quotation JSON API.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	rbac        rbac.Middleware
	validator   *validator.Validate
	idempotency Idempotency
	jobs        Enqueuer
}

// NewHandler constructs a Handler. idempotency and jobs may be nil.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, idempotency Idempotency, jobs Enqueuer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		service:     service,
		rbac:        rbac,
		validator:   validator.New(),
		idempotency: idempotency,
		jobs:        jobs,
	}
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	cur, err := h.service.GetCurrent(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"quotation":       newQuoteView(cur.Quote),
		"current_version": newOptionalVersionView(cur.Version),
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateQuoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.Claim(r.Context(), idempotencyScope, key); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.ProblemKind(w, http.StatusConflict, "Duplicate", "duplicate", "request with this Idempotency-Key was already processed")
				return
			}
			h.fail(w, err)
			return
		}
	}

	cur, err := h.service.Create(r.Context(), principal, req.input())
	if err != nil {
		if key != "" && h.idempotency != nil {
			if delErr := h.idempotency.Release(r.Context(), idempotencyScope, key); delErr != nil {
				h.logger.Error("release idempotency key", slog.Any("error", delErr))
			}
		}
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"quote":           newQuoteView(cur.Quote),
		"current_version": newOptionalVersionView(cur.Version),
	})
}

func (h *Handler) calculate(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.Preview(r.Context(), toLineInputs(req.Items), *req.MarginRate, *req.IVARate)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"quote_data": newResultView(res)})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req UpdateQuoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	q, err := h.service.Update(r.Context(), id, req.input())
	if err != nil {
		h.fail(w, err)
		return
	}

	body := map[string]any{"quotation": newQuoteView(q)}
	if recalc, _ := strconv.ParseBool(r.URL.Query().Get("recalculate")); recalc && req.changesRates() {
		body["recalculation_enqueued"] = h.enqueueRecalculate(r, q.ID)
	}
	httpx.JSON(w, http.StatusOK, body)
}

func (h *Handler) enqueueRecalculate(r *http.Request, quoteID int64) bool {
	if h.jobs == nil {
		return false
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	if err := h.jobs.EnqueueRecalculate(r.Context(), quoteID, principal.UserID); err != nil {
		h.logger.Error("enqueue quote recalculation", slog.Int64("quote_id", quoteID), slog.Any("error", err))
		return false
	}
	return true
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) recalculate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req RecalculateRequest
	if !h.decode(w, r, &req) {
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	v, err := h.service.Recalculate(r.Context(), principal, id, toLineInputs(req.Items), req.ChangesDescription)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"version": newVersionView(v)})
}

func (h *Handler) listVersions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	versions, err := h.service.ListVersions(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"versions": newVersionViews(versions)})
}

func (h *Handler) showVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	versionID, ok := h.pathID(w, r, "versionId")
	if !ok {
		return
	}
	v, err := h.service.GetVersion(r.Context(), id, versionID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"version": newVersionView(v)})
}

func (h *Handler) updateVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	versionID, ok := h.pathID(w, r, "versionId")
	if !ok {
		return
	}
	var req UpdateVersionRequest
	if !h.decode(w, r, &req) {
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	v, err := h.service.UpdateVersion(r.Context(), principal, id, versionID, VersionUpdate{
		IsFinal:            req.IsFinal,
		ChangesDescription: req.ChangesDescription,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"version": newVersionView(v)})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.ProblemKind(w, http.StatusBadRequest, "Validation Failed", string(KindValidation), "invalid "+param)
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.ProblemKind(w, http.StatusBadRequest, "Validation Failed", string(KindValidation), err.Error())
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
			}
			httpx.ProblemKind(w, http.StatusBadRequest, "Validation Failed", string(KindValidation), strings.Join(msgs, "; "))
			return false
		}
		httpx.ProblemKind(w, http.StatusBadRequest, "Validation Failed", string(KindValidation), err.Error())
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	kind := KindOf(err)
	switch kind {
	case KindNotFound:
		httpx.ProblemKind(w, http.StatusNotFound, "Not Found", string(kind), err.Error())
	case KindInvalidLineItem:
		httpx.ProblemKind(w, http.StatusBadRequest, "Invalid Line Item", string(kind), err.Error())
	case KindInvalidReference:
		httpx.ProblemKind(w, http.StatusBadRequest, "Invalid Reference", string(kind), err.Error())
	case KindValidation:
		httpx.ProblemKind(w, http.StatusBadRequest, "Validation Failed", string(kind), err.Error())
	case KindConflict:
		httpx.ProblemKind(w, http.StatusConflict, "Conflict", string(kind), err.Error())
	default:
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			h.logger.Error("quote request failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}
