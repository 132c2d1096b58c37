package audithttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/atelier-ops/atelier/internal/audit"
	"github.com/atelier-ops/atelier/internal/platform/httpx"
)

const maxDateRange = 366 * 24 * time.Hour

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
	Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error)
}

// Handler serves the audit timeline.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
}

// NewHandler builds an audit Handler.
func NewHandler(logger *slog.Logger, service TimelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		h.handleFilterError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.handleServerError(w, "load audit timeline", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		h.handleFilterError(w, err)
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.handleServerError(w, "export audit timeline", err)
		return
	}
	csvBytes, err := audit.WriteCSV(rows)
	if err != nil {
		h.handleServerError(w, "encode csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-timeline.csv\"")
	if _, err := w.Write(csvBytes); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

type validationError struct {
	field string
}

func (e validationError) Error() string {
	return "invalid " + e.field
}

func parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	q := r.URL.Query()
	filters := audit.TimelineFilters{
		Entity:   q.Get("entity"),
		EntityID: q.Get("entity_id"),
		Action:   q.Get("action"),
	}

	var err error
	if filters.From, err = parseDate(q.Get("from")); err != nil {
		return audit.TimelineFilters{}, validationError{field: "from"}
	}
	if filters.To, err = parseDate(q.Get("to")); err != nil {
		return audit.TimelineFilters{}, validationError{field: "to"}
	}
	if !filters.To.IsZero() {
		// "to" is inclusive of the whole day.
		filters.To = filters.To.Add(24 * time.Hour)
	}
	if !filters.From.IsZero() && !filters.To.IsZero() {
		if !filters.From.Before(filters.To) || filters.To.Sub(filters.From) > maxDateRange {
			return audit.TimelineFilters{}, validationError{field: "range"}
		}
	}

	if filters.ActorID, err = parseInt(q.Get("actor_id")); err != nil {
		return audit.TimelineFilters{}, validationError{field: "actor_id"}
	}
	page, err := parseInt(q.Get("page"))
	if err != nil {
		return audit.TimelineFilters{}, validationError{field: "page"}
	}
	size, err := parseInt(q.Get("page_size"))
	if err != nil {
		return audit.TimelineFilters{}, validationError{field: "page_size"}
	}
	filters.Page, filters.PageSize = int(page), int(size)
	return filters, nil
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", raw)
}

func parseInt(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, errors.New("not a non-negative integer")
	}
	return v, nil
}

func (h *Handler) handleFilterError(w http.ResponseWriter, err error) {
	var vErr validationError
	if errors.As(err, &vErr) {
		httpx.ProblemKind(w, http.StatusBadRequest, "Bad Request", "validation", vErr.Error())
		return
	}
	httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
}

func (h *Handler) handleServerError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, slog.Any("error", err))
	httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "unexpected error")
}
