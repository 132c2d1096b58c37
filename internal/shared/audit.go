package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog is one audit_logs row. Action is dotted, for example
// "quote.version.finalized"; EntityID is kept as text so any key fits.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditLogger appends to audit_logs.
type AuditLogger struct {
	db execer
}

// NewAuditLogger returns an AuditLogger writing through pool.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	if pool == nil {
		return &AuditLogger{}
	}
	return &AuditLogger{db: pool}
}

const insertAuditLog = `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)`

// Record persists entry. A zero At is stamped with the current UTC time.
func (l *AuditLogger) Record(ctx context.Context, entry AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if err := entry.validate(); err != nil {
		return err
	}
	meta := entry.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("audit meta: %w", err)
	}
	at := entry.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err = l.db.Exec(ctx, insertAuditLog, entry.ActorID, entry.Action, entry.Entity, entry.EntityID, metaJSON, at.UTC())
	return err
}

func (entry AuditLog) validate() error {
	switch {
	case entry.Action == "" || entry.Entity == "" || entry.EntityID == "":
		return errors.New("audit log requires action, entity and entity_id")
	case strings.ContainsAny(entry.Action, " \t\n"):
		return fmt.Errorf("audit action %q must not contain whitespace", entry.Action)
	}
	return nil
}
