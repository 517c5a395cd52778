package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SettlementStore persists settled arbitrage results.
type SettlementStore interface {
	Create(ctx context.Context, s Settlement) error
	GetByID(ctx context.Context, id string) (Settlement, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]Settlement, error)
	ListBefore(ctx context.Context, before time.Time) ([]Settlement, error)
}

// AttemptStore persists one row per solve-and-execute call.
type AttemptStore interface {
	Record(ctx context.Context, a Attempt) error
	ListRecent(ctx context.Context, opts ListOpts) ([]Attempt, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// ConfigurationStore keeps the latest Configuration snapshot so a restart
// resumes with the operator's last settings.
type ConfigurationStore interface {
	Load(ctx context.Context) (Configuration, error)
	Save(ctx context.Context, cfg Configuration) error
}
