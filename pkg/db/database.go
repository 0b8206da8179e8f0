package db

import (
	"context"
	"errors"
	"time"

	"github.com/is-app/dnsdesk/pkg/model"
)

var (
	ErrNotFound         = model.ErrNotFound
	ErrStoreUnavailable = model.ErrStoreUnavailable
	ErrConflict         = errors.New("record name already in use")
)

type Database interface {
	FindActiveByNameAndOwner(ctx context.Context, name, ownerID string) (*Record, error)
	FindByName(ctx context.Context, name string) (*Record, error)
	Insert(ctx context.Context, record *Record) error
	Approve(ctx context.Context, name string) error
	DeleteByName(ctx context.Context, name string, approved bool) (Record, error)
	ListForOwner(ctx context.Context, ownerID string) ([]Record, error)
	ListAll(ctx context.Context) ([]Record, error)
	DeleteStalePending(ctx context.Context, cutoff time.Time) ([]Record, error)
	ListStalePending(ctx context.Context, cutoff time.Time) ([]Record, error)
	LogAudit(ctx context.Context, entry AuditEntry) error
	ListAudit(ctx context.Context, limit, offset int) ([]AuditEntry, error)
	Ping(ctx context.Context) error
	Close() error
}
