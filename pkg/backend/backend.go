package backend

import (
	"context"
	"time"

	"github.com/is-app/dnsdesk/pkg/db"
	"github.com/is-app/dnsdesk/pkg/model"
)

type Backend interface {
	RequestCreate(ctx context.Context, ownerID, name, recordType, content string) (db.Record, error)
	Approve(ctx context.Context, adminID, name string, isAdmin bool) (db.Record, error)
	Delete(ctx context.Context, requesterID, name string, isAdmin bool) (db.Record, error)
	SweepStale(ctx context.Context, actor string, retention time.Duration) (SweepResult, error)
	RemindStale(ctx context.Context, actor string, age time.Duration) (model.ReminderResult, error)
	ListRecords(ctx context.Context, requesterID string, isAdmin bool) ([]db.Record, error)
	GetRecord(ctx context.Context, requesterID, name string, isAdmin bool) (db.Record, error)
	ListAudit(ctx context.Context, limit, offset int) ([]db.AuditEntry, error)
	FQDN(name string) string
	GetRootDomain() string
	Ready(ctx context.Context) error
}

type SweepResult struct {
	Cutoff  time.Time
	Deleted []db.Record
}
