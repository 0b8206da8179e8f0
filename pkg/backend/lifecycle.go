package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/is-app/dnsdesk/pkg/db"
	"github.com/is-app/dnsdesk/pkg/dnsprovider"
	"github.com/is-app/dnsdesk/pkg/model"
	"github.com/is-app/dnsdesk/pkg/notify"
	"github.com/sirupsen/logrus"
)

const (
	ActionCreate  = "create"
	ActionApprove = "approve"
	ActionDelete  = "delete"
	ActionSweep   = "sweep"
	ActionRemind  = "remind"
)

const timeFormat = "2006-01-02 15:04 MST"

type backend struct {
	baseDomain string

	db       db.Database
	provider dnsprovider.Provider
	notifier notify.Notifier
	now      func() time.Time
	log      *logrus.Entry
}

type Option func(*backend)

// WithClock replaces the clock used for retention cutoffs.
func WithClock(now func() time.Time) Option {
	return func(b *backend) {
		b.now = now
	}
}

func NewBackend(baseDomain string, database db.Database, provider dnsprovider.Provider, notifier notify.Notifier, opts ...Option) (Backend, error) {
	baseDomain = strings.Trim(strings.ToLower(strings.TrimSpace(baseDomain)), ".")
	if baseDomain == "" {
		return nil, fmt.Errorf("base domain must be provided")
	}
	if notifier == nil {
		notifier = notify.NewLog()
	}

	b := &backend{
		baseDomain: baseDomain,
		db:         database,
		provider:   provider,
		notifier:   notifier,
		now: func() time.Time {
			return time.Now().UTC()
		},
		log: logrus.WithField("component", "lifecycle"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *backend) GetRootDomain() string {
	return b.baseDomain
}

func (b *backend) FQDN(name string) string {
	return name + "." + b.baseDomain
}

func (b *backend) Ready(ctx context.Context) error {
	return b.db.Ping(ctx)
}

func (b *backend) RequestCreate(ctx context.Context, ownerID, name, recordType, content string) (db.Record, error) {
	name = model.NormalizeName(name)
	recordType = model.NormalizeType(recordType)
	content = model.NormalizeContent(content)

	if err := model.ValidateName(name, b.baseDomain); err != nil {
		return db.Record{}, err
	}
	if err := model.ValidateContent(recordType, content); err != nil {
		return db.Record{}, err
	}

	existing, err := b.db.FindActiveByNameAndOwner(ctx, name, ownerID)
	if err != nil {
		return db.Record{}, err
	}
	if existing != nil {
		return db.Record{}, model.ErrDuplicateActive
	}

	record := &db.Record{
		OwnerID: ownerID,
		Name:    name,
		Type:    recordType,
		Content: content,
	}
	if err := b.db.Insert(ctx, record); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return db.Record{}, model.ErrDuplicateActive
		}
		return db.Record{}, err
	}

	b.audit(ctx, ownerID, ActionCreate, *record, "")
	return *record, nil
}

// Approve materializes a pending record at the provider and only then marks it approved. If the
// store refuses the transition the provider record is removed again.
func (b *backend) Approve(ctx context.Context, adminID, name string, isAdmin bool) (db.Record, error) {
	if !isAdmin {
		return db.Record{}, model.ErrForbidden
	}

	record, err := b.db.FindByName(ctx, model.NormalizeName(name))
	if err != nil {
		return db.Record{}, err
	}
	if record == nil || record.Approved {
		return db.Record{}, model.ErrNotFound
	}

	fqdn := b.FQDN(record.Name)
	if err := b.provider.CreateRecord(ctx, record.Type, record.Content, fqdn); err != nil {
		return db.Record{}, asProviderError(err)
	}

	if err := b.db.Approve(ctx, record.Name); err != nil {
		if errors.Is(err, db.ErrNotFound) && b.approvedElsewhere(ctx, record.Name) {
			// A concurrent approval won. The provider record under fqdn is now the live one.
			b.log.WithField("fqdn", fqdn).Infof("record was approved concurrently, keeping provider record")
			return db.Record{}, model.ErrNotFound
		}
		b.rollbackProviderRecord(ctx, fqdn, err)
		return db.Record{}, err
	}
	record.Approved = true

	b.notify(ctx, record.OwnerID, fmt.Sprintf("Your DNS record %s (%s -> %s) has been approved and is now live.", fqdn, record.Type, record.Content))
	b.audit(ctx, adminID, ActionApprove, *record, "")
	return *record, nil
}

// approvedElsewhere reports whether name is now stored as approved. Only a confirmed approved
// row stops compensation; a failed read is treated as not approved.
func (b *backend) approvedElsewhere(ctx context.Context, name string) bool {
	current, err := b.db.FindByName(context.WithoutCancel(ctx), name)
	if err != nil {
		b.log.WithField("record", name).Warnf("unable to re-read record after rejected approval: %v", err)
		return false
	}
	return current != nil && current.Approved
}

func (b *backend) rollbackProviderRecord(ctx context.Context, fqdn string, cause error) {
	log := b.log.WithField("fqdn", fqdn)
	log.Warnf("store rejected approval, removing provider record: %v", cause)
	if err := b.provider.DeleteRecord(context.WithoutCancel(ctx), fqdn); err != nil {
		log.Errorf("failed to remove provider record after rejected approval, it must be removed by hand: %v", err)
	}
}

// Delete removes a record. Approved records are removed from the provider first and stay in the
// store if that fails.
func (b *backend) Delete(ctx context.Context, requesterID, name string, isAdmin bool) (db.Record, error) {
	record, err := b.db.FindByName(ctx, model.NormalizeName(name))
	if err != nil {
		return db.Record{}, err
	}
	if record == nil {
		return db.Record{}, model.ErrNotFound
	}
	if record.OwnerID != requesterID && !isAdmin {
		return db.Record{}, model.ErrForbidden
	}

	fqdn := b.FQDN(record.Name)
	if record.Approved {
		if err := b.provider.DeleteRecord(ctx, fqdn); err != nil {
			return db.Record{}, asProviderError(err)
		}
	}

	deleted, err := b.db.DeleteByName(ctx, record.Name, record.Approved)
	if err != nil {
		if record.Approved {
			b.log.WithField("fqdn", fqdn).Errorf("record removed from provider but not from store: %v", err)
		}
		return db.Record{}, err
	}

	if requesterID != deleted.OwnerID {
		b.notify(ctx, deleted.OwnerID, fmt.Sprintf("Your DNS record %s was deleted by an administrator.", fqdn))
	}
	b.audit(ctx, requesterID, ActionDelete, deleted, "")
	return deleted, nil
}

// SweepStale deletes pending records older than retention. Approved records are never touched
// and the provider is never called.
func (b *backend) SweepStale(ctx context.Context, actor string, retention time.Duration) (SweepResult, error) {
	cutoff := b.now().Add(-retention)
	deleted, err := b.db.DeleteStalePending(ctx, cutoff)
	if err != nil {
		return SweepResult{Cutoff: cutoff}, err
	}

	b.notifyOwners(ctx, deleted, func(r db.Record) string {
		return fmt.Sprintf("Your DNS record request %s was not approved within %s and has been removed. You can submit it again.",
			b.FQDN(r.Name), retention)
	})
	b.audit(ctx, actor, ActionSweep, db.Record{},
		fmt.Sprintf("deleted %d pending records created before %s", len(deleted), cutoff.Format(timeFormat)))

	return SweepResult{Cutoff: cutoff, Deleted: deleted}, nil
}

// RemindStale messages the owner of every pending record older than age.
func (b *backend) RemindStale(ctx context.Context, actor string, age time.Duration) (model.ReminderResult, error) {
	records, err := b.db.ListStalePending(ctx, b.now().Add(-age))
	if err != nil {
		return model.ReminderResult{}, err
	}

	sent, failed := b.notifyOwners(ctx, records, func(r db.Record) string {
		return fmt.Sprintf("Reminder: your DNS record %s has been pending approval since %s.",
			b.FQDN(r.Name), r.CreatedAt.UTC().Format(timeFormat))
	})
	b.audit(ctx, actor, ActionRemind, db.Record{},
		fmt.Sprintf("reminders sent: %d, failed: %d, pending: %d", sent, failed, len(records)))

	return model.ReminderResult{
		Sent:    sent,
		Failed:  failed,
		Pending: len(records),
	}, nil
}

func (b *backend) ListRecords(ctx context.Context, requesterID string, isAdmin bool) ([]db.Record, error) {
	if isAdmin {
		return b.db.ListAll(ctx)
	}
	return b.db.ListForOwner(ctx, requesterID)
}

// GetRecord hides records of other owners from non-admins behind ErrNotFound.
func (b *backend) GetRecord(ctx context.Context, requesterID, name string, isAdmin bool) (db.Record, error) {
	record, err := b.db.FindByName(ctx, model.NormalizeName(name))
	if err != nil {
		return db.Record{}, err
	}
	if record == nil || (record.OwnerID != requesterID && !isAdmin) {
		return db.Record{}, model.ErrNotFound
	}
	return *record, nil
}

func (b *backend) ListAudit(ctx context.Context, limit, offset int) ([]db.AuditEntry, error) {
	return b.db.ListAudit(ctx, limit, offset)
}

func (b *backend) notifyOwners(ctx context.Context, records []db.Record, message func(db.Record) string) (int, int) {
	var sent, failed int
	for _, r := range records {
		if err := b.notifier.Notify(ctx, r.OwnerID, message(r)); err != nil {
			b.log.WithField("user", r.OwnerID).Warnf("failed to notify owner of %s: %v", r.Name, err)
			failed++
			continue
		}
		sent++
	}
	return sent, failed
}

func (b *backend) notify(ctx context.Context, userID, message string) {
	if err := b.notifier.Notify(ctx, userID, message); err != nil {
		b.log.WithField("user", userID).Warnf("failed to send notification: %v", err)
	}
}

func (b *backend) audit(ctx context.Context, actor, action string, r db.Record, detail string) {
	b.log.WithFields(logrus.Fields{
		"actor":  actor,
		"action": action,
		"name":   r.Name,
		"type":   r.Type,
		"detail": detail,
	}).Infof("record %s", action)

	if err := b.db.LogAudit(ctx, db.AuditEntry{
		Actor:      actor,
		Action:     action,
		RecordName: r.Name,
		RecordType: r.Type,
		Content:    r.Content,
		Detail:     detail,
	}); err != nil {
		b.log.Warnf("failed to write audit entry for %s: %v", action, err)
	}
}

func asProviderError(err error) error {
	if model.IsProviderError(err) {
		return err
	}
	return &model.ProviderError{Message: err.Error()}
}
