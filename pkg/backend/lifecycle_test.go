package backend

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/is-app/dnsdesk/pkg/db"
	"github.com/is-app/dnsdesk/pkg/model"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testDomain = "is-app.top"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeProvider struct {
	mu        sync.Mutex
	records   map[string]string
	calls     int
	deletes   int
	createErr error
	deleteErr error
}

func (f *fakeProvider) CreateRecord(_ context.Context, recordType, content, fqdn string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.createErr != nil {
		return f.createErr
	}
	f.records[fqdn] = recordType + " " + content
	return nil
}

func (f *fakeProvider) DeleteRecord(_ context.Context, fqdn string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.deletes++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.records[fqdn]; !ok {
		return &model.ProviderError{Message: "record not found"}
	}
	delete(f.records, fqdn)
	return nil
}

func (f *fakeProvider) has(fqdn string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[fqdn]
	return ok
}

// gatedProvider holds every CreateRecord call until release is closed.
type gatedProvider struct {
	*fakeProvider
	entered chan struct{}
	release chan struct{}
}

func newGatedProvider(inner *fakeProvider, callers int) *gatedProvider {
	return &gatedProvider{
		fakeProvider: inner,
		entered:      make(chan struct{}, callers),
		release:      make(chan struct{}),
	}
}

func (g *gatedProvider) CreateRecord(ctx context.Context, recordType, content, fqdn string) error {
	g.entered <- struct{}{}
	<-g.release
	return g.fakeProvider.CreateRecord(ctx, recordType, content, fqdn)
}

type message struct {
	userID string
	text   string
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []message
	err      error
}

func (f *fakeNotifier) Notify(_ context.Context, userID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, message{userID: userID, text: text})
	return nil
}

type fixture struct {
	backend  Backend
	db       db.Database
	provider *fakeProvider
	notifier *fakeNotifier
	clock    *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", filepath.Join(t.TempDir(), "records.sqlite"))
	database, err := db.New(context.Background(), "sqlite", dsn, db.PoolOptions{MaxOpenConns: 4}, &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: clock.Now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})

	provider := &fakeProvider{records: map[string]string{}}
	notifier := &fakeNotifier{}
	b, err := NewBackend(testDomain, database, provider, notifier, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return &fixture{
		backend:  b,
		db:       database,
		provider: provider,
		notifier: notifier,
		clock:    clock,
	}
}

func TestRequestCreateRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.backend.RequestCreate(ctx, "u1", "  TeSt ", "a", " 192.168.1.1 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Approved {
		t.Fatal("new record must be pending")
	}

	found, err := f.db.FindByName(ctx, "test")
	if err != nil || found == nil {
		t.Fatalf("FindByName: %v, %v", found, err)
	}
	if found.Name != "test" || found.Type != "A" || found.Content != "192.168.1.1" || found.Approved {
		t.Fatalf("unexpected record: %+v", found)
	}
	if f.provider.calls != 0 {
		t.Fatalf("provider called %d times on create", f.provider.calls)
	}
}

func TestRequestCreateValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name       string
		recordName string
		recordType string
		content    string
	}{
		{name: "bad ipv4", recordName: "a", recordType: "A", content: "300.1.1.1"},
		{name: "unsupported type", recordName: "a", recordType: "TXT", content: "hi"},
		{name: "empty name", recordName: "  ", recordType: "A", content: "1.1.1.1"},
		{name: "base domain in name", recordName: "a.is-app.top", recordType: "A", content: "1.1.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.backend.RequestCreate(context.Background(), "u1", tt.recordName, tt.recordType, tt.content)
			if !model.IsValidationError(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRequestCreateDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.backend.RequestCreate(ctx, "u1", "test", "A", "1.1.1.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, owner := range []string{"u1", "u2"} {
		if _, err := f.backend.RequestCreate(ctx, owner, "TEST", "A", "1.1.1.1"); !errors.Is(err, model.ErrDuplicateActive) {
			t.Fatalf("owner %s: expected ErrDuplicateActive, got %v", owner, err)
		}
	}
}

func TestConcurrentCreateDifferentOwners(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.backend.RequestCreate(context.Background(), fmt.Sprintf("u%d", i), "race", "A", "1.1.1.1")
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, model.ErrDuplicateActive):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != 1 {
		t.Fatalf("got %d successes and %d duplicates", ok, dup)
	}
}

func TestApproveDeleteScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fqdn := "test." + testDomain

	if _, err := f.backend.RequestCreate(ctx, "owner", "test", "A", "192.168.1.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := f.backend.Approve(ctx, "someone", "test", false); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("non-admin approve: expected ErrForbidden, got %v", err)
	}

	approved, err := f.backend.Approve(ctx, "admin", "test", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !approved.Approved || !f.provider.has(fqdn) {
		t.Fatalf("expected approved record at provider, got %+v", approved)
	}
	if len(f.notifier.messages) != 1 || f.notifier.messages[0].userID != "owner" {
		t.Fatalf("expected owner notification, got %+v", f.notifier.messages)
	}

	if _, err := f.backend.Approve(ctx, "admin", "test", true); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("double approve: expected ErrNotFound, got %v", err)
	}

	if _, err := f.backend.Delete(ctx, "stranger", "test", false); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	if _, err := f.backend.Delete(ctx, "owner", "test", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.provider.has(fqdn) {
		t.Fatal("record still at provider")
	}
	if _, err := f.backend.GetRecord(ctx, "owner", "test", false); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := f.backend.Delete(ctx, "owner", "test", false); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApproveProviderFailureLeavesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.createErr = errors.New("boom")

	if _, err := f.backend.RequestCreate(ctx, "owner", "test", "A", "1.1.1.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := f.backend.Approve(ctx, "admin", "test", true)
	if !model.IsProviderError(err) {
		t.Fatalf("expected ProviderError, got %v", err)
	}

	r, _ := f.db.FindByName(ctx, "test")
	if r == nil || r.Approved {
		t.Fatalf("record should still be pending: %+v", r)
	}
	if len(f.notifier.messages) != 0 {
		t.Fatalf("unexpected notifications: %+v", f.notifier.messages)
	}
}

func TestApproveMissing(t *testing.T) {
	f := newFixture(t)
	if _, err := f.backend.Approve(context.Background(), "admin", "missing", true); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if f.provider.calls != 0 {
		t.Fatalf("provider called %d times", f.provider.calls)
	}
}

func TestConcurrentApproveKeepsWinnerRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fqdn := "test." + testDomain

	if _, err := f.backend.RequestCreate(ctx, "owner", "test", "A", "1.1.1.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	gated := newGatedProvider(f.provider, 2)
	b, err := NewBackend(testDomain, f.db, gated, f.notifier, WithClock(f.clock.Now))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = b.Approve(ctx, fmt.Sprintf("admin%d", i), "test", true)
		}(i)
	}
	<-gated.entered
	<-gated.entered
	close(gated.release)
	wg.Wait()

	var ok, notFound int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, model.ErrNotFound):
			notFound++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || notFound != 1 {
		t.Fatalf("got %d approvals and %d not found", ok, notFound)
	}

	r, _ := f.db.FindByName(ctx, "test")
	if r == nil || !r.Approved {
		t.Fatalf("expected approved record, got %+v", r)
	}
	if !f.provider.has(fqdn) {
		t.Fatal("winning approval lost its provider record")
	}
	if f.provider.deletes != 0 {
		t.Fatalf("provider delete called %d times", f.provider.deletes)
	}
}

func TestApproveRacingDeleteRemovesProviderRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fqdn := "test." + testDomain

	if _, err := f.backend.RequestCreate(ctx, "owner", "test", "A", "1.1.1.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	gated := newGatedProvider(f.provider, 1)
	b, err := NewBackend(testDomain, f.db, gated, f.notifier, WithClock(f.clock.Now))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan error)
	go func() {
		_, err := b.Approve(ctx, "admin", "test", true)
		done <- err
	}()
	<-gated.entered

	if _, err := b.Delete(ctx, "owner", "test", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(gated.release)

	if err := <-done; !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if f.provider.has(fqdn) {
		t.Fatal("provider record left behind for a deleted record")
	}
	if f.provider.deletes != 1 {
		t.Fatalf("provider delete called %d times, want 1", f.provider.deletes)
	}
	if r, _ := f.db.FindByName(ctx, "test"); r != nil {
		t.Fatalf("record should be gone: %+v", r)
	}
}

func TestApproveSurvivesNotifierFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.notifier.err = errors.New("dm closed")

	if _, err := f.backend.RequestCreate(ctx, "owner", "test", "A", "1.1.1.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.backend.Approve(ctx, "admin", "test", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, _ := f.db.FindByName(ctx, "test")
	if r == nil || !r.Approved {
		t.Fatalf("expected approved record, got %+v", r)
	}
}

func TestDeleteApprovedProviderFailureKeepsRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.backend.RequestCreate(ctx, "owner", "test", "A", "1.1.1.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.backend.Approve(ctx, "admin", "test", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.provider.deleteErr = &model.ProviderError{Message: "rate limited"}
	_, err := f.backend.Delete(ctx, "owner", "test", false)
	var perr *model.ProviderError
	if !errors.As(err, &perr) || perr.Message != "rate limited" {
		t.Fatalf("expected provider error, got %v", err)
	}

	r, _ := f.db.FindByName(ctx, "test")
	if r == nil || !r.Approved {
		t.Fatalf("record should remain approved: %+v", r)
	}
}

func TestDeletePendingSkipsProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.backend.RequestCreate(ctx, "owner", "test", "A", "1.1.1.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	deleted, err := f.backend.Delete(ctx, "admin", "test", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted.Name != "test" || deleted.Approved {
		t.Fatalf("unexpected deleted record: %+v", deleted)
	}
	if f.provider.calls != 0 {
		t.Fatalf("provider called %d times", f.provider.calls)
	}
	if len(f.notifier.messages) != 1 || f.notifier.messages[0].userID != "owner" {
		t.Fatalf("expected owner to be told about admin delete, got %+v", f.notifier.messages)
	}
}

func TestSweepStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, name := range []string{"old-pending", "old-approved"} {
		if _, err := f.backend.RequestCreate(ctx, "owner", name, "A", "1.1.1.1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if _, err := f.backend.Approve(ctx, "admin", "old-approved", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	callsBefore := f.provider.calls

	f.clock.Advance(8 * 24 * time.Hour)
	if _, err := f.backend.RequestCreate(ctx, "owner", "fresh", "A", "1.1.1.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := f.backend.SweepStale(ctx, "admin", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Deleted) != 1 || result.Deleted[0].Name != "old-pending" {
		t.Fatalf("unexpected sweep result: %+v", result.Deleted)
	}
	if !result.Cutoff.Equal(f.clock.Now().Add(-7 * 24 * time.Hour)) {
		t.Fatalf("cutoff = %v", result.Cutoff)
	}
	if f.provider.calls != callsBefore {
		t.Fatal("sweep must not call the provider")
	}

	for _, name := range []string{"old-approved", "fresh"} {
		if r, _ := f.db.FindByName(ctx, name); r == nil {
			t.Fatalf("%s should survive the sweep", name)
		}
	}
	if r, _ := f.db.FindByName(ctx, "old-pending"); r != nil {
		t.Fatal("old-pending should be swept")
	}
}

func TestSweepKeepsRecordCreatedAtCutoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	retention := 7 * 24 * time.Hour

	if _, err := f.backend.RequestCreate(ctx, "owner", "edge", "A", "1.1.1.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.clock.Advance(retention)

	result, err := f.backend.SweepStale(ctx, "admin", retention)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Deleted) != 0 {
		t.Fatalf("record exactly at the cutoff was swept: %+v", result.Deleted)
	}
	if r, _ := f.db.FindByName(ctx, "edge"); r == nil {
		t.Fatal("edge should survive the sweep")
	}

	f.clock.Advance(time.Second)
	result, err = f.backend.SweepStale(ctx, "admin", retention)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Deleted) != 1 || result.Deleted[0].Name != "edge" {
		t.Fatalf("unexpected sweep result: %+v", result.Deleted)
	}
}

func TestRemindStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, owner := range []string{"u1", "u2"} {
		if _, err := f.backend.RequestCreate(ctx, owner, "old-"+owner, "A", "1.1.1.1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	f.clock.Advance(4 * 24 * time.Hour)
	if _, err := f.backend.RequestCreate(ctx, "u3", "new", "A", "1.1.1.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := f.backend.RemindStale(ctx, "admin", 3*24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Sent != 2 || result.Failed != 0 || result.Pending != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}

	f.notifier.err = errors.New("dm closed")
	result, err = f.backend.RemindStale(ctx, "admin", 3*24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Sent != 0 || result.Failed != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestListRecordsAndAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, owner := range []string{"u1", "u2", "u1"} {
		if _, err := f.backend.RequestCreate(ctx, owner, fmt.Sprintf("r%d", i), "A", "1.1.1.1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		f.clock.Advance(time.Second)
	}

	mine, err := f.backend.ListRecords(ctx, "u1", false)
	if err != nil || len(mine) != 2 {
		t.Fatalf("ListRecords(u1) = %d records, %v", len(mine), err)
	}
	all, err := f.backend.ListRecords(ctx, "u1", true)
	if err != nil || len(all) != 3 {
		t.Fatalf("ListRecords(admin) = %d records, %v", len(all), err)
	}

	if _, err := f.backend.GetRecord(ctx, "u2", "r0", false); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("other owner's record should be hidden, got %v", err)
	}
	if _, err := f.backend.GetRecord(ctx, "u2", "r0", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, err := f.backend.ListAudit(ctx, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 3 || entries[0].Action != ActionCreate || entries[0].RecordName != "r2" {
		t.Fatalf("unexpected audit entries: %+v", entries)
	}
}

func TestFQDN(t *testing.T) {
	f := newFixture(t)
	if got := f.backend.FQDN("test"); got != "test.is-app.top" {
		t.Fatalf("FQDN = %q", got)
	}
	if _, err := NewBackend(" ", f.db, f.provider, nil); err == nil {
		t.Fatal("expected error for empty base domain")
	}
}
