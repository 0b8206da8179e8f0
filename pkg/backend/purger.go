package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/is-app/dnsdesk/pkg/lease"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"
)

const (
	DefaultPurgeInterval = 24 * time.Hour
	DefaultRetention     = 7 * 24 * time.Hour
	DefaultReminderAge   = 3 * 24 * time.Hour

	sweeperActor = "retention-sweeper"
)

var ErrSweepInProgress = errors.New("a sweep is already running")

// Purger periodically removes stale pending records. At most one sweep runs at a time; a
// trigger that arrives during a sweep is dropped.
type Purger struct {
	backend   Backend
	lease     lease.Lease
	interval  time.Duration
	retention time.Duration
}

// NewPurger creates a Purger. distributed may be nil; when set it is held in addition to the
// in-process guard so replicas do not sweep concurrently.
func NewPurger(b Backend, interval, retention time.Duration, distributed lease.Lease) *Purger {
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}
	if retention <= 0 {
		retention = DefaultRetention
	}

	l := lease.NewLocal()
	if distributed != nil {
		l = lease.Chain(l, distributed)
	}

	return &Purger{
		backend:   b,
		lease:     l,
		interval:  interval,
		retention: retention,
	}
}

func (p *Purger) Retention() time.Duration {
	return p.retention
}

// Start runs sweeps until ctx is done.
func (p *Purger) Start(ctx context.Context) {
	logrus.Infof("starting purge daemon. Purge interval: %v, pending record retention: %v", p.interval, p.retention)
	wait.JitterUntilWithContext(ctx, p.purge, p.interval, .002, true)
}

func (p *Purger) purge(ctx context.Context) {
	logrus.Infof("Beginning purge ☠️")

	result, err := p.TrySweep(ctx, sweeperActor)
	if errors.Is(err, ErrSweepInProgress) {
		logrus.Infof("Skipping purge: %v", err)
		return
	}
	if err != nil {
		logrus.Errorf("problem purging stale pending records: %v", err)
		return
	}
	logrus.Infof("Pending records purged from DB: %v", len(result.Deleted))
}

// TrySweep runs one sweep now unless another is in flight, in which case it returns
// ErrSweepInProgress without waiting.
func (p *Purger) TrySweep(ctx context.Context, actor string) (SweepResult, error) {
	release, ok, err := p.lease.TryAcquire(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("failed to acquire sweep lease: %w", err)
	}
	if !ok {
		return SweepResult{}, ErrSweepInProgress
	}
	defer release()

	return p.backend.SweepStale(ctx, actor, p.retention)
}
