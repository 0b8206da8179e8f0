package lease

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/rueidis"
	"github.com/sirupsen/logrus"
)

// Lease grants exclusive permission to run a job. TryAcquire never waits: ok is false when
// another holder has the lease, and the caller is expected to skip its run.
type Lease interface {
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

type local struct {
	held atomic.Bool
}

// NewLocal returns a Lease held by at most one goroutine of this process at a time.
func NewLocal() Lease {
	return &local{}
}

func (l *local) TryAcquire(context.Context) (func(), bool, error) {
	if !l.held.CompareAndSwap(false, true) {
		return nil, false, nil
	}
	return func() { l.held.Store(false) }, true, nil
}

// DefaultTTL is used by NewRedis when no positive ttl is given.
const DefaultTTL = 15 * time.Minute

// releaseLua deletes the key only if it still holds our token, so an expired lease that was
// taken over by another replica is left alone.
const releaseLua = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`

var releaseScript = rueidis.NewLuaScript(releaseLua)

type redisLease struct {
	client   rueidis.Client
	key      string
	ttl      time.Duration
	newToken func() string
}

// NewRedis returns a Lease shared by every replica using the same redis key. The ttl bounds how
// long a crashed holder can block others.
func NewRedis(client rueidis.Client, key string, ttl time.Duration) Lease {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &redisLease{
		client:   client,
		key:      key,
		ttl:      ttl,
		newToken: uuid.NewString,
	}
}

func (r *redisLease) TryAcquire(ctx context.Context) (func(), bool, error) {
	token := r.newToken()
	err := r.client.Do(ctx, r.client.B().Set().Key(r.key).Value(token).Nx().PxMilliseconds(r.ttl.Milliseconds()).Build()).Error()
	if rueidis.IsRedisNil(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return func() {
		if err := releaseScript.Exec(context.Background(), r.client, []string{r.key}, []string{token}).Error(); err != nil {
			logrus.Warnf("failed to release lease %s: %v", r.key, err)
		}
	}, true, nil
}

// Chain acquires every lease in order and releases them in reverse. It fails fast on the first
// lease that is held elsewhere.
func Chain(leases ...Lease) Lease {
	return chain(leases)
}

type chain []Lease

func (c chain) TryAcquire(ctx context.Context) (func(), bool, error) {
	var releases []func()
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, l := range c {
		release, ok, err := l.TryAcquire(ctx)
		if err != nil || !ok {
			releaseAll()
			return nil, false, err
		}
		releases = append(releases, release)
	}
	return releaseAll, true, nil
}
