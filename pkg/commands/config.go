package commands

import (
	"context"
	"fmt"
	"sync"

	"github.com/is-app/dnsdesk/pkg/backend"
	"github.com/is-app/dnsdesk/pkg/db"
	"github.com/is-app/dnsdesk/pkg/dnsprovider"
	"github.com/is-app/dnsdesk/pkg/lease"
	"github.com/is-app/dnsdesk/pkg/notify"
	"github.com/rancher/wrangler/pkg/signals"
	"github.com/redis/rueidis"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
	"gorm.io/gorm"
)

func databaseFlags() []cli.Flag {
	return []cli.Flag{
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "sql-dialect",
			Usage:   "The type of sql to use: sqlite, mysql or postgres",
			EnvVars: []string{"DNSDESK_SQL_DIALECT", "SQL_DIALECT"},
			Value:   "sqlite",
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "sql-dsn",
			Usage:   "The DSN to use to connect to",
			EnvVars: []string{"DNSDESK_SQL_DSN", "SQL_DSN"},
			Value:   "file:dnsdesk.sqlite?_pragma=busy_timeout(5000)",
		}),
		altsrc.NewIntFlag(&cli.IntFlag{
			Name:    "sql-max-open-conns",
			Usage:   "Maximum number of open database connections",
			EnvVars: []string{"DNSDESK_SQL_MAX_OPEN_CONNS"},
			Value:   5,
		}),
		altsrc.NewIntFlag(&cli.IntFlag{
			Name:    "sql-max-idle-conns",
			Usage:   "Maximum number of idle database connections",
			EnvVars: []string{"DNSDESK_SQL_MAX_IDLE_CONNS"},
			Value:   5,
		}),
	}
}

func domainFlags() []cli.Flag {
	return []cli.Flag{
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "base-domain",
			Usage:   "The zone records are created under, e.g. is-app.top",
			EnvVars: []string{"DNSDESK_BASE_DOMAIN", "BASE_DOMAIN"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "cf-api-url",
			Usage:   "Cloudflare API base URL",
			EnvVars: []string{"DNSDESK_CF_API_URL", "CF_API_URL"},
			Value:   dnsprovider.DefaultAPIURL,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "cf-api-token",
			Usage:   "Cloudflare API token",
			EnvVars: []string{"DNSDESK_CF_API_TOKEN", "CF_API_TOKEN"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "cf-email",
			Usage:   "Cloudflare account email",
			EnvVars: []string{"DNSDESK_CF_EMAIL", "CF_EMAIL"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "cf-zone-id",
			Usage:   "Cloudflare zone id of the base domain",
			EnvVars: []string{"DNSDESK_CF_ZONE_ID", "CF_ZONE_ID"},
		}),
		altsrc.NewIntFlag(&cli.IntFlag{
			Name:    "cf-ttl",
			Usage:   "TTL of created records, 1 means automatic",
			EnvVars: []string{"DNSDESK_CF_TTL"},
			Value:   dnsprovider.AutoTTL,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "notify-webhook-url",
			Usage:   "Where user notifications are POSTed. Notifications are only logged when empty",
			EnvVars: []string{"DNSDESK_NOTIFY_WEBHOOK_URL"},
		}),
	}
}

func sweepFlags() []cli.Flag {
	return []cli.Flag{
		altsrc.NewDurationFlag(&cli.DurationFlag{
			Name:    "sweep-interval",
			Usage:   "How often stale pending records are swept",
			EnvVars: []string{"DNSDESK_SWEEP_INTERVAL"},
			Value:   backend.DefaultPurgeInterval,
		}),
		altsrc.NewDurationFlag(&cli.DurationFlag{
			Name:    "retention",
			Usage:   "How long a pending record may wait for approval",
			EnvVars: []string{"DNSDESK_RETENTION"},
			Value:   backend.DefaultRetention,
		}),
		altsrc.NewDurationFlag(&cli.DurationFlag{
			Name:    "reminder-age",
			Usage:   "Pending records older than this are included in reminders",
			EnvVars: []string{"DNSDESK_REMINDER_AGE"},
			Value:   backend.DefaultReminderAge,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "Redis address used to hold the sweep lease across replicas",
			EnvVars: []string{"DNSDESK_REDIS_ADDR", "REDIS_ADDR"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "redis-lease-key",
			Usage:   "Redis key of the sweep lease",
			EnvVars: []string{"DNSDESK_REDIS_LEASE_KEY"},
			Value:   "dnsdesk:sweep",
		}),
		altsrc.NewDurationFlag(&cli.DurationFlag{
			Name:    "redis-lease-ttl",
			Usage:   "Expiry of the sweep lease if its holder dies",
			EnvVars: []string{"DNSDESK_REDIS_LEASE_TTL"},
			Value:   lease.DefaultTTL,
		}),
	}
}

// services holds everything a command builds from its flags. close releases it in reverse order.
type services struct {
	backend backend.Backend
	purger  *backend.Purger
	closers []func()
}

func (r *services) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// newServices builds the engine. withProvider is false for commands that never reach the DNS
// provider, so they run without Cloudflare credentials.
func newServices(ctx context.Context, c *cli.Context, withProvider bool) (*services, error) {
	rt := &services{}

	database, err := db.New(ctx, c.String("sql-dialect"), c.String("sql-dsn"), db.PoolOptions{
		MaxOpenConns: c.Int("sql-max-open-conns"),
		MaxIdleConns: c.Int("sql-max-idle-conns"),
	}, &gorm.Config{
		Logger: db.NewLogger(c.String("log-level")),
	})
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func() {
		if err := database.Close(); err != nil {
			logrus.Warnf("closing database: %v", err)
		}
	})

	provider := dnsprovider.Disabled()
	if withProvider {
		provider, err = dnsprovider.NewCloudflare(dnsprovider.CloudflareConfig{
			APIURL:   c.String("cf-api-url"),
			APIToken: c.String("cf-api-token"),
			Email:    c.String("cf-email"),
			ZoneID:   c.String("cf-zone-id"),
			TTL:      c.Int("cf-ttl"),
		})
		if err != nil {
			rt.close()
			return nil, err
		}
	}

	notifier := notify.NewLog()
	if url := c.String("notify-webhook-url"); url != "" {
		notifier = notify.NewWebhook(url, 0)
	}

	rt.backend, err = backend.NewBackend(c.String("base-domain"), database, provider, notifier)
	if err != nil {
		rt.close()
		return nil, err
	}

	var distributed lease.Lease
	if addr := c.String("redis-addr"); addr != "" {
		client, err := rueidis.NewClient(rueidis.ClientOption{
			InitAddress: []string{addr},
		})
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		rt.closers = append(rt.closers, client.Close)
		distributed = lease.NewRedis(client, c.String("redis-lease-key"), c.Duration("redis-lease-ttl"))
	}

	rt.purger = backend.NewPurger(rt.backend, c.Duration("sweep-interval"), c.Duration("retention"), distributed)
	return rt, nil
}

var (
	signalOnce sync.Once
	signalCtx  context.Context
)

// signalContext is cancelled on SIGINT or SIGTERM. The handler can only be installed once per
// process.
func signalContext() context.Context {
	signalOnce.Do(func() {
		signalCtx = signals.SetupSignalHandler(context.Background())
	})
	return signalCtx
}

func withBackendFlags(flags ...[]cli.Flag) []cli.Flag {
	all := append([]cli.Flag{}, databaseFlags()...)
	all = append(all, domainFlags()...)
	all = append(all, sweepFlags()...)
	for _, f := range flags {
		all = append(all, f...)
	}
	return append(all, GlobalFlags()...)
}
