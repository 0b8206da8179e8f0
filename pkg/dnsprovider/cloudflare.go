package dnsprovider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"github.com/is-app/dnsdesk/pkg/model"
	"github.com/sirupsen/logrus"
)

const (
	DefaultAPIURL = "https://api.cloudflare.com/client/v4"
	// AutoTTL asks Cloudflare to pick the TTL.
	AutoTTL = 1
)

type CloudflareConfig struct {
	APIURL   string
	APIToken string
	Email    string
	ZoneID   string
	TTL      int
	Timeout  time.Duration
}

type cloudflareProvider struct {
	api    *cloudflare.API
	zone   *cloudflare.ResourceContainer
	ttl    int
	logger *logrus.Entry
}

func NewCloudflare(cfg CloudflareConfig) (Provider, error) {
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("cloudflare api token must be provided")
	}
	if cfg.ZoneID == "" {
		return nil, fmt.Errorf("cloudflare zone id must be provided")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.TTL <= 0 {
		cfg.TTL = AutoTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	headers := http.Header{}
	if cfg.Email != "" {
		headers.Set("X-Auth-Email", cfg.Email)
	}

	api, err := cloudflare.NewWithAPIToken(cfg.APIToken,
		cloudflare.BaseURL(strings.TrimSuffix(cfg.APIURL, "/")),
		cloudflare.Headers(headers),
		cloudflare.HTTPClient(&http.Client{Timeout: cfg.Timeout}),
		// Callers decide whether to retry.
		cloudflare.UsingRetryPolicy(0, 0, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloudflare client: %w", err)
	}

	return &cloudflareProvider{
		api:    api,
		zone:   cloudflare.ZoneIdentifier(cfg.ZoneID),
		ttl:    cfg.TTL,
		logger: logrus.WithField("provider", "cloudflare"),
	}, nil
}

func (c *cloudflareProvider) CreateRecord(ctx context.Context, recordType, content, fqdn string) error {
	rec, err := c.api.CreateDNSRecord(ctx, c.zone, cloudflare.CreateDNSRecordParams{
		Type:    recordType,
		Name:    fqdn,
		Content: content,
		TTL:     c.ttl,
	})
	if err != nil {
		return providerError(err)
	}

	c.logger.WithFields(logrus.Fields{"fqdn": fqdn, "type": recordType, "id": rec.ID}).Info("created dns record")
	return nil
}

func (c *cloudflareProvider) DeleteRecord(ctx context.Context, fqdn string) error {
	records, _, err := c.api.ListDNSRecords(ctx, c.zone, cloudflare.ListDNSRecordsParams{Name: fqdn})
	if err != nil {
		return providerError(err)
	}

	var id string
	for _, r := range records {
		if strings.EqualFold(strings.TrimSuffix(r.Name, "."), fqdn) {
			id = r.ID
			break
		}
	}
	if id == "" {
		return &model.ProviderError{Message: fmt.Sprintf("record %s not found at the dns provider, contact an admin", fqdn)}
	}

	if err := c.api.DeleteDNSRecord(ctx, c.zone, id); err != nil {
		return providerError(err)
	}

	c.logger.WithFields(logrus.Fields{"fqdn": fqdn, "id": id}).Info("deleted dns record")
	return nil
}

// providerError surfaces the first message from the API's errors array when there is one.
func providerError(err error) error {
	var apiErr interface{ ErrorMessages() []string }
	if errors.As(err, &apiErr) {
		if msgs := apiErr.ErrorMessages(); len(msgs) > 0 && msgs[0] != "" {
			return &model.ProviderError{Message: msgs[0]}
		}
	}
	return &model.ProviderError{Message: err.Error()}
}
