package dnsprovider

import (
	"context"

	"github.com/is-app/dnsdesk/pkg/model"
)

// Provider materializes approved records at the authoritative DNS service.
type Provider interface {
	CreateRecord(ctx context.Context, recordType, content, fqdn string) error
	DeleteRecord(ctx context.Context, fqdn string) error
}

// ErrNotConfigured is returned by the Provider from Disabled.
var ErrNotConfigured = &model.ProviderError{Message: "dns provider is not configured"}

type disabled struct{}

// Disabled returns a Provider that refuses every call. It serves commands that only touch
// pending records, such as the one-shot sweep and reminder runs.
func Disabled() Provider {
	return disabled{}
}

func (disabled) CreateRecord(context.Context, string, string, string) error {
	return ErrNotConfigured
}

func (disabled) DeleteRecord(context.Context, string) error {
	return ErrNotConfigured
}
