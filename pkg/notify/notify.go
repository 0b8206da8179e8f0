package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Notifier delivers a direct message to a user. Delivery is best-effort: callers log failures
// and move on.
type Notifier interface {
	Notify(ctx context.Context, userID, message string) error
}

type Message struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

type webhook struct {
	url    string
	client *http.Client
}

// NewWebhook posts each message as JSON to url, where the host platform relays it to the user.
func NewWebhook(url string, timeout time.Duration) Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (w *webhook) Notify(ctx context.Context, userID, message string) error {
	body, err := json.Marshal(Message{
		ID:      uuid.NewString(),
		UserID:  userID,
		Message: message,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to notify user %s: %w", userID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("failed to notify user %s: webhook returned %d", userID, resp.StatusCode)
	}
	return nil
}

type logNotifier struct{}

// NewLog returns a Notifier that only logs, for deployments without a message relay.
func NewLog() Notifier {
	return logNotifier{}
}

func (logNotifier) Notify(ctx context.Context, userID, message string) error {
	logrus.WithContext(ctx).WithField("user", userID).Infof("notification: %s", message)
	return nil
}
