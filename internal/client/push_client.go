package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/clipbeat/api/internal/config"
)

// PushNotifier defines the interface for push notification dispatch.
// Delivery is best-effort; callers must never fail a job on send errors.
type PushNotifier interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) error
}

// ExpoClient implements PushNotifier against the Expo push API
type ExpoClient struct {
	httpClient *http.Client
	pushURL    string
}

func NewExpoClient(cfg *config.ExpoConfig) *ExpoClient {
	return &ExpoClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		pushURL:    cfg.PushURL,
	}
}

// Send dispatches one push message to an Expo push token.
func (c *ExpoClient) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	payload, err := json.Marshal(map[string]any{
		"to":    token,
		"title": title,
		"body":  body,
		"data":  data,
		"sound": "default",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pushURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("expo push failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("expo push error (status %d): %s", resp.StatusCode, string(respBody))
	}

	log.Printf("[Expo] Push sent: %q", title)
	return nil
}
