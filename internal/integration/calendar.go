// Package integration holds best-effort steps run after a successful sign-in.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"dailypa/internal/auth"
)

// Calendar asks the calendar service to set up a user's calendar link.
type Calendar struct {
	url     string
	http    *http.Client
	timeout time.Duration
}

// NewCalendar creates a client for setupURL. An empty URL makes Setup a no-op.
func NewCalendar(setupURL string, httpClient *http.Client, timeout time.Duration) *Calendar {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Calendar{url: setupURL, http: httpClient, timeout: timeout}
}

// Enabled reports whether a setup URL is configured.
func (c *Calendar) Enabled() bool {
	return c != nil && c.url != ""
}

// Setup posts the user id with the user's bearer token. Failures come back as
// *auth.IntegrationError.
func (c *Calendar) Setup(ctx context.Context, userID, accessToken string) error {
	if !c.Enabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"user_id": userID})
	if err != nil {
		return &auth.IntegrationError{Step: "calendar setup", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return &auth.IntegrationError{Step: "calendar setup", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return &auth.IntegrationError{Step: "calendar setup", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &auth.IntegrationError{Step: "calendar setup", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return nil
}
