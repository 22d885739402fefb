// package hub talks to the WebSub hub that fronts channel feeds.
package hub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Mode string

const (
	ModeSubscribe   Mode = "subscribe"
	ModeUnsubscribe Mode = "unsubscribe"
)

// Error is a hub rejection: the hub answered the subscription request with a
// non-2xx status. The response body is kept verbatim for the lease record.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

const maxErrorBody = 4 << 10

type Client struct {
	hubURL string
	client *http.Client
}

// NewClient returns a hub client. The timeout bounds the whole request so a
// stalled hub cannot hang a sweep.
func NewClient(hubURL string, timeout time.Duration) *Client {
	return &Client{
		hubURL: hubURL,
		client: &http.Client{Timeout: timeout},
	}
}

// Subscribe sends one subscribe or unsubscribe request with synchronous
// verification. It never retries and never touches the lease store; the
// manager owns both concerns.
func (c *Client) Subscribe(ctx context.Context, topicURL, callbackURL string, mode Mode) error {
	form := url.Values{}
	form.Set("hub.callback", callbackURL)
	form.Set("hub.topic", topicURL)
	form.Set("hub.mode", string(mode))
	form.Set("hub.verify", "sync")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.hubURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build hub request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("hub request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &Error{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	// Drain the body so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
