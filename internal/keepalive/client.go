// Package keepalive pings the service on a fixed interval so hosting
// platforms that stop idle instances keep it running.
package keepalive

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

type Client struct {
	url        string
	interval   time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

type ClientOptions struct {
	Timeout time.Duration
}

func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Timeout: 7 * time.Second,
	}
}

func NewClient(url string, interval time.Duration, logger *slog.Logger, options ...ClientOptions) *Client {
	opts := DefaultClientOptions()
	if len(options) > 0 {
		opts = options[0]
	}

	return &Client{
		url:        url,
		interval:   interval,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     logger,
	}
}

// Run pings until ctx is done. Failed pings are logged and retried on the
// next tick.
func (c *Client) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("keep-alive pinger is running", "url", c.url, "interval", c.interval)
	for {
		select {
		case <-ticker.C:
			if err := c.Ping(ctx); err != nil {
				c.logger.Warn("keep-alive ping failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	c.logger.Debug("keep-alive ping succeeded", "url", c.url)
	return nil
}
