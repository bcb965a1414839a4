// Package shopify is the Admin GraphQL client for the upload phase: product
// and variant creation, file uploads, metafields, collections and sales
// channel publishing. One Client serves a single store.
package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/beatforge/beatbridge/internal/config"
)

const apiVersion = "2024-10"

// defaultThrottleWait is used when a throttled response carries no
// Retry-After header.
const defaultThrottleWait = 2 * time.Second

type Client struct {
	http   *resty.Client
	cfg    *config.Config
	logger *slog.Logger

	// taxonomy category memo, resolved at most once per process
	categoryID       string
	categoryResolved bool
}

func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	return &Client{
		http:   resty.New().SetTimeout(60 * time.Second),
		cfg:    cfg,
		logger: logger.With("component", "shopify"),
	}
}

// baseURL normalizes the configured store address. A scheme is only present
// in tests; real stores are always https.
func (c *Client) baseURL() string {
	store := strings.TrimSuffix(c.cfg.StoreURL, "/")
	if strings.HasPrefix(store, "http://") || strings.HasPrefix(store, "https://") {
		return store
	}
	return "https://" + store
}

func (c *Client) endpoint() string {
	return fmt.Sprintf("%s/admin/api/%s/graphql.json", c.baseURL(), apiVersion)
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

type gqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

// UserError is the userErrors shape shared by every Admin API mutation.
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
	Code    string   `json:"code"`
}

func userErrorsToError(op string, errs []UserError) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		if len(e.Field) > 0 {
			msgs[i] = fmt.Sprintf("%s: %s", strings.Join(e.Field, "."), e.Message)
		} else {
			msgs[i] = e.Message
		}
	}
	return fmt.Errorf("%s rejected: %s", op, strings.Join(msgs, "; "))
}

// Do executes one GraphQL call and decodes its data payload into out.
// Rate limiting (HTTP 429 or a THROTTLED error) is waited out and retried
// in place. A 401 triggers at most one OAuth token refresh followed by a
// single retry; a second 401 is a hard failure.
func (c *Client) Do(ctx context.Context, query string, variables map[string]any, out any) error {
	refreshed := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetHeader("X-Shopify-Access-Token", c.cfg.AccessToken).
			SetBody(gqlRequest{Query: query, Variables: variables}).
			Post(c.endpoint())
		if err != nil {
			return fmt.Errorf("graphql request failed: %w", err)
		}

		switch {
		case resp.StatusCode() == http.StatusTooManyRequests:
			wait := retryAfter(resp.Header().Get("Retry-After"))
			c.logger.Warn("rate limited, waiting", "retry_after", wait)
			if err := sleep(ctx, wait); err != nil {
				return err
			}
			continue

		case resp.StatusCode() == http.StatusUnauthorized:
			if refreshed || !c.canRefresh() {
				return fmt.Errorf("access token rejected (%s)", resp.Status())
			}
			if err := c.refreshToken(ctx); err != nil {
				return err
			}
			refreshed = true
			continue

		case resp.IsError():
			return fmt.Errorf("graphql endpoint returned %s: %s", resp.Status(), truncate(resp.String(), 300))
		}

		var envelope gqlResponse
		if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
			return fmt.Errorf("failed to decode graphql response: %w", err)
		}

		if len(envelope.Errors) > 0 {
			if envelope.Errors[0].Extensions.Code == "THROTTLED" {
				c.logger.Warn("query throttled, waiting", "wait", defaultThrottleWait)
				if err := sleep(ctx, defaultThrottleWait); err != nil {
					return err
				}
				continue
			}
			msgs := make([]string, len(envelope.Errors))
			for i, e := range envelope.Errors {
				msgs[i] = e.Message
			}
			return fmt.Errorf("graphql errors: %s", strings.Join(msgs, "; "))
		}

		if out != nil {
			if err := json.Unmarshal(envelope.Data, out); err != nil {
				return fmt.Errorf("failed to decode graphql data: %w", err)
			}
		}
		return nil
	}
}

func (c *Client) canRefresh() bool {
	return c.cfg.ClientID != "" && c.cfg.ClientSecret != ""
}

// refreshToken exchanges the configured client credentials for a fresh
// access token and persists it back into the config file.
func (c *Client) refreshToken(ctx context.Context) error {
	c.logger.Info("access token rejected, requesting a new one")

	var out struct {
		AccessToken string `json:"access_token"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"client_id":     c.cfg.ClientID,
			"client_secret": c.cfg.ClientSecret,
			"grant_type":    "client_credentials",
		}).
		SetResult(&out).
		Post(c.baseURL() + "/admin/oauth/access_token")
	if err != nil {
		return fmt.Errorf("token refresh failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("token refresh returned %s: %s", resp.Status(), truncate(resp.String(), 300))
	}
	if out.AccessToken == "" {
		return fmt.Errorf("token refresh returned no access token")
	}

	if err := c.cfg.SaveAccessToken(out.AccessToken); err != nil {
		return fmt.Errorf("failed to persist refreshed token: %w", err)
	}
	c.logger.Info("access token refreshed")
	return nil
}

func retryAfter(header string) time.Duration {
	if header == "" {
		return defaultThrottleWait
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(header), 64)
	if err != nil || secs < 0 {
		return defaultThrottleWait
	}
	d := time.Duration(secs * float64(time.Second))
	if d > time.Minute {
		return time.Minute
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
