package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/adsight/backfill/internal/window"
)

// BreakdownDimensions are the demographic dimensions synced by the secondary
// pass after a full import.
var BreakdownDimensions = []string{"age_gender", "region", "publisher_platform"}

// WindowRequest asks the reporting service to fetch and persist one window of
// daily metrics for a project.
type WindowRequest struct {
	ProjectID   string    `json:"project_id"`
	AdAccountID string    `json:"ad_account_id"`
	TimeRange   TimeRange `json:"time_range"`
	Breakdown   string    `json:"breakdown,omitempty"`
}

// TimeRange is the wire form of a window.Range.
type TimeRange struct {
	Since string `json:"since"`
	Until string `json:"until"`
}

// WindowResult reports how many daily records the window sync persisted.
// Zero is a valid, successful outcome: no qualifying activity in the window.
type WindowResult struct {
	RecordsImported int
}

// Syncer is the single-window sync primitive this engine drives. The
// implementation is external; calls must be idempotent per window.
type Syncer interface {
	SyncWindow(ctx context.Context, req WindowRequest) (WindowResult, error)
}

// BreakdownSyncer is implemented by syncers that also support the demographic
// breakdown pass.
type BreakdownSyncer interface {
	Syncer
	SyncBreakdown(ctx context.Context, req WindowRequest) (WindowResult, error)
}

// Config holds connector settings for the reporting service.
type Config struct {
	BaseURL     string        `toml:"base_url"`
	AccessToken string        `toml:"access_token"`
	Timeout     time.Duration `toml:"timeout"`
}

// DefaultConfig returns connector defaults. BaseURL and AccessToken have no
// usable defaults and must come from configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 90 * time.Second,
	}
}

// Validate checks that required connector settings are present.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return &ConfigError{Field: "base_url"}
	}
	if c.AccessToken == "" {
		return &ConfigError{Field: "access_token"}
	}
	return nil
}

// Client calls the reporting service over HTTP.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a connector client. Returns a ConfigError when required
// settings are missing.
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 15 * time.Second}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 4,
			},
		},
		logger: logger,
	}, nil
}

// syncResponse is the reporting service's envelope.
type syncResponse struct {
	Success bool `json:"success"`
	Data    struct {
		DailyRecordsCount int `json:"daily_records_count"`
	} `json:"data"`
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SyncWindow runs the single-window sync primitive for one date range.
func (c *Client) SyncWindow(ctx context.Context, req WindowRequest) (WindowResult, error) {
	return c.call(ctx, "/api/sync/window", req)
}

// SyncBreakdown runs one demographic breakdown dimension over a range.
func (c *Client) SyncBreakdown(ctx context.Context, req WindowRequest) (WindowResult, error) {
	if req.Breakdown == "" {
		return WindowResult{}, fmt.Errorf("breakdown dimension is required")
	}
	return c.call(ctx, "/api/sync/breakdown", req)
}

func (c *Client) call(ctx context.Context, path string, req WindowRequest) (WindowResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return WindowResult{}, fmt.Errorf("failed to encode sync request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return WindowResult{}, fmt.Errorf("failed to build sync request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.AccessToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network and timeout failures are retryable
		if ctx.Err() != nil {
			return WindowResult{}, ctx.Err()
		}
		return WindowResult{}, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return WindowResult{}, &TransientError{Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return WindowResult{}, &RateLimitError{Code: codeRequestLimit, Message: "http 429 from reporting service"}
	}

	var parsed syncResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return WindowResult{}, &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("unparseable response: %.200s", string(raw)),
		}
	}

	if !parsed.Success || resp.StatusCode >= 400 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Code:       parsed.Error.Code,
			Message:    parsed.Error.Message,
		}
		if IsRateLimited(apiErr) {
			return WindowResult{}, &RateLimitError{Code: parsed.Error.Code, Message: parsed.Error.Message}
		}
		if resp.StatusCode >= 500 {
			return WindowResult{}, &TransientError{Err: apiErr}
		}
		return WindowResult{}, apiErr
	}

	c.logger.Debug("window synced",
		"project_id", req.ProjectID,
		"range", req.TimeRange.Since+".."+req.TimeRange.Until,
		"records", parsed.Data.DailyRecordsCount)

	return WindowResult{RecordsImported: parsed.Data.DailyRecordsCount}, nil
}

// NewTimeRange converts a window.Range to its wire form.
func NewTimeRange(r window.Range) TimeRange {
	return TimeRange{
		Since: r.Since.Format(window.DateLayout),
		Until: r.Until.Format(window.DateLayout),
	}
}
