// Package consumer speaks the downstream ingest contract: POST
// /api/v1/signals/ingest with an idempotency key, GET /health.
package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/riskcast/omen/internal/domain"
)

// ReplaySource values for the X-Replay-Source header.
const (
	ReplayHotPath   = "hot_path"
	ReplayReconcile = "reconcile"
)

const ingestPath = "/api/v1/signals/ingest"

// Config holds consumer client configuration.
type Config struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	UserAgent      string        `yaml:"user_agent"`
}

// Ack is the consumer's acknowledgement of one signal.
type Ack struct {
	AckID     string `json:"ack_id"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// StatusError carries a non-2xx consumer response.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("consumer returned %d: %s", e.StatusCode, e.Detail)
}

// Retryable reports whether the response class is worth retrying:
// 5xx yes, 4xx no.
func (e *StatusError) Retryable() bool { return e.StatusCode >= 500 }

// Client posts signals to the consumer.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	userAgent  string
}

// New creates a consumer client with defaults filled in.
func New(cfg Config) *Client {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 50
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "omen-engine/1.0"
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		baseURL:   cfg.BaseURL,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), int(cfg.RateLimitRPS)+1),
		userAgent: cfg.UserAgent,
	}
}

// Ingest posts one signal. The signal id doubles as the idempotency
// key; replaySource tags hot-path versus reconciliation traffic.
//
// A 200 returns the ack; a 409 returns the original ack with
// Duplicate set. Both are success to the caller. Other statuses
// return a StatusError; transport failures return the underlying
// error.
func (c *Client) Ingest(ctx context.Context, signal domain.Signal, replaySource string) (Ack, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Ack{}, err
	}

	payload, err := signal.CanonicalJSON()
	if err != nil {
		return Ack{}, fmt.Errorf("encode signal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ingestPath, bytes.NewReader(payload))
	if err != nil {
		return Ack{}, fmt.Errorf("build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", signal.SignalID)
	req.Header.Set("User-Agent", c.userAgent)
	if replaySource != "" {
		req.Header.Set("X-Replay-Source", replaySource)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Ack{}, fmt.Errorf("ingest %s: %w", signal.SignalID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Ack{}, fmt.Errorf("read ingest response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusConflict:
		var ack Ack
		if err := json.Unmarshal(body, &ack); err != nil {
			return Ack{}, fmt.Errorf("decode ack for %s: %w", signal.SignalID, err)
		}
		if resp.StatusCode == http.StatusConflict {
			ack.Duplicate = true
		}
		return ack, nil
	default:
		var detail struct {
			Detail string `json:"detail"`
		}
		_ = json.Unmarshal(body, &detail)
		return Ack{}, &StatusError{StatusCode: resp.StatusCode, Detail: detail.Detail}
	}
}

// Health checks the consumer's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

// IsRetryable classifies an ingest error: transport errors and 5xx
// retry, 4xx does not.
func IsRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return err != nil
}
