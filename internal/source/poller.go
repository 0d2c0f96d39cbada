package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/riskcast/omen/internal/clock"
	"github.com/riskcast/omen/internal/domain"
	"github.com/riskcast/omen/internal/resilience"
)

// PollerConfig tunes the REST market poller.
type PollerConfig struct {
	Name           string        `yaml:"name"`
	BaseURL        string        `yaml:"base_url"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	BufferSize     int           `yaml:"buffer_size"`
}

// DefaultPollerConfig returns the poller defaults.
func DefaultPollerConfig(name, baseURL string) PollerConfig {
	return PollerConfig{
		Name:           name,
		BaseURL:        baseURL,
		PollInterval:   30 * time.Second,
		RequestTimeout: 15 * time.Second,
		RateLimitRPS:   2,
		BufferSize:     256,
	}
}

const marketsPath = "/api/v1/markets?active=true"

// Poller fetches the active market list on an interval and emits one
// RawEvent per changed market. Unchanged markets are suppressed by
// comparing event hashes between polls, so downstream sees each market
// state exactly once.
type Poller struct {
	cfg        PollerConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      resilience.RetryPolicy
	clock      clock.Clock
	events     chan domain.RawEvent
	log        zerolog.Logger

	mu       sync.Mutex
	lastSeen map[string]string // event_id -> event hash
}

// NewPoller creates a poller with defaults filled in.
func NewPoller(cfg PollerConfig, clk clock.Clock, log zerolog.Logger) *Poller {
	def := DefaultPollerConfig(cfg.Name, cfg.BaseURL)
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = def.RateLimitRPS
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	return &Poller{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1),
		retry:      resilience.SourceRetryPolicy(),
		clock:      clk,
		events:     make(chan domain.RawEvent, cfg.BufferSize),
		log:        log.With().Str("component", "source_poller").Str("source", cfg.Name).Logger(),
		lastSeen:   make(map[string]string),
	}
}

// Events returns the output channel.
func (p *Poller) Events() <-chan domain.RawEvent { return p.events }

// Run polls until ctx is cancelled. A failed poll is logged and the
// next tick tries again; the upstream being down never kills the loop.
func (p *Poller) Run(ctx context.Context) error {
	defer close(p.events)

	// First poll immediately so a fresh engine is not idle for a full
	// interval.
	if err := p.pollOnce(ctx); err != nil && ctx.Err() == nil {
		p.log.Warn().Err(err).Msg("initial poll failed")
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil && ctx.Err() == nil {
				p.log.Warn().Err(err).Msg("poll failed")
			}
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) error {
	var markets []marketPayload
	err := resilience.Retry(ctx, p.retry, func(ctx context.Context) error {
		var ferr error
		markets, ferr = p.fetchMarkets(ctx)
		return ferr
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
	}

	emitted := 0
	for _, m := range markets {
		event := toRawEvent(p.cfg.Name, m)
		if event.CreatedAt.IsZero() {
			event.CreatedAt = p.clock.Now()
		}
		if !p.changed(event) {
			continue
		}
		select {
		case p.events <- event:
			emitted++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.log.Debug().Int("markets", len(markets)).Int("emitted", emitted).Msg("poll complete")
	return nil
}

// changed records the event hash and reports whether this market state
// is new since the last poll.
func (p *Poller) changed(event domain.RawEvent) bool {
	hash, err := event.Hash()
	if err != nil {
		// Unhashable events are passed through; the pipeline rejects
		// them with a real error.
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastSeen[event.EventID] == hash {
		return false
	}
	p.lastSeen[event.EventID] = hash
	return true
}

func (p *Poller) fetchMarkets(ctx context.Context) ([]marketPayload, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+marketsPath, nil)
	if err != nil {
		return nil, resilience.NoRetry(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "omen-engine/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		err := fmt.Errorf("markets endpoint returned %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, resilience.NoRetry(err)
		}
		return nil, err
	}

	var body struct {
		Markets []marketPayload `json:"markets"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode markets response: %w", err)
	}
	return body.Markets, nil
}
