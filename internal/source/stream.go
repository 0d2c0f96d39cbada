package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/riskcast/omen/internal/clock"
	"github.com/riskcast/omen/internal/domain"
	"github.com/riskcast/omen/internal/resilience"
)

// StreamConfig tunes the websocket market feed.
type StreamConfig struct {
	Name             string        `yaml:"name"`
	URL              string        `yaml:"url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	BufferSize       int           `yaml:"buffer_size"`
}

// DefaultStreamConfig returns the stream defaults.
func DefaultStreamConfig(name, url string) StreamConfig {
	return StreamConfig{
		Name:             name,
		URL:              url,
		HandshakeTimeout: 30 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		BufferSize:       256,
	}
}

// streamMessage is the upstream websocket envelope. Only market_update
// messages carry events; everything else is control traffic.
type streamMessage struct {
	Type   string        `json:"type"`
	Market marketPayload `json:"market"`
}

// Stream consumes a websocket market-update feed. Dropped connections
// reconnect with backoff; the subscription is replayed on every
// connect.
type Stream struct {
	cfg    StreamConfig
	clock  clock.Clock
	events chan domain.RawEvent
	log    zerolog.Logger
}

// NewStream creates a websocket source with defaults filled in.
func NewStream(cfg StreamConfig, clk clock.Clock, log zerolog.Logger) *Stream {
	def := DefaultStreamConfig(cfg.Name, cfg.URL)
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	return &Stream{
		cfg:    cfg,
		clock:  clk,
		events: make(chan domain.RawEvent, cfg.BufferSize),
		log:    log.With().Str("component", "source_stream").Str("source", cfg.Name).Logger(),
	}
}

// Events returns the output channel.
func (s *Stream) Events() <-chan domain.RawEvent { return s.events }

// Run connects and consumes until ctx is cancelled, reconnecting with
// backoff after any connection loss.
func (s *Stream) Run(ctx context.Context) error {
	defer close(s.events)

	policy := resilience.SourceRetryPolicy()
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := s.dial(ctx)
		if err != nil {
			attempt++
			s.log.Warn().Err(err).Int("attempt", attempt).Msg("websocket connect failed")
			if serr := sleepBackoff(ctx, policy, attempt); serr != nil {
				return serr
			}
			continue
		}
		attempt = 0
		s.log.Info().Str("url", s.cfg.URL).Msg("websocket connected")

		err = s.consume(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn().Err(err).Msg("websocket connection lost, reconnecting")
	}
}

func sleepBackoff(ctx context.Context, policy resilience.RetryPolicy, attempt int) error {
	if attempt > policy.MaxAttempts {
		attempt = policy.MaxAttempts
	}
	wait := policy.MinWait << (attempt - 1)
	if wait > policy.MaxWait {
		wait = policy.MaxWait
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	headers := http.Header{"User-Agent": []string{"omen-engine/1.0"}}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, headers)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}

	sub := map[string]interface{}{"type": "subscribe", "channel": "markets"}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return conn, nil
}

// consume reads until the connection breaks or ctx is cancelled.
func (s *Stream) consume(ctx context.Context, conn *websocket.Conn) error {
	go s.pingLoop(ctx, conn)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn().Err(err).Msg("unparseable stream message")
			continue
		}
		if msg.Type != "market_update" {
			continue
		}

		event := toRawEvent(s.cfg.Name, msg.Market)
		if event.CreatedAt.IsZero() {
			event.CreatedAt = s.clock.Now()
		}
		select {
		case s.events <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
