package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskcast/omen/internal/clock"
	"github.com/riskcast/omen/internal/domain"
)

func testMarket(id string, probability float64) marketPayload {
	return marketPayload{
		ID:           id,
		Question:     "Red Sea shipping halt",
		Description:  "Tanker traffic suspended",
		Probability:  probability,
		VolumeUSD:    500000,
		LiquidityUSD: 75000,
		Category:     "commodity",
		Tags:         map[string]string{"region": "red_sea"},
		UpdatedAt:    time.Date(2026, 1, 15, 11, 0, 0, 0, time.UTC),
	}
}

func TestToRawEvent_Mapping(t *testing.T) {
	e := toRawEvent("polymarket", testMarket("m1", 0.62))

	assert.Equal(t, "polymarket:m1", e.EventID)
	assert.Equal(t, "Red Sea shipping halt", e.Title)
	assert.Equal(t, 0.62, e.Probability)
	assert.Equal(t, "polymarket", e.Market.Source)
	assert.Equal(t, "m1", e.Market.MarketID)
	assert.Equal(t, float64(75000), e.Market.CurrentLiquidityUSD)
	assert.Equal(t, "commodity", e.Metadata["category"])
	assert.Equal(t, "red_sea", e.Metadata["region"])
	assert.NoError(t, e.Validate())
}

func TestToRawEvent_NoMetadata(t *testing.T) {
	m := testMarket("m1", 0.5)
	m.Category = ""
	m.Tags = nil
	e := toRawEvent("polymarket", m)
	assert.Nil(t, e.Metadata)
}

type marketsServer struct {
	markets atomic.Value // []marketPayload
	hits    atomic.Int64
	failN   atomic.Int64 // fail this many requests with 503
}

func newMarketsServer(markets ...marketPayload) *marketsServer {
	s := &marketsServer{}
	s.markets.Store(markets)
	return s
}

func (s *marketsServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if !strings.HasPrefix(r.URL.Path, "/api/v1/markets") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if s.failN.Load() > 0 {
			s.failN.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"markets": s.markets.Load().([]marketPayload),
		})
	})
}

func newTestPoller(t *testing.T, url string) *Poller {
	t.Helper()
	cfg := DefaultPollerConfig("polymarket", url)
	cfg.RateLimitRPS = 1000
	clk := clock.NewFixed(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	p := NewPoller(cfg, clk, zerolog.Nop())
	p.retry.MinWait = time.Millisecond
	p.retry.MaxWait = 5 * time.Millisecond
	return p
}

func drain(ch <-chan domain.RawEvent) []domain.RawEvent {
	var out []domain.RawEvent
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestPoller_EmitsChangedMarketsOnly(t *testing.T) {
	ms := newMarketsServer(testMarket("m1", 0.62), testMarket("m2", 0.30))
	srv := httptest.NewServer(ms.handler())
	defer srv.Close()

	p := newTestPoller(t, srv.URL)
	ctx := context.Background()

	require.NoError(t, p.pollOnce(ctx))
	events := drain(p.events)
	require.Len(t, events, 2)
	assert.Equal(t, "polymarket:m1", events[0].EventID)

	// Same upstream state: nothing new.
	require.NoError(t, p.pollOnce(ctx))
	assert.Empty(t, drain(p.events))

	// One market moves: exactly that market re-emits.
	ms.markets.Store([]marketPayload{testMarket("m1", 0.75), testMarket("m2", 0.30)})
	require.NoError(t, p.pollOnce(ctx))
	events = drain(p.events)
	require.Len(t, events, 1)
	assert.Equal(t, "polymarket:m1", events[0].EventID)
	assert.Equal(t, 0.75, events[0].Probability)
}

func TestPoller_RetriesTransientFailures(t *testing.T) {
	ms := newMarketsServer(testMarket("m1", 0.62))
	ms.failN.Store(2)
	srv := httptest.NewServer(ms.handler())
	defer srv.Close()

	p := newTestPoller(t, srv.URL)
	require.NoError(t, p.pollOnce(context.Background()))
	assert.Len(t, drain(p.events), 1)
	assert.Equal(t, int64(3), ms.hits.Load(), "two 503s then success")
}

func TestPoller_SourceUnavailableAfterExhaustion(t *testing.T) {
	ms := newMarketsServer(testMarket("m1", 0.62))
	ms.failN.Store(100)
	srv := httptest.NewServer(ms.handler())
	defer srv.Close()

	p := newTestPoller(t, srv.URL)
	err := p.pollOnce(context.Background())
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.Equal(t, int64(3), ms.hits.Load(), "policy bounds the attempts")
}

func TestPoller_ClientErrorNotRetried(t *testing.T) {
	hits := atomic.Int64{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p := newTestPoller(t, srv.URL)
	err := p.pollOnce(context.Background())
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.Equal(t, int64(1), hits.Load())
}

func TestStream_DeliversMarketUpdates(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		// Expect the subscription first.
		var sub map[string]interface{}
		require.NoError(t, conn.ReadJSON(&sub))
		require.Equal(t, "subscribe", sub["type"])

		conn.WriteJSON(map[string]interface{}{"type": "heartbeat"})
		conn.WriteJSON(streamMessage{Type: "market_update", Market: testMarket("m9", 0.41)})
		// Hold the connection open until the client goes away.
		conn.ReadMessage()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clk := clock.NewFixed(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	s := NewStream(DefaultStreamConfig("polymarket", url), clk, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case e := <-s.Events():
		assert.Equal(t, "polymarket:m9", e.EventID)
		assert.Equal(t, 0.41, e.Probability)
		assert.Equal(t, "commodity", e.Metadata["category"])
	case <-time.After(5 * time.Second):
		t.Fatal("no event received from stream")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop on cancellation")
	}
}
