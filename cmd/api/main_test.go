// Package main contains integration tests for the API server wiring.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/vantage/internal/analytics"
	"github.com/onnwee/vantage/internal/api"
	"github.com/onnwee/vantage/internal/middleware"
	"github.com/onnwee/vantage/internal/simulator"
	"github.com/onnwee/vantage/internal/stream"
)

// newTestServer assembles the same route and middleware stack main builds,
// over an in-memory store seeded by one simulator tick.
func newTestServer(t *testing.T) (*httptest.Server, analytics.Store) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(testLogWriter{t}, nil))
	store := analytics.NewMemoryStore()

	sim := simulator.New(store, logger, simulator.Config{
		Rand: rand.New(rand.NewSource(7)),
	})
	sim.Tick(context.Background())

	aggregator := analytics.NewAggregator(store)

	broadcaster := stream.NewSnapshotBroadcaster(aggregator, logger, stream.BroadcasterConfig{
		Interval: 10 * time.Millisecond,
	})
	broadcaster.Start(context.Background())
	t.Cleanup(broadcaster.Stop)

	registry := prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		t.Fatalf("register http metrics: %v", err)
	}

	streamHandlers := api.NewStreamHandlers(aggregator, logger, api.StreamHandlersConfig{
		Interval: 10 * time.Millisecond,
	})
	snapshotHandlers := api.NewSnapshotHandlers(aggregator, logger)
	wsHandlers := api.NewWebSocketHandlers(broadcaster, logger)
	healthHandlers := api.NewHealthHandlers(nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/sse", streamHandlers.Events)
	mux.HandleFunc("/api/snapshot", snapshotHandlers.Snapshot)
	mux.HandleFunc("/api/ws", wsHandlers.Subscribe)
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", api.Index)

	var handler http.Handler = middleware.Logging(logger)(mux)
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.RequestID(handler)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, store
}

type testLogWriter struct{ t *testing.T }

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestServer_HealthAndReady(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/health", "/ready"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestServer_SnapshotEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/snapshot")
	if err != nil {
		t.Fatalf("GET /api/snapshot: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if id := resp.Header.Get("X-Request-ID"); id == "" {
		t.Error("expected X-Request-ID header from middleware")
	}

	var snapshot analytics.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	// One simulator tick always leaves active sessions and page views.
	if snapshot.DailyStats.ActiveSessionsCount == 0 {
		t.Error("expected active sessions after a simulator tick")
	}
	if snapshot.DailyStats.TotalPageViews == 0 {
		t.Error("expected page views after a simulator tick")
	}
}

func TestServer_SSEEndToEnd(t *testing.T) {
	srv, _ := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/sse", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/sse: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	reader := bufio.NewReader(resp.Body)
	var frames int
	for frames < 2 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream after %d frames: %v", frames, err)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var snapshot analytics.Snapshot
		payload := strings.TrimPrefix(strings.TrimRight(line, "\n"), "data: ")
		if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
			t.Fatalf("frame is not a snapshot: %v", err)
		}
		frames++
	}
}

func TestServer_WebSocketEndToEnd(t *testing.T) {
	srv, _ := newTestServer(t)

	// The upgrade must hijack the connection through every response-writer
	// wrapper in the middleware chain.
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s (status %d): %v", wsURL, status, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var snapshot analytics.Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		t.Fatalf("message is not a snapshot: %v", err)
	}
	if snapshot.DailyStats.ActiveSessionsCount == 0 {
		t.Error("expected active sessions in the pushed snapshot")
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	// Generate one measured request first.
	resp, err := http.Get(srv.URL + "/api/snapshot")
	if err != nil {
		t.Fatalf("GET /api/snapshot: %v", err)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	buf := new(strings.Builder)
	if _, err := bufio.NewReader(resp.Body).WriteTo(buf); err != nil {
		t.Fatalf("read metrics body: %v", err)
	}
	if !strings.Contains(buf.String(), middleware.MetricHTTPRequestsTotal) {
		t.Errorf("metrics output missing %s", middleware.MetricHTTPRequestsTotal)
	}
}

func TestServer_UnknownRoute(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatalf("GET /nope: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	var errResp api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errResp.Error.Code != api.ErrCodeNotFound {
		t.Errorf("error code = %q, want %q", errResp.Error.Code, api.ErrCodeNotFound)
	}
}
