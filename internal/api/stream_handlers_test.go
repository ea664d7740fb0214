package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/vantage/internal/analytics"
)

// fixedSource serves a constant snapshot, or an error when err is set.
// Tests flip the error from another goroutine, hence the mutex.
type fixedSource struct {
	mu       sync.Mutex
	snapshot *analytics.Snapshot
	err      error
}

func (s *fixedSource) Snapshot(ctx context.Context) (*analytics.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.snapshot, nil
}

func (s *fixedSource) set(snapshot *analytics.Snapshot, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
	s.err = err
}

func testSnapshot() *analytics.Snapshot {
	return &analytics.Snapshot{
		PageViews:      []*analytics.PageView{},
		ActiveSessions: []*analytics.Session{},
		Interactions:   []*analytics.Interaction{},
		PageViewTrend:  []*analytics.TrendPoint{},
		DailyStats: analytics.DailyStats{
			TotalPageViews:      42,
			ActiveSessionsCount: 3,
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// readFrames reads n SSE data frames from the stream.
func readFrames(t *testing.T, reader *bufio.Reader, n int) []string {
	t.Helper()
	var frames []string
	for len(frames) < n {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream after %d frames: %v", len(frames), err)
		}
		line = strings.TrimRight(line, "\n")
		if strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	return frames
}

func TestEvents_StreamsSnapshots(t *testing.T) {
	h := NewStreamHandlers(&fixedSource{snapshot: testSnapshot()}, discardLogger(), StreamHandlersConfig{
		Interval: 10 * time.Millisecond,
	})
	srv := httptest.NewServer(http.HandlerFunc(h.Events))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", cc)
	}
	if origin := resp.Header.Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", origin)
	}

	frames := readFrames(t, bufio.NewReader(resp.Body), 2)
	for _, frame := range frames {
		var snapshot analytics.Snapshot
		if err := json.Unmarshal([]byte(frame), &snapshot); err != nil {
			t.Fatalf("frame is not valid JSON: %v, frame: %s", err, frame)
		}
		if snapshot.DailyStats.TotalPageViews != 42 {
			t.Errorf("totalPageViews = %d, want 42", snapshot.DailyStats.TotalPageViews)
		}
	}
}

func TestEvents_PayloadShape(t *testing.T) {
	h := NewStreamHandlers(&fixedSource{snapshot: testSnapshot()}, discardLogger(), StreamHandlersConfig{
		Interval: 10 * time.Millisecond,
	})
	srv := httptest.NewServer(http.HandlerFunc(h.Events))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	frames := readFrames(t, bufio.NewReader(resp.Body), 1)

	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(frames[0]), &payload); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	for _, key := range []string{"pageViews", "activeSessions", "interactions", "pageViewTrend", "dailyStats"} {
		if _, ok := payload[key]; !ok {
			t.Errorf("frame missing key %q", key)
		}
	}
}

func TestEvents_ErrorFrameKeepsConnectionOpen(t *testing.T) {
	source := &fixedSource{err: errors.New("store down")}
	h := NewStreamHandlers(source, discardLogger(), StreamHandlersConfig{
		Interval: 10 * time.Millisecond,
	})
	srv := httptest.NewServer(http.HandlerFunc(h.Events))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	frames := readFrames(t, reader, 2)
	for _, frame := range frames {
		if frame != `{"error": "Internal Server Error"}` {
			t.Errorf("error frame = %q, want the fixed error payload", frame)
		}
	}

	// Recovery: once the source works again, real frames resume on the
	// same connection.
	source.set(testSnapshot(), nil)
	frames = readFrames(t, reader, 1)
	var snapshot analytics.Snapshot
	if err := json.Unmarshal([]byte(frames[0]), &snapshot); err != nil {
		t.Fatalf("recovered frame is not a snapshot: %v", err)
	}
}

func TestEvents_ClientDisconnectEndsStream(t *testing.T) {
	h := NewStreamHandlers(&fixedSource{snapshot: testSnapshot()}, discardLogger(), StreamHandlersConfig{
		Interval: 10 * time.Millisecond,
	})

	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Events(w, r)
		close(done)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	readFrames(t, bufio.NewReader(resp.Body), 1)
	cancel()
	resp.Body.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after client disconnect")
	}
}

func TestEvents_MethodNotAllowed(t *testing.T) {
	h := NewStreamHandlers(&fixedSource{snapshot: testSnapshot()}, discardLogger(), StreamHandlersConfig{})

	req := httptest.NewRequest(http.MethodPost, "/api/sse", nil)
	rr := httptest.NewRecorder()
	h.Events(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rr.Code)
	}
}
