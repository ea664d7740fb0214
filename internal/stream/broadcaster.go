// Package stream fans analytics snapshots out to live subscribers over
// WebSocket and tracks streaming client metrics.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/vantage/internal/analytics"
)

// SnapshotSource produces the current analytics snapshot. Satisfied by
// *analytics.Aggregator.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*analytics.Snapshot, error)
}

// SnapshotBroadcaster manages WebSocket connections and pushes a freshly
// computed snapshot to every subscriber on a fixed interval. Snapshot
// computation is skipped entirely while no subscribers are connected.
type SnapshotBroadcaster struct {
	source   SnapshotSource
	logger   *slog.Logger
	metrics  *Metrics
	interval time.Duration

	mu    sync.RWMutex
	conns map[*websocket.Conn]bool

	stopChan chan struct{}
	doneChan chan struct{}
}

// BroadcasterConfig configures the snapshot broadcaster.
type BroadcasterConfig struct {
	// Interval is the push period. Default: 1 second.
	Interval time.Duration

	// Metrics are optional streaming metrics.
	Metrics *Metrics
}

// NewSnapshotBroadcaster creates a broadcaster over the given snapshot source.
func NewSnapshotBroadcaster(source SnapshotSource, logger *slog.Logger, cfg BroadcasterConfig) *SnapshotBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Second
	}
	return &SnapshotBroadcaster{
		source:   source,
		logger:   logger,
		metrics:  cfg.Metrics,
		interval: cfg.Interval,
		conns:    make(map[*websocket.Conn]bool),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Subscribe registers a WebSocket connection for snapshot pushes.
func (b *SnapshotBroadcaster) Subscribe(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.conns[conn] = true
	if b.metrics != nil {
		b.metrics.SetWSClients(len(b.conns))
	}
}

// Unsubscribe removes a WebSocket connection.
func (b *SnapshotBroadcaster) Unsubscribe(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.conns, conn)
	if b.metrics != nil {
		b.metrics.SetWSClients(len(b.conns))
	}
}

// ConnectionCount returns the number of active WebSocket connections.
func (b *SnapshotBroadcaster) ConnectionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}

// Start begins the push loop in a background goroutine.
func (b *SnapshotBroadcaster) Start(ctx context.Context) {
	go b.run(ctx)
}

// Stop gracefully stops the push loop. Subscribed connections are not
// closed; their handlers own the connection lifecycle.
func (b *SnapshotBroadcaster) Stop() {
	close(b.stopChan)
	<-b.doneChan
}

func (b *SnapshotBroadcaster) run(ctx context.Context) {
	defer close(b.doneChan)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.logger.Info("snapshot broadcaster started",
		slog.Duration("interval", b.interval))

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("snapshot broadcaster stopping due to context cancellation")
			return
		case <-b.stopChan:
			b.logger.Info("snapshot broadcaster stopping")
			return
		case <-ticker.C:
			b.push(ctx)
		}
	}
}

// push computes one snapshot and writes it to every subscriber. A failed
// write is logged and the connection left for its handler to reap.
func (b *SnapshotBroadcaster) push(ctx context.Context) {
	if b.ConnectionCount() == 0 {
		return
	}

	snapshot, err := b.source.Snapshot(ctx)
	if err != nil {
		b.logger.Error("failed to compute snapshot for broadcast",
			slog.String("error", err.Error()))
		if b.metrics != nil {
			b.metrics.IncPushErrors()
		}
		return
	}

	// Serialize once for all subscribers.
	data, err := json.Marshal(snapshot)
	if err != nil {
		b.logger.Error("failed to marshal snapshot",
			slog.String("error", err.Error()))
		if b.metrics != nil {
			b.metrics.IncPushErrors()
		}
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for conn := range b.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			b.logger.Warn("failed to push snapshot to websocket client",
				slog.String("error", err.Error()))
			// Connection is cleaned up when its handler's read loop fails.
			continue
		}
	}
	if b.metrics != nil {
		b.metrics.IncPushes()
	}
}
