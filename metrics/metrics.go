// Package metrics exposes the server's Prometheus collectors. Embedders
// mount Handler on their own HTTP mux (typically the same process serving
// the static controller assets) to get connection and throughput
// visibility without instrumenting the engine or server packages directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

var (
	// ConnectionsOpened counts every WebSocket handshake that completed
	// successfully.
	ConnectionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "partyhost",
		Subsystem: "websocket",
		Name:      "connections_opened_total",
		Help:      "Total WebSocket connections that completed the handshake.",
	})

	// ConnectionsClosed counts every connection torn down, by whatever
	// cause (close frame, read error, keepalive expiry).
	ConnectionsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "partyhost",
		Subsystem: "websocket",
		Name:      "connections_closed_total",
		Help:      "Total WebSocket connections torn down.",
	})

	// FramesProcessed counts every TEXT frame that was decoded, including
	// ones discarded as malformed JSON before reaching the protocol layer.
	FramesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "partyhost",
		Subsystem: "websocket",
		Name:      "frames_processed_total",
		Help:      "Total TEXT frames decoded.",
	})

	// BroadcastsSent counts every STATE_UPDATE (or other) broadcast batch
	// sent to all connections, one increment per batch, not per
	// recipient.
	BroadcastsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "partyhost",
		Subsystem: "engine",
		Name:      "broadcasts_sent_total",
		Help:      "Total broadcast batches sent to connected clients.",
	})

	// ActivePlayers reports how many players in the authoritative player
	// table are currently connected, set by the engine after each dispatch.
	ActivePlayers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "partyhost",
		Subsystem: "engine",
		Name:      "active_players",
		Help:      "Current number of connected players in the authoritative state.",
	})
)

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
