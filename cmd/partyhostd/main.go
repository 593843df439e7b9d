// Command partyhostd is a reference binary wiring the config, engine, and
// server packages together around a minimal example game state. Embedders
// are expected to copy this wiring pattern with their own game.State and
// reducer.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/couchcast/party-core/config"
	"github.com/couchcast/party-core/engine"
	"github.com/couchcast/party-core/metrics"
	"github.com/couchcast/party-core/server"
)

// engineTransport adapts *server.Server to engine.Transport.
type engineTransport struct {
	srv *server.Server
}

func (t engineTransport) Send(connID string, message any) error {
	return t.srv.Send(connID, message)
}

func (t engineTransport) Broadcast(message any, excludeConnID string) {
	t.srv.Broadcast(message, excludeConnID)
}

// serverHandler adapts *engine.Engine to server.Handler.
type serverHandler struct {
	eng *engine.Engine[lobbyState]
}

func (h serverHandler) OnListening(addr string) {
	log.Info().Str("addr", addr).Msg("websocket server listening")
}

func (h serverHandler) OnConnection(connID string) {
	log.Debug().Str("connId", connID).Msg("connection opened")
}

func (h serverHandler) OnMessage(connID string, payload []byte) {
	h.eng.Dispatch(connID, payload)
}

func (h serverHandler) OnDisconnect(connID string) {
	log.Debug().Str("connId", connID).Msg("connection closed")
	h.eng.HandleDisconnect(connID)
}

func (h serverHandler) OnError(err error) {
	log.Error().Err(err).Msg("server error")
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve /metrics on")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// The engine is constructed with a placeholder transport because the
	// server it talks to is constructed with a handler that points back
	// at the engine; break the cycle by wiring the transport in after
	// both exist.
	var srv *server.Server

	observers := engine.Observers{
		OnPlayerJoined: func(playerID, name string) {
			log.Info().Str("playerId", playerID).Str("name", name).Msg("player joined")
		},
		OnPlayerLeft: func(playerID string) {
			log.Info().Str("playerId", playerID).Msg("player left")
		},
	}

	eng := engine.New[lobbyState](
		newLobbyState(),
		lobbyReduce,
		engine.Config{
			StaleRemovalDelay: cfg.StaleRemovalDelay,
			BroadcastThrottle: cfg.BroadcastThrottle,
		},
		deferredTransport{get: func() engine.Transport { return engineTransport{srv: srv} }},
		observers,
	)

	srv = server.New(server.Config{
		Addr:              cfg.WebSocketAddr(),
		MaxFramePayload:   cfg.MaxFrameSize,
		KeepaliveInterval: cfg.KeepaliveInterval,
		KeepaliveTimeout:  cfg.KeepaliveTimeout,
	}, serverHandler{eng: eng})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go eng.Run(ctx)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil { //nolint:gosec // internal metrics endpoint, no timeouts needed
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	go func() {
		if err := srv.Start(ctx); err != nil {
			log.Error().Err(err).Msg("websocket server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	srv.Stop()
	eng.Stop()
}

// deferredTransport resolves the real Transport lazily, breaking the
// engine/server construction cycle: the engine is built before the server
// that backs its transport exists.
type deferredTransport struct {
	get func() engine.Transport
}

func (d deferredTransport) Send(connID string, message any) error {
	return d.get().Send(connID, message)
}

func (d deferredTransport) Broadcast(message any, excludeConnID string) {
	d.get().Broadcast(message, excludeConnID)
}
