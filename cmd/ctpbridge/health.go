package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rickgao/ctpbridge/internal/archive"
	"github.com/rickgao/ctpbridge/internal/bridge"
	"github.com/rickgao/ctpbridge/internal/gateway"
	"github.com/rickgao/ctpbridge/internal/quote"
	"github.com/rickgao/ctpbridge/internal/session"
	"github.com/rickgao/ctpbridge/internal/version"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type bridgeStats interface {
	Stats() bridge.Stats
}

// components are the parts reported by the health server. Optional parts
// are nil when disabled.
type components struct {
	bridge  bridgeStats
	session *session.Session
	db      pinger
	archive *archive.TickWriter
	poller  *quote.Poller
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(c components) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Version    version.Info   `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.Get(),
			Components: make(map[string]any),
		}

		bs := c.bridge.Stats()
		health.Components["bridge"] = bs
		if !bs.Connected {
			health.Status = "unhealthy"
		}

		if c.session != nil {
			health.Components["fronts"] = map[string]bool{
				string(gateway.FrontMarketData): c.session.LoggedIn(gateway.FrontMarketData),
				string(gateway.FrontTrading):    c.session.LoggedIn(gateway.FrontTrading),
			}
		}

		if c.db != nil {
			if err := c.db.Ping(ctx); err != nil {
				if health.Status == "healthy" {
					health.Status = "degraded"
				}
				health.Components["timescaledb"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["timescaledb"] = "connected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		subs := c.session.Ledger().Snapshot()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"count":         len(subs),
			"subscriptions": subs,
		})
	})

	mux.HandleFunc("/debug/stats", func(w http.ResponseWriter, r *http.Request) {
		stats := map[string]any{
			"bridge":  c.bridge.Stats(),
			"session": c.session.Stats(),
		}
		if c.archive != nil {
			stats["archive"] = c.archive.Stats()
		}
		if c.poller != nil {
			stats["poller"] = c.poller.Stats()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	})

	return mux
}
