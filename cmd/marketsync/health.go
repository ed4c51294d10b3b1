package main

import (
	"encoding/json"
	"net/http"

	"github.com/rickgao/marketsync/internal/candles"
	"github.com/rickgao/marketsync/internal/connection"
	"github.com/rickgao/marketsync/internal/engine"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/store"
	"github.com/rickgao/marketsync/internal/version"
)

// healthSource is the part of the engine the health server reads.
type healthSource interface {
	Stats() engine.Stats
	Connection() connection.State
	Books() *store.Store[model.TickerKey, model.OrderbookSnapshot]
	Prices() *store.Store[model.TickerKey, model.PriceTick]
	Candles() *candles.Manager
}

// newHealthHandler creates the HTTP handler for health checks and debugging.
func newHealthHandler(src healthSource) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		state := src.Connection()
		stats := src.Stats()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		health.Components["feed"] = map[string]any{
			"state":      state.String(),
			"session_id": stats.Connection.SessionID,
			"reconnects": stats.Connection.Reconnects,
		}
		health.Components["session"] = map[string]any{
			"authenticated": stats.Authenticated,
			"user_id":       stats.UserID,
		}

		switch state {
		case connection.StateOpen:
		case connection.StateClosed:
			health.Status = "unhealthy"
		default:
			health.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, src.Stats())
	})

	mux.HandleFunc("/debug/book", func(w http.ResponseWriter, r *http.Request) {
		ticker := model.TickerKey(r.URL.Query().Get("ticker"))
		book, ok := src.Books().Read(ticker)
		if !ok {
			http.Error(w, "no snapshot for ticker", http.StatusNotFound)
			return
		}
		writeJSON(w, book)
	})

	mux.HandleFunc("/debug/price", func(w http.ResponseWriter, r *http.Request) {
		ticker := model.TickerKey(r.URL.Query().Get("ticker"))
		tick, ok := src.Prices().Read(ticker)
		if !ok {
			http.Error(w, "no price for ticker", http.StatusNotFound)
			return
		}
		writeJSON(w, tick)
	})

	mux.HandleFunc("/debug/candles", func(w http.ResponseWriter, r *http.Request) {
		key := model.SeriesKey{
			Ticker:   model.TickerKey(r.URL.Query().Get("ticker")),
			Interval: model.Interval(r.URL.Query().Get("interval")),
		}
		series, ok := src.Candles().Lookup(key)
		if !ok {
			http.Error(w, "series not watched", http.StatusNotFound)
			return
		}
		st := series.State()
		writeJSON(w, map[string]any{
			"status":   st.Status.String(),
			"has_more": st.HasMore,
			"earliest": st.Earliest,
			"candles":  series.Candles(),
		})
	})

	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, version.Get())
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
