// Package lp is the long-polling fallback for clients that cannot hold a
// websocket. Each poll opens a short-lived connection, optionally joins one
// scope, and waits for the first delivery.
package lp

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/decisio/eventcore/internal/domain/envelope"
	lpmarshaller "github.com/decisio/eventcore/internal/handler/marshaller/lp"
	"github.com/decisio/eventcore/internal/service"
)

const (
	pollTimeout = 30 * time.Second
	drainMax    = 15
)

type LPHandler struct {
	log       *slog.Logger
	deliverer service.Deliverer
	identify  Identifier
}

// Identifier mirrors the websocket handler's request authentication hook.
type Identifier func(r *http.Request) (string, error)

func NewLPHandler(log *slog.Logger, deliverer service.Deliverer, identify Identifier) *LPHandler {
	return &LPHandler{
		log:       log.With("component", "lp"),
		deliverer: deliverer,
		identify:  identify,
	}
}

// Poll holds the request until an event arrives or the poll window expires.
func (h *LPHandler) Poll(w http.ResponseWriter, r *http.Request) {
	identity, err := h.identify(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.deliverer.Connect(r.Context(), identity)
	if err != nil {
		http.Error(w, "admission limited", http.StatusTooManyRequests)
		return
	}
	defer h.deliverer.Disconnect(conn)

	if scope := r.URL.Query().Get("scope"); scope != "" {
		if err := h.deliverer.Join(r.Context(), conn, scope); err != nil {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	var events []*envelope.Envelope

	select {
	case <-r.Context().Done():
		return

	case <-time.After(pollTimeout):
		w.WriteHeader(http.StatusNoContent)
		return

	case env, ok := <-conn.Recv():
		if !ok {
			return
		}
		events = append(events, env)

		// Drain whatever is already buffered so the client needs fewer
		// round trips.
	drainLoop:
		for i := 0; i < drainMax; i++ {
			select {
			case next, ok := <-conn.Recv():
				if !ok {
					break drainLoop
				}
				events = append(events, next)
			default:
				break drainLoop
			}
		}
	}

	data, err := lpmarshaller.MarshalEvents(events)
	if err != nil {
		h.log.Error("marshal poll batch failed", "error", err)
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
