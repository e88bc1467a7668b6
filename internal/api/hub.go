// Package api is the external transport boundary for the result/view
// stream: an external, stubbed-contract-only surface that exercises the
// dependency at the connection boundary (hub + upgrade) without
// implementing the full HTTP surface. It upgrades an HTTP connection
// to a websocket and relays internal/pubsub's ResultEvent stream to it
// as JSON frames, and serves recorded results for one txid over plain
// HTTP (HandleResults). The websocket takes no subscribe filters: every
// connection receives every event, and there is no JSON-RPC method
// dispatch table.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ouziel-slama/kontor/internal/log"
	"github.com/ouziel-slama/kontor/internal/pubsub"
	"github.com/ouziel-slama/kontor/pkg/types"
)

// ResultLookup resolves every recorded result for a transaction,
// satisfied by state.Store.ResultsForTx. Declared here rather than
// imported from internal/state so this package doesn't need a
// dependency on the store just to describe the one query it needs.
type ResultLookup func(ctx context.Context, txid types.Hash256) ([]types.ResultEvent, error)

// writeTimeout bounds how long a single frame write may block a slow
// client before the connection is dropped.
const writeTimeout = 10 * time.Second

// Hub upgrades HTTP connections to websockets and fans out the result
// bus to each one, with one event type instead of a JSON-RPC method
// dispatch table.
type Hub struct {
	bus      *pubsub.Bus
	lookup   ResultLookup
	log      *log.Logger
	upgrader websocket.Upgrader
}

// NewHub builds a Hub broadcasting bus's events to every connection
// HandleWS upgrades. lookup backs HandleResults's historical query
// path; it may be nil if historical lookups aren't wired.
func NewHub(bus *pubsub.Bus, lookup ResultLookup, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		bus:    bus,
		lookup: lookup,
		log:    logger.With("component", "api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleResults serves the historical half of the DB-then-live hand-off
// over plain HTTP: GET /results?txid=<hex> returns every
// result recorded for that transaction. It does not attach the live
// stream itself (that's HandleWS); a caller wanting both does what
// pubsub.WaitForResult already does internally, subscribing before
// querying.
func (h *Hub) HandleResults(w http.ResponseWriter, r *http.Request) {
	if h.lookup == nil {
		http.Error(w, "historical lookup not configured", http.StatusServiceUnavailable)
		return
	}
	raw, err := hex.DecodeString(r.URL.Query().Get("txid"))
	if err != nil || len(raw) != len(types.Hash256{}) {
		http.Error(w, "txid must be a 32-byte hex string", http.StatusBadRequest)
		return
	}
	var txid types.Hash256
	copy(txid[:], raw)

	results, err := h.lookup(r.Context(), txid)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// HandleWS upgrades the request and streams ResultEvents until the
// client disconnects or the request context is canceled.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("api: websocket upgrade failed: " + err.Error())
		return
	}
	defer conn.Close()

	sub := h.bus.Subscribe(r.Context())
	defer sub.Close()

	go h.drainClient(conn)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Lagged:
			h.log.Warn("api: subscriber lagged, some results were dropped")
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := h.writeEvent(conn, ev); err != nil {
				return
			}
		}
	}
}

// drainClient reads (and discards) client frames so gorilla's read
// pump processes control frames (ping/close) and detects disconnects;
// this surface is push-only, so application-level messages are ignored.
func (h *Hub) drainClient(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			conn.Close()
			return
		}
	}
}

func (h *Hub) writeEvent(conn *websocket.Conn, ev any) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
