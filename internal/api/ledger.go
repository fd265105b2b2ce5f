package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	eventBuffer  = 64
	writeTimeout = 5 * time.Second
)

// ledgerAssets returns the ledger's GetAllAssets array verbatim.
func (s *Server) ledgerAssets(w http.ResponseWriter, r *http.Request) {
	data, err := s.ledger.GetAllAssets(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, json.RawMessage(data))
}

func (s *Server) ledgerAsset(w http.ResponseWriter, r *http.Request) {
	data, err := s.ledger.ReadAsset(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !json.Valid(data) {
		// Corrupt values are shown as the raw string they hold.
		raw, _ := json.Marshal(string(data))
		data = raw
	}
	ok(w, http.StatusOK, json.RawMessage(data))
}

// ledgerEvents streams commit events as JSON text frames until the client
// goes away. A client that falls behind misses events rather than stalling
// the ledger.
func (s *Server) ledgerEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := s.ledger.Subscribe(eventBuffer)
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "ledger closed"),
					time.Now().Add(writeTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}
