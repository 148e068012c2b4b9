package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"brokerchain/core/events"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBacklogPage  = 500
)

// handleEventsWS streams published events. An optional from query parameter
// replays journal entries starting at that sequence before live events, and
// an optional prefix filters by event type.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.hub == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	var from uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid from", http.StatusBadRequest)
			return
		}
		from = parsed
	}
	prefix := strings.TrimSpace(r.URL.Query().Get("prefix"))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, from, prefix); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, from uint64, prefix string) error {
	updates, cancel := s.hub.Subscribe()
	defer cancel()

	if from > 0 && s.journal != nil {
		for {
			entries, err := s.journal.Range(from, wsBacklogPage)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				view := EventView{Seq: entry.Seq, Type: entry.Type, Attributes: entry.Attributes}
				if err := writeEvent(ctx, conn, view, prefix); err != nil {
					return err
				}
				from = entry.Seq + 1
			}
			if len(entries) < wsBacklogPage {
				break
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			payload, ok := events.Payload(evt)
			if !ok {
				continue
			}
			view := EventView{Type: payload.Type, Attributes: payload.Attributes}
			if err := writeEvent(ctx, conn, view, prefix); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, view EventView, prefix string) error {
	if prefix != "" && !strings.HasPrefix(view.Type, prefix) {
		return nil
	}
	data, err := json.Marshal(view)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
