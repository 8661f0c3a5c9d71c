package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"lendledger/core/events"
)

const wsWriteTimeout = 10 * time.Second

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event stream disabled"})
		return
	}
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	// Readers never send data; CloseRead surfaces client disconnects as ctx.Done.
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor string) error {
	updates, cancel, backlog := s.stream.Subscribe(ctx, cursor)
	s.reportSubscribers()
	defer func() {
		cancel()
		s.reportSubscribers()
	}()

	for _, record := range backlog {
		if err := writeRecord(ctx, conn, record); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case record, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeRecord(ctx, conn, record); err != nil {
				return err
			}
		}
	}
}

func (s *Server) reportSubscribers() {
	if s.onSubscribers != nil {
		s.onSubscribers(s.stream.Subscribers())
	}
}

func writeRecord(ctx context.Context, conn *websocket.Conn, record events.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
