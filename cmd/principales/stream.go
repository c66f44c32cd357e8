package main

import (
	"context"
	"net/http"
	"time"

	"principales/internal/metrics"
	"principales/internal/models"
	"principales/internal/service"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const streamWriteTimeout = 10 * time.Second

// streamEvent is one frame pushed to stream clients
type streamEvent struct {
	Type    string             `json:"type"`
	Message models.ChatMessage `json:"message"`
}

// handleStream pushes every newly stored chat message over a WebSocket.
// Clients still use /updates to catch up after a reconnect.
func (s *Server) handleStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// the server write timeout would otherwise cut long-lived streams
		rc := http.NewResponseController(w)
		_ = rc.SetReadDeadline(time.Time{})
		_ = rc.SetWriteDeadline(time.Time{})

		// subscribe before the handshake so nothing stored after it is missed
		msgs, unsubscribe := s.deps.Hub.Subscribe()
		defer unsubscribe()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.WithError(err).Warn("Failed to accept stream connection")
			return
		}
		defer conn.CloseNow()

		metrics.IncrementCounter("stream_connections_total", nil, "Stream connections accepted")
		s.logger.WithField(service.LogFieldRemoteIP, r.RemoteAddr).Debug("Stream client connected")

		// CloseRead answers pings and cancels ctx once the client goes away
		ctx := conn.CloseRead(context.Background())

		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.closing:
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
				err := wsjson.Write(writeCtx, conn, streamEvent{Type: "message", Message: msg})
				cancel()
				if err != nil {
					s.logger.WithError(err).Debug("Stream write failed, dropping client")
					return
				}
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
				err := conn.Ping(pingCtx)
				cancel()
				if err != nil {
					s.logger.WithError(err).Debug("Stream ping failed, dropping client")
					return
				}
			}
		}
	}
}
