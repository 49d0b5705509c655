package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/fairway/backend/internal/documents"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// LiveMessageSnapshot carries the full collection.
	LiveMessageSnapshot = "snapshot"
	// LiveMessageError reports a terminal subscription failure; the server closes afterwards.
	LiveMessageError = "error"

	liveOutboundBuffer = 4
	liveWriteTimeout   = 10 * time.Second
	livePingInterval   = 30 * time.Second
)

// LiveMessage is one frame of the live collection stream.
type LiveMessage struct {
	Type      string            `json:"type"`
	Documents []json.RawMessage `json:"documents"`
	Error     string            `json:"error,omitempty"`
}

type websocketUpgrader interface {
	Upgrade(w http.ResponseWriter, r *http.Request, responseHeader http.Header) (*websocket.Conn, error)
}

func newUpgrader(origins []string) *websocket.Upgrader {
	allowed := make(map[string]struct{}, len(origins))
	allowAll := len(origins) == 0
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "*" {
			allowAll = true
		}
		allowed[trimmed] = struct{}{}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if allowAll || origin == "" {
				return true
			}
			if _, ok := allowed[origin]; ok {
				return true
			}
			parsed, err := url.Parse(origin)
			return err == nil && parsed.Host == r.Host
		},
	}
}

func (h *httpHandler) handleLive(c *gin.Context) {
	scope, ok := h.resolveScope(c)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("live upgrade failed", zap.String("collection", scope.collection), zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	outbound := make(chan LiveMessage, liveOutboundBuffer)
	push := func(message LiveMessage) {
		select {
		case outbound <- message:
		case <-ctx.Done():
		}
	}

	unsubscribe, err := h.documents.Subscribe(ctx, scope.collection, scope.ownerID,
		func(records []documents.Record) {
			objects, err := recordObjects(records)
			if err != nil {
				push(LiveMessage{Type: LiveMessageError, Documents: []json.RawMessage{}, Error: documentErrorCode(err)})
				return
			}
			push(LiveMessage{Type: LiveMessageSnapshot, Documents: objects})
		},
		func(streamErr error) {
			push(LiveMessage{Type: LiveMessageError, Documents: []json.RawMessage{}, Error: documentErrorCode(streamErr)})
		},
	)
	if err != nil {
		h.writeLiveError(conn, err)
		return
	}
	defer unsubscribe()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(livePingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteJSON(message); err != nil {
				h.logger.Debug("live write failed", zap.Error(err))
				return
			}
			if message.Type == LiveMessageError {
				closeLive(conn, websocket.CloseInternalServerErr, message.Error)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *httpHandler) writeLiveError(conn *websocket.Conn, err error) {
	code := documentErrorCode(err)
	h.logger.Error("live subscription failed", zap.String("code", code), zap.Error(err))
	_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	_ = conn.WriteJSON(LiveMessage{Type: LiveMessageError, Documents: []json.RawMessage{}, Error: code})
	closeLive(conn, websocket.CloseInternalServerErr, code)
}

func closeLive(conn *websocket.Conn, status int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(status, reason),
		time.Now().Add(liveWriteTimeout))
}
