package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/MarcoPoloResearchLab/fairway/backend/internal/documents"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	liveMessageSnapshot = "snapshot"
	liveMessageError    = "error"
)

// ErrStreamClosed reports that the server ended a live stream without an error message.
var ErrStreamClosed = errors.New("remote: live stream closed")

type liveMessage struct {
	Type      string            `json:"type"`
	Documents []json.RawMessage `json:"documents"`
	Error     string            `json:"error"`
}

// Subscribe opens the live stream of a collection. onData receives every snapshot; onError is
// called at most once when the stream fails, after which nothing is delivered. The stream does
// not reconnect. The returned function closes the stream and may be called from a callback.
func (c *Client) Subscribe(ctx context.Context, collection, _ string, onData func([]documents.Record), onError func(error)) (func(), error) {
	if onData == nil || onError == nil {
		return nil, errMissingCallback
	}
	liveURL := *c.baseURL
	switch liveURL.Scheme {
	case "https":
		liveURL.Scheme = "wss"
	default:
		liveURL.Scheme = "ws"
	}
	liveURL.Path = liveURL.Path + collectionPath(collection) + "/live"

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, response, err := c.dialer.DialContext(ctx, liveURL.String(), header)
	if err != nil {
		if response != nil {
			return nil, &Error{Status: response.StatusCode}
		}
		return nil, fmt.Errorf("remote: dial live stream: %w", err)
	}

	var closed atomic.Bool
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			closed.Store(true)
			_ = conn.Close()
		})
	}

	go c.readLive(conn, collection, &closed, onData, onError)
	return unsubscribe, nil
}

func (c *Client) readLive(conn *websocket.Conn, collection string, closed *atomic.Bool, onData func([]documents.Record), onError func(error)) {
	defer conn.Close()
	fail := func(err error) {
		if closed.CompareAndSwap(false, true) {
			onError(err)
		}
	}
	for {
		var message liveMessage
		if err := conn.ReadJSON(&message); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				fail(ErrStreamClosed)
			} else {
				fail(fmt.Errorf("remote: read live stream: %w", err))
			}
			return
		}
		if closed.Load() {
			return
		}
		switch message.Type {
		case liveMessageSnapshot:
			records, err := recordsFromObjects(message.Documents)
			if err != nil {
				fail(err)
				return
			}
			onData(records)
		case liveMessageError:
			fail(&Error{Status: http.StatusInternalServerError, Code: message.Error})
			return
		default:
			c.logger.Warn("unknown live message", zap.String("collection", collection), zap.String("type", message.Type))
		}
	}
}
