package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smazurov/deskstream/internal/version"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 5 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
	maxSignalSize    = 1 << 20
)

// signalingClient is a JSON-over-WebSocket connection to the rendezvous
// server. Writes are serialized; reads happen on the run goroutine only.
type signalingClient struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	closeMu sync.Once
	done    chan struct{}
}

func dialSignaling(ctx context.Context, endpoint string, logger *slog.Logger) (*signalingClient, error) {
	d := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}
	header := http.Header{"User-Agent": {version.UserAgent()}}
	conn, _, err := d.DialContext(ctx, endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("dial signaling %s: %w", endpoint, err)
	}
	conn.SetReadLimit(maxSignalSize)
	return &signalingClient{
		conn:   conn,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

// send writes v as a JSON text message.
func (c *signalingClient) send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// run reads messages until the connection fails or close is called, passing
// each decoded envelope to handle. It returns nil after close.
func (c *signalingClient) run(handle func(envelope)) error {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.keepalive()

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("signaling read: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Debug("Ignoring malformed signaling message", "error", err)
			continue
		}
		IncrementSignalingMessages(env.Type)
		handle(env)
	}
}

func (c *signalingClient) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.logger.Debug("Signaling ping failed", "error", err)
				}
				return
			}
		}
	}
}

// close sends a close frame and tears the connection down. Safe to call
// more than once.
func (c *signalingClient) close() error {
	var err error
	c.closeMu.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
