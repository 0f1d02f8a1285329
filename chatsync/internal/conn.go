package internal

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Close codes the server uses for an orderly shutdown.
const (
	StatusNormalClosure = int(websocket.StatusNormalClosure)
	StatusGoingAway     = int(websocket.StatusGoingAway)
	StatusAbnormal      = int(websocket.StatusAbnormalClosure)
)

// Conn wraps websocket.Conn with a write timeout. Reads have no deadline:
// the heartbeat keeps the channel alive and the server decides idleness.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

// Dial opens a websocket to rawURL, bounded by handshakeTimeout when positive.
func Dial(ctx context.Context, rawURL string, handshakeTimeout, writeTimeout time.Duration, header http.Header) (*Conn, error) {
	if handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, handshakeTimeout)
		defer cancel()
	}
	ws, _, err := websocket.Dial(ctx, rawURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, err
	}
	return NewConn(ws, writeTimeout), nil
}

func NewConn(ws *websocket.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{ws: ws, writeTimeout: writeTimeout}
}

// Read returns the next text frame.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ == websocket.MessageText {
			return data, nil
		}
	}
}

func (c *Conn) Write(ctx context.Context, v any) error {
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return wsjson.Write(ctx, c.ws, v)
}

func (c *Conn) Close(code int, reason string) error {
	return c.ws.Close(websocket.StatusCode(code), reason)
}

// CloseInfo extracts the close code and reason carried by a read error.
// Errors without a close frame (EOF, resets, timeouts) map to 1006.
func CloseInfo(err error) (int, string) {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return int(ce.Code), ce.Reason
	}
	if errors.Is(err, io.EOF) {
		return StatusAbnormal, "unexpected EOF"
	}
	if err != nil {
		return StatusAbnormal, err.Error()
	}
	return StatusAbnormal, ""
}
