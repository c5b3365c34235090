package realtime

import (
	"context"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// wsConn adapts a websocket connection to the Conn interface. Frames are
// JSON text messages; writes are serialized by a mutex.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// DialWebsocket is the default Dialer.
func DialWebsocket(ctx context.Context, rawURL string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	// Broadcast-heavy topics can outrun the default 32 KiB read limit.
	c.SetReadLimit(1 << 20)
	return &wsConn{conn: c}, nil
}

func (w *wsConn) ReadMsg(ctx context.Context) (Message, error) {
	var m Message
	if err := wsjson.Read(ctx, w.conn, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

func (w *wsConn) WriteMsg(ctx context.Context, m Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return wsjson.Write(ctx, w.conn, m)
}

func (w *wsConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "")
}
