package stream

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// WSSink pushes msgpack-encoded frames over a websocket connection to the
// host's ingestion endpoint.
type WSSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

const wsWriteTimeout = 10 * time.Second

// Dial connects to a host ingestion websocket URL.
func Dial(url string) (*WSSink, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return &WSSink{conn: conn}, nil
}

// NewWSSink wraps an already-established connection, e.g. a server-side
// upgrade.
func NewWSSink(conn *websocket.Conn) *WSSink {
	return &WSSink{conn: conn}
}

func (ws *WSSink) Push(f *Frame) error {
	payload, err := msgpack.Marshal(f)
	if err != nil {
		return err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return ws.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (ws *WSSink) Close() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	ws.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return ws.conn.Close()
}
