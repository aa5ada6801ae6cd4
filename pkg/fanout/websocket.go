package fanout

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// WebsocketObserver delivers hub events over a dashboard websocket
// connection.
type WebsocketObserver struct {
	conn   *websocket.Conn
	closed atomic.Bool
}

func NewWebsocketObserver(conn *websocket.Conn) *WebsocketObserver {
	return &WebsocketObserver{conn: conn}
}

func (w *WebsocketObserver) Send(ev Event) error {
	if err := w.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.conn.WriteJSON(ev)
}

func (w *WebsocketObserver) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return w.conn.Close()
}
