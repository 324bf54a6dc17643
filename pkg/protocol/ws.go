package protocol

import (
	"context"
	"errors"
	log "log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

// WebSocket is a text-frame connection that can be redialed in place.
type WebSocket struct {
	mu     sync.Mutex
	conn   *ws.Conn
	url    string
	header http.Header
	dialer *ws.Dialer
	reconn time.Duration
}

var errNotConnected = errors.New("websocket not connected")

func NewWebSocket(ctx context.Context, url string, header http.Header, dialer *ws.Dialer, reconn time.Duration) (*WebSocket, error) {
	log.Debug("init websocket protocol", "url", url)

	if dialer == nil {
		dialer = ws.DefaultDialer
	}
	if reconn <= 0 {
		reconn = time.Second
	}
	web := &WebSocket{
		url:    url,
		header: header,
		dialer: dialer,
		reconn: reconn,
	}

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		log.Error("Failed to dial url", "url", url, "err", err)
		return nil, err
	}
	web.conn = conn

	return web, nil
}

func (web *WebSocket) current() *ws.Conn {
	web.mu.Lock()
	defer web.mu.Unlock()
	return web.conn
}

// Write sends one text frame. Writers are serialized.
func (web *WebSocket) Write(payload []byte) error {
	log.Debug("Write ws", "msg", string(payload))
	web.mu.Lock()
	defer web.mu.Unlock()
	if web.conn == nil {
		return errNotConnected
	}
	return web.conn.WriteMessage(ws.TextMessage, payload)
}

type WsIncomeKind uint

const (
	CONN_CLOSE WsIncomeKind = iota
	READ_FAILURE
	READ_OK
)

type Income struct {
	kind WsIncomeKind
	msg  []byte
	err  error
}

// Read blocks for the next frame. Only one goroutine may read.
func (web *WebSocket) Read() Income {
	conn := web.current()
	if conn == nil {
		return Income{kind: CONN_CLOSE, err: errNotConnected}
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		if WsIsClosed(err) || errors.Is(err, ws.ErrCloseSent) {
			return Income{kind: CONN_CLOSE, err: err}
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return Income{kind: READ_FAILURE, err: err}
		}
		// gorilla connections are unusable after any read error
		return Income{kind: CONN_CLOSE, err: err}
	}

	log.Debug("Read ws", "msg", string(msg))
	return Income{kind: READ_OK, msg: msg}
}

// TryReconn redials every reconn interval until it succeeds or ctx ends.
func (web *WebSocket) TryReconn(ctx context.Context) error {
	web.Close()
	for {
		conn, _, err := web.dialer.DialContext(ctx, web.url, web.header)
		if err == nil {
			web.mu.Lock()
			web.conn = conn
			web.mu.Unlock()
			return nil
		}
		log.Debug("Reconnect failed", "url", web.url, "err", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(web.reconn):
		}
	}
}

func (web *WebSocket) Close() {
	web.mu.Lock()
	defer web.mu.Unlock()
	if web.conn != nil {
		_ = web.conn.Close()
		web.conn = nil
	}
}

func WsIsClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}
