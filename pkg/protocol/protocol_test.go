package protocol

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hub accepts connections and lets the test talk to the latest one.
type hub struct {
	mu    sync.Mutex
	conns []*ws.Conn
	recv  chan Message
}

func newHub(t *testing.T) (*hub, string) {
	h := &hub{recv: make(chan Message, 16)}
	up := ws.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.mu.Lock()
		h.conns = append(h.conns, c)
		h.mu.Unlock()
		for {
			var m Message
			if err := c.ReadJSON(&m); err != nil {
				return
			}
			h.recv <- m
		}
	}))
	t.Cleanup(srv.Close)
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (h *hub) latest() *ws.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.conns) == 0 {
		return nil
	}
	return h.conns[len(h.conns)-1]
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *hub) send(t *testing.T, m Message) {
	t.Helper()
	require.Eventually(t, func() bool { return h.latest() != nil }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.latest().WriteJSON(m))
}

func start(t *testing.T, url string, emit func(*Message)) *Protocol {
	ctx, cancel := context.WithCancel(context.Background())
	p, err := NewProtocol(ctx, PtclConfig{Shard: "mizon", Url: url, Reconn: 10 * time.Millisecond, EmitOut: emit})
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return p
}

func TestTransmitStampsSender(t *testing.T) {
	h, url := newHub(t)
	p := start(t, url, nil)

	m, err := New("app", "navigate", map[string]string{"route": "/banking"})
	require.NoError(t, err)
	require.NoError(t, p.Transmit(m))

	got := <-h.recv
	assert.Equal(t, "mizon", got.From)
	assert.Equal(t, "app", got.To)
	assert.Equal(t, "navigate", got.Kind)
	assert.JSONEq(t, `{"route":"/banking"}`, string(got.Data))
}

func TestRunFiltersRecipients(t *testing.T) {
	h, url := newHub(t)
	got := make(chan *Message, 4)
	start(t, url, func(m *Message) { got <- m })

	h.send(t, Message{From: "app", To: "someone-else", Kind: "toggle"})
	h.send(t, Message{From: "app", To: "mizon", Kind: "bad kind"})
	h.send(t, Message{From: "app", To: "mizon", Kind: "toggle"})
	h.send(t, Message{From: "app", To: Broadcast, Kind: "end"})

	first := <-got
	assert.Equal(t, "toggle", first.Kind)
	second := <-got
	assert.Equal(t, "end", second.Kind)
}

func TestTransmitReceiveMatchesReply(t *testing.T) {
	h, url := newHub(t)
	emitted := make(chan *Message, 4)
	p := start(t, url, func(m *Message) { emitted <- m })

	go func() {
		req := <-h.recv
		// unrelated traffic first
		_ = h.latest().WriteJSON(Message{From: "app", To: "mizon", Kind: "toggle"})
		r := req.Reply("pong")
		r.From = "app"
		_ = h.latest().WriteJSON(r)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := p.TransmitReceive(ctx, Message{To: "app", Kind: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Kind)

	assert.Equal(t, "toggle", (<-emitted).Kind)
}

func TestTransmitReceiveTimeout(t *testing.T) {
	_, url := newHub(t)
	p := start(t, url, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := p.TransmitReceive(ctx, Message{To: "app", Kind: "ping"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunReconnects(t *testing.T) {
	h, url := newHub(t)
	got := make(chan *Message, 1)
	start(t, url, func(m *Message) { got <- m })

	require.Eventually(t, func() bool { return h.count() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.latest().Close())
	require.Eventually(t, func() bool { return h.count() == 2 }, time.Second, 5*time.Millisecond)

	h.send(t, Message{From: "app", To: "mizon", Kind: "toggle"})
	assert.Equal(t, "toggle", (<-got).Kind)
}

func TestNewProtocolRejectsBadShard(t *testing.T) {
	_, err := NewProtocol(context.Background(), PtclConfig{Shard: "has space", Url: "ws://127.0.0.1:1"})
	assert.Error(t, err)
}

func TestMessageHelpers(t *testing.T) {
	m := Message{ID: "1", From: "app", Kind: "config", Session: "s", Data: json.RawMessage(`{"language":"ar"}`)}
	var v struct{ Language string }
	require.NoError(t, m.Decode(&v))
	assert.Equal(t, "ar", v.Language)

	e := m.Error("bad")
	assert.Equal(t, "app", e.To)
	assert.Equal(t, "1", e.ReplyTo)
	assert.Equal(t, "bad", e.Content)
	assert.Equal(t, "ok", m.Ok().Kind)

	empty := Message{Kind: "toggle"}
	assert.Error(t, empty.Decode(&v))
}
