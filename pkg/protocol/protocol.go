// Package protocol is the JSON message bus spoken between the daemon and
// the app over a websocket.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

const Broadcast = "ALL"

type PtclConfig struct {
	Shard   string
	Url     string
	Header  http.Header
	Dialer  *ws.Dialer
	Reconn  time.Duration
	EmitOut func(*Message)
}

type Protocol struct {
	ws *WebSocket

	shard string

	waiterMu sync.Mutex
	waiters  map[string]chan *Message

	emitMu  sync.RWMutex
	emitOut func(*Message)
}

func NewProtocol(ctx context.Context, cfg PtclConfig) (*Protocol, error) {
	if !isToken(cfg.Shard) {
		return nil, fmt.Errorf("invalid shard name %q", cfg.Shard)
	}
	ws, err := NewWebSocket(ctx, cfg.Url, cfg.Header, cfg.Dialer, cfg.Reconn)
	if err != nil {
		log.Error("Failed to init ws connection")
		return nil, err
	}

	ptcl := &Protocol{
		shard:   cfg.Shard,
		ws:      ws,
		waiters: make(map[string]chan *Message),
		emitOut: cfg.EmitOut,
	}

	return ptcl, nil
}

func (ptcl *Protocol) EmitOut(f func(*Message)) {
	ptcl.emitMu.Lock()
	defer ptcl.emitMu.Unlock()
	ptcl.emitOut = f
}

func (ptcl *Protocol) Shard() string { return ptcl.shard }

// TransmitReceive sends m and waits for the message that answers its ID.
func (ptcl *Protocol) TransmitReceive(ctx context.Context, m Message) (*Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	w := ptcl.installWaiter(m.ID)
	defer ptcl.clearWaiter(m.ID)

	if err := ptcl.Transmit(m); err != nil {
		return nil, err
	}

	select {
	case resp := <-w:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (ptcl *Protocol) Transmit(m Message) error {
	m.From = ptcl.shard
	if m.To == "" {
		m.To = Broadcast
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", m.Kind, err)
	}

	if err := ptcl.ws.Write(data); err != nil {
		log.Error("Failed to transmit", "kind", m.Kind, "to", m.To, "err", err)
		return err
	}
	return nil
}

// Run reads until ctx ends, reconnecting whenever the connection drops.
// Replies to TransmitReceive go to their waiter; everything else addressed
// to this shard goes to EmitOut.
func (ptcl *Protocol) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, ptcl.ws.Close)
	defer stop()

	for {
		in := ptcl.ws.Read()
		if ctx.Err() != nil {
			return
		}
		switch in.kind {
		case CONN_CLOSE:
			log.Warn("Trying to reconnect on", "url", ptcl.ws.url, "err", in.err)
			if err := ptcl.ws.TryReconn(ctx); err != nil {
				return
			}
			log.Info("Succefully reconnected", "url", ptcl.ws.url)

		case READ_FAILURE:
			log.Error("Failed to read", "err", in.err)

		case READ_OK:
			msg, err := ptcl.Parse(in.msg)
			if err != nil {
				log.Warn("Failed to parse", "msg", string(in.msg), "err", err)
				continue
			}
			if !ptcl.checkRecipient(msg) {
				continue
			}

			if w := ptcl.waiterFor(msg.ReplyTo); w != nil {
				w <- msg
				continue
			}
			ptcl.emitMu.RLock()
			emit := ptcl.emitOut
			ptcl.emitMu.RUnlock()
			if emit != nil {
				emit(msg)
			}
		}
	}
}

func (ptcl *Protocol) Close() { ptcl.ws.Close() }

func (ptcl *Protocol) installWaiter(id string) chan *Message {
	ptcl.waiterMu.Lock()
	defer ptcl.waiterMu.Unlock()
	w := make(chan *Message, 1)
	ptcl.waiters[id] = w
	return w
}

func (ptcl *Protocol) clearWaiter(id string) {
	ptcl.waiterMu.Lock()
	defer ptcl.waiterMu.Unlock()
	delete(ptcl.waiters, id)
}

// waiterFor hands out a waiter once; a second reply to the same ID is
// treated as an ordinary message.
func (ptcl *Protocol) waiterFor(id string) chan *Message {
	if id == "" {
		return nil
	}
	ptcl.waiterMu.Lock()
	defer ptcl.waiterMu.Unlock()
	w := ptcl.waiters[id]
	delete(ptcl.waiters, id)
	return w
}

func (ptcl *Protocol) checkRecipient(m *Message) bool {
	return m.To == ptcl.shard || m.To == Broadcast
}

func (ptcl *Protocol) Parse(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.Kind == "" {
		return nil, errors.New("empty kind")
	}
	if !isToken(m.Kind) {
		return nil, fmt.Errorf("invalid kind: %q", m.Kind)
	}
	if m.To != Broadcast && !isToken(m.To) {
		return nil, fmt.Errorf("invalid TO token: %q", m.To)
	}
	if m.From != "" && !isToken(m.From) {
		return nil, fmt.Errorf("invalid FROM token: %q", m.From)
	}
	return &m, nil
}

var tokenRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

func isToken(s string) bool {
	return tokenRe.MatchString(s)
}

// Message is one bus frame. Content carries short text; Data carries a
// kind-specific JSON payload.
type Message struct {
	ID      string          `json:"id,omitempty"`
	ReplyTo string          `json:"replyTo,omitempty"`
	From    string          `json:"from"`
	To      string          `json:"to"`
	Kind    string          `json:"kind"`
	Session string          `json:"session,omitempty"`
	Content string          `json:"content,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// New builds a message with v marshalled into Data.
func New(to, kind string, v any) (Message, error) {
	m := Message{To: to, Kind: kind}
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return Message{}, fmt.Errorf("marshal %s: %w", kind, err)
		}
		m.Data = data
	}
	return m, nil
}

func (m *Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s: no data", m.Kind)
	}
	return json.Unmarshal(m.Data, v)
}

// Reply addresses a response to m's sender.
func (m *Message) Reply(kind string) Message {
	return Message{To: m.From, Kind: kind, ReplyTo: m.ID, Session: m.Session}
}

func (m *Message) Error(reason string) Message {
	r := m.Reply("error")
	r.Content = reason
	return r
}

func (m *Message) Ok() Message {
	return m.Reply("ok")
}
