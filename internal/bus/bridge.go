// Package bus connects the session to the mobile app over the protocol bus.
// Outgoing frames carry navigation, list, reminder, bill and toast side
// effects plus the session's state; incoming frames are app commands.
package bus

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"mizon/internal/audio"
	"mizon/internal/nlu"
	"mizon/internal/session"
	"mizon/internal/tts"
	"mizon/pkg/phrase"
	"mizon/pkg/protocol"
	"mizon/pkg/stt"
)

// Message kinds.
const (
	KindNavigate = "navigate"
	KindNotes    = "notes.append"
	KindReminder = "reminder.create"
	KindBill     = "bill.process"
	KindToast    = "toast"
	KindState    = "state"
	KindTrans    = "transcript"
	KindReply    = "reply"
	KindError    = "error"
	KindPing     = "ping"
	KindPong     = "pong"

	KindToggle  = "toggle"
	KindStop    = "stop"
	KindEnd     = "end"
	KindConnect = "connect"
	KindConfig  = "config"
	KindFeature = "open_feature"
)

// Transport is the part of protocol.Protocol the bridge uses.
type Transport interface {
	Transmit(m protocol.Message) error
	TransmitReceive(ctx context.Context, m protocol.Message) (*protocol.Message, error)
}

// Commands is the session surface the app may drive.
type Commands interface {
	Connect(ctx context.Context) error
	ToggleListening(ctx context.Context) error
	StopListening(ctx context.Context) error
	EndSession(ctx context.Context) error
	UpdateConfig(ctx context.Context, p session.Partial) error
}

type RoutePayload struct {
	Route string `json:"route"`
	Label string `json:"label,omitempty"`
}

type ItemsPayload struct {
	Items []string `json:"items"`
}

type ReminderPayload struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type BillPayload struct {
	Note string `json:"note,omitempty"`
}

type TranscriptPayload struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Retry   bool   `json:"retry"`
}

// Bridge implements the nlu collaborators and session.Observer on top of a
// Transport. Observer frames are queued and written by Run so the session
// loop never waits on the network.
type Bridge struct {
	t   Transport
	app string
	out chan protocol.Message

	mu      sync.RWMutex
	ctl     Commands
	exec    *nlu.Executor
	session string
	lang    phrase.Language
}

const outboxSize = 64

func New(t Transport, app string) *Bridge {
	if app == "" {
		app = "app"
	}
	return &Bridge{t: t, app: app, out: make(chan protocol.Message, outboxSize), lang: phrase.Auto}
}

// Bind attaches the session and the executor used for open_feature.
func (b *Bridge) Bind(ctl Commands, exec *nlu.Executor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ctl, b.exec = ctl, exec
}

// Run writes queued frames until ctx ends.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-b.out:
			if err := b.t.Transmit(m); err != nil {
				log.Warn("Failed to send to app", "kind", m.Kind, "err", err)
			}
		}
	}
}

func (b *Bridge) message(kind string, v any) (protocol.Message, error) {
	m, err := protocol.New(b.app, kind, v)
	if err != nil {
		return m, err
	}
	b.mu.RLock()
	m.Session = b.session
	b.mu.RUnlock()
	return m, nil
}

func (b *Bridge) send(kind string, v any) error {
	m, err := b.message(kind, v)
	if err != nil {
		return err
	}
	return b.t.Transmit(m)
}

func (b *Bridge) enqueue(kind string, v any) {
	m, err := b.message(kind, v)
	if err != nil {
		log.Error("Failed to build app message", "kind", kind, "err", err)
		return
	}
	select {
	case b.out <- m:
	default:
		log.Warn("App outbox full, dropping", "kind", kind)
	}
}

// collaborators

func (b *Bridge) Navigate(_ context.Context, path string) error {
	return b.send(KindNavigate, RoutePayload{Route: path})
}

func (b *Bridge) AppendItems(_ context.Context, items []string) error {
	return b.send(KindNotes, ItemsPayload{Items: items})
}

func (b *Bridge) CreateReminder(_ context.Context, r nlu.Reminder) error {
	return b.send(KindReminder, ReminderPayload{Text: r.Text, CreatedAt: r.CreatedAt})
}

func (b *Bridge) ProcessBill(_ context.Context, note string) error {
	return b.send(KindBill, BillPayload{Note: note})
}

func (b *Bridge) Confirm(_ context.Context, message string) {
	m, err := b.message(KindToast, nil)
	if err != nil {
		return
	}
	m.Content = message
	if err := b.t.Transmit(m); err != nil {
		log.Warn("Failed to send toast", "err", err)
	}
}

// Probe checks that the app answers a ping.
func (b *Bridge) Probe(ctx context.Context) error {
	m, err := b.message(KindPing, nil)
	if err != nil {
		return err
	}
	resp, err := b.t.TransmitReceive(ctx, m)
	if err != nil {
		return fmt.Errorf("app ping: %w", err)
	}
	if resp.Kind != KindPong {
		return fmt.Errorf("app ping: unexpected %q", resp.Kind)
	}
	return nil
}

// observer

func (b *Bridge) StateChanged(s session.Snapshot) {
	b.mu.Lock()
	b.session = s.SessionID
	b.lang = s.Config.Language
	b.mu.Unlock()
	b.enqueue(KindState, s)
}

func (b *Bridge) Transcript(u stt.Utterance) {
	b.enqueue(KindTrans, TranscriptPayload{Text: u.Text, Final: u.Final})
}

func (b *Bridge) ReplyProgress(text string) {
	b.enqueue(KindReply, TranscriptPayload{Text: text})
}

func (b *Bridge) Error(err error) {
	b.enqueue(KindError, ErrorPayload{Message: userMessage(err), Retry: Retryable(err)})
}

// Retryable reports whether the app should offer a retry for err.
func Retryable(err error) bool {
	return errors.Is(err, session.ErrConnectFailed) ||
		errors.Is(err, audio.ErrPermissionDenied) ||
		errors.Is(err, audio.ErrCaptureFailed)
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return "Microphone permission denied"
	case errors.Is(err, audio.ErrCaptureFailed):
		return "Microphone stopped working"
	case errors.Is(err, session.ErrConnectFailed):
		return "Could not connect to the assistant"
	case errors.As(err, new(*tts.SynthesisError)):
		return "Voice playback failed"
	default:
		return "Something went wrong"
	}
}

// commands

// Handle is the protocol's EmitOut. Commands run on their own goroutine so
// the read loop stays free for ping replies.
func (b *Bridge) Handle(m *protocol.Message) {
	go b.handle(m)
}

func (b *Bridge) handle(m *protocol.Message) {
	b.mu.RLock()
	ctl, exec, lang := b.ctl, b.exec, b.lang
	b.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch m.Kind {
	case KindPing:
		if err := b.t.Transmit(m.Reply(KindPong)); err != nil {
			log.Warn("Failed to answer ping", "err", err)
		}
		return
	case KindToggle, KindStop, KindEnd, KindConnect, KindConfig:
		if ctl == nil {
			err = errors.New("session not bound")
			break
		}
		err = b.command(ctx, ctl, m)
	case KindFeature:
		var p RoutePayload
		if err = m.Decode(&p); err != nil {
			break
		}
		if p.Route == "" {
			err = errors.New("empty route")
			break
		}
		if exec == nil {
			err = errors.New("executor not bound")
			break
		}
		exec.Execute(ctx, nlu.Feature(p.Route, p.Label, lang))
	default:
		log.Warn("Unknown app command", "kind", m.Kind, "from", m.From)
		err = fmt.Errorf("unknown kind %q", m.Kind)
	}

	reply := m.Ok()
	if err != nil {
		log.Warn("App command failed", "kind", m.Kind, "err", err)
		reply = m.Error(err.Error())
	}
	if terr := b.t.Transmit(reply); terr != nil {
		log.Warn("Failed to answer app", "kind", m.Kind, "err", terr)
	}
}

func (b *Bridge) command(ctx context.Context, ctl Commands, m *protocol.Message) error {
	log.Info("App command", "kind", m.Kind, "from", m.From)
	switch m.Kind {
	case KindToggle:
		return ctl.ToggleListening(ctx)
	case KindStop:
		return ctl.StopListening(ctx)
	case KindEnd:
		return ctl.EndSession(ctx)
	case KindConnect:
		return ctl.Connect(ctx)
	case KindConfig:
		var p session.Partial
		if err := m.Decode(&p); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		return ctl.UpdateConfig(ctx, p)
	}
	return nil
}
