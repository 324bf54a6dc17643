// Package session runs the voice session: it owns the microphone, the
// context buffer and the session state, and drives every round trip from a
// captured chunk to a spoken reply.
package session

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"mizon/internal/audio"
	"mizon/internal/nlu"
	"mizon/internal/tts"
	"mizon/pkg/phrase"
	"mizon/pkg/stt"
)

var (
	ErrNotConnected  = errors.New("session: not connected")
	ErrConnectFailed = errors.New("session: connect failed")
	ErrClosed        = errors.New("session: controller stopped")
)

// Prober checks that a backend is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// Observer is told about everything the user should see. Methods are called
// from the controller loop, one at a time, and must not call back into the
// controller synchronously.
type Observer interface {
	StateChanged(s Snapshot)
	Transcript(u stt.Utterance)
	ReplyProgress(text string)
	Error(err error)
}

// Observers fans out to several observers in order.
type Observers []Observer

func (o Observers) StateChanged(s Snapshot) {
	for _, x := range o {
		x.StateChanged(s)
	}
}

func (o Observers) Transcript(u stt.Utterance) {
	for _, x := range o {
		x.Transcript(u)
	}
}

func (o Observers) ReplyProgress(text string) {
	for _, x := range o {
		x.ReplyProgress(text)
	}
}

func (o Observers) Error(err error) {
	for _, x := range o {
		x.Error(err)
	}
}

// Snapshot is a copy of the controller's state.
type Snapshot struct {
	SessionID     string   `json:"sessionId"`
	State         State    `json:"state"`
	Active        bool     `json:"active"`
	Connected     bool     `json:"connected"`
	Context       []string `json:"context"`
	Queued        int      `json:"queued"`
	Config        Config   `json:"config"`
	PendingConfig bool     `json:"pendingConfig"`
}

// Deps are the collaborators of a Controller. Source and Model are required.
type Deps struct {
	Source    audio.Source
	Gateway   stt.Gateway
	Model     nlu.Model
	Extractor *nlu.Extractor
	Executor  *nlu.Executor
	Synth     *Synthesizer
	Observer  Observer
	// Probes default to the Gateway and Model when they implement Prober.
	Probes []Prober
	// Cue runs on its own goroutine each time capture starts.
	Cue func()
}

type command struct {
	run   func(reply chan<- error)
	reply chan error
}

// events posted to the loop; gen fields drop results of cancelled work
type (
	chunkArrived struct {
		gen   uint64
		chunk stt.Chunk
	}
	captureFailed struct {
		gen uint64
		err error
	}
	transcribed struct {
		gen uint64
		utt stt.Utterance
		err error
	}
	replied struct {
		gen     uint64
		text    string
		reply   string
		err     error
		lang    phrase.Language
		command *nlu.Action
	}
	progressed struct {
		gen  uint64
		text string
	}
	playbackEnded struct {
		gen uint64
		err error
	}
	rearmDue struct {
		gen uint64
	}
	connectDone struct {
		gen uint64
		err error
	}
	connectGraceExpired struct {
		gen uint64
		err error
	}
)

// Controller is the session state machine. All state is owned by the Run
// loop; public methods hand work to it and wait for the answer.
type Controller struct {
	deps     Deps
	cfg      Config
	pending  *Config
	detector phrase.Detector

	cmds    chan command
	events  chan any
	stopped chan struct{}
	ctx     context.Context

	state     State
	active    bool
	connected bool
	sessionID string
	buf       *ContextBuffer

	capture       audio.Handle
	captureCancel context.CancelFunc
	captureGen    uint64

	chunks           []stt.Chunk
	transcribing     bool
	transcribeCancel context.CancelFunc
	transcribeGen    uint64

	queue       []string
	roundCtx    context.Context
	roundCancel context.CancelFunc
	roundGen    uint64
	rearmTimer  *time.Timer

	connectGen     uint64
	connectWaiters []chan<- error
}

func New(cfg Config, deps Deps) *Controller {
	if deps.Source == nil || deps.Model == nil {
		panic("session: Source and Model are required")
	}
	cfg = cfg.withDefaults()

	if deps.Gateway == nil {
		deps.Gateway = stt.PassThrough{}
	}
	if deps.Extractor == nil {
		deps.Extractor = nlu.NewExtractor()
	}
	if deps.Synth == nil {
		deps.Synth = NewSynthesizer(tts.Estimated{})
	}
	deps.Synth.TokenDelay = cfg.TokenDelay
	if deps.Observer == nil {
		deps.Observer = Observers(nil)
	}
	if deps.Probes == nil {
		for _, x := range []any{deps.Gateway, deps.Model} {
			if p, ok := x.(Prober); ok {
				deps.Probes = append(deps.Probes, p)
			}
		}
	}

	return &Controller{
		deps:      deps,
		cfg:       cfg,
		detector:  cfg.Detector(),
		cmds:      make(chan command),
		events:    make(chan any, 64),
		stopped:   make(chan struct{}),
		ctx:       context.Background(),
		sessionID: uuid.NewString(),
		buf:       NewContextBuffer(cfg.ContextSize),
	}
}

// Run processes commands and events until ctx is done. It must be called
// exactly once.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	defer c.shutdown()

	log.Info("Session controller running", "session", c.sessionID, "source", c.deps.Source.Name())
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-c.cmds:
			cmd.run(cmd.reply)
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Controller) shutdown() {
	c.teardown()
	for _, w := range c.connectWaiters {
		w <- ErrClosed
	}
	c.connectWaiters = nil
	close(c.stopped)
	log.Info("Session controller stopped", "session", c.sessionID)
}

// Connect checks the backends. A failure is returned at once but only shown
// to the observer if no new attempt starts within the connect grace period.
func (c *Controller) Connect(ctx context.Context) error {
	return c.call(ctx, c.connect)
}

// ToggleListening starts capture from Idle and stops it otherwise.
func (c *Controller) ToggleListening(ctx context.Context) error {
	return c.call(ctx, func(reply chan<- error) {
		switch c.state {
		case Idle:
			if !c.connected {
				reply <- ErrNotConnected
				return
			}
			reply <- c.startListening()
		case Connecting:
			reply <- ErrNotConnected
		default:
			c.stopListening("toggle")
			reply <- nil
		}
	})
}

// StopListening releases the microphone and cancels in-flight work. The
// session stays active and keeps its context.
func (c *Controller) StopListening(ctx context.Context) error {
	return c.call(ctx, func(reply chan<- error) {
		c.stopListening("stop")
		reply <- nil
	})
}

// EndSession forces Idle, clears the context and deactivates the session.
func (c *Controller) EndSession(ctx context.Context) error {
	return c.call(ctx, func(reply chan<- error) {
		c.endSession("end")
		reply <- nil
	})
}

// UpdateConfig merges p into the config. While a session cycle is running
// the change waits until capture is next armed.
func (c *Controller) UpdateConfig(ctx context.Context, p Partial) error {
	if p.Language != nil {
		if _, err := phrase.ParseLanguage(string(*p.Language)); err != nil {
			return err
		}
	}
	if p.IntentSource != nil && *p.IntentSource != nlu.FromReply && *p.IntentSource != nlu.FromUtterance {
		return fmt.Errorf("unknown intent source %q", *p.IntentSource)
	}
	return c.call(ctx, func(reply chan<- error) {
		base := c.cfg
		if c.pending != nil {
			base = *c.pending
		}
		next := base.Apply(p)
		c.pending = &next
		if c.state == Idle {
			c.applyPending()
		}
		c.publish()
		reply <- nil
	})
}

func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	out := make(chan Snapshot, 1)
	err := c.call(ctx, func(reply chan<- error) {
		out <- c.snapshot()
		reply <- nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return <-out, nil
}

func (c *Controller) call(ctx context.Context, run func(reply chan<- error)) error {
	cmd := command{run: run, reply: make(chan error, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-c.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post hands an event to the loop unless ctx ends first.
func (c *Controller) post(ctx context.Context, ev any) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	case <-c.stopped:
	}
}

func (c *Controller) handle(ev any) {
	switch ev := ev.(type) {
	case chunkArrived:
		c.onChunk(ev)
	case captureFailed:
		c.onCaptureFailed(ev)
	case transcribed:
		c.onTranscribed(ev)
	case replied:
		c.onReplied(ev)
	case progressed:
		if ev.gen == c.roundGen {
			c.deps.Observer.ReplyProgress(ev.text)
		}
	case playbackEnded:
		c.onPlaybackEnded(ev)
	case rearmDue:
		c.onRearm(ev)
	case connectDone:
		c.onConnectDone(ev)
	case connectGraceExpired:
		if ev.gen == c.connectGen && !c.connected && c.state != Connecting {
			c.deps.Observer.Error(ev.err)
		}
	default:
		log.Warn("Unknown session event", "event", fmt.Sprintf("%T", ev))
	}
}

func (c *Controller) setState(s State) {
	if c.state != s {
		log.Debug("Session state", "from", c.state, "to", s, "session", c.sessionID)
	}
	c.state = s
	c.publish()
}

func (c *Controller) publish() {
	c.deps.Observer.StateChanged(c.snapshot())
}

func (c *Controller) snapshot() Snapshot {
	return Snapshot{
		SessionID:     c.sessionID,
		State:         c.state,
		Active:        c.active,
		Connected:     c.connected,
		Context:       c.buf.Items(),
		Queued:        len(c.queue),
		Config:        c.cfg,
		PendingConfig: c.pending != nil,
	}
}

func (c *Controller) applyPending() {
	if c.pending == nil {
		return
	}
	c.cfg = *c.pending
	c.pending = nil
	c.detector = c.cfg.Detector()
	log.Info("Applied config", "wake", c.cfg.WakePhrase, "language", c.cfg.Language,
		"autoListen", c.cfg.AutoListen, "intentSource", c.cfg.IntentSource)
}

// connect

func (c *Controller) connect(reply chan<- error) {
	if c.connected {
		reply <- nil
		return
	}
	c.connectWaiters = append(c.connectWaiters, reply)
	if c.state == Connecting {
		return
	}

	c.connectGen++
	gen := c.connectGen
	c.setState(Connecting)
	log.Info("Connecting", "session", c.sessionID, "probes", len(c.deps.Probes))

	ctx, probes, timeout := c.ctx, c.deps.Probes, c.cfg.ProbeTimeout
	go func() {
		err := probeAll(ctx, probes, timeout)
		if err != nil && ctx.Err() == nil {
			log.Warn("Probe failed, retrying once", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(timeout / 4):
				err = probeAll(ctx, probes, timeout)
			}
		}
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrConnectFailed, err)
		}
		c.post(ctx, connectDone{gen: gen, err: err})
	}()
}

func probeAll(ctx context.Context, probes []Prober, timeout time.Duration) error {
	for _, p := range probes {
		pctx, cancel := context.WithTimeout(ctx, timeout)
		err := p.Probe(pctx)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) onConnectDone(ev connectDone) {
	if ev.gen != c.connectGen {
		return
	}
	waiters := c.connectWaiters
	c.connectWaiters = nil

	c.connected = ev.err == nil
	if ev.err != nil {
		log.Warn("Connect failed", "err", ev.err, "grace", c.cfg.ConnectGrace)
		gen, err := ev.gen, ev.err
		time.AfterFunc(c.cfg.ConnectGrace, func() {
			c.post(c.ctx, connectGraceExpired{gen: gen, err: err})
		})
	} else {
		log.Info("Connected", "session", c.sessionID)
	}
	c.setState(Idle)

	for _, w := range waiters {
		w <- ev.err
	}
}

// capture

func (c *Controller) startListening() error {
	if err := c.armCapture(); err != nil {
		log.Error("Failed to start capture", "err", err)
		c.stopListening("capture start failed")
		c.deps.Observer.Error(err)
		return err
	}
	return nil
}

func (c *Controller) armCapture() error {
	c.applyPending()
	if c.capture != nil {
		c.setState(Listening)
		return nil
	}

	c.captureGen++
	gen := c.captureGen
	ctx, cancel := context.WithCancel(c.ctx)
	h, err := c.deps.Source.Start(ctx,
		func(ch stt.Chunk) { c.post(ctx, chunkArrived{gen: gen, chunk: ch}) },
		func(err error) { c.post(ctx, captureFailed{gen: gen, err: err}) },
	)
	if err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", c.deps.Source.Name(), err)
	}
	c.capture, c.captureCancel = h, cancel

	if c.deps.Cue != nil {
		go c.deps.Cue()
	}
	log.Info("Listening", "source", c.deps.Source.Name(), "session", c.sessionID, "active", c.active)
	c.setState(Listening)
	return nil
}

// disarmCapture cancels before stopping so a capture goroutine blocked on
// post can exit.
func (c *Controller) disarmCapture() {
	if c.capture == nil {
		return
	}
	c.captureCancel()
	c.capture.Stop()
	c.capture, c.captureCancel = nil, nil
	c.captureGen++
	log.Debug("Capture released", "source", c.deps.Source.Name())
}

func (c *Controller) onCaptureFailed(ev captureFailed) {
	if ev.gen != c.captureGen {
		return
	}
	if errors.Is(ev.err, audio.ErrPermissionDenied) || errors.Is(ev.err, audio.ErrCaptureFailed) {
		log.Error("Capture failed", "source", c.deps.Source.Name(), "err", ev.err)
		c.stopListening("capture failed")
		c.deps.Observer.Error(ev.err)
		return
	}
	log.Warn("Capture error", "source", c.deps.Source.Name(), "err", ev.err)
}

func (c *Controller) onChunk(ev chunkArrived) {
	if ev.gen != c.captureGen {
		return
	}
	ch := ev.chunk
	if ch.IsText() && !ch.Final {
		if text := strings.TrimSpace(ch.Text); text != "" {
			c.deps.Observer.Transcript(stt.Utterance{Text: text, CapturedAt: ch.CapturedAt})
		}
		return
	}

	if len(c.chunks) >= c.cfg.QueueLimit {
		c.chunks = c.chunks[1:]
		log.Warn("Transcription backlog full, dropped oldest chunk", "limit", c.cfg.QueueLimit)
	}
	c.chunks = append(c.chunks, ch)
	c.pump()
}

// transcription

func (c *Controller) pump() {
	if c.transcribing || len(c.chunks) == 0 {
		return
	}
	ch := c.chunks[0]
	c.chunks = c.chunks[1:]

	c.transcribing = true
	c.transcribeGen++
	gen := c.transcribeGen
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.TranscribeTimeout)
	c.transcribeCancel = cancel

	gw, req, loop := c.deps.Gateway, stt.Request{Language: c.cfg.Language, Context: c.buf.Items()}, c.ctx
	go func() {
		defer cancel()
		u, err := gw.Transcribe(ctx, ch, req)
		c.post(loop, transcribed{gen: gen, utt: u, err: err})
	}()
}

func (c *Controller) cancelTranscription() {
	if c.transcribeCancel != nil {
		c.transcribeCancel()
		c.transcribeCancel = nil
	}
	c.transcribing = false
	c.transcribeGen++
	c.chunks = nil
}

func (c *Controller) onTranscribed(ev transcribed) {
	if ev.gen != c.transcribeGen {
		return
	}
	c.transcribing = false
	c.transcribeCancel = nil

	switch {
	case errors.Is(ev.err, stt.ErrNoSpeech):
		log.Debug("No speech in chunk")
	case ev.err != nil:
		log.Warn("Transcription failed, chunk dropped", "err", ev.err)
	case !ev.utt.Final:
		c.deps.Observer.Transcript(ev.utt)
	default:
		c.onUtterance(ev.utt)
	}
	c.pump()
}

// onUtterance gates a final utterance through the stop and wake rules.
func (c *Controller) onUtterance(u stt.Utterance) {
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return
	}
	u.Text = text
	c.deps.Observer.Transcript(u)

	wake := c.detector.IsWake(text)
	if c.detector.IsStop(text) && (c.active || wake) {
		log.Info("Stop phrase heard", "text", text, "session", c.sessionID)
		c.endSession("stop phrase")
		return
	}

	if !c.active {
		if !wake {
			log.Debug("Waiting for wake phrase", "text", text)
			return
		}
		c.active = true
		log.Info("Wake phrase heard, session active", "session", c.sessionID)
		c.publish()
	}
	if wake && c.detector.Strip(text) == "" {
		return
	}

	if c.state == Speaking && c.cfg.BargeIn && c.capture != nil {
		log.Info("Barge-in, cutting reply short")
		c.cancelRound()
		c.setState(Listening)
	}

	if c.state == Processing || c.state == Speaking {
		if len(c.queue) >= c.cfg.QueueLimit {
			c.queue = c.queue[1:]
		}
		c.queue = append(c.queue, text)
		log.Info("Utterance queued behind current reply", "queued", len(c.queue))
		c.publish()
		return
	}
	c.startRound(text)
}

// round trip

func (c *Controller) startRound(text string) {
	if !c.cfg.OverlapCapture {
		c.disarmCapture()
	}

	history := c.buf.Items()
	c.buf.Push(text)

	c.roundGen++
	gen := c.roundGen
	c.roundCtx, c.roundCancel = context.WithCancel(c.ctx)
	c.setState(Processing)

	lang := c.cfg.Language.Resolve(text)
	var cmd *nlu.Action
	if c.cfg.IntentSource == nlu.FromUtterance {
		if a, ok := c.deps.Extractor.ExtractCommand(text, c.cfg.Language); ok {
			cmd = &a
		}
	}

	prompt := nlu.Prompt{
		System:   c.cfg.SystemPrompt,
		Context:  history,
		UserText: text,
		Language: c.cfg.Language,
	}
	ctx, model, timeout, loop := c.roundCtx, c.deps.Model, c.cfg.ReplyTimeout, c.ctx
	log.Info("Processing utterance", "text", text, "context", len(history), "session", c.sessionID)
	go func() {
		rctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		reply, err := model.Reply(rctx, prompt)
		c.post(loop, replied{gen: gen, text: text, reply: reply, err: err, lang: lang, command: cmd})
	}()
}

func (c *Controller) cancelRound() {
	if c.roundCancel != nil {
		c.roundCancel()
		c.roundCancel = nil
	}
	if c.rearmTimer != nil {
		c.rearmTimer.Stop()
		c.rearmTimer = nil
	}
	c.roundGen++
}

func (c *Controller) onReplied(ev replied) {
	if ev.gen != c.roundGen {
		return
	}

	reply := strings.TrimSpace(ev.reply)
	if ev.err == nil && reply == "" {
		ev.err = &nlu.ModelError{Backend: "model", Err: errors.New("empty reply")}
	}
	if ev.err != nil {
		log.Error("Language model failed, speaking fallback", "err", ev.err)
		reply = nlu.Apology(ev.lang)
	} else {
		log.Info("Reply", "text", reply)
	}

	action, ok := nlu.Action{}, false
	switch {
	case c.cfg.IntentSource == nlu.FromUtterance:
		if ev.command != nil {
			action, ok = *ev.command, true
		}
	case ev.err == nil:
		action, ok = c.deps.Extractor.Extract(reply, ev.text, c.cfg.Language)
	}
	if ok {
		c.execute(action)
	}

	c.speak(ev.gen, reply, ev.lang)
}

func (c *Controller) execute(a nlu.Action) {
	exec, parent := c.deps.Executor, c.ctx
	if exec == nil {
		log.Warn("No executor for action", "type", a.Type)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(parent, 10*time.Second)
		defer cancel()
		exec.Execute(ctx, a)
	}()
}

func (c *Controller) speak(gen uint64, text string, lang phrase.Language) {
	c.setState(Speaking)

	ctx, synth, loop := c.roundCtx, c.deps.Synth, c.ctx
	r := Reply{Text: text, Language: lang, Stream: c.cfg.StreamReply}
	go func() {
		err := synth.Respond(ctx, r, func(p string) {
			c.post(ctx, progressed{gen: gen, text: p})
		})
		c.post(loop, playbackEnded{gen: gen, err: err})
	}()
}

func (c *Controller) onPlaybackEnded(ev playbackEnded) {
	if ev.gen != c.roundGen {
		return
	}
	if c.roundCancel != nil {
		c.roundCancel()
		c.roundCancel = nil
	}

	if ev.err != nil && !errors.Is(ev.err, context.Canceled) {
		log.Error("Speech synthesis failed", "err", ev.err)
		c.stopListening("synthesis failed")
		c.deps.Observer.Error(ev.err)
		return
	}

	if len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.startRound(next)
		return
	}

	if c.active && c.cfg.AutoListen {
		if c.capture != nil {
			c.setState(Listening)
			return
		}
		gen := c.roundGen
		c.rearmTimer = time.AfterFunc(c.cfg.RearmGrace, func() {
			c.post(c.ctx, rearmDue{gen: gen})
		})
		return
	}

	c.disarmCapture()
	c.setState(Idle)
}

func (c *Controller) onRearm(ev rearmDue) {
	if ev.gen != c.roundGen || c.state != Speaking {
		return
	}
	c.rearmTimer = nil
	if err := c.startListening(); err != nil {
		log.Warn("Re-arm failed", "err", err)
	}
}

// teardown

func (c *Controller) teardown() {
	c.disarmCapture()
	c.cancelTranscription()
	c.cancelRound()
	c.queue = nil
}

func (c *Controller) stopListening(reason string) {
	c.teardown()
	log.Info("Stopped listening", "reason", reason, "session", c.sessionID)
	c.setState(Idle)
}

func (c *Controller) endSession(reason string) {
	c.teardown()
	c.active = false
	c.buf.Clear()
	prev := c.sessionID
	c.sessionID = uuid.NewString()
	c.applyPending()
	log.Info("Session ended", "reason", reason, "session", prev, "next", c.sessionID)
	c.setState(Idle)
}
