package main

import (
	"context"
	"fmt"
	log "log/slog"
	"net/http"
	"os"
	"time"

	ws "github.com/gorilla/websocket"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"mizon/internal/audio"
	"mizon/internal/audio/mic"
	"mizon/internal/audio/replay"
	"mizon/internal/bus"
	"mizon/internal/config"
	"mizon/internal/nlu"
	"mizon/internal/notify"
	"mizon/internal/notify/cue"
	"mizon/internal/proxy"
	"mizon/internal/session"
	"mizon/internal/tts"
	"mizon/internal/tts/espeak"
	"mizon/pkg/protocol"
	"mizon/pkg/stt"
	"mizon/pkg/stt/whisper"
)

type daemon struct {
	ctl     *session.Controller
	closers []func()
}

func (d *daemon) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func build(ctx context.Context, cfg config.Config) (*daemon, error) {
	d := &daemon{}

	httpClient, err := proxy.NewSocksClient(cfg.Proxy, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("http client: %w", err)
	}
	dialer, err := proxy.NewDialer(cfg.Proxy)
	if err != nil {
		return nil, fmt.Errorf("ws dialer: %w", err)
	}
	log.Debug("Loaded proxy", "proxy", cfg.Proxy)

	model, err := buildModel(cfg, httpClient)
	if err != nil {
		return nil, err
	}
	src, err := buildSource(cfg, dialer)
	if err != nil {
		return nil, err
	}
	gw, err := buildGateway(d, cfg, httpClient)
	if err != nil {
		return nil, err
	}
	synth, err := buildSynth(d, cfg)
	if err != nil {
		return nil, err
	}

	probes := []session.Prober{}
	for _, x := range []any{gw, model} {
		if p, ok := x.(session.Prober); ok {
			probes = append(probes, p)
		}
	}

	observers := session.Observers{logObserver{}}
	exec := &nlu.Executor{}
	var bridge *bus.Bridge

	if cfg.BusURL != "" {
		ptcl, err := protocol.NewProtocol(ctx, protocol.PtclConfig{
			Shard:  cfg.Shard,
			Url:    cfg.BusURL,
			Dialer: dialer,
			Reconn: 2 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("bus: %w", err)
		}
		d.closers = append(d.closers, ptcl.Close)

		bridge = bus.New(ptcl, cfg.AppShard)
		ptcl.EmitOut(bridge.Handle)
		go ptcl.Run(ctx)
		go bridge.Run(ctx)

		exec.Navigator, exec.Notes, exec.Reminders, exec.Bills, exec.Notifier = bridge, bridge, bridge, bridge, bridge
		observers = append(observers, bridge)
		probes = append(probes, bridge)
		log.Debug("Loaded bus", "url", cfg.BusURL, "shard", cfg.Shard, "app", cfg.AppShard)
	} else {
		desk := notify.NewDesktop("mizon")
		app := localApp{}
		exec.Navigator, exec.Notes, exec.Reminders, exec.Bills, exec.Notifier = app, app, app, app, desk
		observers = append(observers, desk)
		log.Debug("No bus configured, using desktop notifications")
	}

	deps := session.Deps{
		Source:   src,
		Gateway:  gw,
		Model:    model,
		Executor: exec,
		Synth:    synth,
		Observer: observers,
		Probes:   probes,
	}
	if cfg.Cue != "" {
		beep := cue.NewBeep(cfg.Cue)
		deps.Cue = func() {
			if err := beep.Play(); err != nil {
				log.Warn("Failed to play cue", "err", err)
			}
		}
	}

	d.ctl = session.New(cfg.Session, deps)
	if bridge != nil {
		bridge.Bind(d.ctl, exec)
	}
	return d, nil
}

func buildModel(cfg config.Config, hc *http.Client) (nlu.Model, error) {
	switch cfg.Model {
	case config.ModelOpenAI:
		client := openai.NewClient(
			option.WithAPIKey(cfg.OpenAIKey),
			option.WithHTTPClient(hc),
		)
		log.Debug("Loaded API Key")
		return nlu.NewOpenAI(client, cfg.OpenAIModel), nil
	case config.ModelHTTP:
		return nlu.NewHTTPModel(cfg.LMURL, hc), nil
	}
	return nil, fmt.Errorf("unknown model %q", cfg.Model)
}

func buildSource(cfg config.Config, dialer *ws.Dialer) (audio.Source, error) {
	switch cfg.Source {
	case config.SourceStream:
		header := http.Header{}
		if cfg.RecognizerToken != "" {
			header.Set("Authorization", "Bearer "+cfg.RecognizerToken)
		}
		return &audio.StreamRecognizer{
			URL:      cfg.RecognizerURL,
			Header:   header,
			Language: cfg.Session.Language.Hint(),
			Backoff:  audio.DefaultBackoff,
			Dialer:   dialer,
		}, nil
	case config.SourceMic:
		return mic.NewRecorder(cfg.ChunkInterval), nil
	case config.SourceFile:
		return &replay.FileSource{Paths: cfg.Files, Interval: cfg.ChunkInterval}, nil
	case config.SourceLine:
		if cfg.LinePath == "" {
			return audio.NewLineSource("stdin", os.Stdin), nil
		}
		return audio.NewLineSourceFromPath(cfg.LinePath), nil
	}
	return nil, fmt.Errorf("unknown source %q", cfg.Source)
}

func buildGateway(d *daemon, cfg config.Config, hc *http.Client) (stt.Gateway, error) {
	switch cfg.STT {
	case config.STTWhisper:
		t, err := whisper.New(cfg.WhisperModel, whisper.Options{SplitOnWord: true})
		if err != nil {
			return nil, fmt.Errorf("whisper: %w", err)
		}
		d.closers = append(d.closers, func() { t.Close() })
		log.Debug("Loaded whisper", "model", cfg.WhisperModel)
		return stt.Router{Audio: t}, nil
	case config.STTHTTP:
		return stt.Router{Audio: stt.NewHTTPGateway(cfg.STTURL, hc)}, nil
	case config.STTPassThrough:
		return stt.PassThrough{}, nil
	}
	return nil, fmt.Errorf("unknown stt %q", cfg.STT)
}

func buildSynth(d *daemon, cfg config.Config) (*session.Synthesizer, error) {
	var sp tts.Speaker = tts.Estimated{}
	if cfg.TTS == config.TTSEspeak {
		es, err := espeak.New()
		if err != nil {
			return nil, fmt.Errorf("espeak: %w", err)
		}
		d.closers = append(d.closers, func() { es.Close() })
		sp = es
		log.Debug("Loaded espeak")
	}

	synth := session.NewSynthesizer(sp)
	synth.Rate, synth.Pitch = cfg.Speech.Rate, cfg.Speech.Pitch
	if cfg.Duck.Enabled {
		ducker := audio.NewDucker(append([]string{"mizon", "espeak"}, cfg.Duck.Ignore...), cfg.Duck.MinVolume)
		ducker.Factor = cfg.Duck.Factor
		synth.Ducker = ducker
	}
	return synth, nil
}

// localApp stands in for the phone app when no bus is configured.
type localApp struct{}

func (localApp) Navigate(_ context.Context, path string) error {
	log.Info("Navigate", "route", path)
	return nil
}

func (localApp) AppendItems(_ context.Context, items []string) error {
	log.Info("Shopping list", "items", items)
	return nil
}

func (localApp) CreateReminder(_ context.Context, r nlu.Reminder) error {
	log.Info("Reminder", "text", r.Text, "at", r.CreatedAt.Format(time.Kitchen))
	return nil
}

func (localApp) ProcessBill(_ context.Context, note string) error {
	log.Info("Bill", "note", note)
	return nil
}

type logObserver struct{}

func (logObserver) StateChanged(s session.Snapshot) {
	log.Info("State", "state", s.State, "active", s.Active, "queued", s.Queued)
}

func (logObserver) Transcript(u stt.Utterance) {
	if u.Final {
		log.Info("Heard", "text", u.Text)
		return
	}
	log.Debug("Hearing", "text", u.Text)
}

func (logObserver) ReplyProgress(text string) {
	log.Debug("Reply", "text", text)
}

func (logObserver) Error(err error) {
	log.Error("Session error", "err", err)
}
