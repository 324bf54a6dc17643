// Package config assembles the daemon's options from defaults, an optional
// YAML file, the environment (and .env file) and command line flags, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"mizon/internal/nlu"
	"mizon/internal/session"
	"mizon/pkg/phrase"
)

// Source names.
const (
	SourceStream = "stream"
	SourceMic    = "mic"
	SourceFile   = "file"
	SourceLine   = "line"
)

// Backend names.
const (
	STTPassThrough = "passthrough"
	STTWhisper     = "whisper"
	STTHTTP        = "http"

	ModelOpenAI = "openai"
	ModelHTTP   = "http"

	TTSEspeak = "espeak"
	TTSNone   = "none"
)

type Speech struct {
	Rate  int `yaml:"rate"`
	Pitch int `yaml:"pitch"`
}

type Duck struct {
	Enabled   bool     `yaml:"enabled"`
	Factor    float64  `yaml:"factor"`
	MinVolume int      `yaml:"min_volume"`
	Ignore    []string `yaml:"ignore"`
}

type Timings struct {
	RearmGrace        time.Duration `yaml:"rearm_grace"`
	ConnectGrace      time.Duration `yaml:"connect_grace"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
	TranscribeTimeout time.Duration `yaml:"transcribe_timeout"`
	ReplyTimeout      time.Duration `yaml:"reply_timeout"`
	TokenDelay        time.Duration `yaml:"token_delay"`
	ChunkInterval     time.Duration `yaml:"chunk_interval"`
}

// File is the YAML layout. Unset fields keep their defaults.
type File struct {
	WakePhrase     string   `yaml:"wake_phrase"`
	WakeAliases    []string `yaml:"wake_aliases"`
	StopPhrases    []string `yaml:"stop_phrases"`
	Language       string   `yaml:"language"`
	AutoListen     *bool    `yaml:"auto_listen"`
	StreamReply    *bool    `yaml:"stream_reply"`
	OverlapCapture *bool    `yaml:"overlap_capture"`
	BargeIn        *bool    `yaml:"barge_in"`
	IntentSource   string   `yaml:"intent_source"`
	SystemPrompt   string   `yaml:"system_prompt"`
	ContextSize    int      `yaml:"context_size"`

	Source       string   `yaml:"source"`
	Files        []string `yaml:"files"`
	STT          string   `yaml:"stt"`
	WhisperModel string   `yaml:"whisper_model"`
	Model        string   `yaml:"model"`
	OpenAIModel  string   `yaml:"openai_model"`
	TTS          string   `yaml:"tts"`
	Cue          string   `yaml:"cue"`
	Socket       string   `yaml:"socket"`
	Shard        string   `yaml:"shard"`
	AppShard     string   `yaml:"app_shard"`

	Speech  Speech  `yaml:"speech"`
	Duck    Duck    `yaml:"duck"`
	Timings Timings `yaml:"timings"`
}

// Config is everything cmd/mizon needs to wire the daemon.
type Config struct {
	LogLevel string
	Proxy    string

	Source        string
	Files         []string
	LinePath      string
	ChunkInterval time.Duration

	STT          string
	WhisperModel string
	STTURL       string

	Model       string
	OpenAIModel string
	OpenAIKey   string
	LMURL       string

	TTS    string
	Speech Speech
	Duck   Duck
	Cue    string

	RecognizerURL   string
	RecognizerToken string

	BusURL   string
	Shard    string
	AppShard string
	Socket   string

	Session session.Config
}

func defaults() Config {
	return Config{
		LogLevel:      "info",
		Source:        SourceMic,
		ChunkInterval: 2500 * time.Millisecond,
		STT:           STTWhisper,
		WhisperModel:  "third_party/whisper.cpp/models/ggml-medium.bin",
		Model:         ModelOpenAI,
		TTS:           TTSEspeak,
		Speech:        Speech{Rate: 170, Pitch: 50},
		Duck:          Duck{Factor: 0.3, MinVolume: 10},
		Cue:           "beep.mp3",
		Shard:         "mizon",
		AppShard:      "app",
		Socket:        "/tmp/mizon.sock",
		Session:       session.DefaultConfig(),
	}
}

// Load parses args (without the program name).
func Load(args []string) (Config, error) {
	fset := cli.NewFlagSet("mizon", cli.ContinueOnError)

	envFile := fset.StringP("env", "e", ".env", "Env file path")
	cfgFile := fset.StringP("config", "c", "", "YAML config file")
	proxyAddr := fset.StringP("proxy", "p", "", "Socks Proxy Address")
	logLevel := fset.StringP("log", "l", "info", "Log level")
	source := fset.StringP("source", "s", SourceMic, "Capture source: stream|mic|file|line")
	files := fset.StringSlice("files", nil, "Audio files for the file source")
	line := fset.String("line", "", "Transcript file or FIFO for the line source (default stdin)")
	sttName := fset.String("stt", STTWhisper, "Transcription backend: whisper|http|passthrough")
	whisperModel := fset.String("whisper-model", "", "Path to the ggml model")
	model := fset.StringP("model", "m", ModelOpenAI, "Language model backend: openai|http")
	openaiModel := fset.String("openai-model", "", "OpenAI chat model")
	ttsName := fset.String("tts", TTSEspeak, "Speech output: espeak|none")
	wake := fset.StringP("wake", "w", "", "Wake phrase")
	lang := fset.String("lang", "", "Language: en|ar|auto")
	autoListen := fset.Bool("auto-listen", true, "Listen again after each reply")
	streamReply := fset.Bool("stream-reply", true, "Reveal replies word by word")
	overlap := fset.Bool("overlap", false, "Keep capturing while a command is processed")
	bargeIn := fset.Bool("barge-in", false, "Interrupt replies when the user speaks")
	intent := fset.String("intent", "", "Intent source: reply|utterance")
	socket := fset.String("socket", "", "Control socket path")
	cue := fset.String("cue", "", "Capture cue mp3, empty string disables")
	duck := fset.Bool("duck", false, "Lower other audio while speaking")
	interval := fset.Duration("interval", 0, "Chunk length for the mic and file sources")

	if err := fset.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := defaults()

	if *cfgFile != "" {
		f, err := readFile(*cfgFile)
		if err != nil {
			return Config{}, err
		}
		if err := cfg.applyFile(f); err != nil {
			return Config{}, fmt.Errorf("%s: %w", *cfgFile, err)
		}
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", *envFile, err)
	}
	cfg.applyEnv()

	set := fset.Changed
	if set("log") {
		cfg.LogLevel = *logLevel
	}
	if set("proxy") {
		cfg.Proxy = *proxyAddr
	}
	if set("source") {
		cfg.Source = *source
	}
	if set("files") {
		cfg.Files = *files
	}
	if set("line") {
		cfg.LinePath = *line
	}
	if set("stt") {
		cfg.STT = *sttName
	}
	if set("whisper-model") {
		cfg.WhisperModel = *whisperModel
	}
	if set("model") {
		cfg.Model = *model
	}
	if set("openai-model") {
		cfg.OpenAIModel = *openaiModel
	}
	if set("tts") {
		cfg.TTS = *ttsName
	}
	if set("wake") {
		cfg.Session.WakePhrase = strings.TrimSpace(*wake)
	}
	if set("lang") {
		l, err := phrase.ParseLanguage(*lang)
		if err != nil {
			return Config{}, err
		}
		cfg.Session.Language = l
	}
	if set("auto-listen") {
		cfg.Session.AutoListen = *autoListen
	}
	if set("stream-reply") {
		cfg.Session.StreamReply = *streamReply
	}
	if set("overlap") {
		cfg.Session.OverlapCapture = *overlap
	}
	if set("barge-in") {
		cfg.Session.BargeIn = *bargeIn
	}
	if set("intent") {
		cfg.Session.IntentSource = nlu.IntentSource(*intent)
	}
	if set("socket") {
		cfg.Socket = *socket
	}
	if set("cue") {
		cfg.Cue = *cue
	}
	if set("duck") {
		cfg.Duck.Enabled = *duck
	}
	if set("interval") {
		cfg.ChunkInterval = *interval
	}

	return cfg, cfg.validate()
}

func readFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read config: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return f, nil
}

func (c *Config) applyFile(f File) error {
	s := &c.Session
	setString(&s.WakePhrase, f.WakePhrase)
	if len(f.WakeAliases) > 0 {
		s.WakeAliases = f.WakeAliases
	}
	if len(f.StopPhrases) > 0 {
		s.StopPhrases = f.StopPhrases
	}
	if f.Language != "" {
		l, err := phrase.ParseLanguage(f.Language)
		if err != nil {
			return err
		}
		s.Language = l
	}
	setBool(&s.AutoListen, f.AutoListen)
	setBool(&s.StreamReply, f.StreamReply)
	setBool(&s.OverlapCapture, f.OverlapCapture)
	setBool(&s.BargeIn, f.BargeIn)
	if f.IntentSource != "" {
		s.IntentSource = nlu.IntentSource(f.IntentSource)
	}
	setString(&s.SystemPrompt, strings.TrimSpace(f.SystemPrompt))
	if f.ContextSize > 0 {
		s.ContextSize = f.ContextSize
	}

	t := f.Timings
	setDuration(&s.RearmGrace, t.RearmGrace)
	setDuration(&s.ConnectGrace, t.ConnectGrace)
	setDuration(&s.ProbeTimeout, t.ProbeTimeout)
	setDuration(&s.TranscribeTimeout, t.TranscribeTimeout)
	setDuration(&s.ReplyTimeout, t.ReplyTimeout)
	setDuration(&s.TokenDelay, t.TokenDelay)
	setDuration(&c.ChunkInterval, t.ChunkInterval)

	setString(&c.Source, f.Source)
	if len(f.Files) > 0 {
		c.Files = f.Files
	}
	setString(&c.STT, f.STT)
	setString(&c.WhisperModel, f.WhisperModel)
	setString(&c.Model, f.Model)
	setString(&c.OpenAIModel, f.OpenAIModel)
	setString(&c.TTS, f.TTS)
	setString(&c.Cue, f.Cue)
	setString(&c.Socket, f.Socket)
	setString(&c.Shard, f.Shard)
	setString(&c.AppShard, f.AppShard)

	if f.Speech.Rate > 0 {
		c.Speech.Rate = f.Speech.Rate
	}
	if f.Speech.Pitch > 0 {
		c.Speech.Pitch = f.Speech.Pitch
	}
	if f.Duck.Enabled {
		c.Duck.Enabled = true
	}
	if f.Duck.Factor > 0 {
		c.Duck.Factor = f.Duck.Factor
	}
	if f.Duck.MinVolume > 0 {
		c.Duck.MinVolume = f.Duck.MinVolume
	}
	if len(f.Duck.Ignore) > 0 {
		c.Duck.Ignore = f.Duck.Ignore
	}
	return nil
}

func (c *Config) applyEnv() {
	c.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	setString(&c.STTURL, os.Getenv("MIZON_STT_URL"))
	setString(&c.LMURL, os.Getenv("MIZON_LM_URL"))
	setString(&c.RecognizerURL, os.Getenv("MIZON_RECOGNIZER_URL"))
	setString(&c.RecognizerToken, os.Getenv("MIZON_RECOGNIZER_TOKEN"))
	setString(&c.BusURL, os.Getenv("MIZON_BUS_URL"))
	setString(&c.Proxy, os.Getenv("MIZON_PROXY"))
}

func (c *Config) validate() error {
	var errs []error

	switch c.Source {
	case SourceStream:
		if c.RecognizerURL == "" {
			errs = append(errs, errors.New("stream source needs MIZON_RECOGNIZER_URL"))
		}
	case SourceFile:
		if len(c.Files) == 0 {
			errs = append(errs, errors.New("file source needs --files"))
		}
	case SourceMic, SourceLine:
	default:
		errs = append(errs, fmt.Errorf("unknown source %q", c.Source))
	}

	switch c.STT {
	case STTWhisper:
		if c.WhisperModel == "" {
			errs = append(errs, errors.New("whisper needs --whisper-model"))
		}
	case STTHTTP:
		if c.STTURL == "" {
			errs = append(errs, errors.New("http stt needs MIZON_STT_URL"))
		}
	case STTPassThrough:
		if c.Source == SourceMic || c.Source == SourceFile {
			errs = append(errs, fmt.Errorf("%s source produces audio, passthrough stt cannot transcribe it", c.Source))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown stt %q", c.STT))
	}

	switch c.Model {
	case ModelOpenAI:
		if c.OpenAIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY not set"))
		}
	case ModelHTTP:
		if c.LMURL == "" {
			errs = append(errs, errors.New("http model needs MIZON_LM_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown model %q", c.Model))
	}

	switch c.TTS {
	case TTSEspeak, TTSNone:
	default:
		errs = append(errs, fmt.Errorf("unknown tts %q", c.TTS))
	}

	switch c.Session.IntentSource {
	case nlu.FromReply, nlu.FromUtterance:
	default:
		errs = append(errs, fmt.Errorf("unknown intent source %q", c.Session.IntentSource))
	}
	if c.Session.WakePhrase == "" {
		errs = append(errs, errors.New("empty wake phrase"))
	}

	return errors.Join(errs...)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}
