package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"mizon/internal/nlu"
	"mizon/pkg/phrase"
)

// Config is the session's behaviour. Runtime changes arrive as a Partial and
// take effect the next time capture is armed.
type Config struct {
	WakePhrase string          `json:"wakePhrase"`
	AutoListen bool            `json:"autoListen"`
	// StreamReply reveals the reply word by word instead of all at once.
	StreamReply bool            `json:"streamReply"`
	Language    phrase.Language `json:"language"`

	// OverlapCapture keeps the microphone open while a command is processed.
	OverlapCapture bool `json:"overlapCapture"`
	// BargeIn stops playback when the user speaks over the assistant.
	// Requires OverlapCapture or a source that ignores its own output.
	BargeIn      bool             `json:"bargeIn"`
	IntentSource nlu.IntentSource `json:"intentSource"`

	// WakeAliases and StopPhrases replace the built in sets when non-empty.
	WakeAliases  []string `json:"wakeAliases,omitempty"`
	StopPhrases  []string `json:"stopPhrases,omitempty"`
	SystemPrompt string   `json:"-"`

	ContextSize       int           `json:"contextSize"`
	QueueLimit        int           `json:"queueLimit"`
	RearmGrace        time.Duration `json:"rearmGrace"`
	ConnectGrace      time.Duration `json:"connectGrace"`
	ProbeTimeout      time.Duration `json:"probeTimeout"`
	TranscribeTimeout time.Duration `json:"transcribeTimeout"`
	ReplyTimeout      time.Duration `json:"replyTimeout"`
	TokenDelay        time.Duration `json:"tokenDelay"`
}

func DefaultConfig() Config {
	return Config{
		WakePhrase:        "hey mizon",
		AutoListen:        true,
		StreamReply:       true,
		Language:          phrase.Auto,
		IntentSource:      nlu.FromReply,
		SystemPrompt:      nlu.DefaultSystemPrompt,
		ContextSize:       DefaultContextSize,
		QueueLimit:        8,
		RearmGrace:        400 * time.Millisecond,
		ConnectGrace:      2 * time.Second,
		ProbeTimeout:      5 * time.Second,
		TranscribeTimeout: 15 * time.Second,
		ReplyTimeout:      30 * time.Second,
		TokenDelay:        60 * time.Millisecond,
	}
}

// withDefaults fills zero durations and sizes.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Language == "" {
		c.Language = d.Language
	}
	if c.IntentSource == "" {
		c.IntentSource = d.IntentSource
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = d.SystemPrompt
	}
	if c.ContextSize <= 0 {
		c.ContextSize = d.ContextSize
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = d.QueueLimit
	}
	if c.RearmGrace <= 0 {
		c.RearmGrace = d.RearmGrace
	}
	if c.ConnectGrace <= 0 {
		c.ConnectGrace = d.ConnectGrace
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.TranscribeTimeout <= 0 {
		c.TranscribeTimeout = d.TranscribeTimeout
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = d.ReplyTimeout
	}
	if c.TokenDelay <= 0 {
		c.TokenDelay = d.TokenDelay
	}
	return c
}

// Detector builds the wake and stop matcher for this config.
func (c Config) Detector() phrase.Detector {
	if len(c.WakeAliases) == 0 && len(c.StopPhrases) == 0 {
		return phrase.Defaults(c.WakePhrase)
	}
	base := phrase.Defaults(c.WakePhrase)
	wake := base.WakePhrases()
	if len(c.WakeAliases) > 0 {
		wake = append([]string{c.WakePhrase}, c.WakeAliases...)
	}
	stop := base.StopPhrases()
	if len(c.StopPhrases) > 0 {
		stop = c.StopPhrases
	}
	return phrase.New(wake, stop)
}

// Partial is a runtime config update. Nil fields are left unchanged.
type Partial struct {
	WakePhrase     *string           `json:"wakePhrase,omitempty"`
	AutoListen     *bool             `json:"autoListen,omitempty"`
	StreamReply    *bool             `json:"streamReply,omitempty"`
	Language       *phrase.Language  `json:"language,omitempty"`
	OverlapCapture *bool             `json:"overlapCapture,omitempty"`
	BargeIn        *bool             `json:"bargeIn,omitempty"`
	IntentSource   *nlu.IntentSource `json:"intentSource,omitempty"`
}

func (p Partial) IsZero() bool {
	return p == Partial{}
}

func (c Config) Apply(p Partial) Config {
	if p.WakePhrase != nil && strings.TrimSpace(*p.WakePhrase) != "" {
		c.WakePhrase = strings.TrimSpace(*p.WakePhrase)
	}
	if p.AutoListen != nil {
		c.AutoListen = *p.AutoListen
	}
	if p.StreamReply != nil {
		c.StreamReply = *p.StreamReply
	}
	if p.Language != nil {
		c.Language = *p.Language
	}
	if p.OverlapCapture != nil {
		c.OverlapCapture = *p.OverlapCapture
	}
	if p.BargeIn != nil {
		c.BargeIn = *p.BargeIn
	}
	if p.IntentSource != nil {
		c.IntentSource = *p.IntentSource
	}
	return c
}

// ParsePartial reads key=value pairs such as "language=ar" or
// "autoListen=false".
func ParsePartial(pairs []string) (Partial, error) {
	var p Partial
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return Partial{}, fmt.Errorf("expected key=value, got %q", kv)
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)

		switch k {
		case "wake", "wakephrase":
			if v == "" {
				return Partial{}, fmt.Errorf("empty wake phrase")
			}
			p.WakePhrase = &v
		case "lang", "language":
			l, err := phrase.ParseLanguage(v)
			if err != nil {
				return Partial{}, err
			}
			p.Language = &l
		case "intent", "intentsource":
			s := nlu.IntentSource(v)
			if s != nlu.FromReply && s != nlu.FromUtterance {
				return Partial{}, fmt.Errorf("unknown intent source %q", v)
			}
			p.IntentSource = &s
		case "autolisten", "streamreply", "overlapcapture", "bargein":
			b, err := strconv.ParseBool(v)
			if err != nil {
				return Partial{}, fmt.Errorf("%s: %w", k, err)
			}
			switch k {
			case "autolisten":
				p.AutoListen = &b
			case "streamreply":
				p.StreamReply = &b
			case "overlapcapture":
				p.OverlapCapture = &b
			case "bargein":
				p.BargeIn = &b
			}
		default:
			return Partial{}, fmt.Errorf("unknown config key %q", k)
		}
	}
	return p, nil
}
