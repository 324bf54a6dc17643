package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mizon/internal/nlu"
	"mizon/pkg/phrase"
)

// clean clears the variables Load reads so host settings don't leak in.
func clean(t *testing.T) {
	for _, k := range []string{
		"OPENAI_API_KEY", "MIZON_STT_URL", "MIZON_LM_URL",
		"MIZON_RECOGNIZER_URL", "MIZON_RECOGNIZER_TOKEN", "MIZON_BUS_URL", "MIZON_PROXY",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func noEnv(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func writeFile(t *testing.T, name, body string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	clean(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load([]string{"-e", noEnv(t)})
	require.NoError(t, err)

	assert.Equal(t, SourceMic, cfg.Source)
	assert.Equal(t, STTWhisper, cfg.STT)
	assert.Equal(t, ModelOpenAI, cfg.Model)
	assert.Equal(t, "sk-test", cfg.OpenAIKey)
	assert.Equal(t, "hey mizon", cfg.Session.WakePhrase)
	assert.True(t, cfg.Session.AutoListen)
	assert.Equal(t, nlu.FromReply, cfg.Session.IntentSource)
	assert.Equal(t, "/tmp/mizon.sock", cfg.Socket)
}

func TestEnvFile(t *testing.T) {
	clean(t)
	env := writeFile(t, ".env", "OPENAI_API_KEY=from-file\nMIZON_BUS_URL=ws://hub:8092\n")

	cfg, err := Load([]string{"--env", env})
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.OpenAIKey)
	assert.Equal(t, "ws://hub:8092", cfg.BusURL)
}

func TestPrecedence(t *testing.T) {
	clean(t)
	t.Setenv("OPENAI_API_KEY", "sk")
	yml := writeFile(t, "mizon.yaml", `
wake_phrase: hello mizon
stop_phrases: [halt]
language: ar
auto_listen: false
source: line
stt: passthrough
system_prompt: |
  Be brief.
speech:
  rate: 140
timings:
  rearm_grace: 1s
  token_delay: 20ms
`)

	cfg, err := Load([]string{"-e", noEnv(t), "-c", yml, "--wake", "yo mizon", "--auto-listen=true"})
	require.NoError(t, err)

	assert.Equal(t, "yo mizon", cfg.Session.WakePhrase)
	assert.True(t, cfg.Session.AutoListen)
	assert.Equal(t, phrase.Arabic, cfg.Session.Language)
	assert.Equal(t, []string{"halt"}, cfg.Session.StopPhrases)
	assert.Equal(t, "Be brief.", cfg.Session.SystemPrompt)
	assert.Equal(t, SourceLine, cfg.Source)
	assert.Equal(t, STTPassThrough, cfg.STT)
	assert.Equal(t, 140, cfg.Speech.Rate)
	assert.Equal(t, 50, cfg.Speech.Pitch)
	assert.Equal(t, time.Second, cfg.Session.RearmGrace)
	assert.Equal(t, 20*time.Millisecond, cfg.Session.TokenDelay)
	assert.Equal(t, 2*time.Second, cfg.Session.ConnectGrace)
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		args []string
		want string
	}{
		{"no key", nil, nil, "OPENAI_API_KEY"},
		{"stream without url", map[string]string{"OPENAI_API_KEY": "k"}, []string{"-s", "stream", "--stt", "passthrough"}, "MIZON_RECOGNIZER_URL"},
		{"file without files", map[string]string{"OPENAI_API_KEY": "k"}, []string{"-s", "file"}, "--files"},
		{"passthrough on mic", map[string]string{"OPENAI_API_KEY": "k"}, []string{"--stt", "passthrough"}, "cannot transcribe"},
		{"http stt without url", map[string]string{"OPENAI_API_KEY": "k"}, []string{"--stt", "http"}, "MIZON_STT_URL"},
		{"http model without url", nil, []string{"-m", "http"}, "MIZON_LM_URL"},
		{"bad source", map[string]string{"OPENAI_API_KEY": "k"}, []string{"-s", "radio"}, "unknown source"},
		{"bad tts", map[string]string{"OPENAI_API_KEY": "k"}, []string{"--tts", "festival"}, "unknown tts"},
		{"bad intent", map[string]string{"OPENAI_API_KEY": "k"}, []string{"--intent", "both"}, "unknown intent"},
		{"blank wake", map[string]string{"OPENAI_API_KEY": "k"}, []string{"-w", "  "}, "empty wake"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clean(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load(append([]string{"-e", noEnv(t)}, tc.args...))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestBadLanguageFlag(t *testing.T) {
	clean(t)
	t.Setenv("OPENAI_API_KEY", "k")
	_, err := Load([]string{"-e", noEnv(t), "--lang", "fr"})
	assert.Error(t, err)
}

func TestBadYAML(t *testing.T) {
	clean(t)
	t.Setenv("OPENAI_API_KEY", "k")
	yml := writeFile(t, "bad.yaml", "timings: [not, a, map]\n")
	_, err := Load([]string{"-e", noEnv(t), "-c", yml})
	assert.Error(t, err)

	_, err = Load([]string{"-e", noEnv(t), "-c", filepath.Join(t.TempDir(), "none.yaml")})
	assert.Error(t, err)
}

func TestHTTPBackends(t *testing.T) {
	clean(t)
	t.Setenv("MIZON_STT_URL", "http://stt.local/transcribe")
	t.Setenv("MIZON_LM_URL", "http://lm.local/reply")

	cfg, err := Load([]string{"-e", noEnv(t), "-s", "file", "--files", "a.wav,b.mp3", "--stt", "http", "-m", "http", "--tts", "none", "--interval", "1s"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.wav", "b.mp3"}, cfg.Files)
	assert.Equal(t, "http://stt.local/transcribe", cfg.STTURL)
	assert.Equal(t, "http://lm.local/reply", cfg.LMURL)
	assert.Equal(t, TTSNone, cfg.TTS)
	assert.Equal(t, time.Second, cfg.ChunkInterval)
}
