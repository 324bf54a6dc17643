package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mizon/internal/nlu"
	"mizon/pkg/phrase"
)

func TestParsePartial(t *testing.T) {
	p, err := ParsePartial([]string{"language=ar", "autoListen=false", "wake=hello there", "intent=utterance", "bargeIn=1"})
	require.NoError(t, err)

	require.NotNil(t, p.Language)
	assert.Equal(t, phrase.Arabic, *p.Language)
	require.NotNil(t, p.AutoListen)
	assert.False(t, *p.AutoListen)
	require.NotNil(t, p.WakePhrase)
	assert.Equal(t, "hello there", *p.WakePhrase)
	require.NotNil(t, p.IntentSource)
	assert.Equal(t, nlu.FromUtterance, *p.IntentSource)
	require.NotNil(t, p.BargeIn)
	assert.True(t, *p.BargeIn)
	assert.Nil(t, p.StreamReply)
}

func TestParsePartialErrors(t *testing.T) {
	for _, in := range [][]string{
		{"language"},
		{"language=fr"},
		{"autoListen=maybe"},
		{"volume=3"},
		{"wake="},
		{"intent=guess"},
	} {
		_, err := ParsePartial(in)
		assert.Error(t, err, "%v", in)
	}
	p, err := ParsePartial(nil)
	require.NoError(t, err)
	assert.True(t, p.IsZero())
}

func TestApplyLeavesUnsetFields(t *testing.T) {
	base := DefaultConfig()
	off := false
	blank := "   "
	got := base.Apply(Partial{StreamReply: &off, WakePhrase: &blank})

	assert.False(t, got.StreamReply)
	assert.Equal(t, base.WakePhrase, got.WakePhrase)
	assert.Equal(t, base.AutoListen, got.AutoListen)
}

func TestWithDefaults(t *testing.T) {
	c := Config{WakePhrase: "hey mizon"}.withDefaults()
	assert.Equal(t, 3, c.ContextSize)
	assert.Equal(t, 8, c.QueueLimit)
	assert.Equal(t, 400*time.Millisecond, c.RearmGrace)
	assert.Equal(t, 2*time.Second, c.ConnectGrace)
	assert.Equal(t, 15*time.Second, c.TranscribeTimeout)
	assert.Equal(t, phrase.Auto, c.Language)
	assert.Equal(t, nlu.FromReply, c.IntentSource)
}

func TestConfigDetector(t *testing.T) {
	c := DefaultConfig()
	c.WakePhrase = "hello computer"
	d := c.Detector()
	assert.True(t, d.IsWake("Hello, computer!"))
	assert.True(t, d.IsWake("hey mizon"))

	c.WakeAliases = []string{"jarvis"}
	c.StopPhrases = []string{"halt"}
	d = c.Detector()
	assert.True(t, d.IsWake("jarvis"))
	assert.False(t, d.IsWake("hey mizon"))
	assert.True(t, d.IsStop("halt please"))
	assert.False(t, d.IsStop("stop"))
}
