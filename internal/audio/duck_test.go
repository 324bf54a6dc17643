package audio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pactlOutput = `Sink Input #41
	Driver: protocol-native.c
	Volume: front-left: 65536 / 100% / 0.00 dB,   front-right: 65536 / 100% / 0.00 dB
	Properties:
		application.name = "Firefox"
Sink Input #42
	Volume: front-left: 32768 /  50% / -18.06 dB
	Properties:
		application.name = "mizon"
Sink Input #bad
	Volume: 10%
`

func TestParseSinkInputs(t *testing.T) {
	got := parseSinkInputs(pactlOutput)
	assert.Equal(t, []sinkInput{
		{ID: 41, Volume: 100, AppName: "Firefox"},
		{ID: 42, Volume: 50, AppName: "mizon"},
	}, got)
}

func TestDuckerDuckAndRestore(t *testing.T) {
	vol := map[int]int{41: 100, 42: 50}
	d := NewDucker([]string{"mizon"}, 10)
	d.Duration = 0
	d.list = func(context.Context) ([]sinkInput, error) {
		return []sinkInput{{ID: 41, Volume: vol[41], AppName: "Firefox"}, {ID: 42, Volume: vol[42], AppName: "mizon"}}, nil
	}
	d.set = func(_ context.Context, id, percent int) error {
		vol[id] = percent
		return nil
	}

	require.NoError(t, d.Duck(context.Background()))
	assert.Equal(t, 30, vol[41])
	assert.Equal(t, 50, vol[42])

	// second duck is a no-op
	require.NoError(t, d.Duck(context.Background()))
	assert.Equal(t, 30, vol[41])

	require.NoError(t, d.Restore(context.Background()))
	assert.Equal(t, 100, vol[41])
}

func TestDuckerRespectsMinVolume(t *testing.T) {
	var last int
	d := NewDucker(nil, 40)
	d.Duration = 20 * time.Millisecond
	d.list = func(context.Context) ([]sinkInput, error) {
		return []sinkInput{{ID: 1, Volume: 80}}, nil
	}
	d.set = func(_ context.Context, _ int, percent int) error {
		last = percent
		return nil
	}
	require.NoError(t, d.Duck(context.Background()))
	assert.Equal(t, 40, last)
}
