package stt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mizon/pkg/phrase"
)

func TestPassThrough(t *testing.T) {
	now := time.Now()
	u, err := PassThrough{}.Transcribe(context.Background(), Chunk{Text: " hey mizon ", Final: true, CapturedAt: now}, Request{})
	require.NoError(t, err)
	assert.Equal(t, Utterance{Text: "hey mizon", Final: true, CapturedAt: now}, u)

	_, err = PassThrough{}.Transcribe(context.Background(), Chunk{Text: "   "}, Request{})
	assert.ErrorIs(t, err, ErrNoSpeech)
}

type stubGateway struct{ calls int }

func (s *stubGateway) Transcribe(context.Context, Chunk, Request) (Utterance, error) {
	s.calls++
	return Utterance{Text: "from audio", Final: true}, nil
}

func TestRouter(t *testing.T) {
	audio := &stubGateway{}
	r := Router{Audio: audio}

	u, err := r.Transcribe(context.Background(), Chunk{Text: "typed", Final: false}, Request{})
	require.NoError(t, err)
	assert.Equal(t, "typed", u.Text)
	assert.False(t, u.Final)
	assert.Zero(t, audio.calls)

	u, err = r.Transcribe(context.Background(), Chunk{PCM: []float32{0.1}}, Request{})
	require.NoError(t, err)
	assert.Equal(t, "from audio", u.Text)
	assert.Equal(t, 1, audio.calls)
}

func TestHTTPGatewayPostsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "ar", r.FormValue("language"))
		assert.Equal(t, "one two", r.FormValue("prompt"))

		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "RIFF", string(data[:4]))

		json.NewEncoder(w).Encode(map[string]string{"text": "  افتح البنك "})
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, srv.Client())
	u, err := g.Transcribe(context.Background(), Chunk{PCM: make([]float32, 1600)}, Request{
		Language: phrase.Arabic,
		Context:  []string{"one", "two"},
	})
	require.NoError(t, err)
	assert.Equal(t, "افتح البنك", u.Text)
	assert.True(t, u.Final)
}

func TestHTTPGatewayEmptyTextIsNoSpeech(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":"   "}`))
	}))
	defer srv.Close()

	_, err := NewHTTPGateway(srv.URL, srv.Client()).Transcribe(context.Background(), Chunk{PCM: []float32{0}}, Request{})
	assert.ErrorIs(t, err, ErrNoSpeech)
}

func TestHTTPGatewayMissingTextIsNoSpeech(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewHTTPGateway(srv.URL, srv.Client()).Transcribe(context.Background(), Chunk{PCM: []float32{0}}, Request{})
	assert.ErrorIs(t, err, ErrNoSpeech)
}

func TestHTTPGatewayNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPGateway(srv.URL, srv.Client()).Transcribe(context.Background(), Chunk{PCM: []float32{0}}, Request{})
	var te *TranscriptionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusBadGateway, te.Status)
}

func TestHTTPGatewayTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	g := NewHTTPGateway(srv.URL, srv.Client())
	g.Timeout = 50 * time.Millisecond

	_, err := g.Transcribe(context.Background(), Chunk{PCM: []float32{0}}, Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEncodeWAVHeader(t *testing.T) {
	data, err := EncodeWAV([]float32{0, 0.5, -0.5, 2})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), 44+4*2)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
}
