package nlu

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mizon/pkg/phrase"
)

func TestHTTPModelReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p httpPrompt
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, []string{"hey mizon"}, p.Context)
		assert.Equal(t, "take me to banking", p.UserText)
		assert.True(t, strings.HasPrefix(p.SystemPrompt, "custom"))
		assert.Equal(t, "en", p.Language)
		json.NewEncoder(w).Encode(httpReply{Reply: " Opening Banking section "})
	}))
	defer srv.Close()

	m := NewHTTPModel(srv.URL, srv.Client())
	reply, err := m.Reply(context.Background(), Prompt{
		System:   "custom",
		Context:  []string{"hey mizon"},
		UserText: "take me to banking",
		Language: phrase.English,
	})
	require.NoError(t, err)
	assert.Equal(t, "Opening Banking section", reply)
}

func TestHTTPModelSendsEmptyContextArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		assert.Equal(t, []any{}, raw["context"])
		w.Write([]byte(`{"reply":"hi"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPModel(srv.URL, srv.Client()).Reply(context.Background(), Prompt{UserText: "hello"})
	require.NoError(t, err)
}

func TestHTTPModelErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/empty" {
			w.Write([]byte(`{"reply":"  "}`))
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewHTTPModel(srv.URL, srv.Client()).Reply(context.Background(), Prompt{UserText: "x"})
	var me *ModelError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, http.StatusTooManyRequests, me.Status)

	_, err = NewHTTPModel(srv.URL+"/empty", srv.Client()).Reply(context.Background(), Prompt{UserText: "x"})
	require.True(t, errors.As(err, &me))
}

func TestApology(t *testing.T) {
	assert.NotEmpty(t, Apology(phrase.English))
	assert.NotEqual(t, Apology(phrase.English), Apology(phrase.Arabic))
	assert.Equal(t, Apology(phrase.English), Apology(phrase.Auto))
}
