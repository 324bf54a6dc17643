package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := NewSocksClient("", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, c.Timeout)

	resp, err := c.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestSocksClientFailsOnDeadProxy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	// nothing speaks SOCKS on this port
	c, err := NewSocksClient("127.0.0.1:1", time.Second)
	require.NoError(t, err)
	_, err = c.Get(srv.URL)
	assert.Error(t, err)
}

func TestDialer(t *testing.T) {
	d, err := NewDialer("")
	require.NoError(t, err)
	assert.NotNil(t, d.NetDialContext)

	d, err = NewDialer("127.0.0.1:1080")
	require.NoError(t, err)
	assert.NotNil(t, d.NetDialContext)
}
