package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func socketPath(t *testing.T) string {
	// unix socket paths are short; t.TempDir can be too long on some hosts
	dir, err := os.MkdirTemp("", "mizon")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func TestRoundTrip(t *testing.T) {
	path := socketPath(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := StartServer(ctx, path, func(_ context.Context, msg ControlMessage) Reply {
		switch msg.Cmd {
		case "state":
			return Ok(map[string]string{"state": "idle"})
		case "config":
			return Ok(msg.Args)
		case "toggle":
			return Ok(nil)
		}
		return Fail(errors.New("unknown command"))
	})
	require.NoError(t, err)

	r, err := SendCommand(path, ControlMessage{Cmd: "state"})
	require.NoError(t, err)
	assert.True(t, r.OK)
	assert.JSONEq(t, `{"state":"idle"}`, string(r.Data))

	r, err = SendCommand(path, ControlMessage{Cmd: "config", Args: []string{"language=ar"}})
	require.NoError(t, err)
	var args []string
	require.NoError(t, json.Unmarshal(r.Data, &args))
	assert.Equal(t, []string{"language=ar"}, args)

	r, err = SendCommand(path, ControlMessage{Cmd: "toggle"})
	require.NoError(t, err)
	assert.True(t, r.OK)
	assert.Empty(t, r.Data)

	r, err = SendCommand(path, ControlMessage{Cmd: "dance"})
	require.NoError(t, err)
	assert.False(t, r.OK)
	assert.Equal(t, "unknown command", r.Error)
}

func TestBadMessageGetsError(t *testing.T) {
	path := socketPath(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, StartServer(ctx, path, func(context.Context, ControlMessage) Reply { return Ok(nil) }))

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("not json\n"))
	require.NoError(t, err)

	var r Reply
	require.NoError(t, json.NewDecoder(conn).Decode(&r))
	assert.False(t, r.OK)
	assert.Contains(t, r.Error, "decode")
}

func TestServerStopsWithContext(t *testing.T) {
	path := socketPath(t)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, StartServer(ctx, path, func(context.Context, ControlMessage) Reply { return Ok(nil) }))
	cancel()

	require.Eventually(t, func() bool {
		_, err := SendCommand(path, ControlMessage{Cmd: "toggle"})
		return err != nil
	}, time.Second, 5*time.Millisecond)
}

func TestSendWithoutDaemon(t *testing.T) {
	_, err := SendCommand(socketPath(t), ControlMessage{Cmd: "toggle"})
	assert.Error(t, err)
}
