package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"time"
)

const SocketPath = "/tmp/mizon.sock"

type ControlMessage struct {
	Cmd  string   `json:"cmd"`
	Args []string `json:"args,omitempty"`
}

type Reply struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func Fail(err error) Reply {
	return Reply{Error: err.Error()}
}

// Ok wraps v as the reply payload.
func Ok(v any) Reply {
	if v == nil {
		return Reply{OK: true}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Fail(fmt.Errorf("marshal reply: %w", err))
	}
	return Reply{OK: true, Data: data}
}

// StartServer listens on path and answers each connection's single command.
// The listener closes and the socket is removed when ctx ends.
func StartServer(ctx context.Context, path string, handler func(context.Context, ControlMessage) Reply) error {
	if path == "" {
		path = SocketPath
	}
	os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	context.AfterFunc(ctx, func() {
		ln.Close()
		os.Remove(path)
	})

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Warn("IPC accept failed", "err", err)
				continue
			}
			go handleConn(ctx, conn, handler)
		}
	}()

	log.Info("IPC listening", "socket", path)
	return nil
}

func handleConn(ctx context.Context, conn net.Conn, handler func(context.Context, ControlMessage) Reply) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(time.Minute))

	var msg ControlMessage
	dec := json.NewDecoder(conn)
	if err := dec.Decode(&msg); err != nil {
		log.Warn("Bad IPC message", "err", err)
		_ = json.NewEncoder(conn).Encode(Fail(fmt.Errorf("decode: %w", err)))
		return
	}
	log.Debug("IPC command", "cmd", msg.Cmd, "args", msg.Args)

	reply := handler(ctx, msg)
	if err := json.NewEncoder(conn).Encode(reply); err != nil {
		log.Warn("Failed to answer IPC", "cmd", msg.Cmd, "err", err)
	}
}

// SendCommand sends msg and waits for the daemon's reply.
func SendCommand(path string, msg ControlMessage) (Reply, error) {
	if path == "" {
		path = SocketPath
	}
	conn, err := net.Dial("unix", path)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(time.Minute))

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return Reply{}, fmt.Errorf("send: %w", err)
	}
	var r Reply
	if err := json.NewDecoder(conn).Decode(&r); err != nil {
		return Reply{}, fmt.Errorf("read reply: %w", err)
	}
	return r, nil
}
