package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	log "log/slog"

	cli "github.com/spf13/pflag"

	"mizon/internal/audio/mic"
	"mizon/internal/config"
	"mizon/internal/ipc"
	"mizon/internal/session"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, cli.ErrHelp) {
		return
	}

	level, ok := logLevelMap[cfg.LogLevel]
	if !ok {
		level = log.LevelInfo
	}
	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	})))

	if err != nil {
		log.Error("Bad configuration", "err", err)
		os.Exit(1)
	}

	log.Info("Booting up", "source", cfg.Source, "stt", cfg.STT, "model", cfg.Model, "tts", cfg.TTS)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Source == config.SourceMic {
		if err := mic.Init(); err != nil {
			log.Error("Failed to init audio", "err", err)
			os.Exit(1)
		}
		defer mic.Close()
		log.Debug("Loaded portaudio")
	}

	d, err := build(ctx, cfg)
	if err != nil {
		log.Error("Failed to wire daemon", "err", err)
		os.Exit(1)
	}
	defer d.close()

	log.Info("Boot up - successful")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := d.ctl.Run(ctx); err != nil {
			log.Error("Session stopped", "err", err)
		}
	}()

	if err := ipc.StartServer(ctx, cfg.Socket, func(ctx context.Context, msg ipc.ControlMessage) ipc.Reply {
		return handleControl(ctx, d.ctl, msg)
	}); err != nil {
		log.Error("Failed ipc server", "err", err)
		os.Exit(1)
	}

	go func() {
		cctx, cancel := context.WithTimeout(ctx, 2*cfg.Session.ProbeTimeout)
		defer cancel()
		if err := d.ctl.Connect(cctx); err != nil {
			log.Warn("Initial connect failed", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")
	<-done
}

func handleControl(ctx context.Context, ctl *session.Controller, msg ipc.ControlMessage) ipc.Reply {
	var err error
	switch msg.Cmd {
	case "toggle":
		err = ctl.ToggleListening(ctx)
	case "stop":
		err = ctl.StopListening(ctx)
	case "end":
		err = ctl.EndSession(ctx)
	case "connect":
		err = ctl.Connect(ctx)
	case "config":
		var p session.Partial
		if p, err = session.ParsePartial(msg.Args); err == nil {
			err = ctl.UpdateConfig(ctx, p)
		}
	case "state":
		s, serr := ctl.Snapshot(ctx)
		if serr != nil {
			return ipc.Fail(serr)
		}
		return ipc.Ok(s)
	default:
		log.Warn("Unknown command", "cmd", msg.Cmd)
		err = errors.New("unknown command " + msg.Cmd)
	}
	if err != nil {
		return ipc.Fail(err)
	}
	return ipc.Ok(nil)
}
