// Package notify shows confirmations and alerts on the Linux desktop when no
// app is attached.
package notify

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"os/exec"
	"strconv"
	"time"

	"mizon/internal/session"
	"mizon/pkg/stt"
)

// Desktop sends notifications through notify-send. It is an nlu.Notifier and
// a session.Observer that only reacts to errors.
type Desktop struct {
	App     string
	Timeout time.Duration

	run func(ctx context.Context, name string, args ...string) error
}

func NewDesktop(app string) *Desktop {
	return &Desktop{App: app, Timeout: 3 * time.Second, run: runCommand}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, out)
	}
	return nil
}

func (d *Desktop) send(ctx context.Context, urgency, summary, body string) error {
	args := []string{
		"-a", d.App,
		"-u", urgency,
		"-t", strconv.FormatInt(d.Timeout.Milliseconds(), 10),
		summary,
	}
	if body != "" {
		args = append(args, body)
	}
	return d.run(ctx, "notify-send", args...)
}

func (d *Desktop) Confirm(ctx context.Context, message string) {
	if err := d.send(ctx, "normal", d.App, message); err != nil {
		log.Warn("Failed to show notification", "err", err)
	}
}

func (d *Desktop) StateChanged(session.Snapshot) {}
func (d *Desktop) Transcript(stt.Utterance)      {}
func (d *Desktop) ReplyProgress(string)          {}

func (d *Desktop) Error(err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	body := "Something went wrong"
	if errors.Is(err, session.ErrConnectFailed) {
		body = "Could not connect. Run mizon-ctl connect to retry."
	} else if errors.Is(err, session.ErrNotConnected) {
		body = "Not connected"
	} else if err != nil {
		body = err.Error()
	}
	if serr := d.send(ctx, "critical", d.App, body); serr != nil {
		log.Warn("Failed to show alert", "err", serr)
	}
}
