package audio

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

type sinkInput struct {
	ID      int
	Volume  int
	AppName string
}

type fadeTarget struct {
	id   int
	from int
	to   int
}

// Ducker fades other PulseAudio sink inputs down while the assistant speaks
// and brings them back afterwards. Streams whose application.name is in
// selfNames are left alone.
type Ducker struct {
	Factor   float64
	Duration time.Duration

	mu          sync.Mutex
	active      bool
	selfNames   []string
	originalVol map[int]int
	minVolume   int

	// swapped in tests
	list func(ctx context.Context) ([]sinkInput, error)
	set  func(ctx context.Context, id, percent int) error
}

func NewDucker(selfNames []string, minVolume int) *Ducker {
	return &Ducker{
		Factor:      0.3,
		Duration:    150 * time.Millisecond,
		selfNames:   append([]string(nil), selfNames...),
		originalVol: make(map[int]int),
		minVolume:   clampVolume(minVolume),
		list:        listSinkInputs,
		set:         setSinkInputVolume,
	}
}

// Duck lowers every foreign stream to current*Factor, never below minVolume.
func (d *Ducker) Duck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return nil
	}

	inputs, err := d.list(ctx)
	if err != nil {
		return fmt.Errorf("list sink inputs: %w", err)
	}

	d.originalVol = make(map[int]int)
	var targets []fadeTarget
	for _, in := range inputs {
		if d.isSelf(in) {
			continue
		}
		to := int(math.Round(float64(in.Volume) * d.Factor))
		if to < d.minVolume {
			to = d.minVolume
		}
		d.originalVol[in.ID] = in.Volume
		targets = append(targets, fadeTarget{id: in.ID, from: in.Volume, to: clampVolume(to)})
	}

	d.active = true
	return d.fade(ctx, targets)
}

// Restore fades ducked streams back. Streams that appeared after Duck are
// not touched.
func (d *Ducker) Restore(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}

	inputs, err := d.list(ctx)
	if err != nil {
		return fmt.Errorf("list sink inputs: %w", err)
	}

	var targets []fadeTarget
	for _, in := range inputs {
		orig, ok := d.originalVol[in.ID]
		if !ok || d.isSelf(in) {
			continue
		}
		targets = append(targets, fadeTarget{id: in.ID, from: in.Volume, to: orig})
	}

	d.originalVol = make(map[int]int)
	d.active = false
	return d.fade(ctx, targets)
}

func (d *Ducker) isSelf(in sinkInput) bool {
	for _, name := range d.selfNames {
		if in.AppName == name {
			return true
		}
	}
	return false
}

func (d *Ducker) fade(ctx context.Context, targets []fadeTarget) error {
	if len(targets) == 0 {
		return nil
	}

	const minStep = 10 * time.Millisecond
	steps := int(d.Duration / minStep)
	if steps < 1 {
		steps = 1
	}
	stepDuration := d.Duration / time.Duration(steps)

	for i := 1; i <= steps; i++ {
		frac := float64(i) / float64(steps)
		for _, t := range targets {
			v := int(math.Round(float64(t.from) + float64(t.to-t.from)*frac))
			if err := d.set(ctx, t.id, v); err != nil {
				return fmt.Errorf("set volume id=%d: %w", t.id, err)
			}
		}
		if i < steps {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(stepDuration):
			}
		}
	}
	return nil
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 150 {
		return 150
	}
	return v
}

// --- pactl ---

func listSinkInputs(ctx context.Context) ([]sinkInput, error) {
	out, err := exec.CommandContext(ctx, "pactl", "list", "sink-inputs").Output()
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}
	return parseSinkInputs(string(out)), nil
}

func parseSinkInputs(text string) []sinkInput {
	blocks := strings.Split(text, "Sink Input #")
	var res []sinkInput
	for _, block := range blocks[1:] {
		nl := strings.IndexByte(block, '\n')
		if nl <= 0 {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(block[:nl]))
		if err != nil {
			continue
		}

		in := sinkInput{ID: id}
		for _, line := range strings.Split(block[nl+1:], "\n") {
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "Volume:") && in.Volume == 0:
				if m := percentRe.FindStringSubmatch(line); len(m) >= 2 {
					in.Volume, _ = strconv.Atoi(m[1])
				}
			case strings.HasPrefix(line, "application.name =") && in.AppName == "":
				if v := strings.TrimSpace(strings.TrimPrefix(line, "application.name =")); len(v) >= 2 {
					in.AppName = strings.Trim(v, `"`)
				}
			}
		}
		if in.Volume == 0 && in.AppName == "" {
			continue
		}
		res = append(res, in)
	}
	return res
}

func setSinkInputVolume(ctx context.Context, id, percent int) error {
	arg := fmt.Sprintf("%d%%", clampVolume(percent))
	return exec.CommandContext(ctx, "pactl", "set-sink-input-volume", strconv.Itoa(id), arg).Run()
}
