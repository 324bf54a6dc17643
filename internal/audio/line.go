package audio

import (
	"bufio"
	"context"
	"io"
	log "log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"mizon/pkg/stt"
)

// LineSource treats every non-empty line of a reader (or a FIFO that is
// reopened on EOF) as a final transcript. Useful with an external recognizer
// that prints its results, or for driving the assistant from a terminal.
type LineSource struct {
	name string
	path string
	read io.Reader

	once  sync.Once
	lines chan string
}

func NewLineSource(name string, r io.Reader) *LineSource {
	return &LineSource{name: name, read: r, lines: make(chan string, 32)}
}

func NewLineSourceFromPath(path string) *LineSource {
	return &LineSource{name: path, path: path, lines: make(chan string, 32)}
}

func (s *LineSource) Name() string {
	if strings.TrimSpace(s.name) == "" {
		return "line"
	}
	return s.name
}

// Start begins forwarding lines. The underlying reader is consumed by one
// goroutine for the lifetime of the source; captures only gate delivery.
func (s *LineSource) Start(ctx context.Context, onChunk func(stt.Chunk), _ func(error)) (Handle, error) {
	s.once.Do(func() {
		if s.path != "" {
			go s.readPathLoop()
		} else {
			go s.readReader(s.read)
		}
	})
	return Go(ctx, func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case line := <-s.lines:
				onChunk(stt.Chunk{Text: line, Final: true, CapturedAt: time.Now()})
			}
		}
	}), nil
}

func (s *LineSource) readReader(r io.Reader) {
	if r == nil {
		return
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case s.lines <- line:
		default:
			log.Warn("Line source backlog full, dropping line", "source", s.Name())
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warn("Line source read error", "source", s.Name(), "err", err)
	}
}

func (s *LineSource) readPathLoop() {
	for {
		f, err := os.Open(s.path)
		if err != nil {
			log.Warn("Line source open failed", "path", s.path, "err", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}
		s.readReader(f)
		_ = f.Close()
		time.Sleep(200 * time.Millisecond)
	}
}
