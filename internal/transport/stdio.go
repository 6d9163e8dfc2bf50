package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/chartsync/internal/loop"
	"github.com/roach88/chartsync/internal/model"
)

// maxLine bounds one inbound JSON line.
const maxLine = 4 << 20

// Stdio exchanges newline-delimited envelopes over a reader and a writer.
type Stdio struct {
	r   io.Reader
	log *slog.Logger

	mu sync.Mutex
	w  io.Writer
}

// NewStdio creates a transport reading r and writing w.
func NewStdio(r io.Reader, w io.Writer, log *slog.Logger) *Stdio {
	if log == nil {
		log = slog.Default()
	}
	return &Stdio{r: r, w: w, log: log}
}

// Push writes a flush envelope line. Implements model.Sink.
func (s *Stdio) Push(_ context.Context, f model.Flush) error {
	return s.Send(FlushEnvelope(f))
}

// Send writes one envelope line.
func (s *Stdio) Send(env Envelope) error {
	data, err := Encode(env)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write %s envelope: %w", env.Kind, err)
	}
	return nil
}

// Serve reads inbound lines until EOF, ctx is done or the loop stops.
// Malformed lines are logged and skipped. Returns nil on EOF.
func (s *Stdio) Serve(ctx context.Context, sched loop.Scheduler, m *model.Model) error {
	lines := make(chan []byte)
	errc := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		sc := bufio.NewScanner(s.r)
		sc.Buffer(make([]byte, 64*1024), maxLine)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-done:
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			s.log.Info("inbound stream closed")
			return nil
		case line := <-lines:
			if len(line) == 0 {
				continue
			}
			if err := deliverRaw(s.log, sched, m, line); err != nil {
				return err
			}
		}
	}
}
