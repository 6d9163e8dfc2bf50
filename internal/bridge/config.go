package bridge

import (
	"log/slog"
	"math"
	"time"

	"github.com/roach88/chartsync/internal/coalesce"
	"github.com/roach88/chartsync/internal/model"
	"github.com/roach88/chartsync/internal/value"
)

// DefaultDelay is the coalescing window when neither the config nor the
// model's debounce_wait sets one.
const DefaultDelay = coalesce.DefaultDelay

// DefaultMount is the mount target used when none is configured.
const DefaultMount = "default"

// Pulse selects how the bridge evaluates the graph after peer writes.
type Pulse int

const (
	// PulseSync runs the pulse inline.
	PulseSync Pulse = iota
	// PulseAsync schedules the pulse through View.RunAsync.
	PulseAsync
)

func (p Pulse) String() string {
	if p == PulseAsync {
		return "async"
	}
	return "sync"
}

// Config holds bridge settings. Model keys debounce_wait and
// debounce_max_wait (milliseconds) override Delay and MaxWait per embed.
type Config struct {
	Delay   time.Duration
	MaxWait time.Duration
	Pulse   Pulse
	Mount   string
}

// DefaultConfig returns the settings used when no option overrides them.
func DefaultConfig() Config {
	return Config{
		Delay: DefaultDelay,
		Pulse: PulseSync,
		Mount: DefaultMount,
	}
}

// resolve applies the model overrides on top of c.
func (c Config) resolve(m *model.Model) Config {
	if d, ok := millis(m.Get(KeyDebounceWait)); ok {
		c.Delay = d
	}
	if d, ok := millis(m.Get(KeyDebounceMaxWait)); ok {
		c.MaxWait = d
	}
	if c.Delay <= 0 {
		c.Delay = DefaultDelay
	}
	if c.MaxWait < 0 {
		c.MaxWait = 0
	}
	if c.Mount == "" {
		c.Mount = DefaultMount
	}
	return c
}

func (c Config) coalesceOptions() coalesce.Options {
	return coalesce.Options{
		Delay:   c.Delay,
		MaxWait: c.MaxWait,
		Leading: true,
	}
}

// maxMillis is the largest millisecond count a time.Duration holds.
const maxMillis = float64(math.MaxInt64 / int64(time.Millisecond))

func millis(v any) (time.Duration, bool) {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	f = min(f, maxMillis)
	return time.Duration(f * float64(time.Millisecond)), true
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithConfig replaces the base configuration.
func WithConfig(cfg Config) Option {
	return func(b *Bridge) {
		b.cfg = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		b.log = l
	}
}

// WithJournal records every embed attempt.
func WithJournal(j Journal) Option {
	return func(b *Bridge) {
		b.journal = j
	}
}

// WithRestore writes persisted _selections and _params entries into the
// first view that builds, before its snapshot is taken, so the view
// resumes where the persisted model left off. Watched cells without an
// entry keep their spec values.
func WithRestore(values map[string]any) Option {
	return func(b *Bridge) {
		b.restore = &restoreValues{
			selections: value.AsMap(value.Clone(values[KeySelections])),
			params:     value.AsMap(value.Clone(values[KeyParams])),
		}
	}
}

// WithSessionIDs replaces the session ID generator.
func WithSessionIDs(ids IDGenerator) Option {
	return func(b *Bridge) {
		b.ids = ids
	}
}
