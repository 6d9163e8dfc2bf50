package model

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/chartsync/internal/value"
)

// Origin tags who wrote a change.
type Origin int

const (
	// OriginLocal marks writes made by this process (the bridge).
	OriginLocal Origin = iota + 1
	// OriginRemote marks writes received from the peer.
	OriginRemote
)

func (o Origin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Change describes one key write that changed the stored value.
type Change struct {
	Key    string
	Old    any
	New    any
	Origin Origin
	Seq    int64
}

// Flush is one batch of full key values pushed to the sinks.
type Flush struct {
	Seq    int64
	Values map[string]any
}

// Keys returns the flushed keys in sorted order.
func (f Flush) Keys() []string {
	keys := make([]string, 0, len(f.Values))
	for k := range f.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Sink receives flushes. Implementations must not call back into the
// model synchronously.
type Sink interface {
	Push(ctx context.Context, f Flush) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, f Flush) error

// Push calls f.
func (fn SinkFunc) Push(ctx context.Context, f Flush) error {
	return fn(ctx, f)
}

type observer struct {
	id int
	fn func(Change)
}

type msgObserver struct {
	id int
	fn func([]byte)
}

// Model is the external state object.
type Model struct {
	mu        sync.Mutex
	values    map[string]any
	dirty     map[string]struct{}
	observers map[string][]*observer
	messages  []*msgObserver
	sinks     []Sink
	clock     *Clock
	nextID    int
	log       *slog.Logger
}

// Option configures a Model.
type Option func(*Model)

// WithSink adds a flush sink. May be given more than once.
func WithSink(s Sink) Option {
	return func(m *Model) {
		m.sinks = append(m.sinks, s)
	}
}

// WithClock replaces the logical clock (used to resume after restore).
func WithClock(c *Clock) Option {
	return func(m *Model) {
		m.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Model) {
		m.log = l
	}
}

// WithValues seeds initial values without events or dirty marks.
func WithValues(values map[string]any) Option {
	return func(m *Model) {
		for k, v := range values {
			m.values[k] = value.Clone(v)
		}
	}
}

// New creates an empty model.
func New(opts ...Option) *Model {
	m := &Model{
		values:    make(map[string]any),
		dirty:     make(map[string]struct{}),
		observers: make(map[string][]*observer),
		clock:     NewClock(),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddSink registers another sink after construction.
func (m *Model) AddSink(s Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, s)
}

// Clock returns the model's logical clock.
func (m *Model) Clock() *Clock {
	return m.clock
}

// Get returns a deep copy of the value stored under key (nil if absent).
func (m *Model) Get(key string) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return value.Clone(m.values[key])
}

// Has reports whether key holds a value.
func (m *Model) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[key]
	return ok
}

// Snapshot returns a deep copy of every key.
func (m *Model) Snapshot() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any, len(m.values))
	for k, v := range m.values {
		out[k] = value.Clone(v)
	}
	return out
}

// Set replaces the value of key (local origin).
func (m *Model) Set(key string, v any) {
	m.write(key, OriginLocal, func(any) any { return v })
}

// Update performs a serialized read-modify-write of key (local origin).
//
// fn receives a deep copy of the current value and returns the full new
// value. fn runs with the model lock held and must not call the model.
func (m *Model) Update(key string, fn func(cur any) any) {
	m.write(key, OriginLocal, fn)
}

// Apply writes peer-originated values (remote origin). Each key is a full
// replace. Keys are applied in sorted order.
func (m *Model) Apply(values map[string]any) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := values[k]
		m.write(k, OriginRemote, func(any) any { return v })
	}
}

func (m *Model) write(key string, origin Origin, fn func(cur any) any) {
	m.mu.Lock()
	old := m.values[key]
	next := value.Clone(fn(value.Clone(old)))
	if _, present := m.values[key]; present && value.Equal(old, next) {
		m.mu.Unlock()
		return
	}
	m.values[key] = next
	if origin == OriginLocal {
		m.dirty[key] = struct{}{}
	}
	change := Change{
		Key:    key,
		Old:    value.Clone(old),
		New:    value.Clone(next),
		Origin: origin,
		Seq:    m.clock.Next(),
	}
	observers := append([]*observer(nil), m.observers[key]...)
	m.mu.Unlock()

	m.log.Debug("model changed",
		"key", key,
		"origin", origin.String(),
		"seq", change.Seq,
	)

	for _, o := range observers {
		o.fn(change)
	}
}

// On registers fn for changes of key. The returned function unregisters
// it and is safe to call more than once.
func (m *Model) On(key string, fn func(Change)) (off func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	o := &observer{id: m.nextID, fn: fn}
	m.observers[key] = append(m.observers[key], o)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		list := m.observers[key]
		for i, cur := range list {
			if cur.id == o.id {
				m.observers[key] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Observers returns the number of observers registered for key.
func (m *Model) Observers(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.observers[key])
}

// OnMessage registers fn for custom peer messages.
func (m *Model) OnMessage(fn func(msg []byte)) (off func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	o := &msgObserver{id: m.nextID, fn: fn}
	m.messages = append(m.messages, o)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, cur := range m.messages {
			if cur.id == o.id {
				m.messages = append(m.messages[:i:i], m.messages[i+1:]...)
				return
			}
		}
	}
}

// Receive delivers a custom message from the peer.
func (m *Model) Receive(msg []byte) {
	m.mu.Lock()
	observers := append([]*msgObserver(nil), m.messages...)
	m.mu.Unlock()

	if len(observers) == 0 {
		m.log.Warn("custom message dropped: no observers", "bytes", len(msg))
		return
	}
	for _, o := range observers {
		o.fn(msg)
	}
}

// SaveChanges pushes every locally written key since the previous call to
// the sinks, as one Flush of full values. Returns false when nothing was
// pending.
//
// Sink errors are logged; the caller never waits on the peer.
func (m *Model) SaveChanges(ctx context.Context) (Flush, bool) {
	m.mu.Lock()
	if len(m.dirty) == 0 {
		m.mu.Unlock()
		return Flush{}, false
	}
	f := Flush{Seq: m.clock.Next(), Values: make(map[string]any, len(m.dirty))}
	for k := range m.dirty {
		f.Values[k] = value.Clone(m.values[k])
	}
	clear(m.dirty)
	sinks := append([]Sink(nil), m.sinks...)
	m.mu.Unlock()

	for _, s := range sinks {
		if err := s.Push(ctx, f); err != nil {
			m.log.Error("flush failed",
				"seq", f.Seq,
				"keys", f.Keys(),
				"error", err,
			)
		}
	}
	return f, true
}

// Dirty returns the keys written since the last SaveChanges, sorted.
func (m *Model) Dirty() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.dirty))
	for k := range m.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
