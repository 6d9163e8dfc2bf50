package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/chartsync/internal/loop"
	"github.com/roach88/chartsync/internal/model"
)

// DefaultChannel is the channel prefix used when none is configured.
const DefaultChannel = "chartsync"

// sendQueue bounds the flushes waiting for the publisher.
const sendQueue = 256

// ErrClosed is returned by Push after Close.
var ErrClosed = errors.New("transport closed")

// Redis exchanges envelopes over Redis pub/sub: it subscribes to
// "<prefix>:in" and publishes to "<prefix>:out".
//
// Flushes are published by a background sender in Push order; Push only
// waits when sendQueue flushes are already pending.
type Redis struct {
	client *redis.Client
	prefix string
	log    *slog.Logger

	mu     sync.Mutex
	closed bool
	out    chan outbound
	sent   chan struct{}
}

type outbound struct {
	seq  int64
	data []byte
}

// DialRedis parses url, connects and pings.
func DialRedis(ctx context.Context, url, prefix string, log *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedis(client, prefix, log), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string, log *slog.Logger) *Redis {
	if prefix == "" {
		prefix = DefaultChannel
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Redis{
		client: client,
		prefix: prefix,
		log:    log,
		out:    make(chan outbound, sendQueue),
		sent:   make(chan struct{}),
	}
	go r.publishLoop()
	return r
}

// InChannel is the channel peers publish to.
func (r *Redis) InChannel() string { return r.prefix + ":in" }

// OutChannel is the channel flushes are published on.
func (r *Redis) OutChannel() string { return r.prefix + ":out" }

// Push queues a flush envelope for publishing. Implements model.Sink.
// Publish failures are logged by the sender.
func (r *Redis) Push(ctx context.Context, f model.Flush) error {
	data, err := Encode(FlushEnvelope(f))
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("push flush %d: %w", f.Seq, ErrClosed)
	}
	select {
	case r.out <- outbound{seq: f.Seq, data: data}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("push flush %d: %w", f.Seq, ctx.Err())
	}
}

func (r *Redis) publishLoop() {
	defer close(r.sent)
	for msg := range r.out {
		if err := r.client.Publish(context.Background(), r.OutChannel(), msg.data).Err(); err != nil {
			r.log.Error("publish flush failed", "seq", msg.seq, "channel", r.OutChannel(), "error", err)
		}
	}
}

// Serve subscribes to the inbound channel and delivers envelopes until ctx
// is done or the loop stops.
func (r *Redis) Serve(ctx context.Context, sched loop.Scheduler, m *model.Model) error {
	sub := r.client.Subscribe(ctx, r.InChannel())
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.InChannel(), err)
	}
	r.log.Info("subscribed", "channel", r.InChannel())

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := deliverRaw(r.log, sched, m, []byte(msg.Payload)); err != nil {
				return err
			}
		}
	}
}

// Close publishes the queued flushes, then closes the client.
func (r *Redis) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.out)
	}
	r.mu.Unlock()
	<-r.sent
	return r.client.Close()
}
