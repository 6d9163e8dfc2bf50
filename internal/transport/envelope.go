// Package transport links a model to its peer.
//
// Every message is an Envelope. Outbound, a transport is a model.Sink and
// sends each flush as a "flush" envelope. Inbound, "state" envelopes are
// applied to the model as remote writes and "command" envelopes are
// delivered as custom messages. Inbound work is posted onto the loop, so
// the model is only ever touched by the loop goroutine.
package transport

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bytedance/sonic"

	"github.com/roach88/chartsync/internal/loop"
	"github.com/roach88/chartsync/internal/model"
)

// Kind is the envelope type.
type Kind string

const (
	KindState   Kind = "state"
	KindCommand Kind = "command"
	KindFlush   Kind = "flush"
)

// Envelope is the wire unit of every transport.
type Envelope struct {
	Kind    Kind           `json:"kind"`
	Seq     int64          `json:"seq,omitempty"`
	Values  map[string]any `json:"values,omitempty"`
	Payload any            `json:"payload,omitempty"`
}

// Encode renders env as one JSON document.
func Encode(env Envelope) ([]byte, error) {
	data, err := sonic.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", env.Kind, err)
	}
	return data, nil
}

// Decode parses and validates one envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Kind {
	case KindState, KindFlush:
	case KindCommand:
		if env.Payload == nil {
			return Envelope{}, fmt.Errorf("decode envelope: command without payload")
		}
	default:
		return Envelope{}, fmt.Errorf("decode envelope: unknown kind %q", env.Kind)
	}
	return env, nil
}

// FlushEnvelope wraps a model flush.
func FlushEnvelope(f model.Flush) Envelope {
	return Envelope{Kind: KindFlush, Seq: f.Seq, Values: f.Values}
}

// Deliver posts an inbound envelope onto sched for m.
func Deliver(sched loop.Scheduler, m *model.Model, env Envelope) error {
	switch env.Kind {
	case KindState:
		values := env.Values
		if len(values) == 0 {
			return nil
		}
		if !sched.Post(func() { m.Apply(values) }) {
			return loop.ErrStopped
		}
		return nil
	case KindCommand:
		msg, err := sonic.Marshal(env.Payload)
		if err != nil {
			return fmt.Errorf("encode command payload: %w", err)
		}
		if !sched.Post(func() { m.Receive(msg) }) {
			return loop.ErrStopped
		}
		return nil
	default:
		return fmt.Errorf("unexpected inbound %s envelope", env.Kind)
	}
}

// deliverRaw decodes and delivers one inbound message, logging failures.
func deliverRaw(log *slog.Logger, sched loop.Scheduler, m *model.Model, data []byte) error {
	env, err := Decode(data)
	if err != nil {
		log.Warn("inbound message dropped", "error", err)
		return nil
	}
	if err := Deliver(sched, m, env); err != nil {
		if errors.Is(err, loop.ErrStopped) {
			return err
		}
		log.Warn("inbound message dropped", "kind", env.Kind, "error", err)
	}
	return nil
}
