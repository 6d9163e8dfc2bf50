package bridge

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/roach88/chartsync/internal/runtime"
)

// CommandUpdate is the only command type.
const CommandUpdate = "update"

// Namespaces of a command update.
const (
	NamespaceSignal = "signal"
	NamespaceData   = "data"
)

// Command is a peer message that writes runtime cells directly.
type Command struct {
	Type    string   `json:"type"`
	Updates []Update `json:"updates"`
}

// Update is one cell write. A missing scope means the root context.
type Update struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Scope     []int  `json:"scope,omitempty"`
	Value     any    `json:"value"`
}

// DecodeCommand parses a command message.
func DecodeCommand(msg []byte) (Command, error) {
	var cmd Command
	if err := sonic.Unmarshal(msg, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	return cmd, nil
}

// EncodeCommand renders a command message.
func EncodeCommand(cmd Command) ([]byte, error) {
	return sonic.Marshal(cmd)
}

func (b *Bridge) onMessage(msg []byte) {
	cmd, err := DecodeCommand(msg)
	if err != nil {
		b.log.Warn("command ignored", "error", err)
		return
	}
	if err := b.HandleCommand(cmd); err != nil {
		b.log.Warn("command failed", "type", cmd.Type, "error", err)
	}
}

// HandleCommand applies every update of cmd to the live graph and then
// runs exactly one pulse. A failing update is reported and skipped; the
// returned error joins every such failure.
//
// Commands of an unknown type return ErrUnrecognizedCommand. Commands
// received while no view is live return ErrNotLive. Neither touches the
// graph.
func (b *Bridge) HandleCommand(cmd Command) error {
	if cmd.Type != CommandUpdate {
		return fmt.Errorf("%w: %q", ErrUnrecognizedCommand, cmd.Type)
	}
	sess := b.sess
	if b.state != StateLive || sess == nil || !sess.live {
		return fmt.Errorf("%w: state %s", ErrNotLive, b.state)
	}

	var errs []error
	for i, u := range cmd.Updates {
		if err := b.applyUpdate(sess, u); err != nil {
			err = fmt.Errorf("updates[%d]: %w", i, err)
			b.report(sess, err)
			errs = append(errs, err)
		}
	}
	b.pulse(sess)
	return errors.Join(errs...)
}

func (b *Bridge) applyUpdate(sess *session, u Update) error {
	g := sess.view.Graph
	scope := runtime.Scope(u.Scope)

	switch u.Namespace {
	case NamespaceSignal:
		sig, err := runtime.LocateSignal(g, scope, u.Name)
		if err != nil {
			return newNotFoundError(sess.id, u.Name, err)
		}
		g.WriteSignal(sig, u.Value)
		return nil
	case NamespaceData:
		ds, err := runtime.LocateDataset(g, scope, u.Name)
		if err != nil {
			return newNotFoundError(sess.id, u.Name, err)
		}
		records, ok := u.Value.([]any)
		if u.Value != nil && !ok {
			return &Error{
				Code:    ErrCodeInvalidUpdate,
				Message: fmt.Sprintf("data value must be an array, got %T", u.Value),
				Session: sess.id,
				Name:    u.Name,
			}
		}
		g.WriteDataset(ds, records)
		return nil
	default:
		return &Error{
			Code:    ErrCodeInvalidUpdate,
			Message: fmt.Sprintf("unknown namespace %q", u.Namespace),
			Session: sess.id,
			Name:    u.Name,
		}
	}
}
