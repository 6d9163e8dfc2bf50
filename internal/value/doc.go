// Package value defines the JSON value model shared by the runtime graph,
// the external model and the transports.
//
// Every value that crosses a module boundary is one of:
//
//	nil, bool, float64, string, []any, map[string]any
//
// Numbers are always float64 once normalized, matching what a JSON peer
// sees. Integers and other Go shapes are converted by Clone and Normalize.
//
// # Isolation
//
// Clone is the isolation mechanism between runtime-owned state and
// external state. The runtime hands out clones on read and stores clones on
// write; the model does the same. A caller can never mutate a map or slice
// owned by the other side through a returned reference.
//
// # Canonical form
//
// MarshalCanonical produces RFC 8785 style output (UTF-16 key order, NFC
// strings, no HTML escaping). It is used for golden snapshots and logging
// where byte-stable output matters.
package value
