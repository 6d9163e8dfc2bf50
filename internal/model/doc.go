// Package model is the external, persisted state object shared with the
// remote peer.
//
// A Model maps keys to JSON values. It follows the widget-model contract
// the bridge is written against:
//
//   - Get returns a deep copy; Set and Update store a deep copy. Every
//     write replaces the whole value of a key, never a part of it.
//   - On(key) observers run synchronously after a write that changed the
//     value. Writes of an equal value are dropped: no event, no flush.
//   - Writes are tagged with an Origin. Local writes come from the bridge,
//     remote writes (Apply) from the peer. Observers use the tag to tell
//     the two directions apart.
//   - SaveChanges pushes every key written since the last call to the
//     configured sinks. It does not wait for any acknowledgement.
//   - Receive delivers a custom message from the peer to OnMessage
//     observers.
//
// CONCURRENCY:
//
// Reads and writes are guarded by one mutex, so transports may call Get
// from their own goroutines. Observers are invoked without the lock held.
// Update holds the lock across read-modify-write; two concurrent Updates of
// the same key never lose a write.
package model
