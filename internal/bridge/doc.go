// Package bridge keeps a live render graph and an external model in sync.
//
// On every embed the bridge builds a fresh view from the model's spec,
// snapshots the watched selections and parameters into the model, and
// attaches coalesced listeners that push later runtime changes back. Peer
// writes to the parameter map flow into signals, and peer commands write
// signals and datasets directly.
//
// All bridge work runs on one loop goroutine. Model observers, coalescer
// timers and command handlers never race each other.
package bridge
