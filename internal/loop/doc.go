// Package loop implements the single-writer event loop that every bridge
// callback runs on.
//
// ARCHITECTURE:
//
// All state owned by the bridge (runtime graph, coalescers, the current
// session) is touched from exactly one goroutine: the one executing
// Loop.Run. Other goroutines never call into the bridge directly; they Post
// a closure instead:
//   - transports post inbound peer messages
//   - timers created by AfterFunc post their callback when they fire
//
// This keeps the cooperative, run-to-completion model: a task is never
// interrupted by another task, so a read-modify-write inside one task is
// atomic with respect to every other task.
//
// Scheduler is the narrow interface consumers depend on. Tests substitute
// testutil.ManualScheduler, which drives time by hand.
package loop
