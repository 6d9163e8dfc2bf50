// Package runtime models the live state graph a render engine produces and
// locates mutable cells inside it.
//
// A Graph is a tree of Contexts. Each Context holds named Signals (one
// mutable value) and Datasets (an ordered list of records) plus an ordered
// list of child Contexts. A Scope is the path of child indices from the
// root to a Context; the empty Scope is the root.
//
// The bridge never walks the tree itself. It resolves (scope, name) pairs
// with Locate and then reads and writes through the returned cell:
//
//	cell, err := runtime.Locate(g, runtime.Scope{0}, "brush", runtime.KindSignal)
//
// Writes are batched: WriteSignal and WriteDataset only mark the cell.
// Graph.Run is the evaluation pulse that notifies listeners of every
// changed cell, in a deterministic order (depth first, names sorted).
//
// Values are isolated with value.Clone on the way in and on the way out.
package runtime
