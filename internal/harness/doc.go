// Package harness runs view-model scenarios: a state container and its
// mirror are driven through a flow of transitions, and the resulting trace
// and final state are checked against assertions and golden files.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: rename_item
//	description: "Renaming an item keeps its siblings' identity"
//	types: types.yaml        # relative to the scenario file
//	type: Doc
//	initial:
//	  $type: Doc
//	  Title: orders
//	  Items:
//	    - {$type: Item, Name: a, Qty: 1}
//	flow:
//	  - patch: {Title: invoices}
//	  - flush: true
//	  - set: {path: Items/0/Qty, value: 3}
//	  - set: {path: Items/0/Qty, value: many}
//	    expect: {error: coercion}
//	  - roundtrip: true
//	assertions:
//	  - type: state_equals
//	    path: Items/0
//	    value: {Qty: 3}
//	  - type: flush_count
//	    count: 2
//
// # Steps
//
//   - patch: deep-merge a partial tree into the snapshot
//   - set: write a value through the mirror observable at path
//   - flush: run the armed flush, if any
//   - roundtrip: protect the snapshot, verify it back and patch the result in
//
// A step may carry an expect clause naming the error class it must fail
// with (coercion, verification, detached, path) and whether it must change
// the snapshot.
//
// # Assertion Types
//
//   - state_equals: the snapshot node at path matches value (subset match)
//   - mirror_equals: the mirror observable at path holds a matching value
//   - reused: the node at path is the same node as in the initial snapshot
//   - changed: the node at path is not the same node as initially
//   - flush_count, seq, journal_count: exact counts
//   - notify_count: how often the observable at path notified subscribers
//
// # Deterministic Testing
//
// Scenarios run with a manual scheduler, the container's logical clock, a
// fixed protection key and clock, sequential journal session ids and an
// in-memory SQLite journal, so traces are identical across runs.
package harness
