// Package harness runs multi-replica convergence scenarios.
//
// A scenario describes a hub (the sync server's replica) and any number of
// client replicas, each with its own in-memory SQLite store and engine. All
// of them read physical time from one manual wall clock, optionally shifted
// per replica to model clock skew, so every HLC timestamp in a run is
// reproducible.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: offline_edits
//	description: "Two replicas edit the same field while offline"
//	start: 2023-11-14T22:13:20Z    # optional, default DefaultStart
//	resolution: 1m                 # optional Merkle bucket width
//	max_drift: 60s                 # optional
//	replicas:
//	  - name: a
//	  - name: b
//	    skew: 10s
//	steps:
//	  - put: { replica: a, store: todos, key: "1", prop: title, value: hello }
//	  - advance: 1s
//	  - sync: a
//	  - restart: b
//	  - sync: b
//	    expect: protocol_error
//	assertions:
//	  - type: converged
//	  - type: document
//	    replica: b
//	    store: todos
//	    key: "1"
//	    expect: { title: hello }
//
// A put without prop replaces the whole object; a null value deletes. A sync
// runs the client's sync loop against the hub through the in-process
// transport. A restart reopens a replica's engine on its store, dropping the
// unsent outbox.
//
// # Assertion Types
//
//   - converged: every replica's Merkle root equals the hub's
//   - document: the projected document of one object (or missing: true)
//   - entry_count: number of stored entries on a replica
//   - trace_contains: some trace line contains the given text
//
// # Golden Traces
//
// RunWithGolden renders the trace, one line per step plus a final line per
// replica, and compares it against testdata/golden/<name>.golden. Run
//
//	go test ./internal/harness -update
//
// to regenerate the files after an intended behavior change.
package harness
