// Package harness runs end-to-end scenarios against the bot.
//
// A scenario wires the real components (store, queue, engine, dispatcher,
// lifecycle, signal ingestion) through package app, replacing only the
// outer edges: the clock is testutil.FakeClock, the chat platform is
// dispatch.Recorder and the game library is library.Fake stocked from the
// scenario. Steps drive the system the way the platform and the worker
// would, and every message edit the bot sends lands in the trace.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: two_friends
//	description: "Both users authorize and get a ranking"
//	library:
//	  games:
//	    - {id: 10, name: Deep Rock Galactic}
//	  owned:
//	    acct-u1: {10: {total: 600}}
//	    acct-u2: {10: {total: 30}}
//	flow:
//	  - action: admit
//	    token: tok
//	    user: u1
//	    users: [u2]
//	  - action: run
//	    expect: {token: tok, title: "Authorization needed"}
//	  - action: authorize
//	    user: u1
//	    account: acct-u1
//	  - action: advance
//	    duration: 30s
//	assertions:
//	  - type: trace_order
//	    token: tok
//	    titles: ["Authorization needed", "Top 1 game in common by most playtime"]
//	  - type: final_state
//	    token: tok
//	    expect: {claimed: true, delivered: true}
//
// Signals only enqueue attempts; a run or advance step executes them.
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - trace_contains: a message with the given title was accepted
//   - trace_order: titles were accepted in the given order
//   - trace_count: exactly N accepted messages (with the title, if given)
//   - final_state: stored state (title, claimed, soft_deleted, delivered,
//     verdict, reason) matches
//
// # Deterministic Testing
//
// Every run starts at testutil.Epoch in a fresh SQLite database, task ids
// come from a sequence generator and the runner executes one task at a
// time, so traces are identical across runs and can be compared against
// golden files with RunWithGolden.
package harness
