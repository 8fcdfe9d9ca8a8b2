// Package store provides SQLite persistence for the agent-communication core.
//
// # Data Models
//
//   - Agent: a registered autonomous process with its provisioned channel
//   - Task: a unit of agent work with a bounded lifecycle and progress
//   - InputRequest: a pending question posed to a human, answered at most once
//   - AgentMessage: append-only log of notifications sent on an agent's behalf
//
// AgentStore implements all persistence in a single struct backed by one
// SQLite file in WAL mode. Every write runs as its own short-lived statement
// so multiple agent processes on the same machine can share the file; a
// transient SQLITE_BUSY is retried with exponential backoff up to a small
// bound before surfacing ErrStorageLocked.
//
// The store holds no business rules. Contract-level outcomes that callers
// must branch on (duplicate agent id, already-answered request, unknown task)
// are reported as a false boolean rather than an error.
package store
