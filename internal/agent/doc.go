// Package agent defines the three content-generating collaborators the
// refinement loop drives: a planner that proposes tasks, a generator that
// turns a task into a unified diff, and a reviewer that judges the diff.
//
// All three share one shape, Collaborator[Req, Resp], so tests substitute
// deterministic Func stubs and production wires LLM-backed implementations.
// Retrying adds per-attempt timeouts, rate limiting and exponential backoff
// around any collaborator. Spend is charged to a Ledger the loop reads for
// its budget guard.
package agent
