// ABOUTME: Package orchestrator executes stored actions behind the policy gate
// ABOUTME: It is the only writer of executing, sent and failed statuses on Action Records

// Package orchestrator turns an action id into at most one provider call.
//
// An invocation loads the record and its conversation policy, asks the gate
// whether it may fire, validates the payload and credentials, then claims the
// record with a version-guarded update. Only the invocation that wins the
// claim calls the dispatcher. Whatever the provider says, the outcome is
// written as an outbound message, an execution receipt and a terminal status.
//
// Invocations on records that already finished are answered from the latest
// receipt without touching the provider.
package orchestrator
