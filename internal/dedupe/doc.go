// Package dedupe suppresses duplicate executions of the same action within
// one process. The database claim stays the authoritative guard across
// processes; this only stops a retried request from reaching it while the
// first is still in flight.
package dedupe
