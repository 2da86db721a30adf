// Package dispatch executes actuator commands against the bus.
//
// Every physical device gets its own queue and worker goroutine, so writes
// to channels that share a device are strictly serialised:
//
//	Submit ──► queue[relays-a] ──► worker ──► Write ──► Read-back ──► ActuationCompleted
//	       └─► queue[relays-b] ──► worker ──►   │          │ mismatch: one retry
//	                                            └──────────┴────────► ActuationFailed
//
// Commands to a device that is not Healthy are rejected before reaching the
// bus. A per-device circuit breaker stops hammering a relay whose read-back
// keeps disagreeing with what was written.
package dispatch
