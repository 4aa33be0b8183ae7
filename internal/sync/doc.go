// Package sync provides the primary side of course synchronization.
//
// # Overview
//
// The Coordinator sits between local mutations and the peer channel. Every
// local change goes through the Repository first; only after the write
// succeeds does the Coordinator tell the companion about it. Inbound
// messages from the companion are applied through the same Repository.
//
// # Architecture
//
//	local action ──► Coordinator ──► Repository ──► Store
//	                     │
//	                     └──(channel open?)──► export-course / sync-courses / {key,newValue}
//
//	companion ──► Link ──► Coordinator.Handle ──► Repository ──► Store
//
// # Outbound messages
//
//   - course created, hole marked, par changed, course renamed → export-course
//   - course created, deleted, renamed, imported, cleaned up → sync-courses
//   - setting changed → {key, newValue}
//
// # Delivery
//
// Sends are best effort. When the channel is not open the message is
// dropped and logged, never queued, and the caller still sees success for
// the local write. Reconcile pushes the full list and the active course
// when the channel opens, so a companion that missed messages converges.
//
// # Error Handling
//
//   - Local write failures are returned and nothing is emitted
//   - Operations naming a missing course or hole are no-ops
//   - Inbound messages that cannot be applied are logged and dropped
package sync
