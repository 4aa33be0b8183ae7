// Package model defines the golf-course records shared by both peers.
//
// # Records
//
// Four records make up the persisted state of the primary device:
//
//   - Course: a named sequence of exactly 18 holes, identified by an opaque id
//   - Hole: par plus the marked coordinate targets of one playable unit
//   - Settings: user preferences, always fully populated
//   - RoundState: the resume cursor of an in-progress round (soft reference)
//
// A Fix is the position sample supplied by the device's location source. It
// is never persisted; it only feeds hole marking.
//
// # Hole layouts
//
// A hole carries one of two shapes depending on the product variant:
//
//	single: {"number": 3, "latitude": 51.5, "longitude": -0.12, "par": 4}
//	multi:  {"number": 3, "tee": {...}, "middle": {...}, "hazards": [...], "par": 4}
//
// The shapes are never mixed within one course. A hole without any target
// fits either layout, which is how freshly created courses start out.
//
// # Wire format
//
// Timestamps serialize as epoch milliseconds so that courses written by older
// companions decode unchanged. RFC 3339 strings are accepted on input.
//
// # Validation
//
// Validate methods report the first violated invariant. Normalize fills
// defaults (par 4) and restores hole ordering; callers that accept foreign
// data (codec, import, cleanup) normalize before validating.
package model
