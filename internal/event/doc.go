// Package event defines the sequenced events a live session emits and the
// payload types they carry. Every component that produces or consumes the
// session feed (fan-out, persistence, stages) shares these definitions.
package event
