// Package session implements the live session state machine. One owner
// goroutine holds all session state; capture input, control calls and
// stage results reach it as messages. Every accepted event gets the next
// sequence number of the session before it is fanned out and persisted.
package session
