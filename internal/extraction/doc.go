// Package extraction finds named entities in newly appended transcript and
// screen text, tags competitors and tracks the per-session entity set.
package extraction
