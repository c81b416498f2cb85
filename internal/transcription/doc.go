// Package transcription turns audio windows into speaker-labelled transcript
// segments. Backends are pluggable (remote HTTP ASR or a scripted source).
// The Stage adds timeouts, silence gating, hallucination filtering and a
// degraded mode. The Reconciler restores audio order, trims text duplicated
// across window overlaps and assigns session-scoped speaker labels.
package transcription
