// Package audio assembles captured PCM-16 frames into fixed-length,
// overlapping windows for transcription. It applies backpressure by dropping
// the oldest unconsumed window, watches for capture stalls and encodes
// windows to WAV for remote backends.
package audio
