// Package vad provides an energy based voice activity gate. Windows whose
// frames never rise above the silence threshold are reported as silent so
// the transcription stage can skip the backend call.
package vad
