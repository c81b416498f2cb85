// Command mock-transcriber is a stand-in transcription endpoint for local
// runs. It accepts the multipart window upload the HTTP backend sends and
// answers with canned, optionally speaker-labelled segments.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Strange-Jackle/meeting-monitor/internal/audio"
	"github.com/Strange-Jackle/meeting-monitor/internal/transcription"
)

var phrases = []string{
	"Thanks for making the time today.",
	"We looked at Acme last quarter but the pricing did not work for us.",
	"Our main concern is the rollout timeline for the second region.",
	"Can you walk me through how onboarding works?",
	"The security review needs to be done before the end of the month.",
	"We would want a pilot with two teams first.",
}

type mockServer struct {
	logger    *slog.Logger
	latency   time.Duration
	exhausted atomic.Bool
	windows   atomic.Uint64
}

func (s *mockServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.exhausted.Load() {
		http.Error(w, "inference device busy", http.StatusInsufficientStorage)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	wav, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}
	duration, err := audio.WAVDuration(wav)
	if err != nil {
		http.Error(w, "Invalid WAV payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	window, _ := strconv.Atoi(r.FormValue("window"))
	diarize, _ := strconv.ParseBool(r.FormValue("diarize"))

	s.logger.Info("Transcription request received",
		slog.String("session_id", r.FormValue("session_id")),
		slog.Int("window", window),
		slog.String("filename", header.Filename),
		slog.Int("audio_bytes", len(wav)),
		slog.Float64("duration", duration),
		slog.Bool("diarize", diarize),
		slog.String("language", r.FormValue("language")),
	)

	// Simulate processing time
	time.Sleep(s.latency)

	result := transcription.Result{
		Language: "en",
		Duration: duration,
	}
	// Two utterances per window, alternating speakers
	half := duration / 2
	for i := 0; i < 2; i++ {
		seg := transcription.Segment{
			Start:      float64(i) * half,
			End:        float64(i+1) * half,
			Text:       phrases[(2*window+i)%len(phrases)],
			Confidence: 0.93,
		}
		if diarize {
			seg.Speaker = "SPEAKER_" + strconv.Itoa((window+i)%2)
		}
		result.Segments = append(result.Segments, seg)
	}
	s.windows.Add(1)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(result)
}

func (s *mockServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.exhausted.Load() {
		http.Error(w, "inference device busy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"windows": s.windows.Load(),
	})
}

// handleExhausted toggles the simulated device exhaustion
func (s *mockServer) handleExhausted(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	on, err := strconv.ParseBool(r.URL.Query().Get("on"))
	if err != nil {
		http.Error(w, "on must be true or false", http.StatusBadRequest)
		return
	}
	s.exhausted.Store(on)
	s.logger.Info("Exhaustion toggled", slog.Bool("exhausted", on))
	w.WriteHeader(http.StatusNoContent)
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	latency := flag.Duration("latency", 200*time.Millisecond, "Simulated inference latency")
	exhausted := flag.Bool("exhausted", false, "Start with the inference device exhausted")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	s := &mockServer{logger: logger, latency: *latency}
	s.exhausted.Store(*exhausted)

	mux := http.NewServeMux()
	mux.HandleFunc("/transcribe", s.handleTranscribe)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/exhausted", s.handleExhausted)

	logger.Info("Mock transcriber starting",
		slog.String("address", *addr),
		slog.String("endpoint", "http://localhost"+*addr+"/transcribe"),
	)

	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
