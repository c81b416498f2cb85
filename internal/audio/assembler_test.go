package audio

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestAssembler uses 100 Hz so one second is 100 samples.
func newTestAssembler(t *testing.T, window, overlap time.Duration, maxPending int) *Assembler {
	t.Helper()
	a, err := NewAssembler(AssemblerConfig{
		SampleRate:   100,
		Window:       window,
		Overlap:      overlap,
		MaxPending:   maxPending,
		StallTimeout: 50 * time.Millisecond,
	}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}
	return a
}

func ramp(start, n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(start + i)
	}
	return samples
}

func TestNewAssemblerValidation(t *testing.T) {
	tests := []struct {
		name   string
		config AssemblerConfig
	}{
		{"zero sample rate", AssemblerConfig{SampleRate: 0, Window: time.Second, MaxPending: 1}},
		{"zero window", AssemblerConfig{SampleRate: 100, MaxPending: 1}},
		{"overlap equals window", AssemblerConfig{SampleRate: 100, Window: time.Second, Overlap: time.Second, MaxPending: 1}},
		{"no pending slots", AssemblerConfig{SampleRate: 100, Window: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewAssembler(tt.config, testLogger(), nil); err == nil {
				t.Errorf("Expected error but got none")
			}
		})
	}
}

func TestAssemblerEmitsOverlappingWindows(t *testing.T) {
	a := newTestAssembler(t, 10*time.Second, 2*time.Second, 8)
	ctx := context.Background()

	// 26 seconds of audio in 1s frames: windows [0,10) [8,18) [16,26)
	for i := 0; i < 26; i++ {
		if _, err := a.Push(ramp(i*100, 100), time.Time{}); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}

	expected := []struct {
		start, end, overlap float64
	}{
		{0, 10, 0},
		{8, 18, 2},
		{16, 26, 2},
	}

	for i, exp := range expected {
		w, err := a.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if w.Index != i {
			t.Errorf("Expected index %d, got %d", i, w.Index)
		}
		if w.Start != exp.start || w.End != exp.end {
			t.Errorf("Window %d: expected [%v,%v), got [%v,%v)", i, exp.start, exp.end, w.Start, w.End)
		}
		if w.Overlap != exp.overlap {
			t.Errorf("Window %d: expected overlap %v, got %v", i, exp.overlap, w.Overlap)
		}
		if len(w.Samples) != 1000 {
			t.Errorf("Window %d: expected 1000 samples, got %d", i, len(w.Samples))
		}
		if w.Samples[0] != int16(exp.start*100) {
			t.Errorf("Window %d: expected first sample %d, got %d", i, int(exp.start*100), w.Samples[0])
		}
		if w.Final {
			t.Errorf("Window %d should not be final", i)
		}
	}

	stats := a.GetStats()
	if stats.WindowsEmitted != 3 || stats.PendingWindows != 0 {
		t.Errorf("Expected 3 emitted and 0 pending, got %+v", stats)
	}
	if stats.BufferedSamples > 2000 {
		t.Errorf("Expected consumed audio to be trimmed, %d samples buffered", stats.BufferedSamples)
	}
}

func TestAssemblerNeverEmitsShortWindowBeforeFlush(t *testing.T) {
	a := newTestAssembler(t, 10*time.Second, 0, 4)

	res, err := a.Push(ramp(0, 950), time.Time{})
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if len(res.Emitted) != 0 {
		t.Fatalf("Expected no window from 9.5s of audio, got %v", res.Emitted)
	}

	final, dropped := a.Flush()
	if final == nil {
		t.Fatal("Expected a final window on flush")
	}
	if len(dropped) != 0 {
		t.Errorf("Expected no drops, got %v", dropped)
	}
	if !final.Final || final.End != 9.5 {
		t.Errorf("Expected final window ending at 9.5, got %+v", final)
	}

	ctx := context.Background()
	w, err := a.Next(ctx)
	if err != nil || w.Index != final.Index {
		t.Fatalf("Expected final window from Next, got %v, %v", w, err)
	}
	if _, err := a.Next(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after drain, got %v", err)
	}
}

func TestAssemblerFlushEmptyTail(t *testing.T) {
	a := newTestAssembler(t, 10*time.Second, 0, 4)

	if _, err := a.Push(ramp(0, 1000), time.Time{}); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	final, _ := a.Flush()
	if final != nil {
		t.Errorf("Expected no final window when the tail is empty, got %+v", final)
	}

	if _, err := a.Push(ramp(0, 10), time.Time{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed on push after flush, got %v", err)
	}
}

func TestAssemblerDropsOldestUnconsumedWindow(t *testing.T) {
	a := newTestAssembler(t, time.Second, 0, 2)

	var dropped []int
	for i := 0; i < 4; i++ {
		res, err := a.Push(ramp(i*100, 100), time.Time{})
		if err != nil {
			t.Fatalf("Push failed: %v", err)
		}
		dropped = append(dropped, res.Dropped...)
	}

	if len(dropped) != 2 || dropped[0] != 0 || dropped[1] != 1 {
		t.Fatalf("Expected windows 0 and 1 dropped, got %v", dropped)
	}

	ctx := context.Background()
	for _, want := range []int{2, 3} {
		w, err := a.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if w.Index != want {
			t.Errorf("Expected window %d, got %d", want, w.Index)
		}
		// Windows are never truncated or merged.
		if len(w.Samples) != 100 || w.Samples[0] != int16(want*100) {
			t.Errorf("Window %d content corrupted", want)
		}
	}

	if got := a.GetStats().WindowsDropped; got != 2 {
		t.Errorf("Expected 2 dropped windows, got %d", got)
	}
}

func TestAssemblerNextBlocksUntilWindow(t *testing.T) {
	a := newTestAssembler(t, time.Second, 0, 4)

	got := make(chan *Window, 1)
	go func() {
		w, err := a.Next(context.Background())
		if err == nil {
			got <- w
		}
	}()

	select {
	case <-got:
		t.Fatal("Next returned before any window existed")
	case <-time.After(20 * time.Millisecond):
	}

	if _, err := a.Push(ramp(0, 100), time.Time{}); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	select {
	case w := <-got:
		if w.Index != 0 {
			t.Errorf("Expected window 0, got %d", w.Index)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not wake up after push")
	}
}

func TestAssemblerNextHonorsContext(t *testing.T) {
	a := newTestAssembler(t, time.Second, 0, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := a.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestAssemblerCloseDiscardsPending(t *testing.T) {
	a := newTestAssembler(t, time.Second, 0, 4)
	if _, err := a.Push(ramp(0, 300), time.Time{}); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	a.Close()

	if _, err := a.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after close, got %v", err)
	}
}

func TestAssemblerStallAndResume(t *testing.T) {
	a := newTestAssembler(t, time.Second, 0, 4)

	if a.CheckStall(time.Now()) {
		t.Error("Fresh assembler should not report a stall")
	}

	later := time.Now().Add(100 * time.Millisecond)
	if !a.CheckStall(later) {
		t.Fatal("Expected stall after timeout")
	}
	if a.CheckStall(later.Add(time.Second)) {
		t.Error("Stall must be reported once")
	}

	res, err := a.Push(ramp(0, 10), time.Time{})
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if !res.Resumed {
		t.Error("Expected first push after stall to report resumed")
	}

	res, _ = a.Push(ramp(0, 10), time.Time{})
	if res.Resumed {
		t.Error("Resumed must be reported once")
	}
}

func TestAssemblerDetectsCaptureGap(t *testing.T) {
	a := newTestAssembler(t, 10*time.Second, 0, 4)
	t0 := time.Unix(1700000000, 0)

	if _, err := a.Push(ramp(0, 10), t0); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	res, _ := a.Push(ramp(0, 10), t0.Add(100*time.Millisecond))
	if res.Gap != 0 {
		t.Errorf("Expected contiguous frames, got gap %v", res.Gap)
	}

	res, _ = a.Push(ramp(0, 10), t0.Add(time.Second))
	if res.Gap <= 0 {
		t.Error("Expected a capture gap to be reported")
	}

	// Offsets follow sample counts, not timestamps.
	if got := a.GetStats().AudioSeconds; got != 0.3 {
		t.Errorf("Expected 0.3s of audio, got %v", got)
	}
}

func TestSamplesFromPCM16(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	back, err := SamplesFromPCM16(PCM16FromSamples(samples))
	if err != nil {
		t.Fatalf("SamplesFromPCM16 failed: %v", err)
	}
	for i := range samples {
		if back[i] != samples[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, samples[i], back[i])
		}
	}

	if _, err := SamplesFromPCM16([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for odd length input")
	}
}

func TestRMS(t *testing.T) {
	if RMS(nil) != 0 {
		t.Error("Expected zero RMS for no samples")
	}
	if RMS(make([]int16, 100)) != 0 {
		t.Error("Expected zero RMS for silence")
	}

	loud := make([]int16, 100)
	for i := range loud {
		loud[i] = 16384
	}
	if got := RMS(loud); got != 0.5 {
		t.Errorf("Expected RMS 0.5, got %v", got)
	}
}
