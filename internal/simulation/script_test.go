package simulation

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strange-Jackle/meeting-monitor/internal/audio"
	"github.com/Strange-Jackle/meeting-monitor/internal/insight"
	"github.com/Strange-Jackle/meeting-monitor/internal/transcription"
)

func TestDefaultScript(t *testing.T) {
	s, err := Default()
	require.NoError(t, err)

	assert.NotEmpty(t, s.Title)
	assert.Len(t, s.Windows, 5)
	assert.Contains(t, s.Battlecards, "Acme Corp")
	assert.Equal(t, 42.0, s.AudioSeconds(10, 2))
}

func TestScriptBackendAndProvider(t *testing.T) {
	s, err := Default()
	require.NoError(t, err)

	backend := s.Backend()
	result, err := backend.Transcribe(context.Background(), &transcription.Request{
		Window:  &audio.Window{Index: 1},
		Diarize: true,
	})
	require.NoError(t, err)
	require.Len(t, result.Segments, 2)
	assert.Equal(t, "prospect", result.Segments[1].Speaker)

	provider := s.Provider()
	hints, err := provider.Hints(context.Background(), insight.HintRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0.45, hints.Score)

	card, err := provider.Battlecard(context.Background(), insight.BattlecardRequest{Competitor: "acme corp"})
	require.NoError(t, err)
	assert.Equal(t, "Support is an add-on at Acme", card.Points[0])
}

func TestLoadScript(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "valid.yaml")
	require.NoError(t, os.WriteFile(valid, []byte(`
windows:
  - segments:
      - {start: 0, end: 2, text: "hello"}
`), 0644))
	s, err := Load(valid)
	require.NoError(t, err)
	assert.Len(t, s.Windows, 1)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("title: nothing\n"), 0644))
	_, err = Load(empty)
	assert.ErrorContains(t, err, "no windows")

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read script")

	s, err = Load("")
	require.NoError(t, err)
	assert.Len(t, s.Windows, 5)
}

type recordingSink struct {
	mu      sync.Mutex
	samples int
	frames  int
	screens []insight.Screen
}

func (r *recordingSink) PushAudio(ctx context.Context, samples []int16, capturedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples += len(samples)
	r.frames++
	return nil
}

func (r *recordingSink) PushScreen(ctx context.Context, screen insight.Screen) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.screens = append(r.screens, screen)
	return nil
}

func TestSourceRun(t *testing.T) {
	src, err := NewSource(SourceConfig{
		SampleRate:    1000,
		FrameDuration: 100 * time.Millisecond,
		AudioSeconds:  2.05,
		Screens:       []ScriptScreen{{At: 1.5, Text: "later"}, {At: 0, Text: "first"}},
	}, nil)
	require.NoError(t, err)

	sink := &recordingSink{}
	require.NoError(t, src.Run(context.Background(), sink))

	assert.Equal(t, 2050, sink.samples)
	assert.Equal(t, 21, sink.frames)
	require.Len(t, sink.screens, 2)
	assert.Equal(t, "first", sink.screens[0].Text)
	assert.Equal(t, "later", sink.screens[1].Text)
}

func TestSourceStopsOnCancel(t *testing.T) {
	src, err := NewSource(SourceConfig{
		SampleRate:    1000,
		FrameInterval: 10 * time.Millisecond,
		AudioSeconds:  60,
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err = src.Run(ctx, &recordingSink{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestToneIsVoiced(t *testing.T) {
	assert.Greater(t, audio.RMS(Tone(0, 1600, 16000)), 0.1)
}
