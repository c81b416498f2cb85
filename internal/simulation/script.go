package simulation

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Strange-Jackle/meeting-monitor/internal/event"
	"github.com/Strange-Jackle/meeting-monitor/internal/insight"
	"github.com/Strange-Jackle/meeting-monitor/internal/transcription"
)

//go:embed default.yaml
var defaultScript []byte

// Script is a pre-recorded conversation
type Script struct {
	Title       string              `yaml:"title"`
	Summary     string              `yaml:"summary"`
	Windows     []ScriptWindow      `yaml:"windows"`
	Hints       []ScriptHintCycle   `yaml:"hints"`
	Battlecards map[string][]string `yaml:"battlecards"`
	Screens     []ScriptScreen      `yaml:"screens"`
}

// ScriptWindow is the transcript of one audio window
type ScriptWindow struct {
	Segments []ScriptSegment `yaml:"segments"`
}

// ScriptSegment is one line of the script. Times are relative to the
// window start.
type ScriptSegment struct {
	Speaker string  `yaml:"speaker"`
	Start   float64 `yaml:"start"`
	End     float64 `yaml:"end"`
	Text    string  `yaml:"text"`
}

// ScriptHintCycle is the provider answer for one hint cycle
type ScriptHintCycle struct {
	Score float64      `yaml:"score"`
	Hints []ScriptHint `yaml:"hints"`
}

// ScriptHint is one scripted hint
type ScriptHint struct {
	Kind string `yaml:"kind"`
	Text string `yaml:"text"`
}

// ScriptScreen is a screen snapshot shown at a session offset in seconds
type ScriptScreen struct {
	At   float64 `yaml:"at"`
	Text string  `yaml:"text"`
}

// Default returns the built-in demo script
func Default() (*Script, error) {
	return Parse(defaultScript)
}

// Load reads a script file, or the built-in script when path is empty
func Load(path string) (*Script, error) {
	if path == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML script
func Parse(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid script: %w", err)
	}
	return &s, nil
}

// Validate checks the script for usable content
func (s *Script) Validate() error {
	if len(s.Windows) == 0 {
		return fmt.Errorf("script has no windows")
	}
	for i, w := range s.Windows {
		for j, seg := range w.Segments {
			if strings.TrimSpace(seg.Text) == "" {
				return fmt.Errorf("windows[%d].segments[%d] has no text", i, j)
			}
			if seg.End < seg.Start {
				return fmt.Errorf("windows[%d].segments[%d] ends before it starts", i, j)
			}
		}
	}
	for i, sc := range s.Screens {
		if sc.At < 0 {
			return fmt.Errorf("screens[%d] has a negative offset", i)
		}
	}
	return nil
}

// AudioSeconds returns how much audio produces every scripted window
func (s *Script) AudioSeconds(window, overlap float64) float64 {
	if len(s.Windows) == 0 {
		return 0
	}
	return window + float64(len(s.Windows)-1)*(window-overlap)
}

// Backend returns a transcription backend that replays the script windows
func (s *Script) Backend() *transcription.ScriptedBackend {
	windows := make(map[int]transcription.ScriptedWindow, len(s.Windows))
	for i, w := range s.Windows {
		segments := make([]transcription.Segment, 0, len(w.Segments))
		for _, seg := range w.Segments {
			segments = append(segments, transcription.Segment{
				Start:      seg.Start,
				End:        seg.End,
				Text:       seg.Text,
				Speaker:    seg.Speaker,
				Confidence: 1,
			})
		}
		windows[i] = transcription.ScriptedWindow{Segments: segments}
	}
	return transcription.NewScriptedBackend("simulation", windows)
}

// Provider returns an insight provider that replays the scripted hint
// cycles, battlecards and summary
func (s *Script) Provider() *insight.ScriptedProvider {
	cycles := make([]insight.HintResult, 0, len(s.Hints))
	for _, c := range s.Hints {
		result := insight.HintResult{Score: c.Score}
		for _, h := range c.Hints {
			result.Hints = append(result.Hints, insight.Hint{Kind: event.InsightKind(h.Kind), Text: h.Text})
		}
		cycles = append(cycles, result)
	}
	return insight.NewScriptedProvider(cycles, s.Battlecards, s.Summary)
}
