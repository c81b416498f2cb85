package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Strange-Jackle/meeting-monitor/internal/event"
	"github.com/Strange-Jackle/meeting-monitor/internal/extraction"
	"github.com/Strange-Jackle/meeting-monitor/internal/insight"
	"github.com/Strange-Jackle/meeting-monitor/internal/transcription"
)

// Stage name used when the assembler drops a window
const assemblerStage = "assembler"

type sourcedText struct {
	source string
	text   string
}

type extracted struct {
	source     string
	candidates []extraction.Candidate
}

// live reports whether the session takes capture input
func (m *Machine) live() bool {
	return m.pipe != nil && (m.state == event.StateActive || m.state == event.StateError)
}

// accepting reports whether stage results of gen are still merged
func (m *Machine) accepting(gen uint64) bool {
	if gen != m.gen || m.pipe == nil {
		return false
	}
	return m.state == event.StateActive || m.state == event.StateError ||
		(m.state == event.StateStopping && m.draining)
}

func (m *Machine) onAudio(gen uint64, samples []int16, capturedAt time.Time) error {
	if (gen != 0 && gen != m.gen) || !m.live() {
		return ErrNoSession
	}

	res, err := m.pipe.assembler.Push(samples, capturedAt)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoSession, err)
	}

	m.stats.AudioWindows += len(res.Emitted)
	m.onDropped(res.Dropped)
	if res.Resumed {
		m.captureDegraded("audio", event.CaptureResumed, "")
	}
	return nil
}

func (m *Machine) onScreen(gen uint64, screen insight.Screen) error {
	if (gen != 0 && gen != m.gen) || !m.live() {
		return ErrNoSession
	}
	if screen.CapturedAt.IsZero() {
		screen.CapturedAt = time.Now()
	}

	m.screen = &screen
	m.stats.Screenshots++

	if strings.TrimSpace(screen.Text) != "" {
		m.extract(sourcedText{source: event.SourceScreen, text: screen.Text})
	}
	return nil
}

func (m *Machine) onDeviceLost(source string, permanent bool, detail string) error {
	if m.state != event.StateActive && m.state != event.StateError && m.state != event.StateStarting {
		return ErrNoSession
	}
	if source == "" {
		source = "audio"
	}

	m.captureDegraded(source, event.CaptureDeviceLost, detail)
	if permanent && m.state == event.StateActive {
		m.logger.Error("Capture device permanently lost",
			slog.String("session_id", m.sessionID),
			slog.String("source", source),
			slog.String("detail", detail))
		m.transition(event.StateError, ReasonDeviceLost, detail)
	}
	return nil
}

func (m *Machine) onStallCheck(gen uint64, now time.Time) {
	if gen != m.gen || !m.live() {
		return
	}
	if m.pipe.assembler.CheckStall(now) {
		m.captureDegraded("audio", event.CaptureStalled,
			fmt.Sprintf("no audio for %s", m.opts.StallTimeout))
	}
}

func (m *Machine) captureDegraded(source, condition, detail string) {
	m.m.RecordCaptureDegraded(source, condition)
	m.emit(event.Event{
		Type: event.TypeCaptureDegraded,
		Degraded: &event.CaptureDegraded{
			Source:    source,
			Condition: condition,
			Detail:    detail,
		},
	})
}

// note reports a condition that does not move the lifecycle
func (m *Machine) note(reason, stage string, window *int, detail string) {
	m.emit(event.Event{
		Type: event.TypeStatusChange,
		Status: &event.StatusChange{
			From:   m.state,
			To:     m.state,
			Reason: reason,
			Stage:  stage,
			Window: window,
			Detail: detail,
		},
	})
}

func (m *Machine) recoverable(stage string, window *int, err error) {
	m.m.RecordRecoverableError(stage)
	m.note(event.ReasonRecoverableError, stage, window, err.Error())
}

func (m *Machine) onDropped(indices []int) {
	for _, index := range indices {
		m.stats.DroppedWindows++
		idx := index
		m.note(event.ReasonWindowDropped, assemblerStage, &idx, "transcription could not keep up")
		m.emitSegments(m.reconciler.Skip(index))
	}
}

// onWindow merges one transcription result
func (m *Machine) onWindow(gen uint64, out *transcription.Output, err error) {
	if !m.accepting(gen) || out == nil || out.Window == nil {
		return
	}
	if !out.Silent {
		m.stats.TranscriptionCalls++
	}

	if out.Mode != nil {
		m.degraded = true
		m.note(event.ReasonDegradedMode, transcription.StageName, nil, out.Mode.String())
		if out.Mode.DiarizationDisabled {
			m.reconciler.SetDiarizer(transcription.SingleSpeaker{})
		}
	}

	if err != nil {
		m.stats.FailedWindows++
		index := out.Window.Index
		var rec *transcription.RecoverableError
		if errors.As(err, &rec) {
			m.recoverable(rec.Stage, &index, rec.Err)
		} else {
			m.recoverable(transcription.StageName, &index, err)
		}
		m.emitSegments(m.reconciler.Fail(index))
		return
	}

	m.emitSegments(m.reconciler.Add(out))
}

// emitSegments sequences segments in audio order and runs extraction on
// their text
func (m *Machine) emitSegments(segs []event.TranscriptSegment) {
	if len(segs) == 0 {
		return
	}

	texts := make([]sourcedText, 0, len(segs))
	for _, seg := range segs {
		seg.Seq = m.seq + 1
		m.emit(event.Event{Type: event.TypeTranscriptSegment, Segment: &seg})
		m.transcript = append(m.transcript, seg)
		texts = append(texts, sourcedText{
			source: fmt.Sprintf("segment:%d", seg.Seq),
			text:   seg.Text,
		})
	}

	m.extract(texts...)
}

// extract runs entity extraction off the owner goroutine
func (m *Machine) extract(items ...sourcedText) {
	p, gen := m.pipe, m.gen
	m.inflight++

	go func() {
		results := make([]extracted, 0, len(items))
		var errs []error
		for _, it := range items {
			candidates, err := p.extractor.Extract(p.ctx, it.text)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", it.source, err))
			}
			if len(candidates) > 0 {
				results = append(results, extracted{source: it.source, candidates: candidates})
			}
		}
		err := errors.Join(errs...)
		m.send(func() { m.onEntities(gen, results, err) })
	}()
}

// onEntities merges an extraction batch. Partial results of a failed batch
// are still merged.
func (m *Machine) onEntities(gen uint64, results []extracted, err error) {
	if gen != m.gen {
		return
	}
	m.inflight--
	defer m.checkDrained()

	if !m.accepting(gen) {
		return
	}
	if err != nil {
		m.recoverable(extraction.StageName, nil, err)
	}

	now := time.Now()
	for _, r := range results {
		for _, c := range r.candidates {
			ent, isNew := m.tracker.Observe(c, r.source, now)
			if !isNew {
				continue
			}

			m.m.RecordEntityDiscovered(string(ent.Kind))
			m.emit(event.Event{Type: event.TypeEntityDiscovered, Entity: &ent})

			if ent.Kind == event.KindCompetitor {
				m.queueBattlecard(ent.Text)
			}
		}
	}

	m.dispatchBattlecards()
}

func cardKey(competitor string) string {
	return strings.ToLower(strings.TrimSpace(competitor))
}

// queueBattlecard schedules the one automatic battlecard of a competitor
func (m *Machine) queueBattlecard(competitor string) {
	key := cardKey(competitor)
	if m.carding[key] {
		return
	}
	m.carding[key] = true
	m.cardQueue = append(m.cardQueue, competitor)
}

// dispatchBattlecards starts at most the per cycle limit of queued
// battlecards. The rest wait for the next batch or hint tick.
func (m *Machine) dispatchBattlecards() {
	if m.state != event.StateActive && m.state != event.StateError {
		return
	}

	n := min(len(m.cardQueue), m.opts.MaxBattlecardsPerCycle)
	for _, competitor := range m.cardQueue[:n] {
		m.generateBattlecard(competitor)
	}
	m.cardQueue = m.cardQueue[n:]

	if len(m.cardQueue) > 0 {
		m.logger.Debug("Battlecards deferred to next cycle", slog.Int("queued", len(m.cardQueue)))
	}
}

func (m *Machine) generateBattlecard(competitor string) {
	p, gen, id := m.pipe, m.gen, m.sessionID
	transcript := event.PlainTranscript(m.transcript)
	m.inflight++
	m.stats.ProviderCalls++

	go func() {
		card, err := p.insights.Battlecard(p.ctx, id, competitor, transcript)
		m.send(func() { m.onBattlecard(gen, card, transcript, err) })
	}()
}

func (m *Machine) onBattlecard(gen uint64, card *event.Battlecard, transcript string, err error) {
	if gen != m.gen {
		return
	}
	m.inflight--
	defer m.checkDrained()

	if !m.accepting(gen) || card == nil {
		return
	}

	key := cardKey(card.Competitor)
	if prev, ok := m.cards[key]; ok {
		card.ID = prev.ID
		card.Revision = prev.Revision + 1
		card.Research = prev.Research
	}
	m.cards[key] = card

	if err != nil {
		m.recoverable(insight.StageName, nil, fmt.Errorf("battlecard %s: %w", card.Competitor, err))
	}

	emitted := *card
	m.emit(event.Event{Type: event.TypeBattlecard, Battlecard: &emitted})

	m.logger.Info("Battlecard generated",
		slog.String("session_id", m.sessionID),
		slog.String("competitor", card.Competitor),
		slog.Int("points", len(card.Points)),
		slog.Bool("fallback", card.Fallback))

	if m.pipe.insights.HasResearcher() && (m.state == event.StateActive || m.state == event.StateError) {
		m.research(card.Competitor, transcript)
	}
}

func (m *Machine) research(competitor, transcript string) {
	p, gen := m.pipe, m.gen
	m.inflight++
	m.stats.ProviderCalls++

	go func() {
		research, err := p.insights.Research(p.ctx, competitor, transcript)
		m.send(func() { m.onResearch(gen, competitor, research, err) })
	}()
}

// onResearch amends the battlecard in place with a new revision
func (m *Machine) onResearch(gen uint64, competitor string, research *event.Research, err error) {
	if gen != m.gen {
		return
	}
	m.inflight--
	defer m.checkDrained()

	if !m.accepting(gen) {
		return
	}
	if err != nil {
		m.recoverable(insight.StageName, nil, fmt.Errorf("research %s: %w", competitor, err))
		return
	}

	card, ok := m.cards[cardKey(competitor)]
	if research == nil || !ok {
		return
	}

	amended := *card
	amended.Research = research
	amended.Revision = card.Revision + 1
	m.cards[cardKey(competitor)] = &amended

	emitted := amended
	m.emit(event.Event{Type: event.TypeBattlecardUpdated, Battlecard: &emitted})
}

func (m *Machine) handleBattlecardRequest(competitor string) error {
	if m.state != event.StateActive {
		return ErrNoSession
	}

	if m.opts.Classifier != nil {
		if name, ok := m.opts.Classifier.Competitor(competitor); ok {
			competitor = name
		}
	}

	key := cardKey(competitor)
	m.carding[key] = true
	for i, queued := range m.cardQueue {
		if cardKey(queued) == key {
			m.cardQueue = append(m.cardQueue[:i], m.cardQueue[i+1:]...)
			break
		}
	}

	m.generateBattlecard(competitor)
	return nil
}

// onHintTick starts a hint cycle from the recent context
func (m *Machine) onHintTick(gen uint64) {
	if gen != m.gen || m.state != event.StateActive || m.pipe == nil {
		return
	}

	m.dispatchBattlecards()

	p, id := m.pipe, m.sessionID
	req := insight.HintRequest{
		SessionID: id,
		Context:   m.recentContext(),
		Screen:    m.screen,
	}
	m.inflight++

	go func() {
		outcome, err := p.insights.Hints(p.ctx, req)
		m.send(func() { m.onHints(gen, outcome, err) })
	}()
}

func (m *Machine) onHints(gen uint64, outcome *insight.HintOutcome, err error) {
	if gen != m.gen {
		return
	}
	m.inflight--
	defer m.checkDrained()

	if !m.accepting(gen) || err != nil {
		return
	}
	m.stats.ProviderCalls++

	if !m.board.Apply(outcome) {
		m.logger.Debug("Discarding stale hint cycle", slog.String("cycle", outcome.Cycle))
		return
	}

	if outcome.Fallback && outcome.Err != nil {
		m.recoverable(insight.StageName, nil, fmt.Errorf("hints: %w", outcome.Err))
	}
	for i := range outcome.Insights {
		in := outcome.Insights[i]
		m.emit(event.Event{Type: event.TypeInsight, Insight: &in})
	}
}

// recentContext is the formatted transcript of the last RecentContext
// seconds of audio
func (m *Machine) recentContext() string {
	if len(m.transcript) == 0 {
		return ""
	}

	cutoff := m.transcript[len(m.transcript)-1].End - m.opts.RecentContext.Seconds()
	start := len(m.transcript)
	for start > 0 && (m.opts.RecentContext <= 0 || m.transcript[start-1].End >= cutoff) {
		start--
	}
	return event.FormatTranscript(m.transcript[start:])
}
