package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/Strange-Jackle/meeting-monitor/internal/event"
	"github.com/Strange-Jackle/meeting-monitor/internal/extraction"
	"github.com/Strange-Jackle/meeting-monitor/internal/fanout"
	"github.com/Strange-Jackle/meeting-monitor/internal/insight"
	"github.com/Strange-Jackle/meeting-monitor/internal/metrics"
	"github.com/Strange-Jackle/meeting-monitor/internal/store"
	"github.com/Strange-Jackle/meeting-monitor/internal/transcription"
)

// ErrUnknownHint is returned when a starred hint id was never shown
var ErrUnknownHint = errors.New("unknown hint")

const finalizeTimeout = 30 * time.Second

type reply struct {
	id  string
	err error
}

// Machine is the session state machine. At most one session is outside
// idle, stopped and error at any time.
type Machine struct {
	opts     Options
	backends Backends
	broker   *fanout.Broker
	persist  Persister
	logger   *slog.Logger
	m        *metrics.Metrics

	inbox chan func()
	done  chan struct{}

	// Owned by the Run goroutine
	state      event.State
	gen        uint64
	sessionID  string
	title      string
	simulation bool
	startedAt  time.Time
	seq        uint64

	transcript []event.TranscriptSegment
	reconciler *transcription.Reconciler
	tracker    *extraction.Tracker
	board      *insight.Board
	cards      map[string]*event.Battlecard
	carding    map[string]bool
	cardQueue  []string
	screen     *insight.Screen
	stats      store.SessionStats
	degraded   bool

	pipe        *pipeline
	startCancel context.CancelFunc
	inflight    int
	workersDone bool
	draining    bool
	drainTimer  *time.Timer

	startWaiters   []chan reply
	stopWaiters    []chan reply
	stopAfterStart bool
}

// NewMachine creates an idle machine. Run must be started before any
// other method is called.
func NewMachine(opts Options, backends Backends, broker *fanout.Broker, persist Persister, logger *slog.Logger, m *metrics.Metrics) (*Machine, error) {
	if backends == nil {
		return nil, fmt.Errorf("backends are required")
	}
	if broker == nil {
		return nil, fmt.Errorf("broker is required")
	}
	if persist == nil {
		return nil, fmt.Errorf("persister is required")
	}
	if opts.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if _, err := transcription.NewDiarizer(opts.Diarization); err != nil {
		return nil, err
	}
	if opts.MaxBattlecardsPerCycle <= 0 {
		opts.MaxBattlecardsPerCycle = 2
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	mach := &Machine{
		opts:     opts,
		backends: backends,
		broker:   broker,
		persist:  persist,
		logger:   logger.With(slog.String("component", "session")),
		m:        m,
		inbox:    make(chan func(), 256),
		done:     make(chan struct{}),
		state:    event.StateIdle,
	}
	mach.resetCaches()

	return mach, nil
}

// Run processes messages until ctx ends. It is the only goroutine that
// touches session state.
func (m *Machine) Run(ctx context.Context) error {
	defer close(m.done)

	m.logger.Info("Session machine running")

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case fn := <-m.inbox:
			fn()
		}
	}
}

// send queues fn for the owner goroutine
func (m *Machine) send(fn func()) {
	select {
	case m.inbox <- fn:
	case <-m.done:
	}
}

// call runs fn on the owner goroutine and waits for it
func (m *Machine) call(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	select {
	case m.inbox <- func() { fn(); close(ran) }:
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ran:
		return nil
	case <-m.done:
		return ErrStopped
	}
}

func (m *Machine) await(ctx context.Context, id string, wait chan reply) (string, error) {
	select {
	case r := <-wait:
		return r.id, r.err
	case <-ctx.Done():
		return id, ctx.Err()
	case <-m.done:
		return id, ErrStopped
	}
}

// Start begins a session and waits until it is active or failed. A start
// while starting or active returns the existing session id.
func (m *Machine) Start(ctx context.Context, opts StartOptions) (string, error) {
	var (
		id   string
		wait chan reply
		err  error
	)
	if cerr := m.call(ctx, func() { id, wait, err = m.handleStart(opts) }); cerr != nil {
		return "", cerr
	}
	if err != nil || wait == nil {
		return id, err
	}
	return m.await(ctx, id, wait)
}

// Stop ends the current session and waits until it is stopped. Stop while
// idle or stopped is a no-op returning the last known session id.
func (m *Machine) Stop(ctx context.Context) (string, error) {
	var (
		id   string
		wait chan reply
	)
	if err := m.call(ctx, func() { id, wait = m.handleStop() }); err != nil {
		return "", err
	}
	if wait == nil {
		return id, nil
	}
	return m.await(ctx, id, wait)
}

// Reset cancels everything without draining and returns to idle. It is
// safe in any state.
func (m *Machine) Reset(ctx context.Context) (string, error) {
	var id string
	if err := m.call(ctx, func() { id = m.handleReset() }); err != nil {
		return "", err
	}
	return id, nil
}

// Status returns the current session status
func (m *Machine) Status(ctx context.Context) (Status, error) {
	var st Status
	err := m.call(ctx, func() { st = m.status() })
	return st, err
}

// Subscribe opens a feed whose first event is a snapshot of the current
// session. Live events follow from the same cut point.
func (m *Machine) Subscribe(ctx context.Context) (*fanout.Subscriber, error) {
	var sub *fanout.Subscriber
	err := m.call(ctx, func() {
		sub = m.broker.Subscribe(m.snapshot())
	})
	return sub, err
}

// PushAudio feeds a PCM16 frame of the active session
func (m *Machine) PushAudio(ctx context.Context, samples []int16, capturedAt time.Time) error {
	return m.pushAudio(ctx, 0, samples, capturedAt)
}

// PushScreen feeds a screen snapshot of the active session
func (m *Machine) PushScreen(ctx context.Context, screen insight.Screen) error {
	return m.pushScreen(ctx, 0, screen)
}

func (m *Machine) pushAudio(ctx context.Context, gen uint64, samples []int16, capturedAt time.Time) error {
	var err error
	if cerr := m.call(ctx, func() { err = m.onAudio(gen, samples, capturedAt) }); cerr != nil {
		return cerr
	}
	return err
}

func (m *Machine) pushScreen(ctx context.Context, gen uint64, screen insight.Screen) error {
	var err error
	if cerr := m.call(ctx, func() { err = m.onScreen(gen, screen) }); cerr != nil {
		return cerr
	}
	return err
}

// ReportDeviceLost surfaces a capture device loss. A permanent loss moves
// an active session to error.
func (m *Machine) ReportDeviceLost(ctx context.Context, source string, permanent bool, detail string) error {
	var err error
	if cerr := m.call(ctx, func() { err = m.onDeviceLost(source, permanent, detail) }); cerr != nil {
		return cerr
	}
	return err
}

// RequestBattlecard generates a battlecard for competitor now, even when
// one exists already
func (m *Machine) RequestBattlecard(ctx context.Context, competitor string) error {
	competitor = strings.TrimSpace(competitor)
	if competitor == "" {
		return fmt.Errorf("competitor is required")
	}

	var err error
	if cerr := m.call(ctx, func() { err = m.handleBattlecardRequest(competitor) }); cerr != nil {
		return cerr
	}
	return err
}

// StarHint promotes a hint to durable storage. It works for any session
// id the store knows, including stopped sessions.
func (m *Machine) StarHint(ctx context.Context, req StarRequest) (store.StarredHint, error) {
	var (
		hint store.StarredHint
		err  error
	)
	if cerr := m.call(ctx, func() { hint, err = m.resolveStar(req) }); cerr != nil {
		return hint, cerr
	}
	if err != nil {
		return hint, err
	}

	if err := m.persist.StarHint(ctx, hint); err != nil {
		return hint, fmt.Errorf("star hint: %w", err)
	}

	m.logger.Info("Hint starred",
		slog.String("session_id", hint.SessionID),
		slog.String("hint_id", hint.ID),
		slog.String("text", hint.Text))

	return hint, nil
}

// handleStart runs on the owner goroutine
func (m *Machine) handleStart(opts StartOptions) (string, chan reply, error) {
	switch m.state {
	case event.StateStarting, event.StateActive:
		return m.sessionID, nil, nil
	case event.StateStopping, event.StateError:
		return m.sessionID, nil, fmt.Errorf("%w: session %s is %s", ErrInvalidState, m.sessionID, m.state)
	case event.StateStopped:
		m.logger.Info("Releasing stopped session", slog.String("session_id", m.sessionID))
		m.state = event.StateIdle
	}

	// Each feed covers one session
	m.broker.CloseAll()

	m.gen++
	gen := m.gen
	m.sessionID = uuid.NewString()
	m.title = opts.Title
	m.simulation = opts.Simulation
	m.startedAt = time.Now()
	m.seq = 0
	m.resetCaches()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := m.persist.CreateSession(ctx, store.SessionRecord{
		ID:         m.sessionID,
		Title:      m.title,
		Simulation: m.simulation,
		State:      event.StateStarting,
		StartedAt:  m.startedAt,
	}); err != nil {
		m.logger.Error("Failed to queue session record", slog.String("error", err.Error()))
	}
	cancel()

	m.transition(event.StateStarting, ReasonStart, "")

	wait := make(chan reply, 1)
	m.startWaiters = append(m.startWaiters, wait)

	m.logger.Info("Starting session",
		slog.String("session_id", m.sessionID),
		slog.Bool("simulation", m.simulation))

	startCtx, startCancel := context.WithCancel(context.Background())
	m.startCancel = startCancel
	id := m.sessionID
	go func() {
		defer startCancel()
		comps, err := m.backends.Components(startCtx, opts.Simulation)
		var p *pipeline
		if err == nil {
			p, err = buildPipeline(startCtx, gen, id, comps, m.opts, m.logger, m.m)
		}
		m.send(func() { m.onStarted(gen, p, err) })
	}()

	return m.sessionID, wait, nil
}

func (m *Machine) onStarted(gen uint64, p *pipeline, err error) {
	if gen != m.gen || m.state != event.StateStarting {
		if p != nil {
			p.close()
		}
		return
	}
	m.startCancel = nil

	if err != nil {
		m.logger.Error("Session failed to start",
			slog.String("session_id", m.sessionID),
			slog.String("error", err.Error()))
		m.transition(event.StateError, ReasonStartError, err.Error())
		m.replyStart(reply{id: m.sessionID, err: fmt.Errorf("%w: %w", ErrSessionFailed, err)})
	} else {
		m.pipe = p
		p.start(m, m.opts)
		m.transition(event.StateActive, ReasonReady, "")
		m.m.RecordSessionStarted()
		m.replyStart(reply{id: m.sessionID})
	}

	if m.stopAfterStart {
		m.stopAfterStart = false
		m.beginStop()
	}
}

func (m *Machine) replyStart(r reply) {
	for _, w := range m.startWaiters {
		w <- r
	}
	m.startWaiters = nil
}

// handleStop runs on the owner goroutine
func (m *Machine) handleStop() (string, chan reply) {
	switch m.state {
	case event.StateIdle, event.StateStopped:
		return m.sessionID, nil
	}

	wait := make(chan reply, 1)
	m.stopWaiters = append(m.stopWaiters, wait)

	switch m.state {
	case event.StateStarting:
		m.stopAfterStart = true
	case event.StateActive, event.StateError:
		m.beginStop()
	}
	return m.sessionID, wait
}

// beginStop flushes the assembler and waits for in-flight work, bounded by
// the drain timeout
func (m *Machine) beginStop() {
	m.transition(event.StateStopping, ReasonStop, "")

	p := m.pipe
	if p == nil {
		m.summarize()
		return
	}

	p.stopInput()
	final, dropped := p.assembler.Flush()
	m.onDropped(dropped)
	if final != nil {
		m.stats.AudioWindows++
	}

	m.draining = true
	gen := m.gen
	m.drainTimer = time.AfterFunc(m.opts.DrainTimeout, func() {
		m.send(func() { m.onDrainTimeout(gen) })
	})

	m.logger.Info("Draining session",
		slog.String("session_id", m.sessionID),
		slog.Int("in_flight", m.inflight),
		slog.Duration("drain_timeout", m.opts.DrainTimeout))

	m.checkDrained()
}

func (m *Machine) checkDrained() {
	if !m.draining || !m.workersDone || m.inflight > 0 {
		return
	}
	m.draining = false
	if m.drainTimer != nil {
		m.drainTimer.Stop()
		m.drainTimer = nil
	}
	m.summarize()
}

func (m *Machine) onDrainTimeout(gen uint64) {
	if gen != m.gen || !m.draining {
		return
	}

	m.logger.Warn("Drain timeout, abandoning in-flight work",
		slog.String("session_id", m.sessionID),
		slog.Int("in_flight", m.inflight),
		slog.Bool("workers_done", m.workersDone))

	m.draining = false
	m.drainTimer = nil
	m.pipe.cancel()

	// Windows held behind an abandoned one are still released in order
	m.emitSegments(m.reconciler.Flush())
	m.summarize()
}

func (m *Machine) onWorkersDone(gen uint64, err error) {
	if gen != m.gen {
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Warn("Transcription workers stopped", slog.String("error", err.Error()))
	}
	m.workersDone = true
	m.checkDrained()
}

// summarize computes the summary off the owner goroutine
func (m *Machine) summarize() {
	req := insight.SummaryRequest{
		SessionID:  m.sessionID,
		Transcript: event.FormatTranscript(m.transcript),
		Entities:   m.tracker.Top(5),
	}

	if m.pipe == nil {
		m.finish(insight.ExtractiveSummary(req.Transcript, req.Entities))
		return
	}

	gen := m.gen
	stage := m.pipe.insights
	timeout := m.opts.SummaryTimeout
	m.stats.ProviderCalls++
	go func() {
		summary, fallback := stage.Summarize(context.Background(), req, timeout)
		m.send(func() { m.onSummary(gen, summary, fallback) })
	}()
}

func (m *Machine) onSummary(gen uint64, summary string, fallback bool) {
	if gen != m.gen || m.state != event.StateStopping {
		return
	}
	if fallback {
		m.logger.Info("Using extractive summary", slog.String("session_id", m.sessionID))
	}
	m.finish(summary)
}

// finish publishes the terminal event, closes feeds and persists the
// final record
func (m *Machine) finish(summary string) {
	now := time.Now()

	m.transition(event.StateStopped, ReasonDone, "")
	m.emit(event.Event{
		Type: event.TypeSessionEnded,
		Ended: &event.SessionEnded{
			Summary:  summary,
			EndedAt:  now,
			Segments: len(m.transcript),
		},
	})
	m.broker.CloseAll()

	if m.pipe != nil {
		m.pipe.close()
		m.pipe = nil
	}

	rec := m.record(event.StateStopped, summary, now)
	waiters := m.stopWaiters
	m.stopWaiters = nil
	m.m.RecordSessionEnded("stopped", now.Sub(m.startedAt).Seconds())

	m.logger.Info("Session stopped",
		slog.String("session_id", rec.ID),
		slog.Int("segments", rec.Segments),
		slog.Int("entities", rec.Stats.Entities),
		slog.Int("battlecards", rec.Stats.Battlecards),
		slog.Duration("duration", now.Sub(m.startedAt)))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
		defer cancel()
		if err := m.persist.Finalize(ctx, rec); err != nil {
			m.logger.Error("Failed to finalize session",
				slog.String("session_id", rec.ID),
				slog.String("error", err.Error()))
		}
		for _, w := range waiters {
			w <- reply{id: rec.ID}
		}
	}()
}

// handleReset runs on the owner goroutine
func (m *Machine) handleReset() string {
	if m.state == event.StateIdle {
		return m.sessionID
	}

	m.logger.Warn("Resetting session",
		slog.String("session_id", m.sessionID),
		slog.String("state", string(m.state)))

	if m.startCancel != nil {
		m.startCancel()
		m.startCancel = nil
	}
	if m.drainTimer != nil {
		m.drainTimer.Stop()
		m.drainTimer = nil
	}

	if m.state != event.StateStopped {
		now := time.Now()
		m.transition(event.StateIdle, ReasonReset, "")
		m.emit(event.Event{
			Type: event.TypeSessionEnded,
			Ended: &event.SessionEnded{
				EndedAt:  now,
				Segments: len(m.transcript),
				Reset:    true,
			},
		})
		m.broker.CloseAll()
		m.m.RecordSessionEnded("reset", now.Sub(m.startedAt).Seconds())

		rec := m.record(event.StateIdle, "", now)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
			defer cancel()
			if err := m.persist.Finalize(ctx, rec); err != nil {
				m.logger.Error("Failed to finalize reset session",
					slog.String("session_id", rec.ID),
					slog.String("error", err.Error()))
			}
		}()
	}

	if m.pipe != nil {
		m.pipe.close()
		m.pipe = nil
	}

	m.replyStart(reply{id: m.sessionID, err: ErrReset})
	for _, w := range m.stopWaiters {
		w <- reply{id: m.sessionID}
	}
	m.stopWaiters = nil

	// Late results of the old generation are ignored from here on
	m.gen++
	m.state = event.StateIdle
	m.stopAfterStart = false
	m.draining = false

	return m.sessionID
}

func (m *Machine) shutdown() {
	if m.pipe != nil {
		m.pipe.close()
		m.pipe = nil
	}
	if m.startCancel != nil {
		m.startCancel()
	}
	if m.drainTimer != nil {
		m.drainTimer.Stop()
	}
	m.logger.Info("Session machine stopped",
		slog.String("session_id", m.sessionID),
		slog.String("state", string(m.state)))
}

// resetCaches clears per session state
func (m *Machine) resetCaches() {
	diarizer, _ := transcription.NewDiarizer(m.opts.Diarization)
	m.transcript = nil
	m.reconciler = transcription.NewReconciler(diarizer)
	m.tracker = extraction.NewTracker()
	m.board = insight.NewBoard()
	m.cards = make(map[string]*event.Battlecard)
	m.carding = make(map[string]bool)
	m.cardQueue = nil
	m.screen = nil
	m.stats = store.SessionStats{}
	m.degraded = false
	m.inflight = 0
	m.workersDone = false
	m.draining = false
}

// transition moves the lifecycle and announces it
func (m *Machine) transition(to event.State, reason, detail string) {
	from := m.state
	m.state = to
	m.emit(event.Event{
		Type: event.TypeStatusChange,
		Status: &event.StatusChange{
			From:       from,
			To:         to,
			Reason:     reason,
			Detail:     detail,
			Simulation: m.simulation,
		},
	})
}

// emit sequences an accepted event and hands it to fan-out and persistence
func (m *Machine) emit(ev event.Event) uint64 {
	m.seq++
	ev.Seq = m.seq
	ev.SessionID = m.sessionID
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	m.broker.Publish(ev)
	m.persist.Append(ev)
	m.m.RecordEvent(string(ev.Type))

	return ev.Seq
}

func (m *Machine) record(state event.State, summary string, ended time.Time) store.SessionRecord {
	stats := m.stats
	stats.Entities = m.tracker.Len()
	stats.Battlecards = len(m.cards)

	return store.SessionRecord{
		ID:         m.sessionID,
		Title:      m.title,
		Simulation: m.simulation,
		State:      state,
		StartedAt:  m.startedAt,
		EndedAt:    &ended,
		Summary:    summary,
		Transcript: event.FormatTranscript(m.transcript),
		Segments:   len(m.transcript),
		Stats:      stats,
	}
}

func (m *Machine) snapshot() event.Event {
	now := time.Now()
	snap := &event.Snapshot{
		State:       m.state,
		Transcript:  append([]event.TranscriptSegment{}, m.transcript...),
		Entities:    m.tracker.Entities(),
		Insights:    m.board.Active(now),
		Battlecards: m.battlecards(),
		Simulation:  m.simulation,
	}
	if m.sessionID != "" {
		snap.StartedAt = m.startedAt
	}

	return event.Event{
		Seq:       m.seq,
		SessionID: m.sessionID,
		Type:      event.TypeSnapshot,
		At:        now,
		Snapshot:  snap,
	}
}

func (m *Machine) battlecards() []event.Battlecard {
	out := make([]event.Battlecard, 0, len(m.cards))
	for _, c := range m.cards {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].GeneratedAt.Equal(out[j].GeneratedAt) {
			return out[i].GeneratedAt.Before(out[j].GeneratedAt)
		}
		return out[i].Competitor < out[j].Competitor
	})
	return out
}

func (m *Machine) status() Status {
	st := Status{
		SessionID:   m.sessionID,
		State:       m.state,
		Title:       m.title,
		Simulation:  m.simulation,
		Seq:         m.seq,
		Segments:    len(m.transcript),
		Entities:    m.tracker.Len(),
		Battlecards: len(m.cards),
		Insights:    m.board.Active(time.Now()),
		Score:       m.board.Score(),
		Degraded:    m.degraded,
		Subscribers: m.broker.Count(),
		Stats:       m.stats,
	}
	if m.sessionID != "" {
		started := m.startedAt
		st.StartedAt = &started
	}
	st.Stats.Entities = st.Entities
	st.Stats.Battlecards = st.Battlecards
	return st
}

func (m *Machine) resolveStar(req StarRequest) (store.StarredHint, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = m.sessionID
	}
	if sessionID == "" {
		return store.StarredHint{}, ErrNoSession
	}

	text := strings.TrimSpace(req.Text)
	if req.InsightID != "" && sessionID == m.sessionID {
		if in, ok := m.board.Find(req.InsightID); ok && text == "" {
			text = in.Text
		}
	}
	if text == "" {
		if req.InsightID != "" {
			return store.StarredHint{}, fmt.Errorf("%w: %s", ErrUnknownHint, req.InsightID)
		}
		return store.StarredHint{}, fmt.Errorf("hint id or text is required")
	}

	return store.StarredHint{
		ID:        ulid.Make().String(),
		SessionID: sessionID,
		InsightID: req.InsightID,
		Text:      text,
		StarredAt: time.Now(),
		Status:    store.HintPending,
	}, nil
}
