package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Strange-Jackle/meeting-monitor/internal/audio"
	"github.com/Strange-Jackle/meeting-monitor/internal/extraction"
	"github.com/Strange-Jackle/meeting-monitor/internal/insight"
	"github.com/Strange-Jackle/meeting-monitor/internal/metrics"
	"github.com/Strange-Jackle/meeting-monitor/internal/simulation"
	"github.com/Strange-Jackle/meeting-monitor/internal/transcription"
)

// pipeline holds the workers and stages of one session. Fields are set
// before start and read only afterwards.
type pipeline struct {
	gen       uint64
	sessionID string

	ctx    context.Context
	cancel context.CancelFunc

	assembler     *audio.Assembler
	transcriber   *transcription.Stage
	extractor     *extraction.Stage
	insights      *insight.Stage
	source        *simulation.Source
	sourceCancel  context.CancelFunc
	tickerCancel  context.CancelFunc
	workers       *errgroup.Group
	workerContext context.Context
}

// buildPipeline creates every stage for a session and probes the
// transcription backend. Nothing is started yet.
func buildPipeline(ctx context.Context, gen uint64, sessionID string, comps *Components, opts Options, logger *slog.Logger, m *metrics.Metrics) (*pipeline, error) {
	tcfg := opts.Transcription
	tcfg.SessionID = sessionID
	tcfg.Diarize = tcfg.Diarize && opts.Diarization != "none"

	transcriber, err := transcription.NewStage(comps.Primary, comps.Fallback, tcfg, logger, m)
	if err != nil {
		return nil, fmt.Errorf("transcription stage: %w", err)
	}
	if err := transcriber.Ready(ctx); err != nil {
		return nil, fmt.Errorf("transcription backend %s not ready: %w", comps.Primary.Name(), err)
	}

	extractor, err := extraction.NewStage(opts.Extractor, opts.Classifier, opts.ExtractionTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("extraction stage: %w", err)
	}

	insights, err := insight.NewStage(comps.Provider, comps.Researcher, opts.Insight, logger, m)
	if err != nil {
		return nil, fmt.Errorf("insight stage: %w", err)
	}

	assembler, err := audio.NewAssembler(audio.AssemblerConfig{
		SampleRate:   opts.SampleRate,
		Window:       opts.Window,
		Overlap:      opts.Overlap,
		MaxPending:   opts.MaxPending,
		StallTimeout: opts.StallTimeout,
	}, logger, m)
	if err != nil {
		return nil, fmt.Errorf("assembler: %w", err)
	}

	pctx, cancel := context.WithCancel(context.Background())
	return &pipeline{
		gen:         gen,
		sessionID:   sessionID,
		ctx:         pctx,
		cancel:      cancel,
		assembler:   assembler,
		transcriber: transcriber,
		extractor:   extractor,
		insights:    insights,
		source:      comps.Source,
	}, nil
}

// start launches the transcription workers, the scheduler and the
// simulated source, if any
func (p *pipeline) start(m *Machine, opts Options) {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	p.workers, p.workerContext = errgroup.WithContext(p.ctx)
	for i := 0; i < workers; i++ {
		p.workers.Go(func() error {
			return p.transcribeLoop(m)
		})
	}

	go func() {
		err := p.workers.Wait()
		m.send(func() { m.onWorkersDone(p.gen, err) })
	}()

	tickerCtx, tickerCancel := context.WithCancel(p.ctx)
	p.tickerCancel = tickerCancel
	go p.schedule(tickerCtx, m, opts)

	if p.source != nil {
		sourceCtx, sourceCancel := context.WithCancel(p.ctx)
		p.sourceCancel = sourceCancel
		go func() {
			err := p.source.Run(sourceCtx, &sink{m: m, gen: p.gen})
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrNoSession) {
				m.logger.Warn("Simulated capture ended with error", slog.String("error", err.Error()))
			}
		}()
	}
}

// transcribeLoop pulls windows until the assembler is flushed and drained
func (p *pipeline) transcribeLoop(m *Machine) error {
	for {
		w, err := p.assembler.Next(p.workerContext)
		if errors.Is(err, audio.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}

		out, err := p.transcriber.Transcribe(p.workerContext, w)
		m.send(func() { m.onWindow(p.gen, out, err) })
	}
}

// schedule drives hint cycles and the capture stall watchdog
func (p *pipeline) schedule(ctx context.Context, m *Machine, opts Options) {
	interval := opts.InsightInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	hints := time.NewTicker(interval)
	defer hints.Stop()

	check := opts.StallTimeout / 4
	if check < 100*time.Millisecond {
		check = 100 * time.Millisecond
	}
	stall := time.NewTicker(check)
	defer stall.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-hints.C:
			m.send(func() { m.onHintTick(p.gen) })
		case now := <-stall.C:
			m.send(func() { m.onStallCheck(p.gen, now) })
		}
	}
}

// stopInput ends the scheduler and the simulated source
func (p *pipeline) stopInput() {
	if p.tickerCancel != nil {
		p.tickerCancel()
	}
	if p.sourceCancel != nil {
		p.sourceCancel()
	}
}

// close cancels everything still running
func (p *pipeline) close() {
	p.stopInput()
	p.cancel()
	p.assembler.Close()
}

// sink feeds simulated capture into the machine for one generation
type sink struct {
	m   *Machine
	gen uint64
}

func (s *sink) PushAudio(ctx context.Context, samples []int16, capturedAt time.Time) error {
	return s.m.pushAudio(ctx, s.gen, samples, capturedAt)
}

func (s *sink) PushScreen(ctx context.Context, screen insight.Screen) error {
	return s.m.pushScreen(ctx, s.gen, screen)
}
