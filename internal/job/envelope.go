// Package job wraps ingestion runs in a retry envelope and records the
// scrape log. One envelope execution is one run: however many attempts it
// takes, exactly one audit row comes out.
package job

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"newsriver/internal/ingest"
	"newsriver/internal/news"
	"newsriver/internal/progress"
)

// Kind distinguishes the two run shapes.
type Kind string

// Run kinds.
const (
	KindBulk    Kind = "bulk"
	KindUpdates Kind = "updates"
)

// Valid reports whether k names a known kind.
func (k Kind) Valid() bool {
	return k == KindBulk || k == KindUpdates
}

// State is the envelope lifecycle state.
type State string

// Envelope states.
const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateRetrying  State = "retrying"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Spec is the retry budget for one run: how many attempts, how long to wait
// between them, and how long a single attempt may take.
type Spec struct {
	Tries   int
	Delays  []time.Duration
	Timeout time.Duration
}

// SpecFor returns the retry budget for a provider and kind. Bulk runs get a
// generous per-attempt timeout and slow backoff since they walk many pages;
// update runs are short and retried quickly. NewsAPI gets more attempts with
// a faster ramp because its quota errors tend to clear within a minute.
func SpecFor(provider news.ProviderType, kind Kind) Spec {
	spec := Spec{
		Tries:   3,
		Delays:  []time.Duration{60 * time.Second, 300 * time.Second, 600 * time.Second},
		Timeout: time.Hour,
	}
	if kind == KindUpdates {
		spec.Delays = []time.Duration{60 * time.Second, 180 * time.Second, 300 * time.Second}
		spec.Timeout = 5 * time.Minute
	}
	if provider == news.ProviderNewsAPI {
		spec.Tries = 5
		spec.Delays = []time.Duration{time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second, 60 * time.Second}
	}
	return spec
}

// Request describes one queued run.
type Request struct {
	ID       uuid.UUID
	Provider news.ProviderType
	Kind     Kind
	Query    url.Values
	// Day is the calendar day a bulk run covers; zero for update runs.
	Day       time.Time
	MaxPages  int
	Submitted time.Time
}

// Runner executes one ingestion run. *ingest.Orchestrator satisfies it.
type Runner interface {
	Provider() news.ProviderType
	RunBulk(ctx context.Context, run ingest.RunInfo, query url.Values, maxPages int, onProgress news.ProgressFunc) (news.RunStats, error)
	RunIncremental(ctx context.Context, run ingest.RunInfo, query url.Values) (news.RunStats, error)
}

// SleepFunc waits for d or until the context is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepTimer(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Envelope retries a Runner according to a Spec and writes the scrape log.
type Envelope struct {
	runner  Runner
	source  news.Source
	store   news.Store
	clock   news.Clock
	emitter ingest.Emitter
	sleep   SleepFunc
	logger  *zap.Logger

	mu    sync.Mutex
	state State
}

// New builds an Envelope. source is the runner provider's source description;
// its row is resolved before the first attempt so even a run that never gets
// off the ground has a source to log under. sleep may be nil for real timers.
func New(runner Runner, source news.Source, store news.Store, clock news.Clock, emitter ingest.Emitter, sleep SleepFunc, logger *zap.Logger) *Envelope {
	if sleep == nil {
		sleep = sleepTimer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Envelope{
		runner:  runner,
		source:  source,
		store:   store,
		clock:   clock,
		emitter: emitter,
		sleep:   sleep,
		logger:  logger,
		state:   StatePending,
	}
}

// State returns the current lifecycle state.
func (e *Envelope) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Envelope) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Execute runs the request to completion and records exactly one scrape log
// row. The returned stats reflect the attempt that settled the run.
func (e *Envelope) Execute(ctx context.Context, req Request) (news.RunStats, error) {
	spec := SpecFor(req.Provider, req.Kind)
	started := e.clock.Now()
	runID := req.ID
	if runID == uuid.Nil {
		runID = uuid.New()
	}
	run := ingest.RunInfo{ID: [16]byte(runID), Kind: string(req.Kind)}
	logger := e.logger.With(
		zap.String("run_id", runID.String()),
		zap.String("provider", string(req.Provider)),
		zap.String("kind", string(req.Kind)),
	)

	src, err := e.store.ResolveSource(ctx, e.source)
	if err != nil {
		e.setState(StateFailed)
		return news.RunStats{}, fmt.Errorf("resolve source: %w", err)
	}

	e.setState(StateRunning)
	e.emit(run, progress.StageRunStart, news.RunStats{}, 0, "")

	var stats news.RunStats
	var lastErr error
	for attempt := 1; attempt <= spec.Tries; attempt++ {
		stats, lastErr = e.attempt(ctx, run, req, spec.Timeout)
		if lastErr == nil {
			dur := e.clock.Now().Sub(started)
			e.setState(StateSucceeded)
			e.recordLog(ctx, src.ID, news.RunSuccess, stats.ArticlesAdded, "", started)
			e.emit(run, progress.StageRunDone, stats, dur, "")
			logger.Info("run succeeded",
				zap.Int("attempt", attempt),
				zap.Int("articles", stats.ArticlesAdded),
				zap.Int("pages", stats.PagesProcessed),
			)
			return stats, nil
		}

		logger.Warn("attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("tries", spec.Tries),
			zap.Error(lastErr),
		)
		if attempt == spec.Tries {
			break
		}

		e.setState(StateRetrying)
		if err := e.sleep(ctx, spec.delay(attempt)); err != nil {
			lastErr = fmt.Errorf("retry wait: %w", err)
			break
		}
		e.setState(StateRunning)
	}

	dur := e.clock.Now().Sub(started)
	e.setState(StateFailed)
	// A failed run logs zero articles regardless of partial progress; the
	// upserts themselves are already durable.
	e.recordLog(ctx, src.ID, news.RunFailed, 0, lastErr.Error(), started)
	e.emit(run, progress.StageRunError, stats, dur, lastErr.Error())
	return stats, fmt.Errorf("run failed after %d attempts: %w", spec.Tries, lastErr)
}

func (e *Envelope) attempt(ctx context.Context, run ingest.RunInfo, req Request, timeout time.Duration) (news.RunStats, error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if req.Kind == KindUpdates {
		return e.runner.RunIncremental(attemptCtx, run, req.Query)
	}
	return e.runner.RunBulk(attemptCtx, run, req.Query, req.MaxPages, nil)
}

func (e *Envelope) recordLog(ctx context.Context, sourceID int64, status news.RunStatus, added int, errMsg string, started time.Time) {
	entry := news.ScrapeLog{
		SourceID:      sourceID,
		Status:        status,
		ArticlesAdded: added,
		ErrorMessage:  errMsg,
		StartedAt:     started,
		CompletedAt:   e.clock.Now(),
	}
	if err := e.store.InsertScrapeLog(ctx, entry); err != nil {
		e.logger.Error("scrape log write failed", zap.Error(err))
	}
}

func (e *Envelope) emit(run ingest.RunInfo, stage progress.Stage, stats news.RunStats, dur time.Duration, note string) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(progress.Event{
		RunID:    run.ID,
		TS:       e.clock.Now(),
		Stage:    stage,
		Provider: string(e.runner.Provider()),
		Kind:     run.Kind,
		Articles: int64(stats.ArticlesAdded),
		Dur:      dur,
		Note:     note,
	})
}

// delay returns the wait before the attempt following attempt n (1-based).
func (s Spec) delay(n int) time.Duration {
	if len(s.Delays) == 0 {
		return 0
	}
	idx := n - 1
	if idx >= len(s.Delays) {
		idx = len(s.Delays) - 1
	}
	return s.Delays[idx]
}
