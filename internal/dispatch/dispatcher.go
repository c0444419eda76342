// Package dispatch fans ingestion commands out to per-provider run queues
// and owns the worker pool that drains them.
//
// Every (provider, kind) pair gets its own named queue, e.g. "guardian-bulk"
// or "newsapi-updates", so a backed-up bulk ingest never starves the short
// incremental runs.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"newsriver/internal/ingest"
	"newsriver/internal/job"
	"newsriver/internal/news"
	qmem "newsriver/internal/queue/memory"
)

// Provider bundles what the dispatcher needs per upstream API.
type Provider struct {
	Client news.Client
	Runner job.Runner
}

// Config controls queue sizing and the worker pool.
type Config struct {
	WorkersPerQueue int
	QueueDepth      int
	// MaxPagesDefault bounds bulk runs that do not specify a page cap.
	MaxPagesDefault int
}

func (c *Config) applyDefaults() {
	if c.WorkersPerQueue <= 0 {
		c.WorkersPerQueue = 1
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 64
	}
	if c.MaxPagesDefault <= 0 {
		c.MaxPagesDefault = 5
	}
}

// QueueName renders the canonical queue name for a provider and kind.
func QueueName(provider news.ProviderType, kind job.Kind) string {
	return fmt.Sprintf("%s-%s", provider, kind)
}

// Dispatcher owns the run queues and their workers.
type Dispatcher struct {
	cfg       Config
	providers map[news.ProviderType]Provider
	queues    map[string]*qmem.Queue
	store     news.Store
	clock     news.Clock
	emitter   ingest.Emitter
	sleep     job.SleepFunc
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// New builds a Dispatcher with one queue per (provider, kind).
func New(cfg Config, providers map[news.ProviderType]Provider, store news.Store, clock news.Clock, emitter ingest.Emitter, sleep job.SleepFunc, logger *zap.Logger) *Dispatcher {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		cfg:       cfg,
		providers: providers,
		queues:    make(map[string]*qmem.Queue),
		store:     store,
		clock:     clock,
		emitter:   emitter,
		sleep:     sleep,
		logger:    logger,
	}
	for provider := range providers {
		for _, kind := range []job.Kind{job.KindBulk, job.KindUpdates} {
			name := QueueName(provider, kind)
			d.queues[name] = qmem.New(name, cfg.QueueDepth)
		}
	}
	return d
}

// Start launches the worker pool. Workers exit when the context ends or
// their queue is closed and drained.
func (d *Dispatcher) Start(ctx context.Context) {
	for _, q := range d.queues {
		for i := 0; i < d.cfg.WorkersPerQueue; i++ {
			d.wg.Add(1)
			go func(q *qmem.Queue) {
				defer d.wg.Done()
				d.work(ctx, q)
			}(q)
		}
	}
}

// Stop closes all queues and waits for in-flight runs to finish.
func (d *Dispatcher) Stop() {
	for _, q := range d.queues {
		q.Close()
	}
	d.wg.Wait()
}

// DispatchBulk expands the inclusive [from, to] date range into one queued
// run per calendar day and returns the enqueued requests. A zero `to` means
// the single day `from`. maxPages <= 0 applies the configured default.
func (d *Dispatcher) DispatchBulk(ctx context.Context, provider news.ProviderType, from, to time.Time, query url.Values, maxPages int) ([]job.Request, error) {
	p, ok := d.providers[provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
	if from.IsZero() {
		return nil, errors.New("from date is required")
	}
	if to.IsZero() {
		to = from
	}
	from = truncateDay(from)
	to = truncateDay(to)
	if to.Before(from) {
		return nil, fmt.Errorf("date range ends (%s) before it starts (%s)",
			to.Format("2006-01-02"), from.Format("2006-01-02"))
	}
	if maxPages <= 0 {
		maxPages = d.cfg.MaxPagesDefault
	}

	q := d.queues[QueueName(provider, job.KindBulk)]
	var reqs []job.Request
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		req := job.Request{
			ID:        uuid.New(),
			Provider:  provider,
			Kind:      job.KindBulk,
			Query:     news.MergeValues(query, p.Client.DayParams(day)),
			Day:       day,
			MaxPages:  maxPages,
			Submitted: d.clock.Now(),
		}
		if err := q.Enqueue(ctx, req); err != nil {
			return reqs, err
		}
		reqs = append(reqs, req)
	}
	d.logger.Info("bulk runs queued",
		zap.String("provider", string(provider)),
		zap.String("from", from.Format("2006-01-02")),
		zap.String("to", to.Format("2006-01-02")),
		zap.Int("runs", len(reqs)),
	)
	return reqs, nil
}

// DispatchIncremental queues one incremental update run.
func (d *Dispatcher) DispatchIncremental(ctx context.Context, provider news.ProviderType, query url.Values) (job.Request, error) {
	if _, ok := d.providers[provider]; !ok {
		return job.Request{}, fmt.Errorf("unknown provider %q", provider)
	}
	req := job.Request{
		ID:        uuid.New(),
		Provider:  provider,
		Kind:      job.KindUpdates,
		Query:     query,
		Submitted: d.clock.Now(),
	}
	q := d.queues[QueueName(provider, job.KindUpdates)]
	if err := q.Enqueue(ctx, req); err != nil {
		return job.Request{}, err
	}
	d.logger.Info("update run queued", zap.String("provider", string(provider)))
	return req, nil
}

// QueueDepths reports the waiting request count per queue.
func (d *Dispatcher) QueueDepths() map[string]int {
	out := make(map[string]int, len(d.queues))
	for name, q := range d.queues {
		out[name] = q.Len()
	}
	return out
}

func (d *Dispatcher) work(ctx context.Context, q *qmem.Queue) {
	for {
		req, err := q.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, qmem.ErrClosed) || ctx.Err() != nil {
				return
			}
			d.logger.Error("dequeue failed", zap.String("queue", q.Name()), zap.Error(err))
			continue
		}

		p := d.providers[req.Provider]
		env := job.New(p.Runner, p.Client.SourceInfo(), d.store, d.clock, d.emitter, d.sleep, d.logger)
		if _, err := env.Execute(ctx, req); err != nil {
			d.logger.Error("run failed",
				zap.String("queue", q.Name()),
				zap.String("run_id", req.ID.String()),
				zap.Error(err),
			)
		}
	}
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
