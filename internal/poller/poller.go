// Package poller runs the late-task scan on a cron schedule.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"missionctl/internal/domain"
	"missionctl/internal/observability"
)

// Scanner is the engine surface the poller needs.
type Scanner interface {
	ScanLateTasks(ctx context.Context, now time.Time, repeatAfterMinutes int, mark bool) (domain.LateScan, error)
}

type Options struct {
	// Schedule accepts standard five-field cron specs and descriptors
	// such as "@every 5m".
	Schedule           string
	RepeatAfterMinutes int
	Mark               bool
	Logger             *slog.Logger
	Now                func() time.Time
	// OnScan receives every successful scan result.
	OnScan func(domain.LateScan)
}

type Poller struct {
	scanner Scanner
	opts    Options
	cron    *cron.Cron
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(scanner Scanner, opts Options) (*Poller, error) {
	if _, err := cron.ParseStandard(opts.Schedule); err != nil {
		return nil, fmt.Errorf("invalid alerts schedule %q: %w", opts.Schedule, err)
	}
	if opts.Logger == nil {
		opts.Logger = observability.Logger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Poller{scanner: scanner, opts: opts}, nil
}

// Start registers the scan job and starts the scheduler. It returns
// immediately; Stop waits for an in-flight scan to finish.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.cron = cron.New()
	if _, err := p.cron.AddFunc(p.opts.Schedule, func() { p.RunOnce(p.ctx) }); err != nil {
		return err
	}
	p.cron.Start()
	p.opts.Logger.Info("late alert poller started", "schedule", p.opts.Schedule, "repeat_after_minutes", p.opts.RepeatAfterMinutes)
	return nil
}

func (p *Poller) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
	p.cancel()
}

// RunOnce performs a single scan. Overlapping invocations are skipped and
// report false.
func (p *Poller) RunOnce(ctx context.Context) bool {
	if !p.running.CompareAndSwap(false, true) {
		p.opts.Logger.Warn("late alert scan still running, skipping tick")
		return false
	}
	defer p.running.Store(false)

	res, err := p.scanner.ScanLateTasks(ctx, p.opts.Now(), p.opts.RepeatAfterMinutes, p.opts.Mark)
	if err != nil {
		p.opts.Logger.Error("late alert scan failed", "error", err.Error())
		return true
	}
	fields := []any{"total", res.Total, "marked", res.Marked}
	for _, status := range domain.LateStatuses {
		fields = append(fields, status, len(res.GroupedByStatus[status]))
	}
	if res.Total > 0 {
		p.opts.Logger.Warn("late tasks detected", fields...)
	} else {
		p.opts.Logger.Debug("late alert scan clean", fields...)
	}
	if p.opts.OnScan != nil {
		p.opts.OnScan(res)
	}
	return true
}
