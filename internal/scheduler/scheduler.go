// Package scheduler is the only writer that advances jobs through
// execution. A fixed tick polls the store for due jobs, claims each one
// atomically, runs it headless through the executor and records the
// outcome. Delivery to the user is best-effort; anything undelivered
// stays in a pending-delivery status until a retry pass succeeds.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/danitrap/ambrogio-agent-sub000/internal/executor"
	"github.com/danitrap/ambrogio-agent-sub000/internal/runtime/supervisor"
	"github.com/danitrap/ambrogio-agent-sub000/internal/store"
	"github.com/danitrap/ambrogio-agent-sub000/internal/transport"
	"github.com/danitrap/ambrogio-agent-sub000/pkg/logx"
)

// mutedDeliveryMarker is stored as the delivery text of a muted recurring
// run: the cadence continues, the user hears nothing.
const mutedDeliveryMarker = "[muted]"

type Config struct {
	TickInterval time.Duration // default 15s
	ExecTimeout  time.Duration // default 5m
	BatchLimit   int           // default 20

	// RetrySchedule drives the pending-delivery retry pass (robfig/cron
	// spec, default "@every 1m"). SummarySchedule logs a daily jobs
	// summary (default "@daily").
	RetrySchedule   string
	SummarySchedule string

	// DeliveryRatePerSec caps outbound messages (default 1/s).
	DeliveryRatePerSec int
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 15 * time.Second
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = 5 * time.Minute
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 20
	}
	if c.RetrySchedule == "" {
		c.RetrySchedule = "@every 1m"
	}
	if c.SummarySchedule == "" {
		c.SummarySchedule = "@daily"
	}
	if c.DeliveryRatePerSec <= 0 {
		c.DeliveryRatePerSec = 1
	}
	return c
}

type Service struct {
	cfg  Config
	log  logx.Logger
	st   *store.Store
	exec executor.Runner
	msgr transport.Messenger

	limiter *rate.Limiter

	mu      sync.Mutex
	running bool
	sup     *supervisor.Supervisor
	cron    *cron.Cron

	now func() time.Time
}

func New(cfg Config, st *store.Store, exec executor.Runner, msgr transport.Messenger, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		st:      st,
		exec:    exec,
		msgr:    msgr,
		limiter: rate.NewLimiter(rate.Limit(cfg.DeliveryRatePerSec), cfg.DeliveryRatePerSec),
		now:     time.Now,
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true

	// A previous process may have died mid-run; put those rows back in
	// play before the loop starts claiming.
	if n, err := s.st.RecoverInterruptedJobs(ctx); err != nil {
		s.log.Error("interrupted-job recovery failed", logx.Err(err))
	} else if n > 0 {
		s.log.Warn("recovered jobs stuck in running", logx.Int("count", n))
	}

	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.sup.Go("scheduler.tick", s.tickLoop)

	c := cron.New()
	if _, err := c.AddFunc(s.cfg.RetrySchedule, func() {
		s.deliveryRetryPass(s.sup.Context())
	}); err != nil {
		return err
	}
	if _, err := c.AddFunc(s.cfg.SummarySchedule, func() {
		s.logSummary(s.sup.Context())
	}); err != nil {
		return err
	}
	c.Start()
	s.cron = c

	s.log.Info("scheduler started",
		logx.Duration("tick", s.cfg.TickInterval),
		logx.Duration("exec_timeout", s.cfg.ExecTimeout))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	sup := s.sup
	s.cron = nil
	s.sup = nil
	s.running = false
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	if sup != nil {
		sup.Stop(ctx)
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) tickLoop(ctx context.Context) {
	t := time.NewTicker(s.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce processes one batch of due jobs.
func (s *Service) runOnce(ctx context.Context) {
	due, err := s.st.GetDueScheduledJobs(ctx, s.cfg.BatchLimit)
	if err != nil {
		s.log.Error("due-jobs query failed", logx.Err(err))
		return
	}
	for _, j := range due {
		won, err := s.st.ClaimScheduledJob(ctx, j.ID)
		if err != nil {
			s.log.Error("claim failed", logx.String("job_id", j.ID), logx.Err(err))
			continue
		}
		if !won {
			// Consumed elsewhere; not our occurrence.
			continue
		}
		s.executeClaimed(ctx, j)
	}
}

func (s *Service) logSummary(ctx context.Context) {
	counts, err := s.st.CountJobsByStatus(ctx)
	if err != nil {
		s.log.Warn("jobs summary failed", logx.Err(err))
		return
	}
	fields := make([]logx.Field, 0, len(counts))
	for status, n := range counts {
		fields = append(fields, logx.Int(string(status), n))
	}
	s.log.Info("jobs summary", fields...)
}
