package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"trafficfeed/internal/config"
	"trafficfeed/internal/model"
)

var ErrInFlight = errors.New("case cycle already in flight")

type CaseLister interface {
	ListCases(ctx context.Context) ([]model.Case, error)
}

type Runner interface {
	RunCycle(ctx context.Context, c model.Case) (*model.CycleReport, error)
}

// Dispatcher hands a case to an out-of-process worker. When set, ticks
// publish instead of running cycles locally.
type Dispatcher interface {
	Dispatch(ctx context.Context, c model.Case) error
}

type Scheduler struct {
	cfg        config.SchedulerConfig
	cases      CaseLister
	runner     Runner
	dispatcher Dispatcher
	inflight   *InFlight
	logger     *slog.Logger

	queue  chan model.Case
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(cfg config.SchedulerConfig, cases CaseLister, runner Runner, dispatcher Dispatcher, logger *slog.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	return &Scheduler{
		cfg:        cfg,
		cases:      cases,
		runner:     runner,
		dispatcher: dispatcher,
		inflight:   NewInFlight(),
		logger:     logger,
		queue:      make(chan model.Case, cfg.Workers*4),
	}
}

func (s *Scheduler) InFlight() *InFlight {
	return s.inflight
}

// Start launches the workers and the ticker. The first tick fires immediately.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	if s.logger != nil {
		s.logger.Info("scheduler started", "interval", s.cfg.Interval, "workers", s.cfg.Workers, "dispatch", s.dispatcher != nil)
	}
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		s.Tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if s.logger != nil {
		s.logger.Info("scheduler stopped")
	}
}

// Tick lists every case and hands each one to a worker or the dispatcher.
// Cases still running from a previous tick are skipped.
func (s *Scheduler) Tick(ctx context.Context) int {
	list, err := s.cases.ListCases(ctx)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("list cases", "err", err)
		}
		return 0
	}
	queued := 0
	active := s.inflight.Active()
	for _, c := range list {
		if _, busy := active[c.ID]; busy {
			if s.logger != nil {
				s.logger.Debug("case still in flight, skipping", "case_id", c.ID)
			}
			continue
		}
		if s.dispatcher != nil {
			if err := s.dispatcher.Dispatch(ctx, c); err != nil {
				if s.logger != nil {
					s.logger.Error("dispatch case", "case_id", c.ID, "err", err)
				}
				continue
			}
			queued++
			continue
		}
		select {
		case s.queue <- c:
			queued++
		case <-ctx.Done():
			return queued
		}
	}
	if s.logger != nil {
		s.logger.Debug("tick", "cases", len(list), "queued", queued)
	}
	return queued
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-s.queue:
			if _, err := s.RunNow(ctx, c); err != nil && s.logger != nil {
				if errors.Is(err, ErrInFlight) {
					s.logger.Debug("case already running", "worker", id, "case_id", c.ID)
					continue
				}
				s.logger.Error("case cycle failed", "worker", id, "case_id", c.ID, "err", err)
			}
		}
	}
}

// RunNow runs one cycle of c in the caller's goroutine, refusing when the
// case is already running.
func (s *Scheduler) RunNow(ctx context.Context, c model.Case) (*model.CycleReport, error) {
	if !s.inflight.Acquire(c.ID) {
		return nil, fmt.Errorf("case %s: %w", c.ID, ErrInFlight)
	}
	defer s.inflight.Release(c.ID)
	return s.runner.RunCycle(ctx, c)
}

// RunCycle lets queue consumers share the in-flight guard with ticks and the API.
func (s *Scheduler) RunCycle(ctx context.Context, c model.Case) (*model.CycleReport, error) {
	return s.RunNow(ctx, c)
}
