package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"structure-signals/internal/lifecycle"
	"structure-signals/internal/metrics"
	"structure-signals/internal/scheduler"
	"structure-signals/internal/service"
)

const (
	WorkerProducer = "producer"
	WorkerMonitor  = "monitor"
	WorkerSweeper  = "sweeper"
)

// AllWorkers is the default worker set of the run command.
var AllWorkers = []string{WorkerProducer, WorkerMonitor, WorkerSweeper}

// ParseWorkers normalises a worker list and rejects unknown names.
func ParseWorkers(names []string) ([]string, error) {
	if len(names) == 0 {
		return AllWorkers, nil
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" || seen[name] {
			continue
		}
		switch name {
		case WorkerProducer, WorkerMonitor, WorkerSweeper:
		default:
			return nil, fmt.Errorf("unknown worker %q", raw)
		}
		seen[name] = true
		out = append(out, name)
	}
	if len(out) == 0 {
		return nil, errors.New("no workers selected")
	}
	return out, nil
}

// Run executes the long-running workers. Each worker has its own scheduler;
// the workers share nothing but the store, so they can also run as separate
// processes with disjoint --workers lists.
func (a *App) Run(ctx context.Context, workers []string) error {
	workers, err := ParseWorkers(workers)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	f, closeFeed, err := a.newFeed(ctx)
	if err != nil {
		return err
	}
	defer closeFeed()

	coord := a.newCoordinator(store, a.newNotifier())
	lc := a.Config.Lifecycle

	g, gctx := errgroup.WithContext(ctx)

	if a.Config.Metrics.Enabled {
		srv := metrics.Serve(a.Config.Metrics.Addr)
		a.Logger.Info().Str("addr", a.Config.Metrics.Addr).Msg("metrics endpoint listening")
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	for _, name := range workers {
		var tick scheduler.TickFunc
		interval := lc.MonitorInterval

		switch name {
		case WorkerProducer:
			producer := service.NewProducer(f, store, coord, a.newPipeline(), a.instruments(), a.Config.Feed.WindowSize, lc.AdvisoryLockKey, a.Logger)
			tick = producer.Tick
			interval = lc.ProducerInterval
		case WorkerMonitor:
			monitor := lifecycle.NewMonitor(coord, store, f, a.Logger)
			tick = func(ctx context.Context, _ time.Time) error {
				_, err := monitor.Tick(ctx)
				return err
			}
		case WorkerSweeper:
			sweeper := lifecycle.NewSweeper(coord, store, lc.PreparedLease, a.Logger)
			tick = func(ctx context.Context, _ time.Time) error {
				_, err := sweeper.Tick(ctx)
				return err
			}
			interval = lc.SweepInterval
		}

		sched := scheduler.New(scheduler.Options{
			Name:           name,
			Interval:       interval,
			AlignToStart:   lc.AlignToBucket,
			StartupDelay:   lc.StartupDelay,
			RunImmediately: name != WorkerProducer,
			TickTimeout:    lc.TickTimeout,
		}, a.Logger)

		g.Go(func() error {
			return sched.Run(gctx, tick)
		})
	}

	a.Logger.Info().Strs("workers", workers).Msg("starting signal workers")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("workers terminated with error")
		return err
	}

	a.Logger.Info().Msg("signal workers stopped")
	return nil
}
