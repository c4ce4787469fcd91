package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"structure-signals/internal/alerting"
	"structure-signals/internal/config"
	"structure-signals/internal/feed"
	"structure-signals/internal/lifecycle"
	"structure-signals/internal/service"
	"structure-signals/internal/storage"
	"structure-signals/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// newFeed builds the Twelve Data client wrapped in retries and, when enabled,
// the shared redis cache. The returned closer releases the redis connection.
func (a *App) newFeed(ctx context.Context) (feed.Feed, func(), error) {
	cfg := a.Config.Feed
	ua := cfg.UserAgent
	if ua == "" {
		ua = version.UserAgent()
	}
	var f feed.Feed = feed.NewTwelveData(feed.TwelveDataOptions{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		Timeout:   cfg.RequestTimeout,
		UserAgent: ua,
		StaleBars: cfg.StaleBars,
	}, a.Logger)

	f = feed.NewRetrying(f, feed.RetryOptions{
		MaxRetries: cfg.MaxRetries,
		Initial:    cfg.RetryInitial,
		Max:        cfg.RetryMax,
	}, a.Logger)

	if !cfg.Cache.Enabled {
		return f, func() {}, nil
	}

	client, err := feed.NewRedisClient(ctx, cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if err := client.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close redis client")
		}
	}
	return feed.NewCached(f, client, cfg.Cache.TTL, a.Logger), closer, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		timeout := a.Config.Alerting.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, timeout, a.Logger)
	}
	a.Logger.Warn().Msg("no alert channel configured; announcements go to the log")
	return alerting.NewLogNotifier(a.Logger)
}

func (a *App) openStore(ctx context.Context) (storage.CandidateStore, func(), error) {
	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return store, store.Close, nil
}

func (a *App) instruments() []service.Instrument {
	out := make([]service.Instrument, 0, len(a.Config.Instruments))
	for _, inst := range a.Config.Instruments {
		out = append(out, toInstrument(inst))
	}
	return out
}

func (a *App) instrument(symbol string) (service.Instrument, error) {
	if symbol == "" {
		if len(a.Config.Instruments) == 0 {
			return service.Instrument{}, fmt.Errorf("no instruments configured")
		}
		return toInstrument(a.Config.Instruments[0]), nil
	}
	inst, ok := a.Config.Instrument(symbol)
	if !ok {
		return service.Instrument{}, fmt.Errorf("instrument %q is not configured", symbol)
	}
	return toInstrument(inst), nil
}

func toInstrument(inst config.InstrumentConfig) service.Instrument {
	return service.Instrument{
		Symbol:    inst.Symbol,
		Timeframe: inst.TF(),
		Grid:      inst.Grid(),
		Spread:    inst.Spread(),
	}
}

func (a *App) newPipeline() *service.Pipeline {
	return service.NewPipeline(a.Config.Engine, a.Config.Gate, a.Config.Planner)
}

func (a *App) newCoordinator(store storage.CandidateStore, notifier alerting.Notifier, opts ...lifecycle.Option) *lifecycle.Coordinator {
	return lifecycle.NewCoordinator(store, notifier, a.Logger, opts...)
}

// ExportOptions hold parameters for exporting candidates.
type ExportOptions struct {
	From    *time.Time
	To      *time.Time
	PNGPath string
	CSVPath string
	MaxRows int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// CloseOptions configure a manual close.
type CloseOptions struct {
	ID     string
	Price  string
	Reason string
}

// EvaluateOptions configure a one-shot evaluation.
type EvaluateOptions struct {
	Symbol string
	JSON   bool
}

// ReplayOptions configure a walk-forward replay.
type ReplayOptions struct {
	Symbol string
	Bars   int
	CSV    string
}
