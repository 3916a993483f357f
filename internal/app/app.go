package app

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"royalty-risk/internal/alerting"
	"royalty-risk/internal/config"
	"royalty-risk/internal/montecarlo"
	"royalty-risk/internal/service"
	"royalty-risk/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	configPath string
	memory     *storage.MemoryStore
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// WithConfigPath records where the configuration was loaded from so the
// monitor loop can reload it.
func (a *App) WithConfigPath(path string) *App {
	a.configPath = path
	return a
}

func (a *App) newNotifier() alerting.Notifier {
	return notifierFor(a.Config, a.Logger)
}

func notifierFor(cfg *config.Config, logger zerolog.Logger) alerting.Notifier {
	var notifiers multiNotifier
	for _, ch := range cfg.Alerting.Channels {
		switch ch {
		case "telegram":
			if tg := cfg.Alerting.Telegram; tg.Enabled {
				notifiers = append(notifiers, alerting.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBase, tg.Timeout, logger))
			}
		case "log":
			notifiers = append(notifiers, alerting.NewLogNotifier(logger))
		default:
			logger.Warn().Str("channel", ch).Msg("unknown alert channel ignored")
		}
	}
	switch len(notifiers) {
	case 0:
		return nil
	case 1:
		return notifiers[0]
	default:
		return notifiers
	}
}

// multiNotifier fans out to every channel and returns the first error.
type multiNotifier []alerting.Notifier

func (m multiNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, note); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

// memoryStore is the process-local run store used when no database is
// configured.
func (a *App) memoryStore() *storage.MemoryStore {
	if a.memory == nil {
		a.memory = storage.NewMemoryStore()
	}
	return a.memory
}

func (a *App) newService(store storage.RunStore) (*service.Service, error) {
	engines, err := service.NewEngines(a.Config, a.Logger)
	if err != nil {
		return nil, err
	}
	return service.New(a.Config, engines, store, a.newNotifier(), a.Logger), nil
}

// SimulateOptions configure the simulate command.
type SimulateOptions struct {
	Label     string
	Trials    int
	Seed      *uint64
	Workers   int
	CSVPath   string
	PNGPath   string
	NoPersist bool
	Stress    montecarlo.Stress
}

// DelayOptions configure the delays command.
type DelayOptions struct {
	Delays []float64
	Trials int
}

// HistoryOptions configure the history command. ID shows one run; Prune
// deletes runs older than that age before listing.
type HistoryOptions struct {
	Limit int
	ID    int64
	Prune time.Duration
}
