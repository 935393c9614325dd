// Package app composes the client: cache, sync engine, outbox sender,
// remote stream and TUI, wired with fx and torn down in reverse order.
package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"chatterm/internal/bus"
	"chatterm/internal/cache"
	"chatterm/internal/config"
	"chatterm/internal/lock"
	"chatterm/internal/logging"
	"chatterm/internal/outbox"
	"chatterm/internal/profile"
	"chatterm/internal/remote"
	"chatterm/internal/status"
	chatsync "chatterm/internal/sync"
	"chatterm/internal/tui"
	"chatterm/internal/tui/model"
)

// conversationKey names the single shared room this client syncs.
const conversationKey = "global"

const defaultServerURL = "http://127.0.0.1:8787"

// Params holds the resolved startup configuration passed to the fx module.
type Params struct {
	ProfileName string
	ServerURL   string // optional override; empty = config.toml, then default
}

// Module returns the fx module for the client, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("app",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideCache,
			provideRemote,
			provideEngine,
			provideSender,
			provideViewModel,
			provideTUI,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	// File-only: stderr belongs to the tcell screen.
	return logging.NewFile(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideCache(p Params, logger *zap.Logger) (*cache.DB, error) {
	dbPath := profile.CachePath(p.ProfileName)
	db, err := cache.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRemote(p Params, b *bus.Bus, m *status.Machine, logger *zap.Logger) *remote.Client {
	cfg := remote.Config{
		BaseURL:       serverURL(p),
		AutoReconnect: true,
	}
	if creds, err := config.LoadCredentials(profile.CredentialsPath(p.ProfileName)); err == nil {
		cfg.Token = creds.Token
	}
	return remote.NewClient(cfg, b, m, logger)
}

func provideEngine(db *cache.DB, b *bus.Bus, logger *zap.Logger) *chatsync.Engine {
	return chatsync.NewEngine(db, b, conversationKey, logger)
}

func provideSender(db *cache.DB, client *remote.Client, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, b, client, logger)
}

func provideViewModel(p Params, engine *chatsync.Engine, db *cache.DB, client *remote.Client, sender *outbox.Sender) *model.ViewModel {
	vm := model.NewViewModel(engine, db, client, sender,
		serverURL(p),
		profile.CredentialsPath(p.ProfileName),
		conversationKey)
	if creds, err := config.LoadCredentials(profile.CredentialsPath(p.ProfileName)); err == nil {
		vm.SetSenderLabel(creds.SenderLabel)
	}
	return vm
}

func provideTUI(p Params, vm *model.ViewModel, b *bus.Bus, m *status.Machine, logger *zap.Logger) *tui.App {
	return tui.NewApp(vm, b, m, p.ProfileName, logger)
}

// serverURL resolves the backend URL: flag, then config.toml, then the
// local default.
func serverURL(p Params) string {
	if p.ServerURL != "" {
		return p.ServerURL
	}
	if cfg, err := config.Load(profile.ConfigPath()); err == nil && cfg.ServerURL != "" {
		return cfg.ServerURL
	}
	return defaultServerURL
}

func registerLifecycle(lc fx.Lifecycle, p Params, lk *lock.Lock, db *cache.DB, engine *chatsync.Engine, sender *outbox.Sender, client *remote.Client, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Seed the view from cache before any snapshot can arrive.
			engine.Seed()
			engine.Start(context.Background())

			// A crash mid-send leaves entries stuck in 'sending'.
			if err := db.RecoverSending(); err != nil {
				logger.Warn("outbox recovery failed", zap.Error(err))
			}
			sender.Start(context.Background())

			creds, err := config.LoadCredentials(profile.CredentialsPath(p.ProfileName))
			if err != nil || creds.Token == "" {
				logger.Info("no credentials found, auth required")
				_ = machine.Transition(status.AuthRequired)
				return nil
			}

			go func() {
				if err := client.Connect(context.Background()); err != nil {
					logger.Error("connect failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			sender.Stop()
			engine.Stop()
			if err := client.Close(); err != nil {
				logger.Warn("error closing remote stream", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}
