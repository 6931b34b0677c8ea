// Package app wires the dmblast server: config, logging, the Slack client
// factory, the send engine, the optional archive and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/slack-go/slack"

	"dmblast/internal/api"
	"dmblast/internal/archive"
	"dmblast/internal/backend"
	"dmblast/internal/config"
	"dmblast/internal/send"
	"dmblast/internal/slackx"
	logx "dmblast/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	engine *send.Service
	store  *archive.Store
	cron   *cron.Cron
	server *http.Server

	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

// defaultPruneSchedule runs the archive retention sweep nightly.
const defaultPruneSchedule = "0 3 * * *"

// New builds the application from the config file at cfgPath. SlackOpts are
// extra slack client options, used by tests to point at a fake API.
func New(cfgPath string, slackOpts ...slack.Option) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{cfgm: cfgm, log: log, logs: logSvc}

	// The factory reads the live config on every client build, so slack
	// section changes apply to subsequent requests without a restart.
	slackLog := logSvc.Logger().With(logx.String("comp", "slack"))
	factory := slackx.Factory(func(token string) slackx.API {
		return slackx.New(token, a.slackConfig(), slackLog, slackOpts...)
	})

	sendCfg, err := mapSendConfig(cfg.Send)
	if err != nil {
		return nil, err
	}

	var recorder send.Recorder
	if cfg.Archive.Enabled {
		store, err := openArchive(cfg.Archive, logSvc.Logger().With(logx.String("comp", "archive")))
		if err != nil {
			return nil, err
		}
		a.store = store
		recorder = store
		log.Info("archive enabled", logx.String("path", cfg.Archive.Path))
	}

	a.engine = send.New(sendCfg, recorder, logSvc.Logger().With(logx.String("comp", "send")))

	b := backend.New(factory, a.engine, logSvc.Logger().With(logx.String("comp", "backend")))

	apiCfg, err := mapAPIConfig(cfg.Server)
	if err != nil {
		return nil, err
	}
	srv := api.NewServer(b, apiCfg, logSvc.Logger().With(logx.String("comp", "http")))

	a.server = &http.Server{
		Addr:    addrOrDefault(cfg.Server.Addr),
		Handler: srv.Router(),
	}
	if err := applyServerTimeouts(a.server, cfg.Server); err != nil {
		return nil, err
	}

	if a.store != nil {
		if err := a.schedulePrune(cfg.Archive); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// slackConfig maps the live slack section, falling back to safe defaults when
// the config is unparseable mid-reload.
func (a *App) slackConfig() slackx.Config {
	cfg := a.cfgm.Get()
	if cfg == nil {
		return slackx.Config{RatePerSec: 1, RetryMax: 3, RetryBase: time.Second}
	}
	base, err := config.ParseDurationOrDefault("slack.retry_base", cfg.Slack.RetryBase, time.Second)
	if err != nil {
		base = time.Second
	}
	return slackx.Config{
		RatePerSec: cfg.Slack.RatePerSec,
		RetryMax:   cfg.Slack.RetryMax,
		RetryBase:  base,
	}
}

func (a *App) schedulePrune(cfg config.ArchiveConfig) error {
	spec := strings.TrimSpace(cfg.PruneSchedule)
	if spec == "" {
		spec = defaultPruneSchedule
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := a.store.Prune(ctx); err != nil {
			a.log.Warn("archive prune failed", logx.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("archive.prune_schedule: %w", err)
	}
	a.cron = c
	return nil
}

// Start launches the send engine, the config watcher and the HTTP listener.
func (a *App) Start(ctx context.Context) error {
	a.engine.Start(ctx)
	if a.cron != nil {
		a.cron.Start()
	}

	watchCtx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	a.watchDone = make(chan struct{})
	go a.watchConfig(watchCtx)

	go func() {
		a.log.Info("http server listening", logx.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server failed", logx.Err(err))
		}
	}()
	return nil
}

// watchConfig hot-reloads what can change at runtime: the logging sinks apply
// immediately, the slack section applies to new requests. Server and send
// changes need a restart and are only reported.
func (a *App) watchConfig(ctx context.Context) {
	defer close(a.watchDone)

	updates := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(updates)

	go func() { _ = a.cfgm.Watch(ctx) }()

	prev := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok || cfg == nil {
				return
			}
			changed, attrs := config.SummarizeChange(prev, cfg)
			if len(changed) == 0 {
				continue
			}
			a.log.Info("config changed", append(attrs, logx.Any("sections", changed))...)

			for _, section := range changed {
				switch section {
				case "logging":
					a.logs.Apply(logx.Config{
						Level:   cfg.Logging.Level,
						Console: cfg.Logging.Console,
						File: logx.FileConfig{
							Enabled: cfg.Logging.File.Enabled,
							Path:    cfg.Logging.File.Path,
						},
					})
				case "slack":
					// picked up by the factory on the next client build
				default:
					a.log.Warn("config section needs restart to apply", logx.String("section", section))
				}
			}
			prev = cfg
		}
	}
}

// Stop shuts the pieces down in reverse order of Start.
func (a *App) Stop(ctx context.Context) error {
	if a.watchCancel != nil {
		a.watchCancel()
		select {
		case <-a.watchDone:
		case <-ctx.Done():
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown incomplete", logx.Err(err))
	}

	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	a.engine.Stop(ctx)
	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

func addrOrDefault(addr string) string {
	if strings.TrimSpace(addr) == "" {
		return ":8080"
	}
	return addr
}

func mapSendConfig(sc config.SendConfig) (send.Config, error) {
	ttl, err := config.ParseDurationField("send.status_ttl", sc.StatusTTL)
	if err != nil {
		return send.Config{}, err
	}
	return send.Config{
		Workers:   sc.Workers,
		QueueSize: sc.QueueSize,
		StatusMax: sc.StatusMax,
		StatusTTL: ttl,
	}, nil
}

func mapAPIConfig(sc config.ServerConfig) (api.Config, error) {
	reqTimeout, err := config.ParseDurationField("server.request_timeout", sc.RequestTimeout)
	if err != nil {
		return api.Config{}, err
	}
	return api.Config{
		MaxImportBytes: sc.MaxImportBytes,
		RequestTimeout: reqTimeout,
		AllowedOrigins: sc.AllowedOrigins,
	}, nil
}

func applyServerTimeouts(srv *http.Server, sc config.ServerConfig) error {
	read, err := config.ParseDurationField("server.read_timeout", sc.ReadTimeout)
	if err != nil {
		return err
	}
	write, err := config.ParseDurationField("server.write_timeout", sc.WriteTimeout)
	if err != nil {
		return err
	}
	idle, err := config.ParseDurationField("server.idle_timeout", sc.IdleTimeout)
	if err != nil {
		return err
	}
	srv.ReadTimeout = read
	srv.WriteTimeout = write
	srv.IdleTimeout = idle
	return nil
}

func openArchive(ac config.ArchiveConfig, log logx.Logger) (*archive.Store, error) {
	busy, err := config.ParseDurationField("archive.busy_timeout", ac.BusyTimeout)
	if err != nil {
		return nil, err
	}
	// "0s" means keep forever, so only an omitted retention gets the default.
	retention := 720 * time.Hour
	if strings.TrimSpace(ac.Retention) != "" {
		retention, err = config.ParseDurationField("archive.retention", ac.Retention)
		if err != nil {
			return nil, err
		}
	}
	path := ac.Path
	if strings.TrimSpace(path) == "" {
		path = "./dmblast.db"
	}
	return archive.Open(archive.Config{
		Path:        path,
		BusyTimeout: busy,
		Retention:   retention,
	}, log)
}
