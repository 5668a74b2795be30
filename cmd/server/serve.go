package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/DoyleJ11/pugbot/internal/catalog"
	"github.com/DoyleJ11/pugbot/internal/channels"
	"github.com/DoyleJ11/pugbot/internal/config"
	"github.com/DoyleJ11/pugbot/internal/engine"
	"github.com/DoyleJ11/pugbot/internal/feed"
	"github.com/DoyleJ11/pugbot/internal/httpapi"
	"github.com/DoyleJ11/pugbot/internal/hub"
	"github.com/DoyleJ11/pugbot/internal/provision"
	"github.com/DoyleJ11/pugbot/internal/rcon"
	"github.com/DoyleJ11/pugbot/internal/records"
	"github.com/DoyleJ11/pugbot/internal/servers"
	"github.com/DoyleJ11/pugbot/internal/timers"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func serveCommand() (err error) {
	log, err := newLogger(CLI.Debug)
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := config.Load(CLI.EnvFile)
	if err != nil {
		return err
	}
	if CLI.Serve.Listen != "" {
		cfg.ListenAddr = CLI.Serve.Listen
	}
	if CLI.Serve.Catalog != "" {
		cfg.CatalogPath = CLI.Serve.Catalog
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}
	pool := cat.Servers
	if len(cfg.Servers) > 0 {
		pool = cfg.Servers
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers []func() error
	defer func() {
		for _, c := range closers {
			err = multierr.Append(err, c())
		}
	}()

	var channelStore channels.Store = channels.NewMemoryStore()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("could not reach redis at %s: %w", cfg.RedisAddr, err)
		}
		closers = append(closers, rdb.Close)
		channelStore = channels.NewRedisStore(rdb)
	} else {
		log.Warn("REDIS_ADDR not set, channel modes are kept in memory")
	}

	var sink provision.Sink = records.Discard{}
	var reader httpapi.RecordReader
	if cfg.DatabaseDSN != "" {
		db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		})
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		closers = append(closers, sqlDB.Close)

		store := records.NewStore(db)
		if err := store.Migrate(); err != nil {
			return err
		}
		sink, reader = store, store
	} else {
		log.Warn("DATABASE_DSN not set, session records are discarded")
	}

	commands := &rcon.Client{
		Dialer:     rcon.SourceDialer{Timeout: cfg.RCONTimeout},
		Password:   cfg.RCONPassword,
		Timeout:    cfg.RCONTimeout,
		CloseGrace: cfg.RCONCloseGrace,
		Log:        log.With(zap.String("component", "rcon")),
	}

	f := feed.New(ctx, log)
	p := provision.New(provision.Config{
		Servers: &servers.Locator{
			Querier:   servers.A2SQuerier{Timeout: cfg.QueryTimeout},
			Addresses: pool,
			Attempts:  cfg.DiscoveryAttempts,
			Interval:  cfg.DiscoveryInterval,
			Log:       log.With(zap.String("component", "locator")),
		},
		Commands: commands,
		Records:  sink,
		Notifier: f,
		Log:      log,
	})
	h := hub.NewHub(ctx, hub.Config{
		Catalog:     cat,
		Channels:    channelStore,
		Notifier:    f,
		Provisioner: p,
		Timers:      timers.NewRegistry(),
		Rules: engine.Rules{
			ReadyDefault:      cfg.ReadyDefault,
			ReadyMin:          cfg.ReadyMin,
			ReadyMax:          cfg.ReadyMax,
			ReadyCheckTimeout: cfg.ReadyCheckTimeout,
			MapVoteTimeout:    cfg.MapVoteTimeout,
		},
		Log: log,
	})

	api := &httpapi.API{
		Hub:      h,
		Catalog:  cat,
		Channels: channelStore,
		Records:  reader,
		Vacater:  commands,
		Servers:  pool,
		Log:      log,
	}
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpapi.SetupRoutes(api, f),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening",
			zap.String("addr", cfg.ListenAddr),
			zap.Strings("servers", pool),
			zap.Strings("modes", cat.ModeNames()))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		h.Shutdown()
		f.Close()
		return err
	})
	return g.Wait()
}
