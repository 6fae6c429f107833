package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	config "github.com/NordCoder/Pulsewatch/internal/config/monitor-engine"
	"github.com/NordCoder/Pulsewatch/internal/obs"
	pg "github.com/NordCoder/Pulsewatch/internal/repository/postgres"
)

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "../config/monitor-engine.yaml"
}

func main() {
	root, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath())
	if err != nil {
		log.Fatal(err)
	}
	if cfg.App.Instance == "" {
		cfg.App.Instance = uuid.NewString()
	}

	// logger
	l, err := obs.NewLogger(cfg.AsLoggerConfig())
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()
	l = l.With(zap.String("instance", cfg.App.Instance))
	l.Info("starting monitor-engine", zap.String("env", cfg.App.Env), zap.String("ver", cfg.App.Version))

	// otel
	otelCloser, err := obs.SetupOTel(root, cfg.AsOTELConfig())
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	// db
	db, err := pg.New(root, cfg.DB, l)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// wiring
	app, err := wire(root, cfg, db, l)
	if err != nil {
		l.Fatal("wire", zap.Error(err))
	}
	defer app.close()

	// metrics
	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, app.health, l)

	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           obs.HTTPHandler(app.api.Router(), "engine.api"),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// start
	if err := app.manager.StartAll(root); err != nil {
		l.Fatal("start monitors", zap.Error(err))
	}

	var wg conc.WaitGroup
	wg.Go(func() { app.outbox.Run(root) })
	if app.purge != nil {
		wg.Go(func() { app.purge(root) })
	}
	errCh := make(chan error, 2)
	if app.controller != nil {
		wg.Go(func() {
			if err := app.controller.Run(root); err != nil {
				errCh <- err
			}
		})
	}
	go func() {
		l.Info("http listening", zap.String("addr", cfg.Server.HTTPAddr))
		errCh <- httpSrv.ListenAndServe()
	}()

	// loop
	select {
	case <-root.Done():
		l.Info("shutdown signal")
	case err = <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
			l.Error("background worker exited", zap.Error(err))
		}
		stop()
	}

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	_ = httpSrv.Shutdown(shCtx)
	if err := app.manager.Shutdown(shCtx); err != nil {
		l.Warn("runners did not stop in time", zap.Error(err))
	}
	wg.Wait()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
