// Package main runs the emulated Presto coordinator.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nnnkkk7/presto-page/pkg/config"
	"github.com/nnnkkk7/presto-page/pkg/connection"
	"github.com/nnnkkk7/presto-page/pkg/query"
	"github.com/nnnkkk7/presto-page/server/handlers"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:           "server",
		Short:         "Run a Presto coordinator emulator backed by DuckDB",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", os.Getenv("PRESTO_PAGE_CONFIG"), "path to a TOML config file")

	if err := cmd.Execute(); err != nil {
		logrus.WithError(err).Fatal("server failed")
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := cfg.Log.NewLogger()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connMgr, err := connection.Open(ctx, cfg.Server.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := connMgr.Close(); err != nil {
			log.WithError(err).Error("failed to close database")
		}
	}()

	executor := query.NewExecutor(connMgr, log)
	stmtMgr := query.NewStatementManager(executor, cfg.Server.QueryTTL.Duration, query.WithLogger(log))
	defer stmtMgr.Close()

	h := handlers.NewStatementHandler(stmtMgr, cfg.Server, log)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handlers.NewRouter(h, log),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"port":      cfg.Server.Port,
			"db_path":   cfg.Server.DBPath,
			"page_size": cfg.Server.PageSize,
		}).Info("starting Presto coordinator emulator")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
