package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"

	"github.com/ugsoil/soilserver/internal/aggregate"
	"github.com/ugsoil/soilserver/internal/api"
	"github.com/ugsoil/soilserver/internal/config"
	"github.com/ugsoil/soilserver/internal/ingest"
	"github.com/ugsoil/soilserver/internal/store"
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		logger.Error("open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()
	logger.Info("store ready", "driver", cfg.Store.Driver)

	agg := aggregate.New(st)
	server := api.NewServer(st, agg, logger, cfg.HTTP)

	if cfg.Generator.Enabled {
		sched := ingest.NewScheduler(ingest.NewGenerator(st, logger), cfg.Generator.Interval, logger)
		go sched.Run(ctx)
		logger.Info("generator scheduled", "interval", cfg.Generator.Interval)
	}

	var bridge *ingest.MQTTBridge
	if cfg.MQTT.Enabled {
		bridge = ingest.NewMQTTBridge(cfg.MQTT, st, logger)
		if err := bridge.Start(); err != nil {
			logger.Error("start mqtt bridge", "error", err)
			os.Exit(1)
		}
		defer bridge.Stop()
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      handlers.CombinedLoggingHandler(os.Stdout, server.Router()),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("listening", "port", cfg.HTTP.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("shutdown complete")
}
