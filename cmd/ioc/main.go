package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/portenta/image-processing-ioc/internal/alarms"
	"github.com/portenta/image-processing-ioc/internal/api"
	"github.com/portenta/image-processing-ioc/internal/auth"
	"github.com/portenta/image-processing-ioc/internal/beam"
	"github.com/portenta/image-processing-ioc/internal/config"
	"github.com/portenta/image-processing-ioc/internal/h5"
	"github.com/portenta/image-processing-ioc/internal/ioc"
	"github.com/portenta/image-processing-ioc/internal/metrics"
	"github.com/portenta/image-processing-ioc/internal/pv"
	"github.com/portenta/image-processing-ioc/internal/rpc"
	"github.com/portenta/image-processing-ioc/internal/watcher"
	"github.com/portenta/image-processing-ioc/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	var level slog.LevelVar
	level.Set(cfg.Level())
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("image-ioc starting",
		"config", *configPath,
		"prefix", cfg.IOC.Prefix,
		"dataset", cfg.IOC.Dataset,
		"reduce", cfg.IOC.Reduce,
		"grpc_port", cfg.Server.GRPCPort,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
	)

	if cfg.IOC.PluginPath != "" {
		if err := os.Setenv("HDF5_PLUGIN_PATH", cfg.IOC.PluginPath); err != nil {
			slog.Error("failed to set HDF5_PLUGIN_PATH", "err", err)
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db := pv.New()
	group, err := ioc.New(db, h5.NewLoader(), ioc.Options{
		Prefix:  cfg.IOC.Prefix,
		Dataset: cfg.IOC.Dataset,
		Reduce:  beam.Method(cfg.IOC.Reduce),
		ROI: beam.ROI{
			RowMin: cfg.IOC.ROI.RowMin,
			RowMax: cfg.IOC.ROI.RowMax,
			ColMin: cfg.IOC.ROI.ColMin,
			ColMax: cfg.IOC.ROI.ColMax,
		},
		ROISize:  cfg.IOC.ROI.Size,
		Analysis: analysisOptions(cfg),
	})
	if err != nil {
		slog.Error("failed to create ioc", "err", err)
		os.Exit(1)
	}

	exporter := metrics.New(db)
	group.OnOutcome(exporter.Observe)

	alarmEngine := alarms.New(cfg.Alarms, cfg.IOC.Prefix)

	var bg sync.WaitGroup
	goRun := func(fn func()) {
		bg.Add(1)
		go func() {
			defer bg.Done()
			fn()
		}()
	}
	goRun(func() { alarmEngine.Run(ctx, db) })

	// gRPC health service with optional API key authentication.
	grpcSrv := rpc.New(
		cfg.Server.Auth.Mode,
		cfg.Server.Auth.EffectiveHeader(),
		cfg.Server.Auth.Key(),
	)
	group.OnOutcome(grpcSrv.Observe)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		slog.Error("failed to listen on gRPC port",
			"port", cfg.Server.GRPCPort, "err", err)
		os.Exit(1)
	}
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Error("gRPC server stopped", "err", err)
		}
	}()

	hub := ws.New(db, group, cfg.Server.BroadcastInterval)
	goRun(func() { hub.Run(ctx) })

	for _, ch := range ioc.Channels {
		dw := dirWatch(cfg, ch)
		if !dw.Enabled() {
			continue
		}
		name := group.PathPV(ch)
		w, err := watcher.New(dw.Dir, dw.Pattern, dw.Settle, func(ctx context.Context, path string) error {
			_, err := db.Put(ctx, name, path)
			return err
		})
		if err != nil {
			slog.Error("failed to create directory watcher", "channel", ch, "err", err)
			os.Exit(1)
		}
		goRun(func() {
			if err := w.Run(ctx); err != nil {
				slog.Error("directory watcher stopped", "channel", ch, "dir", dw.Dir, "err", err)
			}
		})
	}

	goRun(func() {
		err := config.Watch(ctx, *configPath, func(next *config.Config) {
			applyReload(next, &level, group, alarmEngine)
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	})

	// Combined HTTP server: REST API, PV monitor stream and metrics.
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", auth.RequireAPIKey(
		cfg.Server.Auth.Mode,
		cfg.Server.Auth.EffectiveHeader(),
		cfg.Server.Auth.Key(),
		api.New(db, group, alarmEngine),
	))
	httpMux.Handle("/ws/stream", hub)
	httpMux.Handle("/metrics", exporter)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("image-ioc shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	grpcSrv.GracefulStop()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	bg.Wait()
	alarmEngine.Wait()
}

func analysisOptions(cfg *config.Config) beam.Options {
	return beam.Options{
		SaturationCeiling: cfg.Analysis.SaturationCeiling,
		ThresholdFraction: cfg.Analysis.ThresholdFraction,
	}
}

func dirWatch(cfg *config.Config, ch ioc.Channel) config.DirWatch {
	if ch == ioc.Secondary {
		return cfg.Watch.Secondary
	}
	return cfg.Watch.Primary
}

// applyReload pushes the runtime-applicable parts of next into the running
// components. config.Watch only calls it when one of them changed.
func applyReload(next *config.Config, level *slog.LevelVar, group *ioc.IOC, eng *alarms.Engine) {
	level.Set(next.Level())
	group.SetAnalysis(analysisOptions(next))
	if err := group.SetReduce(beam.Method(next.IOC.Reduce)); err != nil {
		slog.Error("config: reduce method not applied", "err", err)
	}
	eng.SetConfig(next.Alarms)
}
