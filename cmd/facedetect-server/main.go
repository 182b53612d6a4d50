package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/facedetect-server/internal/metrics"
	"github.com/kstaniek/facedetect-server/internal/server"
	"github.com/kstaniek/facedetect-server/internal/stats"
	"github.com/kstaniek/facedetect-server/internal/vision"
)

const progPrefix = "facedetect-server: "

func main() {
	os.Exit(run())
}

func run() int {
	cfg, code := parseArgs(os.Args[1:])
	if cfg == nil {
		return code
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	detector, err := vision.NewCascadeDetector(cfg.faceCascade, cfg.eyeCascade, cfg.scratchFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%sunable to load classifier resources: %v\n", progPrefix, err)
		return 14
	}
	defer detector.Close()

	if cfg.scratchFile != "" {
		f, err := os.OpenFile(cfg.scratchFile, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%sunable to open the scratch file %q for writing\n", progPrefix, cfg.scratchFile)
			return 18
		}
		f.Close()
	}

	broker := vision.NewBroker(detector)
	st := stats.New()

	addr := ":0"
	if cfg.portArg != "" && cfg.portArg != "0" {
		addr = ":" + cfg.portArg
	}

	srv := server.New(server.Config{
		Addr:            addr,
		ConnectionLimit: cfg.connectionLimit,
		MaxImageBytes:   cfg.maxImageBytes,
		BadPrefixFile:   cfg.badPrefixFile,
	}, broker, st, server.WithLogger(l))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ctx, func(port int) {
			fmt.Fprintf(os.Stderr, "%d\n", port)
		})
	}()

	select {
	case <-srv.Ready():
	case <-serveErr:
		reportedPort := cfg.portArg
		if reportedPort == "" {
			reportedPort = "0"
		}
		fmt.Fprintf(os.Stderr, "%sunable to listen on given port %q\n", progPrefix, reportedPort)
		return 10
	}

	reporterDone := make(chan struct{})
	go stats.RunReporter(st, reporterDone)
	defer close(reporterDone)

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		httpSrv := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = httpSrv.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case err := <-serveErr:
		if err != nil {
			l.Error("server_error", "error", err)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Warn("shutdown_error", "error", err)
	}
	wg.Wait()
	return 0
}
