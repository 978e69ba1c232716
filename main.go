package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Zhima-Mochi/minishop-commerce/internal/config"
	domoutbox "github.com/Zhima-Mochi/minishop-commerce/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-commerce/internal/infrastructure/kafka"
	infraobs "github.com/Zhima-Mochi/minishop-commerce/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-commerce/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/minishop-commerce/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-commerce/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/minishop-commerce/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/minishop-commerce/internal/pkg/logging"
	httppresentation "github.com/Zhima-Mochi/minishop-commerce/internal/presentation/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	baseLogger, err := logging.NewLogger(logging.Options{
		Service: cfg.ServiceName,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		LogFile: cfg.LogFile,
	})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)
	systemLogger := logging.WithTrace(baseLogger, logging.SystemTraceID, logging.SystemSpanID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := oteltrace.Setup(ctx, oteltrace.SetupOptions{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
		Stdout:      cfg.OTelStdout,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			systemLogger.Warn("tracer_shutdown_failed", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	counters, histograms := prometrics.Standard(prometrics.New(reg, "", ""))
	tel := infraobs.New(oteltrace.New(cfg.ServiceName), zaplogger.Wrap(baseLogger), counters, histograms)

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.close()

	bus := outbox.NewBus(tel)
	var publisher domoutbox.Publisher = bus
	if len(cfg.KafkaBrokers) > 0 {
		kp := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopicPrefix, cfg.ServiceName)
		defer func() { _ = kp.Close() }()
		publisher = outbox.NewFanOut(bus, kp)
		systemLogger.Info("kafka_publisher_enabled", zap.Strings("brokers", cfg.KafkaBrokers))
	}

	c := newCore(cfg, store, publisher, tel)
	c.startWorkers(bus, tel)
	bus.Start(ctx)

	server := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httppresentation.NewRouter(httppresentation.Options{
			Observability: tel,
			Gatherer:      reg,
			Ready:         store.ready,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		systemLogger.Info("http_server_start", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if cfg.DemoCheckout {
		g.Go(func() error {
			if err := c.runDemo(gctx); err != nil {
				systemLogger.Warn("demo_checkout_failed", zap.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			systemLogger.Error("http_server_shutdown_error", zap.Error(err))
		} else {
			systemLogger.Info("http_server_stopped")
		}
		bus.Stop(shutdownCtx)
		return nil
	})
	return g.Wait()
}
