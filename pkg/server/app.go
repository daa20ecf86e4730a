package server

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	drepo "NarraTrade/internal/domain/repository"
	mid "NarraTrade/internal/middleware"
	"NarraTrade/internal/usecase"
	pkgch "NarraTrade/pkg/clickhouse"
	"NarraTrade/pkg/config"
	xhttp "NarraTrade/pkg/http"
	pkgkafka "NarraTrade/pkg/kafka"
	applogger "NarraTrade/pkg/logger"

	"github.com/labstack/echo/v4"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	logger     *applogger.Logger
	scheduler  *usecase.RebalanceScheduler
	pipe       *mid.IngestPipeline
	collector  *usecase.SignalCollector
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	chClient   *pkgch.Client
	events     drepo.EventPublisher
	httpServer *xhttp.Server
	handlers   []xhttp.Handler
}

// New creates a new App instance with all dependencies. The collector,
// consumer, ClickHouse client and event publisher are all optional; a nil
// value just leaves that part of the stack disabled.
func New(
	cfg *config.Config,
	logger *applogger.Logger,
	scheduler *usecase.RebalanceScheduler,
	pipe *mid.IngestPipeline,
	collector *usecase.SignalCollector,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	chClient *pkgch.Client,
	events drepo.EventPublisher,
) *App {
	return &App{
		cfg:       cfg,
		logger:    logger,
		scheduler: scheduler,
		pipe:      pipe,
		collector: collector,
		consumer:  consumer,
		kh:        kh,
		chClient:  chClient,
		events:    events,
	}
}

// AddHTTPHandler registers an HTTP handler for route setup.
func (a *App) AddHTTPHandler(h xhttp.Handler) { a.handlers = append(a.handlers, h) }

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := a.logger
	if l == nil {
		l, _ = applogger.New(&applogger.Config{Level: "info", Format: "console", Output: "stdout"})
	}

	var handler xhttp.Handler
	if len(a.handlers) == 1 {
		handler = a.handlers[0]
	} else if len(a.handlers) > 1 {
		handler = routeSet(a.handlers)
	}
	a.httpServer = xhttp.NewServer(handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(l),
	)

	// The ingest pipeline drains for every intake path (stream, Kafka, HTTP),
	// so it runs whether or not the websocket feed is up.
	if a.pipe != nil {
		a.pipe.Start(ctx)
	}

	// Start signal collector (websocket feed)
	if a.collector != nil {
		go func() {
			if err := a.collector.Start(ctx); err != nil {
				l.Error("signal collector error", applogger.Error(err))
			}
		}()
		l.Info("signal collector started", applogger.Strings("assets", a.cfg.Portfolio.Assets))
	}

	// Start consumer if configured
	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				l.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		l.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	// Start the rebalance loop
	if a.cfg.Portfolio.AutoStart {
		a.scheduler.Start(ctx)
	}

	// Start HTTP server
	if err := a.httpServer.Start(); err != nil {
		l.Error("http server start error", applogger.Error(err))
		return err
	}

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	l.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	l := a.logger
	if l == nil {
		var err error
		l, err = applogger.New(&applogger.Config{Level: "info", Format: "console", Output: "stdout"})
		if err != nil {
			log.Printf("failed to create logger: %v", err)
			return err
		}
	}
	l.Info("shutting down...")

	// Stop the loop first; in-flight cycles finish
	a.scheduler.Stop()

	if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			l.Warn("collector stop error", applogger.Error(err))
		}
	}

	// Shutdown HTTP server
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		l.Error("http shutdown error", applogger.Error(err))
	}

	// Stop consumer
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	// All intake paths are down; stop the drain
	if a.pipe != nil {
		a.pipe.Stop()
	}

	// Close infrastructure clients
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			l.Warn("event publisher close error", applogger.Error(err))
		}
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	l.Info("shutdown complete")
	return nil
}

type routeSet []xhttp.Handler

func (m routeSet) RegisterRoutes(e *echo.Echo) {
	for _, h := range m {
		h.RegisterRoutes(e)
	}
}
