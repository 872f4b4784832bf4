package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/netsentry/netsentry/pkg/analysis"
	"github.com/netsentry/netsentry/pkg/anomaly"
	"github.com/netsentry/netsentry/pkg/api"
	"github.com/netsentry/netsentry/pkg/capture"
	"github.com/netsentry/netsentry/pkg/config"
	"github.com/netsentry/netsentry/pkg/events"
	"github.com/netsentry/netsentry/pkg/logger"
	"github.com/netsentry/netsentry/pkg/mlclient"
	"github.com/netsentry/netsentry/pkg/packet"
	"github.com/netsentry/netsentry/pkg/scheduler"
	"github.com/netsentry/netsentry/pkg/storage"
	"github.com/rs/zerolog/log"
	psnet "github.com/shirou/gopsutil/v3/net"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.InitLogger(cfg.LogLevel)
	mainLog := logger.Component("main")

	mainLog.Info().Msg("NetSentry starting...")
	mainLog.Info().Msgf("Configuration loaded: LogLevel=%s, APIPort=%s", cfg.LogLevel, cfg.APIPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		mainLog.Info().Msgf("Received signal: %s. Shutting down gracefully...", sig)
		cancel()
	}()

	// Storage is optional: without Redis the pipeline still captures and
	// analyzes from the in-memory window.
	var store *storage.RedisStore
	if s, err := storage.NewRedisStore(cfg.Storage, log.Logger); err != nil {
		log.Warn().Err(err).Msg("Storage unavailable, running with in-memory window only")
	} else {
		store = s
		defer store.Close()
	}

	bus := events.NewBus(log.Logger, 1000)
	bus.Start(ctx)
	defer bus.Stop()

	window := analysis.NewWindow(cfg.Analysis.WindowSize)

	var persister *storage.BatchPersister
	if store != nil {
		persister = storage.NewBatchPersister(cfg.Storage, store, log.Logger)
		go persister.Run(ctx)
	}

	ingestor := capture.NewIngestor(queueOrDiscard(persister), window, log.Logger)

	session := capture.NewSession(cfg.Capture, log.Logger, ingestor.HandleFrame)
	captureIface := cfg.Capture.Interface
	if captureIface == "" {
		captureIface = defaultInterface()
	}
	if captureIface != "" {
		if err := session.Start(captureIface); err != nil {
			log.Error().Err(err).Msg("Initial capture start failed; use the API to start it")
		}
	} else {
		mainLog.Info().Msg("No capture interface configured or detected; start one through the API")
	}

	if cfg.Capture.SpoolDir != "" {
		spool := capture.NewSpoolWatcher(cfg.Capture.SpoolDir, log.Logger, ingestor.HandleFrame)
		go func() {
			if err := spool.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Spool watcher stopped")
			}
		}()
	}

	ml := mlclient.NewClient(cfg.ML, log.Logger)
	go ml.Run(ctx)

	anomalyStore := anomaly.NewStore(
		cfg.Anomaly.Cooldown,
		cfg.Anomaly.MaxRecent,
		persisterOrNil(store),
		func(a anomaly.Anomaly) {
			if err := bus.Publish(events.Event{
				Type:   events.EventAnomalyDetected,
				Source: "anomaly-store",
				Data:   a,
			}); err != nil {
				log.Warn().Err(err).Msg("Failed to publish anomaly event")
			}
		},
		log.Logger,
	)
	validator := anomaly.NewSubmissionValidator(10, 20, log.Logger)

	engine := analysis.NewEngine(
		window,
		finderOrNil(store),
		ml,
		anomalyStore,
		validator,
		bus,
		cfg.Thresholds,
		cfg.Analysis,
		log.Logger,
	)

	sched := scheduler.New(log.Logger)
	sched.Register(engine, cfg.Analysis.Interval)
	sched.Start(ctx)

	hub := api.NewHub(log.Logger)
	bus.Subscribe(hub)

	server := api.NewServer(
		&captureNotifier{Session: session, bus: bus},
		finderOrNil(store),
		anomalyReaderOrNil(store),
		anomalyStore,
		ml,
		bus,
		hub,
		log.Logger,
	)
	bus.Subscribe(server)

	httpServer := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: server.Router(),
	}
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("API server failed")
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("API server shutdown error")
	}

	if session.Status().Running {
		if err := session.Stop(); err != nil {
			log.Warn().Err(err).Msg("Capture stop error during shutdown")
		}
	}

	sched.Wait()
	mainLog.Info().Msg("NetSentry stopped.")
}

// defaultInterface picks the first up, non-loopback interface with an
// address so capture can start unattended on typical hosts.
func defaultInterface() string {
	interfaces, err := psnet.Interfaces()
	if err != nil {
		log.Warn().Err(err).Msg("Interface detection failed")
		return ""
	}

	for _, iface := range interfaces {
		up, loopback := false, false
		for _, flag := range iface.Flags {
			switch flag {
			case "up":
				up = true
			case "loopback":
				loopback = true
			}
		}
		if up && !loopback && len(iface.Addrs) > 0 {
			log.Info().Str("interface", iface.Name).Msg("Detected default capture interface")
			return iface.Name
		}
	}
	return ""
}

// The typed-nil helpers below keep optional collaborators nil-safe: a
// nil *RedisStore stored in an interface would otherwise pass the
// engine's nil checks and panic on use.

func finderOrNil(store *storage.RedisStore) analysis.PacketFinder {
	if store == nil {
		return nil
	}
	return store
}

func anomalyReaderOrNil(store *storage.RedisStore) api.AnomalyReader {
	if store == nil {
		return nil
	}
	return store
}

func persisterOrNil(store *storage.RedisStore) anomaly.Persister {
	if store == nil {
		return nil
	}
	return store
}

func queueOrDiscard(persister *storage.BatchPersister) capture.PacketQueue {
	if persister == nil {
		return discardQueue{}
	}
	return persister
}

// discardQueue satisfies the capture queue when storage is not
// configured.
type discardQueue struct{}

func (discardQueue) Enqueue(packet.Packet) {}

// captureNotifier publishes capture state changes made through the API
// so dashboard clients see starts and stops without polling.
type captureNotifier struct {
	*capture.Session
	bus *events.Bus
}

func (c *captureNotifier) Start(ifaceName string) error {
	if err := c.Session.Start(ifaceName); err != nil {
		return err
	}
	c.publishState()
	return nil
}

func (c *captureNotifier) Stop() error {
	if err := c.Session.Stop(); err != nil {
		return err
	}
	c.publishState()
	return nil
}

func (c *captureNotifier) publishState() {
	if err := c.bus.Publish(events.Event{
		Type:   events.EventCaptureStateChange,
		Source: "capture",
		Data:   c.Session.Status(),
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to publish capture state event")
	}
}
