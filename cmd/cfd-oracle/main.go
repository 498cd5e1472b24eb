package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/StrathCole/cfd-oracle/pkg/api"
	"github.com/StrathCole/cfd-oracle/pkg/config"
	"github.com/StrathCole/cfd-oracle/pkg/feeds"
	"github.com/StrathCole/cfd-oracle/pkg/logging"
	"github.com/StrathCole/cfd-oracle/pkg/metrics"
	"github.com/StrathCole/cfd-oracle/pkg/oracle"
	"github.com/StrathCole/cfd-oracle/pkg/publisher"
	"github.com/StrathCole/cfd-oracle/pkg/signer"
	"github.com/StrathCole/cfd-oracle/pkg/version"
)

const shutdownTimeout = 10 * time.Second

var (
	configFile = flag.String("config", "config/config.yaml", "Path to configuration file")
	showVer    = flag.Bool("version", false, "Show version and exit")
	noWatch    = flag.Bool("no-watch", false, "Disable config hot reload")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("cfd-oracle version %s\n", version.Version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	logger.Info("Starting cfd-oracle", "version", version.Version, "instruments", cfg.InstrumentIDs())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Oracle stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	metrics.Init()

	sig, err := signer.New(ctx, cfg.Signer)
	if err != nil {
		return fmt.Errorf("signer: %w", err)
	}
	defer sig.Destroy()
	logger.Info("Signer ready", "type", cfg.Signer.Type, "address", sig.Identity())

	store := publisher.NewMemoryStore(cfg.Publishers.Memory.Retention)
	fanout := publisher.NewFanout(logger, store)

	if rc := cfg.Publishers.Redis; rc.Enabled {
		client := publisher.NewRedisClient(rc.Addr, rc.Password, rc.DB)
		defer client.Close()
		fanout.Add(publisher.NewRedisPublisher(client, rc.Channel, rc.TTL.ToDuration()))
		logger.Info("Redis publisher enabled", "addr", rc.Addr, "channel", rc.Channel)
	}
	if kc := cfg.Publishers.Kafka; kc.Enabled {
		kp := publisher.NewKafkaPublisher(publisher.NewKafkaWriter(kc.Brokers, kc.Topic))
		defer kp.Close()
		fanout.Add(kp)
		logger.Info("Kafka publisher enabled", "brokers", kc.Brokers, "topic", kc.Topic)
	}

	var hub *api.Hub
	if cfg.Server.WebSocket.Enabled {
		hub = api.NewHub(logger)
		fanout.Add(hub)
	}

	node, err := oracle.New(cfg, sig, fanout, logger)
	if err != nil {
		return fmt.Errorf("oracle: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return node.Run(gctx)
	})

	if hub != nil {
		g.Go(func() error {
			return hub.Run(gctx)
		})
	}

	for _, feedCfg := range cfg.Feeds {
		if !feedCfg.Enabled {
			continue
		}
		adapter, err := feeds.Create(feedCfg, node, logger)
		if err != nil {
			logger.Warn("Failed to create feed", "type", feedCfg.Type, "name", feedCfg.Name, "error", err)
			continue
		}
		logger.Info("Feed started", "feed", adapter.Name(), "type", adapter.Type(), "instruments", adapter.Instruments())
		g.Go(func() error {
			return adapter.Run(gctx)
		})
	}

	if cfg.Server.HTTP.Enabled {
		server := api.NewServer(api.Config{
			Addr:        cfg.Server.HTTP.Addr,
			TLSCert:     tlsValue(cfg.Server.HTTP.TLS, cfg.Server.HTTP.TLS.Cert),
			TLSKey:      tlsValue(cfg.Server.HTTP.TLS, cfg.Server.HTTP.TLS.Key),
			IngestRate:  cfg.Server.HTTP.IngestRateLimit,
			IngestBurst: cfg.Server.HTTP.IngestBurst,
		}, node, store, hub, logger)
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Stop(shutdownCtx)
		})
	}

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path)
		g.Go(func() error {
			logger.Info("Starting metrics server", "addr", cfg.Metrics.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	if !*noWatch {
		watcher, err := config.NewWatcher(*configFile, func(next *config.Config) {
			if err := node.ApplyConfig(next); err != nil {
				logger.Warn("Config reload applied partially", "error", err)
			}
		}, logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	err = g.Wait()
	logger.Info("Shutting down gracefully...")
	return err
}

func tlsValue(tls config.TLSConfig, v string) string {
	if !tls.Enabled {
		return ""
	}
	return v
}
