package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/busybox42/memstate/internal/config"
	"github.com/busybox42/memstate/internal/logging"
	"github.com/busybox42/memstate/internal/store"
	"github.com/busybox42/memstate/pkg/network"
	"github.com/busybox42/memstate/pkg/tor"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

type MemstateServer struct {
	config     *config.Config
	storage    *store.Local
	transport  *network.Transport
	torManager *tor.Manager
	log        *logrus.Logger
}

func newMemstateServer(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*MemstateServer, error) {
	logger.Infof("Initializing memstate server on %s (Tor: %v)", cfg.ListenAddr, cfg.Tor.Enabled)
	srv := &MemstateServer{
		config:  cfg,
		storage: store.NewLocal(),
		log:     logger,
	}

	if cfg.Tor.Enabled {
		if err := srv.initializeTor(ctx); err != nil {
			return nil, errors.Wrap(err, "failed to initialize Tor")
		}
	}

	if err := srv.initializeNetwork(); err != nil {
		srv.Shutdown(context.Background())
		return nil, errors.Wrap(err, "failed to initialize network")
	}

	logger.Info("memstate server initialized successfully")
	return srv, nil
}

func (srv *MemstateServer) initializeTor(ctx context.Context) error {
	srv.log.Info("Initializing Tor")
	torManager, err := tor.Start(ctx, tor.Config{
		RemotePort: srv.config.Tor.RemotePort,
		Logger:     srv.log,
	})
	if err != nil {
		return err
	}
	srv.torManager = torManager
	srv.log.Infof("Tor initialized successfully. Onion address: %s", torManager.OnionAddress)
	return nil
}

func (srv *MemstateServer) initializeNetwork() error {
	cfg := srv.config
	networkConfig := &network.Config{
		Addr:           cfg.ListenAddr,
		APIPrefix:      cfg.APIPrefix,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		MaxConnections: cfg.MaxConnections,
		Logger:         srv.log,
	}
	if srv.torManager != nil {
		networkConfig.ExtraListeners = append(networkConfig.ExtraListeners, srv.torManager.Listener())
	}

	srv.transport = network.NewTransport(networkConfig, srv.storage)
	if err := srv.transport.Start(); err != nil {
		srv.log.Errorf("Failed to start transport: %v", err)
		return err
	}

	srv.log.Info("Network initialized successfully")
	return nil
}

// Shutdown stops the transport, then Tor. It is safe on a partially
// initialized server.
func (srv *MemstateServer) Shutdown(ctx context.Context) error {
	var firstErr error
	if srv.transport != nil {
		if err := srv.transport.Stop(ctx); err != nil {
			srv.log.Errorf("Error stopping transport: %v", err)
			firstErr = err
		}
	}
	if srv.torManager != nil {
		if err := srv.torManager.Stop(); err != nil {
			srv.log.Errorf("Error stopping Tor: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// loadConfig reads the config file if one is given and applies flag
// overrides on top.
func loadConfig(configFile, addr, logLevel string, useTor bool) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	if addr != "" {
		cfg.ListenAddr = addr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if useTor {
		cfg.Tor.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	configFile := flag.String("config", "", "Path to a YAML or HCL config file")
	addr := flag.String("addr", "", "Address to listen on (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	useTor := flag.Bool("tor", false, "Publish the API as a Tor onion service")
	flag.Parse()

	cfg, err := loadConfig(*configFile, *addr, *logLevel, *useTor)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	log = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := newMemstateServer(ctx, cfg, log)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Info("memstate server is running")
	<-ctx.Done()

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Shutdown error: %v", err)
	}
}
