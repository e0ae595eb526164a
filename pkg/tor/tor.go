// Package tor publishes the memstate API as a Tor v3 onion service using an
// embedded Tor process.
package tor

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/cretz/bine/tor"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

const (
	maxRetries          = 3
	defaultStartTimeout = 3 * time.Minute
	socksWaitTimeout    = 10 * time.Second
)

type Config struct {
	// RemotePort is the port the onion service exposes.
	RemotePort int
	// DataDir holds Tor state. Empty uses a temporary directory removed by Stop.
	DataDir      string
	StartTimeout time.Duration
	Logger       logrus.FieldLogger
}

// Manager owns an embedded Tor instance and the onion service listener.
type Manager struct {
	OnionAddress string
	SocksPort    int
	DataDir      string

	instance    *tor.Tor
	onion       *tor.OnionService
	ownsDataDir bool
	log         logrus.FieldLogger
}

// Start launches Tor and publishes an onion service. Connections to the
// service arrive on Listener.
func Start(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = defaultStartTimeout
	}
	log := cfg.Logger.WithField("component", "tor")

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		m, err := start(ctx, cfg, log)
		if err == nil {
			return m, nil
		}
		lastErr = err
		log.WithError(err).Warnf("Attempt %d to start Tor failed", attempt)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Wrapf(lastErr, "failed to start Tor after %d attempts", maxRetries)
}

func start(ctx context.Context, cfg Config, log *logrus.Entry) (*Manager, error) {
	socksPort, err := getAvailablePort()
	if err != nil {
		return nil, errors.Wrap(err, "failed to find a SOCKS5 port")
	}

	dataDir := cfg.DataDir
	ownsDataDir := false
	if dataDir == "" {
		dataDir, err = os.MkdirTemp("", "memstate-tor-*")
		if err != nil {
			return nil, errors.Wrap(err, "failed to create temporary Tor data directory")
		}
		ownsDataDir = true
	}
	cleanup := func() {
		if ownsDataDir {
			os.RemoveAll(dataDir)
		}
	}

	log.WithField("socks_port", socksPort).Info("Starting embedded Tor")
	t, err := tor.Start(ctx, &tor.StartConf{
		DataDir:         dataDir,
		NoAutoSocksPort: true,
		ExtraArgs:       []string{"--SocksPort", strconv.Itoa(socksPort)},
	})
	if err != nil {
		cleanup()
		return nil, errors.Wrap(err, "failed to start Tor")
	}

	startCtx, cancel := context.WithTimeout(ctx, cfg.StartTimeout)
	defer cancel()

	if err := t.EnableNetwork(startCtx, true); err != nil {
		t.Close()
		cleanup()
		return nil, errors.Wrap(err, "could not enable network")
	}

	socksAddr := fmt.Sprintf("127.0.0.1:%d", socksPort)
	if !waitForSocks5Proxy(socksAddr, socksWaitTimeout) {
		t.Close()
		cleanup()
		return nil, errors.Errorf("SOCKS5 proxy did not start on %s", socksAddr)
	}

	log.Info("Creating onion service")
	onion, err := t.Listen(startCtx, &tor.ListenConf{
		RemotePorts: []int{cfg.RemotePort},
		Version3:    true,
	})
	if err != nil {
		t.Close()
		cleanup()
		return nil, errors.Wrap(err, "could not create onion service")
	}

	m := &Manager{
		OnionAddress: onion.ID + ".onion",
		SocksPort:    socksPort,
		DataDir:      dataDir,
		instance:     t,
		onion:        onion,
		ownsDataDir:  ownsDataDir,
		log:          log,
	}
	log.WithField("onion", m.OnionAddress).Info("Onion service published")
	return m, nil
}

// Listener accepts connections made to the onion service.
func (m *Manager) Listener() net.Listener {
	return m.onion
}

// SocksAddr is the local address of Tor's SOCKS5 proxy.
func (m *Manager) SocksAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", m.SocksPort)
}

// Dialer returns a SOCKS5 dialer for outgoing connections via Tor.
func (m *Manager) Dialer() (proxy.Dialer, error) {
	dialer, err := proxy.SOCKS5("tcp", m.SocksAddr(), nil, proxy.Direct)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create SOCKS5 dialer")
	}
	return dialer, nil
}

// Stop closes the onion service, shuts Tor down and removes a temporary
// data directory.
func (m *Manager) Stop() error {
	m.log.Info("Stopping Tor")

	if m.onion != nil {
		m.onion.Close()
	}
	if m.instance != nil {
		if err := m.instance.Close(); err != nil {
			return errors.Wrap(err, "failed to stop Tor")
		}
	}
	if m.ownsDataDir && m.DataDir != "" {
		m.log.WithField("data_dir", m.DataDir).Debug("Cleaning up data directory")
		os.RemoveAll(m.DataDir)
	}
	return nil
}

func getAvailablePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// waitForSocks5Proxy checks if the SOCKS5 proxy is ready before proceeding.
func waitForSocks5Proxy(address string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", address)
		if err == nil {
			conn.Close()
			return true
		}
		time.Sleep(500 * time.Millisecond)
	}
	return false
}
