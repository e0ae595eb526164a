// pkg/network/transport.go
package network

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"
)

// Transport owns the HTTP server and its listeners.
type Transport struct {
	config   *Config
	server   *http.Server
	listener net.Listener
	mu       sync.Mutex
	wg       sync.WaitGroup
}

func NewTransport(config *Config, st MemoryStore) *Transport {
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	handler := NewHandler(st, config.APIPrefix, config.MaxBodyBytes, config.Logger)
	return &Transport{
		config: config,
		server: &http.Server{
			Handler:           handler,
			ReadTimeout:       config.ReadTimeout,
			ReadHeaderTimeout: readHeaderTimeout,
			WriteTimeout:      config.WriteTimeout,
			IdleTimeout:       config.IdleTimeout,
			MaxHeaderBytes:    maxHeaderBytes,
		},
	}
}

// Start binds the configured address and serves on it and on every extra
// listener in the background.
func (t *Transport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listener != nil {
		return errors.New("transport already started")
	}

	listener, err := net.Listen("tcp", t.config.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", t.config.Addr)
	}
	if t.config.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, t.config.MaxConnections)
	}
	t.listener = listener

	t.serve(listener)
	for _, l := range t.config.ExtraListeners {
		t.serve(l)
	}

	t.config.Logger.WithField("addr", listener.Addr().String()).Info("HTTP transport listening")
	return nil
}

func (t *Transport) serve(l net.Listener) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.config.Logger.WithError(err).WithField("addr", l.Addr().String()).Error("HTTP server error")
		}
	}()
}

// Addr returns the bound address, or nil before Start.
func (t *Transport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Stop gracefully shuts the server down, waiting for in-flight requests
// until ctx expires.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	started := t.listener != nil
	t.mu.Unlock()

	if !started {
		return nil
	}

	err := t.server.Shutdown(ctx)
	t.wg.Wait()
	if err != nil {
		return errors.Wrap(err, "HTTP server shutdown")
	}
	t.config.Logger.Info("HTTP transport stopped")
	return nil
}
