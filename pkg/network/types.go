package network

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

type Config struct {
	Addr           string
	APIPrefix      string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxBodyBytes   int64
	MaxConnections int // 0 disables the limit
	Logger         logrus.FieldLogger

	// ExtraListeners are served alongside Addr, e.g. an onion service.
	ExtraListeners []net.Listener
}
