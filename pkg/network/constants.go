package network

import "time"

const (
	readHeaderTimeout = 10 * time.Second
	maxHeaderBytes    = 64 * 1024
	requestIDHeader   = "X-Request-Id"
)
