// Package client talks to a memstate server over its HTTP API.
package client

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/busybox42/memstate/internal/store"
	"github.com/busybox42/memstate/pkg/protocol"
	"github.com/pkg/errors"
	"golang.org/x/net/proxy"
)

const defaultTimeout = 30 * time.Second

// StatusError is returned when the server answers with a non-200 status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return "server returned " + strconv.Itoa(e.Code) + ": " + e.Message
}

// statusErrors reverses the server's status mapping.
var statusErrors = map[int]error{
	http.StatusNotFound:                     store.ErrUnknownIdentifier,
	http.StatusRequestedRangeNotSatisfiable: store.ErrAddressOutOfRange,
	http.StatusUnprocessableEntity:          store.ErrInvalidRange,
	http.StatusBadRequest:                   protocol.ErrDecodingFailure,
	http.StatusUnsupportedMediaType:         protocol.ErrUnsupportedMediaType,
}

// Is lets callers match a StatusError against the store and protocol
// sentinels with errors.Is.
func (e *StatusError) Is(target error) bool {
	sentinel, ok := statusErrors[e.Code]
	return ok && target == sentinel
}

type Client struct {
	baseURL    string
	prefix     string
	httpClient *http.Client
}

type Option func(*Client) error

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithAPIPrefix overrides protocol.APIPrefix for servers mounted elsewhere.
func WithAPIPrefix(prefix string) Option {
	return func(c *Client) error {
		c.prefix = prefix
		return nil
	}
}

// WithSOCKS5 routes every request through the SOCKS5 proxy at addr, such as
// a Tor SOCKS port.
func WithSOCKS5(addr string) Option {
	return func(c *Client) error {
		dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
		if err != nil {
			return errors.Wrap(err, "failed to create SOCKS5 dialer")
		}
		return WithDialer(dialer)(c)
	}
}

// WithDialer routes every request through dialer.
func WithDialer(dialer proxy.Dialer) Option {
	return func(c *Client) error {
		dial := func(_ context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			dial = cd.DialContext
		}
		c.httpClient = &http.Client{
			Timeout:   defaultTimeout,
			Transport: &http.Transport{DialContext: dial},
		}
		return nil
	}
}

// New returns a client for the server at baseURL, e.g. "http://127.0.0.1:8000".
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		prefix:     protocol.APIPrefix,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Client) Initialize(ctx context.Context, id string, data []byte) error {
	body, err := protocol.NewProgramState(id, data).Serialize()
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, c.prefix+protocol.InitialisePath, "", bytes.NewReader(body))
	return err
}

func (c *Client) WriteByteAt(ctx context.Context, id string, address uint16, value uint8) error {
	query := protocol.Query(id, map[string]uint64{
		protocol.ParamAddress: uint64(address),
		protocol.ParamValue:   uint64(value),
	})
	_, err := c.do(ctx, http.MethodPost, c.prefix+protocol.WriteBytePath, query, nil)
	return err
}

func (c *Client) ReadByteAt(ctx context.Context, id string, address uint16) (uint8, error) {
	query := protocol.Query(id, map[string]uint64{
		protocol.ParamAddress: uint64(address),
	})
	body, err := c.do(ctx, http.MethodGet, c.prefix+protocol.ReadBytePath, query, nil)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(string(body), 10, 8)
	if err != nil {
		return 0, errors.Wrapf(protocol.ErrDecodingFailure, "byte value %q", body)
	}
	return uint8(v), nil
}

func (c *Client) ReadRange(ctx context.Context, id string, address, length uint16) ([]byte, error) {
	query := protocol.Query(id, map[string]uint64{
		protocol.ParamAddress: uint64(address),
		protocol.ParamLength:  uint64(length),
	})
	body, err := c.do(ctx, http.MethodGet, c.prefix+protocol.ReadRangePath, query, nil)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeRange(string(body))
}

// Status returns the body of the health check, "Healthy" on a live server.
func (c *Client) Status(ctx context.Context) (string, error) {
	body, err := c.do(ctx, http.MethodGet, protocol.StatusPath, "", nil)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) do(ctx context.Context, method, path, query string, body io.Reader) ([]byte, error) {
	target := c.baseURL + path
	if query != "" {
		target += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", protocol.ContentTypeJSON)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	return data, nil
}
