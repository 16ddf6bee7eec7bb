// Package client provides a client for connecting to the salesdb server.
//
// A Client owns one TCP connection and a Demux over it, so any number of
// goroutines may issue requests at the same time, blocking waits included.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/salesdb/config"
	"github.com/xtxerr/salesdb/internal/errors"
	"github.com/xtxerr/salesdb/internal/storage/types"
	"github.com/xtxerr/salesdb/internal/wire"
)

// =============================================================================
// State Machine
// =============================================================================

// ClientState represents the connection state of a client.
type ClientState int32

const (
	StateDisconnected ClientState = iota
	StateConnecting
	StateConnected
	StateClosed
)

// String returns the human-readable name of the state.
func (s ClientState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// =============================================================================
// Errors
// =============================================================================

var (
	ErrClientClosed     = errors.New("client is closed")
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
)

// =============================================================================
// Client
// =============================================================================

// Config holds client configuration.
type Config struct {
	Addr           string
	ConnectTimeout time.Duration
	MaxFrameSize   int

	// Dial overrides net.Dialer, mainly for tests.
	Dial func(ctx context.Context, addr string) (net.Conn, error)
}

// DefaultConfig returns default client configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:           config.DefaultServerAddress,
		ConnectTimeout: config.DefaultConnectTimeout,
		MaxFrameSize:   config.DefaultMaxFrameSize,
	}
}

// Client is a salesdb client.
type Client struct {
	cfg   Config
	state atomic.Int32

	// mu guards demux and creds. Requests only hold it to read demux.
	mu    sync.Mutex
	demux *Demux
	creds *wire.Credentials // last successful login, replayed on Reconnect
}

// New creates a new client. Call Connect before issuing requests.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := &Client{cfg: *cfg}
	if c.cfg.Dial == nil {
		c.cfg.Dial = func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	if c.cfg.MaxFrameSize <= 0 {
		c.cfg.MaxFrameSize = config.DefaultMaxFrameSize
	}
	return c
}

// Dial creates a client and connects it.
func Dial(ctx context.Context, cfg *Config) (*Client, error) {
	c := New(cfg)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// =============================================================================
// Connection Management
// =============================================================================

func (c *Client) getState() ClientState {
	return ClientState(c.state.Load())
}

// Connect dials the server.
func (c *Client) Connect(ctx context.Context) error {
	switch c.getState() {
	case StateClosed:
		return ErrClientClosed
	case StateConnected:
		return ErrAlreadyConnected
	}
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return fmt.Errorf("cannot connect: current state is %s", c.getState())
	}

	d, err := c.dial(ctx)
	if err != nil {
		c.state.CompareAndSwap(int32(StateConnecting), int32(StateDisconnected))
		return err
	}

	c.mu.Lock()
	c.demux = d
	c.mu.Unlock()

	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected)) {
		// Closed while dialing.
		d.Close()
		return ErrClientClosed
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (*Demux, error) {
	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	conn, err := c.cfg.Dial(ctx, c.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.Addr, err)
	}
	return NewDemux(wire.NewConnSize(conn, c.cfg.MaxFrameSize)), nil
}

// Reconnect drops the current connection and dials again. Requests blocked
// on the old connection fail with ErrConnectionClosed. If the client had
// logged in, the login is replayed on the new connection.
func (c *Client) Reconnect(ctx context.Context) error {
	if c.getState() == StateClosed {
		return ErrClientClosed
	}

	c.mu.Lock()
	old := c.demux
	c.demux = nil
	creds := c.creds
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	c.state.Store(int32(StateDisconnected))

	if err := c.Connect(ctx); err != nil {
		return err
	}
	if creds != nil {
		if _, err := c.Login(ctx, creds.User, creds.Pass); err != nil {
			return fmt.Errorf("replay login: %w", err)
		}
	}
	log.Info("reconnected", "addr", c.cfg.Addr)
	return nil
}

// Close closes the connection. Blocked requests fail with
// ErrConnectionClosed.
func (c *Client) Close() error {
	if ClientState(c.state.Swap(int32(StateClosed))) == StateClosed {
		return nil
	}

	c.mu.Lock()
	d := c.demux
	c.demux = nil
	c.creds = nil
	c.mu.Unlock()

	if d != nil {
		return d.Close()
	}
	return nil
}

// State returns the current state.
func (c *Client) State() ClientState {
	return c.getState()
}

// IsConnected returns true if connected and the transport has not failed.
func (c *Client) IsConnected() bool {
	if c.getState() != StateConnected {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.demux != nil && c.demux.Err() == nil
}

// =============================================================================
// Request/Response
// =============================================================================

func (c *Client) send(ctx context.Context, op wire.Opcode, payload []byte) ([]byte, error) {
	switch c.getState() {
	case StateClosed:
		return nil, ErrClientClosed
	case StateConnected:
	default:
		return nil, ErrNotConnected
	}

	c.mu.Lock()
	d := c.demux
	c.mu.Unlock()
	if d == nil {
		return nil, ErrNotConnected
	}
	return d.Send(ctx, op, payload)
}

func (c *Client) sendStatus(ctx context.Context, op wire.Opcode, payload []byte, encErr error) (string, error) {
	if encErr != nil {
		return "", encErr
	}
	resp, err := c.send(ctx, op, payload)
	if err != nil {
		return "", err
	}
	return wire.DecodeString(resp)
}

// Register creates a user.
func (c *Client) Register(ctx context.Context, user, pass string) (string, error) {
	payload, err := wire.Credentials{User: user, Pass: pass}.Encode()
	return c.sendStatus(ctx, wire.OpRegister, payload, err)
}

// Login authenticates this connection.
func (c *Client) Login(ctx context.Context, user, pass string) (string, error) {
	creds := wire.Credentials{User: user, Pass: pass}
	payload, err := creds.Encode()
	msg, err := c.sendStatus(ctx, wire.OpLogin, payload, err)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.creds = &creds
	c.mu.Unlock()
	return msg, nil
}

// AddEvent records a sale on the current day.
func (c *Client) AddEvent(ctx context.Context, product string, qty int32, price float64) (string, error) {
	payload, err := wire.AddEvent{Product: product, Quantity: qty, Price: price}.Encode()
	return c.sendStatus(ctx, wire.OpAddEvent, payload, err)
}

func (c *Client) windowQuery(ctx context.Context, op wire.Opcode, product string, days int32) ([]byte, error) {
	payload, err := wire.WindowQuery{Product: product, Days: days}.Encode()
	if err != nil {
		return nil, err
	}
	return c.send(ctx, op, payload)
}

func (c *Client) windowFloat(ctx context.Context, op wire.Opcode, product string, days int32) (float64, error) {
	resp, err := c.windowQuery(ctx, op, product, days)
	if err != nil {
		return 0, err
	}
	return wire.DecodeFloat64(resp)
}

// TotalQuantity returns the units of product sold over the last days
// closed days.
func (c *Client) TotalQuantity(ctx context.Context, product string, days int32) (int64, error) {
	resp, err := c.windowQuery(ctx, wire.OpGetQuantity, product, days)
	if err != nil {
		return 0, err
	}
	return wire.DecodeInt64(resp)
}

// TotalVolume returns Σ quantity × price over the last days closed days.
func (c *Client) TotalVolume(ctx context.Context, product string, days int32) (float64, error) {
	return c.windowFloat(ctx, wire.OpGetVolume, product, days)
}

// AveragePrice returns volume / quantity over the last days closed days.
func (c *Client) AveragePrice(ctx context.Context, product string, days int32) (float64, error) {
	return c.windowFloat(ctx, wire.OpGetAvgPrice, product, days)
}

// MaxPrice returns the highest unit price over the last days closed days.
func (c *Client) MaxPrice(ctx context.Context, product string, days int32) (float64, error) {
	return c.windowFloat(ctx, wire.OpGetMaxPrice, product, days)
}

// PriceQuantile returns the q-quantile of the unit price.
func (c *Client) PriceQuantile(ctx context.Context, product string, days int32, q float64) (float64, error) {
	payload, err := wire.QuantileQuery{Product: product, Days: days, Quantile: q}.Encode()
	if err != nil {
		return 0, err
	}
	resp, err := c.send(ctx, wire.OpPriceQuantile, payload)
	if err != nil {
		return 0, err
	}
	return wire.DecodeFloat64(resp)
}

// FilteredEvents returns the raw events of products on the day days ago.
func (c *Client) FilteredEvents(ctx context.Context, days int32, products []string) (map[string]types.Series, error) {
	payload, err := wire.FilterQuery{Days: days, Products: products}.Encode()
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, wire.OpFilterEvents, payload)
	if err != nil {
		return nil, err
	}
	return wire.DecodeFilterResult(resp)
}

// AwaitSimultaneous blocks until a and b have both sold on the current day.
// It fails if the day closes first.
func (c *Client) AwaitSimultaneous(ctx context.Context, a, b string) (string, error) {
	payload, err := wire.Simultaneous{ProductA: a, ProductB: b}.Encode()
	return c.sendStatus(ctx, wire.OpSimultaneousSales, payload, err)
}

// AwaitConsecutive blocks until product has sold n times on the current
// day. It fails if the day closes first.
func (c *Client) AwaitConsecutive(ctx context.Context, product string, n int32) (string, error) {
	payload, err := wire.Consecutive{Product: product, N: n}.Encode()
	return c.sendStatus(ctx, wire.OpConsecutiveSales, payload, err)
}

// Today returns the running totals of product on the current day.
func (c *Client) Today(ctx context.Context, product string) (wire.Today, error) {
	payload, err := wire.EncodeString(product)
	if err != nil {
		return wire.Today{}, err
	}
	resp, err := c.send(ctx, wire.OpGetToday, payload)
	if err != nil {
		return wire.Today{}, err
	}
	return wire.DecodeToday(resp)
}

// Status returns the engine status.
func (c *Client) Status(ctx context.Context) (wire.Status, error) {
	resp, err := c.send(ctx, wire.OpStatus, nil)
	if err != nil {
		return wire.Status{}, err
	}
	return wire.DecodeStatus(resp)
}
