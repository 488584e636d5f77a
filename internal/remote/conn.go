package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"rconflow/internal/domain"
	"rconflow/internal/rcon"
)

var ErrNotConnected = errors.New("remote: not connected")

// Session is one authenticated request/response channel to a remote server.
type Session interface {
	Command(cmd string) (string, error)
	Close() error
}

// DialFunc opens and authenticates a Session. The default uses the RCON
// wire client; tests substitute fakes.
type DialFunc func(addr, password string, timeout time.Duration) (Session, error)

func DialRCON(addr, password string, timeout time.Duration) (Session, error) {
	return rcon.Dial(addr, password, timeout)
}

// CredentialFunc yields the plaintext credential at connect time. An error
// means the credential is unavailable (e.g. it failed to decrypt).
type CredentialFunc func() (string, error)

// Conn owns one network link to one remote endpoint and its health state.
// A command may only be sent while Connected. Connect and execute failures
// degrade the state instead of crossing this boundary; callers observe it
// through Status.
type Conn struct {
	cfg     domain.SlotConfig
	cred    CredentialFunc
	dial    DialFunc
	timeout time.Duration

	mu      sync.Mutex
	state   domain.ConnState
	lastErr error
	sess    Session
}

func NewConn(cfg domain.SlotConfig, cred CredentialFunc, dial DialFunc, timeout time.Duration) *Conn {
	if dial == nil {
		dial = DialRCON
	}
	return &Conn{cfg: cfg, cred: cred, dial: dial, timeout: timeout, state: domain.StateDisconnected}
}

// Connect opens the transport and authenticates. It returns the resulting
// state; failure reasons are recorded, not raised.
func (c *Conn) Connect() domain.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Conn) connectLocked() domain.ConnState {
	if !c.cfg.Complete() {
		c.failLocked(fmt.Errorf("slot %d: incomplete configuration", c.cfg.Slot))
		return c.state
	}
	password, err := c.cred()
	if err != nil {
		c.failLocked(fmt.Errorf("credential unavailable: %w", err))
		return c.state
	}
	sess, err := c.dial(c.cfg.Addr(), password, c.timeout)
	if err != nil {
		c.failLocked(err)
		return c.state
	}
	c.sess = sess
	c.state = domain.StateConnected
	c.lastErr = nil
	log.Info().Int("slot", c.cfg.Slot).Str("addr", c.cfg.Addr()).Msg("connected")
	return c.state
}

func (c *Conn) failLocked(err error) {
	if c.sess != nil {
		_ = c.sess.Close()
		c.sess = nil
	}
	c.state = domain.StateFailed
	c.lastErr = err
	log.Warn().Int("slot", c.cfg.Slot).Str("addr", c.cfg.Addr()).Err(err).Msg("connection failed")
}

// Disconnect closes the transport if open. Idempotent.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		_ = c.sess.Close()
		c.sess = nil
		log.Info().Int("slot", c.cfg.Slot).Str("addr", c.cfg.Addr()).Msg("disconnected")
	}
	c.state = domain.StateDisconnected
	c.lastErr = nil
}

// Execute sends a command over the established session. An I/O failure
// mid-command degrades the state to Failed and is returned to the caller.
func (c *Conn) Execute(command string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.StateConnected || c.sess == nil {
		return "", ErrNotConnected
	}
	resp, err := c.sess.Command(command)
	if err != nil {
		c.failLocked(fmt.Errorf("execute on %s: %w", c.cfg.Addr(), err))
		return "", err
	}
	return resp, nil
}

// Reconnect disconnects unconditionally, then makes up to retryLimit
// connect attempts spaced retryDelay apart, stopping early on the first
// success or when ctx is cancelled. It blocks the caller for up to
// retryLimit*retryDelay.
func (c *Conn) Reconnect(ctx context.Context, retryLimit int, retryDelay time.Duration) domain.ConnState {
	c.Disconnect()
	for attempt := 1; attempt <= retryLimit; attempt++ {
		select {
		case <-ctx.Done():
			return c.State()
		case <-time.After(retryDelay):
		}
		log.Info().Int("slot", c.cfg.Slot).Str("addr", c.cfg.Addr()).
			Int("attempt", attempt).Int("limit", retryLimit).Msg("reconnect attempt")
		if c.Connect() == domain.StateConnected {
			return domain.StateConnected
		}
	}
	return c.State()
}

func (c *Conn) State() domain.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status is the display snapshot of this connection's health.
func (c *Conn) Status() domain.SlotState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := domain.SlotState{Slot: c.cfg.Slot, Host: c.cfg.Host, State: c.state}
	if c.lastErr != nil {
		st.Reason = c.lastErr.Error()
	}
	return st
}

func (c *Conn) Config() domain.SlotConfig { return c.cfg }
