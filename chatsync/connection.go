package chatsync

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/CyberAshu/Vedawave/chatsync/internal"
)

// Transport is one open bidirectional channel.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, v any) error
	Close(code int, reason string) error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, rawURL string) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, rawURL string) (Transport, error) {
	return f(ctx, rawURL)
}

type websocketDialer struct {
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
}

func (d websocketDialer) Dial(ctx context.Context, rawURL string) (Transport, error) {
	conn, err := internal.Dial(ctx, rawURL, d.handshakeTimeout, d.writeTimeout, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ChannelURL joins the live-channel endpoint and the credential, which the
// server takes as the last path segment.
func ChannelURL(endpoint, credential string) (string, error) {
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return "", WrapError(ErrorInvalidConfig, "invalid live channel URL", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", NewError(ErrorInvalidConfig, fmt.Sprintf("live channel URL must be ws or wss, got %q", u.Scheme))
	}
	return u.String() + "/" + url.PathEscape(credential), nil
}

const writeQueueSize = 16

type session struct {
	epoch     uint64
	transport Transport
	writeCh   chan any
	cancel    context.CancelFunc
}

// Connection owns the live channel: dialing, heartbeat, reconnect backoff.
// Every method must run on the loop.
type Connection struct {
	sched   scheduler
	dialer  Dialer
	bus     *Bus
	logger  Logger
	metrics *Metrics
	onFrame func([]byte)

	heartbeat   time.Duration
	maxAttempts int
	backoff     *backoff.ExponentialBackOff

	state    ConnectionState
	attempt  int
	lastErr  error
	endpoint string
	cred     string

	epoch      uint64
	session    *session
	dialCancel context.CancelFunc
	retry      Timer
	ping       Timer
}

// ConnectionOptions carries the pacing constants of a Connection.
type ConnectionOptions struct {
	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
}

// NewConnection creates an idle connection manager. onFrame receives every
// inbound frame on the loop, in arrival order.
func NewConnection(sched scheduler, dialer Dialer, opts ConnectionOptions, bus *Bus, logger Logger, metrics *Metrics, onFrame func([]byte)) *Connection {
	if logger == nil {
		logger = noopLogger{}
	}
	if bus == nil {
		bus = &Bus{}
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     opts.ReconnectBaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         opts.ReconnectMaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return &Connection{
		sched:       sched,
		dialer:      dialer,
		bus:         bus,
		logger:      logger,
		metrics:     metrics,
		onFrame:     onFrame,
		heartbeat:   opts.HeartbeatInterval,
		maxAttempts: opts.MaxReconnectAttempts,
		backoff:     b,
	}
}

// Status returns the current state, attempt counter and last error.
func (c *Connection) Status() ConnectionStatus {
	return ConnectionStatus{State: c.state, Attempt: c.attempt, LastError: c.lastErr}
}

// Open establishes the channel for credential. While a channel for the same
// credential is connecting, open or retrying this is a no-op; a different
// credential replaces the current channel.
func (c *Connection) Open(endpoint, credential string) error {
	if c.state.Active() && c.cred == credential && c.endpoint == endpoint {
		return nil
	}
	if _, err := ChannelURL(endpoint, credential); err != nil {
		return err
	}
	if c.state.Active() {
		if closer := c.detach(); closer != nil {
			go closer(internal.StatusNormalClosure, "credential changed")
		}
	}
	c.endpoint = endpoint
	c.cred = credential
	c.attempt = 0
	c.lastErr = nil
	c.backoff.Reset()
	c.dial()
	return nil
}

// Close shuts the channel down without reconnecting. It cancels a pending
// reconnect and the heartbeat. The returned function performs the close
// handshake and must be called off the loop; it is nil when no channel was open.
func (c *Connection) Close() func() error {
	if c.state == StateIdle || c.state == StateClosedNormal {
		return nil
	}
	closer := c.detach()
	c.setState(StateClosedNormal, StateEvent{Kind: LifecycleClosed, Code: internal.StatusNormalClosure, Reason: "client close"})
	if closer == nil {
		return nil
	}
	return func() error { return closer(internal.StatusNormalClosure, "client close") }
}

// Send hands frame to the open channel, at most once. When the channel is not
// open the frame is dropped and a not-connected error returned; nothing is
// queued for a later connection.
func (c *Connection) Send(frame any) error {
	typ := frameType(frame)
	if c.state != StateOpen || c.session == nil {
		c.metrics.sendDropped()
		c.logger.Debug("dropping frame, channel not open", map[string]any{"type": typ, "state": c.state.String()})
		return NewError(ErrorNotConnected, fmt.Sprintf("channel is %s", c.state))
	}
	select {
	case c.session.writeCh <- frame:
		c.metrics.frameSent(typ)
		return nil
	default:
		c.metrics.sendDropped()
		c.logger.Warn("dropping frame, write queue full", map[string]any{"type": typ})
		return NewError(ErrorNotConnected, "write queue full")
	}
}

func (c *Connection) dial() {
	c.epoch++
	epoch := c.epoch
	rawURL, err := ChannelURL(c.endpoint, c.cred)
	if err != nil {
		c.failed(err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.dialCancel = cancel
	c.setState(StateConnecting, StateEvent{})

	dialer := c.dialer
	go func() {
		t, err := dialer.Dial(ctx, rawURL)
		if !c.sched.Post(func() { c.dialed(epoch, t, err) }) && err == nil && t != nil {
			_ = t.Close(internal.StatusGoingAway, "client stopped")
		}
	}()
}

func (c *Connection) dialed(epoch uint64, t Transport, err error) {
	if epoch != c.epoch {
		// a failed dial may still hand back a typed nil transport
		if err == nil && t != nil {
			go t.Close(internal.StatusNormalClosure, "superseded")
		}
		return
	}
	c.dialCancel = nil
	if err != nil {
		c.failed(WrapError(ErrorConnection, "dial live channel", err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{epoch: epoch, transport: t, writeCh: make(chan any, writeQueueSize), cancel: cancel}
	c.session = s
	c.attempt = 0
	c.lastErr = nil
	c.backoff.Reset()
	c.setState(StateOpen, StateEvent{Kind: LifecycleOpened})

	go c.readLoop(ctx, s)
	go c.writeLoop(ctx, s)
	c.armHeartbeat()
}

func (c *Connection) readLoop(ctx context.Context, s *session) {
	for {
		data, err := s.transport.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			code, reason := internal.CloseInfo(err)
			c.sched.Post(func() { c.closed(s, code, reason, err) })
			return
		}
		if !c.sched.Post(func() {
			if c.session == s {
				c.onFrame(data)
			}
		}) {
			return
		}
	}
}

func (c *Connection) writeLoop(ctx context.Context, s *session) {
	for {
		select {
		case frame := <-s.writeCh:
			if err := s.transport.Write(ctx, frame); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.sched.Post(func() { c.writeFailed(s, err) })
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Connection) writeFailed(s *session, err error) {
	if c.session != s {
		return
	}
	werr := WrapError(ErrorConnection, "write frame", err)
	c.lastErr = werr
	c.logger.Warn("write loop exit", map[string]any{"error": err.Error()})
	c.bus.Errors.Publish(allConversations, werr)
	// the reader sees the broken transport and drives the reconnect
	go s.transport.Close(internal.StatusAbnormal, "write failed")
}

func (c *Connection) closed(s *session, code int, reason string, err error) {
	if c.session != s {
		return
	}
	c.stopSession()
	c.logger.Info("channel closed", map[string]any{"code": code, "reason": reason})

	if code == internal.StatusNormalClosure || code == internal.StatusGoingAway {
		c.setState(StateClosedNormal, StateEvent{Kind: LifecycleClosed, Code: code, Reason: reason})
		return
	}
	c.bus.State.Publish(allConversations, StateEvent{
		Kind: LifecycleClosed, OldState: c.state, NewState: c.state,
		Attempt: c.attempt, Code: code, Reason: reason,
	})
	c.failed(WrapError(ErrorConnection, fmt.Sprintf("channel closed abnormally (%d)", code), err))
}

// failed records an abnormal close or failed dial and schedules a reconnect,
// or gives up once the attempts are spent.
func (c *Connection) failed(err error) {
	c.lastErr = err
	c.bus.Errors.Publish(allConversations, err)

	if c.attempt >= c.maxAttempts {
		terminal := WrapError(ErrorDisconnected, fmt.Sprintf("gave up after %d reconnect attempts", c.attempt), err)
		c.lastErr = terminal
		c.logger.Error("reconnect attempts exhausted", map[string]any{"attempts": c.attempt, "error": err.Error()})
		c.setState(StateTerminalFailure, StateEvent{Kind: LifecycleError, Error: terminal})
		return
	}

	delay := c.backoff.NextBackOff()
	c.attempt++
	c.metrics.reconnectScheduled()
	c.logger.Info("scheduling reconnect", map[string]any{"attempt": c.attempt, "delay": delay.String()})
	c.setState(StateRetrying, StateEvent{Kind: LifecycleError, Delay: delay, Error: err})
	c.retry = c.sched.AfterFunc(delay, func() {
		c.retry = nil
		c.dial()
	})
}

func (c *Connection) armHeartbeat() {
	if c.heartbeat <= 0 {
		return
	}
	c.ping = c.sched.AfterFunc(c.heartbeat, func() {
		c.ping = nil
		if c.state != StateOpen {
			return
		}
		_ = c.Send(OutboundPing{Type: framePing})
		c.armHeartbeat()
	})
}

// stopSession cancels the session goroutines and heartbeat.
func (c *Connection) stopSession() {
	if c.ping != nil {
		c.ping.Stop()
		c.ping = nil
	}
	if c.session != nil {
		c.session.cancel()
		c.session = nil
	}
}

// detach invalidates every pending callback, timer and dial and returns a
// function closing the open transport, if any.
func (c *Connection) detach() func(code int, reason string) error {
	c.epoch++
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	if c.ping != nil {
		c.ping.Stop()
		c.ping = nil
	}
	s := c.session
	c.session = nil
	if s == nil {
		return nil
	}
	return func(code int, reason string) error {
		err := s.transport.Close(code, reason)
		s.cancel()
		return err
	}
}

func (c *Connection) setState(next ConnectionState, ev StateEvent) {
	old := c.state
	c.state = next
	c.metrics.setState(next)
	ev.OldState = old
	ev.NewState = next
	ev.Attempt = c.attempt
	if old != next {
		c.logger.Info("connection state changed", map[string]any{
			"from":    old.String(),
			"to":      next.String(),
			"attempt": c.attempt,
		})
	}
	c.bus.State.Publish(allConversations, ev)
}
