package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"chatterm/internal/bus"
	"chatterm/internal/chat"
	"chatterm/internal/status"
)

// Config configures the remote stream client.
type Config struct {
	BaseURL              string
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	AppendTimeout        time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.AppendTimeout == 0 {
		c.AppendTimeout = 10 * time.Second
	}
}

// Client subscribes to the server's snapshot stream over a WebSocket and
// writes composed messages back. It does not interpret snapshots; each one
// is published on the bus as "remote.snapshot" and the sync engine applies
// them in arrival order.
type Client struct {
	cfg     Config
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger

	mu               sync.Mutex
	conn             *websocket.Conn
	connected        bool
	intentionalClose bool
	cancelFn         context.CancelFunc

	recon *reconnector

	pendingMu sync.Mutex
	pending   map[string]chan chat.Message
}

// NewClient creates a remote stream client.
func NewClient(cfg Config, b *bus.Bus, m *status.Machine, logger *zap.Logger) *Client {
	cfg.defaults()
	return &Client{
		cfg:     cfg,
		bus:     b,
		machine: m,
		logger:  logger,
		recon:   newReconnector(cfg),
		pending: make(map[string]chan chat.Message),
	}
}

// SetToken installs the auth token, e.g. after an interactive login.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.cfg.Token = token
	c.mu.Unlock()
}

// Connect dials the server and starts the snapshot subscription. The first
// full snapshot arrives through the read loop shortly after.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.intentionalClose = false
	token := c.cfg.Token
	c.mu.Unlock()

	_ = c.machine.Transition(status.Connecting)

	wsURL := strings.Replace(c.cfg.BaseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws?token=" + token

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		_ = c.machine.Transition(status.Error)
		return &chat.TransientError{Op: "dial", Err: err}
	}
	conn.SetReadLimit(16 << 20) // inline image payloads

	// First frame must be the authenticated event.
	_, data, err := conn.Read(ctx)
	if err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		_ = c.machine.Transition(status.Error)
		return &chat.TransientError{Op: "read auth", Err: err}
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != EventAuthenticated {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		_ = c.machine.Transition(status.Error)
		return fmt.Errorf("expected %q event, got %q", EventAuthenticated, env.Type)
	}
	var auth AuthenticatedPayload
	_ = json.Unmarshal(env.Payload, &auth)

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.recon.markConnected()

	_ = c.machine.Transition(status.Syncing)
	c.bus.Publish(bus.Event{Kind: "remote.connected", Timestamp: time.Now(), Payload: auth})
	c.logger.Info("remote stream connected", zap.String("sender_label", auth.SenderLabel))

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.cancelFn = cancel
	c.mu.Unlock()

	go c.readLoop(connCtx, conn)

	return nil
}

// Close stops the subscription. Idempotent; no further snapshots are
// delivered after it returns.
func (c *Client) Close() error {
	c.mu.Lock()
	c.intentionalClose = true
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	c.failPending()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	return nil
}

// Append writes one composed message to the stream and waits for the
// server to assign id and createdAt. clientMsgID is the outbox entry's
// idempotency key: if an ack is lost and the entry is retried, the server
// answers with the originally assigned message instead of storing a
// duplicate. Times out with a TransientError.
func (c *Client) Append(ctx context.Context, clientMsgID string, m chat.Message) (chat.Message, error) {
	requestID := uuid.New().String()

	ack := make(chan chat.Message, 1)
	c.pendingMu.Lock()
	c.pending[requestID] = ack
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, requestID)
		c.pendingMu.Unlock()
	}()

	err := c.send(ctx, Envelope{
		Type:      CommandAppend,
		RequestID: requestID,
		Payload: mustMarshal(AppendPayload{
			ClientMsgID:  clientMsgID,
			SenderLabel:  m.SenderLabel,
			Kind:         m.Kind,
			Body:         m.Body,
			ImagePayload: m.ImagePayload,
		}),
	})
	if err != nil {
		return chat.Message{}, err
	}

	select {
	case assigned, ok := <-ack:
		if !ok {
			return chat.Message{}, &chat.TransientError{Op: "append", Err: fmt.Errorf("connection closed")}
		}
		return assigned, nil
	case <-time.After(c.cfg.AppendTimeout):
		return chat.Message{}, &chat.TransientError{Op: "append", Err: fmt.Errorf("no ack within %s", c.cfg.AppendTimeout)}
	case <-ctx.Done():
		return chat.Message{}, &chat.TransientError{Op: "append", Err: ctx.Err()}
	}
}

func (c *Client) send(ctx context.Context, env Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return &chat.TransientError{Op: "send", Err: fmt.Errorf("not connected")}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return &chat.TransientError{Op: "send", Err: err}
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			intentional := c.intentionalClose
			c.conn = nil
			c.connected = false
			c.mu.Unlock()

			c.failPending()

			if intentional || ctx.Err() != nil {
				return
			}

			c.logger.Warn("remote stream disconnected", zap.Error(err))
			_ = c.machine.Transition(status.Reconnecting)
			c.bus.Publish(bus.Event{Kind: "remote.disconnected", Timestamp: time.Now(), Payload: err.Error()})

			if c.cfg.AutoReconnect && c.recon.shouldReconnect() {
				c.scheduleReconnect(ctx)
			} else {
				_ = c.machine.Transition(status.Error)
			}
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env Envelope) {
	switch env.Type {
	case EventSnapshot:
		var snap SnapshotPayload
		if err := json.Unmarshal(env.Payload, &snap); err != nil {
			c.logger.Warn("undecodable snapshot event", zap.Error(err))
			return
		}
		if c.machine.Current() == status.Syncing {
			_ = c.machine.Transition(status.Ready)
		}
		c.bus.Publish(bus.Event{Kind: "remote.snapshot", Timestamp: time.Now(), Payload: snap})

	case EventAppendAck:
		var ack AppendAckPayload
		if err := json.Unmarshal(env.Payload, &ack); err != nil {
			return
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[ack.RequestID]
		if ok {
			delete(c.pending, ack.RequestID)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- ack.Message
		}

	case EventError:
		var p ErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		c.logger.Warn("server error event", zap.String("message", p.Message))
		c.bus.Publish(bus.Event{Kind: "remote.error", Timestamp: time.Now(), Payload: p})
	}
}

func (c *Client) scheduleReconnect(ctx context.Context) {
	delay := c.recon.nextDelay()
	c.logger.Info("reconnecting to remote stream",
		zap.Int("attempt", c.recon.attempt),
		zap.Duration("delay", delay))

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return
	}

	if err := c.Connect(ctx); err != nil {
		if c.cfg.AutoReconnect && c.recon.shouldReconnect() {
			c.scheduleReconnect(ctx)
			return
		}
		c.logger.Error("reconnect attempts exhausted", zap.Error(err))
		_ = c.machine.Transition(status.Error)
	}
}

// failPending closes all in-flight append waiters so callers see a
// transient failure instead of hanging until timeout.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	for k, ch := range c.pending {
		close(ch)
		delete(c.pending, k)
	}
	c.pendingMu.Unlock()
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// reconnector tracks exponential backoff with jitter between reconnect
// attempts. The attempt counter resets once a connection has held for a
// minute.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(cfg Config) *reconnector {
	return &reconnector{
		baseDelay:   cfg.ReconnectBaseDelay,
		maxDelay:    cfg.ReconnectMaxDelay,
		maxAttempts: cfg.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}
