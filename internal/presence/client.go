package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/genricoloni/synest-overlay/internal/domain"
	"github.com/genricoloni/synest-overlay/internal/music"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultReconnectDelay    = 5 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	eventBufferSize          = 10

	// helloTimeout bounds the wait for the first frame after dialing
	helloTimeout = 10 * time.Second
	// readWindowFactor times the heartbeat interval is how long the socket
	// may stay silent, pongs included, before it is considered dead
	readWindowFactor = 2
	pingWriteWait    = 10 * time.Second
)

// ErrUnexpectedHello is returned when the relay does not greet with a hello frame
var ErrUnexpectedHello = errors.New("expected hello frame")

// Client subscribes to one user's presence on the relay socket
type Client struct {
	logger          *zap.Logger
	dialer          Dialer
	url             string
	userID          string
	reconnectDelay  time.Duration
	events          chan domain.Snapshot
	mu              sync.Mutex
	writeMu         sync.Mutex
	running         bool
	cancel          context.CancelFunc
	lastDropWarning time.Time      // Rate limiting for "channel full" warnings
	wg              sync.WaitGroup // Tracks the subscription loop
}

// NewClient creates a relay client for the configured user
func NewClient(logger *zap.Logger, cfg domain.Config, dialer Dialer) *Client {
	return &Client{
		logger:         logger,
		dialer:         dialer,
		url:            cfg.GetSocketURL(),
		userID:         cfg.GetUserID(),
		reconnectDelay: defaultReconnectDelay,
		events:         make(chan domain.Snapshot, eventBufferSize),
	}
}

// Start subscribes and keeps the subscription alive, reconnecting after
// failures. It blocks until the context is cancelled or Stop is called.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	c.logger.Info("Presence client started",
		zap.String("url", c.url),
		zap.String("user", c.userID))

	for {
		err := c.session(subCtx)
		if subCtx.Err() != nil {
			c.logger.Info("Presence client stopped")
			return subCtx.Err()
		}

		c.logger.Warn("Presence session ended, reconnecting",
			zap.Error(err),
			zap.Duration("delay", c.reconnectDelay))

		select {
		case <-subCtx.Done():
			c.logger.Info("Presence client stopped")
			return subCtx.Err()
		case <-time.After(c.reconnectDelay):
		}
	}
}

// Stop cancels the subscription and closes the events channel
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()

	if !c.running {
		c.mu.Unlock()
		return nil
	}

	if c.cancel != nil {
		c.cancel()
	}

	c.running = false
	c.mu.Unlock()

	// Wait for the loop to return before closing channel
	c.logger.Debug("Waiting for presence loop to finish")
	c.wg.Wait()

	close(c.events)

	c.logger.Info("Presence client shutdown complete")
	return nil
}

// Events returns a read-only channel of decoded snapshots
func (c *Client) Events() <-chan domain.Snapshot {
	return c.events
}

// session runs one connection: hello, initialize, then events until a read
// fails. A failed heartbeat or a silent socket also ends it.
func (c *Client) session(ctx context.Context) error {
	conn, err := c.dialer.Dial(ctx, c.url)
	if err != nil {
		return err
	}

	sessCtx, drop := context.WithCancel(ctx)
	defer drop()

	// Closing the socket is what unblocks the pending read
	stop := context.AfterFunc(sessCtx, func() {
		_ = conn.Close()
	})
	defer func() {
		if stop() {
			_ = conn.Close()
		}
	}()

	interval, err := c.handshake(conn)
	if err != nil {
		return err
	}

	window := readWindowFactor * interval
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(window))
	})

	hbCtx, hbCancel := context.WithCancel(sessCtx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go func() {
		defer hbWG.Done()
		if err := c.heartbeat(hbCtx, conn, interval); err != nil {
			c.logger.Warn("Heartbeat failed, dropping connection", zap.Error(err))
			drop()
		}
	}()
	defer func() {
		hbCancel()
		hbWG.Wait()
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(window)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}

		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.handleMessage(msg)
	}
}

// handshake reads the hello frame and subscribes to the configured user
func (c *Client) handshake(conn Conn) (time.Duration, error) {
	if err := conn.SetReadDeadline(time.Now().Add(helloTimeout)); err != nil {
		return 0, fmt.Errorf("set read deadline: %w", err)
	}

	var msg message
	if err := conn.ReadJSON(&msg); err != nil {
		return 0, fmt.Errorf("read hello: %w", err)
	}
	if msg.Op != opHello {
		return 0, fmt.Errorf("%w: got op %d", ErrUnexpectedHello, msg.Op)
	}

	interval := defaultHeartbeatInterval
	var h hello
	if err := json.Unmarshal(msg.Data, &h); err == nil && h.HeartbeatInterval > 0 {
		interval = time.Duration(h.HeartbeatInterval) * time.Millisecond
	} else {
		c.logger.Debug("Hello without heartbeat interval, using default",
			zap.Duration("interval", interval))
	}

	if err := c.write(conn, outgoing{Op: opInitialize, Data: initialize{SubscribeToID: c.userID}}); err != nil {
		return 0, fmt.Errorf("send initialize: %w", err)
	}

	c.logger.Info("Subscribed to presence",
		zap.String("user", c.userID),
		zap.Duration("heartbeat", interval))
	return interval, nil
}

// heartbeat sends the relay heartbeat and a websocket ping every interval.
// It returns nil when ctx is done and the first write error otherwise.
func (c *Client) heartbeat(ctx context.Context, conn Conn, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.write(conn, outgoing{Op: opHeartbeat}); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingWriteWait)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (c *Client) write(conn Conn, v outgoing) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// handleMessage decodes presence events and emits them
func (c *Client) handleMessage(msg message) {
	if msg.Op != opEvent {
		return
	}
	if msg.Type != eventInitState && msg.Type != eventPresenceUpdate {
		c.logger.Debug("Ignoring relay event", zap.String("type", msg.Type))
		return
	}

	snap := music.Decode(msg.Data)
	c.logger.Debug("Presence received",
		zap.String("type", msg.Type),
		zap.Int("seq", msg.Seq),
		zap.Stringer("kind", snap.Kind))

	c.emit(snap)
}

// emit never blocks the read loop. When the consumer falls behind the
// oldest pending snapshot is dropped, since only the latest one matters.
func (c *Client) emit(snap domain.Snapshot) {
	select {
	case c.events <- snap:
		return
	default:
	}

	select {
	case <-c.events:
	default:
	}
	c.logChannelFullWarning()

	select {
	case c.events <- snap:
	default:
	}
}

// logChannelFullWarning logs a warning about channel being full, but rate-limited
func (c *Client) logChannelFullWarning() {
	c.mu.Lock()
	defer c.mu.Unlock()

	const warningInterval = 5 * time.Second
	now := time.Now()

	if now.Sub(c.lastDropWarning) >= warningInterval {
		c.logger.Warn("Events channel full, dropping oldest snapshot")
		c.lastDropWarning = now
	}
}
