/*
Package chat contains the chat relay: a process-wide registry of connected identities
and the per-connection client that bridges one WebSocket to it.

This file defines the Client struct, representing an active chat WebSocket connection. It manages the
connection lifecycle and the two pumps (ReadPump and WritePump) that run for as long as the socket lives.
*/
package chat

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"nook/internal/app/events"
	"nook/internal/app/user"
	"nook/internal/pkg/logx"
	"nook/internal/pkg/metrics"
	"nook/internal/pkg/randx"
	"nook/internal/pkg/wsx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// default frequency at which the server sends a Ping message.
	defaultPingPeriod = 54 * time.Second

	// default capacity of a client's outbound queue.
	defaultBuffer = 256

	// default maximum size (in bytes) of a message sent by the client. Encrypted payloads
	// with per-recipient keys run several times larger than the text they carry.
	defaultMaxFrame = 1 << 20
)

// Options tunes a Client. Zero values select the defaults.
type Options struct {
	// Buffer is the capacity of the outbound queue.
	Buffer int

	// PingPeriod is the heartbeat interval. The client must answer with a pong
	// within PingPeriod*10/9 or the connection is dropped.
	PingPeriod time.Duration

	// MaxFrame is the largest inbound message relayed. Larger messages are discarded and
	// the connection stays open.
	MaxFrame int64

	// Events receives connect and disconnect notifications.
	Events events.Publisher

	// Now returns the time used for message timestamps.
	Now func() time.Time
}

// Client struct represents an active WebSocket connection and its authenticated identity.
type Client struct {
	// the registry the client is attached to.
	registry *Registry

	// underlying WebSocket connection object.
	conn *websocket.Conn

	// identity is fixed for the lifetime of the connection.
	identity user.Identity

	// connID distinguishes two connections of the same identity in logs and events.
	connID string

	// a buffered channel used to queue messages waiting to be sent to the client.
	// Only the registry closes it, under its write lock.
	send chan []byte

	// closeCode and closeReason are written before send is closed and read by the
	// writer after it observes the close.
	closeCode   int
	closeReason string

	pingPeriod time.Duration
	pongWait   time.Duration
	maxFrame   int64
	events     events.Publisher
	now        func() time.Time

	// structured logger with client context.
	logger zerolog.Logger
}

// NewClient constructs and returns a new Client instance.
func NewClient(registry *Registry, wsConn *websocket.Conn, identity user.Identity, opts Options) *Client {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = defaultPingPeriod
	}
	if opts.MaxFrame <= 0 {
		opts.MaxFrame = defaultMaxFrame
	}
	if opts.Events == nil {
		opts.Events = events.Noop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	connID := randx.ConnectionID()

	return &Client{
		registry:   registry,
		conn:       wsConn,
		identity:   identity,
		connID:     connID,
		send:       make(chan []byte, opts.Buffer),
		pingPeriod: opts.PingPeriod,
		pongWait:   opts.PingPeriod * 10 / 9,
		maxFrame:   opts.MaxFrame,
		events:     opts.Events,
		now:        opts.Now,
		logger:     logx.ForConnection(metrics.KindChat, identity.ID, connID),
	}
}

// Run registers the client and pumps messages until the socket closes, either pump fails,
// ctx is cancelled or the registry shuts down. The connection is always closed on return.
func (c *Client) Run(ctx context.Context) error {
	if err := c.registry.Register(c); err != nil {
		_ = c.conn.Close()
		return err
	}
	defer c.registry.running.Done()

	metrics.IncWSActive(metrics.KindChat)
	metrics.IncWSEvent(metrics.KindChat, events.TypeConnect)
	events.Emit(c.events, c.event(events.TypeConnect))

	defer func() {
		metrics.DecWSActive(metrics.KindChat)
		metrics.IncWSEvent(metrics.KindChat, events.TypeDisconnect)
		events.Emit(c.events, c.event(events.TypeDisconnect))
		c.logger.Info().Msg("Chat connection closed.")
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(c.registry.ctx, cancel)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return c.ReadPump()
	})

	g.Go(func() error {
		defer cancel()
		return c.WritePump(gctx)
	})

	return g.Wait()
}

func (c *Client) event(typ string) events.Event {
	return events.Event{
		Type:         typ,
		Kind:         metrics.KindChat,
		IdentityID:   c.identity.ID,
		ConnectionID: c.connID,
	}
}

// ReadPump handles reading frames from the WebSocket connection and broadcasting them.
// It handles heartbeats (Pong) and unregisters the client when the socket closes.
func (c *Client) ReadPump() error {
	defer c.registry.Unregister(c)

	if err := c.conn.SetReadDeadline(time.Now().Add(c.pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return nil
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		messageType, messageBytes, oversized, err := wsx.ReadBounded(c.conn, c.maxFrame)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			return nil
		}

		if oversized {
			metrics.IncFrameDiscarded(metrics.KindChat)
			c.logger.Warn().Int64("max_frame", c.maxFrame).Msg("Discarding oversized chat message")
			continue
		}

		c.processInboundMessage(messageType, messageBytes)
	}
}

// processInboundMessage turns one text frame into a broadcast. Anything that is not valid text is discarded.
func (c *Client) processInboundMessage(messageType int, messageBytes []byte) {
	if messageType != websocket.TextMessage || !utf8.Valid(messageBytes) {
		metrics.IncFrameDiscarded(metrics.KindChat)
		c.logger.Debug().Int("message_type", messageType).Msg("Discarding non-text frame")
		return
	}

	payload, err := NewMessage(c.identity, string(messageBytes), c.now()).Encode()
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to encode chat message for broadcast")
		return
	}

	delivered := c.registry.Broadcast(payload, c.identity.ID)
	c.logger.Debug().Int("recipients", delivered).Msg("Chat message relayed.")
}

// WritePump handles writing messages from the Client.send channel to the WebSocket connection.
// A write failure is returned and ends the connection.
func (c *Client) WritePump(ctx context.Context) error {
	ticker := time.NewTicker(c.pingPeriod)

	defer func() {
		ticker.Stop()

		// ensure the connection is closed on exit
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			c.writeClose(websocket.CloseGoingAway, "")
			return nil

		case message, ok := <-c.send:
			if !ok {
				code := c.closeCode
				if code == 0 {
					code = websocket.CloseNormalClosure
				}
				c.writeClose(code, c.closeReason)
				return nil
			}

			if err := c.writeMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error().Err(err).Msg("Error writing message")
				return err
			}

		case <-ticker.C:
			if err := c.writeMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error().Err(err).Msg("Error writing ping")
				return err
			}
		}
	}
}

func (c *Client) writeMessage(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// writeClose sends a close frame. Failures are expected when the peer is already gone.
func (c *Client) writeClose(code int, reason string) {
	closeMessage := websocket.FormatCloseMessage(code, reason)

	if err := c.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(writeWait)); err != nil {
		c.logger.Debug().Err(err).Int("close_code", code).Msg("Failed to send close frame")
	}
}

// closeWith records the close frame the writer should send and closes the outbound queue.
// The registry calls it exactly once per client while holding its write lock.
func (c *Client) closeWith(code int, reason string) {
	if code != 0 {
		c.logger.Warn().
			Int("close_code", code).
			Str("reason", reason).
			Msg("Closing connection with custom close code.")
	}

	c.closeCode = code
	c.closeReason = reason
	close(c.send)
}
