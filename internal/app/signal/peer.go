package signal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

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

	// default maximum size (in bytes) of a frame sent by the client. SDP blobs can be large.
	defaultMaxFrame = 256 * 1024
)

// PeerOptions tunes a Peer. Zero values select the defaults.
type PeerOptions struct {
	// PingPeriod is the heartbeat interval. The client must answer with a pong
	// within PingPeriod*10/9 or the connection is dropped.
	PingPeriod time.Duration

	// MaxFrame is the largest inbound signal relayed. Larger frames are discarded and the
	// connection stays open.
	MaxFrame int64

	// Events receives join and leave notifications.
	Events events.Publisher
}

// Peer bridges one signaling WebSocket to one conversation channel.
//
// Every Peer publishes exactly one join when it attaches and exactly one leave when it
// detaches, whichever way the connection ends.
type Peer struct {
	hub            *Hub
	conn           *websocket.Conn
	identity       user.Identity
	conversationID string
	connID         string

	pingPeriod time.Duration
	pongWait   time.Duration
	maxFrame   int64
	events     events.Publisher

	leaveOnce sync.Once

	logger zerolog.Logger
}

// NewPeer constructs a Peer for identity on conversationID.
func NewPeer(hub *Hub, wsConn *websocket.Conn, identity user.Identity, conversationID string, opts PeerOptions) *Peer {
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = defaultPingPeriod
	}
	if opts.MaxFrame <= 0 {
		opts.MaxFrame = defaultMaxFrame
	}
	if opts.Events == nil {
		opts.Events = events.Noop{}
	}

	connID := randx.ConnectionID()

	return &Peer{
		hub:            hub,
		conn:           wsConn,
		identity:       identity,
		conversationID: conversationID,
		connID:         connID,
		pingPeriod:     opts.PingPeriod,
		pongWait:       opts.PingPeriod * 10 / 9,
		maxFrame:       opts.MaxFrame,
		events:         opts.Events,
		logger: logx.ForConnection(metrics.KindSignal, identity.ID, connID).With().
			Str("conversation_id", conversationID).
			Logger(),
	}
}

// Run attaches the peer to its conversation and relays signals until the socket closes,
// either task fails, ctx is cancelled or the hub shuts down. The connection is always
// closed on return.
func (p *Peer) Run(ctx context.Context) error {
	ch, sub, err := p.hub.Join(p.conversationID)
	if err != nil {
		_ = p.conn.Close()
		return err
	}
	defer sub.Close()

	metrics.IncWSActive(metrics.KindSignal)
	defer metrics.DecWSActive(metrics.KindSignal)

	join := p.lifecycleSignal(Join{})
	ch.Publish(join)
	p.recordLifecycle(events.TypeJoin)

	// Registered after sub.Close so that it runs first: the leave must reach the
	// channel while this peer is still subscribed to it.
	defer p.publishLeave(ch)

	// The newcomer learns it is attached from its own join.
	if err := p.writeSignal(join); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to acknowledge join")
		_ = p.conn.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(p.hub.ctx, cancel)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return p.receive(ch)
	})

	g.Go(func() error {
		defer cancel()
		return p.send(gctx, sub)
	})

	return g.Wait()
}

func (p *Peer) lifecycleSignal(payload Payload) Signal {
	return Signal{
		ConversationID: p.conversationID,
		From:           p.identity.ID,
		Payload:        payload,
	}
}

func (p *Peer) recordLifecycle(typ string) {
	metrics.IncWSEvent(metrics.KindSignal, typ)
	events.Emit(p.events, events.Event{
		Type:           typ,
		Kind:           metrics.KindSignal,
		IdentityID:     p.identity.ID,
		ConnectionID:   p.connID,
		ConversationID: p.conversationID,
	})
	p.logger.Info().Str("event", typ).Msg("Signal peer lifecycle event.")
}

// publishLeave announces the departure. Only the first call has an effect.
func (p *Peer) publishLeave(ch *Channel) {
	p.leaveOnce.Do(func() {
		ch.Publish(p.lifecycleSignal(Leave{}))
		p.recordLifecycle(events.TypeLeave)
	})
}

// receive reads client frames, stamps them with the authenticated sender and the bound
// conversation, and publishes them. It returns when the socket closes.
func (p *Peer) receive(ch *Channel) error {
	if err := p.conn.SetReadDeadline(time.Now().Add(p.pongWait)); err != nil {
		p.logger.Error().Err(err).Msg("Failed to set read deadline")
		return nil
	}

	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(p.pongWait))
	})

	for {
		messageType, data, oversized, err := wsx.ReadBounded(p.conn, p.maxFrame)
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				p.publishLeave(ch)
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.logger.Info().Err(err).Msg("Error reading signal (Client close/going away)")
			}
			return nil
		}

		if oversized || messageType != websocket.TextMessage {
			metrics.IncFrameDiscarded(metrics.KindSignal)
			continue
		}

		sig, err := Decode(data)
		if err != nil {
			metrics.IncFrameDiscarded(metrics.KindSignal)
			p.logger.Debug().Err(err).Msg("Discarding undecodable signal")
			continue
		}

		if sig.lifecycle() {
			metrics.IncFrameDiscarded(metrics.KindSignal)
			p.logger.Debug().Str("signal_type", string(sig.Type())).Msg("Discarding client lifecycle signal")
			continue
		}

		sig.From = p.identity.ID
		sig.ConversationID = p.conversationID

		ch.Publish(sig)
		metrics.IncSignalRelayed(string(sig.Type()))
	}
}

// send writes every signal from other participants of the bound conversation to the socket.
// A write failure is returned and ends the connection.
func (p *Peer) send(ctx context.Context, sub *Subscription) error {
	ticker := time.NewTicker(p.pingPeriod)

	defer func() {
		ticker.Stop()

		if err := p.conn.Close(); err != nil {
			p.logger.Debug().Err(err).Msg("Peer connection close error")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			p.writeClose(websocket.CloseGoingAway)
			return nil

		case sig, ok := <-sub.Signals():
			if !ok {
				p.writeClose(websocket.CloseNormalClosure)
				return nil
			}

			if sig.From == p.identity.ID || sig.ConversationID != p.conversationID {
				continue
			}

			if err := p.writeSignal(sig); err != nil {
				p.logger.Error().Err(err).Msg("Error writing signal")
				return err
			}

		case <-ticker.C:
			if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return err
			}
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.logger.Error().Err(err).Msg("Error writing ping")
				return err
			}
		}
	}
}

func (p *Peer) writeSignal(sig Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return err
	}

	if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *Peer) writeClose(code int) {
	closeMessage := websocket.FormatCloseMessage(code, "")

	if err := p.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(writeWait)); err != nil {
		p.logger.Debug().Err(err).Int("close_code", code).Msg("Failed to send close frame")
	}
}
