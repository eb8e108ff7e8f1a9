/*
Package chat contains the chat relay: a process-wide registry of connected identities
and the per-connection client that bridges one WebSocket to it.

This file defines the Registry, which maps each identity to its single live connection
and fans messages out to every other entry.
*/
package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"nook/internal/pkg/logx"
	"nook/internal/pkg/metrics"
)

const (
	// WsCloseCodeSessionReplaced is a custom WebSocket Close Code (4000-4999 range)
	// sent to a connection that was replaced by a newer one for the same identity.
	WsCloseCodeSessionReplaced = 4001

	replacedReason = "Session replaced by new connection. Check other tabs."
)

// ErrRegistryClosed is returned by Register after Shutdown.
var ErrRegistryClosed = errors.New("chat: registry is shut down")

// Registry tracks the live chat connection of every identity.
type Registry struct {
	// clients maps identity id to its current connection.
	clients map[string]*Client

	// mu protects clients. Register and Unregister take it exclusively, Broadcast shares it.
	mu sync.RWMutex

	// closed is set by Shutdown; guarded by mu.
	closed bool

	// running counts clients between Register and the end of Run.
	running sync.WaitGroup

	// ctx is the parent of every client's Run context. Shutdown cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	// structured logger with Registry context.
	logger zerolog.Logger
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	ctx, cancel := context.WithCancel(context.Background())

	return &Registry{
		clients: make(map[string]*Client),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logx.Component("ChatRegistry"),
	}
}

// Register makes c the live connection for its identity. An existing connection for the
// same identity is replaced: it is removed, its queue is closed and its writer sends close
// code 4001 before hanging up.
func (r *Registry) Register(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}

	id := c.identity.ID

	if existing, ok := r.clients[id]; ok {
		r.logger.Warn().
			Str("identity_id", id).
			Str("old_conn_id", existing.connID).
			Str("new_conn_id", c.connID).
			Msg("Identity already connected. Closing old connection for replacement.")

		existing.closeWith(WsCloseCodeSessionReplaced, replacedReason)
		metrics.IncWSEvent(metrics.KindChat, "replaced")
	}

	r.clients[id] = c
	r.running.Add(1)

	r.logger.Info().
		Str("identity_id", id).
		Str("conn_id", c.connID).
		Int("total_clients", len(r.clients)).
		Msg("Client registered.")

	return nil
}

// Unregister removes c if it is still the live connection for its identity and closes its queue.
// It reports whether anything was removed; calls for stale or already removed clients are no-ops.
func (r *Registry) Unregister(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.clients[c.identity.ID]
	if !ok || current != c {
		r.logger.Debug().
			Str("identity_id", c.identity.ID).
			Str("conn_id", c.connID).
			Msg("Ignoring unregister for stale or unknown connection.")
		return false
	}

	delete(r.clients, c.identity.ID)
	c.closeWith(0, "")

	r.logger.Info().
		Str("identity_id", c.identity.ID).
		Str("conn_id", c.connID).
		Int("total_clients", len(r.clients)).
		Msg("Client unregistered.")

	return true
}

// Broadcast queues payload for every registered identity except exclude and returns how many
// queues accepted it. A full queue drops the payload for that recipient only.
func (r *Registry) Broadcast(payload []byte, exclude string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for id, c := range r.clients {
		if id == exclude {
			continue
		}

		select {
		case c.send <- payload:
			delivered++
		default:
			metrics.IncDeliveryDropped(metrics.KindChat)
			r.logger.Warn().
				Str("identity_id", id).
				Str("conn_id", c.connID).
				Msg("Client send queue full, dropping message.")
		}
	}

	return delivered
}

// Len returns the number of registered identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients)
}

// Connected reports whether id currently has a registered connection.
func (r *Registry) Connected(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.clients[id]
	return ok
}

// Shutdown rejects new registrations, cancels every running client and waits until they
// have all returned or ctx is done.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.logger.Info().Msg("Shutting down chat registry...")

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()

	done := make(chan struct{})
	go func() {
		r.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info().Msg("Chat registry shutdown complete.")
		return nil
	case <-ctx.Done():
		r.logger.Warn().Int("remaining", r.Len()).Msg("Chat registry shutdown timed out.")
		return ctx.Err()
	}
}
