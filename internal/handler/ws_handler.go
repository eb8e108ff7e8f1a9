/*
Package handler provides the HTTP handlers for the relay endpoints.

This file contains the WebSocket handlers. Both apply the same gate before upgrading: rate limit,
then session validation. A request that fails the gate is answered with a plain JSON error and
never reaches the registry or the hub.
*/
package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nook/internal/app/chat"
	"nook/internal/app/signal"
	"nook/internal/app/user"
	"nook/internal/pkg/auth"
	"nook/internal/pkg/errs"
	"nook/internal/pkg/limiter"
	"nook/internal/pkg/logx"
	"nook/internal/pkg/resp"
	"nook/internal/pkg/telemetry"
)

// HandleChatSocket creates an HTTP HandlerFunc that upgrades authenticated requests to the chat relay.
func HandleChatSocket(deps *AppDeps, upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := telemetry.Tracer().Start(r.Context(), "ws.handshake",
			trace.WithAttributes(attribute.String("ws.kind", "chat")))

		identity, ok := gate(w, r.WithContext(ctx), deps, rateLimiter, span)
		if !ok {
			span.End()
			return
		}

		identity.DisplayName = displayName(ctx, deps.Accounts, identity)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket", "identity_id", identity.ID)
			span.RecordError(err)
			span.SetStatus(codes.Error, "upgrade failed")
			span.End()
			return
		}
		span.End()

		logx.Info("Chat WebSocket connection established", "identity_id", identity.ID)

		client := chat.NewClient(deps.Chat, conn, identity, chat.Options{
			Buffer:     deps.Config.ChatBuffer,
			PingPeriod: deps.Config.WSPingPeriod,
			MaxFrame:   deps.Config.ChatMaxFrame,
			Events:     deps.Events,
		})

		if err := client.Run(context.WithoutCancel(r.Context())); err != nil {
			logx.Warn("Chat connection ended with error", "identity_id", identity.ID, "error", err.Error())
		}
	}
}

// HandleCallSocket creates an HTTP HandlerFunc that upgrades authenticated requests to the
// signaling relay of the conversation named by the "conv" query parameter.
func HandleCallSocket(deps *AppDeps, upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := telemetry.Tracer().Start(r.Context(), "ws.handshake",
			trace.WithAttributes(attribute.String("ws.kind", "signal")))

		identity, ok := gate(w, r.WithContext(ctx), deps, rateLimiter, span)
		if !ok {
			span.End()
			return
		}

		conversationID := r.URL.Query().Get("conv")
		if conversationID == "" {
			logx.Warn("Call WebSocket request rejected: Missing conversation", "identity_id", identity.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrMissingConversation))
			span.SetStatus(codes.Error, "missing conversation")
			span.End()
			return
		}
		span.SetAttributes(attribute.String("conversation.id", conversationID))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket", "identity_id", identity.ID)
			span.RecordError(err)
			span.SetStatus(codes.Error, "upgrade failed")
			span.End()
			return
		}
		span.End()

		logx.Info("Call WebSocket connection established", "identity_id", identity.ID, "conversation_id", conversationID)

		peer := signal.NewPeer(deps.Signals, conn, identity, conversationID, signal.PeerOptions{
			PingPeriod: deps.Config.WSPingPeriod,
			MaxFrame:   deps.Config.SignalMaxFrame,
			Events:     deps.Events,
		})

		if err := peer.Run(context.WithoutCancel(r.Context())); err != nil {
			logx.Warn("Call connection ended with error", "identity_id", identity.ID, "error", err.Error())
		}
	}
}

// gate applies the rate limit and validates the session. On failure it has already written the response.
func gate(w http.ResponseWriter, r *http.Request, deps *AppDeps, rateLimiter *limiter.IPRateLimiter, span trace.Span) (user.Identity, bool) {
	if !rateLimiter.Allow(r) {
		logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", limiter.ClientIP(r))
		resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
		span.SetStatus(codes.Error, "rate limited")
		return user.Identity{}, false
	}

	identity, customErr := auth.Authenticate(r, deps.Sessions)
	if customErr != nil {
		logx.Info("WebSocket connection rejected: Unauthenticated.", "path", r.URL.Path, "code", customErr.Code)
		resp.RespondError(w, r, customErr)
		span.SetStatus(codes.Error, "unauthenticated")
		return user.Identity{}, false
	}

	span.SetAttributes(attribute.String("identity.id", identity.ID))
	return identity, true
}

// displayName asks the account directory for the current name, keeping the session's name on failure.
func displayName(ctx context.Context, dir NameDirectory, identity user.Identity) string {
	if dir == nil {
		return identity.DisplayName
	}

	name, err := dir.DisplayName(ctx, identity.ID)
	if err != nil || name == "" {
		if err != nil {
			logx.Warn("Display name lookup failed, using session name", "identity_id", identity.ID, "error", err.Error())
		}
		return identity.DisplayName
	}

	return name
}
