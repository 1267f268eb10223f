// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/averden/gatehouse/internal/access"
)

// socketIdleTimeout closes connections that go silent.
const socketIdleTimeout = 5 * time.Minute

// SocketBuilder assembles the access context for an upgrade request,
// including the query-parameter credential fallback.
type SocketBuilder interface {
	FromSocketRequest(request *http.Request) (*access.Context, error)
}

// Gateway upgrades WebSocket connections and answers identity and
// authorization probes over them.
//
// The credential handshake happens before the upgrade: an invalid credential
// is rejected with plain HTTP 401 so clients get a real status code instead
// of an opaque failed upgrade. Anonymous connections are refused.
type Gateway struct {
	builder SocketBuilder
	origins []string
	log     *slog.Logger
}

// NewGateway creates the WebSocket gateway. origins lists the allowed
// Origin patterns; empty means same-origin only.
func NewGateway(builder SocketBuilder, origins []string, log *slog.Logger) *Gateway {
	return &Gateway{builder: builder, origins: origins, log: log}
}

// socketRequest is one client command frame.
type socketRequest struct {
	// Op is "ping", "whoami", or "can".
	Op       string `json:"op"`
	Resource string `json:"resource,omitempty"`
	Action   string `json:"action,omitempty"`
}

// socketResponse is one server frame.
type socketResponse struct {
	Op      string          `json:"op"`
	Allowed *bool           `json:"allowed,omitempty"`
	Access  *access.Context `json:"access,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ServeHTTP handles GET /ws.
func (gateway *Gateway) ServeHTTP(writer http.ResponseWriter, request *http.Request) {

	principal, err := gateway.builder.FromSocketRequest(request)
	if err != nil {
		http.Error(writer, "invalid credential", http.StatusUnauthorized)
		return
	}
	if !principal.Authenticated {
		http.Error(writer, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(writer, request, &websocket.AcceptOptions{
		OriginPatterns: gateway.origins,
	})
	if err != nil {
		gateway.log.Warn("socket_accept_failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "connection closed")

	gateway.log.Info("socket_connected",
		"user_id", principal.UserID,
		"auth_method", string(principal.AuthMethod),
	)

	gateway.serve(request.Context(), conn, principal)
}

// serve runs the command loop until the client disconnects or idles out.
func (gateway *Gateway) serve(ctx context.Context, conn *websocket.Conn, principal *access.Context) {

	for {
		readCtx, cancel := context.WithTimeout(ctx, socketIdleTimeout)

		var frame socketRequest
		err := wsjson.Read(readCtx, conn, &frame)
		cancel()
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == -1 {
				conn.Close(websocket.StatusPolicyViolation, "read failed or timed out")
			}
			return
		}

		response := gateway.handle(frame, principal)
		writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = wsjson.Write(writeCtx, conn, response)
		cancel()
		if err != nil {
			return
		}
	}
}

// handle answers one frame. Authorization answers use the connection's
// access context, so they reflect the credential presented at upgrade time
// plus live checker verdicts.
func (gateway *Gateway) handle(frame socketRequest, principal *access.Context) socketResponse {
	switch frame.Op {
	case "ping":
		return socketResponse{Op: "pong"}

	case "whoami":
		return socketResponse{Op: "whoami", Access: principal}

	case "can":
		if frame.Resource == "" || frame.Action == "" {
			return socketResponse{Op: "can", Error: "resource and action are required"}
		}
		allowed := principal.Can(frame.Resource, frame.Action)
		return socketResponse{Op: "can", Allowed: &allowed}

	default:
		return socketResponse{Op: frame.Op, Error: "unknown op"}
	}
}
