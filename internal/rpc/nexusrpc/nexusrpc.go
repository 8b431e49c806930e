// Package nexusrpc exposes the manager's request/reply channel as a single
// Nexus operation, for clients that speak the Nexus RPC protocol instead of
// dialing the dispatcher's own framing directly. It is an additional front
// end, not a replacement: internal/rpc.Dispatcher remains the one place
// method routing and serialization live. This wiring is written from the
// published github.com/nexus-rpc/sdk-go SDK's documented shape; see
// DESIGN.md for that caveat.
package nexusrpc

import (
	"context"
	"net/http"

	"github.com/nexus-rpc/sdk-go/nexus"

	"github.com/bluesky-project/qserver/internal/rpc"
)

// ServiceName is the Nexus service name the manager registers its single
// "invoke" operation under.
const ServiceName = "qserver"

// OperationName is the Nexus operation name that carries every RPC method,
// keyed by Request.Method, onto one synchronous Nexus call.
const OperationName = "invoke"

// NewHandler builds an http.Handler that exposes dispatcher as a Nexus
// service. dispatch is called synchronously for every Nexus start-operation
// request; it never returns a reply for manager_kill/manager_stop the same
// way the native transport does not, represented here as a zero Envelope
// (success false, empty msg) since Nexus's synchronous operation contract
// has no concept of "no reply".
func NewHandler(dispatcher *rpc.Dispatcher) (http.Handler, error) {
	op := nexus.NewSyncOperation(OperationName, func(ctx context.Context, req rpc.Request, opts nexus.StartOperationOptions) (rpc.Envelope, error) {
		env, _ := dispatcher.Handle(ctx, req)
		return env, nil
	})

	service := nexus.NewService(ServiceName)
	if err := service.Register(op); err != nil {
		return nil, err
	}

	handler, err := nexus.NewHTTPHandler(nexus.HandlerOptions{
		Service: service,
	})
	if err != nil {
		return nil, err
	}
	return handler, nil
}
