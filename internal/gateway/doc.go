/*
Package gateway is the only conduit for messages crossing the boundary
between a sandboxed script context and the privileged host.

# Envelopes

Every message is a JSON object with a "type" of request, response or push.
Requests carry a "method"; everything else (id, params, result, error) is
opaque to the gateway and passed through byte for byte.

# Admission

An inbound message is forwarded to the privileged Dispatcher only when all
of the following hold, checked in this order:

 1. the claimed origin equals the trusted origin exactly
 2. the payload is UTF-8 text holding a JSON object
 3. the type is request (other types are ignored)
 4. the method starts with one of the Policy namespaces

Every failed check is logged and the message is dropped. Nothing is sent
back to the sandbox and nothing reaches the Dispatcher.

# Delivery

Replies travel the other way through HandleOutbound, which only lets
response and push envelopes reach the Sink. A sandbox is never the target
of a host-initiated request.

# Usage

	gw := gateway.New(gateway.Config{
		TrustedOrigin: gateway.Origin(cfg.Gateway.TrustedOrigin),
		Policy:        gateway.DefaultPolicy(),
	}, router, conn, logger.Named("gateway"))

	gw.HandleInbound(frame, gateway.Origin(r.Header.Get("Origin")))
*/
package gateway
