// Package obs implements a client for the obs-websocket v5 control
// protocol: a single persistent websocket session with the authenticated
// Hello/Identify/Identified handshake, request/response multiplexing by
// correlation id, reconnect-with-backoff on unexpected close, and a
// periodic keepalive probe that detects silent connection death.
//
// Only the protocol subset this service needs is implemented:
// identification, single-shot requests, and keepalive. Server events are
// logged and otherwise ignored; request batches are never issued.
//
// All protocol state lives on one event-loop goroutine. Public methods are
// safe for concurrent use; they schedule work onto the loop and block only
// on their own result. Requests resolve exactly once, with the response,
// a timeout, or a connection-lost error, whichever comes first.
package obs
