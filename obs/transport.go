package obs

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// errTransportClosed is the close reason reported when the local side closed
// the socket (explicit disconnect or forced reconnect).
var errTransportClosed = errors.New("obs: transport closed")

// TransportHandler receives transport lifecycle notifications and inbound
// frames. Exactly one HandleClose is delivered per Open, after which the
// transport is dead. No frame is delivered before HandleOpen.
type TransportHandler interface {
	HandleOpen()
	HandleFrame(data []byte)
	HandleClose(err error)
}

// Transport owns a single socket connection attempt.
//
// Open never fails synchronously for network errors; failures surface as a
// HandleClose callback. Send reports whether the frame was handed to the
// socket; false means the socket is not open and the caller must not assume
// delivery. Close is idempotent.
type Transport interface {
	Open(url string)
	Send(data []byte) bool
	Close()
}

// TransportFactory builds a fresh Transport for one connection attempt.
// Injected in tests; defaults to the websocket implementation.
type TransportFactory func(h TransportHandler) Transport

const dialTimeout = 10 * time.Second

// wsTransport is the gorilla/websocket Transport.
type wsTransport struct {
	h TransportHandler

	mu           sync.Mutex
	conn         *websocket.Conn
	open         bool
	closed       bool
	closeEmitted bool
}

func newWSTransport(h TransportHandler) Transport {
	return &wsTransport{h: h}
}

func (t *wsTransport) Open(url string) {
	go t.run(url)
}

func (t *wsTransport) run(url string) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, resp, err := dialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.emitClose(err)
		return
	}

	t.mu.Lock()
	if t.closed {
		// Close raced the dial; drop the socket without reporting open.
		t.mu.Unlock()
		_ = conn.Close()
		t.emitClose(errTransportClosed)
		return
	}
	t.conn = conn
	t.open = true
	t.mu.Unlock()

	t.h.HandleOpen()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			wasClosed := t.closed
			t.open = false
			t.mu.Unlock()
			_ = conn.Close()
			if wasClosed {
				err = errTransportClosed
			}
			t.emitClose(err)
			return
		}
		t.h.HandleFrame(data)
	}
}

func (t *wsTransport) Send(data []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open || t.closed || t.conn == nil {
		return false
	}
	// Writes are serialized under the mutex; gorilla forbids concurrent
	// writers.
	return t.conn.WriteMessage(websocket.TextMessage, data) == nil
}

func (t *wsTransport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (t *wsTransport) emitClose(err error) {
	t.mu.Lock()
	if t.closeEmitted {
		t.mu.Unlock()
		return
	}
	t.closeEmitted = true
	t.mu.Unlock()
	t.h.HandleClose(err)
}
