package obs

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/onnwee/highlight-relay/telemetry"
)

// Connection lifecycle states. Transitions within one attempt are monotonic
// (Disconnected -> Connecting -> Connected -> Authenticating -> Ready) and
// any state falls back to Disconnected on error or close.
type connState int

const (
	StateDisconnected connState = iota
	StateConnecting
	StateConnected      // socket open, awaiting Hello
	StateAuthenticating // Identify sent, awaiting Identified
	StateReady
)

func (s connState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

const (
	rpcVersion = 1

	defaultRequestTimeout    = 10 * time.Second
	defaultKeepaliveInterval = 20 * time.Second
	defaultReconnectStep     = 2 * time.Second
	defaultReconnectCeiling  = 30 * time.Second

	// settingsReadTimeout bounds the settings lookup a reconnect attempt
	// performs before dialing.
	settingsReadTimeout = 5 * time.Second
)

// ConnectSettings are the credentials read from the settings surface at
// connect time. The password is held only for the duration of one
// connection attempt and is never logged.
type ConnectSettings struct {
	URL      string
	Password string
}

// HighlightSettings are read per highlight operation, not cached.
type HighlightSettings struct {
	Target   string
	Duration time.Duration
}

// SettingsSource supplies connection credentials and highlight parameters.
// Implementations are expected to reflect configuration changes immediately
// (the client re-reads on every connect attempt and every highlight).
type SettingsSource interface {
	ConnectSettings(ctx context.Context) (ConnectSettings, error)
	HighlightSettings(ctx context.Context) (HighlightSettings, error)
}

// Options configures a Client. Zero values select production defaults.
type Options struct {
	Settings SettingsSource

	// Transport overrides the websocket transport (tests).
	Transport TransportFactory
	// Clock overrides real timers (tests).
	Clock Clock

	RequestTimeout    time.Duration
	KeepaliveInterval time.Duration
	ReconnectStep     time.Duration
	ReconnectCeiling  time.Duration
}

type requestResult struct {
	data json.RawMessage
	err  error
}

// pendingRequest tracks one in-flight request in the multiplexer. It is
// resolved exactly once: by its response, its timeout, or connection
// teardown, whichever happens first.
type pendingRequest struct {
	id          string
	requestType string
	ch          chan requestResult // buffered, capacity 1
	timer       Timer
	created     time.Time
}

func (p *pendingRequest) resolve(data json.RawMessage, err error) {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.ch <- requestResult{data: data, err: err}
}

// Client is the OBS control client: a single persistent websocket session
// with authenticated handshake, correlation-id request multiplexing,
// reconnect-with-backoff and a periodic keepalive probe.
//
// All protocol state is owned by one event-loop goroutine; public methods
// hand work to the loop and never touch state directly, so no locking is
// needed around the connection, the pending map, or the reconnect policy.
type Client struct {
	settings SettingsSource
	factory  TransportFactory
	clock    Clock
	log      *slog.Logger

	requestTimeout    time.Duration
	keepaliveInterval time.Duration
	reconnectStep     time.Duration
	reconnectCeiling  time.Duration

	actions   chan func()
	done      chan struct{}
	closeOnce sync.Once

	notifier *statusNotifier

	// Loop-owned state below. Only the run goroutine reads or writes it.
	state             connState
	transport         Transport
	gen               uint64 // connection generation; stale transport events are dropped
	password          string
	authenticated     bool
	nextID            uint64
	pending           map[string]*pendingRequest
	reconnectEnabled  bool
	reconnectAttempts int
	reconnectTimer    Timer
	keepaliveTimer    Timer
	lastErr           string
}

// NewClient builds a client and starts its event loop. The client does not
// dial until Connect is called.
func NewClient(opts Options) *Client {
	c := &Client{
		settings:          opts.Settings,
		factory:           opts.Transport,
		clock:             opts.Clock,
		log:               slog.Default().With(slog.String("component", "obs")),
		requestTimeout:    opts.RequestTimeout,
		keepaliveInterval: opts.KeepaliveInterval,
		reconnectStep:     opts.ReconnectStep,
		reconnectCeiling:  opts.ReconnectCeiling,
		actions:           make(chan func(), 64),
		done:              make(chan struct{}),
		notifier:          newStatusNotifier(),
		pending:           make(map[string]*pendingRequest),
		nextID:            1,
	}
	if c.factory == nil {
		c.factory = newWSTransport
	}
	if c.clock == nil {
		c.clock = realClock{}
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = defaultRequestTimeout
	}
	if c.keepaliveInterval <= 0 {
		c.keepaliveInterval = defaultKeepaliveInterval
	}
	if c.reconnectStep <= 0 {
		c.reconnectStep = defaultReconnectStep
	}
	if c.reconnectCeiling <= 0 {
		c.reconnectCeiling = defaultReconnectCeiling
	}
	go c.run()
	return c
}

func (c *Client) run() {
	for {
		select {
		case fn := <-c.actions:
			fn()
		case <-c.done:
			return
		}
	}
}

// post hands fn to the event loop. Returns false if the client is closed.
func (c *Client) post(fn func()) bool {
	select {
	case c.actions <- fn:
		return true
	case <-c.done:
		return false
	}
}

// Connect reads connection settings and starts a connection attempt.
// Auto-reconnect is enabled until Disconnect or Close. The attempt itself
// proceeds asynchronously; progress is reported through the status surface.
func (c *Client) Connect(ctx context.Context) error {
	cs, err := c.settings.ConnectSettings(ctx)
	if err != nil {
		return err
	}
	if !c.post(func() {
		c.reconnectEnabled = true
		c.reconnectAttempts = 0
		c.startDial(cs)
	}) {
		return ErrClientClosed
	}
	return nil
}

// Disconnect tears the connection down, fails every pending request with
// ErrConnectionLost, and disables auto-reconnect. The keepalive timer and
// any scheduled reconnect are cancelled together so nothing re-dials later.
func (c *Client) Disconnect() {
	c.post(func() {
		c.reconnectEnabled = false
		c.stopKeepalive()
		c.stopReconnectTimer()
		c.failPending(ErrConnectionLost)
		c.dropTransport()
		if c.state != StateDisconnected {
			c.state = StateDisconnected
			c.authenticated = false
			c.lastErr = ""
			c.notify()
		}
	})
}

// Close disconnects and stops the event loop. The client is unusable
// afterwards.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.post(func() {
			c.reconnectEnabled = false
			c.stopKeepalive()
			c.stopReconnectTimer()
			c.failPending(ErrConnectionLost)
			c.dropTransport()
			close(c.done)
		})
	})
}

// Status returns the latest published status snapshot.
func (c *Client) Status() Status {
	return c.notifier.current()
}

// Subscribe registers a status observer. The returned cancel func releases
// the subscription. The current snapshot is delivered first.
func (c *Client) Subscribe() (<-chan Status, func()) {
	return c.notifier.subscribe()
}

// Request issues a single request and waits for its response, the request
// timeout, or connection teardown. The returned error is ErrNotConnected,
// ErrRequestTimeout, ErrConnectionLost, or a *RequestError carrying the
// server's rejection reason.
func (c *Client) Request(ctx context.Context, requestType string, data any) (json.RawMessage, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	ch := make(chan requestResult, 1)
	if !c.post(func() { c.issue(requestType, raw, ch) }) {
		return nil, ErrClientClosed
	}
	select {
	case res := <-ch:
		return res.data, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// --- everything below runs on the event loop ---

func (c *Client) notify() {
	c.notifier.publish(Status{
		Connected:     c.state == StateReady,
		Authenticated: c.authenticated,
		State:         c.state.String(),
		Error:         c.lastErr,
	})
}

// startDial begins a fresh connection attempt, tearing down any prior
// transport first so at most one socket is ever live.
func (c *Client) startDial(cs ConnectSettings) {
	c.dropTransport()
	c.stopKeepalive()
	c.password = cs.Password
	c.authenticated = false
	c.state = StateConnecting
	c.notify()

	gen := c.gen
	t := c.factory(&genHandler{c: c, gen: gen})
	c.transport = t
	c.log.Debug("dialing", slog.String("url", cs.URL), slog.Uint64("gen", gen))
	t.Open(cs.URL)
}

// dropTransport closes and forgets the current transport, bumping the
// generation so its remaining callbacks are ignored.
func (c *Client) dropTransport() {
	if c.transport == nil {
		return
	}
	t := c.transport
	c.transport = nil
	c.gen++
	t.Close()
}

func (c *Client) onOpen() {
	c.state = StateConnected
	c.notify()
}

func (c *Client) onFrame(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Debug("dropping malformed frame", slog.Any("err", err))
		return
	}
	switch env.Op {
	case OpHello:
		c.onHello(env.D)
	case OpIdentified:
		c.onIdentified()
	case OpRequestResponse:
		c.onResponse(env.D)
	case OpEvent:
		var ev eventData
		_ = json.Unmarshal(env.D, &ev)
		c.log.Debug("event", slog.String("type", ev.EventType))
	case OpRequestBatchResponse:
		// Batches are never issued by this client.
	default:
		c.log.Debug("ignoring frame", slog.Int("op", env.Op))
	}
}

func (c *Client) onHello(d json.RawMessage) {
	if c.state != StateConnected {
		c.log.Debug("hello out of order", slog.String("state", c.state.String()))
		return
	}
	var hello helloData
	if err := json.Unmarshal(d, &hello); err != nil {
		c.log.Debug("dropping malformed hello", slog.Any("err", err))
		return
	}

	identify := identifyData{RPCVersion: rpcVersion}
	if hello.Authentication != nil {
		if c.password == "" {
			// Fatal for this attempt: do not send Identify and do not
			// retry until configuration changes.
			c.log.Warn("server requires authentication but no password is configured")
			c.reconnectEnabled = false
			c.dropTransport()
			c.state = StateDisconnected
			c.lastErr = ErrPasswordRequired.Error()
			c.notify()
			return
		}
		identify.Authentication = AuthResponse(c.password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}

	frame, err := encodeFrame(OpIdentify, identify)
	if err != nil {
		c.log.Error("encode identify", slog.Any("err", err))
		return
	}
	if !c.transport.Send(frame) {
		// Socket died under us; its close callback will drive recovery.
		c.log.Debug("identify not dispatched")
		return
	}
	c.state = StateAuthenticating
	c.notify()
}

func (c *Client) onIdentified() {
	if c.state != StateAuthenticating {
		c.log.Debug("identified out of order", slog.String("state", c.state.String()))
		return
	}
	c.state = StateReady
	c.authenticated = true
	c.reconnectAttempts = 0
	c.lastErr = ""
	c.startKeepalive()
	c.notify()
	c.log.Info("session ready")
}

func (c *Client) onResponse(d json.RawMessage) {
	var resp responseData
	if err := json.Unmarshal(d, &resp); err != nil {
		c.log.Debug("dropping malformed response", slog.Any("err", err))
		return
	}
	p, ok := c.pending[resp.RequestID]
	if !ok {
		// Late response after timeout or teardown. The entry was already
		// resolved, so the frame is dropped.
		c.log.Debug("response for unknown request", slog.String("id", resp.RequestID))
		return
	}
	delete(c.pending, resp.RequestID)
	telemetry.ObserveObsRequest(c.clock.Now().Sub(p.created), resp.RequestStatus.Result)
	if !resp.RequestStatus.Result {
		p.resolve(nil, &RequestError{
			RequestType: p.requestType,
			Code:        resp.RequestStatus.Code,
			Comment:     resp.RequestStatus.Comment,
		})
		return
	}
	p.resolve(resp.ResponseData, nil)
}

func (c *Client) onClose(err error) {
	explicit := !c.reconnectEnabled
	c.stopKeepalive()
	c.failPending(ErrConnectionLost)
	c.transport = nil
	c.gen++
	c.state = StateDisconnected
	c.authenticated = false
	if err != nil && !explicit {
		c.lastErr = err.Error()
	}
	c.notify()
	if explicit {
		return
	}
	c.log.Warn("connection lost", slog.Any("err", err))
	telemetry.IncObsDisconnects()
	c.scheduleReconnect()
}

// issue allocates a correlation id, dispatches the frame, and records the
// pending entry. A frame the transport refuses fails immediately without
// registering anything.
func (c *Client) issue(requestType string, data json.RawMessage, ch chan requestResult) {
	if c.state != StateReady || c.transport == nil {
		ch <- requestResult{err: ErrNotConnected}
		return
	}
	id := strconv.FormatUint(c.nextID, 10)
	c.nextID++
	frame, err := encodeFrame(OpRequest, requestData{
		RequestType: requestType,
		RequestID:   id,
		RequestData: data,
	})
	if err != nil {
		ch <- requestResult{err: err}
		return
	}
	if !c.transport.Send(frame) {
		ch <- requestResult{err: ErrNotConnected}
		return
	}
	p := &pendingRequest{
		id:          id,
		requestType: requestType,
		ch:          ch,
		created:     c.clock.Now(),
	}
	p.timer = c.clock.AfterFunc(c.requestTimeout, func() {
		c.post(func() { c.timeoutRequest(id) })
	})
	c.pending[id] = p
}

func (c *Client) timeoutRequest(id string) {
	p, ok := c.pending[id]
	if !ok {
		return
	}
	delete(c.pending, id)
	c.log.Warn("request timed out", slog.String("type", p.requestType), slog.String("id", id))
	telemetry.IncObsRequestTimeouts()
	p.resolve(nil, ErrRequestTimeout)
}

func (c *Client) failPending(err error) {
	for id, p := range c.pending {
		delete(c.pending, id)
		p.resolve(nil, err)
	}
}

// --- reconnect / keepalive supervision ---

func (c *Client) scheduleReconnect() {
	c.reconnectAttempts++
	delay := time.Duration(c.reconnectAttempts) * c.reconnectStep
	if delay > c.reconnectCeiling {
		delay = c.reconnectCeiling
	}
	c.log.Info("scheduling reconnect", slog.Int("attempt", c.reconnectAttempts), slog.Duration("delay", delay))
	telemetry.IncObsReconnects()
	c.stopReconnectTimer()
	c.reconnectTimer = c.clock.AfterFunc(delay, func() {
		c.post(func() {
			c.reconnectTimer = nil
			if !c.reconnectEnabled || c.state != StateDisconnected {
				return
			}
			c.redial()
		})
	})
}

func (c *Client) stopReconnectTimer() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// redial re-reads the settings surface (credentials may have changed since
// the last attempt) and dials. The read happens off the loop.
func (c *Client) redial() {
	gen := c.gen
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), settingsReadTimeout)
		defer cancel()
		cs, err := c.settings.ConnectSettings(ctx)
		c.post(func() {
			if !c.reconnectEnabled || c.state != StateDisconnected || c.gen != gen {
				return
			}
			if err != nil {
				c.log.Warn("settings read failed, will retry", slog.Any("err", err))
				c.lastErr = err.Error()
				c.notify()
				c.scheduleReconnect()
				return
			}
			c.startDial(cs)
		})
	}()
}

func (c *Client) startKeepalive() {
	c.stopKeepalive()
	gen := c.gen
	c.keepaliveTimer = c.clock.AfterFunc(c.keepaliveInterval, func() {
		c.keepaliveProbe(gen)
	})
}

func (c *Client) stopKeepalive() {
	if c.keepaliveTimer != nil {
		c.keepaliveTimer.Stop()
		c.keepaliveTimer = nil
	}
}

// keepaliveProbe runs off the loop (timer goroutine). It exercises the
// channel with a cheap request; a failure is treated as silent connection
// death and forces an immediate reconnect cycle.
func (c *Client) keepaliveProbe(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
	defer cancel()
	_, err := c.Request(ctx, "GetVersion", nil)
	if err == nil {
		c.post(func() {
			if c.gen == gen && c.state == StateReady {
				c.startKeepalive()
			}
		})
		return
	}
	c.post(func() {
		if c.gen != gen || c.state != StateReady {
			return
		}
		c.log.Warn("keepalive probe failed, forcing reconnect", slog.Any("err", err))
		telemetry.IncObsKeepaliveFailures()
		// Fresh problem, not a backoff continuation: reset the attempt
		// counter and close the stale transport before redialing so two
		// sockets are never live at once.
		c.reconnectAttempts = 0
		c.stopKeepalive()
		c.failPending(ErrConnectionLost)
		c.dropTransport()
		c.state = StateDisconnected
		c.authenticated = false
		c.lastErr = "keepalive probe failed: " + err.Error()
		c.notify()
		c.redial()
	})
}
