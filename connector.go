// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package rs485

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/fanbridge/rs485/logger"
)

const (
	eventQueueSize = 64
	writeQueueSize = 32
)

// Connector owns the link to one device and correlates requests with
// responses.
//
// All link I/O results, timers and requests are handled one at a time by a
// single event loop goroutine. Completion handlers run on their own
// goroutine and fire at most once; they are not guaranteed to fire at all
// (see SendRaw).
type Connector struct {
	cfg     *ConnectionConfig
	address byte
	logger  logger.Logger
	clock   clockwork.Clock
	metrics *Metrics

	ctx       context.Context
	cancel    context.CancelFunc
	events    chan func()
	done      chan struct{}
	closeOnce sync.Once

	state atomic.Uint32

	// owned by the event loop
	pending   *pendingTable
	gen       *generation
	attempt   uint64
	reconnect clockwork.Timer
	deferred  map[*deferredSend]struct{}
}

// generation is the lifetime of one open link. Timers and reader events
// carry their generation and are ignored once it is replaced.
type generation struct {
	id        uint64
	link      io.ReadWriteCloser
	heartbeat clockwork.Timer

	// out feeds the writer goroutine; stop ends it.
	out  chan []byte
	stop chan struct{}
}

// request is a send waiting to enter the pending table.
type request struct {
	address    byte
	command    byte
	payload    []byte
	onResponse func(frame []byte)
	onAbandon  func()
}

func (r *request) abandon() {
	if r.onAbandon != nil {
		r.onAbandon()
	}
}

// deferredSend is a request waiting for a busy address.
type deferredSend struct {
	req   *request
	timer clockwork.Timer
}

// NewConnector creates a connector for the device at address behind
// host:port and starts connecting in the background.
func NewConnector(host string, port int, address byte, opts ...ConnOption) (*Connector, error) {
	cfg, err := NewConnectionConfig(host, port, address, opts...)
	if err != nil {
		return nil, err
	}
	return NewConnectorWithConfig(cfg)
}

// NewConnectorWithConfig creates a connector from cfg and starts connecting
// in the background. cfg must come from NewConnectionConfig.
func NewConnectorWithConfig(cfg *ConnectionConfig) (*Connector, error) {
	if cfg == nil || cfg.dial == nil || cfg.clock == nil || cfg.logger == nil {
		return nil, ErrInvalidConfig
	}
	c := &Connector{
		cfg:      cfg,
		address:  cfg.address,
		logger:   cfg.logger.With("address", cfg.address),
		clock:    cfg.clock,
		metrics:  newMetrics(cfg.address),
		events:   make(chan func(), eventQueueSize),
		done:     make(chan struct{}),
		pending:  newPendingTable(),
		deferred: make(map[*deferredSend]struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	if cfg.registerer != nil {
		err := c.metrics.register(cfg.registerer, c.address,
			func() float64 { return float64(c.pending.Len()) },
			func() float64 {
				if c.State().IsConnected() {
					return 1
				}
				return 0
			},
		)
		if err != nil {
			return nil, err
		}
	}

	c.logger.Info("rs485 connector initializing")
	go c.run()
	c.post(c.connect)

	return c, nil
}

// Address returns the device address the connector is bound to.
func (c *Connector) Address() byte { return c.address }

// State returns the current connection state.
func (c *Connector) State() ConnState { return ConnState(c.state.Load()) }

// Metrics returns the connector counters.
func (c *Connector) Metrics() *Metrics { return c.metrics }

// Close stops the event loop, closes the link and abandons every pending
// request. It is safe to call more than once.
func (c *Connector) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
		c.metrics.unregister()
	})
	return nil
}

// SendRaw sends command with payload to address.
//
// The call returns immediately. onResponse receives the inbound data (noise
// stripped) when a response with the same address and command arrives. It is
// never called when the link is not ready, when the request is abandoned by a
// disconnect, or when a later request evicts it as stale; callers that need a
// bound must impose their own, or use Request.
//
// A request to an address that already has one in flight is retried every
// 500ms until the slot frees or the holder is older than 3s.
func (c *Connector) SendRaw(address, command byte, payload []byte, onResponse func(frame []byte)) {
	c.submit(&request{
		address:    address,
		command:    command,
		payload:    append([]byte(nil), payload...),
		onResponse: onResponse,
	})
}

// Request sends command with payload to the connector's device and waits for
// the response. It returns ErrAbandoned if the request was dropped or
// abandoned, ErrClosed if the connector is closed, or ctx.Err().
func (c *Connector) Request(ctx context.Context, command byte, payload []byte) ([]byte, error) {
	resp := make(chan []byte, 1)
	abandoned := make(chan struct{}, 1)

	ok := c.submit(&request{
		address:    c.address,
		command:    command,
		payload:    append([]byte(nil), payload...),
		onResponse: func(frame []byte) { resp <- frame },
		onAbandon:  func() { abandoned <- struct{}{} },
	})
	if !ok {
		return nil, ErrClosed
	}

	select {
	case frame := <-resp:
		return frame, nil
	case <-abandoned:
		return nil, ErrAbandoned
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Connector) submit(req *request) bool {
	if !c.post(func() { c.sendRaw(req) }) {
		c.logger.Warn("rs485 connector closed, dropping request", "command", req.command)
		return false
	}
	return true
}

// post queues fn on the event loop. It returns false once the connector is
// closed. It must not be called from the event loop.
func (c *Connector) post(fn func()) bool {
	if c.ctx.Err() != nil {
		return false
	}
	select {
	case c.events <- fn:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// after schedules fn on the event loop once d has elapsed on the clock.
func (c *Connector) after(d time.Duration, fn func()) clockwork.Timer {
	return c.clock.AfterFunc(d, func() { c.post(fn) })
}

func (c *Connector) run() {
	defer close(c.done)

	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return
		case fn := <-c.events:
			fn()
		}
	}
}

func (c *Connector) shutdown() {
	c.setState(ClosingState)
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.teardown()
	c.setState(DisconnectedState)
	c.logger.Info("rs485 connector closed")
}

func (c *Connector) setState(state ConnState) {
	prev := ConnState(c.state.Swap(uint32(state)))
	if prev != state {
		c.logger.Debug("connection state changed", "prevState", prev, "curState", state)
	}
}

// connect starts a dial unless one is already in flight.
func (c *Connector) connect() {
	c.reconnect = nil
	if c.gen != nil || c.State() == ConnectingState {
		return
	}

	c.attempt++
	attempt := c.attempt
	c.setState(ConnectingState)
	c.logger.Info("rs485 link connecting")

	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.dialTimeout)
		defer cancel()

		link, err := c.cfg.dial(ctx)
		if !c.post(func() { c.onDial(attempt, link, err) }) && link != nil {
			_ = link.Close()
		}
	}()
}

func (c *Connector) onDial(attempt uint64, link io.ReadWriteCloser, err error) {
	if attempt != c.attempt || c.State() != ConnectingState {
		if link != nil {
			_ = link.Close()
		}
		return
	}
	if err != nil {
		c.logger.Warn("rs485 link connect failed", "error", err)
		c.setState(DisconnectedState)
		c.scheduleReconnect()
		return
	}

	g := &generation{
		id:   attempt,
		link: link,
		out:  make(chan []byte, writeQueueSize),
		stop: make(chan struct{}),
	}
	c.gen = g
	c.setState(ConnectedState)
	c.logger.Info("rs485 link connected", "generation", g.id)

	c.armHeartbeat(g)
	go c.readLoop(g)
	go c.writeLoop(g)
}

// writeLoop writes the frames queued on g until g is torn down or a write
// fails.
func (c *Connector) writeLoop(g *generation) {
	for {
		select {
		case <-g.stop:
			return
		case frame := <-g.out:
			if err := writeFrame(g.link, frame, c.cfg.writeTimeout); err != nil {
				c.post(func() { c.onTransportError(g, err) })
				return
			}
		}
	}
}

// readLoop forwards inbound chunks of g to the event loop until the link
// fails.
func (c *Connector) readLoop(g *generation) {
	buf := make([]byte, maxChunkSize)
	for {
		n, err := g.link.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if !c.post(func() { c.onData(g, chunk) }) {
				return
			}
		}
		if err != nil {
			if isReadTimeout(err) {
				continue
			}
			c.post(func() { c.onClosed(g, err) })
			return
		}
	}
}

func (c *Connector) onClosed(g *generation, err error) {
	if g != c.gen {
		return
	}
	if isCleanClose(err) && !c.cfg.reconnectOnCleanClose {
		c.logger.Info("rs485 link closed by peer")
		c.teardown()
		c.setState(DisconnectedState)
		return
	}
	c.onTransportError(g, err)
}

// onTransportError destroys the link of g and schedules one reconnect. Errors
// of a generation that is already gone are ignored.
func (c *Connector) onTransportError(g *generation, err error) {
	if g == nil || g != c.gen {
		return
	}
	c.logger.Warn("rs485 link error", "error", err)
	c.teardown()
	c.setState(DisconnectedState)
	c.scheduleReconnect()
}

func (c *Connector) scheduleReconnect() {
	if c.reconnect != nil || c.ctx.Err() != nil {
		return
	}
	c.reconnect = c.after(reconnectDelay, c.connect)
	c.metrics.Reconnects.Inc()
	c.logger.Info("rs485 link reconnect scheduled", "delay", reconnectDelay)
}

// teardown closes the current link and drops everything bound to it.
func (c *Connector) teardown() {
	if g := c.gen; g != nil {
		c.gen = nil
		close(g.stop)
		if g.heartbeat != nil {
			g.heartbeat.Stop()
		}
		if err := g.link.Close(); err != nil {
			c.logger.Debug("failed to close link", "error", err)
		}
	}

	c.pending.clear()
	for d := range c.deferred {
		d.timer.Stop()
		d.req.abandon()
	}
	c.deferred = make(map[*deferredSend]struct{})
}

func (c *Connector) armHeartbeat(g *generation) {
	g.heartbeat = c.after(heartbeatInterval, func() {
		if g != c.gen {
			return
		}
		c.metrics.Heartbeats.Inc()
		c.logger.Debug("rs485 heartbeat")
		c.sendRaw(&request{
			address: c.address,
			command: CommandReadRegister,
			payload: readPayload(heartbeatRegister),
		})
		if g == c.gen {
			c.armHeartbeat(g)
		}
	})
}

func (c *Connector) sendRaw(req *request) {
	g := c.gen
	if g == nil || c.State() != ConnectedState {
		c.metrics.SendsDropped.Inc()
		c.logger.Warn("rs485 link not ready, dropping request", "command", req.command, "state", c.State())
		req.abandon()
		return
	}

	if _, busy := c.pending.get(req.address); busy {
		if !c.pending.isStale(req.address, c.clock.Now()) {
			c.deferSend(req)
			return
		}
		c.metrics.StaleEvictions.Inc()
		c.logger.Debug("evicting stale request", "target", req.address)
		c.pending.evict(req.address)
	}

	c.pending.put(req.address, &pendingRequest{
		command:    req.command,
		onResponse: req.onResponse,
		onAbandon:  req.onAbandon,
		createdAt:  c.clock.Now(),
	})

	frame := BuildFrame(req.address, req.command, req.payload)
	select {
	case g.out <- frame:
		c.logger.Debug("rs485 send", "frame", hexBytes(frame))
		c.metrics.FramesSent.Inc()
	default:
		c.metrics.SendsDropped.Inc()
		c.logger.Warn("rs485 write queue full, dropping request", "command", req.command, "target", req.address)
		c.pending.evict(req.address)
	}
}

func (c *Connector) deferSend(req *request) {
	d := &deferredSend{req: req}
	c.deferred[d] = struct{}{}
	d.timer = c.after(busyRetryDelay, func() {
		if _, ok := c.deferred[d]; !ok {
			return
		}
		delete(c.deferred, d)
		c.sendRaw(d.req)
	})
	c.metrics.SendsDeferred.Inc()
}

func (c *Connector) onData(g *generation, chunk []byte) {
	if g != c.gen {
		return
	}
	c.metrics.ChunksReceived.Inc()
	c.metrics.BytesReceived.Add(float64(len(chunk)))
	c.logger.Debug("rs485 received", "chunk", hexBytes(chunk))

	frame, p := c.locate(chunk)
	if len(frame) < 2 {
		c.logger.Debug("discarding short chunk", "length", len(frame))
		return
	}
	if c.cfg.strictChecksum && !VerifyFrame(frame) {
		c.metrics.ChecksumErrors.Inc()
		c.logger.Debug("discarding chunk with bad checksum", "chunk", hexBytes(frame))
		return
	}
	if p == nil {
		c.metrics.Unmatched.Inc()
		c.logger.Debug("ignoring unmatched response", "source", frame[0], "command", frame[1])
		return
	}

	c.metrics.ResponsesMatched.Inc()
	p.matched = true
	address := frame[0]
	p.grace = c.after(graceDelay, func() {
		c.pending.removeIf(address, p)
	})
	if p.onResponse != nil {
		go p.onResponse(frame)
	}
}

// locate finds where the response starts in chunk. Every position inside
// the leading noise run is tried against the pending table, since device
// addresses and commands may themselves fall in the noise range. Without a
// match the noise-stripped chunk is returned.
func (c *Connector) locate(chunk []byte) ([]byte, *pendingRequest) {
	stripped := StripNoise(chunk)
	noise := len(chunk) - len(stripped)

	for i := 0; i <= noise && i+1 < len(chunk); i++ {
		if p := c.pending.match(chunk[i], chunk[i+1]); p != nil {
			if i > 0 {
				c.metrics.NoiseBytes.Add(float64(i))
			}
			return chunk[i:], p
		}
	}
	if noise > 0 {
		c.metrics.NoiseBytes.Add(float64(noise))
	}
	return stripped, nil
}

// hexBytes logs a byte slice as space separated hex.
type hexBytes []byte

func (b hexBytes) LogValue() slog.Value {
	return slog.StringValue(fmt.Sprintf("% x", []byte(b)))
}
