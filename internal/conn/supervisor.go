// Package conn owns the single websocket to the local backend: connect,
// heartbeat and fixed-delay reconnect, plus the open/close/frame/packet
// listener channels everything else hangs off.
package conn

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shanten-tools/companion/internal/envelope"
	"github.com/shanten-tools/companion/internal/eventloop"
	"github.com/shanten-tools/companion/internal/pubsub"
)

const (
	DefaultReconnectDelay    = time.Second
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultDialTimeout       = 5 * time.Second
	DefaultWriteTimeout      = 3 * time.Second
	defaultOutboxSize        = 64
	defaultReadLimit         = 4 << 20
)

type State int32

const (
	Idle State = iota
	Connecting
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

type Channel int

const (
	ChannelOpen Channel = iota
	ChannelClose
	ChannelFrame
	ChannelPacket
)

type Frame struct {
	Dir  envelope.Direction
	Text string
}

// Event is what the bus carries; which fields are set depends on the
// channel.
type Event struct {
	Frame  Frame
	Packet envelope.Envelope
	Err    error
}

type Options struct {
	URL               string
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
	OutboxSize        int
	Dialer            Dialer
	Logger            *zap.Logger
}

func (o *Options) applyDefaults() {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.OutboxSize <= 0 {
		o.OutboxSize = defaultOutboxSize
	}
	if o.Dialer == nil {
		o.Dialer = WebsocketDialer{ReadLimit: defaultReadLimit}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Supervisor keeps at most one live socket. Everything except Send,
// State and the On* registrations runs on the event loop.
type Supervisor struct {
	loop  *eventloop.Loop
	opts  Options
	log   *zap.Logger
	bus   *pubsub.Bus[Channel, Event]
	state atomic.Int32

	mu     sync.Mutex
	outbox chan []byte

	// owned by the loop
	gen       uint64
	connCtx   context.Context
	stopConn  context.CancelFunc
	sock      Socket
	heartbeat *eventloop.Timer
	reconnect *eventloop.Timer
	shutdown  bool
}

func New(loop *eventloop.Loop, opts Options) *Supervisor {
	opts.applyDefaults()
	opts.URL = NormalizeURL(opts.URL)
	log := opts.Logger.Named("conn")
	return &Supervisor{
		loop: loop,
		opts: opts,
		log:  log,
		bus:  pubsub.NewBus[Channel, Event](log),
	}
}

func (s *Supervisor) URL() string { return s.opts.URL }

func (s *Supervisor) State() State { return State(s.state.Load()) }

// Connected reports whether Send would reach the socket right now.
func (s *Supervisor) Connected() bool { return s.State() == Open }

func (s *Supervisor) setState(st State) { s.state.Store(int32(st)) }

func (s *Supervisor) OnOpen(fn func()) func() {
	return s.bus.Subscribe(ChannelOpen, func(Event) { fn() })
}

// OnClose listeners get the transport error, nil for a local Close.
func (s *Supervisor) OnClose(fn func(err error)) func() {
	return s.bus.Subscribe(ChannelClose, func(e Event) { fn(e.Err) })
}

// OnFrame listeners see every inbound frame before it is decoded, and
// every outbound frame once it is queued for writing.
func (s *Supervisor) OnFrame(fn func(Frame)) func() {
	return s.bus.Subscribe(ChannelFrame, func(e Event) { fn(e.Frame) })
}

func (s *Supervisor) OnPacket(fn func(envelope.Envelope)) func() {
	return s.bus.Subscribe(ChannelPacket, func(e Event) { fn(e.Packet) })
}

// Connect starts a connection attempt unless one is live or pending.
func (s *Supervisor) Connect() {
	s.loop.Post(s.connect)
}

func (s *Supervisor) connect() {
	if s.shutdown {
		return
	}
	switch s.State() {
	case Connecting, Open:
		return
	}
	s.reconnect.Stop()
	s.reconnect = nil

	s.gen++
	gen := s.gen
	s.connCtx, s.stopConn = context.WithCancel(s.loop.Context())
	s.setState(Connecting)

	attempt := uuid.NewString()
	s.log.Debug("connecting", zap.String("url", s.opts.URL), zap.String("attempt", attempt))

	ctx := s.connCtx
	go func() {
		dialCtx, cancel := context.WithTimeout(ctx, s.opts.DialTimeout)
		sock, err := s.opts.Dialer.Dial(dialCtx, s.opts.URL)
		cancel()
		if !s.loop.Post(func() { s.dialed(gen, attempt, sock, err) }) && sock != nil {
			_ = sock.Close()
		}
	}()
}

func (s *Supervisor) dialed(gen uint64, attempt string, sock Socket, err error) {
	if gen != s.gen || s.State() != Connecting {
		if sock != nil {
			_ = sock.Close()
		}
		return
	}
	if err != nil {
		s.log.Warn("dial failed", zap.String("attempt", attempt), zap.Error(err))
		s.closed(err)
		return
	}

	s.sock = sock
	out := make(chan []byte, s.opts.OutboxSize)
	s.mu.Lock()
	s.outbox = out
	s.mu.Unlock()
	s.setState(Open)
	s.log.Info("connected", zap.String("url", s.opts.URL), zap.String("attempt", attempt))

	go s.writeLoop(s.connCtx, gen, sock, out)
	go s.readLoop(s.connCtx, gen, sock)
	s.scheduleHeartbeat(gen)

	s.bus.Publish(ChannelOpen, Event{})
}

func (s *Supervisor) readLoop(ctx context.Context, gen uint64, sock Socket) {
	for {
		data, err := sock.Read(ctx)
		if err != nil {
			s.loop.Post(func() { s.lost(gen, err) })
			return
		}
		text := string(data)
		if !s.loop.Post(func() { s.receive(gen, text) }) {
			return
		}
	}
}

func (s *Supervisor) writeLoop(ctx context.Context, gen uint64, sock Socket, out <-chan []byte) {
	for frame := range out {
		wctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
		err := sock.Write(wctx, frame)
		cancel()
		if err != nil {
			s.loop.Post(func() { s.lost(gen, err) })
			return
		}
	}
}

func (s *Supervisor) receive(gen uint64, text string) {
	if gen != s.gen {
		return
	}
	s.bus.Publish(ChannelFrame, Event{Frame: Frame{Dir: envelope.Inbound, Text: text}})

	env, err := envelope.Decode(text)
	if err != nil {
		s.log.Warn("dropping undecodable frame", zap.String("frame", text), zap.Error(err))
		return
	}
	if env.Type != envelope.TypeKeepAlive {
		s.log.Debug("recv", zap.String("type", env.Type), zap.Int("bytes", len(text)))
	}
	s.bus.Publish(ChannelPacket, Event{Packet: env})
}

func (s *Supervisor) lost(gen uint64, err error) {
	if gen != s.gen || s.State() != Open {
		return
	}
	s.closed(err)
}

// closed moves to Closed and arms exactly one reconnect attempt.
func (s *Supervisor) closed(err error) {
	s.dropSocket()
	s.setState(Closed)
	s.log.Info("disconnected", zap.Error(err), zap.Duration("retry_in", s.opts.ReconnectDelay))
	s.bus.Publish(ChannelClose, Event{Err: err})

	if s.shutdown {
		return
	}
	s.reconnect.Stop()
	s.reconnect = s.loop.AfterFunc(s.opts.ReconnectDelay, s.connect)
}

func (s *Supervisor) dropSocket() {
	s.mu.Lock()
	if s.outbox != nil {
		close(s.outbox)
		s.outbox = nil
	}
	s.mu.Unlock()

	s.heartbeat.Stop()
	s.heartbeat = nil
	if s.stopConn != nil {
		s.stopConn()
		s.stopConn = nil
	}
	if s.sock != nil {
		if err := s.sock.Close(); err != nil {
			s.log.Debug("socket close", zap.Error(err))
		}
		s.sock = nil
	}
}

func (s *Supervisor) scheduleHeartbeat(gen uint64) {
	s.heartbeat = s.loop.AfterFunc(s.opts.HeartbeatInterval, func() {
		if gen != s.gen || s.State() != Open {
			return
		}
		s.Send(envelope.KeepAlive())
		s.scheduleHeartbeat(gen)
	})
}

// Send queues env if the connection is open and silently drops it
// otherwise. Nothing is buffered across a disconnect. Safe from any
// goroutine.
func (s *Supervisor) Send(env envelope.Envelope) {
	frame, err := envelope.Encode(env)
	if err != nil {
		s.log.Warn("cannot encode outbound envelope", zap.String("type", env.Type), zap.Error(err))
		return
	}

	queued := false
	s.mu.Lock()
	if s.outbox != nil {
		select {
		case s.outbox <- []byte(frame):
			queued = true
		default:
			s.log.Warn("outbox full, dropping frame", zap.String("type", env.Type))
		}
	}
	s.mu.Unlock()

	if !queued {
		if env.Type != envelope.TypeKeepAlive {
			s.log.Debug("not connected, dropped", zap.String("type", env.Type))
		}
		return
	}
	if env.Type != envelope.TypeKeepAlive {
		s.log.Debug("send", zap.String("type", env.Type), zap.Int("bytes", len(frame)))
	}
	s.bus.Publish(ChannelFrame, Event{Frame: Frame{Dir: envelope.Outbound, Text: frame}})
}

// Close tears the connection down for good: no reconnect, no heartbeat.
// It also works after the loop's context is gone. Do not call it from a
// loop task.
func (s *Supervisor) Close() {
	s.loop.Teardown(func() {
		if s.shutdown {
			return
		}
		s.shutdown = true
		s.reconnect.Stop()
		s.reconnect = nil

		live := s.State() == Open || s.State() == Connecting
		s.gen++
		s.dropSocket()
		s.setState(Closed)
		if live {
			s.bus.Publish(ChannelClose, Event{})
		}
	})
}
