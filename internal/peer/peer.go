// Package peer is a stand-in backend for development and tests. It
// holds one State, pushes snapshots to every joined companion, and
// answers the outbound message types the way the real backend does.
package peer

import (
	"context"
	"errors"
	"os"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/shanten-tools/companion/internal/envelope"
	"github.com/shanten-tools/companion/pkg/protocol"
)

var ErrStopped = errors.New("peer stopped")

type Msg interface{ isPeerMsg() }

type Join struct {
	ClientID string
	Outbox   chan envelope.Envelope // closed by the peer when the client is dropped
}

type Leave struct{ ClientID string }

type FromClient struct {
	ClientID string
	Env      envelope.Envelope
}

// Push replaces part of the state from outside (HTTP, tests) and
// broadcasts it. Non-snapshot envelopes are broadcast as is.
type Push struct {
	Env   envelope.Envelope
	Reply chan error
}

type GetState struct {
	Reply chan View
}

type Shutdown struct{}

func (Join) isPeerMsg()       {}
func (Leave) isPeerMsg()      {}
func (FromClient) isPeerMsg() {}
func (Push) isPeerMsg()       {}
func (GetState) isPeerMsg()   {}
func (Shutdown) isPeerMsg()   {}

type View struct {
	Version    int
	NumClients int
	State      State
}

type Options struct {
	Seed      *State
	ConfigDir string
	// Open handles open_config_dir. The default only checks that
	// ConfigDir exists.
	Open   func(dir string) error
	Clock  clockwork.Clock
	Logger *zap.Logger
}

type Peer struct {
	inbox   chan Msg
	state   State
	version int
	clients map[string]chan envelope.Envelope
	opts    Options
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(parent context.Context, opts Options) *Peer {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Open == nil {
		opts.Open = statDir
	}
	state := NewEmptyState()
	if opts.Seed != nil {
		state = opts.Seed.clone()
	}
	ctx, cancel := context.WithCancel(parent)
	p := &Peer{
		inbox:   make(chan Msg, 64),
		state:   state,
		clients: make(map[string]chan envelope.Envelope),
		opts:    opts,
		log:     opts.Logger.Named("peer"),
		ctx:     ctx,
		cancel:  cancel,
	}
	go p.loop()
	return p
}

// Send hands m to the peer. It reports false once the peer has stopped.
func (p *Peer) Send(m Msg) bool {
	select {
	case <-p.ctx.Done():
		return false
	default:
	}
	select {
	case p.inbox <- m:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// Done is closed when the peer stops.
func (p *Peer) Done() <-chan struct{} { return p.ctx.Done() }

// Snapshot returns the current view, or false if the peer has stopped.
func (p *Peer) Snapshot() (View, bool) {
	reply := make(chan View, 1)
	if !p.Send(GetState{Reply: reply}) {
		return View{}, false
	}
	select {
	case v := <-reply:
		return v, true
	case <-p.ctx.Done():
		return View{}, false
	}
}

// Publish applies env via Push and waits for the result.
func (p *Peer) Publish(env envelope.Envelope) error {
	reply := make(chan error, 1)
	if !p.Send(Push{Env: env, Reply: reply}) {
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-p.ctx.Done():
		return ErrStopped
	}
}

func (p *Peer) loop() {
	for {
		select {
		case <-p.ctx.Done():
			p.shutdown()
			return

		case m := <-p.inbox:
			switch msg := m.(type) {
			case Join:
				p.clients[msg.ClientID] = msg.Outbox
				p.log.Debug("client joined", zap.String("client", msg.ClientID))
				p.sendTo(msg.ClientID, joinOrder...)

			case Leave:
				delete(p.clients, msg.ClientID)

			case FromClient:
				p.handle(msg.ClientID, msg.Env)

			case Push:
				err := p.push(msg.Env)
				if msg.Reply != nil {
					msg.Reply <- err
				}

			case GetState:
				msg.Reply <- View{
					Version:    p.version,
					NumClients: len(p.clients),
					State:      p.state.clone(),
				}

			case Shutdown:
				p.shutdown()
				return
			}
		}
	}
}

func (p *Peer) handle(id string, env envelope.Envelope) {
	switch env.Type {
	case envelope.TypeKeepAlive:

	case envelope.TypeEditConfig:
		changed, next, err := ApplyEdit(p.state, env.Data)
		if err != nil {
			p.log.Warn("edit rejected", zap.String("client", id), zap.Error(err))
			return
		}
		p.state = next
		p.version++
		for _, typ := range changed {
			p.broadcastType(typ)
		}

	case envelope.TypeRequestUpdate:
		p.sendTo(id, refreshOrder...)

	case envelope.TypeOpenConfigDir:
		res := protocol.OpenResult{OK: true}
		if err := p.opts.Open(p.opts.ConfigDir); err != nil {
			res = protocol.OpenResult{Error: err.Error()}
		}
		p.reply(id, envelope.TypeOpenResult, res)

	case envelope.TypeAutorunControl:
		p.control(id, env)

	default:
		p.log.Debug("ignoring message", zap.String("type", env.Type))
	}
}

func (p *Peer) control(id string, env envelope.Envelope) {
	var ctl protocol.AutorunControl
	if err := env.Bind(&ctl); err != nil {
		p.reply(id, envelope.TypeAutorunControlResult, protocol.ControlResult{Reason: err.Error()})
		return
	}
	res, next, err := ApplyControl(p.state, ctl, p.opts.Clock.Now())
	if err != nil {
		res = protocol.ControlResult{Reason: err.Error()}
	}
	p.state = next

	switch ctl.Action {
	case protocol.ActionProbe:
		// probe only refreshes the status
		p.broadcastType(envelope.TypeAutorunStatus)
	case protocol.ActionNotifyTestEmail:
		kind, msg := protocol.ToastSuccess, "test email sent"
		if !res.OK {
			kind, msg = protocol.ToastError, "test email failed: "+res.Reason
		}
		p.reply(id, envelope.TypeUIToast, protocol.Toast{Msg: msg, Kind: kind})
	default:
		p.reply(id, envelope.TypeAutorunControlResult, res)
		p.sendTo(id, envelope.TypeAutorunStatus)
	}
}

func (p *Peer) push(env envelope.Envelope) error {
	next, err := ApplyPush(p.state, env)
	if err != nil {
		return err
	}
	p.state = next
	p.version++
	p.broadcast(env)
	return nil
}

func (p *Peer) sendTo(id string, types ...string) {
	for _, typ := range types {
		env, err := p.state.packet(typ)
		if err != nil {
			p.log.Error("build packet", zap.String("type", typ), zap.Error(err))
			continue
		}
		if !p.deliver(id, env) {
			return
		}
	}
}

func (p *Peer) reply(id, typ string, payload any) {
	env, err := envelope.New(typ, payload)
	if err != nil {
		p.log.Error("build reply", zap.String("type", typ), zap.Error(err))
		return
	}
	p.deliver(id, env)
}

func (p *Peer) broadcastType(typ string) {
	env, err := p.state.packet(typ)
	if err != nil {
		p.log.Error("build packet", zap.String("type", typ), zap.Error(err))
		return
	}
	p.broadcast(env)
}

func (p *Peer) broadcast(env envelope.Envelope) {
	for id := range p.clients {
		p.deliver(id, env)
	}
}

// deliver never blocks: a client whose outbox is full is dropped.
func (p *Peer) deliver(id string, env envelope.Envelope) bool {
	ch, ok := p.clients[id]
	if !ok {
		return false
	}
	select {
	case ch <- env:
		return true
	default:
		p.log.Warn("dropping slow client", zap.String("client", id))
		close(ch)
		delete(p.clients, id)
		return false
	}
}

func (p *Peer) shutdown() {
	for id, ch := range p.clients {
		close(ch)
		delete(p.clients, id)
	}
	p.cancel()
}

func statDir(dir string) error {
	if dir == "" {
		return os.ErrNotExist
	}
	_, err := os.Stat(dir)
	return err
}
