// Package settings keeps a locally editable draft of the settings tables
// apart from the last snapshot the backend pushed, and decides when the
// two may be reconciled.
//
// The Engine is not safe for concurrent use: every method runs on the
// companion's event loop. View snapshots are published through a
// store.Value and may be read from anywhere.
package settings

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shanten-tools/companion/internal/envelope"
	"github.com/shanten-tools/companion/internal/notify"
	"github.com/shanten-tools/companion/internal/store"
	"github.com/shanten-tools/companion/pkg/protocol"
)

const DefaultSaveCooldown = 800 * time.Millisecond

var (
	ErrUnknownKey    = errors.New("unknown settings key")
	ErrTypeMismatch  = errors.New("value kind does not match the setting")
	ErrAwaitingSync  = errors.New("draft is frozen until the last save is confirmed")
	ErrNothingToSave = errors.New("draft has no changes")
	ErrSaveCooldown  = errors.New("save requested too soon after the previous one")
	ErrNotConnected  = errors.New("not connected to the backend")
)

type Phase int

const (
	Clean Phase = iota
	Dirty
	AwaitingSync
	ConflictPending
)

func (p Phase) String() string {
	switch p {
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	case AwaitingSync:
		return "awaiting_sync"
	case ConflictPending:
		return "conflict_pending"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// View is what the presentation layer renders. Draft and Snapshot must
// not be modified.
type View struct {
	Phase    Phase
	Draft    protocol.Tables
	Snapshot protocol.Tables
	// Synced is false until the first snapshot arrives.
	Synced bool
	// Changed names the tables where Draft differs from Snapshot.
	Changed []string
}

func (v View) Dirty() bool    { return v.Phase != Clean }
func (v View) Conflict() bool { return v.Phase == ConflictPending }

// Sender is the outbound half of the connection. conn.Supervisor
// implements it.
type Sender interface {
	Send(env envelope.Envelope)
	Connected() bool
}

// Notifier receives user-facing notices. notify.Center implements it.
type Notifier interface {
	Push(kind protocol.ToastKind, key string, args ...any)
}

type Options struct {
	Clock        clockwork.Clock
	SaveCooldown time.Duration
	Notifier     Notifier
	Logger       *zap.Logger
}

type Engine struct {
	out     Sender
	notes   Notifier
	clock   clockwork.Clock
	limiter *rate.Limiter
	log     *zap.Logger

	phase    Phase
	synced   bool
	draft    protocol.Tables
	snapshot protocol.Tables
	// sent is the draft as of the last save, kept until the engine is
	// clean again.
	sent protocol.Tables

	view *store.Value[View]
}

func New(out Sender, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.SaveCooldown <= 0 {
		opts.SaveCooldown = DefaultSaveCooldown
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	log := opts.Logger.Named("settings")
	e := &Engine{
		out:      out,
		notes:    opts.Notifier,
		clock:    opts.Clock,
		limiter:  rate.NewLimiter(rate.Every(opts.SaveCooldown), 1),
		log:      log,
		draft:    protocol.Tables{},
		snapshot: protocol.Tables{},
	}
	e.view = store.NewValue(e.render(), log)
	return e
}

func (e *Engine) Phase() Phase { return e.phase }

// View returns the last published view; safe from any goroutine.
func (e *Engine) View() View { return e.view.Load() }

func (e *Engine) Subscribe(fn func(View)) (View, func()) { return e.view.Subscribe(fn) }

// ApplySnapshot takes a settings push from the backend. A push never
// replaces a draft holding edits the backend has not echoed back.
func (e *Engine) ApplySnapshot(s protocol.Tables) {
	e.snapshot = s.Clone()
	e.synced = true

	switch e.phase {
	case Clean:
		e.draft = e.snapshot.Clone()
	case Dirty, ConflictPending:
		if e.draft.Equal(e.snapshot) {
			e.becomeClean()
		} else {
			e.phase = ConflictPending
		}
	case AwaitingSync:
		if e.snapshot.Equal(e.sent) {
			e.becomeClean()
			e.push(protocol.ToastSuccess, notify.MsgSaveDone)
		} else {
			e.log.Info("snapshot diverged from the saved draft", zap.Strings("tables", e.snapshot.Changed(e.sent)))
			e.phase = ConflictPending
		}
	}
	e.publish()
}

// Set edits one draft value. The table and key must already exist in
// the draft, and the value must keep its scalar kind.
func (e *Engine) Set(table, key string, value any) error {
	if e.phase == AwaitingSync {
		return ErrAwaitingSync
	}
	cur, ok := e.draft.Lookup(table, key)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownKey, table, key)
	}
	v, err := protocol.Scalar(value)
	if err != nil {
		return fmt.Errorf("%s.%s: %w: %w", table, key, ErrTypeMismatch, err)
	}
	if !protocol.SameKind(cur, v) {
		return fmt.Errorf("%w: %s.%s is %T, got %T", ErrTypeMismatch, table, key, cur, value)
	}

	t := e.draft[table].Clone()
	t[key] = v
	draft := maps.Clone(e.draft)
	draft[table] = t
	e.draft = draft

	switch {
	case e.draft.Equal(e.snapshot):
		e.becomeClean()
	case e.phase == Clean:
		e.phase = Dirty
	}
	e.publish()
	return nil
}

// Save sends the whole draft as edit_config. Saving again while a save
// is unconfirmed resends the same draft. Nothing changes while the
// connection is down.
func (e *Engine) Save() error {
	if e.phase == Clean {
		return ErrNothingToSave
	}
	if !e.out.Connected() {
		return ErrNotConnected
	}
	if !e.limiter.AllowN(e.clock.Now(), 1) {
		return ErrSaveCooldown
	}
	env, err := envelope.New(envelope.TypeEditConfig, e.draft)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	e.out.Send(env)
	e.sent = e.draft
	e.phase = AwaitingSync
	e.push(protocol.ToastInfo, notify.MsgSaveSubmitted)
	e.publish()
	return nil
}

// Discard abandons every local edit and restores the last snapshot.
func (e *Engine) Discard() {
	if e.phase == Clean {
		return
	}
	e.becomeClean()
	e.push(protocol.ToastInfo, notify.MsgDiscarded)
	e.publish()
}

// Adopt is Discard without the notice, for policies that merge pushes
// on the user's behalf. It reports whether the draft changed.
func (e *Engine) Adopt() bool {
	if e.phase == Clean {
		return false
	}
	e.becomeClean()
	e.publish()
	return true
}

// Unsent reports whether the draft holds edits no save has carried yet.
func (e *Engine) Unsent() bool {
	return e.phase != Clean && (e.sent == nil || !e.draft.Equal(e.sent))
}

// Pending reports whether the draft differs from the last snapshot.
func (e *Engine) Pending() bool { return !e.draft.Equal(e.snapshot) }

func (e *Engine) becomeClean() {
	e.draft = e.snapshot.Clone()
	e.sent = nil
	e.phase = Clean
}

func (e *Engine) push(kind protocol.ToastKind, key string) {
	if e.notes != nil {
		e.notes.Push(kind, key)
	}
}

func (e *Engine) render() View {
	return View{
		Phase:    e.phase,
		Draft:    e.draft,
		Snapshot: e.snapshot,
		Synced:   e.synced,
		Changed:  e.draft.Changed(e.snapshot),
	}
}

func (e *Engine) publish() {
	e.log.Debug("settings view", zap.Stringer("phase", e.phase))
	e.view.Store(e.render())
}
