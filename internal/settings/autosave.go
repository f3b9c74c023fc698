package settings

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/shanten-tools/companion/internal/eventloop"
	"github.com/shanten-tools/companion/pkg/protocol"
)

const (
	DefaultSaveDebounce = 600 * time.Millisecond
	DefaultIdle         = 1200 * time.Millisecond
)

type AutoSaveOptions struct {
	// Debounce is the quiet period after the last edit before the draft
	// is saved.
	Debounce time.Duration
	// Idle is how long the user must have stopped typing before a push
	// may replace an already submitted draft.
	Idle   time.Duration
	Logger *zap.Logger
}

// AutoSave drives an Engine without explicit save/discard: edits are
// saved after a quiet period, and pushes that disagree with the draft
// are merged once the user is idle. A push never replaces an edit that
// has not been sent yet. Like the Engine it must only be used from the
// loop.
type AutoSave struct {
	e        *Engine
	loop     *eventloop.Loop
	debounce time.Duration
	idle     time.Duration
	log      *zap.Logger

	lastEdit   time.Time
	saveTimer  *eventloop.Timer
	adoptTimer *eventloop.Timer
}

func NewAutoSave(loop *eventloop.Loop, e *Engine, opts AutoSaveOptions) *AutoSave {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultSaveDebounce
	}
	if opts.Idle <= 0 {
		opts.Idle = DefaultIdle
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &AutoSave{
		e:        e,
		loop:     loop,
		debounce: opts.Debounce,
		idle:     opts.Idle,
		log:      opts.Logger.Named("autosave"),
	}
}

func (a *AutoSave) Engine() *Engine { return a.e }

// Set edits the draft and restarts the save debounce.
func (a *AutoSave) Set(table, key string, value any) error {
	if err := a.e.Set(table, key, value); err != nil {
		return err
	}
	a.lastEdit = a.loop.Now()
	a.scheduleSave(a.debounce)
	return nil
}

// ApplySnapshot hands the push to the engine, then merges it into the
// draft if the engine kept the draft and merging is allowed.
func (a *AutoSave) ApplySnapshot(s protocol.Tables) {
	a.e.ApplySnapshot(s)
	a.reconcile()
}

// Stop cancels pending timers.
func (a *AutoSave) Stop() {
	a.saveTimer.Stop()
	a.adoptTimer.Stop()
	a.saveTimer, a.adoptTimer = nil, nil
}

func (a *AutoSave) scheduleSave(d time.Duration) {
	a.saveTimer.Stop()
	a.saveTimer = a.loop.AfterFunc(d, a.flush)
}

func (a *AutoSave) flush() {
	a.saveTimer = nil
	if a.e.Phase() == AwaitingSync || !a.e.Pending() {
		return
	}
	switch err := a.e.Save(); {
	case err == nil:
	case errors.Is(err, ErrSaveCooldown), errors.Is(err, ErrNotConnected):
		a.scheduleSave(a.debounce)
	default:
		a.log.Warn("auto save failed", zap.Error(err))
	}
}

func (a *AutoSave) reconcile() {
	a.adoptTimer.Stop()
	a.adoptTimer = nil

	switch a.e.Phase() {
	case Clean, AwaitingSync:
		return
	}
	if a.e.Unsent() {
		// the debounce will send it; the echo settles the conflict
		return
	}
	quiet := a.loop.Now().Sub(a.lastEdit)
	if quiet < a.idle {
		a.adoptTimer = a.loop.AfterFunc(a.idle-quiet, a.reconcile)
		return
	}
	if a.e.Adopt() {
		a.log.Debug("merged backend push into idle draft")
	}
}
