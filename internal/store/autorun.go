package store

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"github.com/shanten-tools/companion/pkg/protocol"
)

var (
	ErrIndexOutOfRange = errors.New("target index out of range")
	ErrBadLevel        = errors.New("level must look like 3-2")
)

type AutorunState struct {
	Config protocol.AutorunConfig
	Status protocol.AutorunStatus
}

// Autorun caches the automation config (editable locally, then sent as
// edit_config {autorun}) and the read-only run status.
type Autorun struct {
	value *Value[AutorunState]
}

func NewAutorun(log *zap.Logger) *Autorun {
	return &Autorun{value: NewValue(AutorunState{
		Config: protocol.DefaultAutorunConfig(),
		Status: protocol.DefaultAutorunStatus(),
	}, named(log, "autorun"))}
}

// State returns the current state and its revision. Pass the revision
// to the index-based edits so they refuse to touch a list that changed
// underneath the caller.
func (a *Autorun) State() (AutorunState, uint64) { return a.value.LoadRev() }

func (a *Autorun) Config() protocol.AutorunConfig { return a.value.Load().Config.Clone() }

func (a *Autorun) Status() protocol.AutorunStatus { return a.value.Load().Status }

func (a *Autorun) Subscribe(fn func(AutorunState)) (AutorunState, func()) {
	return a.value.Subscribe(fn)
}

// ApplyConfig replaces the config with a backend snapshot.
func (a *Autorun) ApplyConfig(cfg protocol.AutorunConfig) {
	cfg = cfg.Clone()
	a.value.Update(func(cur AutorunState) AutorunState {
		cur.Config = cfg
		return cur
	})
}

// ApplyStatus replaces the status. Callers decode the payload over
// protocol.DefaultAutorunStatus so absent fields keep their defaults.
func (a *Autorun) ApplyStatus(st protocol.AutorunStatus) {
	a.value.Update(func(cur AutorunState) AutorunState {
		cur.Status = st
		return cur
	})
}

func (a *Autorun) PatchConfig(fn func(*protocol.AutorunConfig)) {
	a.value.Update(func(cur AutorunState) AutorunState {
		cfg := cur.Config.Clone()
		fn(&cfg)
		cur.Config = cfg
		return cur
	})
}

// AddTargetAmulet appends an amulet goal. badge may be nil.
func (a *Autorun) AddTargetAmulet(id int, plus bool, badge *int) {
	t := protocol.Target{Kind: protocol.KindAmulet, ID: id, Plus: plus}
	if badge != nil {
		b := *badge
		t.Badge = &b
	}
	a.PatchConfig(func(c *protocol.AutorunConfig) { c.Targets = append(c.Targets, t) })
}

func (a *Autorun) AddTargetBadge(id int) {
	a.PatchConfig(func(c *protocol.AutorunConfig) {
		c.Targets = append(c.Targets, protocol.Target{Kind: protocol.KindBadge, ID: id})
	})
}

func (a *Autorun) RemoveTargetAt(rev uint64, i int) error {
	return a.editTargets(rev, i, func(ts []protocol.Target) []protocol.Target {
		return append(ts[:i], ts[i+1:]...)
	})
}

func (a *Autorun) ReplaceTargetAt(rev uint64, i int, t protocol.Target) error {
	return a.editTargets(rev, i, func(ts []protocol.Target) []protocol.Target {
		ts[i] = t
		return ts
	})
}

// SetTargetValue sets the required count of target i; values below 1
// become 1.
func (a *Autorun) SetTargetValue(rev uint64, i, v int) error {
	return a.editTargets(rev, i, func(ts []protocol.Target) []protocol.Target {
		ts[i].Value = max(v, 1)
		return ts
	})
}

func (a *Autorun) editTargets(rev uint64, i int, fn func([]protocol.Target) []protocol.Target) error {
	return a.value.UpdateAt(rev, func(cur AutorunState) (AutorunState, error) {
		if i < 0 || i >= len(cur.Config.Targets) {
			return cur, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, len(cur.Config.Targets))
		}
		cfg := cur.Config.Clone()
		cfg.Targets = fn(cfg.Targets)
		cur.Config = cfg
		return cur, nil
	})
}

var levelRE = regexp.MustCompile(`^\s*([1-5])\s*-\s*([1-3])\s*$`)

// ParseLevel turns "3-2" into 302.
func ParseLevel(s string) (int, error) {
	m := levelRE.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrBadLevel, s)
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	return major*100 + minor, nil
}

// FormatLevel is the inverse of ParseLevel; non-positive levels format
// as "".
func FormatLevel(n int) string {
	if n <= 0 {
		return ""
	}
	return fmt.Sprintf("%d-%d", n/100, n%100)
}
