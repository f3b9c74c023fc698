package store

import (
	"slices"

	"go.uber.org/zap"

	"github.com/shanten-tools/companion/pkg/protocol"
)

// Selection is the set of guard list entries marked for removal. It is
// local UI state and never sent.
type Selection struct {
	Amulets []int
	Badges  []int
}

func (s Selection) Has(kind protocol.ItemKind, id int) bool {
	switch kind {
	case protocol.KindAmulet:
		return slices.Contains(s.Amulets, id)
	case protocol.KindBadge:
		return slices.Contains(s.Badges, id)
	}
	return false
}

func (s Selection) Len() int { return len(s.Amulets) + len(s.Badges) }

// FuseState is the guard config snapshot (possibly locally edited) and
// the current selection.
type FuseState struct {
	Config   protocol.FuseConfig
	Selected Selection
}

type Fuse struct {
	value *Value[FuseState]
}

func NewFuse(log *zap.Logger) *Fuse {
	return &Fuse{value: NewValue(FuseState{Config: protocol.FuseConfig{}.Clone()}, named(log, "fuse"))}
}

func (f *Fuse) State() FuseState { return f.value.Load() }

func (f *Fuse) Config() protocol.FuseConfig { return f.value.Load().Config.Clone() }

func (f *Fuse) Subscribe(fn func(FuseState)) (FuseState, func()) {
	return f.value.Subscribe(fn)
}

// Apply replaces the config with a backend snapshot. Selected ids that
// no longer appear in the list are dropped.
func (f *Fuse) Apply(cfg protocol.FuseConfig) {
	cfg = cfg.Clone()
	f.value.Update(func(cur FuseState) FuseState {
		return FuseState{
			Config: cfg,
			Selected: Selection{
				Amulets: keepPresent(cur.Selected.Amulets, cfg.GuardSkipContains.Amulets),
				Badges:  keepPresent(cur.Selected.Badges, cfg.GuardSkipContains.Badges),
			},
		}
	})
}

// Patch edits a copy of the config in place.
func (f *Fuse) Patch(fn func(*protocol.FuseConfig)) {
	f.value.Update(func(cur FuseState) FuseState {
		cfg := cur.Config.Clone()
		fn(&cfg)
		cur.Config = cfg
		return cur
	})
}

// AddAmulet appends id to the guard list unless already present.
func (f *Fuse) AddAmulet(id int) {
	f.Patch(func(c *protocol.FuseConfig) {
		if !slices.Contains(c.GuardSkipContains.Amulets, id) {
			c.GuardSkipContains.Amulets = append(c.GuardSkipContains.Amulets, id)
		}
	})
}

func (f *Fuse) AddBadge(id int) {
	f.Patch(func(c *protocol.FuseConfig) {
		if !slices.Contains(c.GuardSkipContains.Badges, id) {
			c.GuardSkipContains.Badges = append(c.GuardSkipContains.Badges, id)
		}
	})
}

func (f *Fuse) ToggleSelect(kind protocol.ItemKind, id int) {
	f.value.Update(func(cur FuseState) FuseState {
		sel := Selection{
			Amulets: slices.Clone(cur.Selected.Amulets),
			Badges:  slices.Clone(cur.Selected.Badges),
		}
		switch kind {
		case protocol.KindAmulet:
			sel.Amulets = toggle(sel.Amulets, id)
		case protocol.KindBadge:
			sel.Badges = toggle(sel.Badges, id)
		}
		cur.Selected = sel
		return cur
	})
}

func (f *Fuse) ClearSelection() {
	f.value.Update(func(cur FuseState) FuseState {
		cur.Selected = Selection{}
		return cur
	})
}

// RemoveSelected drops every selected entry from the guard list and
// clears the selection. It returns the number of entries removed.
func (f *Fuse) RemoveSelected() int {
	removed := 0
	f.value.Update(func(cur FuseState) FuseState {
		cfg := cur.Config.Clone()
		before := len(cfg.GuardSkipContains.Amulets) + len(cfg.GuardSkipContains.Badges)
		cfg.GuardSkipContains.Amulets = slices.DeleteFunc(cfg.GuardSkipContains.Amulets, func(id int) bool {
			return slices.Contains(cur.Selected.Amulets, id)
		})
		cfg.GuardSkipContains.Badges = slices.DeleteFunc(cfg.GuardSkipContains.Badges, func(id int) bool {
			return slices.Contains(cur.Selected.Badges, id)
		})
		removed = before - len(cfg.GuardSkipContains.Amulets) - len(cfg.GuardSkipContains.Badges)
		return FuseState{Config: cfg, Selected: Selection{}}
	})
	return removed
}

func toggle(ids []int, id int) []int {
	if i := slices.Index(ids, id); i >= 0 {
		return slices.Delete(ids, i, i+1)
	}
	return append(ids, id)
}

func keepPresent(selected, list []int) []int {
	var out []int
	for _, id := range selected {
		if slices.Contains(list, id) {
			out = append(out, id)
		}
	}
	return out
}
