package store

import (
	"encoding/json"
	"maps"

	"go.uber.org/zap"

	"github.com/shanten-tools/companion/pkg/protocol"
)

// Advice holds the latest discard plan per yaku. Plans describe one
// game state, so a new game state clears them.
type Advice struct {
	value *Value[map[string]json.RawMessage]
}

func NewAdvice(log *zap.Logger) *Advice {
	return &Advice{value: NewValue(map[string]json.RawMessage{}, named(log, "advice"))}
}

// Plan returns the plan for yaku, if one was pushed.
func (a *Advice) Plan(yaku string) (json.RawMessage, bool) {
	p, ok := a.value.Load()[yaku]
	return p, ok
}

func (a *Advice) Plans() map[string]json.RawMessage { return maps.Clone(a.value.Load()) }

func (a *Advice) Subscribe(fn func(map[string]json.RawMessage)) (map[string]json.RawMessage, func()) {
	return a.value.Subscribe(fn)
}

// Apply merges plans over the current ones. Entries without a yaku are
// skipped.
func (a *Advice) Apply(plans []protocol.DiscardPlan) {
	a.value.Update(func(cur map[string]json.RawMessage) map[string]json.RawMessage {
		next := maps.Clone(cur)
		for _, p := range plans {
			if p.Yaku == "" {
				continue
			}
			next[p.Yaku] = p.Data
		}
		return next
	})
}

func (a *Advice) Reset() {
	a.value.Store(map[string]json.RawMessage{})
}
