package store

import (
	"go.uber.org/zap"

	"github.com/shanten-tools/companion/pkg/protocol"
)

// RegistryView is the item catalog plus id lookups built once per
// snapshot.
type RegistryView struct {
	Amulets []protocol.Amulet
	Badges  []protocol.Badge

	amuletByID map[int]protocol.Amulet
	badgeByID  map[int]protocol.Badge
}

func newRegistryView(p protocol.Registry) RegistryView {
	v := RegistryView{
		Amulets:    append([]protocol.Amulet(nil), p.Amulets...),
		Badges:     append([]protocol.Badge(nil), p.Badges...),
		amuletByID: make(map[int]protocol.Amulet, len(p.Amulets)),
		badgeByID:  make(map[int]protocol.Badge, len(p.Badges)),
	}
	for _, a := range v.Amulets {
		v.amuletByID[a.ID] = a
	}
	for _, b := range v.Badges {
		v.badgeByID[b.ID] = b
	}
	return v
}

func (v RegistryView) Amulet(id int) (protocol.Amulet, bool) {
	a, ok := v.amuletByID[id]
	return a, ok
}

func (v RegistryView) Badge(id int) (protocol.Badge, bool) {
	b, ok := v.badgeByID[id]
	return b, ok
}

// Empty reports whether no snapshot has arrived yet (or it was empty).
func (v RegistryView) Empty() bool {
	return len(v.Amulets) == 0 && len(v.Badges) == 0
}

// Payload returns the catalog in wire form.
func (v RegistryView) Payload() protocol.Registry {
	return protocol.Registry{
		Amulets: append([]protocol.Amulet(nil), v.Amulets...),
		Badges:  append([]protocol.Badge(nil), v.Badges...),
	}
}

// Registry is read-only for the UI; only backend snapshots change it.
type Registry struct {
	value *Value[RegistryView]
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{value: NewValue(newRegistryView(protocol.Registry{}), named(log, "registry"))}
}

// Apply replaces the catalog wholesale.
func (r *Registry) Apply(p protocol.Registry) {
	r.value.Store(newRegistryView(p))
}

func (r *Registry) View() RegistryView { return r.value.Load() }

func (r *Registry) Amulet(id int) (protocol.Amulet, bool) { return r.View().Amulet(id) }

func (r *Registry) Badge(id int) (protocol.Badge, bool) { return r.View().Badge(id) }

func (r *Registry) Subscribe(fn func(RegistryView)) (RegistryView, func()) {
	return r.value.Subscribe(fn)
}

func named(log *zap.Logger, name string) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log.Named("store." + name)
}
