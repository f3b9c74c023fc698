// Package dispatch routes decoded envelopes to the handlers interested
// in their type.
package dispatch

import (
	"slices"

	"go.uber.org/zap"

	"github.com/shanten-tools/companion/internal/envelope"
	"github.com/shanten-tools/companion/internal/pubsub"
)

type Predicate func(typ string) bool

type Handler func(envelope.Envelope)

// Types matches any of the given envelope types.
func Types(types ...string) Predicate {
	return func(typ string) bool { return slices.Contains(types, typ) }
}

// Any matches every envelope, including types nobody else knows.
func Any(string) bool { return true }

// Dispatcher holds no state besides its handlers; matching handlers
// run in registration order and a panic in one does not reach the rest.
type Dispatcher struct {
	handlers *pubsub.Registry[envelope.Envelope]
}

func New(log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{handlers: pubsub.NewRegistry[envelope.Envelope](log.Named("dispatch"))}
}

func (d *Dispatcher) Register(match Predicate, h Handler) func() {
	return d.handlers.Add(func(env envelope.Envelope) {
		if match(env.Type) {
			h(env)
		}
	})
}

// On is Register with a Types predicate.
func (d *Dispatcher) On(typ string, h Handler) func() {
	return d.Register(Types(typ), h)
}

func (d *Dispatcher) Dispatch(env envelope.Envelope) {
	d.handlers.Notify(env)
}
