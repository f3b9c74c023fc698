package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shanten-tools/companion/internal/envelope"
)

func TestDispatch_RoutesByType(t *testing.T) {
	d := New(nil)
	var got []string
	d.On(envelope.TypeUpdateConfig, func(e envelope.Envelope) { got = append(got, "config") })
	d.Register(Types(envelope.TypeUpdateRegistry, envelope.TypeUpdateFuseConfig), func(e envelope.Envelope) {
		got = append(got, "store:"+e.Type)
	})
	d.Register(Any, func(e envelope.Envelope) { got = append(got, "any:"+e.Type) })

	d.Dispatch(envelope.Envelope{Type: envelope.TypeUpdateConfig})
	d.Dispatch(envelope.Envelope{Type: envelope.TypeUpdateFuseConfig})
	d.Dispatch(envelope.Envelope{Type: "brand_new"})

	assert.Equal(t, []string{
		"config",
		"any:update_config",
		"store:update_fuse_config",
		"any:update_fuse_config",
		"any:brand_new",
	}, got)
}

func TestDispatch_HandlerPanicIsIsolated(t *testing.T) {
	d := New(nil)
	ran := false
	d.On("x", func(envelope.Envelope) { panic("bad handler") })
	d.On("x", func(envelope.Envelope) { ran = true })

	assert.NotPanics(t, func() { d.Dispatch(envelope.Envelope{Type: "x"}) })
	assert.True(t, ran)
}

func TestDispatch_Unregister(t *testing.T) {
	d := New(nil)
	n := 0
	off := d.On("x", func(envelope.Envelope) { n++ })
	d.Dispatch(envelope.Envelope{Type: "x"})
	off()
	d.Dispatch(envelope.Envelope{Type: "x"})
	assert.Equal(t, 1, n)
}
