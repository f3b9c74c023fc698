package notify

import (
	"time"

	"go.uber.org/zap"

	"github.com/shanten-tools/companion/internal/dispatch"
	"github.com/shanten-tools/companion/internal/envelope"
	"github.com/shanten-tools/companion/pkg/protocol"
)

// Bridge routes ui_toast, open_result and failed autorun_control_result
// packets into c. The returned func removes the routes.
func Bridge(d *dispatch.Dispatcher, c *Center) func() {
	offs := []func(){
		d.On(envelope.TypeUIToast, func(env envelope.Envelope) {
			var t protocol.Toast
			if err := env.Bind(&t); err != nil {
				c.log.Warn("bad ui_toast payload", zap.Error(err))
				return
			}
			c.PushText(t.Kind, t.Msg, time.Duration(t.Duration)*time.Millisecond)
		}),
		d.On(envelope.TypeOpenResult, func(env envelope.Envelope) {
			var r protocol.OpenResult
			if err := env.Bind(&r); err != nil {
				c.log.Warn("bad open_result payload", zap.Error(err))
				return
			}
			if r.OK {
				c.Push(protocol.ToastSuccess, MsgOpenOK)
				return
			}
			c.Push(protocol.ToastError, MsgOpenFailed, r.Error)
		}),
		d.On(envelope.TypeAutorunControlResult, func(env envelope.Envelope) {
			var r protocol.ControlResult
			err := env.Bind(&r)
			if err == nil && r.OK {
				return
			}
			reason := r.Reason
			if err != nil {
				reason = err.Error()
			}
			c.Push(protocol.ToastError, MsgControlFailed, reason)
		}),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}
