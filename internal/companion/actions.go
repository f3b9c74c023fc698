package companion

import (
	"go.uber.org/zap"

	"github.com/shanten-tools/companion/internal/conn"
	"github.com/shanten-tools/companion/internal/diag"
	"github.com/shanten-tools/companion/internal/dispatch"
	"github.com/shanten-tools/companion/internal/envelope"
	"github.com/shanten-tools/companion/internal/eventloop"
	"github.com/shanten-tools/companion/internal/notify"
	"github.com/shanten-tools/companion/internal/settings"
	"github.com/shanten-tools/companion/internal/store"
	"github.com/shanten-tools/companion/pkg/protocol"
)

// Every action may be called from any goroutine except the loop
// itself. Each one runs on the loop.

// EditSetting changes one key of the settings draft.
func (c *Client) EditSetting(table, key string, value any) error {
	return c.loop.Call(func() error {
		if c.autosave != nil {
			return c.autosave.Set(table, key, value)
		}
		return c.settings.Set(table, key, value)
	})
}

// SaveSettings submits the whole draft.
func (c *Client) SaveSettings() error {
	return c.loop.Call(c.settings.Save)
}

// DiscardSettings drops the draft in favour of the last push.
func (c *Client) DiscardSettings() error {
	if !c.loop.Do(c.settings.Discard) {
		return eventloop.ErrStopped
	}
	return nil
}

// RequestUpdate asks the backend to resend every snapshot.
func (c *Client) RequestUpdate() {
	c.loop.Do(func() { c.send(envelope.TypeRequestUpdate, nil) })
}

// OpenConfigDir asks the backend to reveal its config folder. The
// outcome arrives as open_result.
func (c *Client) OpenConfigDir() {
	c.loop.Do(func() { c.send(envelope.TypeOpenConfigDir, nil) })
}

// SaveFuse sends the fuse store's config as a scoped edit.
func (c *Client) SaveFuse() {
	c.loop.Do(func() {
		if c.send(envelope.TypeEditConfig, protocol.EditFuse{Fuse: c.fuse.Config()}) {
			c.notes.Push(protocol.ToastSuccess, notify.MsgFuseSaved)
		}
	})
}

// SaveAutorun sends the autorun store's config as a scoped edit.
func (c *Client) SaveAutorun() {
	c.loop.Do(func() {
		if c.send(envelope.TypeEditConfig, protocol.EditAutorun{Autorun: c.autorun.Config()}) {
			c.notes.Push(protocol.ToastSuccess, notify.MsgAutorunSaved)
		}
	})
}

// AutorunControl sends one automation command. Failures come back as
// autorun_control_result and surface as notifications.
func (c *Client) AutorunControl(action string) {
	c.loop.Do(func() {
		c.send(envelope.TypeAutorunControl, protocol.AutorunControl{Action: action})
	})
}

// SetAutorunMode switches between continuous and step mode.
func (c *Client) SetAutorunMode(mode string) {
	c.loop.Do(func() {
		c.send(envelope.TypeAutorunControl, protocol.AutorunControl{Action: protocol.ActionSetMode, Mode: mode})
	})
}

// send reports whether env was handed to an open connection. A closed
// connection drops it silently, like conn.Supervisor.Send. Only the loop
// calls it, so frame listeners always run there.
func (c *Client) send(typ string, payload any) bool {
	env, err := envelope.New(typ, payload)
	if err != nil {
		c.log.Error("build envelope", zap.String("type", typ), zap.Error(err))
		return false
	}
	open := c.conn.State() == conn.Open
	c.conn.Send(env)
	return open
}

func (c *Client) ConnState() conn.State { return c.conn.State() }

func (c *Client) Settings() settings.View { return c.settings.View() }

func (c *Client) SubscribeSettings(fn func(settings.View)) (settings.View, func()) {
	return c.settings.Subscribe(fn)
}

func (c *Client) Registry() *store.Registry { return c.registry }

func (c *Client) Fuse() *store.Fuse { return c.fuse }

func (c *Client) Autorun() *store.Autorun { return c.autorun }

func (c *Client) GameState() *store.GameState { return c.game }

func (c *Client) Advice() *store.Advice { return c.advice }

func (c *Client) Notifications() *notify.Center { return c.notes }

func (c *Client) Frames() *diag.FrameLog { return c.frames }

// Dispatcher lets callers route extra packet types. Handlers run on
// the loop.
func (c *Client) Dispatcher() *dispatch.Dispatcher { return c.dispatch }
