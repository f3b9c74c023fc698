// Package companion wires the sync core into one client: the event
// loop, the connection, the dispatcher, every store, the settings
// engine, notifications and the frame trace. Nothing here is global;
// two Clients in one process do not share state.
package companion

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shanten-tools/companion/internal/config"
	"github.com/shanten-tools/companion/internal/conn"
	"github.com/shanten-tools/companion/internal/diag"
	"github.com/shanten-tools/companion/internal/dispatch"
	"github.com/shanten-tools/companion/internal/envelope"
	"github.com/shanten-tools/companion/internal/eventloop"
	"github.com/shanten-tools/companion/internal/notify"
	"github.com/shanten-tools/companion/internal/settings"
	"github.com/shanten-tools/companion/internal/storage"
	"github.com/shanten-tools/companion/internal/store"
	"github.com/shanten-tools/companion/pkg/protocol"
)

type Option func(*options)

type options struct {
	dialer conn.Dialer
	clock  clockwork.Clock
}

// WithDialer replaces the websocket dialer.
func WithDialer(d conn.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

type Client struct {
	cfg *config.Config
	log *zap.Logger

	loop     *eventloop.Loop
	conn     *conn.Supervisor
	dispatch *dispatch.Dispatcher

	registry *store.Registry
	fuse     *store.Fuse
	autorun  *store.Autorun
	game     *store.GameState
	advice   *store.Advice

	settings *settings.Engine
	autosave *settings.AutoSave

	notes  *notify.Center
	frames *diag.FrameLog
	db     *storage.Store

	// latest registry waiting to be cached; Run drains it
	registryCache chan protocol.Registry

	offs []func()

	// owned by the loop
	updateTimer *eventloop.Timer
}

func New(ctx context.Context, cfg *config.Config, log *zap.Logger, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	if log == nil {
		log = zap.NewNop()
	}

	c := &Client{
		cfg:           cfg,
		log:           log.Named("companion"),
		registryCache: make(chan protocol.Registry, 1),
	}

	if cfg.Storage.Driver != "" {
		db, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN, log)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		c.db = db
	}

	c.loop = eventloop.New(ctx, eventloop.WithClock(o.clock), eventloop.WithLogger(log.Named("loop")))
	c.conn = conn.New(c.loop, conn.Options{
		URL:               cfg.URL(),
		ReconnectDelay:    cfg.Sync.ReconnectDelay,
		HeartbeatInterval: cfg.Sync.HeartbeatInterval,
		DialTimeout:       cfg.Sync.DialTimeout,
		WriteTimeout:      cfg.Sync.WriteTimeout,
		Dialer:            o.dialer,
		Logger:            log,
	})
	c.dispatch = dispatch.New(log)

	c.registry = store.NewRegistry(log)
	c.fuse = store.NewFuse(log)
	c.autorun = store.NewAutorun(log)
	c.game = store.NewGameState(log)
	c.advice = store.NewAdvice(log)

	c.notes = notify.NewCenter(cfg.Language, notify.WithClock(o.clock), notify.WithLogger(log))

	frameOpts := []diag.Option{
		diag.WithCapacity(cfg.Storage.MaxFrames),
		diag.WithClock(o.clock),
		diag.WithLogger(log),
	}
	if c.db != nil {
		frameOpts = append(frameOpts, diag.WithSink(c.db))
	}
	c.frames = diag.New(frameOpts...)

	c.settings = settings.New(c.conn, settings.Options{
		Clock:        o.clock,
		SaveCooldown: cfg.Sync.SaveCooldown,
		Notifier:     c.notes,
		Logger:       log,
	})
	if cfg.Sync.AutoSave {
		c.autosave = settings.NewAutoSave(c.loop, c.settings, settings.AutoSaveOptions{
			Debounce: cfg.Sync.SaveDebounce,
			Idle:     cfg.Sync.IdleAfter,
			Logger:   log,
		})
	}

	c.restoreRegistry(ctx)
	c.wire()
	return c, nil
}

// restoreRegistry fills the registry from the cache so item names are
// known before the first push.
func (c *Client) restoreRegistry(ctx context.Context) {
	if c.db == nil {
		return
	}
	reg, err := c.db.LoadRegistry(ctx)
	switch {
	case err == nil:
		c.registry.Apply(reg)
		c.log.Debug("registry restored from cache",
			zap.Int("amulets", len(reg.Amulets)), zap.Int("badges", len(reg.Badges)))
	case errors.Is(err, storage.ErrNoRegistry):
	default:
		c.log.Warn("load registry cache", zap.Error(err))
	}
}

func (c *Client) wire() {
	d := c.dispatch
	c.offs = append(c.offs,
		c.conn.OnFrame(c.frames.Record),
		c.conn.OnPacket(d.Dispatch),
		c.conn.OnOpen(c.opened),
		c.conn.OnClose(c.closed),
		notify.Bridge(d, c.notes),

		d.On(envelope.TypeUpdateConfig, func(env envelope.Envelope) {
			var ts protocol.Tables
			if c.bind(env, &ts) {
				c.applyTables(ts)
			}
		}),
		d.On(envelope.TypeUpdateRegistry, func(env envelope.Envelope) {
			var reg protocol.Registry
			if c.bind(env, &reg) {
				c.registry.Apply(reg)
				c.cacheRegistry(reg)
			}
		}),
		d.On(envelope.TypeUpdateFuseConfig, func(env envelope.Envelope) {
			var cfg protocol.FuseConfig
			if c.bind(env, &cfg) {
				c.fuse.Apply(cfg)
			}
		}),
		d.On(envelope.TypeUpdateAutorunConfig, func(env envelope.Envelope) {
			cfg := protocol.DefaultAutorunConfig()
			if c.bind(env, &cfg) {
				c.autorun.ApplyConfig(cfg)
			}
		}),
		d.On(envelope.TypeAutorunStatus, func(env envelope.Envelope) {
			st := protocol.DefaultAutorunStatus()
			if c.bind(env, &st) {
				c.autorun.ApplyStatus(st)
			}
		}),
		d.On(envelope.TypeUpdateGameState, func(env envelope.Envelope) {
			var g protocol.GameState
			if c.bind(env, &g) {
				c.game.Store(g)
				c.advice.Reset()
			}
		}),
		d.On(envelope.TypeDiscardAdvice, func(env envelope.Envelope) {
			var plans []protocol.DiscardPlan
			if c.bind(env, &plans) {
				c.advice.Apply(plans)
			}
		}),
	)
}

func (c *Client) bind(env envelope.Envelope, v any) bool {
	if err := env.Bind(v); err != nil {
		c.log.Warn("dropping packet with bad payload", zap.String("type", env.Type), zap.Error(err))
		return false
	}
	return true
}

func (c *Client) applyTables(ts protocol.Tables) {
	if c.autosave != nil {
		c.autosave.ApplySnapshot(ts)
		return
	}
	c.settings.ApplySnapshot(ts)
}

// opened runs on the loop after every successful connect.
func (c *Client) opened() {
	c.updateTimer.Stop()
	c.updateTimer = c.loop.AfterFunc(c.cfg.Sync.RequestUpdateDelay, func() {
		c.updateTimer = nil
		c.send(envelope.TypeRequestUpdate, nil)
	})
}

func (c *Client) closed(err error) {
	c.updateTimer.Stop()
	c.updateTimer = nil
	if err != nil {
		c.log.Info("connection lost", zap.Error(err))
	}
}

// cacheRegistry keeps only the newest registry for Run to persist.
// Only the loop calls it.
func (c *Client) cacheRegistry(reg protocol.Registry) {
	if c.db == nil {
		return
	}
	select {
	case c.registryCache <- reg:
	default:
		select {
		case <-c.registryCache:
		default:
		}
		c.registryCache <- reg
	}
}

// Start begins connecting. The connection then retries forever until
// Close.
func (c *Client) Start() {
	c.log.Info("connecting", zap.String("url", c.conn.URL()))
	c.conn.Connect()
}

// Run does the client's blocking background work until ctx is done:
// writing the frame trace and the registry cache to storage.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.frames.Run(ctx) })
	if c.db != nil {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case reg := <-c.registryCache:
					if err := c.db.SaveRegistry(ctx, reg); err != nil {
						c.log.Warn("cache registry", zap.Error(err))
					}
				}
			}
		})
	}
	return g.Wait()
}

// Close stops the connection and every timer, then releases storage.
// The Client cannot be restarted.
func (c *Client) Close() error {
	c.loop.Teardown(func() {
		if c.autosave != nil {
			c.autosave.Stop()
		}
		c.updateTimer.Stop()
		c.updateTimer = nil
	})
	c.conn.Close()
	for _, off := range c.offs {
		off()
	}
	c.offs = nil
	c.loop.Stop()

	var err error
	if c.db != nil {
		err = multierr.Append(err, c.db.Close())
	}
	return err
}
