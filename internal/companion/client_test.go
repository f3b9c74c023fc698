package companion

import (
	"context"
	"net"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shanten-tools/companion/internal/config"
	"github.com/shanten-tools/companion/internal/conn"
	"github.com/shanten-tools/companion/internal/envelope"
	"github.com/shanten-tools/companion/internal/httpapi"
	"github.com/shanten-tools/companion/internal/notify"
	"github.com/shanten-tools/companion/internal/peer"
	"github.com/shanten-tools/companion/internal/settings"
	"github.com/shanten-tools/companion/pkg/protocol"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

func seed() peer.State {
	s := peer.NewEmptyState()
	s.Tables = protocol.Tables{"main": {"a": 1.0, "fast": false}}
	s.Registry = protocol.Registry{
		Amulets: []protocol.Amulet{{ID: 11, Name: "Kavi", Rarity: "ORANGE"}},
		Badges:  []protocol.Badge{{ID: 600, Name: "Red", Rarity: "RED"}},
	}
	return s
}

func startPeer(t *testing.T) (*peer.Peer, *config.Config) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s := seed()
	p := peer.New(ctx, peer.Options{Seed: &s, ConfigDir: t.TempDir()})
	srv := httptest.NewServer(httpapi.SetupRoutes(p, zap.NewNop()))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Language = "en-US"
	cfg.Backend.Host = host
	cfg.Backend.Port, err = strconv.Atoi(port)
	require.NoError(t, err)
	cfg.Sync.ReconnectDelay = 50 * time.Millisecond
	// keeps refresh replies from landing in the middle of an edit
	cfg.Sync.RequestUpdateDelay = time.Hour
	return p, cfg
}

func startClient(t *testing.T, cfg *config.Config) *Client {
	t.Helper()
	c, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	c.Start()
	return c
}

// toasts collects notification messages.
type toasts struct {
	mu   sync.Mutex
	msgs []string
}

func watch(c *Client) *toasts {
	ts := &toasts{}
	c.Notifications().Subscribe(func(n notify.Notification) {
		ts.mu.Lock()
		ts.msgs = append(ts.msgs, n.Message)
		ts.mu.Unlock()
	})
	return ts
}

func (ts *toasts) has(msg string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, m := range ts.msgs {
		if m == msg {
			return true
		}
	}
	return false
}

func synced(t *testing.T, c *Client) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.Settings().Synced && !c.Registry().View().Empty()
	}, waitFor, tick)
}

func TestClient_ReceivesEverySnapshot(t *testing.T) {
	_, cfg := startPeer(t)
	cfg.Sync.RequestUpdateDelay = 20 * time.Millisecond
	c := startClient(t, cfg)
	synced(t, c)

	v := c.Settings()
	assert.Equal(t, settings.Clean, v.Phase)
	assert.Equal(t, 1.0, v.Snapshot["main"]["a"])

	a, ok := c.Registry().Amulet(11)
	require.True(t, ok)
	assert.Equal(t, "Kavi", a.Name)
	assert.Equal(t, "NOT_PROBED", c.Autorun().Status().GameReadyCode)
	assert.Equal(t, 1, c.Autorun().Config().EndCount)
	assert.Eventually(t, func() bool { return c.GameState().Load().Stage == -1 }, waitFor, tick)

	// request_update goes out shortly after every open
	require.Eventually(t, func() bool {
		for _, f := range c.Frames().Frames() {
			if f.Dir == envelope.Outbound {
				if env, err := envelope.Decode(f.Raw); err == nil && env.Type == envelope.TypeRequestUpdate {
					return true
				}
			}
		}
		return false
	}, waitFor, tick)
}

func TestClient_EditSaveEcho(t *testing.T) {
	p, cfg := startPeer(t)
	c := startClient(t, cfg)
	ts := watch(c)
	synced(t, c)

	require.NoError(t, c.EditSetting("main", "a", 5))
	assert.Equal(t, settings.Dirty, c.Settings().Phase)
	assert.ErrorIs(t, c.EditSetting("main", "a", "five"), settings.ErrTypeMismatch)

	require.NoError(t, c.SaveSettings())
	require.Eventually(t, func() bool { return c.Settings().Phase == settings.Clean }, waitFor, tick)
	assert.Equal(t, 5.0, c.Settings().Snapshot["main"]["a"])
	assert.True(t, ts.has(notify.MsgSaveSubmitted))
	assert.Eventually(t, func() bool { return ts.has(notify.MsgSaveDone) }, waitFor, tick)

	v, ok := p.Snapshot()
	require.True(t, ok)
	assert.Equal(t, 5.0, v.State.Tables["main"]["a"])
}

func TestClient_PushWhileDirtyThenDiscard(t *testing.T) {
	p, cfg := startPeer(t)
	c := startClient(t, cfg)
	synced(t, c)

	require.NoError(t, c.EditSetting("main", "fast", true))

	env, err := envelope.New(envelope.TypeUpdateConfig, protocol.Tables{"main": {"a": 9.0, "fast": false}})
	require.NoError(t, err)
	require.NoError(t, p.Publish(env))

	require.Eventually(t, func() bool {
		v := c.Settings()
		return v.Conflict() && v.Snapshot["main"]["a"] == 9.0
	}, waitFor, tick)
	assert.Equal(t, true, c.Settings().Draft["main"]["fast"], "local edit survives the push")

	require.NoError(t, c.DiscardSettings())
	v := c.Settings()
	assert.Equal(t, settings.Clean, v.Phase)
	assert.Equal(t, 9.0, v.Draft["main"]["a"])
}

func TestClient_FuseAndAutorunEdits(t *testing.T) {
	p, cfg := startPeer(t)
	c := startClient(t, cfg)
	ts := watch(c)
	synced(t, c)

	c.Fuse().AddAmulet(11)
	c.SaveFuse()
	assert.True(t, ts.has(notify.MsgFuseSaved))

	c.Autorun().AddTargetBadge(600)
	c.SaveAutorun()

	require.Eventually(t, func() bool {
		v, _ := p.Snapshot()
		return len(v.State.Fuse.GuardSkipContains.Amulets) == 1 && len(v.State.Autorun.Targets) == 1
	}, waitFor, tick)
	assert.Equal(t, []int{11}, c.Fuse().Config().GuardSkipContains.Amulets)
	assert.Equal(t, 600, c.Autorun().Config().Targets[0].ID)
}

func TestClient_ControlFailureBecomesNotification(t *testing.T) {
	_, cfg := startPeer(t)
	c := startClient(t, cfg)
	ts := watch(c)
	synced(t, c)

	c.AutorunControl(protocol.ActionStart)
	require.Eventually(t, func() bool {
		return ts.has("Automation command refused: GAME_NOT_READY")
	}, waitFor, tick)

	c.AutorunControl(protocol.ActionProbe)
	require.Eventually(t, func() bool { return c.Autorun().Status().GameReady }, waitFor, tick)

	c.OpenConfigDir()
	require.Eventually(t, func() bool { return ts.has(notify.MsgOpenOK) }, waitFor, tick)
}

func TestClient_DiscardAdviceClearedByGameState(t *testing.T) {
	p, cfg := startPeer(t)
	c := startClient(t, cfg)
	synced(t, c)

	advice, err := envelope.New(envelope.TypeDiscardAdvice, []protocol.DiscardPlan{{Yaku: "chiitoi", Data: []byte(`{"tile":"5m"}`)}})
	require.NoError(t, err)
	require.NoError(t, p.Publish(advice))
	require.Eventually(t, func() bool { _, ok := c.Advice().Plan("chiitoi"); return ok }, waitFor, tick)

	game, err := envelope.New(envelope.TypeUpdateGameState, protocol.GameState{Stage: 1, DeckMap: map[string]string{}})
	require.NoError(t, err)
	require.NoError(t, p.Publish(game))
	require.Eventually(t, func() bool { return c.GameState().Load().Stage == 1 }, waitFor, tick)
	_, ok := c.Advice().Plan("chiitoi")
	assert.False(t, ok)
}

func TestClient_AutoSave(t *testing.T) {
	p, cfg := startPeer(t)
	cfg.Sync.AutoSave = true
	cfg.Sync.SaveDebounce = 30 * time.Millisecond
	cfg.Sync.IdleAfter = 60 * time.Millisecond
	c := startClient(t, cfg)
	synced(t, c)

	require.NoError(t, c.EditSetting("main", "a", 3))
	require.Eventually(t, func() bool {
		v, _ := p.Snapshot()
		return v.State.Tables["main"]["a"] == 3.0
	}, waitFor, tick)
	require.Eventually(t, func() bool { return c.Settings().Phase == settings.Clean }, waitFor, tick)
}

func TestClient_RegistryCacheSurvivesRestart(t *testing.T) {
	_, cfg := startPeer(t)
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.DSN = filepath.Join(t.TempDir(), "companion.db")

	c, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	c.Start()
	synced(t, c)

	// Run writes the cache in the background
	require.Eventually(t, func() bool {
		cached, err := c.db.LoadRegistry(context.Background())
		return err == nil && len(cached.Amulets) == 1
	}, waitFor, tick)
	cancel()
	require.NoError(t, <-done)
	require.NoError(t, c.Close())

	// offline: the cache alone fills the registry
	cfg.Backend.Port = 1
	again, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = again.Close() })
	a, ok := again.Registry().Amulet(11)
	require.True(t, ok)
	assert.Equal(t, "Kavi", a.Name)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.Port = 0
	_, err := New(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestClient_CloseAfterParentCancelled(t *testing.T) {
	_, cfg := startPeer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := New(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	c.Start()
	synced(t, c)

	var armed bool
	c.loop.Do(func() { armed = c.updateTimer != nil })
	require.True(t, armed)

	// what a signal does to the process context
	cancel()
	<-c.loop.Done()
	require.NoError(t, c.Close())

	assert.Nil(t, c.updateTimer)
	assert.Equal(t, conn.Closed, c.ConnState())
	assert.Empty(t, c.offs)
}

func TestClient_ActionsSendFromTheLoop(t *testing.T) {
	_, cfg := startPeer(t)
	c := startClient(t, cfg)
	synced(t, c)

	frameSeen := make(chan struct{})
	var once sync.Once
	off := c.conn.OnFrame(func(f conn.Frame) {
		if env, err := envelope.Decode(f.Text); err == nil && env.Type == envelope.TypeOpenConfigDir {
			once.Do(func() { close(frameSeen) })
		}
	})
	defer off()

	// hold the loop so a frame listener could only run off it
	release := make(chan struct{})
	require.True(t, c.loop.Post(func() { <-release }))
	go c.OpenConfigDir()

	select {
	case <-frameSeen:
		t.Fatal("frame listener ran while the loop was busy")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-frameSeen:
	case <-time.After(waitFor):
		t.Fatal("open_config_dir was never sent")
	}
}
