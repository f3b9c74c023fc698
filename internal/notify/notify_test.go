package notify

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/shanten-tools/companion/internal/dispatch"
	"github.com/shanten-tools/companion/internal/envelope"
	"github.com/shanten-tools/companion/pkg/protocol"
)

func collect(c *Center) *[]Notification {
	var got []Notification
	c.Subscribe(func(n Notification) { got = append(got, n) })
	return &got
}

func TestMatch(t *testing.T) {
	assert.Equal(t, language.SimplifiedChinese, Match("zh-CN"))
	assert.Equal(t, language.Japanese, Match("ja-JP"))
	assert.Equal(t, language.English, Match("en-US"))
	assert.Equal(t, language.English, Match("not a tag!"))
}

func TestCenter_LocalizesAndFormats(t *testing.T) {
	zh := NewCenter("zh-CN")
	got := collect(zh)
	zh.Push(protocol.ToastError, MsgOpenFailed, "denied")
	require.Len(t, *got, 1)
	assert.Equal(t, "打开配置目录失败：denied", (*got)[0].Message)
	assert.Equal(t, protocol.ToastError, (*got)[0].Kind)

	en := NewCenter("en")
	got = collect(en)
	en.Push(protocol.ToastSuccess, MsgSaveDone)
	assert.Equal(t, "Settings saved", (*got)[0].Message)
}

func TestCenter_CurrentExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewCenter("en", WithClock(clock))
	_, ok := c.Current()
	assert.False(t, ok)

	c.PushText("", "hello", 0)
	cur, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, protocol.ToastInfo, cur.Kind)
	assert.Equal(t, DefaultDuration, cur.Duration)
	assert.NotEmpty(t, cur.ID)

	c.PushText(protocol.ToastInfo, "second", time.Second)
	cur, _ = c.Current()
	assert.Equal(t, "second", cur.Message, "a new notice replaces the visible one")

	clock.Advance(time.Second)
	_, ok = c.Current()
	assert.False(t, ok)
}

func TestBridge(t *testing.T) {
	d := dispatch.New(nil)
	c := NewCenter("en")
	got := collect(c)
	off := Bridge(d, c)

	mk := func(typ string, payload any) envelope.Envelope {
		env, err := envelope.New(typ, payload)
		require.NoError(t, err)
		return env
	}
	d.Dispatch(mk(envelope.TypeUIToast, protocol.Toast{Msg: "from peer", Kind: protocol.ToastSuccess, Duration: 500}))
	d.Dispatch(mk(envelope.TypeOpenResult, protocol.OpenResult{OK: true}))
	d.Dispatch(mk(envelope.TypeOpenResult, protocol.OpenResult{Error: "no such dir"}))
	d.Dispatch(mk(envelope.TypeAutorunControlResult, protocol.ControlResult{OK: true}))
	d.Dispatch(mk(envelope.TypeAutorunControlResult, protocol.ControlResult{Reason: "GAME_NOT_READY"}))

	require.Len(t, *got, 4)
	assert.Equal(t, "from peer", (*got)[0].Message)
	assert.Equal(t, 500*time.Millisecond, (*got)[0].Duration)
	assert.Equal(t, MsgOpenOK, (*got)[1].Message)
	assert.Equal(t, "Could not open config folder: no such dir", (*got)[2].Message)
	assert.Equal(t, "Automation command refused: GAME_NOT_READY", (*got)[3].Message)

	off()
	d.Dispatch(mk(envelope.TypeUIToast, protocol.Toast{Msg: "late"}))
	assert.Len(t, *got, 4)
}
