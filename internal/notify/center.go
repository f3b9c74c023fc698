// Package notify turns backend packets and local events into short
// user-facing notices. Only one notice is visible at a time; a new one
// replaces the previous.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/shanten-tools/companion/internal/pubsub"
	"github.com/shanten-tools/companion/pkg/protocol"
)

const DefaultDuration = 2200 * time.Millisecond

type Notification struct {
	ID       string
	Kind     protocol.ToastKind
	Message  string
	Duration time.Duration
	At       time.Time
}

func (n Notification) Expired(now time.Time) bool {
	return !now.Before(n.At.Add(n.Duration))
}

type Option func(*Center)

func WithClock(c clockwork.Clock) Option {
	return func(n *Center) { n.clock = c }
}

func WithLogger(log *zap.Logger) Option {
	return func(n *Center) { n.log = log }
}

type Center struct {
	printer *message.Printer
	lang    language.Tag
	clock   clockwork.Clock
	log     *zap.Logger
	subs    *pubsub.Registry[Notification]

	mu   sync.Mutex
	last *Notification
}

// NewCenter builds a center speaking the supported language closest to
// lang (a BCP 47 tag such as "zh-CN"); unknown tags fall back to English.
func NewCenter(lang string, opts ...Option) *Center {
	c := &Center{clock: clockwork.NewRealClock(), log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("notify")
	c.lang = Match(lang)
	c.printer = message.NewPrinter(c.lang, message.Catalog(messages))
	c.subs = pubsub.NewRegistry[Notification](c.log)
	return c
}

func (c *Center) Language() language.Tag { return c.lang }

// Push shows the catalog message for key formatted with args.
func (c *Center) Push(kind protocol.ToastKind, key string, args ...any) {
	c.emit(kind, c.printer.Sprintf(key, args...), DefaultDuration)
}

// PushText shows text verbatim. A non-positive duration means the
// default.
func (c *Center) PushText(kind protocol.ToastKind, text string, d time.Duration) {
	if d <= 0 {
		d = DefaultDuration
	}
	c.emit(kind, text, d)
}

// Current returns the visible notice, if any.
func (c *Center) Current() (Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil || c.last.Expired(c.clock.Now()) {
		return Notification{}, false
	}
	return *c.last, true
}

func (c *Center) Subscribe(fn func(Notification)) func() { return c.subs.Add(fn) }

func (c *Center) emit(kind protocol.ToastKind, text string, d time.Duration) {
	if kind == "" {
		kind = protocol.ToastInfo
	}
	n := Notification{
		ID:       uuid.NewString(),
		Kind:     kind,
		Message:  text,
		Duration: d,
		At:       c.clock.Now(),
	}
	c.mu.Lock()
	c.last = &n
	c.mu.Unlock()
	c.log.Debug("notice", zap.String("kind", string(kind)), zap.String("msg", text))
	c.subs.Notify(n)
}
