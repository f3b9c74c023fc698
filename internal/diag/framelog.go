// Package diag keeps the recent wire traffic for troubleshooting.
package diag

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/shanten-tools/companion/internal/conn"
	"github.com/shanten-tools/companion/internal/envelope"
)

const (
	DefaultCapacity = 2000
	sinkQueue       = 256
)

type Entry struct {
	At  time.Time
	Dir envelope.Direction
	Raw string
}

// Sink persists retained frames. storage.Store implements it.
type Sink interface {
	AppendFrame(ctx context.Context, at time.Time, dir envelope.Direction, raw string) error
	PruneFrames(ctx context.Context, keep int) error
}

type Option func(*FrameLog)

func WithCapacity(n int) Option {
	return func(l *FrameLog) {
		if n > 0 {
			l.capacity = n
		}
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(l *FrameLog) { l.clock = c }
}

func WithLogger(log *zap.Logger) Option {
	return func(l *FrameLog) { l.log = log }
}

// WithSink forwards every retained frame to s. Forwarding happens in Run.
func WithSink(s Sink) Option {
	return func(l *FrameLog) { l.sink = s }
}

// FrameLog is a fixed-size ring of frames in both directions, minus
// heartbeats.
type FrameLog struct {
	capacity int
	clock    clockwork.Clock
	log      *zap.Logger
	sink     Sink
	queue    chan Entry
	dropped  atomic.Int64

	mu    sync.Mutex
	ring  []Entry
	start int
}

func New(opts ...Option) *FrameLog {
	l := &FrameLog{
		capacity: DefaultCapacity,
		clock:    clockwork.NewRealClock(),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.Named("diag")
	if l.sink != nil {
		l.queue = make(chan Entry, sinkQueue)
	}
	return l
}

// Record is a conn.Supervisor frame listener.
func (l *FrameLog) Record(f conn.Frame) {
	if envelope.IsKeepAlive(f.Text) {
		return
	}
	e := Entry{At: l.clock.Now(), Dir: f.Dir, Raw: f.Text}

	l.mu.Lock()
	if len(l.ring) < l.capacity {
		l.ring = append(l.ring, e)
	} else {
		l.ring[l.start] = e
		l.start = (l.start + 1) % l.capacity
	}
	l.mu.Unlock()

	if l.queue == nil {
		return
	}
	select {
	case l.queue <- e:
	default:
		l.dropped.Add(1)
	}
}

// Frames returns the retained frames, oldest first.
func (l *FrameLog) Frames() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, len(l.ring))
	out = append(out, l.ring[l.start:]...)
	return append(out, l.ring[:l.start]...)
}

func (l *FrameLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ring)
}

// Clear empties the ring. Persisted frames are left alone.
func (l *FrameLog) Clear() {
	l.mu.Lock()
	l.ring = nil
	l.start = 0
	l.mu.Unlock()
}

// Dropped counts frames the sink could not keep up with.
func (l *FrameLog) Dropped() int64 { return l.dropped.Load() }

// Run forwards frames to the sink until ctx is done. Without a sink it
// just waits.
func (l *FrameLog) Run(ctx context.Context) error {
	if l.queue == nil {
		<-ctx.Done()
		return nil
	}
	written := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-l.queue:
			if err := l.sink.AppendFrame(ctx, e.At, e.Dir, e.Raw); err != nil {
				l.log.Warn("persist frame", zap.Error(err))
				continue
			}
			written++
			if written%l.capacity == 0 {
				if err := l.sink.PruneFrames(ctx, l.capacity); err != nil {
					l.log.Warn("prune frames", zap.Error(err))
				}
			}
		}
	}
}
