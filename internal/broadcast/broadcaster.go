// Package broadcast decouples one frame producer from any number of
// stream viewers. Frames are pushed, never pulled: the capture loop is
// the only reader of the camera device, and each subscriber holds a
// single-frame slot that is overwritten when it falls behind.
//
// Drop frames, never queue. Freshness over completeness.
package broadcast

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"holocam-go/internal/camera"
)

// Subscription is the handle bound to one connected viewer. Frames
// arrive on C; the channel is closed on Unsubscribe.
type Subscription struct {
	ID uuid.UUID
	C  <-chan *camera.Frame

	ch chan *camera.Frame
}

// Stats counts delivery outcomes across all subscribers.
type Stats struct {
	Published uint64 `json:"frames_published_total"`
	Sent      uint64 `json:"frames_sent_total"`
	Dropped   uint64 `json:"frames_dropped_total"`
	Captures  uint64 `json:"captures_total"`
	Errors    uint64 `json:"capture_errors_total"`
}

// Broadcaster runs the capture loop and fans frames out.
type Broadcaster struct {
	src            camera.Source
	interval       time.Duration
	captureTimeout time.Duration

	// captureMu serializes all access to the camera device: the loop's
	// captures, one-off snapshots and nothing else.
	captureMu sync.Mutex

	mu      sync.Mutex
	subs    map[uuid.UUID]*Subscription
	cancel  context.CancelFunc
	done    chan struct{}
	latest  *camera.Frame
	running bool

	published atomic.Uint64
	sent      atomic.Uint64
	dropped   atomic.Uint64
	captures  atomic.Uint64
	errors    atomic.Uint64
}

func New(src camera.Source, rate float64) *Broadcaster {
	if rate <= 0 {
		rate = 20
	}
	return &Broadcaster{
		src:            src,
		interval:       time.Duration(float64(time.Second) / rate),
		captureTimeout: 2 * time.Second,
		subs:           make(map[uuid.UUID]*Subscription),
	}
}

// Start launches the capture loop. Calling Start on a running
// broadcaster is a no-op.
func (b *Broadcaster) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	b.running = true
	go b.loop(loopCtx, b.done)
}

// Stop halts the capture loop and waits for it to exit. Stopping a
// stopped broadcaster is a no-op. Subscriptions survive a stop.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancel
	done := b.done
	b.mu.Unlock()

	cancel()
	<-done
}

func (b *Broadcaster) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := b.capture(ctx)
			if err != nil {
				b.errors.Add(1)
				if ctx.Err() == nil {
					log.Printf("broadcast: capture failed: %v", err)
				}
				continue
			}
			b.publish(frame)
		}
	}
}

func (b *Broadcaster) capture(ctx context.Context) (*camera.Frame, error) {
	b.captureMu.Lock()
	defer b.captureMu.Unlock()
	captureCtx, cancel := context.WithTimeout(ctx, b.captureTimeout)
	defer cancel()
	frame, err := b.src.CaptureFrame(captureCtx)
	if err != nil {
		return nil, err
	}
	b.captures.Add(1)
	b.mu.Lock()
	b.latest = frame
	b.mu.Unlock()
	return frame, nil
}

func (b *Broadcaster) publish(frame *camera.Frame) {
	b.published.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- frame:
			b.sent.Add(1)
		default:
			// Slot full: evict the stale frame so the subscriber sees
			// the newest one when it next reads.
			select {
			case <-sub.ch:
				b.dropped.Add(1)
			default:
			}
			select {
			case sub.ch <- frame:
				b.sent.Add(1)
			default:
				b.dropped.Add(1)
			}
		}
	}
}

// Subscribe registers a new viewer.
func (b *Broadcaster) Subscribe() *Subscription {
	ch := make(chan *camera.Frame, 1)
	sub := &Subscription{
		ID: uuid.New(),
		C:  ch,
		ch: ch,
	}
	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a viewer and closes its channel. Removing an
// already-removed handle is a no-op.
func (b *Broadcaster) Unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Snapshot performs a one-off capture, independent of the broadcast
// cadence and usable when no stream is active. It shares the capture
// mutex with the loop so the device handle is never raced.
func (b *Broadcaster) Snapshot(ctx context.Context) (*camera.Frame, error) {
	return b.capture(ctx)
}

// Latest returns the most recently captured frame, or nil before the
// first capture.
func (b *Broadcaster) Latest() *camera.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Sent:      b.sent.Load(),
		Dropped:   b.dropped.Load(),
		Captures:  b.captures.Load(),
		Errors:    b.errors.Load(),
	}
}
