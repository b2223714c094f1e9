package browser

import (
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

// Frame is one broadcast screencast frame.
type Frame struct {
	SessionID string
	Data      string // base64 JPEG, as delivered by CDP
	Timestamp int64  // unix millis
}

// Broadcaster fans out screencast frames to every subscriber. It is a single
// process-wide component: the CDP screencastFrame stream from every session's
// active tab is published here, and subscribers (WebSocket clients) do not
// distinguish sessions except by the SessionID field on each frame.
//
// Back-pressure is accepted as frame loss, not queue growth: a subscriber
// whose channel is full has the new frame dropped rather than blocking the
// broadcaster, and a send to a channel nobody drains anymore never blocks
// frame acknowledgement back to CDP.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Frame]struct{}
	bufferSize  int
}

// NewBroadcaster constructs a broadcaster whose subscriber channels are each
// bounded to bufferSize frames.
func NewBroadcaster(bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Broadcaster{
		subscribers: map[chan Frame]struct{}{},
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a new subscriber and returns its channel along with an
// unsubscribe function the caller must invoke when done reading.
func (b *Broadcaster) Subscribe() (<-chan Frame, func()) {
	ch := make(chan Frame, b.bufferSize)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subscribers, ch)
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish delivers a frame to every current subscriber, dropping it for any
// subscriber whose channel is already full.
func (b *Broadcaster) Publish(f Frame) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- f:
		default:
		}
	}
}

// SubscriberCount reports how many subscribers are currently attached, for
// the screencast-subscriber metrics gauge.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// StartScreencast begins streaming screencastFrame events from the session's
// active tab into the broadcaster. It runs until the page closes.
func (m *SessionManager) StartScreencast(sess *Session, broadcaster *Broadcaster) error {
	page, err := sess.ActivePage()
	if err != nil {
		return err
	}

	quality := 80
	everyNth := 1
	if err := (proto.PageStartScreencast{
		Format:        proto.PageStartScreencastFormatJpeg,
		Quality:       &quality,
		EveryNthFrame: &everyNth,
	}).Call(page); err != nil {
		return err
	}

	go page.EachEvent(func(e *proto.PageScreencastFrame) {
		broadcaster.Publish(Frame{
			SessionID: sess.ID,
			Data:      e.Data,
			Timestamp: time.Now().UnixMilli(),
		})
		_ = proto.PageScreencastFrameAck{SessionID: e.SessionID}.Call(page)
	})()
	return nil
}
