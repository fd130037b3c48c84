package models

import "sync"

// progressBufferSize is the per-subscriber event buffer. When a subscriber
// falls behind, its oldest buffered event is dropped; the transfer loop
// never blocks on a slow consumer.
const progressBufferSize = 64

// progressBroker fans out DownloadProgress events to subscribers.
// Constructed once per Manager and shared by all transfers.
type progressBroker struct {
	mu     sync.Mutex
	subs   map[int]chan DownloadProgress
	nextID int
	closed bool
}

// newProgressBroker creates an empty broker.
func newProgressBroker() *progressBroker {
	return &progressBroker{
		subs: make(map[int]chan DownloadProgress),
	}
}

// subscribe registers a new subscriber. The returned cancel func must be
// called when the subscriber is done; it closes the channel.
func (b *progressBroker) subscribe() (<-chan DownloadProgress, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan DownloadProgress, progressBufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// publish delivers an event to every subscriber without ever blocking.
// A full subscriber buffer drops its oldest event to make room.
func (b *progressBroker) publish(p DownloadProgress) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- p:
		default:
			// Drop-oldest: evict one event, then try once more. Events for
			// a filename stay monotonic because newer events carry larger
			// byte counts.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- p:
			default:
			}
		}
	}
}

// close shuts down the broker and closes every subscriber channel.
func (b *progressBroker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
