package models

import (
	"testing"
	"time"
)

func TestProgressBroker(t *testing.T) {
	t.Run("delivers to all subscribers", func(t *testing.T) {
		b := newProgressBroker()
		ch1, cancel1 := b.subscribe()
		ch2, cancel2 := b.subscribe()
		defer cancel1()
		defer cancel2()

		event := DownloadProgress{Filename: "model.gguf", BytesDownloaded: 10, BytesTotal: 100, Percent: 10}
		b.publish(event)

		for i, ch := range []<-chan DownloadProgress{ch1, ch2} {
			select {
			case got := <-ch:
				if got != event {
					t.Errorf("subscriber %d got %+v", i, got)
				}
			case <-time.After(time.Second):
				t.Fatalf("subscriber %d never received the event", i)
			}
		}
	})

	t.Run("publish never blocks on a slow subscriber", func(t *testing.T) {
		b := newProgressBroker()
		_, cancel := b.subscribe()
		defer cancel()

		done := make(chan struct{})
		go func() {
			defer close(done)
			// Nobody reads; the buffer fills and older events are dropped.
			for i := 0; i < progressBufferSize*3; i++ {
				b.publish(DownloadProgress{Filename: "model.gguf", BytesDownloaded: int64(i)})
			}
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("publish blocked on a full subscriber buffer")
		}
	})

	t.Run("drop-oldest keeps the newest events", func(t *testing.T) {
		b := newProgressBroker()
		ch, cancel := b.subscribe()
		defer cancel()

		total := progressBufferSize * 2
		for i := 1; i <= total; i++ {
			b.publish(DownloadProgress{Filename: "model.gguf", BytesDownloaded: int64(i)})
		}

		// Drain what survived; byte counts must still be non-decreasing and
		// end at the newest event.
		var last int64
		for {
			select {
			case p := <-ch:
				if p.BytesDownloaded < last {
					t.Fatalf("byte counts regressed: %d after %d", p.BytesDownloaded, last)
				}
				last = p.BytesDownloaded
			default:
				if last != int64(total) {
					t.Errorf("newest surviving event = %d, want %d", last, total)
				}
				return
			}
		}
	})

	t.Run("cancel closes the channel", func(t *testing.T) {
		b := newProgressBroker()
		ch, cancel := b.subscribe()

		cancel()
		if _, ok := <-ch; ok {
			t.Error("channel still open after cancel")
		}

		// Cancel twice is safe.
		cancel()
	})

	t.Run("close closes every subscriber", func(t *testing.T) {
		b := newProgressBroker()
		ch1, _ := b.subscribe()
		ch2, _ := b.subscribe()

		b.close()
		if _, ok := <-ch1; ok {
			t.Error("ch1 still open after close")
		}
		if _, ok := <-ch2; ok {
			t.Error("ch2 still open after close")
		}

		// Subscribing after close yields a closed channel, not a deadlock.
		ch3, cancel3 := b.subscribe()
		if _, ok := <-ch3; ok {
			t.Error("post-close subscription is open")
		}
		cancel3()

		// Publishing after close is a no-op.
		b.publish(DownloadProgress{Filename: "model.gguf"})
		b.close()
	})
}
