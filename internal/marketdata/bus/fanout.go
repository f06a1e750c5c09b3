// Package bus broadcasts the live candle stream (and session events) to
// any number of subscribers without letting a slow one stall the sender.
package bus

import (
	"log/slog"
	"sync"
)

// FanOut broadcasts values to N subscriber channels.
// If a subscriber channel is full, the value is dropped for that
// subscriber to prevent a slow consumer from blocking the pipeline.
type FanOut[T any] struct {
	mu      sync.RWMutex
	outputs map[int]chan T
	nextID  int
	bufSize int
	closed  bool

	// Name labels drop warnings.
	Name string

	// OnDrop is called when a value is dropped for a subscriber.
	OnDrop func(subscriberID int)
}

// New creates a FanOut with the given buffer size for output channels.
func New[T any](outputBufferSize int) *FanOut[T] {
	return &FanOut[T]{
		outputs: make(map[int]chan T),
		bufSize: outputBufferSize,
	}
}

// Subscribe creates a new output channel. The returned cancel func
// unsubscribes and closes the channel; it is safe to call more than once.
func (f *FanOut[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, f.bufSize)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := f.nextID
	f.nextID++
	f.outputs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { f.unsubscribe(id) })
	}
}

func (f *FanOut[T]) unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.outputs[id]; ok {
		delete(f.outputs, id)
		close(ch)
	}
}

// Publish delivers v to every subscriber without blocking.
func (f *FanOut[T]) Publish(v T) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for id, ch := range f.outputs {
		select {
		case ch <- v:
		default:
			if f.OnDrop != nil {
				f.OnDrop(id)
			} else {
				slog.Warn("subscriber channel full, dropping",
					slog.String("component", "bus"),
					slog.String("bus", f.Name),
					slog.Int("subscriber", id))
			}
		}
	}
}

// Close closes every subscriber channel. Later Subscribe calls get a
// closed channel.
func (f *FanOut[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.outputs {
		close(ch)
		delete(f.outputs, id)
	}
}

// ChannelStat reports (length, capacity) of one subscriber channel.
// Used for reporting channel saturation percentage.
type ChannelStat struct {
	Len int
	Cap int
}

// ChannelStats returns one ChannelStat per live subscriber.
func (f *FanOut[T]) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, 0, len(f.outputs))
	for _, ch := range f.outputs {
		stats = append(stats, ChannelStat{Len: len(ch), Cap: cap(ch)})
	}
	return stats
}
