package service

import (
	"sync"

	"principales/internal/constants"
	"principales/internal/metrics"
	"principales/internal/models"
)

// MessageHub fans stored chat messages out to live web clients
type MessageHub struct {
	mu     sync.RWMutex
	subs   map[chan models.ChatMessage]struct{}
	buffer int
}

func NewMessageHub(buffer int) *MessageHub {
	if buffer <= 0 {
		buffer = constants.DefaultStreamSubscriberBuffer
	}
	return &MessageHub{
		subs:   make(map[chan models.ChatMessage]struct{}),
		buffer: buffer,
	}
}

// Publish never blocks. A subscriber with a full buffer misses the message
// and catches up through the updates endpoint.
func (h *MessageHub) Publish(msg models.ChatMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
			metrics.IncrementCounter("stream_messages_dropped_total", nil, "Stream messages dropped for slow clients")
		}
	}
}

// Subscribe registers a listener. The returned func unsubscribes and closes the channel.
func (h *MessageHub) Subscribe() (<-chan models.ChatMessage, func()) {
	ch := make(chan models.ChatMessage, h.buffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	count := len(h.subs)
	h.mu.Unlock()
	metrics.SetGauge("stream_subscribers", float64(count), nil, "Connected stream clients")

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			close(ch)
			count := len(h.subs)
			h.mu.Unlock()
			metrics.SetGauge("stream_subscribers", float64(count), nil, "Connected stream clients")
		})
	}
}

func (h *MessageHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
