package events

import "sync"

// RingBuffer is a fixed-capacity, thread-safe ring buffer for Detections.
// When the buffer is full, the oldest entry is evicted to make room.
// All methods are safe for concurrent use.
type RingBuffer struct {
	mu    sync.RWMutex
	items []Detection
	cap   int
	head  int // index of the oldest element
	count int // number of elements currently stored
}

// NewRingBuffer creates a new RingBuffer with the given capacity.
// Capacity must be at least 1.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		items: make([]Detection, capacity),
		cap:   capacity,
	}
}

// Add inserts a detection. If the buffer is full, the oldest is overwritten.
func (rb *RingBuffer) Add(d Detection) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count == rb.cap {
		rb.items[rb.head] = d
		rb.head = (rb.head + 1) % rb.cap
		return
	}
	rb.items[(rb.head+rb.count)%rb.cap] = d
	rb.count++
}

// ListAll returns all detections oldest first.
func (rb *RingBuffer) ListAll() []Detection {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.listLocked()
}

// ListAlerts returns only the alerting detections, oldest first.
func (rb *RingBuffer) ListAlerts() []Detection {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var result []Detection
	for _, d := range rb.listLocked() {
		if d.IsAlert {
			result = append(result, d)
		}
	}
	return result
}

// ListBySession returns the detections recorded during sessionID.
func (rb *RingBuffer) ListBySession(sessionID string) []Detection {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var result []Detection
	for _, d := range rb.listLocked() {
		if d.SessionID == sessionID {
			result = append(result, d)
		}
	}
	return result
}

// Latest returns the most recent detection.
func (rb *RingBuffer) Latest() (Detection, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.count == 0 {
		return Detection{}, false
	}
	return rb.items[(rb.head+rb.count-1)%rb.cap], true
}

// AlertRatio returns the share of buffered detections that alerted, in
// 0-1. An empty buffer yields 0.
func (rb *RingBuffer) AlertRatio() float64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.count == 0 {
		return 0
	}
	alerts := 0
	for i := 0; i < rb.count; i++ {
		if rb.items[(rb.head+i)%rb.cap].IsAlert {
			alerts++
		}
	}
	return float64(alerts) / float64(rb.count)
}

// Clear drops every entry.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.head, rb.count = 0, 0
	rb.items = make([]Detection, rb.cap)
}

// Len returns the number of detections currently buffered.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Cap returns the capacity of the buffer.
func (rb *RingBuffer) Cap() int {
	return rb.cap
}

// listLocked returns all detections oldest first.
// Caller must hold at least a read lock.
func (rb *RingBuffer) listLocked() []Detection {
	if rb.count == 0 {
		return nil
	}
	result := make([]Detection, rb.count)
	for i := 0; i < rb.count; i++ {
		result[i] = rb.items[(rb.head+i)%rb.cap]
	}
	return result
}
