package analysis

import (
	"sync"

	"github.com/netsentry/netsentry/pkg/packet"
)

// DefaultWindowSize bounds how many packets the sliding window holds.
const DefaultWindowSize = 1000

// Window is a bounded, concurrency-safe sliding window over the most
// recently captured packets. Capture appends to it while the analysis
// loop snapshots it, so all access is behind a lock.
type Window struct {
	mu       sync.RWMutex
	packets  []packet.Packet
	capacity int
}

// NewWindow creates a window holding at most capacity packets.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &Window{
		packets:  make([]packet.Packet, 0, capacity),
		capacity: capacity,
	}
}

// Append adds a packet, evicting the oldest when the window is full.
func (w *Window) Append(p packet.Packet) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.packets = append(w.packets, p)
	if len(w.packets) > w.capacity {
		w.packets = w.packets[len(w.packets)-w.capacity:]
	}
}

// Replace swaps the window contents for a refreshed view, keeping only
// the newest capacity packets. The input is ordered newest-first as
// storage returns it, so it is reversed to keep the window oldest-first.
func (w *Window) Replace(packets []packet.Packet) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(packets) > w.capacity {
		packets = packets[:w.capacity]
	}
	w.packets = w.packets[:0]
	for i := len(packets) - 1; i >= 0; i-- {
		w.packets = append(w.packets, packets[i])
	}
}

// Snapshot returns a copy of the current window, oldest first.
func (w *Window) Snapshot() []packet.Packet {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]packet.Packet, len(w.packets))
	copy(out, w.packets)
	return out
}

// Len reports how many packets the window currently holds.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.packets)
}
