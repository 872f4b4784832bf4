package capture

import (
	"encoding/json"
	"testing"

	"github.com/netsentry/netsentry/pkg/packet"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	packets []packet.Packet
}

func (f *fakeQueue) Enqueue(p packet.Packet) {
	f.packets = append(f.packets, p)
}

type fakeWindow struct {
	packets []packet.Packet
}

func (f *fakeWindow) Append(p packet.Packet) {
	f.packets = append(f.packets, p)
}

func TestHandleFrameFansOutValidPacket(t *testing.T) {
	queue := &fakeQueue{}
	window := &fakeWindow{}
	in := NewIngestor(queue, window, zerolog.Nop())

	in.HandleFrame(json.RawMessage(`{
		"layers": {
			"ip.src": ["192.168.1.1"],
			"ip.dst": ["10.0.0.5"],
			"tcp.srcport": ["80"],
			"tcp.dstport": ["443"],
			"frame.len": ["64"],
			"_ws.col.protocol": ["TCP"]
		}
	}`))

	require.Len(t, queue.packets, 1)
	require.Len(t, window.packets, 1)
	assert.Equal(t, "192.168.1.1", queue.packets[0].SourceIP)
	assert.Equal(t, queue.packets[0].ID, window.packets[0].ID)
}

func TestHandleFrameDropsUnparseable(t *testing.T) {
	queue := &fakeQueue{}
	window := &fakeWindow{}
	in := NewIngestor(queue, window, zerolog.Nop())

	in.HandleFrame(json.RawMessage(`{"unknown": "shape"}`))

	assert.Empty(t, queue.packets)
	assert.Empty(t, window.packets)
}

func TestHandleFrameDropsInvalidPacket(t *testing.T) {
	queue := &fakeQueue{}
	window := &fakeWindow{}
	in := NewIngestor(queue, window, zerolog.Nop())

	// Zero length fails validation.
	in.HandleFrame(json.RawMessage(`{
		"layers": {
			"ip.src": ["192.168.1.1"],
			"ip.dst": ["10.0.0.5"]
		}
	}`))

	assert.Empty(t, queue.packets)
	assert.Empty(t, window.packets)
}
