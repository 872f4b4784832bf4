package capture

import (
	"encoding/json"

	"github.com/netsentry/netsentry/pkg/nserrors"
	"github.com/netsentry/netsentry/pkg/packet"
	"github.com/rs/zerolog"
)

// PacketQueue receives validated packets for batched persistence.
type PacketQueue interface {
	Enqueue(p packet.Packet)
}

// PacketWindow receives validated packets for in-memory analysis.
type PacketWindow interface {
	Append(p packet.Packet)
}

// Ingestor bridges extracted frames to the rest of the pipeline:
// normalize, validate, then fan out to the persister queue and the
// recent-packet window. Structural input problems are handled here by
// dropping the offending packet; nothing propagates upstream.
type Ingestor struct {
	queue  PacketQueue
	window PacketWindow
	logger zerolog.Logger
}

// NewIngestor creates the frame handler used by the capture session and
// the spool watcher.
func NewIngestor(queue PacketQueue, window PacketWindow, logger zerolog.Logger) *Ingestor {
	return &Ingestor{
		queue:  queue,
		window: window,
		logger: logger.With().Str("component", "ingest").Logger(),
	}
}

// HandleFrame processes one extracted JSON frame.
func (in *Ingestor) HandleFrame(raw json.RawMessage) {
	p := packet.Normalize(raw)

	if p.IsDefault() {
		in.logger.Debug().Err(nserrors.NewInputError("ingest", p.Error)).Msg("Dropping unparseable frame")
		return
	}

	if !packet.Validate(&p) {
		in.logger.Debug().
			Str("source_ip", p.SourceIP).
			Str("destination_ip", p.DestinationIP).
			Int("length", p.Length).
			Msg("Dropping invalid packet")
		return
	}

	in.queue.Enqueue(p)
	in.window.Append(p)
}
