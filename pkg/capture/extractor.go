package capture

import (
	"bytes"
	"encoding/json"

	"github.com/rs/zerolog"
)

// Buffer ceilings for the frame extractor. A buffer with no JSON start
// marker past garbageCeiling is noise and gets cleared; a buffer past
// hardCeiling is truncated to the newest keepBytes even while frames are
// still being found. Truncation may lose frames; that is the accepted
// lossy-degradation policy, not a fatal condition.
const (
	garbageCeiling = 10000
	hardCeiling    = 100000
	keepBytes      = 50000
)

// FrameExtractor consumes arbitrary-sized byte chunks from the capture
// subprocess stdout and emits complete JSON values as they become
// available, tolerating frames split across chunk boundaries. Arrays are
// exploded into their elements; objects are emitted as single frames.
//
// The nesting scan counts matching delimiter pairs without full string
// awareness; the wire format is the capture tool's own JSON, which never
// embeds unbalanced braces in the exported fields.
type FrameExtractor struct {
	buffer []byte
	emit   func(json.RawMessage)
	logger zerolog.Logger
}

// NewFrameExtractor creates an extractor that calls emit once per
// complete frame.
func NewFrameExtractor(logger zerolog.Logger, emit func(json.RawMessage)) *FrameExtractor {
	return &FrameExtractor{
		emit:   emit,
		logger: logger.With().Str("component", "frame_extractor").Logger(),
	}
}

// Feed consumes one chunk of subprocess output.
func (fe *FrameExtractor) Feed(chunk []byte) {
	trimmed := bytes.TrimSpace(chunk)
	if len(trimmed) == 0 {
		return
	}

	// Fast path: the chunk is itself a complete array or object. Common
	// when the subprocess flushes one frame per write.
	if len(fe.buffer) == 0 && isComplete(trimmed) {
		if fe.emitValue(trimmed) {
			return
		}
	}

	fe.buffer = append(fe.buffer, chunk...)
	fe.drain()
}

// drain repeatedly extracts complete frames from the buffer until only a
// partial frame (or nothing) remains.
func (fe *FrameExtractor) drain() {
	// Terminates: every successful extractOne strictly shrinks the buffer.
	for fe.extractOne() {
	}

	if start := indexJSONStart(fe.buffer); start < 0 && len(fe.buffer) > garbageCeiling {
		fe.logger.Warn().Int("size", len(fe.buffer)).Msg("Clearing buffer with no JSON start marker")
		fe.buffer = nil
	}

	if len(fe.buffer) > hardCeiling {
		fe.logger.Warn().Int("size", len(fe.buffer)).Msg("Buffer over hard ceiling, truncating to newest bytes")
		fe.buffer = append([]byte(nil), fe.buffer[len(fe.buffer)-keepBytes:]...)
	}
}

// extractOne scans for the first complete JSON value in the buffer.
// Returns true when the buffer changed and scanning should continue.
func (fe *FrameExtractor) extractOne() bool {
	start := indexJSONStart(fe.buffer)
	if start < 0 {
		return false
	}

	open := fe.buffer[start]
	closer := byte('}')
	if open == '[' {
		closer = ']'
	}

	depth := 0
	end := -1
	for i := start; i < len(fe.buffer); i++ {
		switch fe.buffer[i] {
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				end = i
			}
		}
		if end >= 0 {
			break
		}
	}
	if end < 0 {
		// Partial frame awaiting more bytes.
		return false
	}

	candidate := fe.buffer[start : end+1]
	if fe.emitValue(candidate) {
		fe.buffer = append([]byte(nil), fe.buffer[end+1:]...)
		return true
	}

	// Malformed candidate: advance past its opening delimiter and keep
	// scanning so one bad frame cannot wedge the extractor.
	fe.logger.Debug().Int("size", len(candidate)).Msg("Discarding malformed frame candidate")
	fe.buffer = append([]byte(nil), fe.buffer[start+1:]...)
	return true
}

// emitValue parses a candidate frame and emits it (array elements
// individually, objects as a single frame). Returns false when the
// candidate is not valid JSON.
func (fe *FrameExtractor) emitValue(candidate []byte) bool {
	if candidate[0] == '[' {
		var elements []json.RawMessage
		if err := json.Unmarshal(candidate, &elements); err != nil {
			return false
		}
		for _, el := range elements {
			// Copy: the candidate may alias a reused read buffer.
			fe.emit(json.RawMessage(append([]byte(nil), el...)))
		}
		return true
	}

	if !json.Valid(candidate) {
		return false
	}
	fe.emit(json.RawMessage(append([]byte(nil), candidate...)))
	return true
}

func isComplete(trimmed []byte) bool {
	if len(trimmed) < 2 {
		return false
	}
	first, last := trimmed[0], trimmed[len(trimmed)-1]
	return (first == '{' && last == '}') || (first == '[' && last == ']')
}

func indexJSONStart(buf []byte) int {
	obj := bytes.IndexByte(buf, '{')
	arr := bytes.IndexByte(buf, '[')
	switch {
	case obj < 0:
		return arr
	case arr < 0:
		return obj
	case arr < obj:
		return arr
	default:
		return obj
	}
}
