package storage

import (
	"context"
	"time"

	"github.com/netsentry/netsentry/pkg/config"
	"github.com/netsentry/netsentry/pkg/nserrors"
	"github.com/netsentry/netsentry/pkg/packet"
	"github.com/rs/zerolog"
)

// PacketCreator is the slice of the store the persister needs.
type PacketCreator interface {
	CreatePackets(ctx context.Context, packets []packet.Packet) (int, error)
}

// BatchPersister decouples capture from storage: packets are enqueued
// without blocking and written in batches, either when a batch fills or
// on the flush interval. A full queue drops the newest packet rather
// than stalling the capture path.
type BatchPersister struct {
	creator PacketCreator
	queue   chan packet.Packet

	batchSize     int
	flushInterval time.Duration
	maxRetries    int
	retryDelay    time.Duration

	logger zerolog.Logger
}

// NewBatchPersister builds a persister from the storage configuration.
func NewBatchPersister(cfg config.StorageConfig, creator PacketCreator, logger zerolog.Logger) *BatchPersister {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	return &BatchPersister{
		creator:       creator,
		queue:         make(chan packet.Packet, batchSize*4),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		maxRetries:    maxRetries,
		retryDelay:    retryDelay,
		logger:        logger.With().Str("component", "persister").Logger(),
	}
}

// Enqueue hands a packet to the persister. It never blocks; when the
// queue is full the packet is dropped and counted against the log.
func (b *BatchPersister) Enqueue(p packet.Packet) {
	select {
	case b.queue <- p:
	default:
		b.logger.Warn().Str("packet_id", p.ID).Msg("Persister queue full, dropping packet")
	}
}

// Run drains the queue until ctx is cancelled, then performs a final
// flush of whatever is buffered.
func (b *BatchPersister) Run(ctx context.Context) {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	batch := make([]packet.Packet, 0, b.batchSize)

	for {
		select {
		case <-ctx.Done():
			b.drainQueue(&batch)
			b.flush(context.Background(), batch)
			return
		case p := <-b.queue:
			batch = append(batch, clampPacket(p))
			if len(batch) >= b.batchSize {
				b.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			b.flush(ctx, batch)
			batch = batch[:0]
		}
	}
}

func (b *BatchPersister) drainQueue(batch *[]packet.Packet) {
	for {
		select {
		case p := <-b.queue:
			*batch = append(*batch, clampPacket(p))
		default:
			return
		}
	}
}

// flush writes a batch with bounded retries and linearly increasing
// backoff. An exhausted batch is dropped with an error log so capture
// keeps flowing.
func (b *BatchPersister) flush(ctx context.Context, batch []packet.Packet) {
	if len(batch) == 0 {
		return
	}

	toWrite := make([]packet.Packet, len(batch))
	copy(toWrite, batch)

	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		stored, err := b.creator.CreatePackets(ctx, toWrite)
		if err == nil {
			if skipped := len(toWrite) - stored; skipped > 0 {
				b.logger.Debug().Int("stored", stored).Int("skipped", skipped).Msg("Batch stored with duplicates skipped")
			}
			return
		}
		lastErr = err
		b.logger.Warn().Err(err).Int("attempt", attempt).Int("batch_size", len(toWrite)).Msg("Batch write failed")

		if attempt < b.maxRetries {
			select {
			case <-ctx.Done():
				b.logger.Error().Int("dropped", len(toWrite)).Msg("Context cancelled mid-retry, dropping batch")
				return
			case <-time.After(b.retryDelay * time.Duration(attempt)):
			}
		}
	}

	err := nserrors.NewStorageError("batch write retries exhausted", lastErr, map[string]interface{}{
		"batch_size": len(toWrite),
		"attempts":   b.maxRetries,
	})
	b.logger.Error().Err(err).Int("dropped", len(toWrite)).Msg("Dropping batch")
}

// clampPacket bounds field sizes and ranges before a write so one
// oversized packet cannot poison an entire batch.
func clampPacket(p packet.Packet) packet.Packet {
	if p.SourcePort < 0 || p.SourcePort > 65535 {
		p.SourcePort = 0
	}
	if p.DestinationPort < 0 || p.DestinationPort > 65535 {
		p.DestinationPort = 0
	}
	if p.Length < 0 {
		p.Length = 0
	}
	p.Payload = packet.Truncate(p.Payload, packet.MaxPayloadLen)
	p.RawData = packet.Truncate(p.RawData, packet.MaxRawDataLen)
	return p
}
