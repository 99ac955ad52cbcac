package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Writer persists a batch of entries.
type Writer interface {
	Write(ctx context.Context, entries []RunEntry) error
}

// BufferConfig configures a Buffered sink.
type BufferConfig struct {
	// BatchSize is the number of entries written together.
	BatchSize int
	// FlushInterval is the maximum time an entry waits in a partial batch.
	FlushInterval time.Duration
	// BufferSize bounds the queue. Entries beyond it are dropped.
	BufferSize int
}

// DefaultBufferConfig returns sensible defaults.
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{
		BatchSize:     100,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Buffered is a Sink that queues entries and writes them in batches from a
// single background goroutine.
type Buffered struct {
	w        Writer
	buffer   chan RunEntry
	flushReq chan chan error
	done     chan struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool
	once     sync.Once
	dropped  atomic.Int64
	logger   zerolog.Logger

	batchSize     int
	flushInterval time.Duration
}

// NewBuffered starts the background flusher for w.
func NewBuffered(w Writer, cfg BufferConfig, logger zerolog.Logger) *Buffered {
	def := DefaultBufferConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	b := &Buffered{
		w:             w,
		buffer:        make(chan RunEntry, cfg.BufferSize),
		flushReq:      make(chan chan error),
		done:          make(chan struct{}),
		logger:        logger,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
	}
	b.wg.Add(1)
	go b.flusher()
	return b
}

// PushRun enqueues e, dropping it when the queue is full or the sink is
// shut down.
func (b *Buffered) PushRun(e RunEntry) {
	if b.closed.Load() {
		b.dropped.Add(1)
		return
	}
	select {
	case b.buffer <- e:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns the number of entries discarded so far.
func (b *Buffered) Dropped() int64 {
	return b.dropped.Load()
}

// Flush asks the flusher to write everything queued and waits for it.
func (b *Buffered) Flush(ctx context.Context) error {
	req := make(chan error, 1)
	select {
	case b.flushReq <- req:
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the flusher after writing what is queued.
func (b *Buffered) Shutdown(ctx context.Context) error {
	b.once.Do(func() {
		b.closed.Store(true)
		close(b.done)
	})

	finished := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Buffered) drain(batch []RunEntry) []RunEntry {
	for {
		select {
		case e := <-b.buffer:
			batch = append(batch, e)
		default:
			return batch
		}
	}
}

func (b *Buffered) write(batch []RunEntry) error {
	if len(batch) == 0 {
		return nil
	}
	err := b.w.Write(context.Background(), batch)
	if err != nil {
		b.logger.Error().Err(err).Int("entries", len(batch)).Msg("audit write failed")
	}
	return err
}

func (b *Buffered) flusher() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	var batch []RunEntry
	for {
		select {
		case <-b.done:
			_ = b.write(b.drain(batch))
			return

		case req := <-b.flushReq:
			req <- b.write(b.drain(batch))
			batch = nil

		case e := <-b.buffer:
			batch = append(batch, e)
			if len(batch) >= b.batchSize {
				_ = b.write(batch)
				batch = nil
			}

		case <-ticker.C:
			if len(batch) > 0 {
				_ = b.write(batch)
				batch = nil
			}
		}
	}
}
