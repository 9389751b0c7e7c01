// Package shuffle implements the shuffle read pipeline: it consumes a stream
// of framed, compressed, Arrow-columnar data blocks produced by a remote
// shuffle write stage and exposes them as a lazy pull iterator of in-memory
// record batches, with per-phase timing instrumentation.
package shuffle

import (
	"bufio"
	"io"
	"sync"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"

	"github.com/ajitpratap0/quasar/pkg/compression"
	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/logger"
	"github.com/ajitpratap0/quasar/pkg/shuffle/wire"
)

var readerSeq atomic.Int64

// Reader orchestrates the read pipeline for one shuffle partition. It owns
// the bound schema, validated options, and the allocation capability, and
// binds one input stream at a time to a ResultIterator.
//
// Every batch a Reader produces shares the exact schema bound at
// construction; the schema is never renegotiated mid-stream. Timing counters
// are scoped to the Reader instance and reset only by constructing a new
// Reader.
type Reader struct {
	id       int64
	schema   *arrow.Schema
	opts     ReaderOptions
	mem      memory.Allocator
	registry *compression.Registry
	log      *zap.Logger

	mu     sync.Mutex
	active *ResultIterator
	closed bool

	decompressTime  atomic.Int64
	ipcTime         atomic.Int64
	deserializeTime atomic.Int64

	blocksRead        atomic.Int64
	compressedBytes   atomic.Int64
	uncompressedBytes atomic.Int64
}

// ReaderStats is a snapshot of per-reader volume counters.
type ReaderStats struct {
	BlocksRead        int64 `json:"blocks_read"`
	CompressedBytes   int64 `json:"compressed_bytes"`
	UncompressedBytes int64 `json:"uncompressed_bytes"`
}

// NewReader binds an immutable schema, a validated options set, and a memory
// allocation capability. It fails with an invalid-options error if the
// options are self-contradictory. A nil allocator defaults to the Go
// allocator; callers that need aggregate accounting pass a shared tracked
// allocator.
func NewReader(schema *arrow.Schema, opts ReaderOptions, mem memory.Allocator) (*Reader, error) {
	if schema == nil {
		return nil, errors.New(errors.ErrorTypeInvalidOptions, "schema is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if mem == nil {
		mem = memory.NewGoAllocator()
	}

	registry, err := compression.NewRegistry(opts.CompressionLevel, opts.Codecs...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInvalidOptions, "failed to build codec set")
	}

	id := readerSeq.Add(1)
	return &Reader{
		id:       id,
		schema:   schema,
		opts:     opts,
		mem:      mem,
		registry: registry,
		log:      logger.With(zap.Int64("reader_id", id)),
	}, nil
}

// ReadStream binds one input stream to a fresh ResultIterator. Only one
// iterator may be live per Reader; calling ReadStream while a previous
// iterator is neither exhausted, failed, nor closed fails with an
// invalid-state error rather than silently abandoning the prior iterator,
// which could leak pooled buffers.
func (r *Reader) ReadStream(in io.Reader) (*ResultIterator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.New(errors.ErrorTypeInvalidState, "reader is closed")
	}
	if r.active != nil && !r.active.terminal() {
		return nil, errors.New(errors.ErrorTypeInvalidState,
			"a previous iterator is still live; close or drain it first")
	}

	it := &ResultIterator{
		rd:  r,
		in:  in,
		dec: wire.NewDecoder(bufio.NewReaderSize(in, r.opts.BufferSize), r.opts.MaxFrameSize),
	}
	r.active = it
	r.log.Debug("stream bound", zap.Uint32("max_frame_size", r.opts.MaxFrameSize))
	return it, nil
}

// Close releases the bound stream and any pooled buffers still held. It is
// idempotent, safe to call after an error, and never blocks. It can only
// report a resource-release failure, itself non-fatal.
func (r *Reader) Close() error {
	r.mu.Lock()
	it := r.active
	r.active = nil
	already := r.closed
	r.closed = true
	r.mu.Unlock()

	if already || it == nil {
		return nil
	}
	if err := it.Close(); err != nil {
		r.log.Warn("stream release failed", zap.Error(err))
		return err
	}
	return nil
}

// DecompressTime returns accumulated decompression time in nanoseconds.
func (r *Reader) DecompressTime() int64 { return r.decompressTime.Load() }

// IpcTime returns accumulated framing/IO time in nanoseconds.
func (r *Reader) IpcTime() int64 { return r.ipcTime.Load() }

// DeserializeTime returns accumulated deserialization time in nanoseconds.
func (r *Reader) DeserializeTime() int64 { return r.deserializeTime.Load() }

// Pool returns the bound allocation capability. Non-owning.
func (r *Reader) Pool() memory.Allocator { return r.mem }

// Schema returns the schema bound at construction.
func (r *Reader) Schema() *arrow.Schema { return r.schema }

// Stats returns a snapshot of the reader's volume counters.
func (r *Reader) Stats() ReaderStats {
	return ReaderStats{
		BlocksRead:        r.blocksRead.Load(),
		CompressedBytes:   r.compressedBytes.Load(),
		UncompressedBytes: r.uncompressedBytes.Load(),
	}
}
