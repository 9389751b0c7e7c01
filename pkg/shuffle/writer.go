package shuffle

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ajitpratap0/quasar/pkg/columnar"
	"github.com/ajitpratap0/quasar/pkg/compression"
	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/shuffle/wire"
)

// StreamWriter produces the framed shuffle stream the Reader consumes: one
// schema frame, a compressed data-block frame per batch, and the end marker.
// It exists for fixture generation, round-trip testing, and the gen CLI
// command; write-side partitioning strategy lives with the shuffle write
// stage, not here.
type StreamWriter struct {
	enc    *wire.Encoder
	schema *arrow.Schema
	codec  compression.Codec
	comp   compression.Compressor
	mem    memory.Allocator

	wroteSchema bool
	closed      bool
}

// NewStreamWriter creates a writer that frames batches of the given schema
// compressed with the given codec.
func NewStreamWriter(w io.Writer, schema *arrow.Schema, codec compression.Codec, level compression.Level, mem memory.Allocator) (*StreamWriter, error) {
	if schema == nil {
		return nil, errors.New(errors.ErrorTypeInvalidOptions, "schema is required")
	}
	comp, err := compression.NewCompressor(codec, level)
	if err != nil {
		return nil, err
	}
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	return &StreamWriter{
		enc:    wire.NewEncoder(w),
		schema: schema,
		codec:  codec,
		comp:   comp,
		mem:    mem,
	}, nil
}

// Write frames one record batch. The schema frame is written lazily before
// the first block.
func (w *StreamWriter) Write(rec arrow.Record) error {
	if w.closed {
		return errors.New(errors.ErrorTypeInvalidState, "writer is closed")
	}
	if !w.schema.Equal(rec.Schema()) {
		return errors.New(errors.ErrorTypeSchemaMismatch, "record schema does not match writer schema")
	}
	if err := w.ensureSchema(); err != nil {
		return err
	}

	payload, err := columnar.SerializeBatch(rec, w.mem)
	if err != nil {
		return err
	}

	compressed, err := w.comp.Compress(payload)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to compress block")
	}

	return w.enc.WriteBlock(wire.BlockHeader{
		CompressedLength:   uint32(len(compressed)),
		UncompressedLength: uint32(len(payload)),
		CodecID:            uint8(w.codec),
	}, compressed)
}

// WriteEmptyBlock frames a zero-length block, which readers materialize as a
// zero-row batch of the stream schema.
func (w *StreamWriter) WriteEmptyBlock() error {
	if w.closed {
		return errors.New(errors.ErrorTypeInvalidState, "writer is closed")
	}
	if err := w.ensureSchema(); err != nil {
		return err
	}
	return w.enc.WriteBlock(wire.BlockHeader{CodecID: uint8(w.codec)}, nil)
}

// Close writes the end-of-stream marker. The schema frame is still emitted
// for streams holding zero batches. Close does not close the underlying
// writer.
func (w *StreamWriter) Close() error {
	if w.closed {
		return nil
	}
	if err := w.ensureSchema(); err != nil {
		return err
	}
	w.closed = true
	return w.enc.WriteEnd()
}

func (w *StreamWriter) ensureSchema() error {
	if w.wroteSchema {
		return nil
	}
	payload, err := columnar.SerializeSchema(w.schema, w.mem)
	if err != nil {
		return err
	}
	if err := w.enc.WriteSchema(payload); err != nil {
		return err
	}
	w.wroteSchema = true
	return nil
}
