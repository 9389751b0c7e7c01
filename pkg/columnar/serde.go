// Package columnar provides Arrow IPC serialization glue for shuffle blocks.
// Each data block's uncompressed payload is a self-contained Arrow IPC stream
// holding the schema and one record batch; the schema frame payload is an IPC
// stream holding only the schema.
package columnar

import (
	"bytes"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/pool"
)

// SerializeSchema encodes a schema as an Arrow IPC stream with no batches.
func SerializeSchema(schema *arrow.Schema, mem memory.Allocator) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	w := ipc.NewWriter(buf, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode schema")
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// DeserializeSchema decodes a schema from an Arrow IPC stream payload.
func DeserializeSchema(data []byte, mem memory.Allocator) (*arrow.Schema, error) {
	r, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(mem))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCorruptStream, "failed to decode schema payload")
	}
	defer r.Release()
	return r.Schema(), nil
}

// SerializeBatch encodes one record batch as a self-contained Arrow IPC stream.
func SerializeBatch(rec arrow.Record, mem memory.Allocator) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	w := ipc.NewWriter(buf, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(mem))
	if err := w.Write(rec); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode record batch")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to finish record batch stream")
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// DeserializeBatch decodes one record batch from uncompressed block bytes and
// verifies it against the bound schema. A column-count or column-type
// disagreement fails with a schema-mismatch error; no partial batch is ever
// returned. The returned record is retained and must be released by the
// caller.
func DeserializeBatch(data []byte, schema *arrow.Schema, mem memory.Allocator) (arrow.Record, error) {
	r, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(mem))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCorruptStream, "failed to decode block payload")
	}
	defer r.Release()

	if !schema.Equal(r.Schema()) {
		return nil, errors.Newf(errors.ErrorTypeSchemaMismatch,
			"block schema %v does not match bound schema %v", r.Schema(), schema)
	}

	if !r.Next() {
		if err := r.Err(); err != nil && err != io.EOF {
			return nil, errors.Wrap(err, errors.ErrorTypeCorruptStream, "failed to read record batch")
		}
		return nil, errors.New(errors.ErrorTypeCorruptStream, "block payload holds no record batch")
	}

	rec := r.Record()
	rec.Retain()

	return rec, nil
}

// EmptyBatch builds a zero-row batch of the given schema. Used for blocks
// whose header declares zero uncompressed bytes.
func EmptyBatch(schema *arrow.Schema, mem memory.Allocator) arrow.Record {
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	return b.NewRecord()
}
