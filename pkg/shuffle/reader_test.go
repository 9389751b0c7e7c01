package shuffle

import (
	"bytes"
	"io"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/quasar/pkg/compression"
	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/pool"
	"github.com/ajitpratap0/quasar/pkg/shuffle/wire"
)

func testSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String},
		{Name: "score", Type: arrow.PrimitiveTypes.Float64},
	}, nil)
}

func buildBatch(t *testing.T, mem memory.Allocator, schema *arrow.Schema, start, n int) arrow.Record {
	t.Helper()
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for i := 0; i < n; i++ {
		b.Field(0).(*array.Int64Builder).Append(int64(start + i))
		b.Field(1).(*array.StringBuilder).Append("row-" + string(rune('a'+(start+i)%26)))
		b.Field(2).(*array.Float64Builder).Append(float64(start+i) * 1.5)
	}
	return b.NewRecord()
}

// writeStream produces a complete framed stream holding the given batches.
func writeStream(t *testing.T, schema *arrow.Schema, codec compression.Codec, batches ...arrow.Record) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewStreamWriter(&buf, schema, codec, compression.Default, memory.NewGoAllocator())
	require.NoError(t, err)
	for _, rec := range batches {
		require.NoError(t, w.Write(rec))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func optionsWith(codecs ...compression.Codec) ReaderOptions {
	opts := DefaultReaderOptions()
	if len(codecs) > 0 {
		opts.Codecs = codecs
		opts.DefaultCodec = codecs[0]
	}
	return opts
}

func TestRoundTrip(t *testing.T) {
	codecs := []compression.Codec{
		compression.None,
		compression.LZ4,
		compression.Zstd,
		compression.Snappy,
		compression.S2,
		compression.Gzip,
		compression.Deflate,
	}

	for _, codec := range codecs {
		t.Run(codec.String(), func(t *testing.T) {
			mem := memory.NewGoAllocator()
			schema := testSchema()

			want := []arrow.Record{
				buildBatch(t, mem, schema, 0, 100),
				buildBatch(t, mem, schema, 100, 1),
				buildBatch(t, mem, schema, 101, 4096),
			}
			defer func() {
				for _, rec := range want {
					rec.Release()
				}
			}()

			stream := writeStream(t, schema, codec, want...)

			reader, err := NewReader(schema, optionsWith(codec), mem)
			require.NoError(t, err)
			defer func() { _ = reader.Close() }()

			it, err := reader.ReadStream(bytes.NewReader(stream))
			require.NoError(t, err)

			for i, wantRec := range want {
				got, err := it.Next()
				require.NoError(t, err, "batch %d", i)
				assert.Equal(t, wantRec.NumRows(), got.NumRows(), "batch %d row count", i)
				assert.True(t, array.RecordEqual(wantRec, got), "batch %d values", i)
				got.Release()
			}

			_, err = it.Next()
			assert.Equal(t, io.EOF, err)
		})
	}
}

func TestEmptyStream(t *testing.T) {
	schema := testSchema()
	stream := writeStream(t, schema, compression.LZ4)

	reader, err := NewReader(schema, DefaultReaderOptions(), nil)
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()

	it, err := reader.ReadStream(bytes.NewReader(stream))
	require.NoError(t, err)

	rec, err := it.Next()
	assert.Nil(t, rec)
	assert.Equal(t, io.EOF, err)

	// Exhausted iterators never re-read the stream.
	_, err = it.Next()
	assert.Equal(t, io.EOF, err)
}

func TestEmptyBlock(t *testing.T) {
	mem := memory.NewGoAllocator()
	schema := testSchema()

	var buf bytes.Buffer
	w, err := NewStreamWriter(&buf, schema, compression.LZ4, compression.Default, mem)
	require.NoError(t, err)
	require.NoError(t, w.WriteEmptyBlock())
	require.NoError(t, w.Close())

	reader, err := NewReader(schema, DefaultReaderOptions(), mem)
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()

	it, err := reader.ReadStream(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	rec, err := it.Next()
	require.NoError(t, err)
	assert.EqualValues(t, 0, rec.NumRows())
	assert.True(t, schema.Equal(rec.Schema()))
	rec.Release()

	_, err = it.Next()
	assert.Equal(t, io.EOF, err)
}

func TestTruncatedStream(t *testing.T) {
	mem := memory.NewGoAllocator()
	schema := testSchema()
	rec := buildBatch(t, mem, schema, 0, 512)
	defer rec.Release()

	stream := writeStream(t, schema, compression.LZ4, rec)
	truncated := stream[:len(stream)-16]

	// The same truncated input fails deterministically on every replay.
	for i := 0; i < 3; i++ {
		reader, err := NewReader(schema, DefaultReaderOptions(), mem)
		require.NoError(t, err)

		it, err := reader.ReadStream(bytes.NewReader(truncated))
		require.NoError(t, err)

		_, err = it.Next()
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeTruncatedStream), "replay %d: got %v", i, err)

		// A failed iterator replays the stored error.
		_, again := it.Next()
		assert.Equal(t, err, again)

		require.NoError(t, reader.Close())
	}
}

func TestCodecRejection(t *testing.T) {
	mem := memory.NewGoAllocator()
	schema := testSchema()
	rec := buildBatch(t, mem, schema, 0, 10)
	defer rec.Release()

	stream := writeStream(t, schema, compression.Zstd, rec)

	// Reader configured without zstd.
	reader, err := NewReader(schema, optionsWith(compression.None, compression.LZ4), mem)
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()

	it, err := reader.ReadStream(bytes.NewReader(stream))
	require.NoError(t, err)

	got, err := it.Next()
	assert.Nil(t, got)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnsupportedCodec))
	assert.Equal(t, err, it.Err())
}

func TestSchemaMismatch(t *testing.T) {
	mem := memory.NewGoAllocator()
	streamSchema := testSchema()
	rec := buildBatch(t, mem, streamSchema, 0, 10)
	defer rec.Release()

	stream := writeStream(t, streamSchema, compression.LZ4, rec)

	boundSchema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String},
	}, nil)

	reader, err := NewReader(boundSchema, DefaultReaderOptions(), mem)
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()

	it, err := reader.ReadStream(bytes.NewReader(stream))
	require.NoError(t, err)

	_, err = it.Next()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaMismatch))
}

func TestSchemaStability(t *testing.T) {
	mem := memory.NewGoAllocator()
	schema := testSchema()

	batches := []arrow.Record{
		buildBatch(t, mem, schema, 0, 8),
		buildBatch(t, mem, schema, 8, 8),
		buildBatch(t, mem, schema, 16, 8),
	}
	defer func() {
		for _, rec := range batches {
			rec.Release()
		}
	}()

	stream := writeStream(t, schema, compression.LZ4, batches...)

	reader, err := NewReader(schema, DefaultReaderOptions(), mem)
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()

	it, err := reader.ReadStream(bytes.NewReader(stream))
	require.NoError(t, err)

	for {
		rec, err := it.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.True(t, schema.Equal(rec.Schema()))
		rec.Release()
	}
	assert.Same(t, schema, it.Schema())
	assert.Same(t, schema, reader.Schema())
}

func TestMonotoneTimers(t *testing.T) {
	mem := memory.NewGoAllocator()
	schema := testSchema()

	batches := []arrow.Record{
		buildBatch(t, mem, schema, 0, 2048),
		buildBatch(t, mem, schema, 2048, 2048),
	}
	defer func() {
		for _, rec := range batches {
			rec.Release()
		}
	}()

	stream := writeStream(t, schema, compression.Zstd, batches...)

	reader, err := NewReader(schema, optionsWith(compression.Zstd), mem)
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()

	// Zero before any read.
	assert.Zero(t, reader.DecompressTime())
	assert.Zero(t, reader.IpcTime())
	assert.Zero(t, reader.DeserializeTime())

	it, err := reader.ReadStream(bytes.NewReader(stream))
	require.NoError(t, err)

	var lastDecompress, lastIpc, lastDeserialize int64
	for {
		rec, err := it.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		rec.Release()

		assert.GreaterOrEqual(t, reader.DecompressTime(), lastDecompress)
		assert.GreaterOrEqual(t, reader.IpcTime(), lastIpc)
		assert.GreaterOrEqual(t, reader.DeserializeTime(), lastDeserialize)
		lastDecompress = reader.DecompressTime()
		lastIpc = reader.IpcTime()
		lastDeserialize = reader.DeserializeTime()
	}

	assert.Positive(t, reader.DecompressTime())
	assert.Positive(t, reader.IpcTime())
	assert.Positive(t, reader.DeserializeTime())

	stats := reader.Stats()
	assert.EqualValues(t, 2, stats.BlocksRead)
	assert.Positive(t, stats.CompressedBytes)
	assert.Positive(t, stats.UncompressedBytes)
}

func TestIdempotentClose(t *testing.T) {
	mem := memory.NewGoAllocator()
	schema := testSchema()
	rec := buildBatch(t, mem, schema, 0, 16)
	defer rec.Release()

	stream := writeStream(t, schema, compression.LZ4, rec)

	t.Run("double close", func(t *testing.T) {
		reader, err := NewReader(schema, DefaultReaderOptions(), mem)
		require.NoError(t, err)

		_, err = reader.ReadStream(bytes.NewReader(stream))
		require.NoError(t, err)

		assert.NoError(t, reader.Close())
		assert.NoError(t, reader.Close())
	})

	t.Run("close after failure", func(t *testing.T) {
		reader, err := NewReader(schema, DefaultReaderOptions(), mem)
		require.NoError(t, err)

		it, err := reader.ReadStream(bytes.NewReader(stream[:10]))
		require.NoError(t, err)

		_, err = it.Next()
		require.Error(t, err)

		assert.NoError(t, reader.Close())
		assert.NoError(t, reader.Close())

		// Closed iterators report end-of-stream, not a new error.
		assert.NoError(t, it.Close())
	})
}

func TestInvalidOptions(t *testing.T) {
	schema := testSchema()

	opts := DefaultReaderOptions()
	opts.DefaultCodec = compression.Gzip // not in the default enabled set

	_, err := NewReader(schema, opts, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidOptions))

	opts = DefaultReaderOptions()
	opts.Codecs = nil
	_, err = NewReader(schema, opts, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidOptions))

	_, err = NewReader(nil, DefaultReaderOptions(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidOptions))
}

func TestSecondLiveIteratorRejected(t *testing.T) {
	mem := memory.NewGoAllocator()
	schema := testSchema()
	rec := buildBatch(t, mem, schema, 0, 16)
	defer rec.Release()

	stream := writeStream(t, schema, compression.LZ4, rec)

	reader, err := NewReader(schema, DefaultReaderOptions(), mem)
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()

	it, err := reader.ReadStream(bytes.NewReader(stream))
	require.NoError(t, err)

	// Rebinding while the first iterator is live is an error, not a silent
	// abandonment.
	_, err = reader.ReadStream(bytes.NewReader(stream))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidState))

	// Drain the first iterator, then rebinding succeeds.
	for {
		batch, err := it.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		batch.Release()
	}

	it2, err := reader.ReadStream(bytes.NewReader(stream))
	require.NoError(t, err)
	batch, err := it2.Next()
	require.NoError(t, err)
	batch.Release()
	require.NoError(t, it2.Close())
}

func TestReadStreamAfterClose(t *testing.T) {
	schema := testSchema()

	reader, err := NewReader(schema, DefaultReaderOptions(), nil)
	require.NoError(t, err)
	require.NoError(t, reader.Close())

	_, err = reader.ReadStream(bytes.NewReader(nil))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidState))
}

func TestTrackedAllocatorObservesBatches(t *testing.T) {
	schema := testSchema()
	tracked := pool.NewTrackedAllocator(nil)

	rec := buildBatch(t, memory.NewGoAllocator(), schema, 0, 1024)
	defer rec.Release()
	stream := writeStream(t, schema, compression.LZ4, rec)

	reader, err := NewReader(schema, DefaultReaderOptions(), tracked)
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()

	assert.Same(t, tracked, reader.Pool())

	it, err := reader.ReadStream(bytes.NewReader(stream))
	require.NoError(t, err)

	got, err := it.Next()
	require.NoError(t, err)
	assert.Positive(t, tracked.PeakBytes())
	got.Release()
}

func TestCorruptBlockHeader(t *testing.T) {
	mem := memory.NewGoAllocator()
	schema := testSchema()

	// Hand-build a stream whose block declares zero compressed bytes but a
	// nonzero uncompressed length.
	var buf bytes.Buffer
	w, err := NewStreamWriter(&buf, schema, compression.LZ4, compression.Default, mem)
	require.NoError(t, err)
	require.NoError(t, w.WriteEmptyBlock()) // forces the schema frame out
	require.NoError(t, w.Close())

	stream := buf.Bytes()
	// Rewrite the empty block's header: uncompressed_length = 64.
	idx := bytes.LastIndexByte(stream[:len(stream)-1], byte(wire.FrameBlock))
	require.Greater(t, idx, 0)
	stream[idx+5] = 64

	reader, err := NewReader(schema, DefaultReaderOptions(), mem)
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()

	it, err := reader.ReadStream(bytes.NewReader(stream))
	require.NoError(t, err)

	_, err = it.Next()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCorruptStream))
}
