// Package shuffle read-path benchmarks
package shuffle

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ajitpratap0/quasar/pkg/compression"
)

func buildBenchStream(b *testing.B, codec compression.Codec, batches, rows int) (*arrow.Schema, []byte) {
	b.Helper()
	mem := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "user", Type: arrow.BinaryTypes.String},
		{Name: "score", Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	var buf bytes.Buffer
	w, err := NewStreamWriter(&buf, schema, codec, compression.Default, mem)
	if err != nil {
		b.Fatal(err)
	}

	rng := rand.New(rand.NewSource(1))
	rb := array.NewRecordBuilder(mem, schema)
	defer rb.Release()

	next := int64(0)
	for i := 0; i < batches; i++ {
		for j := 0; j < rows; j++ {
			rb.Field(0).(*array.Int64Builder).Append(next)
			rb.Field(1).(*array.StringBuilder).Append(fmt.Sprintf("user%d@example.com", rng.Intn(10000)))
			rb.Field(2).(*array.Float64Builder).Append(rng.Float64() * 100)
			next++
		}
		rec := rb.NewRecord()
		err := w.Write(rec)
		rec.Release()
		if err != nil {
			b.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		b.Fatal(err)
	}
	return schema, buf.Bytes()
}

func benchmarkRead(b *testing.B, codec compression.Codec) {
	schema, stream := buildBenchStream(b, codec, 8, 4096)

	opts := DefaultReaderOptions()
	opts.Codecs = []compression.Codec{codec}
	opts.DefaultCodec = codec

	reader, err := NewReader(schema, opts, memory.NewGoAllocator())
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = reader.Close() }()

	b.SetBytes(int64(len(stream)))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		it, err := reader.ReadStream(bytes.NewReader(stream))
		if err != nil {
			b.Fatal(err)
		}
		for {
			rec, err := it.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				b.Fatal(err)
			}
			rec.Release()
		}
	}
}

func BenchmarkReadLZ4(b *testing.B)    { benchmarkRead(b, compression.LZ4) }
func BenchmarkReadZstd(b *testing.B)   { benchmarkRead(b, compression.Zstd) }
func BenchmarkReadSnappy(b *testing.B) { benchmarkRead(b, compression.Snappy) }
func BenchmarkReadNone(b *testing.B)   { benchmarkRead(b, compression.None) }
