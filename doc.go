// Package quasar provides a shuffle read pipeline for distributed query
// engines: it consumes streams of framed, compressed, Arrow-columnar data
// blocks produced by a remote shuffle write stage and turns them into lazy
// sequences of in-memory record batches.
//
// # Architecture
//
// The read path is a strict single-threaded pull pipeline. Each call to the
// iterator drives one pass through frame decoding, codec dispatch, and Arrow
// IPC deserialization:
//
//	wire.Decoder -> compression.Registry -> columnar.DeserializeBatch
//
// Readers accumulate per-phase timing (decompress, framing/IO, deserialize)
// for the lifetime of the instance, and route every batch-buffer allocation
// through a caller-supplied allocator so aggregate memory usage can be
// tracked across concurrently active partitions.
//
// # Quick Start
//
//	opts := shuffle.DefaultReaderOptions()
//	reader, err := shuffle.NewReader(schema, opts, pool.NewTrackedAllocator(nil))
//	if err != nil {
//		return err
//	}
//	defer reader.Close()
//
//	it, err := reader.ReadStream(in)
//	if err != nil {
//		return err
//	}
//	for {
//		rec, err := it.Next()
//		if err == io.EOF {
//			break
//		}
//		if err != nil {
//			return err
//		}
//		consume(rec)
//		rec.Release()
//	}
//
// Cross-partition parallelism is achieved externally: run one Reader and
// iterator per partition stream, sharing a single tracked allocator.
package quasar
