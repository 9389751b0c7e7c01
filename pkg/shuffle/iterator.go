package shuffle

import (
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"go.uber.org/zap"

	"github.com/ajitpratap0/quasar/pkg/columnar"
	"github.com/ajitpratap0/quasar/pkg/compression"
	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/metrics"
	"github.com/ajitpratap0/quasar/pkg/shuffle/wire"
)

type iterState int

const (
	stateOpen iterState = iota
	stateExhausted
	stateClosed
	stateFailed
)

// ResultIterator is the lazy, finite sequence of record batches read from one
// bound stream. It is a single-owner handle: only Reader.ReadStream creates
// one, and a Reader refuses to hand out a second iterator while one is live.
//
// The iterator performs no background work; each Next call synchronously
// pulls one frame, decompresses it, and deserializes it in the caller's
// goroutine. Blocks are delivered in exact stream order. The iterator is not
// restartable: once exhausted or failed, a new ReadStream call is required to
// read again.
type ResultIterator struct {
	rd  *Reader
	in  io.Reader
	dec *wire.Decoder

	state     iterState
	err       error
	sawSchema bool
	released  bool
}

// Next returns the next record batch from the stream. It returns io.EOF once
// the end-of-stream marker has been consumed, and replays the stored error on
// every call after a failure; it never re-reads the stream in a terminal
// state. The returned record must be released by the caller.
func (it *ResultIterator) Next() (arrow.Record, error) {
	switch it.state {
	case stateExhausted, stateClosed:
		return nil, io.EOF
	case stateFailed:
		return nil, it.err
	}

	for {
		ipcStart := time.Now()
		frame, err := it.dec.Next()
		ipcElapsed := time.Since(ipcStart)
		it.rd.ipcTime.Add(int64(ipcElapsed))
		metrics.ObservePhase(metrics.PhaseIPC, ipcElapsed)
		if err != nil {
			return nil, it.fail(err)
		}

		switch frame.Type {
		case wire.FrameSchema:
			if it.sawSchema {
				return nil, it.fail(errors.New(errors.ErrorTypeCorruptStream,
					"schema frame appeared twice"))
			}
			if err := it.bindSchema(frame.Payload); err != nil {
				return nil, it.fail(err)
			}
			continue

		case wire.FrameBlock:
			if !it.sawSchema {
				return nil, it.fail(errors.New(errors.ErrorTypeCorruptStream,
					"data block arrived before schema frame"))
			}
			rec, err := it.readBlock(frame)
			if err != nil {
				return nil, it.fail(err)
			}
			return rec, nil

		case wire.FrameEnd:
			if !it.sawSchema {
				return nil, it.fail(errors.New(errors.ErrorTypeCorruptStream,
					"stream ended before schema frame"))
			}
			it.state = stateExhausted
			it.dec.Release()
			return nil, io.EOF
		}
	}
}

// bindSchema parses the schema frame and verifies it against the schema
// bound at reader construction.
func (it *ResultIterator) bindSchema(payload []byte) error {
	start := time.Now()
	streamSchema, err := columnar.DeserializeSchema(payload, it.rd.mem)
	it.rd.deserializeTime.Add(int64(time.Since(start)))
	if err != nil {
		return err
	}
	if !it.rd.schema.Equal(streamSchema) {
		return errors.Newf(errors.ErrorTypeSchemaMismatch,
			"stream schema %v does not match bound schema %v", streamSchema, it.rd.schema)
	}
	it.sawSchema = true
	return nil
}

// readBlock runs one block through decompression and deserialization.
func (it *ResultIterator) readBlock(frame wire.Frame) (arrow.Record, error) {
	hdr := frame.Header
	codec := compression.Codec(hdr.CodecID)

	comp, err := it.rd.registry.Get(codec)
	if err != nil {
		return nil, err
	}

	var uncompressed []byte
	if hdr.CompressedLength > 0 {
		start := time.Now()
		uncompressed, err = comp.Decompress(frame.Payload)
		d := time.Since(start)
		it.rd.decompressTime.Add(int64(d))
		metrics.ObservePhase(metrics.PhaseDecompress, d)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeCorruptStream, "block failed to decompress")
		}
		if uint32(len(uncompressed)) != hdr.UncompressedLength {
			return nil, errors.Newf(errors.ErrorTypeCorruptStream,
				"block decompressed to %d bytes but header declares %d",
				len(uncompressed), hdr.UncompressedLength)
		}
	}

	var rec arrow.Record
	if hdr.UncompressedLength == 0 {
		// Empty block: zero rows of the bound schema.
		rec = columnar.EmptyBatch(it.rd.schema, it.rd.mem)
	} else {
		start := time.Now()
		rec, err = columnar.DeserializeBatch(uncompressed, it.rd.schema, it.rd.mem)
		d := time.Since(start)
		it.rd.deserializeTime.Add(int64(d))
		metrics.ObservePhase(metrics.PhaseDeserialize, d)
		if err != nil {
			return nil, err
		}
	}

	it.rd.blocksRead.Add(1)
	it.rd.compressedBytes.Add(int64(hdr.CompressedLength))
	it.rd.uncompressedBytes.Add(int64(hdr.UncompressedLength))
	metrics.BlocksRead.WithLabelValues(codec.String()).Inc()
	metrics.BytesRead.WithLabelValues("compressed").Add(float64(hdr.CompressedLength))
	metrics.BytesRead.WithLabelValues("uncompressed").Add(float64(hdr.UncompressedLength))

	return rec, nil
}

// Close abandons the underlying stream without requiring a clean
// end-of-stream read and releases every pooled buffer the iterator holds.
// Safe to call in any state, any number of times, including after a failure.
func (it *ResultIterator) Close() error {
	if !it.terminal() {
		it.state = stateClosed
	}
	it.dec.Release()

	if it.released {
		return nil
	}
	it.released = true

	if c, ok := it.in.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeClose, "failed to release input stream")
		}
	}
	return nil
}

// Schema returns the schema every batch from this iterator shares.
func (it *ResultIterator) Schema() *arrow.Schema { return it.rd.schema }

// Err returns the stored unrecoverable error, if the iterator has failed.
func (it *ResultIterator) Err() error {
	if it.state == stateFailed {
		return it.err
	}
	return nil
}

func (it *ResultIterator) terminal() bool {
	return it.state != stateOpen
}

func (it *ResultIterator) fail(err error) error {
	it.state = stateFailed
	it.err = err
	it.dec.Release()
	metrics.ReadErrors.WithLabelValues(string(errors.TypeOf(err))).Inc()
	it.rd.log.Debug("stream failed", zap.Error(err))
	return err
}
