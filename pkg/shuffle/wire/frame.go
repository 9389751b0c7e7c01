// Package wire implements the shuffle stream framing protocol.
//
// A stream consists of, in order: one schema frame, zero or more data-block
// frames, and one end-of-stream marker. Every frame starts with a one-byte
// type tag. A schema frame carries a u32 payload length followed by the
// payload. A data-block frame carries the header
// {compressed_length: u32, uncompressed_length: u32, codec_id: u8} followed
// by compressed_length payload bytes. The end marker has no payload.
// All integers are little-endian.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/pool"
)

// FrameType is the one-byte tag leading every frame.
type FrameType uint8

const (
	// FrameSchema carries the Arrow IPC schema payload
	FrameSchema FrameType = 0x01
	// FrameBlock carries one compressed data block
	FrameBlock FrameType = 0x02
	// FrameEnd marks end of stream
	FrameEnd FrameType = 0xFF
)

// String returns the frame type name for diagnostics.
func (t FrameType) String() string {
	switch t {
	case FrameSchema:
		return "schema"
	case FrameBlock:
		return "block"
	case FrameEnd:
		return "end"
	default:
		return "unknown"
	}
}

// BlockHeader is the fixed-size header of a data-block frame.
type BlockHeader struct {
	CompressedLength   uint32
	UncompressedLength uint32
	CodecID            uint8
}

const blockHeaderSize = 9

// Frame is one decoded unit of the wire protocol. Payload is only valid
// until the next Decoder call; callers must not retain it.
type Frame struct {
	Type    FrameType
	Header  BlockHeader // valid for FrameBlock only
	Payload []byte      // schema bytes or compressed block bytes
}

// Decoder parses the length-prefixed wire stream into typed frames.
// Payload buffers are pooled and recycled across Next calls.
type Decoder struct {
	r        io.Reader
	maxFrame uint32
	payload  []byte // pooled buffer of the last frame
	hdr      [blockHeaderSize]byte
}

// NewDecoder creates a frame decoder over r. maxFrame caps declared frame
// lengths; a frame declaring more than maxFrame bytes is treated as corrupt.
func NewDecoder(r io.Reader, maxFrame uint32) *Decoder {
	return &Decoder{r: r, maxFrame: maxFrame}
}

// Next reads one frame from the stream. It fails with a truncated-stream
// error when fewer bytes are available than the frame declares, and with a
// corrupt-stream error when declared lengths are internally inconsistent.
func (d *Decoder) Next() (Frame, error) {
	d.recycle()

	if _, err := io.ReadFull(d.r, d.hdr[:1]); err != nil {
		return Frame{}, errors.Wrap(err, errors.ErrorTypeTruncatedStream,
			"stream ended before frame tag")
	}

	switch t := FrameType(d.hdr[0]); t {
	case FrameSchema:
		return d.readSchema()
	case FrameBlock:
		return d.readBlock()
	case FrameEnd:
		return Frame{Type: FrameEnd}, nil
	default:
		return Frame{}, errors.Newf(errors.ErrorTypeCorruptStream,
			"unknown frame tag 0x%02x", d.hdr[0])
	}
}

func (d *Decoder) readSchema() (Frame, error) {
	if _, err := io.ReadFull(d.r, d.hdr[:4]); err != nil {
		return Frame{}, errors.Wrap(err, errors.ErrorTypeTruncatedStream,
			"stream ended inside schema frame header")
	}
	n := binary.LittleEndian.Uint32(d.hdr[:4])
	if n == 0 || n > d.maxFrame {
		return Frame{}, errors.Newf(errors.ErrorTypeCorruptStream,
			"schema frame declares %d bytes (limit %d)", n, d.maxFrame)
	}

	d.payload = pool.GlobalBufferPool.Get(int(n))
	if _, err := io.ReadFull(d.r, d.payload); err != nil {
		return Frame{}, errors.Wrap(err, errors.ErrorTypeTruncatedStream,
			"stream ended inside schema frame payload")
	}
	return Frame{Type: FrameSchema, Payload: d.payload}, nil
}

func (d *Decoder) readBlock() (Frame, error) {
	if _, err := io.ReadFull(d.r, d.hdr[:blockHeaderSize]); err != nil {
		return Frame{}, errors.Wrap(err, errors.ErrorTypeTruncatedStream,
			"stream ended inside block frame header")
	}

	hdr := BlockHeader{
		CompressedLength:   binary.LittleEndian.Uint32(d.hdr[0:4]),
		UncompressedLength: binary.LittleEndian.Uint32(d.hdr[4:8]),
		CodecID:            d.hdr[8],
	}

	if hdr.CompressedLength == 0 && hdr.UncompressedLength > 0 {
		return Frame{}, errors.Newf(errors.ErrorTypeCorruptStream,
			"block declares 0 compressed bytes but %d uncompressed bytes", hdr.UncompressedLength)
	}
	if hdr.CompressedLength > d.maxFrame || hdr.UncompressedLength > d.maxFrame {
		return Frame{}, errors.Newf(errors.ErrorTypeCorruptStream,
			"block declares %d/%d bytes (limit %d)",
			hdr.CompressedLength, hdr.UncompressedLength, d.maxFrame)
	}

	if hdr.CompressedLength > 0 {
		d.payload = pool.GlobalBufferPool.Get(int(hdr.CompressedLength))
		if _, err := io.ReadFull(d.r, d.payload); err != nil {
			return Frame{}, errors.Wrap(err, errors.ErrorTypeTruncatedStream,
				"stream ended inside block frame payload")
		}
	}
	return Frame{Type: FrameBlock, Header: hdr, Payload: d.payload}, nil
}

// Release returns the decoder's pooled payload buffer. Safe to call in any
// state and more than once.
func (d *Decoder) Release() {
	d.recycle()
}

func (d *Decoder) recycle() {
	if d.payload != nil {
		pool.GlobalBufferPool.Put(d.payload)
		d.payload = nil
	}
}

// Encoder writes the shuffle framing protocol. It is the counterpart of
// Decoder used by the stream writer and by test fixtures.
type Encoder struct {
	w   io.Writer
	hdr [blockHeaderSize]byte
}

// NewEncoder creates a frame encoder over w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// WriteSchema writes the schema frame.
func (e *Encoder) WriteSchema(payload []byte) error {
	e.hdr[0] = byte(FrameSchema)
	binary.LittleEndian.PutUint32(e.hdr[1:5], uint32(len(payload)))
	if _, err := e.w.Write(e.hdr[:5]); err != nil {
		return err
	}
	_, err := e.w.Write(payload)
	return err
}

// WriteBlock writes one data-block frame. len(payload) must equal
// hdr.CompressedLength.
func (e *Encoder) WriteBlock(hdr BlockHeader, payload []byte) error {
	if uint32(len(payload)) != hdr.CompressedLength {
		return errors.Newf(errors.ErrorTypeInternal,
			"block payload is %d bytes but header declares %d", len(payload), hdr.CompressedLength)
	}
	if _, err := e.w.Write([]byte{byte(FrameBlock)}); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(e.hdr[0:4], hdr.CompressedLength)
	binary.LittleEndian.PutUint32(e.hdr[4:8], hdr.UncompressedLength)
	e.hdr[8] = hdr.CodecID
	if _, err := e.w.Write(e.hdr[:blockHeaderSize]); err != nil {
		return err
	}
	_, err := e.w.Write(payload)
	return err
}

// WriteEnd writes the end-of-stream marker.
func (e *Encoder) WriteEnd() error {
	_, err := e.w.Write([]byte{byte(FrameEnd)})
	return err
}
