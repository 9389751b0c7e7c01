// Package compression provides the pluggable block codec layer for the
// shuffle read path. Codecs are identified by the one-byte id carried in each
// data-block frame header and dispatched through a Registry holding the
// configured set of enabled codecs.
//
// Supported algorithms and their trade-offs:
//   - LZ4: extremely fast, decent compression (the usual shuffle default)
//   - Zstd: best compression ratio, good speed
//   - Snappy/S2: fast with moderate compression
//   - Gzip/Deflate: wide compatibility
//   - None: passthrough for pre-compressed or tiny blocks
package compression

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/pool"
)

// Codec identifies a compression algorithm by its wire id.
// The ids are part of the shuffle wire contract and must match the write side.
type Codec uint8

const (
	// None is the passthrough codec
	None Codec = 0
	// LZ4 is lz4 frame compression
	LZ4 Codec = 1
	// Zstd is zstandard compression
	Zstd Codec = 2
	// Snappy is snappy block compression
	Snappy Codec = 3
	// S2 is s2 compression (snappy compatible)
	S2 Codec = 4
	// Gzip is gzip compression
	Gzip Codec = 5
	// Deflate is raw deflate compression
	Deflate Codec = 6
)

// String returns the codec name used in configuration and metrics labels.
func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	case Snappy:
		return "snappy"
	case S2:
		return "s2"
	case Gzip:
		return "gzip"
	case Deflate:
		return "deflate"
	default:
		return "unknown"
	}
}

// ParseCodec maps a configuration name to a Codec.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	case "snappy":
		return Snappy, nil
	case "s2":
		return S2, nil
	case "gzip":
		return Gzip, nil
	case "deflate":
		return Deflate, nil
	default:
		return 0, errors.Newf(errors.ErrorTypeUnsupportedCodec, "unknown codec name %q", name)
	}
}

// Level represents compression level, controlling the trade-off between
// compression speed and compression ratio on the write side. Decompression
// is level-independent.
type Level int

const (
	// Fastest prioritizes speed over compression ratio
	Fastest Level = 1
	// Default balances speed and compression
	Default Level = 5
	// Better improves compression at cost of speed
	Better Level = 7
	// Best maximizes compression ratio
	Best Level = 9
)

// Compressor provides compression and decompression for one codec.
// All implementations are safe for concurrent use.
type Compressor interface {
	// Compress compresses data and returns the compressed bytes.
	Compress(data []byte) ([]byte, error)

	// Decompress decompresses data and returns the original bytes.
	Decompress(data []byte) ([]byte, error)

	// Codec returns the wire codec id.
	Codec() Codec
}

// NewCompressor creates a compressor for the given codec and level.
func NewCompressor(codec Codec, level Level) (Compressor, error) {
	switch codec {
	case None:
		return &noneCompressor{}, nil
	case LZ4:
		return newLZ4Compressor(level), nil
	case Zstd:
		return newZstdCompressor(level), nil
	case Snappy:
		return &snappyCompressor{}, nil
	case S2:
		return &s2Compressor{}, nil
	case Gzip:
		return newGzipCompressor(level), nil
	case Deflate:
		return newDeflateCompressor(level), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeUnsupportedCodec, "unsupported codec id %d", codec)
	}
}

// Registry holds the configured set of enabled codecs. A codec id absent from
// the registry fails lookups with an unsupported-codec error, which the read
// path treats as unrecoverable for the stream.
type Registry struct {
	byID map[Codec]Compressor
}

// NewRegistry builds a registry for the given codecs at the given level.
func NewRegistry(level Level, codecs ...Codec) (*Registry, error) {
	byID := make(map[Codec]Compressor, len(codecs))
	for _, c := range codecs {
		if _, dup := byID[c]; dup {
			continue
		}
		comp, err := NewCompressor(c, level)
		if err != nil {
			return nil, err
		}
		byID[c] = comp
	}
	return &Registry{byID: byID}, nil
}

// Get returns the compressor for a codec id.
func (r *Registry) Get(id Codec) (Compressor, error) {
	comp, ok := r.byID[id]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeUnsupportedCodec,
			"codec id %d (%s) is not in the configured set", id, id)
	}
	return comp, nil
}

// Has reports whether a codec id is in the configured set.
func (r *Registry) Has(id Codec) bool {
	_, ok := r.byID[id]
	return ok
}

// Codecs returns the enabled codec ids.
func (r *Registry) Codecs() []Codec {
	out := make([]Codec, 0, len(r.byID))
	for c := range r.byID {
		out = append(out, c)
	}
	return out
}

// None compressor (passthrough)
type noneCompressor struct{}

func (nc *noneCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (nc *noneCompressor) Decompress(data []byte) ([]byte, error) {
	return data, nil
}

func (nc *noneCompressor) Codec() Codec { return None }

// LZ4 compressor (frame format)
type lz4Compressor struct {
	level lz4.CompressionLevel
}

func newLZ4Compressor(level Level) *lz4Compressor {
	return &lz4Compressor{level: mapLZ4Level(level)}
}

func (lc *lz4Compressor) Compress(data []byte) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	w := lz4.NewWriter(buf)
	if err := w.Apply(lz4.CompressionLevelOption(lc.level)); err != nil {
		return nil, err
	}

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

func (lc *lz4Compressor) Decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	if _, err := io.Copy(buf, r); err != nil {
		return nil, err
	}

	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

func (lc *lz4Compressor) Codec() Codec { return LZ4 }

// Zstd compressor
type zstdCompressor struct {
	encoderPool sync.Pool
	decoderPool sync.Pool
}

func newZstdCompressor(level Level) *zstdCompressor {
	encLevel := mapZstdLevel(level)

	zc := &zstdCompressor{}
	zc.encoderPool.New = func() interface{} {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
		return enc
	}
	zc.decoderPool.New = func() interface{} {
		dec, _ := zstd.NewReader(nil)
		return dec
	}
	return zc
}

func (zc *zstdCompressor) Compress(data []byte) ([]byte, error) {
	enc := zc.encoderPool.Get().(*zstd.Encoder)
	defer zc.encoderPool.Put(enc)

	return enc.EncodeAll(data, nil), nil
}

func (zc *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	dec := zc.decoderPool.Get().(*zstd.Decoder)
	defer zc.decoderPool.Put(dec)

	return dec.DecodeAll(data, nil)
}

func (zc *zstdCompressor) Codec() Codec { return Zstd }

// Snappy compressor
type snappyCompressor struct{}

func (sc *snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (sc *snappyCompressor) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

func (sc *snappyCompressor) Codec() Codec { return Snappy }

// S2 compressor (snappy-compatible with better compression)
type s2Compressor struct{}

func (sc *s2Compressor) Compress(data []byte) ([]byte, error) {
	return s2.Encode(nil, data), nil
}

func (sc *s2Compressor) Decompress(data []byte) ([]byte, error) {
	return s2.Decode(nil, data)
}

func (sc *s2Compressor) Codec() Codec { return S2 }

// Gzip compressor
type gzipCompressor struct {
	level      int
	writerPool sync.Pool
	readerPool sync.Pool
}

func newGzipCompressor(level Level) *gzipCompressor {
	gzLevel := mapGzipLevel(level)

	gc := &gzipCompressor{level: gzLevel}
	gc.writerPool.New = func() interface{} {
		w, _ := gzip.NewWriterLevel(nil, gzLevel)
		return w
	}
	gc.readerPool.New = func() interface{} {
		return new(gzip.Reader)
	}
	return gc
}

func (gc *gzipCompressor) Compress(data []byte) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	w := gc.writerPool.Get().(*gzip.Writer)
	defer gc.writerPool.Put(w)

	w.Reset(buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

func (gc *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r := gc.readerPool.Get().(*gzip.Reader)
	defer gc.readerPool.Put(r)

	if err := r.Reset(bytes.NewReader(data)); err != nil {
		return nil, err
	}

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	if _, err := io.Copy(buf, r); err != nil {
		return nil, err
	}

	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

func (gc *gzipCompressor) Codec() Codec { return Gzip }

// Deflate compressor
type deflateCompressor struct {
	level int
}

func newDeflateCompressor(level Level) *deflateCompressor {
	return &deflateCompressor{level: mapDeflateLevel(level)}
}

func (dc *deflateCompressor) Compress(data []byte) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	w, err := flate.NewWriter(buf, dc.level)
	if err != nil {
		return nil, err
	}

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

func (dc *deflateCompressor) Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	if _, err := io.Copy(buf, r); err != nil {
		return nil, err
	}

	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

func (dc *deflateCompressor) Codec() Codec { return Deflate }

// Helper functions to map compression levels

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

func mapDeflateLevel(level Level) int {
	switch level {
	case Fastest:
		return flate.BestSpeed
	case Best:
		return flate.BestCompression
	default:
		return flate.DefaultCompression
	}
}
