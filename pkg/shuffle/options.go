package shuffle

import (
	"github.com/ajitpratap0/quasar/pkg/compression"
	"github.com/ajitpratap0/quasar/pkg/errors"
)

// ReaderOptions is the immutable configuration snapshot bound to a Reader at
// construction. A Reader never re-reads options after NewReader returns.
type ReaderOptions struct {
	// Codecs is the set of codec ids the reader accepts. A data block
	// declaring a codec outside this set fails the stream.
	Codecs []compression.Codec

	// DefaultCodec is the codec the write side is expected to use. It must
	// be a member of Codecs.
	DefaultCodec compression.Codec

	// CompressionLevel configures codecs that are level-aware. Only the
	// write path cares; decompression is level-independent.
	CompressionLevel compression.Level

	// BufferSize is the read buffer size for the input stream.
	BufferSize int

	// MaxFrameSize caps the declared length of any single frame. A frame
	// declaring more is treated as corrupt.
	MaxFrameSize uint32
}

// DefaultReaderOptions returns options matching the usual shuffle write-side
// defaults: LZ4 blocks, 64KB stream buffering, 128MB frame ceiling.
func DefaultReaderOptions() ReaderOptions {
	return ReaderOptions{
		Codecs: []compression.Codec{
			compression.None,
			compression.LZ4,
			compression.Zstd,
			compression.Snappy,
		},
		DefaultCodec:     compression.LZ4,
		CompressionLevel: compression.Default,
		BufferSize:       64 * 1024,
		MaxFrameSize:     128 << 20,
	}
}

// Validate checks the options for internal contradictions.
func (o *ReaderOptions) Validate() error {
	if len(o.Codecs) == 0 {
		return errors.New(errors.ErrorTypeInvalidOptions, "no codecs enabled")
	}
	found := false
	for _, c := range o.Codecs {
		if c == o.DefaultCodec {
			found = true
			break
		}
	}
	if !found {
		return errors.Newf(errors.ErrorTypeInvalidOptions,
			"default codec %s is not in the enabled set", o.DefaultCodec)
	}
	if o.BufferSize <= 0 {
		return errors.Newf(errors.ErrorTypeInvalidOptions,
			"buffer size must be positive, got %d", o.BufferSize)
	}
	if o.MaxFrameSize == 0 {
		return errors.New(errors.ErrorTypeInvalidOptions, "max frame size must be positive")
	}
	return nil
}
