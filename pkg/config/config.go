// Package config loads reader configuration for the quasar CLI and embedding
// services. Files are YAML (or any format viper understands) and map onto
// shuffle.ReaderOptions after validation.
package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/ajitpratap0/quasar/pkg/compression"
	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/shuffle"
)

// ReaderConfig is the on-disk shape of reader settings.
type ReaderConfig struct {
	// Codec is the expected default codec name (lz4, zstd, snappy, ...).
	Codec string `mapstructure:"codec"`
	// Codecs is the enabled codec set; defaults to the reader defaults.
	Codecs []string `mapstructure:"codecs"`
	// Level is the compression level name (fastest, default, better, best).
	Level string `mapstructure:"level"`
	// BufferSize is the stream read buffer in bytes.
	BufferSize int `mapstructure:"buffer_size"`
	// MaxFrameSize caps declared frame lengths in bytes.
	MaxFrameSize uint32 `mapstructure:"max_frame_size"`
	// LogLevel configures the logger (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level"`
}

// Load reads a reader configuration file. A missing path returns defaults.
func Load(path string) (*ReaderConfig, error) {
	v := viper.New()
	v.SetDefault("codec", "lz4")
	v.SetDefault("level", "default")
	v.SetDefault("buffer_size", 64*1024)
	v.SetDefault("max_frame_size", 128<<20)
	v.SetDefault("log_level", "info")
	v.SetEnvPrefix("QUASAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInvalidOptions, "failed to read config file")
		}
	}

	var cfg ReaderConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInvalidOptions, "failed to decode config")
	}
	return &cfg, nil
}

// ReaderOptions converts the file configuration into validated options.
func (c *ReaderConfig) ReaderOptions() (shuffle.ReaderOptions, error) {
	opts := shuffle.DefaultReaderOptions()

	if c.Codec != "" {
		codec, err := compression.ParseCodec(c.Codec)
		if err != nil {
			return opts, errors.Wrap(err, errors.ErrorTypeInvalidOptions, "bad default codec")
		}
		opts.DefaultCodec = codec
	}

	if len(c.Codecs) > 0 {
		codecs := make([]compression.Codec, 0, len(c.Codecs))
		for _, name := range c.Codecs {
			codec, err := compression.ParseCodec(name)
			if err != nil {
				return opts, errors.Wrap(err, errors.ErrorTypeInvalidOptions, "bad codec in enabled set")
			}
			codecs = append(codecs, codec)
		}
		opts.Codecs = codecs
	}

	if c.Level != "" {
		level, err := parseLevel(c.Level)
		if err != nil {
			return opts, err
		}
		opts.CompressionLevel = level
	}

	if c.BufferSize > 0 {
		opts.BufferSize = c.BufferSize
	}
	if c.MaxFrameSize > 0 {
		opts.MaxFrameSize = c.MaxFrameSize
	}

	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

func parseLevel(name string) (compression.Level, error) {
	switch name {
	case "fastest":
		return compression.Fastest, nil
	case "default":
		return compression.Default, nil
	case "better":
		return compression.Better, nil
	case "best":
		return compression.Best, nil
	default:
		return 0, errors.Newf(errors.ErrorTypeInvalidOptions, "unknown compression level %q", name)
	}
}
