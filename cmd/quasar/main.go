package main

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"runtime"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/quasar/pkg/columnar"
	"github.com/ajitpratap0/quasar/pkg/compression"
	"github.com/ajitpratap0/quasar/pkg/config"
	"github.com/ajitpratap0/quasar/pkg/logger"
	"github.com/ajitpratap0/quasar/pkg/pool"
	"github.com/ajitpratap0/quasar/pkg/shuffle"
	"github.com/ajitpratap0/quasar/pkg/shuffle/wire"
)

var version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:   "quasar",
		Short: "Quasar - shuffle stream toolkit",
		Long: `Quasar reads framed, compressed, Arrow-columnar shuffle streams.
The inspect command replays a stream file and reports batch and timing stats;
the gen command produces a synthetic stream for testing.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Quasar v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(newInspectCmd())
	root.AddCommand(newGenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// inspectReport is the JSON summary printed by the inspect command.
type inspectReport struct {
	File            string              `json:"file"`
	Fields          []string            `json:"fields"`
	Batches         int                 `json:"batches"`
	Rows            int64               `json:"rows"`
	Stats           shuffle.ReaderStats `json:"stats"`
	DecompressTime  int64               `json:"decompress_time_ns"`
	IpcTime         int64               `json:"ipc_time_ns"`
	DeserializeTime int64               `json:"deserialize_time_ns"`
	PeakBytes       int64               `json:"peak_pool_bytes"`
}

func newInspectCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "inspect <stream-file>",
		Short: "Replay a shuffle stream file and print batch statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := logger.Init(logger.Config{Level: cfg.LogLevel, Encoding: "console"}); err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			opts, err := cfg.ReaderOptions()
			if err != nil {
				return err
			}
			return inspect(args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "reader configuration file")
	return cmd
}

func inspect(path string, opts shuffle.ReaderOptions) error {
	schema, err := peekSchema(path, opts)
	if err != nil {
		return err
	}

	mem := pool.NewTrackedAllocator(nil)
	reader, err := shuffle.NewReader(schema, opts, mem)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	f, err := os.Open(path)
	if err != nil {
		return err
	}

	it, err := reader.ReadStream(f)
	if err != nil {
		_ = f.Close()
		return err
	}

	report := inspectReport{File: path}
	for _, field := range schema.Fields() {
		report.Fields = append(report.Fields, fmt.Sprintf("%s:%s", field.Name, field.Type))
	}

	for {
		rec, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		report.Batches++
		report.Rows += rec.NumRows()
		rec.Release()
	}

	report.Stats = reader.Stats()
	report.DecompressTime = reader.DecompressTime()
	report.IpcTime = reader.IpcTime()
	report.DeserializeTime = reader.DeserializeTime()
	report.PeakBytes = mem.PeakBytes()

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	logger.Info("stream inspected",
		zap.Int("batches", report.Batches),
		zap.Int64("rows", report.Rows))
	return nil
}

// peekSchema reads only the schema frame so the reader can be constructed
// with the stream's own schema.
func peekSchema(path string, opts shuffle.ReaderOptions) (*arrow.Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	dec := wire.NewDecoder(f, opts.MaxFrameSize)
	defer dec.Release()

	frame, err := dec.Next()
	if err != nil {
		return nil, err
	}
	if frame.Type != wire.FrameSchema {
		return nil, fmt.Errorf("stream does not start with a schema frame")
	}
	return columnar.DeserializeSchema(frame.Payload, memory.NewGoAllocator())
}

func newGenCmd() *cobra.Command {
	var (
		batches   int
		rows      int
		codecName string
	)

	cmd := &cobra.Command{
		Use:   "gen <stream-file>",
		Short: "Generate a synthetic shuffle stream file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := compression.ParseCodec(codecName)
			if err != nil {
				return err
			}
			return generate(args[0], batches, rows, codec)
		},
	}

	cmd.Flags().IntVar(&batches, "batches", 4, "number of record batches")
	cmd.Flags().IntVar(&rows, "rows", 1024, "rows per batch")
	cmd.Flags().StringVar(&codecName, "codec", "lz4", "compression codec")
	return cmd
}

func generate(path string, batches, rows int, codec compression.Codec) error {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "user", Type: arrow.BinaryTypes.String},
		{Name: "score", Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	mem := memory.NewGoAllocator()
	w, err := shuffle.NewStreamWriter(f, schema, codec, compression.Default, mem)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	next := int64(0)
	for i := 0; i < batches; i++ {
		for j := 0; j < rows; j++ {
			b.Field(0).(*array.Int64Builder).Append(next)
			b.Field(1).(*array.StringBuilder).Append(fmt.Sprintf("user-%04d", rng.Intn(10000)))
			b.Field(2).(*array.Float64Builder).Append(rng.Float64() * 100)
			next++
		}
		rec := b.NewRecord()
		err := w.Write(rec)
		rec.Release()
		if err != nil {
			return err
		}
	}

	if err := w.Close(); err != nil {
		return err
	}

	fmt.Printf("wrote %d batches (%d rows) to %s with codec %s\n", batches, batches*rows, path, codec)
	return nil
}
