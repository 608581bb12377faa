// Package storage reads and writes event samples and analysis outputs as
// Arrow IPC and Parquet files.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/TFMV/dijet/event"
)

// ErrUnknownFormat is returned for file extensions other than .arrow, .ipc,
// .feather and .parquet.
var ErrUnknownFormat = errors.New("storage: unknown file format")

var (
	readLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "dijet_storage_read_seconds",
		Help: "Time spent loading event files",
	})
	writeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "dijet_storage_write_seconds",
		Help: "Time spent writing event and histogram files",
	})
)

func init() {
	prometheus.MustRegister(readLatency, writeLatency)
}

// Format is an on-disk table format.
type Format int

const (
	FormatIPC Format = iota
	FormatParquet
)

// FormatOf picks the format from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".arrow", ".ipc", ".feather":
		return FormatIPC, nil
	case ".parquet", ".pq":
		return FormatParquet, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, path)
}

// CompressionConfig controls compression of written files.
type CompressionConfig struct {
	Enabled bool
	// Codec applies to Parquet output. IPC output uses zstd whenever
	// compression is enabled.
	Codec compress.Compression
	Level int
}

// DefaultCompression is zstd at the codec default level.
var DefaultCompression = CompressionConfig{Enabled: true, Codec: compress.Codecs.Zstd, Level: compress.DefaultCompressionLevel}

// Options configures reads and writes.
type Options struct {
	Compression CompressionConfig
	// BatchRows bounds the rows per record batch read from Parquet.
	BatchRows int64
}

// LoadEvents reads an event sample. The returned source owns its batches and
// must be released by the caller.
func LoadEvents(ctx context.Context, path string, opts Options) (*event.Source, error) {
	start := time.Now()
	defer func() { readLatency.Observe(time.Since(start).Seconds()) }()

	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	var records []arrow.Record
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()
	switch format {
	case FormatIPC:
		records, err = readIPC(path)
	case FormatParquet:
		records, err = readParquet(ctx, path, opts.BatchRows)
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%q: %w", path, event.ErrEmptySource)
	}
	return event.NewSource(nil, records...)
}

func readIPC(path string) ([]arrow.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %q: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	reader, err := ipc.NewFileReader(f, ipc.WithAllocator(event.Pool))
	if err != nil {
		return nil, fmt.Errorf("failed to create Arrow file reader for %q: %w", path, err)
	}
	defer func() {
		_ = reader.Close()
	}()

	records := make([]arrow.Record, 0, reader.NumRecords())
	for i := 0; i < reader.NumRecords(); i++ {
		rec, err := reader.RecordAt(i)
		if err != nil {
			for _, r := range records {
				r.Release()
			}
			return nil, fmt.Errorf("failed to read record %d from %q: %w", i, path, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func readParquet(ctx context.Context, path string, batchRows int64) ([]arrow.Record, error) {
	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file %q: %w", path, err)
	}
	defer func() {
		_ = pf.Close()
	}()
	if batchRows <= 0 {
		batchRows = 64 * 1024
	}
	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: batchRows, Parallel: true}, event.Pool)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader for %q: %w", path, err)
	}
	tbl, err := reader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", path, err)
	}
	defer tbl.Release()

	tr := array.NewTableReader(tbl, batchRows)
	defer tr.Release()
	var records []arrow.Record
	for tr.Next() {
		rec := tr.Record()
		rec.Retain()
		records = append(records, rec)
	}
	if err := tr.Err(); err != nil {
		for _, r := range records {
			r.Release()
		}
		return nil, err
	}
	return records, nil
}

// SaveEvents writes every batch of src to path in the format implied by its
// extension.
func SaveEvents(path string, src *event.Source, opts Options) error {
	start := time.Now()
	defer func() { writeLatency.Observe(time.Since(start).Seconds()) }()

	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	records := make([]arrow.Record, src.NumBatches())
	for i := range records {
		records[i] = src.Batch(i)
	}
	switch format {
	case FormatParquet:
		return writeParquet(path, src.Schema(), records, opts.Compression)
	default:
		return writeIPC(path, src.Schema(), records, opts.Compression)
	}
}

func writeIPC(path string, schema *arrow.Schema, records []arrow.Record, cc CompressionConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %q: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file %q: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	opts := []ipc.Option{ipc.WithSchema(schema), ipc.WithAllocator(event.Pool)}
	if cc.Enabled {
		opts = append(opts, ipc.WithZstd())
	}
	writer, err := ipc.NewFileWriter(f, opts...)
	if err != nil {
		return fmt.Errorf("failed to create Arrow file writer: %w", err)
	}
	for _, rec := range records {
		if err := writer.Write(rec); err != nil {
			_ = writer.Close()
			return fmt.Errorf("failed to write record to %q: %w", path, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish %q: %w", path, err)
	}
	return f.Sync()
}

func writeParquet(path string, schema *arrow.Schema, records []arrow.Record, cc CompressionConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %q: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file %q: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	props := []parquet.WriterProperty{parquet.WithAllocator(event.Pool)}
	if cc.Enabled {
		props = append(props, parquet.WithCompression(cc.Codec), parquet.WithCompressionLevel(cc.Level))
	}
	writer, err := pqarrow.NewFileWriter(schema, f, parquet.NewWriterProperties(props...), pqarrow.DefaultWriterProps())
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	for _, rec := range records {
		if err := writer.Write(rec); err != nil {
			_ = writer.Close()
			return fmt.Errorf("failed to write record to %q: %w", path, err)
		}
	}
	// Close also closes the underlying file.
	return writer.Close()
}
