package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/goccy/go-json"

	"github.com/TFMV/dijet/event"
	"github.com/TFMV/dijet/graph"
	"github.com/TFMV/dijet/hist"
	"github.com/TFMV/dijet/yield"
)

// HistogramSchema is the long-form layout of exported histograms: one row
// per bin. 1D bins leave the y edges null.
var HistogramSchema = arrow.NewSchema([]arrow.Field{
	{Name: "name", Type: arrow.BinaryTypes.String},
	{Name: "dim", Type: arrow.PrimitiveTypes.Int8},
	{Name: "bin", Type: arrow.PrimitiveTypes.Int32},
	{Name: "x_low", Type: arrow.PrimitiveTypes.Float64},
	{Name: "x_high", Type: arrow.PrimitiveTypes.Float64},
	{Name: "y_low", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "y_high", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "entries", Type: arrow.PrimitiveTypes.Int64},
	{Name: "sumw", Type: arrow.PrimitiveTypes.Float64},
	{Name: "sumw2", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// HistogramRecord flattens set into a single record in name order.
func HistogramRecord(set *hist.Set) arrow.Record {
	b := array.NewRecordBuilder(event.Pool, HistogramSchema)
	defer b.Release()

	var (
		name    = b.Field(0).(*array.StringBuilder)
		dim     = b.Field(1).(*array.Int8Builder)
		bin     = b.Field(2).(*array.Int32Builder)
		xlo     = b.Field(3).(*array.Float64Builder)
		xhi     = b.Field(4).(*array.Float64Builder)
		ylo     = b.Field(5).(*array.Float64Builder)
		yhi     = b.Field(6).(*array.Float64Builder)
		entries = b.Field(7).(*array.Int64Builder)
		sumw    = b.Field(8).(*array.Float64Builder)
		sumw2   = b.Field(9).(*array.Float64Builder)
	)
	for _, n := range set.Names() {
		if h, ok := set.H1[n]; ok {
			for i, bn := range h.Binning.Bins {
				name.Append(n)
				dim.Append(1)
				bin.Append(int32(i))
				xlo.Append(bn.XMin())
				xhi.Append(bn.XMax())
				ylo.AppendNull()
				yhi.AppendNull()
				entries.Append(bn.Entries())
				sumw.Append(bn.SumW())
				sumw2.Append(bn.SumW2())
			}
			continue
		}
		h := set.H2[n]
		for i, bn := range h.Binning.Bins {
			name.Append(n)
			dim.Append(2)
			bin.Append(int32(i))
			xlo.Append(bn.XMin())
			xhi.Append(bn.XMax())
			ylo.Append(bn.YMin())
			yhi.Append(bn.YMax())
			entries.Append(bn.Entries())
			sumw.Append(bn.SumW())
			sumw2.Append(bn.SumW2())
		}
	}
	return b.NewRecord()
}

// ExportHistograms writes every histogram of set to an Arrow IPC file.
func ExportHistograms(path string, set *hist.Set, opts Options) error {
	start := time.Now()
	defer func() { writeLatency.Observe(time.Since(start).Seconds()) }()

	rec := HistogramRecord(set)
	defer rec.Release()
	return writeIPC(path, HistogramSchema, []arrow.Record{rec}, opts.Compression)
}

// Summary is the JSON digest of one analysis run.
type Summary struct {
	Input       string               `json:"input"`
	Year        int                  `json:"year"`
	Era         string               `json:"era"`
	IsData      bool                 `json:"is_data"`
	Events      int64                `json:"events"`
	Checkpoints []string             `json:"checkpoints"`
	Cutflow     []graph.FilterReport `json:"cutflow"`
	Histograms  int                  `json:"histograms"`
	Yield       yield.Result         `json:"yield"`
	Elapsed     time.Duration        `json:"elapsed_ns"`
}

// WriteSummary encodes s as indented JSON.
func WriteSummary(w io.Writer, s Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	return nil
}

// SaveSummary writes s to path.
func SaveSummary(path string, s Summary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %q: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file %q: %w", path, err)
	}
	if err := WriteSummary(f, s); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
