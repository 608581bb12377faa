// Package event holds the immutable tabular event source consumed by the
// column graph: an ordered list of Apache Arrow record batches sharing one
// schema.
package event

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Pool is the Go memory allocator used for event batches.
var Pool = memory.NewGoAllocator()

var (
	// ErrSchemaMismatch is returned when batches do not share a schema.
	ErrSchemaMismatch = errors.New("event: batch schema mismatch")
	// ErrEmptySource is returned when neither a schema nor a batch is given.
	ErrEmptySource = errors.New("event: source has no schema")
)

// Source is an ordered, finite collection of events split into batches.
// It is never mutated after construction; derived sources (Rechunk, Range)
// own their own batch references.
type Source struct {
	schema  *arrow.Schema
	batches []arrow.Record
	offsets []int64
	rows    int64
}

// NewSource builds a source from record batches. Each record is retained, so
// callers keep ownership of their own reference. If schema is nil the schema
// of the first record is used.
func NewSource(schema *arrow.Schema, records ...arrow.Record) (*Source, error) {
	if schema == nil {
		if len(records) == 0 {
			return nil, ErrEmptySource
		}
		schema = records[0].Schema()
	}
	s := &Source{
		schema:  schema,
		batches: make([]arrow.Record, 0, len(records)),
		offsets: make([]int64, 0, len(records)),
	}
	for i, rec := range records {
		if !rec.Schema().Equal(schema) {
			s.Release()
			return nil, fmt.Errorf("%w: batch %d", ErrSchemaMismatch, i)
		}
		rec.Retain()
		s.offsets = append(s.offsets, s.rows)
		s.batches = append(s.batches, rec)
		s.rows += rec.NumRows()
	}
	return s, nil
}

// Schema returns the column layout shared by every batch.
func (s *Source) Schema() *arrow.Schema { return s.schema }

// NumRows returns the total number of events.
func (s *Source) NumRows() int64 { return s.rows }

// NumBatches returns the number of record batches.
func (s *Source) NumBatches() int { return len(s.batches) }

// Batch returns the i-th record batch.
func (s *Source) Batch(i int) arrow.Record { return s.batches[i] }

// Offset returns the global index of the first row of batch i.
func (s *Source) Offset(i int) int64 { return s.offsets[i] }

// Rechunk splits batches so none holds more than rows events. The returned
// source must be released independently.
func (s *Source) Rechunk(rows int) *Source {
	if rows <= 0 {
		rows = 1
	}
	out := &Source{schema: s.schema}
	for _, rec := range s.batches {
		n := rec.NumRows()
		for lo := int64(0); lo < n; lo += int64(rows) {
			hi := min(lo+int64(rows), n)
			out.offsets = append(out.offsets, out.rows)
			out.batches = append(out.batches, rec.NewSlice(lo, hi))
			out.rows += hi - lo
		}
	}
	return out
}

// Range returns the events with global index in [begin, end). end < 0 means
// up to the last event.
func (s *Source) Range(begin, end int64) (*Source, error) {
	if end < 0 || end > s.rows {
		end = s.rows
	}
	if begin < 0 || begin > end {
		return nil, fmt.Errorf("event: invalid range [%d, %d) over %d rows", begin, end, s.rows)
	}
	out := &Source{schema: s.schema}
	for i, rec := range s.batches {
		lo, hi := s.offsets[i], s.offsets[i]+rec.NumRows()
		if hi <= begin || lo >= end {
			continue
		}
		from, to := max(begin, lo)-lo, min(end, hi)-lo
		out.offsets = append(out.offsets, out.rows)
		out.batches = append(out.batches, rec.NewSlice(from, to))
		out.rows += to - from
	}
	return out, nil
}

// Release drops the source's references to its batches.
func (s *Source) Release() {
	for _, rec := range s.batches {
		rec.Release()
	}
	s.batches = nil
	s.offsets = nil
	s.rows = 0
}
