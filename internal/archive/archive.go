// Package archive persists generation runs as Arrow record batches:
// one row per run carrying its condition, seed, split point, flattened
// token stream and the rendered PNG. Files use the Arrow IPC file
// format; batches can also be pushed to an Arrow Flight endpoint.
package archive

import (
	"fmt"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/varcode/internal/logger"
	"github.com/23skdu/varcode/internal/metrics"
)

// Record is one completed generation run.
type Record struct {
	RunID      string
	Class      int
	Seed       int64
	DraftSteps int
	Drafter    string
	Refiner    string
	DurationMs int64
	Tokens     []int32
	ImagePNG   []byte
}

// Schema returns the Arrow schema shared by file and Flight output.
func Schema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "run_id", Type: arrow.BinaryTypes.String},
		{Name: "class", Type: arrow.PrimitiveTypes.Int32},
		{Name: "seed", Type: arrow.PrimitiveTypes.Int64},
		{Name: "draft_steps", Type: arrow.PrimitiveTypes.Int32},
		{Name: "drafter", Type: arrow.BinaryTypes.String},
		{Name: "refiner", Type: arrow.BinaryTypes.String},
		{Name: "duration_ms", Type: arrow.PrimitiveTypes.Int64},
		{Name: "tokens", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
		{Name: "image_png", Type: arrow.BinaryTypes.Binary},
	}, nil)
}

// appendRecord pushes one row into a record builder.
func appendRecord(b *array.RecordBuilder, r Record) {
	b.Field(0).(*array.StringBuilder).Append(r.RunID)
	b.Field(1).(*array.Int32Builder).Append(int32(r.Class))
	b.Field(2).(*array.Int64Builder).Append(r.Seed)
	b.Field(3).(*array.Int32Builder).Append(int32(r.DraftSteps))
	b.Field(4).(*array.StringBuilder).Append(r.Drafter)
	b.Field(5).(*array.StringBuilder).Append(r.Refiner)
	b.Field(6).(*array.Int64Builder).Append(r.DurationMs)
	lb := b.Field(7).(*array.ListBuilder)
	lb.Append(true)
	lb.ValueBuilder().(*array.Int32Builder).AppendValues(r.Tokens, nil)
	b.Field(8).(*array.BinaryBuilder).Append(r.ImagePNG)
}

// Writer appends run records to an Arrow IPC file. Append buffers rows;
// Flush emits them as one record batch. Not safe for concurrent use.
type Writer struct {
	f       *os.File
	fw      *ipc.FileWriter
	builder *array.RecordBuilder
	pending int
	rows    int
}

// NewWriter creates (or truncates) an archive file at path.
func NewWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	schema := Schema()
	fw, err := ipc.NewFileWriter(f, ipc.WithSchema(schema), ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("archive %s: %w", path, err)
	}
	return &Writer{
		f:       f,
		fw:      fw,
		builder: array.NewRecordBuilder(memory.DefaultAllocator, schema),
	}, nil
}

// Append buffers one run record.
func (w *Writer) Append(r Record) {
	appendRecord(w.builder, r)
	w.pending++
}

// Flush writes all buffered rows as a single record batch.
func (w *Writer) Flush() error {
	if w.pending == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()
	if err := w.fw.Write(rec); err != nil {
		return err
	}
	metrics.ArchiveRowsWritten.Add(float64(w.pending))
	w.rows += w.pending
	w.pending = 0
	return nil
}

// Rows reports the number of rows written so far, flushed or pending.
func (w *Writer) Rows() int { return w.rows + w.pending }

// Close flushes pending rows and finalizes the file footer.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		w.fw.Close()
		w.f.Close()
		return err
	}
	w.builder.Release()
	if err := w.fw.Close(); err != nil {
		w.f.Close()
		return err
	}
	if err := w.f.Close(); err != nil {
		return err
	}
	logger.Log.Info("archive written", "path", w.f.Name(), "rows", w.rows)
	return nil
}

// ReadAll loads every record from an archive file. Meant for tooling
// and tests; production consumers stream the batches instead.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rdr, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", path, err)
	}
	defer rdr.Close()

	var out []Record
	for i := 0; i < rdr.NumRecords(); i++ {
		rec, err := rdr.RecordAt(i)
		if err != nil {
			return nil, fmt.Errorf("archive %s: batch %d: %w", path, i, err)
		}
		runIDs := rec.Column(0).(*array.String)
		classes := rec.Column(1).(*array.Int32)
		seeds := rec.Column(2).(*array.Int64)
		splits := rec.Column(3).(*array.Int32)
		drafters := rec.Column(4).(*array.String)
		refiners := rec.Column(5).(*array.String)
		durations := rec.Column(6).(*array.Int64)
		tokens := rec.Column(7).(*array.List)
		images := rec.Column(8).(*array.Binary)
		tokenVals := tokens.ListValues().(*array.Int32)

		for row := 0; row < int(rec.NumRows()); row++ {
			start, end := tokens.ValueOffsets(row)
			toks := make([]int32, end-start)
			for j := range toks {
				toks[j] = tokenVals.Value(int(start) + j)
			}
			png := make([]byte, len(images.Value(row)))
			copy(png, images.Value(row))
			out = append(out, Record{
				RunID:      runIDs.Value(row),
				Class:      int(classes.Value(row)),
				Seed:       seeds.Value(row),
				DraftSteps: int(splits.Value(row)),
				Drafter:    drafters.Value(row),
				Refiner:    refiners.Value(row),
				DurationMs: durations.Value(row),
				Tokens:     toks,
				ImagePNG:   png,
			})
		}
	}
	return out, nil
}
