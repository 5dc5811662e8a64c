package archive

import (
	"path/filepath"
	"reflect"
	"testing"
)

func sampleRecord(id string, class int) Record {
	return Record{
		RunID:      id,
		Class:      class,
		Seed:       42,
		DraftSteps: 3,
		Drafter:    "drafter-d16",
		Refiner:    "refiner-d8",
		DurationMs: 120,
		Tokens:     []int32{0, 1, 1, 2, 3, 5},
		ImagePNG:   []byte{0x89, 'P', 'N', 'G'},
	}
}

func TestWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.arrow")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	want := []Record{sampleRecord("run-0", 1), sampleRecord("run-1", 7)}
	for _, r := range want {
		w.Append(r)
	}
	if w.Rows() != 2 {
		t.Errorf("Rows = %d, want 2", w.Rows())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestWriterMultipleBatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.arrow")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	w.Append(sampleRecord("run-0", 0))
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	w.Append(sampleRecord("run-1", 1))
	w.Append(sampleRecord("run-2", 2))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("read %d records, want 3", len(got))
	}
	for i, r := range got {
		if r.RunID != map[int]string{0: "run-0", 1: "run-1", 2: "run-2"}[i] {
			t.Errorf("record %d id = %q", i, r.RunID)
		}
	}
}

func TestFlushEmptyIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.arrow")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Errorf("empty flush: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("empty archive read %d records", len(got))
	}
}

func TestSchemaStable(t *testing.T) {
	s := Schema()
	wantFields := []string{
		"run_id", "class", "seed", "draft_steps",
		"drafter", "refiner", "duration_ms", "tokens", "image_png",
	}
	if s.NumFields() != len(wantFields) {
		t.Fatalf("schema has %d fields, want %d", s.NumFields(), len(wantFields))
	}
	for i, name := range wantFields {
		if s.Field(i).Name != name {
			t.Errorf("field %d = %q, want %q", i, s.Field(i).Name, name)
		}
	}
}
