// Package checkpoint reads and writes VCKP weight files: a small
// little-endian container holding the model config, the scale schedule,
// and a named float32 tensor table.
package checkpoint

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/23skdu/varcode/internal/config"
	"github.com/23skdu/varcode/internal/logger"
	"github.com/23skdu/varcode/internal/model"
	"github.com/23skdu/varcode/internal/schedule"
)

const (
	// Magic is "VCKP" read as a little-endian uint32.
	Magic   uint32 = 0x504B4356
	Version uint32 = 1

	maxNameLen    = 256
	maxTensorElem = 1 << 32
)

// ErrInvalidMagic reports a file that is not a VCKP checkpoint.
type ErrInvalidMagic struct {
	Magic uint32
}

func (e ErrInvalidMagic) Error() string {
	return fmt.Sprintf("invalid magic 0x%08X, want 0x%08X", e.Magic, Magic)
}

// ErrUnsupportedVersion reports a VCKP version this reader cannot parse.
type ErrUnsupportedVersion struct {
	Version uint32
}

func (e ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported checkpoint version %d", e.Version)
}

// tensorOrder is the canonical write order. Block tensors follow, named
// blk.<i>.<suffix>.
var tensorOrder = []string{
	"class_emb", "pos_start", "pos_emb", "level_emb",
	"codebook", "word_emb", "final_norm", "head",
}

var blockSuffixes = []string{"attn_norm", "wq", "wk", "wv", "wo", "ffn_norm", "w1", "w2"}

func blockTensors(b *model.BlockWeights) []*[]float32 {
	return []*[]float32{&b.AttnNorm, &b.Wq, &b.Wk, &b.Wv, &b.Wo, &b.FFNNorm, &b.W1, &b.W2}
}

// Save writes the full parameter set to path. The file is written
// atomically via a temp file rename.
func Save(path string, w *model.Weights) error {
	if err := w.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid weights: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(f, 1<<20)

	write := func() error {
		if err := writeHeader(bw, w); err != nil {
			return err
		}
		tensors := namedTensors(w)
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(tensors))); err != nil {
			return err
		}
		for _, t := range tensors {
			if err := writeTensor(bw, t.name, *t.data); err != nil {
				return err
			}
		}
		return bw.Flush()
	}

	if err := write(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	logger.Log.Info("checkpoint saved", "path", path, "depth", w.Cfg.Depth, "scales", w.Sched.Len())
	return nil
}

// Load parses a VCKP file into a validated parameter set.
func Load(path string) (*model.Weights, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	br := bufio.NewReaderSize(f, 1<<20)

	cfg, sched, err := readHeader(br)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}

	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("checkpoint %s: tensor count: %w", path, err)
	}

	table := make(map[string][]float32, count)
	for i := uint32(0); i < count; i++ {
		name, data, err := readTensor(br)
		if err != nil {
			return nil, fmt.Errorf("checkpoint %s: tensor %d: %w", path, i, err)
		}
		if _, dup := table[name]; dup {
			return nil, fmt.Errorf("checkpoint %s: duplicate tensor %q", path, name)
		}
		table[name] = data
	}

	w := &model.Weights{Cfg: cfg, Sched: sched}
	w.Blocks = make([]model.BlockWeights, cfg.Depth)
	take := func(name string, dst *[]float32) error {
		data, ok := table[name]
		if !ok {
			return fmt.Errorf("missing tensor %q", name)
		}
		*dst = data
		return nil
	}

	dsts := rootTensors(w)
	for i, name := range tensorOrder {
		if err := take(name, dsts[i]); err != nil {
			return nil, fmt.Errorf("checkpoint %s: %w", path, err)
		}
	}
	for i := range w.Blocks {
		bt := blockTensors(&w.Blocks[i])
		for j, suffix := range blockSuffixes {
			if err := take(fmt.Sprintf("blk.%d.%s", i, suffix), bt[j]); err != nil {
				return nil, fmt.Errorf("checkpoint %s: %w", path, err)
			}
		}
	}

	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	logger.Log.Info("checkpoint loaded",
		"path", path, "depth", cfg.Depth, "dim", cfg.Dim, "scales", sched.Len(), "tensors", count)
	return w, nil
}

// LoadAdapter loads a checkpoint and wraps it as a named model adapter.
func LoadAdapter(path, name string) (*model.VAR, error) {
	w, err := Load(path)
	if err != nil {
		return nil, err
	}
	return model.New(name, w)
}

// Synthetic builds a deterministic random-weight adapter, sized by
// depth per the usual width convention. Meant for benchmarks and smoke
// testing when no trained checkpoint is at hand.
func Synthetic(name string, depth int, sched schedule.Schedule, seed int64) (*model.VAR, error) {
	cfg := config.ForDepth(depth)
	w, err := model.NewWeights(cfg, sched, seed)
	if err != nil {
		return nil, err
	}
	return model.New(name, w)
}

type namedTensor struct {
	name string
	data *[]float32
}

func rootTensors(w *model.Weights) []*[]float32 {
	return []*[]float32{
		&w.ClassEmb, &w.PosStart, &w.PosEmb, &w.LevelEmb,
		&w.Codebook, &w.WordEmb, &w.FinalNorm, &w.Head,
	}
}

func namedTensors(w *model.Weights) []namedTensor {
	dsts := rootTensors(w)
	out := make([]namedTensor, 0, len(tensorOrder)+len(w.Blocks)*len(blockSuffixes))
	for i, name := range tensorOrder {
		out = append(out, namedTensor{name: name, data: dsts[i]})
	}
	for i := range w.Blocks {
		bt := blockTensors(&w.Blocks[i])
		for j, suffix := range blockSuffixes {
			out = append(out, namedTensor{name: fmt.Sprintf("blk.%d.%s", i, suffix), data: bt[j]})
		}
	}
	return out
}

func writeHeader(bw *bufio.Writer, w *model.Weights) error {
	c := w.Cfg
	fields := []uint32{
		Magic, Version,
		uint32(c.Depth), uint32(c.Dim), uint32(c.Heads), uint32(c.HeadDim),
		uint32(c.HiddenDim), uint32(c.VocabSize), uint32(c.CodeDim), uint32(c.NumClasses),
		uint32(w.Sched.Len()),
	}
	for _, v := range fields {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	for i := 0; i < w.Sched.Len(); i++ {
		if err := binary.Write(bw, binary.LittleEndian, uint32(w.Sched.Side(i))); err != nil {
			return err
		}
	}
	return nil
}

func readHeader(br *bufio.Reader) (config.Model, schedule.Schedule, error) {
	var cfg config.Model
	var zero schedule.Schedule

	var magic, version uint32
	if err := binary.Read(br, binary.LittleEndian, &magic); err != nil {
		return cfg, zero, err
	}
	if magic != Magic {
		return cfg, zero, ErrInvalidMagic{Magic: magic}
	}
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return cfg, zero, err
	}
	if version != Version {
		return cfg, zero, ErrUnsupportedVersion{Version: version}
	}

	var raw [9]uint32
	for i := range raw {
		if err := binary.Read(br, binary.LittleEndian, &raw[i]); err != nil {
			return cfg, zero, err
		}
	}
	cfg = config.Model{
		Depth:      int(raw[0]),
		Dim:        int(raw[1]),
		Heads:      int(raw[2]),
		HeadDim:    int(raw[3]),
		HiddenDim:  int(raw[4]),
		VocabSize:  int(raw[5]),
		CodeDim:    int(raw[6]),
		NumClasses: int(raw[7]),
	}
	numScales := raw[8]
	if numScales == 0 || numScales > 64 {
		return cfg, zero, fmt.Errorf("implausible scale count %d", numScales)
	}
	sides := make([]int, numScales)
	for i := range sides {
		var s uint32
		if err := binary.Read(br, binary.LittleEndian, &s); err != nil {
			return cfg, zero, err
		}
		sides[i] = int(s)
	}
	sched, err := schedule.New(sides...)
	if err != nil {
		return cfg, zero, err
	}
	return cfg, sched, nil
}

func writeTensor(bw *bufio.Writer, name string, data []float32) error {
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(name))); err != nil {
		return err
	}
	if _, err := bw.WriteString(name); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(data))); err != nil {
		return err
	}
	var buf [4]byte
	for _, v := range data {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}

func readTensor(br *bufio.Reader) (string, []float32, error) {
	var nameLen uint32
	if err := binary.Read(br, binary.LittleEndian, &nameLen); err != nil {
		return "", nil, err
	}
	if nameLen == 0 || nameLen > maxNameLen {
		return "", nil, fmt.Errorf("implausible tensor name length %d", nameLen)
	}
	nameBuf := make([]byte, nameLen)
	if _, err := io.ReadFull(br, nameBuf); err != nil {
		return "", nil, err
	}
	name := string(nameBuf)

	var count uint64
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return name, nil, err
	}
	if count > maxTensorElem {
		return name, nil, fmt.Errorf("tensor %q: implausible element count %d", name, count)
	}
	raw := make([]byte, count*4)
	if _, err := io.ReadFull(br, raw); err != nil {
		return name, nil, err
	}
	data := make([]float32, count)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return name, data, nil
}
