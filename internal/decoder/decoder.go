// Package decoder turns a completed token pyramid into a raster image.
// The production VQ-VAE decoder is a separate network; here the shared
// quantizer codebook is enough to render a faithful preview: each scale
// contributes its code vectors upsampled to the final side, coarse to
// fine, and the accumulated feature is mapped to RGB.
package decoder

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"github.com/23skdu/varcode/internal/logger"
	"github.com/23skdu/varcode/internal/metrics"
	"github.com/23skdu/varcode/internal/model"
	"github.com/23skdu/varcode/internal/pyramid"
)

// Decoder renders a complete pyramid to an image.
type Decoder interface {
	Decode(p *pyramid.Pyramid) (image.Image, error)
}

// Codebook decodes by summing quantizer code vectors across scales.
type Codebook struct {
	codebook []float32
	vocab    int
	codeDim  int
}

// NewCodebook wraps a flat VocabSize x CodeDim quantizer embedding.
func NewCodebook(codebook []float32, vocab, codeDim int) (*Codebook, error) {
	if vocab <= 0 || codeDim < 3 {
		return nil, fmt.Errorf("codebook needs vocab > 0 and code dim >= 3, got %d x %d", vocab, codeDim)
	}
	if len(codebook) != vocab*codeDim {
		return nil, fmt.Errorf("codebook has %d elements, want %d", len(codebook), vocab*codeDim)
	}
	return &Codebook{codebook: codebook, vocab: vocab, codeDim: codeDim}, nil
}

// FromWeights builds a decoder over a model's own quantizer codebook,
// so rendered output stays consistent with the tokens it sampled.
func FromWeights(w *model.Weights) (*Codebook, error) {
	return NewCodebook(w.Codebook, w.Cfg.VocabSize, w.Cfg.CodeDim)
}

// Decode renders the pyramid at its final side. The pyramid must be
// complete; partial renders would hide scheduler bugs.
func (d *Codebook) Decode(p *pyramid.Pyramid) (image.Image, error) {
	if !p.Complete() {
		return nil, fmt.Errorf("pyramid incomplete: %d of %d scales", p.Len(), p.Schedule().Len())
	}
	side := p.Schedule().FinalSide()
	feat := make([]float32, side*side*d.codeDim)

	for s := 0; s < p.Len(); s++ {
		m := p.Map(s)
		for r := 0; r < side; r++ {
			sr := r * m.Side / side
			for c := 0; c < side; c++ {
				sc := c * m.Side / side
				tok := int(m.At(sr, sc))
				if tok < 0 || tok >= d.vocab {
					return nil, fmt.Errorf("scale %d token %d out of codebook range", s, tok)
				}
				code := d.codebook[tok*d.codeDim : (tok+1)*d.codeDim]
				px := (r*side + c) * d.codeDim
				for k, v := range code {
					feat[px+k] += v
				}
			}
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, side, side))
	for r := 0; r < side; r++ {
		for c := 0; c < side; c++ {
			px := (r*side + c) * d.codeDim
			img.SetRGBA(c, r, color.RGBA{
				R: toByte(feat[px]),
				G: toByte(feat[px+1]),
				B: toByte(feat[px+2]),
				A: 255,
			})
		}
	}
	metrics.ImagesDecoded.Inc()
	return img, nil
}

// toByte squashes an unbounded feature through tanh into [0, 255].
func toByte(v float32) uint8 {
	t := math.Tanh(float64(v))
	return uint8(math.Round((t + 1) / 2 * 255))
}

// SavePNG writes an image losslessly to path.
func SavePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	b := img.Bounds()
	logger.Log.Debug("image written", "path", path, "width", b.Dx(), "height", b.Dy())
	return nil
}
