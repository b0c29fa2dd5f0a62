// MODUL: clip/backbone
// ZWECK: Lineares CLIP-artiges Backbone mit Bild- und Text-Zweig
// INPUT: Bild-Zeilen (B x 3*S*S), Caption-Token-IDs
// OUTPUT: Feature-Tensoren (B x EmbedDim)
// NEBENEFFEKTE: Keine
// ABHAENGIGKEITEN: ml, nn (Linear), vision (Backbone, LoadOptions), gonum/mat
// HINWEISE: Token 0 ist Padding; Text wird als Mittelwert der Token-Embeddings gepoolt

package clip

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/ollama/cirtrain/ml"
	"github.com/ollama/cirtrain/nn"
	"github.com/ollama/cirtrain/vision"
)

// PadToken wird beim Pooling ignoriert.
const PadToken = 0

// ============================================================================
// Backbone - Hauptstruktur
// ============================================================================

// Backbone implementiert vision.Backbone mit einer linearen Bild-Projektion
// und gepoolten Token-Embeddings fuer Captions.
type Backbone struct {
	imageProj  *nn.Linear
	tokenEmbed *ml.Tensor
	textProj   *nn.Linear

	info     vision.BackboneInfo
	training bool
}

// New erstellt ein Backbone mit deterministisch initialisierten Gewichten.
func New(opts vision.LoadOptions) (*Backbone, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed+1))

	embed := make([]float64, opts.VocabSize*opts.EmbedDim)
	scale := 1 / math.Sqrt(float64(opts.EmbedDim))
	for i := range embed {
		embed[i] = rng.NormFloat64() * scale
	}

	return &Backbone{
		imageProj:  nn.NewLinear(opts.InputDim(), opts.EmbedDim, rng),
		tokenEmbed: ml.New(mat.NewDense(opts.VocabSize, opts.EmbedDim, embed), true).Named("token_embed"),
		textProj:   nn.NewLinear(opts.EmbedDim, opts.EmbedDim, rng),
		info: vision.BackboneInfo{
			Name:      Name,
			EmbedDim:  opts.EmbedDim,
			ImageSize: opts.ImageSize,
			InputDim:  opts.InputDim(),
			VocabSize: opts.VocabSize,
		},
	}, nil
}

// ============================================================================
// Encoding
// ============================================================================

// EncodeImage projiziert B Bild-Zeilen in den Feature-Raum.
func (b *Backbone) EncodeImage(ctx *ml.Context, images *ml.Tensor) *ml.Tensor {
	if images.Cols() != b.info.InputDim {
		panic(fmt.Sprintf("clip: image rows have %d values, want %d", images.Cols(), b.info.InputDim))
	}
	return b.imageProj.Forward(ctx, images)
}

// EncodeText mittelt die Token-Embeddings jeder Caption und projiziert sie.
func (b *Backbone) EncodeText(ctx *ml.Context, captions [][]int) *ml.Tensor {
	pool := mat.NewDense(len(captions), b.info.VocabSize, nil)
	for i, tokens := range captions {
		n := 0
		for _, tok := range tokens {
			if tok < 0 || tok >= b.info.VocabSize {
				panic(fmt.Sprintf("clip: token %d out of range [0,%d)", tok, b.info.VocabSize))
			}
			if tok != PadToken {
				n++
			}
		}
		for _, tok := range tokens {
			if tok != PadToken {
				pool.Set(i, tok, pool.At(i, tok)+1/float64(n))
			}
		}
	}

	pooled := ml.New(pool, false).Matmul(ctx, b.tokenEmbed)
	return b.textProj.Forward(ctx, pooled)
}

// ============================================================================
// nn.Module
// ============================================================================

func (b *Backbone) Parameters() []*ml.Tensor {
	params := b.imageProj.Parameters()
	params = append(params, b.tokenEmbed)
	return append(params, b.textProj.Parameters()...)
}

// SetTraining schaltet nur das Modus-Flag um, der Forward ist in beiden
// Modi identisch.
func (b *Backbone) SetTraining(training bool) {
	b.training = training
	b.imageProj.SetTraining(training)
	b.textProj.SetTraining(training)
}

func (b *Backbone) Training() bool { return b.training }

func (b *Backbone) Info() vision.BackboneInfo { return b.info }
