// linear.go - Lineare Schicht und Dropout-Schicht
// Dieses Modul enthaelt Linear (x·W + b) mit gleichverteilter
// Initialisierung und die Dropout-Schicht mit Train/Eval-Verhalten.
package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/ollama/cirtrain/ml"
)

// =============================================================================
// Linear
// =============================================================================

// Linear berechnet x·W + b. W hat die Form in x out, b die Form 1 x out.
type Linear struct {
	Weight *ml.Tensor
	Bias   *ml.Tensor

	training bool
}

// NewLinear initialisiert W und b gleichverteilt in [-1/sqrt(in), 1/sqrt(in)].
func NewLinear(in, out int, rng *rand.Rand) *Linear {
	if in <= 0 || out <= 0 {
		panic(fmt.Sprintf("nn: invalid linear shape %dx%d", in, out))
	}

	bound := 1 / math.Sqrt(float64(in))
	uniform := func(n int) []float64 {
		data := make([]float64, n)
		for i := range data {
			data[i] = (2*rng.Float64() - 1) * bound
		}
		return data
	}

	return &Linear{
		Weight: ml.New(mat.NewDense(in, out, uniform(in*out)), true).Named("weight"),
		Bias:   ml.New(mat.NewDense(1, out, uniform(out)), true).Named("bias"),
	}
}

// Forward wendet die Schicht auf x (B x in) an.
func (l *Linear) Forward(ctx *ml.Context, x *ml.Tensor) *ml.Tensor {
	return x.Matmul(ctx, l.Weight).Add(ctx, l.Bias)
}

func (l *Linear) Parameters() []*ml.Tensor { return []*ml.Tensor{l.Weight, l.Bias} }

func (l *Linear) SetTraining(training bool) { l.training = training }

func (l *Linear) Training() bool { return l.training }

// =============================================================================
// Dropout
// =============================================================================

// Dropout ist nur im Train-Modus aktiv.
type Dropout struct {
	P float64

	rng      *rand.Rand
	training bool
}

func NewDropout(p float64, rng *rand.Rand) *Dropout {
	return &Dropout{P: p, rng: rng}
}

func (d *Dropout) Forward(ctx *ml.Context, x *ml.Tensor) *ml.Tensor {
	if !d.training || d.P <= 0 {
		return x
	}
	return x.Dropout(ctx, d.P, d.rng)
}

func (d *Dropout) Parameters() []*ml.Tensor { return nil }

func (d *Dropout) SetTraining(training bool) { d.training = training }

func (d *Dropout) Training() bool { return d.training }
