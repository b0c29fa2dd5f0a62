// autograd.go - Kollektive mit Gradienten-Fluss
// Dieses Modul enthaelt das All-Gather mit Gradient (jeder Worker bekommt
// den Gradienten seines Anteils aus der Summe aller Worker) und die
// Mittelung der Parameter-Gradienten fuer datenparalleles Training.
package dist

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/ollama/cirtrain/ml"
)

// AllGatherWithGrad konkateniert jeden Tensor zeilenweise ueber alle Worker
// (Rank-Reihenfolge). Im Backward wird der Gradient des gesammelten Tensors
// ueber alle Worker summiert und der lokale Zeilenbereich zurueckgegeben.
func AllGatherWithGrad(ctx context.Context, mctx *ml.Context, g Group, ts ...*ml.Tensor) ([]*ml.Tensor, error) {
	out := make([]*ml.Tensor, len(ts))
	for i, t := range ts {
		gathered, err := gatherOne(ctx, mctx, g, t)
		if err != nil {
			return nil, fmt.Errorf("dist: gather tensor %d: %w", i, err)
		}
		out[i] = gathered
	}
	return out, nil
}

func gatherOne(ctx context.Context, mctx *ml.Context, g Group, t *ml.Tensor) (*ml.Tensor, error) {
	if g.Size() == 1 {
		return t, nil
	}

	parts, err := g.AllGather(ctx, t.Value())
	if err != nil {
		return nil, err
	}

	rows, cols := 0, t.Cols()
	lo := 0
	for i, p := range parts {
		r, _ := p.Dims()
		if i == g.Rank() {
			lo = rows
		}
		rows += r
	}
	hi := lo + t.Rows()

	value := mat.NewDense(rows, cols, nil)
	offset := 0
	for _, p := range parts {
		r, _ := p.Dims()
		value.Slice(offset, offset+r, 0, cols).(*mat.Dense).Copy(p)
		offset += r
	}

	return ml.Custom(mctx, value, func(grad *mat.Dense) ([]*mat.Dense, error) {
		summed, err := g.AllReduceSum(ctx, mat.DenseCopyOf(grad).RawMatrix().Data)
		if err != nil {
			return nil, err
		}
		full := mat.NewDense(rows, cols, summed)
		return []*mat.Dense{mat.DenseCopyOf(full.Slice(lo, hi, 0, cols))}, nil
	}, t), nil
}

// AverageGradients mittelt die Gradienten aller trainierbaren Parameter ueber
// alle Worker in einer einzigen Kollektive. Fehlende Gradienten zaehlen als 0.
func AverageGradients(ctx context.Context, g Group, params []*ml.Tensor) error {
	if g.Size() == 1 {
		return nil
	}

	var trainable []*ml.Tensor
	n := 0
	for _, p := range params {
		if p.RequiresGrad() {
			trainable = append(trainable, p)
			n += p.Rows() * p.Cols()
		}
	}

	flat := make([]float64, 0, n)
	for _, p := range trainable {
		if p.Grad() == nil {
			flat = append(flat, make([]float64, p.Rows()*p.Cols())...)
			continue
		}
		flat = append(flat, mat.DenseCopyOf(p.Grad()).RawMatrix().Data...)
	}

	summed, err := g.AllReduceSum(ctx, flat)
	if err != nil {
		return fmt.Errorf("dist: average gradients: %w", err)
	}

	scale := 1 / float64(g.Size())
	offset := 0
	for _, p := range trainable {
		size := p.Rows() * p.Cols()
		avg := mat.NewDense(p.Rows(), p.Cols(), summed[offset:offset+size])
		avg.Scale(scale, avg)
		p.ZeroGrad()
		p.AccumulateGrad(avg)
		offset += size
	}
	return nil
}
