// reduce.go - Normalisierung, Reduktionen, Zeilen-Operationen und Loss
// Dieses Modul enthaelt L2Norm (wie F.normalize), Mean/Sum,
// ConcatRows/SliceRows/ChunkRows und die Cross-Entropy ueber Zeilen.
package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultNormEps entspricht dem eps von F.normalize.
const DefaultNormEps = 1e-12

// =============================================================================
// Normalisierung
// =============================================================================

// L2Norm normalisiert jede Zeile auf Laenge 1: x / max(||x||, eps).
func (t *Tensor) L2Norm(ctx *Context, eps float64) *Tensor {
	r, c := t.value.Dims()
	out := mat.NewDense(r, c, nil)
	norms := make([]float64, r)

	for i := 0; i < r; i++ {
		row := t.value.RawRowView(i)
		norms[i] = math.Max(floats.Norm(row, 2), eps)
		dst := out.RawRowView(i)
		floats.ScaleTo(dst, 1/norms[i], row)
	}

	return ctx.record(&Tensor{value: out}, func(g *mat.Dense) ([]*mat.Dense, error) {
		dx := mat.NewDense(r, c, nil)
		for i := 0; i < r; i++ {
			gi := g.RawRowView(i)
			dst := dx.RawRowView(i)
			if floats.Norm(t.value.RawRowView(i), 2) < eps {
				// geklemmte Norm ist konstant
				floats.ScaleTo(dst, 1/eps, gi)
				continue
			}
			yi := out.RawRowView(i)
			dot := floats.Dot(yi, gi)
			for j := range dst {
				dst[j] = (gi[j] - yi[j]*dot) / norms[i]
			}
		}
		return []*mat.Dense{dx}, nil
	}, t)
}

// =============================================================================
// Reduktionen
// =============================================================================

// Sum gibt die Summe aller Elemente als 1x1 Tensor zurueck.
func (t *Tensor) Sum(ctx *Context) *Tensor {
	r, c := t.value.Dims()
	out := mat.NewDense(1, 1, []float64{mat.Sum(t.value)})

	return ctx.record(&Tensor{value: out}, func(g *mat.Dense) ([]*mat.Dense, error) {
		return []*mat.Dense{broadcast(g, r, c)}, nil
	}, t)
}

// Mean gibt den Mittelwert aller Elemente als 1x1 Tensor zurueck.
func (t *Tensor) Mean(ctx *Context) *Tensor {
	r, c := t.value.Dims()
	n := float64(r * c)
	return t.Sum(ctx).Scale(ctx, 1/n)
}

// =============================================================================
// Zeilen-Operationen
// =============================================================================

// ConcatRows haengt Tensoren gleicher Spaltenzahl untereinander.
func ConcatRows(ctx *Context, ts ...*Tensor) *Tensor {
	if len(ts) == 0 {
		panic("ml: concat of nothing")
	}

	cols := ts[0].Cols()
	rows := 0
	for _, t := range ts {
		if t.Cols() != cols {
			panic(fmt.Sprintf("ml: concat column mismatch %d != %d", t.Cols(), cols))
		}
		rows += t.Rows()
	}

	out := mat.NewDense(rows, cols, nil)
	offset := 0
	for _, t := range ts {
		n := t.Rows()
		out.Slice(offset, offset+n, 0, cols).(*mat.Dense).Copy(t.value)
		offset += n
	}

	return ctx.record(&Tensor{value: out}, func(g *mat.Dense) ([]*mat.Dense, error) {
		grads := make([]*mat.Dense, len(ts))
		offset := 0
		for i, t := range ts {
			n := t.Rows()
			if t.requiresGrad {
				grads[i] = mat.DenseCopyOf(g.Slice(offset, offset+n, 0, cols))
			}
			offset += n
		}
		return grads, nil
	}, ts...)
}

// SliceRows gibt die Zeilen [lo, hi) zurueck.
func (t *Tensor) SliceRows(ctx *Context, lo, hi int) *Tensor {
	r, c := t.value.Dims()
	if lo < 0 || hi > r || lo >= hi {
		panic(fmt.Sprintf("ml: row slice [%d:%d] out of range for %d rows", lo, hi, r))
	}

	out := mat.DenseCopyOf(t.value.Slice(lo, hi, 0, c))

	return ctx.record(&Tensor{value: out}, func(g *mat.Dense) ([]*mat.Dense, error) {
		dx := mat.NewDense(r, c, nil)
		dx.Slice(lo, hi, 0, c).(*mat.Dense).Copy(g)
		return []*mat.Dense{dx}, nil
	}, t)
}

// ChunkRows teilt t in n gleich grosse Zeilenbloecke (wie torch.chunk).
func (t *Tensor) ChunkRows(ctx *Context, n int) []*Tensor {
	r := t.Rows()
	if n <= 0 || r%n != 0 {
		panic(fmt.Sprintf("ml: cannot chunk %d rows into %d parts", r, n))
	}

	size := r / n
	chunks := make([]*Tensor, n)
	for i := range chunks {
		chunks[i] = t.SliceRows(ctx, i*size, (i+1)*size)
	}
	return chunks
}

// =============================================================================
// Loss
// =============================================================================

// CrossEntropy berechnet den mittleren Cross-Entropy-Loss der Zeilen-Logits
// gegen die Ziel-Spalten (wie nn.CrossEntropyLoss mit reduction=mean).
func (t *Tensor) CrossEntropy(ctx *Context, targets []int) *Tensor {
	r, c := t.value.Dims()
	if len(targets) != r {
		panic(fmt.Sprintf("ml: %d targets for %d rows", len(targets), r))
	}

	probs := mat.NewDense(r, c, nil)
	loss := 0.0
	for i := 0; i < r; i++ {
		if targets[i] < 0 || targets[i] >= c {
			panic(fmt.Sprintf("ml: target %d out of range [0,%d)", targets[i], c))
		}
		row := t.value.RawRowView(i)
		lse := logSumExp(row)
		loss += lse - row[targets[i]]

		p := probs.RawRowView(i)
		for j, v := range row {
			p[j] = math.Exp(v - lse)
		}
	}
	loss /= float64(r)

	out := mat.NewDense(1, 1, []float64{loss})

	return ctx.record(&Tensor{value: out}, func(g *mat.Dense) ([]*mat.Dense, error) {
		scale := g.At(0, 0) / float64(r)
		dx := mat.NewDense(r, c, nil)
		for i := 0; i < r; i++ {
			dst := dx.RawRowView(i)
			floats.ScaleTo(dst, scale, probs.RawRowView(i))
			dst[targets[i]] -= scale
		}
		return []*mat.Dense{dx}, nil
	}, t)
}

// logSumExp ist numerisch stabil ueber das Zeilenmaximum.
func logSumExp(row []float64) float64 {
	m := floats.Max(row)
	if math.IsInf(m, 0) || math.IsNaN(m) {
		return m
	}
	sum := 0.0
	for _, v := range row {
		sum += math.Exp(v - m)
	}
	return m + math.Log(sum)
}

// ConcatCols haengt Tensoren gleicher Zeilenzahl nebeneinander.
func ConcatCols(ctx *Context, ts ...*Tensor) *Tensor {
	transposed := make([]*Tensor, len(ts))
	for i, t := range ts {
		transposed[i] = t.Transpose(ctx)
	}
	return ConcatRows(ctx, transposed...).Transpose(ctx)
}
