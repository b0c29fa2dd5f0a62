// ops.go - Differenzierbare Operationen auf Tensoren
// Dieses Modul enthaelt Matmul, elementweise Operationen mit Broadcasting,
// Aktivierungen und Dropout. Formfehler sind Programmierfehler und paniken.
package ml

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// =============================================================================
// Matrix-Multiplikation
// =============================================================================

// Matmul berechnet t·b. Unter Autocast werden Eingaben, Ergebnis und
// Gradienten auf den Autocast-Typ gerundet.
func (t *Tensor) Matmul(ctx *Context, b *Tensor) *Tensor {
	if t.Cols() != b.Rows() {
		panic(fmt.Sprintf("ml: matmul shape mismatch %v x %v", t.Shape(), b.Shape()))
	}

	av, bv := ctx.cast(t), ctx.cast(b)
	out := mat.NewDense(t.Rows(), b.Cols(), nil)
	out.Mul(av, bv)

	dtype := ctx.autocast
	if dtype.Reduced() {
		dtype.RoundSlice(out.RawMatrix().Data)
	}

	return ctx.record(&Tensor{value: out}, func(g *mat.Dense) ([]*mat.Dense, error) {
		if dtype.Reduced() {
			g = roundDense(dtype, g)
		}

		var da, db *mat.Dense
		if t.requiresGrad {
			da = mat.NewDense(t.Rows(), t.Cols(), nil)
			da.Mul(g, bv.T())
		}
		if b.requiresGrad {
			db = mat.NewDense(b.Rows(), b.Cols(), nil)
			db.Mul(av.T(), g)
		}
		return []*mat.Dense{da, db}, nil
	}, t, b)
}

// MatmulT berechnet t·bᵀ, z.B. fuer Aehnlichkeitsmatrizen zwischen Zeilen.
func (t *Tensor) MatmulT(ctx *Context, b *Tensor) *Tensor {
	return t.Matmul(ctx, b.Transpose(ctx))
}

// Transpose gibt tᵀ zurueck.
func (t *Tensor) Transpose(ctx *Context) *Tensor {
	out := mat.DenseCopyOf(t.value.T())
	return ctx.record(&Tensor{value: out}, func(g *mat.Dense) ([]*mat.Dense, error) {
		return []*mat.Dense{mat.DenseCopyOf(g.T())}, nil
	}, t)
}

// =============================================================================
// Elementweise Operationen mit Broadcasting
// =============================================================================

// broadcast erweitert b auf rxc. Erlaubt sind gleiche Form, 1xc und rx1.
func broadcast(b *mat.Dense, r, c int) *mat.Dense {
	br, bc := b.Dims()
	switch {
	case br == r && bc == c:
		return b
	case br == 1 && bc == c:
		out := mat.NewDense(r, c, nil)
		row := b.RawRowView(0)
		for i := 0; i < r; i++ {
			out.SetRow(i, row)
		}
		return out
	case br == r && bc == 1:
		out := mat.NewDense(r, c, nil)
		for i := 0; i < r; i++ {
			v := b.At(i, 0)
			for j := 0; j < c; j++ {
				out.Set(i, j, v)
			}
		}
		return out
	case br == 1 && bc == 1:
		out := mat.NewDense(r, c, nil)
		v := b.At(0, 0)
		out.Apply(func(_, _ int, _ float64) float64 { return v }, out)
		return out
	}
	panic(fmt.Sprintf("ml: cannot broadcast %dx%d to %dx%d", br, bc, r, c))
}

// reduceTo summiert g auf die Form rxc zurueck (Gegenstueck zu broadcast).
func reduceTo(g *mat.Dense, r, c int) *mat.Dense {
	gr, gc := g.Dims()
	if gr == r && gc == c {
		return g
	}

	out := mat.NewDense(r, c, nil)
	for i := 0; i < gr; i++ {
		for j := 0; j < gc; j++ {
			oi, oj := i, j
			if r == 1 {
				oi = 0
			}
			if c == 1 {
				oj = 0
			}
			out.Set(oi, oj, out.At(oi, oj)+g.At(i, j))
		}
	}
	return out
}

// Add berechnet t + b mit Broadcasting von b.
func (t *Tensor) Add(ctx *Context, b *Tensor) *Tensor {
	r, c := t.value.Dims()
	out := mat.NewDense(r, c, nil)
	out.Add(t.value, broadcast(b.value, r, c))

	return ctx.record(&Tensor{value: out}, func(g *mat.Dense) ([]*mat.Dense, error) {
		br, bc := b.value.Dims()
		return []*mat.Dense{g, reduceTo(g, br, bc)}, nil
	}, t, b)
}

// Mul berechnet t ∘ b (Hadamard) mit Broadcasting von b.
func (t *Tensor) Mul(ctx *Context, b *Tensor) *Tensor {
	r, c := t.value.Dims()
	bb := broadcast(b.value, r, c)
	out := mat.NewDense(r, c, nil)
	out.MulElem(t.value, bb)

	return ctx.record(&Tensor{value: out}, func(g *mat.Dense) ([]*mat.Dense, error) {
		da := mat.NewDense(r, c, nil)
		da.MulElem(g, bb)

		gb := mat.NewDense(r, c, nil)
		gb.MulElem(g, t.value)
		br, bc := b.value.Dims()
		return []*mat.Dense{da, reduceTo(gb, br, bc)}, nil
	}, t, b)
}

// Scale berechnet s·t.
func (t *Tensor) Scale(ctx *Context, s float64) *Tensor {
	return t.Affine(ctx, s, 0)
}

// Affine berechnet alpha·t + beta.
func (t *Tensor) Affine(ctx *Context, alpha, beta float64) *Tensor {
	out := mat.NewDense(t.Rows(), t.Cols(), nil)
	out.Apply(func(_, _ int, v float64) float64 { return alpha*v + beta }, t.value)

	return ctx.record(&Tensor{value: out}, func(g *mat.Dense) ([]*mat.Dense, error) {
		dx := mat.NewDense(t.Rows(), t.Cols(), nil)
		dx.Scale(alpha, g)
		return []*mat.Dense{dx}, nil
	}, t)
}

// =============================================================================
// Aktivierungen
// =============================================================================

// ReLU berechnet max(t, 0).
func (t *Tensor) ReLU(ctx *Context) *Tensor {
	out := mat.NewDense(t.Rows(), t.Cols(), nil)
	out.Apply(func(_, _ int, v float64) float64 { return math.Max(v, 0) }, t.value)

	return ctx.record(&Tensor{value: out}, func(g *mat.Dense) ([]*mat.Dense, error) {
		dx := mat.NewDense(t.Rows(), t.Cols(), nil)
		dx.Apply(func(i, j int, v float64) float64 {
			if t.value.At(i, j) > 0 {
				return v
			}
			return 0
		}, g)
		return []*mat.Dense{dx}, nil
	}, t)
}

// Sigmoid berechnet 1/(1+exp(-t)).
func (t *Tensor) Sigmoid(ctx *Context) *Tensor {
	out := mat.NewDense(t.Rows(), t.Cols(), nil)
	out.Apply(func(_, _ int, v float64) float64 { return 1 / (1 + math.Exp(-v)) }, t.value)

	return ctx.record(&Tensor{value: out}, func(g *mat.Dense) ([]*mat.Dense, error) {
		dx := mat.NewDense(t.Rows(), t.Cols(), nil)
		dx.Apply(func(i, j int, v float64) float64 {
			s := out.At(i, j)
			return v * s * (1 - s)
		}, g)
		return []*mat.Dense{dx}, nil
	}, t)
}

// Dropout setzt Elemente mit Wahrscheinlichkeit p auf 0 und skaliert den Rest
// mit 1/(1-p). p <= 0 gibt t unveraendert zurueck.
func (t *Tensor) Dropout(ctx *Context, p float64, rng *rand.Rand) *Tensor {
	if p <= 0 {
		return t
	}
	if p >= 1 {
		panic(fmt.Sprintf("ml: dropout probability %v out of range", p))
	}

	keep := 1 / (1 - p)
	mask := mat.NewDense(t.Rows(), t.Cols(), nil)
	mask.Apply(func(_, _ int, _ float64) float64 {
		if rng.Float64() < p {
			return 0
		}
		return keep
	}, mask)

	out := mat.NewDense(t.Rows(), t.Cols(), nil)
	out.MulElem(t.value, mask)

	return ctx.record(&Tensor{value: out}, func(g *mat.Dense) ([]*mat.Dense, error) {
		dx := mat.NewDense(t.Rows(), t.Cols(), nil)
		dx.MulElem(g, mask)
		return []*mat.Dense{dx}, nil
	}, t)
}

// =============================================================================
// Fremd-Operationen
// =============================================================================

// Custom haengt eine extern berechnete Operation in den Graphen, z.B. ein
// All-Gather ueber Worker. fn bekommt den Gradienten von value und liefert
// je Elternteil einen Gradienten.
func Custom(ctx *Context, value *mat.Dense, fn BackwardFunc, parents ...*Tensor) *Tensor {
	return ctx.record(&Tensor{value: value}, fn, parents...)
}
