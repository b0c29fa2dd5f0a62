// tensor.go - Tensor mit Gradienten-Tracking
// Dieses Modul definiert den 2D-Tensor (gonum mat.Dense), Konstruktoren
// und den Backward-Pass ueber den aufgezeichneten Graphen.
package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// BackwardFunc verteilt den Gradienten eines Knotens auf seine Eltern.
// Der i-te Rueckgabewert gehoert zu parents[i]; nil bedeutet kein Beitrag.
type BackwardFunc func(grad *mat.Dense) ([]*mat.Dense, error)

// Tensor is a 2D matrix that records the operations producing it so that
// gradients can flow back to the leaves that require them.
type Tensor struct {
	value        *mat.Dense
	grad         *mat.Dense
	requiresGrad bool
	name         string

	parents  []*Tensor
	backward BackwardFunc
}

// =============================================================================
// Konstruktoren
// =============================================================================

// New erstellt einen Leaf-Tensor aus einer Matrix. Die Matrix wird nicht kopiert.
func New(value *mat.Dense, requiresGrad bool) *Tensor {
	if value == nil {
		panic("ml: nil value")
	}
	return &Tensor{value: value, requiresGrad: requiresGrad}
}

// FromRows erstellt einen Leaf-Tensor aus Zeilen gleicher Laenge.
func FromRows(rows [][]float64, requiresGrad bool) *Tensor {
	if len(rows) == 0 || len(rows[0]) == 0 {
		panic("ml: empty rows")
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, r := range rows {
		if len(r) != cols {
			panic(fmt.Sprintf("ml: row %d has %d values, want %d", i, len(r), cols))
		}
		data = append(data, r...)
	}
	return New(mat.NewDense(len(rows), cols, data), requiresGrad)
}

// Zeros erstellt einen Null-Tensor.
func Zeros(rows, cols int, requiresGrad bool) *Tensor {
	return New(mat.NewDense(rows, cols, nil), requiresGrad)
}

// Scalar erstellt einen 1x1 Tensor.
func Scalar(v float64) *Tensor {
	return New(mat.NewDense(1, 1, []float64{v}), false)
}

// =============================================================================
// Zugriff
// =============================================================================

func (t *Tensor) Rows() int {
	r, _ := t.value.Dims()
	return r
}

func (t *Tensor) Cols() int {
	_, c := t.value.Dims()
	return c
}

func (t *Tensor) Shape() []int {
	r, c := t.value.Dims()
	return []int{r, c}
}

// Value gibt die zugrundeliegende Matrix zurueck (kein Copy).
func (t *Tensor) Value() *mat.Dense { return t.value }

// Grad gibt den akkumulierten Gradienten zurueck, nil wenn noch keiner existiert.
func (t *Tensor) Grad() *mat.Dense { return t.grad }

func (t *Tensor) At(i, j int) float64 { return t.value.At(i, j) }

// Item gibt den Wert eines 1x1 Tensors zurueck.
func (t *Tensor) Item() float64 {
	if r, c := t.value.Dims(); r != 1 || c != 1 {
		panic(fmt.Sprintf("ml: Item on %dx%d tensor", r, c))
	}
	return t.value.At(0, 0)
}

func (t *Tensor) RequiresGrad() bool { return t.requiresGrad }

// SetRequiresGrad schaltet das Gradienten-Tracking eines Leafs um.
func (t *Tensor) SetRequiresGrad(b bool) {
	t.requiresGrad = b
	if !b {
		t.grad = nil
	}
}

func (t *Tensor) Name() string { return t.name }

// Named setzt einen Namen fuer Debug-Ausgaben und gibt t zurueck.
func (t *Tensor) Named(name string) *Tensor {
	t.name = name
	return t
}

// IsLeaf meldet ob der Tensor nicht aus einer Operation entstanden ist.
func (t *Tensor) IsLeaf() bool { return t.backward == nil }

// Detach gibt einen Leaf ohne Graph zurueck, der die Werte teilt.
func (t *Tensor) Detach() *Tensor {
	return &Tensor{value: t.value, name: t.name}
}

// ZeroGrad setzt den Gradienten zurueck.
func (t *Tensor) ZeroGrad() {
	if t.grad != nil {
		t.grad.Zero()
	}
}

// AccumulateGrad addiert g auf den Gradienten (allokiert bei Bedarf).
func (t *Tensor) AccumulateGrad(g mat.Matrix) {
	if t.grad == nil {
		r, c := t.value.Dims()
		t.grad = mat.NewDense(r, c, nil)
	}
	t.grad.Add(t.grad, g)
}

// String ist fuer Logs gedacht.
func (t *Tensor) String() string {
	r, c := t.value.Dims()
	name := t.name
	if name == "" {
		name = "tensor"
	}
	return fmt.Sprintf("%s[%dx%d grad=%t]", name, r, c, t.requiresGrad)
}

// =============================================================================
// Backward-Pass
// =============================================================================

// Backward startet den Backward-Pass mit Seed 1 (Skalar-Loss).
func (t *Tensor) Backward() error {
	return t.BackwardWithGrad(1)
}

// BackwardWithGrad startet den Backward-Pass mit einem konstanten Seed.
// Der GradScaler nutzt das fuer die Loss-Skalierung.
func (t *Tensor) BackwardWithGrad(seed float64) error {
	if !t.requiresGrad {
		return ErrNoGrad
	}

	r, c := t.value.Dims()
	seedGrad := mat.NewDense(r, c, nil)
	seedGrad.Apply(func(_, _ int, _ float64) float64 { return seed }, seedGrad)

	order := topoSort(t)
	grads := make(map[*Tensor]*mat.Dense, len(order))
	grads[t] = seedGrad

	// Rueckwaerts ueber die topologische Ordnung
	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		g, ok := grads[node]
		if !ok {
			continue
		}

		if node.backward == nil {
			node.AccumulateGrad(g)
			continue
		}

		parentGrads, err := node.backward(g)
		if err != nil {
			return fmt.Errorf("ml: backward %s: %w", node, err)
		}

		for j, p := range node.parents {
			if j >= len(parentGrads) || parentGrads[j] == nil || !p.requiresGrad {
				continue
			}
			if acc, ok := grads[p]; ok {
				acc.Add(acc, parentGrads[j])
			} else {
				grads[p] = mat.DenseCopyOf(parentGrads[j])
			}
		}
	}

	return nil
}

// topoSort liefert die Knoten in deterministischer Reihenfolge (Eltern zuerst).
// Alle Worker bauen denselben Graphen, daher laufen Kollektive im Backward
// ueberall in gleicher Reihenfolge.
func topoSort(root *Tensor) []*Tensor {
	visited := make(map[*Tensor]bool)
	var order []*Tensor

	var visit func(n *Tensor)
	visit = func(n *Tensor) {
		if visited[n] {
			return
		}
		visited[n] = true
		for _, p := range n.parents {
			if p.requiresGrad {
				visit(p)
			}
		}
		order = append(order, n)
	}
	visit(root)

	return order
}

// =============================================================================
// Hilfsfunktionen
// =============================================================================

// HasNonFinite meldet ob m NaN oder Inf enthaelt.
func HasNonFinite(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return true
			}
		}
	}
	return false
}

// GradNorm berechnet die globale L2-Norm ueber alle vorhandenen Gradienten.
func GradNorm(params []*Tensor) float64 {
	total := 0.0
	for _, p := range params {
		if p.grad == nil {
			continue
		}
		n := floats.Norm(p.grad.RawMatrix().Data, 2)
		total += n * n
	}
	return math.Sqrt(total)
}
