// module.go - Basis-Interface fuer trainierbare Module
// Dieses Modul definiert Module und Fuser sowie Freeze/Unfreeze und
// die Hilfsfunktion fuer trainierbare Parameter.
package nn

import (
	"github.com/ollama/cirtrain/ml"
)

// Module is anything with trainable parameters and a train/eval switch.
type Module interface {
	Parameters() []*ml.Tensor
	SetTraining(training bool)
	Training() bool
}

// Fuser verschmilzt Referenzbild- und Caption-Features zu einem
// kombinierten Feature (B x D).
type Fuser interface {
	Module
	Combine(ctx *ml.Context, ref, caption *ml.Tensor) *ml.Tensor
}

// Freeze schaltet das Gradienten-Tracking aller Parameter ab.
func Freeze(m Module) {
	for _, p := range m.Parameters() {
		p.SetRequiresGrad(false)
	}
}

// Unfreeze schaltet das Gradienten-Tracking aller Parameter an.
func Unfreeze(m Module) {
	for _, p := range m.Parameters() {
		p.SetRequiresGrad(true)
	}
}

// Trainable gibt die Parameter zurueck, die Gradienten bekommen.
func Trainable(m Module) []*ml.Tensor {
	var out []*ml.Tensor
	for _, p := range m.Parameters() {
		if p.RequiresGrad() {
			out = append(out, p)
		}
	}
	return out
}

// CountParameters zaehlt die Elemente aller (oder nur trainierbarer) Parameter.
func CountParameters(m Module, trainableOnly bool) int {
	n := 0
	for _, p := range m.Parameters() {
		if trainableOnly && !p.RequiresGrad() {
			continue
		}
		n += p.Rows() * p.Cols()
	}
	return n
}
