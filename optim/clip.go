// clip.go - Gradient-Clipping ueber die globale Norm
package optim

import (
	"math"

	"github.com/ollama/cirtrain/ml"
)

// DefaultMaxGradNorm ist die Clip-Grenze fuer die Backbone-Parameter.
const DefaultMaxGradNorm = 1.0

// ClipGradNorm skaliert alle Gradienten so, dass ihre gemeinsame L2-Norm
// hoechstens maxNorm ist, und gibt die Norm vor dem Clipping zurueck.
func ClipGradNorm(params []*ml.Tensor, maxNorm float64) float64 {
	total := ml.GradNorm(params)
	if maxNorm <= 0 || math.IsNaN(total) {
		return total
	}

	coef := maxNorm / (total + 1e-6)
	if coef >= 1 {
		return total
	}

	for _, p := range params {
		if g := p.Grad(); g != nil {
			g.Scale(coef, g)
		}
	}
	return total
}
