// contrastive.go - Kontrast-Loss ueber die Aehnlichkeitsmatrix
// Dieses Modul enthaelt die Logits lamda * combined·targetᵀ, die
// Cross-Entropy gegen die Diagonale und die Feature-Abstaende.
package train

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/ollama/cirtrain/metrics"
	"github.com/ollama/cirtrain/ml"
)

// Contrastive berechnet die B x B Logits und den mittleren Cross-Entropy-Loss.
// Das positive Paar von combined[i] ist target[i].
func Contrastive(ctx *ml.Context, combined, target *ml.Tensor, lamda float64) (logits, loss *ml.Tensor) {
	if combined.Rows() != target.Rows() {
		panic(fmt.Sprintf("train: %d combined rows for %d targets", combined.Rows(), target.Rows()))
	}

	logits = combined.MatmulT(ctx, target).Scale(ctx, lamda)
	loss = logits.CrossEntropy(ctx, metrics.Diagonal(logits.Rows()))
	return logits, loss
}

// ScoreLogits berechnet Loss und Accuracy fuer fertige Logits ohne Graph.
func ScoreLogits(logits mat.Matrix) (loss, acc float64) {
	r, _ := logits.Dims()
	targets := metrics.Diagonal(r)

	loss = ml.New(mat.DenseCopyOf(logits), false).CrossEntropy(ml.NewContext().NoGrad(), targets).Item()
	return loss, metrics.Accuracy(logits, targets)
}

// featureDistances gibt die mittlere Aehnlichkeit der normalisierten
// Caption- und Referenz-Features zu den kombinierten Features zurueck.
func featureDistances(ctx *ml.Context, f *features) (text, image float64) {
	ctx = ctx.NoGrad()
	combined := f.combined.Detach()

	refNorm := f.ref.Detach().L2Norm(ctx, ml.DefaultNormEps)
	captionNorm := f.caption.Detach().L2Norm(ctx, ml.DefaultNormEps)

	image = refNorm.MatmulT(ctx, combined).Mean(ctx).Item()
	text = captionNorm.MatmulT(ctx, combined).Mean(ctx).Item()
	return text, image
}
