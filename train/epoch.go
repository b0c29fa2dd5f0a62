// epoch.go - Trainings- und Validierungs-Epoche
// Dieses Modul enthaelt den gemeinsamen Forward (Encode, Combine,
// Normalisieren, All-Gather), TrainOneEpoch mit Backward und
// Optimizer-Step sowie ValOneEpoch mit Recall@K.
package train

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ollama/cirtrain/data"
	"github.com/ollama/cirtrain/dist"
	"github.com/ollama/cirtrain/logutil"
	"github.com/ollama/cirtrain/metrics"
	"github.com/ollama/cirtrain/ml"
	"github.com/ollama/cirtrain/nn"
	"github.com/ollama/cirtrain/optim"
	"github.com/ollama/cirtrain/vision"
)

// features sind die normalisierten und ueber alle Worker gesammelten
// Features eines Batches. ref und caption bleiben unnormalisiert.
type features struct {
	combined   *ml.Tensor
	target     *ml.Tensor
	ref        *ml.Tensor
	caption    *ml.Tensor
	distractor *ml.Tensor
}

// forward fuehrt den Forward-Pass fuer einen Batch aus. Alle Bilder werden
// in einem Durchlauf kodiert.
func forward(ctx context.Context, mctx *ml.Context, backbone vision.Backbone, combiner nn.Fuser, g dist.Group, b *data.Batch) (*features, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	images := ml.ConcatRows(mctx,
		ml.New(b.RefImages, false),
		ml.New(b.TargetImages, false),
		ml.New(b.DistractorImages, false),
	)
	parts := backbone.EncodeImage(mctx, images).ChunkRows(mctx, 3)
	ref, target, distractor := parts[0], parts[1], parts[2]
	caption := backbone.EncodeText(mctx, b.Captions)

	combined := combiner.Combine(mctx, ref, caption)

	combined = combined.L2Norm(mctx, ml.DefaultNormEps)
	target = target.L2Norm(mctx, ml.DefaultNormEps)
	distractor = distractor.L2Norm(mctx, ml.DefaultNormEps)

	gathered, err := dist.AllGatherWithGrad(ctx, mctx, g, combined, target, ref, caption, distractor)
	if err != nil {
		return nil, err
	}

	return &features{
		combined:   gathered[0],
		target:     gathered[1],
		ref:        gathered[2],
		caption:    gathered[3],
		distractor: gathered[4],
	}, nil
}

// =============================================================================
// Training
// =============================================================================

// TrainOneEpoch trainiert eine Epoche ueber loader und gibt die ueber alle
// Worker gemittelten Meter zurueck (base_loss, base_acc und die
// Feature-Abstaende). Alle Worker muessen gleich viele Batches haben.
func TrainOneEpoch(ctx context.Context, backbone vision.Backbone, combiner nn.Fuser, loader data.Loader, opt optim.Optimizer, g dist.Group, cfg Config) (*metrics.Summary, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Scaler == nil {
		return nil, ErrNoScaler
	}

	log := dist.Logger(g)

	if cfg.FinetuneMode == "" {
		log.Info("training with backbone in eval mode")
		backbone.SetTraining(false)
	} else {
		backbone.SetTraining(true)
	}
	combiner.SetTraining(true)

	clipParams := nn.Trainable(backbone)

	meters := metrics.NewMeters(
		metrics.BaseLoss,
		metrics.BaseAcc,
		metrics.CombinerTextFeatDist,
		metrics.CombinerImageFeatDist,
	)

	mctx := ml.NewContext(ml.WithAutocast(cfg.Autocast))
	total := loader.Len()

	for i := range total {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Gewichte aendern sich nach jedem Step
		mctx.ClearCache()

		batch, err := loader.Batch(ctx, i)
		if err != nil {
			return nil, err
		}

		f, err := forward(ctx, mctx, backbone, combiner, g, batch)
		if err != nil {
			return nil, fmt.Errorf("train: batch %d: %w", i, err)
		}

		logits, loss := Contrastive(mctx, f.combined, f.target, cfg.Lamda)
		n := logits.Rows()
		acc := metrics.Accuracy(logits.Value(), metrics.Diagonal(n))

		meters.Update(metrics.BaseLoss, loss.Item(), n)
		meters.Update(metrics.BaseAcc, acc, n)

		text, image := featureDistances(mctx, f)
		meters.Update(metrics.CombinerTextFeatDist, text, n)
		meters.Update(metrics.CombinerImageFeatDist, image, n)

		if err := step(ctx, loss, opt, g, clipParams, cfg); err != nil {
			return nil, fmt.Errorf("train: batch %d: %w", i, err)
		}

		if cfg.LogEvery > 0 && ((i+1)%cfg.LogEvery == 0 || i+1 == total) {
			log.Info("train", "batch", i+1, "batches", total, "loss", loss.Item(), "acc", acc, "scale", cfg.Scaler.Scale())
		}
	}

	return meters.Gather(ctx, g)
}

// step fuehrt Backward, Gradienten-Mittelung, Clipping und den
// Optimizer-Step aus.
func step(ctx context.Context, loss *ml.Tensor, opt optim.Optimizer, g dist.Group, clipParams []*ml.Tensor, cfg Config) error {
	opt.ZeroGrad()

	if err := cfg.Scaler.Backward(loss); err != nil {
		return fmt.Errorf("backward: %w", err)
	}

	if err := dist.AverageGradients(ctx, g, opt.Parameters()); err != nil {
		return err
	}

	// Clipping sieht die echten Gradienten
	if err := cfg.Scaler.Unscale(opt); err != nil {
		return err
	}

	if cfg.ClipGradNorm {
		norm := optim.ClipGradNorm(clipParams, cfg.maxGradNorm())
		logutil.Trace("clipped backbone gradients", "norm", norm, "max", cfg.maxGradNorm())
	}

	stepped, err := cfg.Scaler.Step(opt)
	if err != nil {
		return err
	}
	if !stepped {
		slog.Debug("optimizer step skipped", "scale", cfg.Scaler.Scale())
	}
	cfg.Scaler.Update()

	return nil
}

// =============================================================================
// Validierung
// =============================================================================

// ValOneEpoch wertet loader ohne Gradienten aus und gibt zusaetzlich zu den
// Trainings-Metern Recall @ k fuer jedes k aus cfg.RecallTopK zurueck.
func ValOneEpoch(ctx context.Context, backbone vision.Backbone, combiner nn.Fuser, loader data.Loader, g dist.Group, cfg Config) (*metrics.Summary, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backbone.SetTraining(false)
	combiner.SetTraining(false)

	names := []string{
		metrics.BaseLoss,
		metrics.BaseAcc,
		metrics.CombinerTextFeatDist,
		metrics.CombinerImageFeatDist,
	}
	for _, k := range cfg.RecallTopK {
		names = append(names, metrics.RecallName(k))
	}
	meters := metrics.NewMeters(names...)

	log := dist.Logger(g)
	mctx := ml.NewContext(ml.WithAutocast(cfg.Autocast)).NoGrad()
	total := loader.Len()

	for i := range total {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch, err := loader.Batch(ctx, i)
		if err != nil {
			return nil, err
		}

		f, err := forward(ctx, mctx, backbone, combiner, g, batch)
		if err != nil {
			return nil, fmt.Errorf("val: batch %d: %w", i, err)
		}

		logits, loss := Contrastive(mctx, f.combined, f.target, cfg.Lamda)
		n := logits.Rows()
		targets := metrics.Diagonal(n)
		acc := metrics.Accuracy(logits.Value(), targets)

		meters.Update(metrics.BaseLoss, loss.Item(), n)
		meters.Update(metrics.BaseAcc, acc, n)

		text, image := featureDistances(mctx, f)
		meters.Update(metrics.CombinerTextFeatDist, text, n)
		meters.Update(metrics.CombinerImageFeatDist, image, n)

		for _, k := range cfg.RecallTopK {
			meters.Update(metrics.RecallName(k), metrics.RecallAtK(logits.Value(), targets, k), n)
		}

		if cfg.LogEvery > 0 && ((i+1)%cfg.LogEvery == 0 || i+1 == total) {
			log.Info("val", "batch", i+1, "batches", total, "loss", loss.Item(), "acc", acc)
		}
	}

	return meters.Gather(ctx, g)
}
