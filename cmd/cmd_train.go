// cmd_train.go - Train und Eval Commands
// Hauptfunktionen: TrainHandler, EvalHandler, runWorkers
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ollama/cirtrain/data"
	"github.com/ollama/cirtrain/dist"
	"github.com/ollama/cirtrain/envconfig"
	"github.com/ollama/cirtrain/logutil"
	"github.com/ollama/cirtrain/metrics"
	"github.com/ollama/cirtrain/nn"
	"github.com/ollama/cirtrain/optim"
	"github.com/ollama/cirtrain/train"
	"github.com/ollama/cirtrain/vision"
)

// runOptions enthaelt die Flags von train und eval.
type runOptions struct {
	backbone  string
	embedDim  int
	imageSize int
	vocabSize int
	batchSize int
	worldSize int
	seed      uint64

	manifest         string
	valManifest      string
	syntheticBatches int
	captionLen       int

	epochs         int
	optimizer      string
	lr             float64
	weightDecay    float64
	freezeBackbone bool
}

func runOptionsFromFlags(cmd *cobra.Command) (runOptions, error) {
	var opts runOptions
	var err error

	flags := cmd.Flags()
	if opts.backbone, err = flags.GetString("backbone"); err != nil {
		return opts, err
	}
	if opts.embedDim, err = flags.GetInt("embed-dim"); err != nil {
		return opts, err
	}
	if opts.imageSize, err = flags.GetInt("image-size"); err != nil {
		return opts, err
	}
	if opts.vocabSize, err = flags.GetInt("vocab-size"); err != nil {
		return opts, err
	}
	if opts.batchSize, err = flags.GetInt("batch-size"); err != nil {
		return opts, err
	}
	if opts.batchSize <= 0 {
		return opts, fmt.Errorf("batch size must be positive, got %d", opts.batchSize)
	}
	if opts.worldSize, err = flags.GetInt("world-size"); err != nil {
		return opts, err
	}
	if opts.seed, err = flags.GetUint64("seed"); err != nil {
		return opts, err
	}
	if opts.valManifest, err = flags.GetString("val-manifest"); err != nil {
		return opts, err
	}
	if opts.syntheticBatches, err = flags.GetInt("synthetic-batches"); err != nil {
		return opts, err
	}
	if opts.captionLen, err = flags.GetInt("caption-len"); err != nil {
		return opts, err
	}

	// nur train
	if flags.Lookup("epochs") == nil {
		return opts, nil
	}
	if opts.manifest, err = flags.GetString("manifest"); err != nil {
		return opts, err
	}
	if opts.epochs, err = flags.GetInt("epochs"); err != nil {
		return opts, err
	}
	if opts.optimizer, err = flags.GetString("optimizer"); err != nil {
		return opts, err
	}
	if opts.lr, err = flags.GetFloat64("lr"); err != nil {
		return opts, err
	}
	if opts.weightDecay, err = flags.GetFloat64("weight-decay"); err != nil {
		return opts, err
	}
	if opts.freezeBackbone, err = flags.GetBool("freeze-backbone"); err != nil {
		return opts, err
	}
	return opts, nil
}

// trainConfig liest die Epoch-Konfiguration aus der Umgebung und
// ueberschreibt sie mit gesetzten Flags.
func trainConfig(cmd *cobra.Command) (train.Config, error) {
	cfg, err := train.ConfigFromEnv()
	if err != nil {
		return train.Config{}, err
	}

	flags := cmd.Flags()
	if cfg.Lamda, err = flags.GetFloat64("lamda"); err != nil {
		return train.Config{}, err
	}
	if flags.Lookup("clip-grad-norm") != nil {
		if cfg.ClipGradNorm, err = flags.GetBool("clip-grad-norm"); err != nil {
			return train.Config{}, err
		}
		if cfg.FinetuneMode, err = flags.GetString("finetune-mode"); err != nil {
			return train.Config{}, err
		}
	}

	return cfg, cfg.Validate()
}

// worker sind die Modelle und Loader eines Ranks.
type worker struct {
	backbone vision.Backbone
	combiner *nn.Combiner
	train    data.Loader
	val      data.Loader
}

func newWorker(g dist.Group, opts runOptions) (*worker, error) {
	backbone, err := vision.NewBackbone(opts.backbone,
		vision.WithEmbedDim(opts.embedDim),
		vision.WithImageSize(opts.imageSize),
		vision.WithVocabSize(opts.vocabSize),
		vision.WithSeed(opts.seed),
	)
	if err != nil {
		return nil, err
	}
	if opts.freezeBackbone {
		nn.Freeze(backbone)
	}

	ccfg := nn.DefaultCombinerConfig(backbone.Info().EmbedDim)
	ccfg.Seed = opts.seed
	w := &worker{backbone: backbone, combiner: nn.NewCombiner(ccfg)}

	if opts.epochs > 0 {
		if w.train, err = openLoader(g, opts, backbone.Info(), opts.manifest, opts.seed); err != nil {
			return nil, err
		}
	}
	if w.val, err = openLoader(g, opts, backbone.Info(), opts.valManifest, opts.seed+1); err != nil {
		return nil, err
	}
	return w, nil
}

// openLoader oeffnet ein Manifest oder erzeugt synthetische Daten.
func openLoader(g dist.Group, opts runOptions, info vision.BackboneInfo, manifest string, seed uint64) (data.Loader, error) {
	if manifest != "" {
		return data.OpenManifest(data.ManifestConfig{
			Path:      manifest,
			BatchSize: opts.batchSize,
			ImageSize: info.ImageSize,
			VocabSize: info.VocabSize,
			Rank:      g.Rank(),
			WorldSize: g.Size(),
		})
	}

	return data.NewSynthetic(data.SyntheticConfig{
		Batches:    opts.syntheticBatches,
		BatchSize:  opts.batchSize,
		InputDim:   info.InputDim,
		VocabSize:  info.VocabSize,
		CaptionLen: opts.captionLen,
		Seed:       seed,
		Rank:       g.Rank(),
		WorldSize:  g.Size(),
	})
}

// epochReport ist das Ergebnis einer Phase, nur Rank 0 berichtet.
type epochReport struct {
	epoch   int
	phase   string
	summary *metrics.Summary
}

// runWorkers startet opts.worldSize Worker und ruft fn pro Rank auf.
// Berichte von Rank 0 werden direkt geschrieben.
func runWorkers(ctx context.Context, out io.Writer, opts runOptions, fn func(ctx context.Context, g dist.Group, w *worker, report func(epochReport)) error) error {
	var mu sync.Mutex
	report := func(r epochReport) {
		mu.Lock()
		defer mu.Unlock()
		printSummary(out, r)
	}

	return dist.Launch(ctx, opts.worldSize, func(ctx context.Context, g dist.Group) error {
		w, err := newWorker(g, opts)
		if err != nil {
			return err
		}

		logutil.Trace("worker ready", "rank", g.Rank(), "params", nn.CountParameters(w.backbone, false)+nn.CountParameters(w.combiner, false))

		noop := func(epochReport) {}
		if g.Rank() == 0 {
			return fn(ctx, g, w, report)
		}
		return fn(ctx, g, w, noop)
	})
}

func setupLogging() {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
}

// TrainHandler - Trainiert epochs Epochen und validiert nach jeder Epoche
func TrainHandler(cmd *cobra.Command, _ []string) error {
	setupLogging()

	opts, err := runOptionsFromFlags(cmd)
	if err != nil {
		return err
	}
	cfg, err := trainConfig(cmd)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	out := cmd.OutOrStdout()
	printRunHeader(out, runID, "train", opts)
	slog.Info("starting training", "run", runID, "backbone", opts.backbone, "world_size", opts.worldSize, "epochs", opts.epochs)

	return runWorkers(cmd.Context(), out, opts, func(ctx context.Context, g dist.Group, w *worker, report func(epochReport)) error {
		params := append(nn.Trainable(w.backbone), nn.Trainable(w.combiner)...)
		opt, err := optim.New(opts.optimizer, params, opts.lr, opts.weightDecay)
		if err != nil {
			return err
		}

		// Scaler-Zustand ist pro Worker
		cfg := cfg
		cfg.Scaler = optim.NewGradScaler(cfg.Scaler.Enabled())

		for epoch := 1; epoch <= opts.epochs; epoch++ {
			summary, err := train.TrainOneEpoch(ctx, w.backbone, w.combiner, w.train, opt, g, cfg)
			if err != nil {
				return fmt.Errorf("epoch %d: %w", epoch, err)
			}
			report(epochReport{epoch: epoch, phase: "train", summary: summary})

			summary, err = train.ValOneEpoch(ctx, w.backbone, w.combiner, w.val, g, cfg)
			if err != nil {
				return fmt.Errorf("epoch %d: %w", epoch, err)
			}
			report(epochReport{epoch: epoch, phase: "val", summary: summary})
		}
		return nil
	})
}

// EvalHandler - Fuehrt eine Validierungs-Epoche mit frisch initialisierten Gewichten aus
func EvalHandler(cmd *cobra.Command, _ []string) error {
	setupLogging()

	opts, err := runOptionsFromFlags(cmd)
	if err != nil {
		return err
	}
	cfg, err := trainConfig(cmd)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	out := cmd.OutOrStdout()
	printRunHeader(out, runID, "eval", opts)

	return runWorkers(cmd.Context(), out, opts, func(ctx context.Context, g dist.Group, w *worker, report func(epochReport)) error {
		summary, err := train.ValOneEpoch(ctx, w.backbone, w.combiner, w.val, g, cfg)
		if err != nil {
			return err
		}
		report(epochReport{epoch: 1, phase: "val", summary: summary})
		return nil
	})
}
