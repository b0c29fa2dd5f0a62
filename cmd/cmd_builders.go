// cmd_builders.go - Command-Builder Funktionen
// Hauptfunktionen: newTrainCmd, newEvalCmd, newEnvCmd, newBackbonesCmd
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ollama/cirtrain/envconfig"
	"github.com/ollama/cirtrain/vision/clip"
)

// addRunFlags - Registriert die Flags, die train und eval teilen
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("backbone", clip.Name, "Registered backbone name (see 'cirtrain backbones')")
	cmd.Flags().Int("embed-dim", 32, "Backbone embedding dimension")
	cmd.Flags().Int("image-size", 8, "Edge length of preprocessed images")
	cmd.Flags().Int("vocab-size", 256, "Caption token vocabulary size")
	cmd.Flags().Int("batch-size", 8, "Triplets per batch and worker")
	cmd.Flags().Int("world-size", int(envconfig.WorldSize()), "Number of in-process workers")
	cmd.Flags().Uint64("seed", envconfig.Seed(), "Seed for weights and synthetic data")
	cmd.Flags().Float64("lamda", envconfig.Lamda(), "Scale applied to the similarity logits")
	cmd.Flags().String("val-manifest", "", "JSON-lines manifest of validation triplets")
	cmd.Flags().Int("synthetic-batches", 4, "Synthetic batches per worker when no manifest is given")
	cmd.Flags().Int("caption-len", 6, "Tokens per synthetic caption")
}

// newTrainCmd - Erstellt den train Command
func newTrainCmd() *cobra.Command {
	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Train the combiner (and optionally the backbone)",
		Args:  cobra.NoArgs,
		RunE:  TrainHandler,
	}

	addRunFlags(trainCmd)
	trainCmd.Flags().String("manifest", "", "JSON-lines manifest of training triplets")
	trainCmd.Flags().Int("epochs", 1, "Number of epochs")
	trainCmd.Flags().String("optimizer", "adamw", "Optimizer (adamw, sgd)")
	trainCmd.Flags().Float64("lr", 1e-3, "Learning rate")
	trainCmd.Flags().Float64("weight-decay", 0.01, "Weight decay")
	trainCmd.Flags().Bool("clip-grad-norm", envconfig.ClipGradNorm(), "Clip backbone gradients to a global norm of 1.0")
	trainCmd.Flags().String("finetune-mode", envconfig.FinetuneMode(), "Backbone finetune mode; empty keeps the backbone in eval mode")
	trainCmd.Flags().Bool("freeze-backbone", false, "Disable gradients for all backbone parameters")

	return trainCmd
}

// newEvalCmd - Erstellt den eval Command
func newEvalCmd() *cobra.Command {
	evalCmd := &cobra.Command{
		Use:   "eval",
		Short: "Run one validation epoch",
		Args:  cobra.NoArgs,
		RunE:  EvalHandler,
	}

	addRunFlags(evalCmd)

	return evalCmd
}

// newEnvCmd - Erstellt den env Command
func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Show environment configuration",
		Args:  cobra.NoArgs,
		RunE:  EnvHandler,
	}
}

// newBackbonesCmd - Erstellt den backbones Command
func newBackbonesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backbones",
		Short: "List registered backbones",
		Args:  cobra.NoArgs,
		RunE:  BackbonesHandler,
	}
}
