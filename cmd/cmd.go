// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/ollama/cirtrain/envconfig"

	// Backbone-Registrierung via init()
	_ "github.com/ollama/cirtrain/vision/clip"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "cirtrain",
		Short:         "Composed image retrieval trainer",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}

	// Commands erstellen
	trainCmd := newTrainCmd()
	evalCmd := newEvalCmd()
	envCmd := newEnvCmd()
	backbonesCmd := newBackbonesCmd()

	// Environment-Dokumentation hinzufuegen
	envVars := envconfig.AsMap()
	common := []envconfig.EnvVar{
		envVars["CIR_DEBUG"],
		envVars["CIR_LAMDA"],
		envVars["CIR_AUTOCAST"],
		envVars["CIR_BASE_CONTRASTIVE"],
		envVars["CIR_WORLD_SIZE"],
		envVars["CIR_SEED"],
		envVars["CIR_LOG_EVERY"],
	}

	for _, cmd := range []*cobra.Command{trainCmd, evalCmd} {
		switch cmd {
		case trainCmd:
			appendEnvDocs(cmd, append(common,
				envVars["CIR_CLIP_GRAD_NORM"],
				envVars["CIR_FINETUNE_MODE"],
				envVars["CIR_RECALL_TOPK"],
			))
		default:
			appendEnvDocs(cmd, append(common, envVars["CIR_RECALL_TOPK"]))
		}
	}

	rootCmd.AddCommand(
		trainCmd,
		evalCmd,
		envCmd,
		backbonesCmd,
	)

	return rootCmd
}
