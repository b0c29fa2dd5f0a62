// cmd_list.go - Env und Backbones Commands
// Hauptfunktionen: EnvHandler, BackbonesHandler
package cmd

import (
	"fmt"
	"slices"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/ollama/cirtrain/envconfig"
	"github.com/ollama/cirtrain/vision"
)

// EnvHandler - Listet alle CIR_* Variablen mit aktuellem Wert auf
func EnvHandler(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	vars := envconfig.AsMap()

	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	slices.Sort(names)

	// Beschreibungen nur im Terminal kuerzen
	descWidth := 0
	if width := terminalWidth(out); width > 0 {
		descWidth = max(width-48, 20)
	}

	var data [][]string
	for _, name := range names {
		v := vars[name]
		desc := v.Description
		if descWidth > 0 {
			desc = runewidth.Truncate(desc, descWidth, "...")
		}
		data = append(data, []string{v.Name, fmt.Sprintf("%v", v.Value), desc})
	}

	table := newTable(out, "NAME", "VALUE", "DESCRIPTION")
	table.AppendBulk(data)
	table.Render()

	return nil
}

// BackbonesHandler - Listet alle registrierten Backbones mit Default-Dimensionen auf
func BackbonesHandler(cmd *cobra.Command, _ []string) error {
	var data [][]string

	for _, name := range vision.ListFromDefault() {
		backbone, err := vision.NewBackbone(name)
		if err != nil {
			return err
		}
		info := backbone.Info()
		data = append(data, []string{
			info.Name,
			fmt.Sprint(info.EmbedDim),
			fmt.Sprintf("%dx%d", info.ImageSize, info.ImageSize),
			fmt.Sprint(info.VocabSize),
		})
	}

	table := newTable(cmd.OutOrStdout(), "NAME", "EMBED DIM", "IMAGE SIZE", "VOCAB")
	table.AppendBulk(data)
	table.Render()

	return nil
}
