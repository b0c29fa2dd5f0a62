// cmd_display.go - Display und Output-Funktionen
// Hauptfunktionen: printRunHeader, printSummary, newTable
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-runewidth"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"
)

// maxPathWidth begrenzt Manifest-Pfade im Run-Header.
const maxPathWidth = 48

// newTable - Erstellt eine Tabelle im Stil von list/ps
func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

// terminalWidth - Gibt die Breite zurueck, wenn w ein Terminal ist, sonst 0
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}

// dataSource - Beschreibt die Datenquelle fuer den Run-Header
func dataSource(manifest string, opts runOptions) string {
	if manifest == "" {
		return fmt.Sprintf("synthetic (%d batches)", opts.syntheticBatches)
	}
	return runewidth.Truncate(manifest, maxPathWidth, "...")
}

// printRunHeader - Zeigt Run-ID und die wichtigsten Optionen an
func printRunHeader(w io.Writer, runID, phase string, opts runOptions) {
	fmt.Fprintf(w, "run %s (%s)\n", runID, phase)

	table := newTable(w, "BACKBONE", "WORKERS", "BATCH", "TRAIN DATA", "VAL DATA")
	trainData := "-"
	if phase == "train" {
		trainData = dataSource(opts.manifest, opts)
	}
	table.Append([]string{
		opts.backbone,
		fmt.Sprint(opts.worldSize),
		fmt.Sprint(opts.batchSize),
		trainData,
		dataSource(opts.valManifest, opts),
	})
	table.Render()
	fmt.Fprintln(w)
}

// printSummary - Zeigt die Meter einer Phase als Tabelle an
func printSummary(w io.Writer, r epochReport) {
	var data [][]string
	for _, name := range r.summary.Keys() {
		v, _ := r.summary.Get(name)
		data = append(data, []string{fmt.Sprint(r.epoch), r.phase, name, fmt.Sprintf("%.4f", v)})
	}

	table := newTable(w, "EPOCH", "PHASE", "METRIC", "VALUE")
	table.AppendBulk(data)
	table.Render()
	fmt.Fprintln(w)
}
