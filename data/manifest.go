// manifest.go - Loader fuer Bild-Tripel aus einer JSON-Lines-Datei
// Dieses Modul liest je Zeile ein Tripel aus Bildpfaden und Caption-Tokens,
// verteilt die Eintraege per Rank und laedt die Bilder ueber die
// vision-Vorverarbeitung erst beim Abruf des Batches.
package data

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"golang.org/x/sync/errgroup"

	"github.com/ollama/cirtrain/vision"
)

// ManifestEntry ist eine Zeile der Manifest-Datei.
type ManifestEntry struct {
	Ref        string `json:"ref"`
	Target     string `json:"target"`
	Distractor string `json:"distractor"`
	Caption    []int  `json:"caption"`
}

// ManifestConfig beschreibt, wie das Manifest gelesen wird.
type ManifestConfig struct {
	Path      string
	BatchSize int
	ImageSize int
	VocabSize int
	Rank      int
	WorldSize int
	// DropLast verwirft den unvollstaendigen letzten Batch.
	DropLast bool
}

// ManifestLoader liefert Batches aus einem Manifest.
type ManifestLoader struct {
	cfg     ManifestConfig
	baseDir string
	entries []ManifestEntry
}

// OpenManifest liest das Manifest und behaelt die Eintraege dieses Ranks
// (Eintrag j gehoert zu Rank j % WorldSize). Eintraege hinter dem letzten
// Vielfachen von WorldSize werden verworfen, damit alle Ranks gleich viele
// Batches haben.
func OpenManifest(cfg ManifestConfig) (*ManifestLoader, error) {
	if cfg.BatchSize <= 0 || cfg.ImageSize <= 0 || cfg.VocabSize <= 0 {
		return nil, fmt.Errorf("data: invalid manifest config %+v", cfg)
	}
	if cfg.WorldSize <= 0 || cfg.Rank < 0 || cfg.Rank >= cfg.WorldSize {
		return nil, fmt.Errorf("data: rank %d outside world size %d", cfg.Rank, cfg.WorldSize)
	}

	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("data: open manifest: %w", err)
	}
	defer f.Close()

	var all []ManifestEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var e ManifestEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("data: manifest line %d: %w", line, err)
		}
		if e.Ref == "" || e.Target == "" || e.Distractor == "" {
			return nil, fmt.Errorf("data: manifest line %d: missing image path", line)
		}
		for _, p := range []string{e.Ref, e.Target, e.Distractor} {
			if err := vision.ValidateFormat(vision.FormatFromPath(p)); err != nil {
				return nil, fmt.Errorf("data: manifest line %d: %s: %w", line, p, err)
			}
		}
		for _, tok := range e.Caption {
			if tok < 0 || tok >= cfg.VocabSize {
				return nil, fmt.Errorf("data: manifest line %d: token %d outside vocabulary [0,%d)", line, tok, cfg.VocabSize)
			}
		}

		all = append(all, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("data: read manifest: %w", err)
	}

	usable := len(all) - len(all)%cfg.WorldSize
	entries := make([]ManifestEntry, 0, usable/cfg.WorldSize)
	for j := cfg.Rank; j < usable; j += cfg.WorldSize {
		entries = append(entries, all[j])
	}

	slog.Debug("manifest loaded", "path", cfg.Path, "entries", len(all), "rank_entries", len(entries), "rank", cfg.Rank)

	return &ManifestLoader{cfg: cfg, baseDir: filepath.Dir(cfg.Path), entries: entries}, nil
}

func (l *ManifestLoader) Len() int {
	n := len(l.entries) / l.cfg.BatchSize
	if !l.cfg.DropLast && len(l.entries)%l.cfg.BatchSize != 0 {
		n++
	}
	return n
}

// Batch laedt die Bilder des i-ten Batches parallel.
func (l *ManifestLoader) Batch(ctx context.Context, i int) (*Batch, error) {
	if i < 0 || i >= l.Len() {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutRange, i, l.Len())
	}

	lo := i * l.cfg.BatchSize
	hi := min(lo+l.cfg.BatchSize, len(l.entries))
	entries := l.entries[lo:hi]

	dim := 3 * l.cfg.ImageSize * l.cfg.ImageSize
	n := len(entries)
	batch := &Batch{
		RefImages:        mat.NewDense(n, dim, nil),
		TargetImages:     mat.NewDense(n, dim, nil),
		DistractorImages: mat.NewDense(n, dim, nil),
		Captions:         make([][]int, n),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for row, e := range entries {
		batch.Captions[row] = append([]int(nil), e.Caption...)
		jobs := []struct {
			path string
			dst  *mat.Dense
		}{
			{e.Ref, batch.RefImages},
			{e.Target, batch.TargetImages},
			{e.Distractor, batch.DistractorImages},
		}
		for _, job := range jobs {
			path, dst := job.path, job.dst
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				pixels, err := vision.PreprocessFile(l.resolve(path), l.cfg.ImageSize)
				if err != nil {
					return err
				}
				dst.SetRow(row, pixels)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("data: batch %d: %w", i, err)
	}

	return batch, nil
}

func (l *ManifestLoader) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(l.baseDir, path)
}
