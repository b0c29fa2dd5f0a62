// recall.go - Accuracy und Recall@K auf Logit-Matrizen
// Dieses Modul enthaelt die Rangbildung je Zeile (stabil, absteigend)
// sowie Accuracy und Recall@K fuer Zeilen mit bekannter Ziel-Spalte.
package metrics

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ArgsortDesc gibt die Indizes von row nach absteigendem Wert zurueck.
// Gleiche Werte behalten ihre urspruengliche Reihenfolge.
func ArgsortDesc(row []float64) []int {
	idx := make([]int, len(row))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		switch {
		case row[a] > row[b]:
			return -1
		case row[a] < row[b]:
			return 1
		}
		return 0
	})
	return idx
}

func checkTargets(logits mat.Matrix, targets []int) (int, int) {
	r, c := logits.Dims()
	if len(targets) != r {
		panic(fmt.Sprintf("metrics: %d targets for %d rows", len(targets), r))
	}
	return r, c
}

func row(logits mat.Matrix, i, c int) []float64 {
	return mat.Row(make([]float64, c), i, logits)
}

// Accuracy ist der Anteil der Zeilen, deren Argmax die Ziel-Spalte ist.
// Bei Gleichstand gewinnt der kleinste Index.
func Accuracy(logits mat.Matrix, targets []int) float64 {
	r, c := checkTargets(logits, targets)
	if r == 0 {
		return 0
	}

	hits := 0
	for i := 0; i < r; i++ {
		if floats.MaxIdx(row(logits, i, c)) == targets[i] {
			hits++
		}
	}
	return float64(hits) / float64(r)
}

// RecallAtK ist der Anteil der Zeilen, deren Ziel-Spalte unter den k
// groessten Logits liegt. k wird auf die Spaltenzahl begrenzt.
func RecallAtK(logits mat.Matrix, targets []int, k int) float64 {
	r, c := checkTargets(logits, targets)
	if r == 0 || k <= 0 {
		return 0
	}
	k = min(k, c)

	hits := 0
	for i := 0; i < r; i++ {
		if slices.Contains(ArgsortDesc(row(logits, i, c))[:k], targets[i]) {
			hits++
		}
	}
	return float64(hits) / float64(r)
}

// Diagonal gibt die Ziele 0..n-1 zurueck (positives Paar auf der Diagonalen).
func Diagonal(n int) []int {
	targets := make([]int, n)
	for i := range targets {
		targets[i] = i
	}
	return targets
}
