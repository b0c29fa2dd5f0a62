// meter.go - Laufende Mittelwerte und ihre Aggregation ueber Worker
// Dieses Modul enthaelt AverageMeter, die geordnete Meter-Menge und die
// Summary, die nach der Reduktion ueber alle Worker zurueckgegeben wird.
package metrics

import (
	"context"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ollama/cirtrain/dist"
)

// Namen der Meter, wie sie in Logs und Ergebnissen erscheinen.
const (
	BaseLoss              = "base_loss"
	BaseAcc               = "base_acc"
	CombinerTextFeatDist  = "combiner_text_feat_dist"
	CombinerImageFeatDist = "combiner_image_feat_dist"
)

// RecallName gibt den Meter-Namen fuer Recall@k zurueck.
func RecallName(k int) string {
	return fmt.Sprintf("Recall @ %d", k)
}

// =============================================================================
// AverageMeter
// =============================================================================

// AverageMeter is a weighted running mean: Avg = sum(v*n) / sum(n).
type AverageMeter struct {
	Val   float64 // letzter Wert
	Sum   float64 // gewichtete Summe
	Count float64 // Summe der Gewichte
}

// Update nimmt den Wert v mit Gewicht n auf.
func (m *AverageMeter) Update(v float64, n int) {
	m.Val = v
	m.Sum += v * float64(n)
	m.Count += float64(n)
}

// Avg gibt den gewichteten Mittelwert zurueck, 0 ohne Updates.
func (m *AverageMeter) Avg() float64 {
	if m.Count == 0 {
		return 0
	}
	return m.Sum / m.Count
}

func (m *AverageMeter) Reset() {
	*m = AverageMeter{}
}

// =============================================================================
// Meters
// =============================================================================

// Meters haelt benannte Meter in Einfuegereihenfolge.
type Meters struct {
	om *orderedmap.OrderedMap[string, *AverageMeter]
}

// NewMeters legt Meter fuer names in dieser Reihenfolge an.
func NewMeters(names ...string) *Meters {
	m := &Meters{om: orderedmap.New[string, *AverageMeter]()}
	for _, name := range names {
		m.om.Set(name, &AverageMeter{})
	}
	return m
}

// Get gibt den Meter zu name zurueck und legt ihn bei Bedarf an.
func (m *Meters) Get(name string) *AverageMeter {
	if meter, ok := m.om.Get(name); ok {
		return meter
	}
	meter := &AverageMeter{}
	m.om.Set(name, meter)
	return meter
}

// Update ist eine Kurzform fuer Get(name).Update(v, n).
func (m *Meters) Update(name string, v float64, n int) {
	m.Get(name).Update(v, n)
}

func (m *Meters) Len() int { return m.om.Len() }

// Names gibt die Meter-Namen in Einfuegereihenfolge zurueck.
func (m *Meters) Names() []string {
	names := make([]string, 0, m.om.Len())
	for pair := m.om.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Local gibt die lokalen Mittelwerte ohne Kommunikation zurueck.
func (m *Meters) Local() *Summary {
	s := newSummary()
	for pair := m.om.Oldest(); pair != nil; pair = pair.Next() {
		s.om.Set(pair.Key, pair.Value.Avg())
	}
	return s
}

// Gather reduziert (Sum, Count) aller Meter in einer Kollektive und gibt
// die globalen gewichteten Mittelwerte zurueck. Alle Worker muessen
// dieselben Meter in derselben Reihenfolge haben.
func (m *Meters) Gather(ctx context.Context, g dist.Group) (*Summary, error) {
	flat := make([]float64, 0, 2*m.om.Len())
	for pair := m.om.Oldest(); pair != nil; pair = pair.Next() {
		flat = append(flat, pair.Value.Sum, pair.Value.Count)
	}

	reduced, err := g.AllReduceSum(ctx, flat)
	if err != nil {
		return nil, fmt.Errorf("metrics: gather meters: %w", err)
	}

	s := newSummary()
	i := 0
	for pair := m.om.Oldest(); pair != nil; pair = pair.Next() {
		global := AverageMeter{Sum: reduced[i], Count: reduced[i+1]}
		s.om.Set(pair.Key, global.Avg())
		i += 2
	}
	return s, nil
}

// =============================================================================
// Summary
// =============================================================================

// Summary ist die geordnete Abbildung Meter-Name -> Wert.
type Summary struct {
	om *orderedmap.OrderedMap[string, float64]
}

func newSummary() *Summary {
	return &Summary{om: orderedmap.New[string, float64]()}
}

// Get gibt den Wert zu name zurueck.
func (s *Summary) Get(name string) (float64, bool) {
	if s == nil || s.om == nil {
		return 0, false
	}
	return s.om.Get(name)
}

// Keys gibt die Namen in Einfuegereihenfolge zurueck.
func (s *Summary) Keys() []string {
	if s == nil || s.om == nil {
		return nil
	}
	keys := make([]string, 0, s.om.Len())
	for pair := s.om.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Map gibt eine normale Map zurueck (Reihenfolge geht verloren).
func (s *Summary) Map() map[string]float64 {
	out := make(map[string]float64)
	if s == nil || s.om == nil {
		return out
	}
	for pair := s.om.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = pair.Value
	}
	return out
}

func (s *Summary) Len() int {
	if s == nil || s.om == nil {
		return 0
	}
	return s.om.Len()
}
