// context.go - Compute-Kontext fuer Tensor-Operationen
// Dieses Modul definiert den Context mit Autocast-Typ, Grad-Modus und
// dem Autocast-Cache fuer gerundete Parameter-Kopien.
package ml

import (
	"errors"
	"sync"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNoGrad wird zurueckgegeben wenn Backward auf einem Tensor ohne Graph laeuft.
	ErrNoGrad = errors.New("ml: tensor does not require grad")
)

// Context carries the execution mode for a forward pass. Ops record a graph
// only when grad mode is on and at least one input requires grad.
type Context struct {
	autocast DType
	grad     bool

	// cache ist zwischen NoGrad-Kopien geteilt
	cache *castCache
}

type castCache struct {
	mu     sync.Mutex
	values map[*Tensor]*mat.Dense
	hits   int
	misses int
}

// ContextOption konfiguriert einen neuen Context.
type ContextOption func(*Context)

// WithAutocast setzt den Typ, auf den Matmul-Eingaben gerundet werden.
func WithAutocast(d DType) ContextOption {
	return func(c *Context) {
		c.autocast = d
	}
}

// NewContext erstellt einen Context mit Grad-Modus an und ohne Autocast.
func NewContext(opts ...ContextOption) *Context {
	c := &Context{
		autocast: DTypeF32,
		grad:     true,
		cache:    &castCache{values: make(map[*Tensor]*mat.Dense)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NoGrad gibt eine Kopie des Contexts ohne Graph-Aufzeichnung zurueck.
func (c *Context) NoGrad() *Context {
	cp := *c
	cp.grad = false
	return &cp
}

// GradEnabled meldet ob Operationen einen Graphen aufzeichnen.
func (c *Context) GradEnabled() bool { return c.grad }

// Autocast gibt den aktiven Autocast-Typ zurueck.
func (c *Context) Autocast() DType { return c.autocast }

// ClearCache verwirft alle gecachten Autocast-Kopien. Muss nach jedem
// Optimizer-Schritt aufgerufen werden, sonst sieht Matmul alte Gewichte.
func (c *Context) ClearCache() {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()

	clear(c.cache.values)
}

// CacheStats gibt (Eintraege, Treffer, Fehlschlaege) zurueck.
func (c *Context) CacheStats() (entries, hits, misses int) {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()

	return len(c.cache.values), c.cache.hits, c.cache.misses
}

// tracks meldet ob ein Ergebnis aus diesen Eingaben einen Graphen braucht.
func (c *Context) tracks(inputs ...*Tensor) bool {
	if !c.grad {
		return false
	}
	for _, t := range inputs {
		if t.requiresGrad {
			return true
		}
	}
	return false
}

// cast gibt den Wert von t in Autocast-Praezision zurueck. Parameter-Leafs
// werden gecacht, Aktivierungen jedes Mal neu gerundet.
func (c *Context) cast(t *Tensor) *mat.Dense {
	if !c.autocast.Reduced() {
		return t.value
	}

	if !t.IsLeaf() || !t.requiresGrad {
		return roundDense(c.autocast, t.value)
	}

	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()

	if v, ok := c.cache.values[t]; ok {
		c.cache.hits++
		return v
	}
	c.cache.misses++
	v := roundDense(c.autocast, t.value)
	c.cache.values[t] = v
	return v
}

func roundDense(d DType, m *mat.Dense) *mat.Dense {
	out := mat.DenseCopyOf(m)
	d.RoundSlice(out.RawMatrix().Data)
	return out
}

// record haengt Eltern und Backward-Funktion an ein Ergebnis, wenn noetig.
func (c *Context) record(out *Tensor, fn BackwardFunc, parents ...*Tensor) *Tensor {
	if c.tracks(parents...) {
		out.requiresGrad = true
		out.parents = parents
		out.backward = fn
	}
	return out
}
