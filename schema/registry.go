package schema

import (
	"sync"
	"sync/atomic"
)

// Registry is the process-wide holder of the current schema generation. It is
// safe for concurrent use.
type Registry struct {
	current atomic.Pointer[Generation]
	loadMu  sync.Mutex
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(emptyGeneration())
	return r
}

// Current returns the latest generation.
func (r *Registry) Current() *Generation {
	return r.current.Load()
}

// Load builds a new generation from defs and makes it current. Generations
// that were current before stay valid for anyone still holding them.
func (r *Registry) Load(defs *Definitions) (*Generation, error) {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	gen, err := buildGeneration(defs, r.current.Load().num+1)
	if err != nil {
		return nil, err
	}
	r.current.Store(gen)
	return gen, nil
}

func (r *Registry) LoadYAML(data []byte) (*Generation, error) {
	defs, err := ParseDefinitions(data)
	if err != nil {
		return nil, err
	}
	return r.Load(defs)
}

// MustLoadYAML is LoadYAML that panics on error, for statically known
// definitions.
func (r *Registry) MustLoadYAML(data string) *Generation {
	gen, err := r.LoadYAML([]byte(data))
	if err != nil {
		panic(err)
	}
	return gen
}
