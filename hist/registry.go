package hist

import (
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/TFMV/dijet/graph"
)

// NameCollisionError reports a histogram name requested twice within one run.
type NameCollisionError struct {
	Name       string
	Checkpoint string
}

func (e *NameCollisionError) Error() string {
	return fmt.Sprintf("histogram %q booked twice (checkpoint %q)", e.Name, e.Checkpoint)
}

func (e *NameCollisionError) Unwrap() error { return graph.ErrNameCollision }

// Registry records every histogram name booked in a run. A bloom filter
// answers the common "never seen" case; fingerprints resolve the rest.
type Registry struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	names  map[uint64][]string
	order  []string
}

// NewRegistry sizes the filter for about n names.
func NewRegistry(n uint) *Registry {
	if n == 0 {
		n = 1024
	}
	return &Registry{
		filter: bloom.NewWithEstimates(n, 0.001),
		names:  make(map[uint64][]string),
	}
}

// Contains reports whether name was registered.
func (r *Registry) Contains(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contains(name)
}

func (r *Registry) contains(name string) bool {
	if !r.filter.TestString(name) {
		return false
	}
	for _, n := range r.names[Fingerprint(name)] {
		if n == name {
			return true
		}
	}
	return false
}

// Add registers name, failing with a NameCollisionError if it is taken.
func (r *Registry) Add(name, checkpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.contains(name) {
		return &NameCollisionError{Name: name, Checkpoint: checkpoint}
	}
	r.filter.AddString(name)
	fp := Fingerprint(name)
	r.names[fp] = append(r.names[fp], name)
	r.order = append(r.order, name)
	return nil
}

// Len returns the number of registered names.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}
