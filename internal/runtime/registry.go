package runtime

import (
	"sort"
	"sync"
)

// Slot owns zero or one live process handle for a named helper. All reads and
// writes of the handle go through the slot's mutex.
type Slot struct {
	mu     sync.Mutex
	handle Handle
}

// Handle returns the currently recorded handle, or nil.
func (s *Slot) Handle() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Do runs fn while holding the slot lock. fn receives the current handle and
// returns the handle that should be recorded afterwards. The returned handle is
// stored even when fn also returns an error, so a failed kill can still clear
// the slot.
func (s *Slot) Do(fn func(current Handle) (Handle, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := fn(s.handle)
	s.handle = next
	return err
}

// Registry maps helper names to their slots. The set of slots is fixed at
// construction, so lookups need no lock and each slot is guarded on its own.
type Registry struct {
	slots map[string]*Slot
	names []string
}

// NewRegistry constructs a registry with one empty slot per unique name.
func NewRegistry(names ...string) *Registry {
	reg := &Registry{slots: make(map[string]*Slot, len(names))}
	for _, name := range names {
		if name == "" {
			panic("runtime.NewRegistry: name must not be empty")
		}
		if _, dup := reg.slots[name]; dup {
			continue
		}
		reg.slots[name] = &Slot{}
		reg.names = append(reg.names, name)
	}
	sort.Strings(reg.names)
	return reg
}

// Slot returns the slot registered under name.
func (r *Registry) Slot(name string) (*Slot, bool) {
	if r == nil {
		return nil, false
	}
	slot, ok := r.slots[name]
	return slot, ok
}

// Names returns the registered helper names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.names...)
}
