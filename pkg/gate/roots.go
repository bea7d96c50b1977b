package gate

import (
	"sort"
	"sync"

	"zonegate/pkg/domain"
	"zonegate/pkg/logging"
)

// ActiveRoots is the set of registrable root domains currently in
// scope. Only hostnames whose root is in this set are evaluated; the
// host adapter registers roots as pages are visited.
type ActiveRoots struct {
	mu     sync.RWMutex
	roots  map[string]struct{}
	logger *logging.Logger
}

// NewActiveRoots creates the set, seeded from configuration. Seed
// entries are reduced to their root domain.
func NewActiveRoots(seed []string, logger *logging.Logger) *ActiveRoots {
	a := &ActiveRoots{
		roots:  make(map[string]struct{}, len(seed)),
		logger: logger,
	}
	for _, s := range seed {
		if root := domain.Root(s); root != "" {
			a.roots[root] = struct{}{}
		}
	}
	return a
}

// Observe registers the root domain of a visited hostname and reports
// whether it was newly added
func (a *ActiveRoots) Observe(hostname string) bool {
	root := domain.Root(hostname)
	if root == "" {
		return false
	}

	a.mu.Lock()
	_, exists := a.roots[root]
	if !exists {
		a.roots[root] = struct{}{}
	}
	a.mu.Unlock()

	if !exists {
		a.logger.Debug("Root domain activated", "root", root)
	}
	return !exists
}

// Add registers a root domain directly
func (a *ActiveRoots) Add(root string) bool {
	return a.Observe(root)
}

// Remove drops a root domain from the set and reports whether it was
// present
func (a *ActiveRoots) Remove(root string) bool {
	root = domain.Root(root)

	a.mu.Lock()
	_, exists := a.roots[root]
	delete(a.roots, root)
	a.mu.Unlock()

	if exists {
		a.logger.Debug("Root domain deactivated", "root", root)
	}
	return exists
}

// Contains reports whether root is in scope
func (a *ActiveRoots) Contains(root string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.roots[root]
	return ok
}

// List returns the active roots in sorted order
func (a *ActiveRoots) List() []string {
	a.mu.RLock()
	out := make([]string, 0, len(a.roots))
	for root := range a.roots {
		out = append(out, root)
	}
	a.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Len returns the number of active roots
func (a *ActiveRoots) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.roots)
}
