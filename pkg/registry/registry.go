// Package registry provides the generic thread-safe catalog that the tool,
// agent, workflow and LLM registries are built on. Listing is stable-ordered
// by key so dependent computations (plan instantiation, find results) are
// deterministic.
package registry

import (
	"fmt"
	"sort"
	"sync"
)

type Registry[T any] interface {
	Register(id string, item T) error
	Get(id string) (T, bool)
	Has(id string) bool
	IDs() []string
	List() []T
	Remove(id string) error
	Count() int
	Clear()
}

type BaseRegistry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

func NewBaseRegistry[T any]() *BaseRegistry[T] {
	return &BaseRegistry[T]{
		items: make(map[string]T),
	}
}

func (r *BaseRegistry[T]) Register(id string, item T) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[id]; exists {
		return fmt.Errorf("item with id '%s' already registered", id)
	}

	r.items[id] = item
	return nil
}

// Replace registers or overwrites an item. Used only for metrics-bearing
// entries whose definition is structurally unchanged.
func (r *BaseRegistry[T]) Replace(id string, item T) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[id] = item
	return nil
}

func (r *BaseRegistry[T]) Get(id string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, exists := r.items[id]
	return item, exists
}

func (r *BaseRegistry[T]) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.items[id]
	return exists
}

// IDs returns all registered ids sorted ascending.
func (r *BaseRegistry[T]) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns all items ordered by id.
func (r *BaseRegistry[T]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	items := make([]T, 0, len(ids))
	for _, id := range ids {
		items = append(items, r.items[id])
	}
	return items
}

func (r *BaseRegistry[T]) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[id]; !exists {
		return fmt.Errorf("item '%s' not found", id)
	}

	delete(r.items, id)
	return nil
}

func (r *BaseRegistry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.items)
}

func (r *BaseRegistry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = make(map[string]T)
}
