// Package content resolves memorial content and its owner.
package content

import (
	"context"
	"strings"
	"sync"

	core "github.com/R3E-Network/tribute_layer/internal/app/core/service"
	"github.com/R3E-Network/tribute_layer/internal/app/domain/ledger"
)

// Item is a piece of content known to the directory.
type Item struct {
	ID       string             `json:"id"`
	Type     ledger.ContentType `json:"type"`
	OwnerID  string             `json:"owner_id"`
	Size     int64              `json:"size,omitempty"`
	Checksum string             `json:"checksum,omitempty"`
}

// Registry is an in-memory content directory.
type Registry struct {
	mu    sync.RWMutex
	items map[string]Item
}

// NewRegistry creates an empty registry, optionally seeded.
func NewRegistry(items ...Item) *Registry {
	r := &Registry{items: make(map[string]Item)}
	for _, it := range items {
		r.items[key(it.Type, it.ID)] = it
	}
	return r
}

// Put adds or replaces an item.
func (r *Registry) Put(item Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[key(item.Type, item.ID)] = item
}

// Resolve returns the item of the given type, or a not-found error.
func (r *Registry) Resolve(_ context.Context, contentType ledger.ContentType, ref string) (Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[key(contentType, ref)]
	if !ok {
		return Item{}, core.NewNotFoundError(string(contentType), ref)
	}
	return item, nil
}

// Exists reports whether any item has id.
func (r *Registry) Exists(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, it := range r.items {
		if it.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func key(t ledger.ContentType, id string) string {
	return string(t) + "/" + strings.TrimSpace(id)
}
