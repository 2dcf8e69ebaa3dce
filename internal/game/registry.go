package game

import (
	"fmt"
	"sync"

	"chat-game-server/internal/model"
)

// Registry holds the game variants in priority order. The order decides
// which variant is offered a shared verb first when no game is active in
// a room.
type Registry struct {
	variants []Variant
	byType   map[model.GameType]Variant
	byVerb   map[string]Variant
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[model.GameType]Variant),
		byVerb: make(map[string]Variant),
	}
}

// Register appends v at the lowest priority. Types and action verbs must
// be unique across variants.
func (r *Registry) Register(v Variant) error {
	if v == nil {
		return fmt.Errorf("cannot register nil variant")
	}
	if !v.Type().Valid() {
		return fmt.Errorf("invalid game type %q", v.Type())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byType[v.Type()]; ok {
		return fmt.Errorf("game type %q already registered", v.Type())
	}
	for _, verb := range v.ActionVerbs() {
		if owner, ok := r.byVerb[verb]; ok {
			return fmt.Errorf("verb %q already owned by %s", verb, owner.Type())
		}
	}

	r.variants = append(r.variants, v)
	r.byType[v.Type()] = v
	for _, verb := range v.ActionVerbs() {
		r.byVerb[verb] = v
	}
	return nil
}

// Get retrieves a variant by game type.
func (r *Registry) Get(t model.GameType) (Variant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byType[t]
	return v, ok
}

// ByVerb returns the variant owning an action verb.
func (r *Registry) ByVerb(verb string) (Variant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byVerb[verb]
	return v, ok
}

// List returns the variants in priority order.
// The returned slice is a copy, so modifications won't affect the registry.
func (r *Registry) List() []Variant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Variant, len(r.variants))
	copy(out, r.variants)
	return out
}

// Count returns the number of registered variants.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.variants)
}
