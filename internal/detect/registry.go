package detect

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds a detector from a configuration map. A nil map means
// defaults.
type Factory func(cfg map[string]any) (Detector, error)

// Registry holds detector factories and memoizes configured instances so the
// same name+config pair always yields the same detector.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	instances map[string]Detector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		instances: make(map[string]Detector),
	}
}

// Register adds a detector factory. Registering a name twice is an error.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("detector %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Unregister removes a factory and any cached instances built from it.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.factories, name)
	for key := range r.instances {
		if key == name || strings.HasPrefix(key, name+"_") {
			delete(r.instances, key)
		}
	}
}

// Create returns a detector for name configured with cfg, reusing a cached
// instance when one exists for the same configuration.
func (r *Registry) Create(name string, cfg map[string]any) (Detector, error) {
	key := name
	if len(cfg) > 0 {
		key = name + "_" + hashConfig(cfg)
	}

	r.mu.RLock()
	if d, ok := r.instances[key]; ok {
		r.mu.RUnlock()
		return d, nil
	}
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown detector %q", name)
	}

	d, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("create detector %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Someone may have raced us here; prefer the cached one.
	if cached, ok := r.instances[key]; ok {
		return cached, nil
	}
	r.instances[key] = d
	return d, nil
}

// Names returns the registered detector names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns metadata for every registered detector, sorted by priority
// then name.
func (r *Registry) List() ([]Metadata, error) {
	metas := make([]Metadata, 0)
	for _, name := range r.Names() {
		d, err := r.Create(name, nil)
		if err != nil {
			return nil, err
		}
		metas = append(metas, d.Meta())
	}
	sort.SliceStable(metas, func(i, j int) bool {
		if metas[i].Priority != metas[j].Priority {
			return metas[i].Priority < metas[j].Priority
		}
		return metas[i].Name < metas[j].Name
	})
	return metas, nil
}

// Resolve maps names onto detectors, dropping names the registry does not
// know. Missing names are the caller's problem to surface; resolution stays
// permissive so a stale task definition cannot wedge a whole batch.
func (r *Registry) Resolve(names []string, cfgs map[string]map[string]any) []Detector {
	out := make([]Detector, 0, len(names))
	for _, name := range names {
		d, err := r.Create(name, cfgs[name])
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out
}

// ForLevel returns every registered detector that supports the given level,
// ordered by priority.
func (r *Registry) ForLevel(level Level, cfgs map[string]map[string]any) []Detector {
	out := make([]Detector, 0)
	for _, name := range r.Names() {
		d, err := r.Create(name, cfgs[name])
		if err != nil {
			continue
		}
		for _, l := range d.Meta().SupportedLevels {
			if l == level {
				out = append(out, d)
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Meta().Priority < out[j].Meta().Priority
	})
	return out
}

// ClearCache drops all memoized instances but keeps the factories.
func (r *Registry) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances = make(map[string]Detector)
}

// hashConfig renders a config map deterministically so it can key the
// instance cache.
func hashConfig(cfg map[string]any) string {
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v;", k, cfg[k])
	}
	return b.String()
}
