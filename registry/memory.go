package registry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryRegistry implements Registry using in-memory storage.
type MemoryRegistry struct {
	mu     sync.RWMutex
	agents map[string]AgentInfo
	closed atomic.Bool
}

// NewMemoryRegistry creates a new in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		agents: make(map[string]AgentInfo),
	}
}

// Register adds an agent or refreshes an existing registration.
func (r *MemoryRegistry) Register(info AgentInfo) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if err := ValidateName(info.Name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if existing, ok := r.agents[info.Name]; ok {
		info.RegisteredAt = existing.RegisteredAt
	} else {
		info.RegisteredAt = now
	}
	info.LastSeen = now
	r.agents[info.Name] = info
	return nil
}

// Deregister removes an agent.
func (r *MemoryRegistry) Deregister(name string) error {
	if r.closed.Load() {
		return ErrClosed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[name]; !ok {
		return ErrNotFound
	}
	delete(r.agents, name)
	return nil
}

// Get retrieves a specific agent by name.
func (r *MemoryRegistry) Get(name string) (*AgentInfo, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.agents[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &info, nil
}

// List returns all registered agents, sorted by name.
func (r *MemoryRegistry) List() ([]AgentInfo, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AgentInfo, 0, len(r.agents))
	for _, info := range r.agents {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Names returns the names of all registered agents, sorted.
func (r *MemoryRegistry) Names() ([]string, error) {
	agents, err := r.List()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(agents))
	for i, a := range agents {
		names[i] = a.Name
	}
	return names, nil
}

// Close shuts down the registry.
func (r *MemoryRegistry) Close() error {
	r.closed.Store(true)
	return nil
}
