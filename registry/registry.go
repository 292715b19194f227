// Package registry tracks the agents known to the bus.
//
// Registration is what makes broadcast delivery well-defined: a broadcast is
// fanned out at send time into one message per agent registered at that
// moment. Agents registered later do not receive earlier broadcasts.
package registry

import (
	"errors"
	"time"
)

// Common errors.
var (
	ErrNotFound    = errors.New("agent not found")
	ErrInvalidName = errors.New("invalid agent name")
	ErrClosed      = errors.New("registry closed")
)

// AgentInfo describes a registered agent.
type AgentInfo struct {
	// Name uniquely identifies the agent on the bus.
	Name string

	// Metadata contains additional key-value pairs.
	Metadata map[string]string

	// RegisteredAt is when the agent first registered.
	RegisteredAt time.Time

	// LastSeen is when the agent last refreshed its registration.
	LastSeen time.Time
}

// Registry provides agent registration and discovery.
type Registry interface {
	// Register adds an agent or refreshes an existing registration.
	Register(info AgentInfo) error

	// Deregister removes an agent.
	// Returns ErrNotFound if the agent is not registered.
	Deregister(name string) error

	// Get retrieves a specific agent by name.
	Get(name string) (*AgentInfo, error)

	// List returns all registered agents, sorted by name.
	List() ([]AgentInfo, error)

	// Names returns the names of all registered agents, sorted.
	Names() ([]string, error)

	// Close shuts down the registry.
	Close() error
}

// ValidateName checks if an agent name is usable.
func ValidateName(name string) error {
	if name == "" {
		return ErrInvalidName
	}
	return nil
}
