package backends

import (
	"errors"
	"fmt"
	"sync"

	"github.com/upb/llm-router/services"
)

var (
	// ErrClientAlreadyRegistered is returned when two clients claim the same identity
	ErrClientAlreadyRegistered = errors.New("client already registered")

	// ErrNilClient is returned when registering a nil client
	ErrNilClient = errors.New("client cannot be nil")
)

// Registry maps identities to clients. Registration order is kept.
type Registry struct {
	mu      sync.RWMutex
	clients map[Identity]Client
	order   []Identity
}

// NewRegistry creates a registry holding clients
func NewRegistry(clients ...Client) (*Registry, error) {
	r := &Registry{
		clients: make(map[Identity]Client, len(clients)),
	}
	for _, c := range clients {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a client under its own identity
func (r *Registry) Register(client Client) error {
	if client == nil {
		return ErrNilClient
	}

	id, err := ParseIdentity(string(client.Identity()))
	if err != nil {
		return err
	}
	if id != client.Identity() {
		return fmt.Errorf("client identity %q is an alias, register it as %q", client.Identity(), id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[id]; exists {
		return fmt.Errorf("%w: %s", ErrClientAlreadyRegistered, id)
	}
	r.clients[id] = client
	r.order = append(r.order, id)
	return nil
}

// Get retrieves the client registered for id
func (r *Registry) Get(id Identity) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, exists := r.clients[id]
	if !exists {
		return nil, services.NewDomainError(services.ErrorTypeNotFound,
			fmt.Sprintf("no client registered for %q", id), services.ErrUnknownBackend)
	}
	return client, nil
}

// Identities returns the registered identities in registration order
func (r *Registry) Identities() []Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Identity, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of registered clients
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
