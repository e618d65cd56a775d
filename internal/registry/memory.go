package registry

import (
	"context"
	"sort"
	"sync"

	"horus-core/pkg/types"
)

// Memory is an in-process Registry used by tests and local runs. It is
// seeded up front and, like the real stores, read-only to the core.
type Memory struct {
	mu       sync.RWMutex
	clients  map[string]types.Client
	settings map[string]types.CaptainSettings
}

// NewMemory creates a registry seeded with the given clients.
func NewMemory(clients ...types.Client) *Memory {
	m := &Memory{
		clients:  make(map[string]types.Client, len(clients)),
		settings: make(map[string]types.CaptainSettings),
	}
	for _, c := range clients {
		m.clients[c.ClientID] = c
	}
	return m
}

// SetSettings stores a settings record (test seeding; the core never writes).
func (m *Memory) SetSettings(s types.CaptainSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[s.CaptainID] = s
}

// PutClient stores a client record (test seeding).
func (m *Memory) PutClient(c types.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ClientID] = c
}

// Clients returns all records sorted by id for deterministic iteration.
func (m *Memory) Clients(_ context.Context) ([]types.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Client, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

// Client returns one record by id, or ErrNotFound.
func (m *Memory) Client(_ context.Context, id string) (types.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok {
		return types.Client{}, ErrNotFound
	}
	return c, nil
}

// Settings returns the stored settings or the defaults if none were seeded.
func (m *Memory) Settings(_ context.Context, captainID string) (types.CaptainSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.settings[captainID]; ok {
		return s, nil
	}
	return types.DefaultSettings(captainID), nil
}
