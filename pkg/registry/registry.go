package registry

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/marmos91/libfs/pkg/backend"
	"github.com/marmos91/libfs/pkg/lookup"
)

// Registry manages the named back-ends and the devices mounted on them.
// It provides thread-safe registration and lookup of all server resources.
//
// The Registry also tracks connected dispatcher sessions. Session
// information is ephemeral and kept in memory only.
//
// Example usage:
//
//	reg := NewRegistry()
//	reg.RegisterBackend("main", memory.New(memory.Config{}, nil))
//	reg.AddDevice(&MountConfig{Device: 1, FSHandle: 1, Backend: "main"})
//
//	mount, _ := reg.Resolve(1)
type Registry struct {
	mu       sync.RWMutex
	backends map[string]backend.Backend
	devices  map[lookup.Device]*Mount
	sessions map[string]*Session // key: connection id
}

// Session represents a connected dispatcher.
type Session struct {
	ID          string // Connection id
	ClientAddr  string // Remote address
	ConnectedAt int64  // Unix timestamp
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]backend.Backend),
		devices:  make(map[lookup.Device]*Mount),
		sessions: make(map[string]*Session),
	}
}

// RegisterBackend adds a named back-end to the registry.
// Returns an error if a back-end with the same name already exists.
func (r *Registry) RegisterBackend(name string, b backend.Backend) error {
	if b == nil {
		return fmt.Errorf("cannot register nil backend")
	}
	if name == "" {
		return fmt.Errorf("cannot register backend with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[name]; exists {
		return fmt.Errorf("backend %q already registered", name)
	}

	r.backends[name] = b
	return nil
}

// GetBackend retrieves a back-end by name.
func (r *Registry) GetBackend(name string) (backend.Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, exists := r.backends[name]
	if !exists {
		return nil, fmt.Errorf("backend %q not found", name)
	}
	return b, nil
}

// ListBackends returns all registered back-end names, sorted.
func (r *Registry) ListBackends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// AddDevice mounts a device on a registered back-end.
//
// This method:
//  1. Validates that the device is free
//  2. Validates that the referenced back-end exists
//  3. Creates the device root in the back-end (kept if it already exists)
//  4. Registers the mount
func (r *Registry) AddDevice(config *MountConfig) error {
	if config.FSHandle == 0 {
		return fmt.Errorf("device %d: file-system handle must be non-zero", config.Device)
	}
	access, err := newAccessList(config.AllowedClients)
	if err != nil {
		return fmt.Errorf("device %d: %w", config.Device, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[config.Device]; exists {
		return fmt.Errorf("device %d already mounted", config.Device)
	}
	b, exists := r.backends[config.Backend]
	if !exists {
		return fmt.Errorf("backend %q not found", config.Backend)
	}

	if err := b.Mount(config.Device); err != nil {
		return fmt.Errorf("failed to mount device %d: %w", config.Device, err)
	}

	r.devices[config.Device] = &Mount{
		Device:    config.Device,
		FSHandle:  config.FSHandle,
		Backend:   config.Backend,
		ReadOnly:  config.ReadOnly,
		Ops:       b,
		MountedAt: time.Now().Unix(),
		access:    access,
	}
	return nil
}

// RemoveDevice forgets a mounted device. The back-end keeps its tree.
func (r *Registry) RemoveDevice(dev lookup.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[dev]; !exists {
		return lookup.NewError(lookup.StatusNotFound, "", "device %d not mounted", dev)
	}
	delete(r.devices, dev)
	return nil
}

// Resolve returns the mount serving dev. An unknown device yields an
// *lookup.Error with StatusNotFound.
func (r *Registry) Resolve(dev lookup.Device) (*Mount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.devices[dev]
	if !exists {
		return nil, lookup.NewError(lookup.StatusNotFound, "", "device %d not mounted", dev)
	}
	return m, nil
}

// Devices returns all mounted devices in ascending order.
func (r *Registry) Devices() []lookup.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devs := make([]lookup.Device, 0, len(r.devices))
	for dev := range r.devices {
		devs = append(devs, dev)
	}
	slices.Sort(devs)
	return devs
}

// Close closes every registered back-end and forgets all devices.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, b := range r.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("backend %q: %w", name, err))
		}
	}
	r.backends = make(map[string]backend.Backend)
	r.devices = make(map[lookup.Device]*Mount)
	return errors.Join(errs...)
}

// ============================================================================
// Session Tracking
// ============================================================================

// RecordSession registers a connected dispatcher.
func (r *Registry) RecordSession(id, clientAddr string, connectedAt int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[id] = &Session{
		ID:          id,
		ClientAddr:  clientAddr,
		ConnectedAt: connectedAt,
	}
}

// RemoveSession removes a session record.
// Returns true if a session was removed, false if none existed.
func (r *Registry) RemoveSession(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; exists {
		delete(r.sessions, id)
		return true
	}
	return false
}

// ListSessions returns all active sessions.
// The returned slice is a copy and safe to modify.
func (r *Registry) ListSessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, &Session{
			ID:          s.ID,
			ClientAddr:  s.ClientAddr,
			ConnectedAt: s.ConnectedAt,
		})
	}
	return sessions
}
