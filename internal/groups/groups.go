// Package groups manages the registered-group, session, and task-thread
// JSON stores described in spec.md §6, each persisted with atomic
// write-temp-then-rename semantics.
package groups

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dotclaw/host/internal/dbutil"
)

// Group is one registered group/namespace. "main" is the distinguished
// cross-group-authorized group; all others are self-scoped.
type Group struct {
	Name         string    `json:"name"`
	DisplayName  string    `json:"display_name,omitempty"`
	ContainerImg string    `json:"container_image,omitempty"`
	Mode         string    `json:"mode,omitempty"` // "ephemeral" | "daemon"
	CreatedAt    time.Time `json:"created_at"`
}

// IsMain reports whether name is the distinguished cross-group group.
func IsMain(name string) bool { return name == "main" }

// Registry is the atomic-JSON-backed store of registered groups.
type Registry struct {
	mu     sync.RWMutex
	path   string
	groups map[string]Group
}

// OpenRegistry loads path if present, else starts with an empty registry
// containing only the implicit "main" group.
func OpenRegistry(path string) (*Registry, error) {
	r := &Registry{path: path, groups: map[string]Group{
		"main": {Name: "main", CreatedAt: time.Now()},
	}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read group registry: %w", err)
	}
	var stored map[string]Group
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("parse group registry: %w", err)
	}
	if stored != nil {
		r.groups = stored
		if _, ok := r.groups["main"]; !ok {
			r.groups["main"] = Group{Name: "main", CreatedAt: time.Now()}
		}
	}
	return r, nil
}

func (r *Registry) persistLocked() error {
	body, err := json.MarshalIndent(r.groups, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal group registry: %w", err)
	}
	return dbutil.WriteFileAtomic(r.path, body, 0o644)
}

// Register adds or updates g and persists the registry.
func (r *Registry) Register(g Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	r.groups[g.Name] = g
	return r.persistLocked()
}

// Remove deletes a group (refusing to remove "main") and persists.
func (r *Registry) Remove(name string) error {
	if IsMain(name) {
		return fmt.Errorf("cannot remove the main group")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups, name)
	return r.persistLocked()
}

// Get returns the group by name.
func (r *Registry) Get(name string) (Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[name]
	return g, ok
}

// List returns all registered groups.
func (r *Registry) List() []Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Group, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, g)
	}
	return out
}

// Authorized reports whether an action targeting targetGroup may be
// performed by a request originating in originGroup, per spec.md §4.8/§6:
// non-main groups are self-scoped only; main may act cross-group.
func Authorized(originGroup, targetGroup string) bool {
	if IsMain(originGroup) {
		return true
	}
	return originGroup == targetGroup
}
