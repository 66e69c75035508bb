package plugin

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"switchboard/internal/clock"
)

// Registry stores plugin instances.
//
// Update is the only way to modify an existing instance: the mutator receives
// a fresh copy read under the store's lock and the result is validated before
// it is written back.
type Registry interface {
	Get(ctx context.Context, orgID, pluginID string) (*Instance, error)
	List(ctx context.Context, orgID string) ([]*Instance, error)
	ListRunning(ctx context.Context) ([]*Instance, error)
	Create(ctx context.Context, inst *Instance) error
	Update(ctx context.Context, orgID, pluginID string, fn func(*Instance) error) (*Instance, error)
	Delete(ctx context.Context, orgID, pluginID string) error
}

// MemoryRegistry is an in-process Registry.
type MemoryRegistry struct {
	mu        sync.Mutex
	instances map[string]*Instance
	clock     clock.Clock
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry(clk clock.Clock) *MemoryRegistry {
	return &MemoryRegistry{
		instances: make(map[string]*Instance),
		clock:     clock.OrReal(clk),
	}
}

// Get returns a copy of the instance.
func (r *MemoryRegistry) Get(_ context.Context, orgID, pluginID string) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[InstanceKey(orgID, pluginID)]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return inst.Clone(), nil
}

// List returns copies of all instances of an organization, sorted by plugin id.
func (r *MemoryRegistry) List(_ context.Context, orgID string) ([]*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Instance
	for _, inst := range r.instances {
		if inst.OrganizationID == orgID {
			out = append(out, inst.Clone())
		}
	}
	sortInstances(out)
	return out, nil
}

// ListRunning returns copies of every running instance.
func (r *MemoryRegistry) ListRunning(_ context.Context) ([]*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Instance
	for _, inst := range r.instances {
		if inst.Running {
			out = append(out, inst.Clone())
		}
	}
	sortInstances(out)
	return out, nil
}

// Create inserts a new instance.
func (r *MemoryRegistry) Create(_ context.Context, inst *Instance) error {
	if err := inst.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := inst.Key()
	if _, exists := r.instances[key]; exists {
		return ErrInstanceExists
	}
	stored := inst.Clone()
	PrepareNew(stored, r.clock.Now())
	r.instances[key] = stored
	*inst = *stored.Clone()
	return nil
}

// Update applies fn to a fresh copy of the instance and stores the result.
func (r *MemoryRegistry) Update(_ context.Context, orgID, pluginID string, fn func(*Instance) error) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := InstanceKey(orgID, pluginID)
	current, ok := r.instances[key]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	// identity fields are not mutable
	next.ID, next.OrganizationID, next.PluginID, next.CreatedAt = current.ID, current.OrganizationID, current.PluginID, current.CreatedAt
	if err := next.Validate(); err != nil {
		return nil, err
	}
	next.UpdatedAt = r.clock.Now()
	r.instances[key] = next
	return next.Clone(), nil
}

// Delete removes the instance.
func (r *MemoryRegistry) Delete(_ context.Context, orgID, pluginID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := InstanceKey(orgID, pluginID)
	if _, ok := r.instances[key]; !ok {
		return ErrInstanceNotFound
	}
	delete(r.instances, key)
	return nil
}

// PrepareNew fills in the identity and default fields of a new instance.
// Store implementations call it before inserting.
func PrepareNew(inst *Instance, now time.Time) {
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if inst.Status == "" {
		inst.Status = StatusStopped
	}
	if inst.AuthMethod == "" {
		inst.AuthMethod = AuthMethodNone
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now
}

func sortInstances(list []*Instance) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].OrganizationID != list[j].OrganizationID {
			return list[i].OrganizationID < list[j].OrganizationID
		}
		return list[i].PluginID < list[j].PluginID
	})
}
