package meta

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/motmot-data/motmot/store"
)

// Registry is the authoritative store for workspaces, families, and
// metadata entries. All state is kept in memory and persisted as JSON
// records through a store.KV. Call Load() before using a registry whose KV
// may hold earlier state.
//
// Entry identifiers come from a single monotonically increasing counter.
// Promotion during commit assigns fresh identifiers, so the order of global
// entry identifiers is the order of commits, which is what makes the
// snapshot-marker visibility rule exact.
type Registry struct {
	m     sync.RWMutex
	kv    store.KV
	cache EntryCache

	workspaces     map[int64]*Workspace
	globalFamilies map[string]*Family                // newest committed version per name
	globalEntries  map[uuid.UUID]map[string][]*Entry // file → family name → entries, ascending ID
	localEntries   map[int64]map[uuid.UUID][]*Entry  // family ID → file → entries, ascending ID
	nextWorkspace  int64
	nextFamily     int64
	nextEntry      int64
}

// New creates a registry persisting its records into kv.
func New(kv store.KV) *Registry {
	return &Registry{
		kv:             kv,
		workspaces:     make(map[int64]*Workspace),
		globalFamilies: make(map[string]*Family),
		globalEntries:  make(map[uuid.UUID]map[string][]*Entry),
		localEntries:   make(map[int64]map[uuid.UUID][]*Entry),
		nextWorkspace:  1,
		nextFamily:     1,
		nextEntry:      1,
	}
}

// SetCache sets the committed-entry cache. Pass nil to disable caching.
func (r *Registry) SetCache(c EntryCache) {
	r.m.Lock()
	r.cache = c
	r.m.Unlock()
}

// CreateWorkspace makes a new workspace owned by owner, seeds the base
// family and the requested family shadows, and leaves the workspace in the
// INITIALIZING state. Its content location is a fresh area below
// workspaceRoot. The workspace's snapshot marker is fixed here: entries
// committed from now on are invisible to it.
func (r *Registry) CreateWorkspace(name, owner, description, workspaceRoot string, temporary bool, families []string) (*Workspace, error) {
	if name == "" {
		return nil, Validationf("workspace name is empty")
	}
	r.m.Lock()
	defer r.m.Unlock()
	for _, w := range r.workspaces {
		if w.State != StateDeleted && w.Name == name && w.Owner == owner {
			return nil, Validationf("workspace %q already exists for user %s", name, owner)
		}
	}
	id := r.nextWorkspace
	r.nextWorkspace++
	ws := &Workspace{
		ID:           id,
		Name:         name,
		Owner:        owner,
		Description:  description,
		DataLocation: fmt.Sprintf("%s/ws-%d", strings.TrimSuffix(workspaceRoot, "/"), id),
		Temporary:    temporary,
		CreatedAt:    time.Now().UTC(),
		SnapshotID:   r.nextEntry - 1,
		Families:     make(map[string]*Family),
	}
	ws.State = StateInitializing
	r.workspaces[id] = ws
	r.shadowLocked(ws, FamilyBase)
	for _, name := range families {
		if name != "" {
			r.shadowLocked(ws, name)
		}
	}
	r.saveWorkspace(ws)
	r.saveState()
	return ws.clone(), nil
}

// Workspace returns a copy of the workspace with the given id.
func (r *Registry) Workspace(id int64) (*Workspace, error) {
	r.m.RLock()
	defer r.m.RUnlock()
	ws := r.workspaces[id]
	if ws == nil {
		return nil, NotFoundf("workspace %d does not exist", id)
	}
	return ws.clone(), nil
}

// ListWorkspaces returns copies of all workspaces, optionally filtered by
// name or owner. Deleted workspaces are skipped unless includeDeleted is
// set. The result is ordered by workspace id.
func (r *Registry) ListWorkspaces(name, owner string, includeDeleted bool) []*Workspace {
	r.m.RLock()
	defer r.m.RUnlock()
	var result []*Workspace
	for _, ws := range r.workspaces {
		if ws.State == StateDeleted && !includeDeleted {
			continue
		}
		if name != "" && ws.Name != name {
			continue
		}
		if owner != "" && ws.Owner != owner {
			continue
		}
		result = append(result, ws.clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// SetState transitions the workspace into the given state. Transitions not
// in the transition table fail with a precondition error and leave the
// workspace untouched.
func (r *Registry) SetState(id int64, to WorkspaceState) error {
	r.m.Lock()
	defer r.m.Unlock()
	ws := r.workspaces[id]
	if ws == nil {
		return NotFoundf("workspace %d does not exist", id)
	}
	if err := r.setStateLocked(ws, to); err != nil {
		return err
	}
	r.saveWorkspace(ws)
	return nil
}

func (r *Registry) setStateLocked(ws *Workspace, to WorkspaceState) error {
	if !validTransition(ws.State, to) {
		return Preconditionf("illegal workspace state transition %s -> %s", ws.State, to)
	}
	ws.State = to
	return nil
}

// Shadow declares a family on an initializing workspace, mirroring the
// current version of the global family with that name, or version 0 if the
// name was never committed. Declaring a family twice returns the existing
// shadow. The declared family set is fixed once the workspace leaves
// INITIALIZING.
func (r *Registry) Shadow(wsID int64, name string) (*Family, error) {
	if name == "" {
		return nil, Validationf("family name is empty")
	}
	r.m.Lock()
	defer r.m.Unlock()
	ws := r.workspaces[wsID]
	if ws == nil {
		return nil, NotFoundf("workspace %d does not exist", wsID)
	}
	if ws.State != StateInitializing {
		return nil, Preconditionf("cannot declare a family on a workspace in %s state", ws.State)
	}
	f := r.shadowLocked(ws, name)
	r.saveWorkspace(ws)
	r.saveState()
	fc := *f
	return &fc, nil
}

func (r *Registry) shadowLocked(ws *Workspace, name string) *Family {
	if f := ws.Families[name]; f != nil {
		return f
	}
	f := &Family{
		ID:          r.nextFamily,
		Name:        name,
		WorkspaceID: ws.ID,
	}
	r.nextFamily++
	if g := r.globalFamilies[name]; g != nil {
		f.Version = g.Version
		f.Description = g.Description
	}
	ws.Families[name] = f
	return f
}

// ResolveFamily looks up a family by name within the workspace. The result
// is nil (with no error) if the workspace did not declare the family.
func (r *Registry) ResolveFamily(wsID int64, name string) (*Family, error) {
	r.m.RLock()
	defer r.m.RUnlock()
	ws := r.workspaces[wsID]
	if ws == nil {
		return nil, NotFoundf("workspace %d does not exist", wsID)
	}
	f := ws.Families[name]
	if f == nil {
		return nil, nil
	}
	fc := *f
	return &fc, nil
}

// GlobalFamilies returns copies of the newest committed version of every
// family, ordered by name.
func (r *Registry) GlobalFamilies() []*Family {
	r.m.RLock()
	defer r.m.RUnlock()
	result := make([]*Family, 0, len(r.globalFamilies))
	for _, f := range r.globalFamilies {
		fc := *f
		result = append(result, &fc)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// DeleteWorkspace removes a workspace in the DELETING state: its local
// families and entries are dropped and the workspace becomes DELETED.
// Global entries are untouched. The returned URLs point at uncommitted
// content owned by the workspace; the caller is responsible for removing
// those objects from the storage backend.
func (r *Registry) DeleteWorkspace(id int64) ([]string, error) {
	r.m.Lock()
	defer r.m.Unlock()
	ws := r.workspaces[id]
	if ws == nil {
		return nil, NotFoundf("workspace %d does not exist", id)
	}
	if ws.State != StateDeleting {
		return nil, Preconditionf("cannot delete a workspace in %s state", ws.State)
	}
	urlset := make(map[string]struct{})
	if base := ws.Families[FamilyBase]; base != nil {
		for _, entries := range r.localEntries[base.ID] {
			for _, e := range entries {
				if u := e.URL(); u != "" && strings.HasPrefix(u, ws.DataLocation) {
					urlset[u] = struct{}{}
				}
			}
		}
	}
	for _, f := range ws.Families {
		delete(r.localEntries, f.ID)
	}
	ws.Families = make(map[string]*Family)
	if err := r.setStateLocked(ws, StateDeleted); err != nil {
		return nil, err
	}
	r.saveWorkspace(ws)
	urls := make([]string, 0, len(urlset))
	for u := range urlset {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls, nil
}
