package meta

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/motmot-data/motmot/store"
)

// Latest returns the newest entry for the file in the named family as seen
// from the workspace: a workspace-local entry if the chain was touched,
// otherwise the newest global entry within the workspace's snapshot. The
// result is nil (with no error) when the file carries no metadata in that
// family yet. Asking for a family the workspace did not declare is an
// error.
func (r *Registry) Latest(wsID int64, fileID uuid.UUID, familyName string) (*Entry, error) {
	// a write lock, since a cache hit is folded into the entry maps
	r.m.Lock()
	defer r.m.Unlock()
	ws := r.workspaces[wsID]
	if ws == nil {
		return nil, NotFoundf("workspace %d does not exist", wsID)
	}
	fam := ws.Families[familyName]
	if fam == nil {
		return nil, NotFoundf("workspace %d does not have family %s", wsID, familyName)
	}
	e, _ := r.latestLocked(ws, fam, fileID)
	if e == nil {
		return nil, nil
	}
	return cloneEntry(e), nil
}

// latestLocked resolves the newest entry visible from ws for (file,
// family), and whether it is workspace-local. Callers hold r.m.
func (r *Registry) latestLocked(ws *Workspace, fam *Family, fileID uuid.UUID) (*Entry, bool) {
	if list := r.localEntries[fam.ID][fileID]; len(list) > 0 {
		return list[len(list)-1], true
	}
	return r.latestGlobalLocked(fileID, fam.Name, ws.SnapshotID), false
}

// latestGlobalLocked returns the newest committed entry for (file, family
// name) with ID <= maxID, or nil. Callers hold r.m.
func (r *Registry) latestGlobalLocked(fileID uuid.UUID, familyName string, maxID int64) *Entry {
	list := r.globalEntryListLocked(fileID, familyName)
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].ID <= maxID {
			return list[i]
		}
	}
	return nil
}

// globalEntryListLocked returns the committed entries for (file, family
// name) in ascending ID order, consulting the cache on a memory miss.
// Callers hold r.m.
func (r *Registry) globalEntryListLocked(fileID uuid.UUID, familyName string) []*Entry {
	if byName := r.globalEntries[fileID]; byName != nil {
		return byName[familyName]
	}
	if r.cache != nil {
		if rec := r.cache.Lookup(fileID); rec != nil {
			r.globalEntries[fileID] = rec.Entries
			return rec.Entries[familyName]
		}
	}
	return nil
}

// LatestGlobal returns the newest committed entry per family for the given
// file, keyed by family name, ignoring any workspace. Pass a family name to
// restrict the result to that family. Files nobody committed metadata for
// yield an empty map.
func (r *Registry) LatestGlobal(fileID uuid.UUID, familyName string) map[string]*Entry {
	r.m.Lock()
	defer r.m.Unlock()
	byName := r.globalEntries[fileID]
	if byName == nil && r.cache != nil {
		if rec := r.cache.Lookup(fileID); rec != nil {
			r.globalEntries[fileID] = rec.Entries
			byName = rec.Entries
		}
	}
	result := make(map[string]*Entry)
	for name, list := range byName {
		if familyName != "" && name != familyName {
			continue
		}
		if len(list) > 0 {
			result[name] = cloneEntry(list[len(list)-1])
		}
	}
	return result
}

// baseKeyUpdatable lists the base family payload keys a client may change
// through the metadata API. Everything else in the base payload is derived
// from the content itself or managed by the registry.
var baseKeyUpdatable = map[string]bool{
	KeyPath:     true,
	KeyFilename: true,
}

// UpdateMetadata merges values into the newest entry for (file, family) as
// seen from the workspace, copy-on-write style: a committed entry is never
// changed, instead a copy is placed into the workspace-local family and the
// merge applied there. Repeated updates before a commit mutate the same
// local entry. The whole update is validated before anything is applied.
func (r *Registry) UpdateMetadata(wsID int64, fileID uuid.UUID, familyName string, values map[string]interface{}) (*Entry, error) {
	r.m.Lock()
	defer r.m.Unlock()
	ws := r.workspaces[wsID]
	if ws == nil {
		return nil, NotFoundf("workspace %d does not exist", wsID)
	}
	if !ws.CanChangeMetadata() {
		return nil, Preconditionf("cannot change metadata on a workspace in %s state", ws.State)
	}
	fam := ws.Families[familyName]
	if fam == nil {
		return nil, NotFoundf("workspace %d does not have family %s", wsID, familyName)
	}
	if _, ok := values[KeyID]; ok {
		return nil, Validationf("the id field of a metadata entry cannot be changed")
	}
	if familyName == FamilyBase {
		for k, v := range values {
			if !baseKeyUpdatable[k] {
				return nil, Validationf("base family field %q cannot be changed", k)
			}
			s, ok := v.(string)
			if !ok {
				return nil, Validationf("base family field %q must be a string", k)
			}
			var err error
			switch k {
			case KeyPath:
				err = store.CheckPath(s)
			case KeyFilename:
				err = store.CheckFilename(s)
			}
			if err != nil {
				return nil, Validationf("invalid %s: %s", k, err.Error())
			}
		}
	}
	base := ws.Families[FamilyBase]
	if e, _ := r.latestLocked(ws, base, fileID); e == nil || e.State() == FileDeleted {
		return nil, NotFoundf("file %s is not known to workspace %d", fileID, wsID)
	}
	target, local := r.latestLocked(ws, fam, fileID)
	switch {
	case target == nil:
		target = &Entry{
			FileID:  fileID,
			Payload: map[string]interface{}{KeyID: fileID.String()},
		}
		target.Update(values)
		r.writeLocked(fam, target)
	case !local:
		target = target.Copy()
		target.Update(values)
		r.writeLocked(fam, target)
	default:
		target.Update(values)
	}
	r.saveWorkspace(ws)
	r.saveState()
	return cloneEntry(target), nil
}

// AddFile records a freshly uploaded file in the workspace's base family.
// The caller has already stored the content and computed its checksum; the
// registry only records the fact. Temporary files are working data: they
// are excluded from commits and from the default file listing.
func (r *Registry) AddFile(wsID int64, fileID uuid.UUID, filename, dir, url, checksum string, size int64, temporary bool) (*Entry, error) {
	if err := store.CheckFilename(filename); err != nil {
		return nil, Validationf("invalid filename: %s", err.Error())
	}
	if err := store.CheckPath(dir); err != nil {
		return nil, Validationf("invalid path: %s", err.Error())
	}
	r.m.Lock()
	defer r.m.Unlock()
	ws := r.workspaces[wsID]
	if ws == nil {
		return nil, NotFoundf("workspace %d does not exist", wsID)
	}
	if !ws.CanChangeMetadata() {
		return nil, Preconditionf("cannot add files to a workspace in %s state", ws.State)
	}
	base := ws.Families[FamilyBase]
	if e, _ := r.latestLocked(ws, base, fileID); e != nil {
		return nil, Validationf("file %s already exists in workspace %d", fileID, wsID)
	}
	state := FileReady
	if temporary {
		state = FileTemporary
	}
	entry := &Entry{
		FileID: fileID,
		Payload: map[string]interface{}{
			KeyID:       fileID.String(),
			KeyFilename: filename,
			KeyPath:     dir,
			KeySize:     size,
			KeyChecksum: checksum,
			KeyDate:     time.Now().UTC().Format(time.RFC3339),
			KeyURL:      url,
			KeyState:    string(state),
		},
	}
	r.writeLocked(base, entry)
	r.saveWorkspace(ws)
	r.saveState()
	return cloneEntry(entry), nil
}

// DeleteFile marks a file deleted in the workspace. The base entry keeps
// its descriptive fields but loses its URL and moves to the DELETED state;
// entries in every other family are reset to the bare id payload, so a
// commit erases the file's metadata going forward while history stays
// intact. The delete is refused if the file carries metadata in a family
// the workspace did not declare, since that metadata could not be reset.
//
// The returned URL is non-empty only when the content is uncommitted and
// lives in the workspace's own data area; the caller should then remove the
// object from the storage backend.
func (r *Registry) DeleteFile(wsID int64, fileID uuid.UUID) (string, error) {
	r.m.Lock()
	defer r.m.Unlock()
	ws := r.workspaces[wsID]
	if ws == nil {
		return "", NotFoundf("workspace %d does not exist", wsID)
	}
	if !ws.CanChangeMetadata() {
		return "", Preconditionf("cannot delete files from a workspace in %s state", ws.State)
	}
	base := ws.Families[FamilyBase]
	current, _ := r.latestLocked(ws, base, fileID)
	if current == nil || current.State() == FileDeleted {
		return "", NotFoundf("file %s is not known to workspace %d", fileID, wsID)
	}
	// Every family that ever recorded metadata for the file must be
	// declared here, or the delete would leave dangling metadata behind.
	for name := range r.globalEntries[fileID] {
		if ws.Families[name] == nil && r.latestGlobalLocked(fileID, name, ws.SnapshotID) != nil {
			return "", Preconditionf("file %s has metadata in family %s, which workspace %d does not declare", fileID, name, wsID)
		}
	}
	removed := ""
	if u := current.URL(); u != "" && strings.HasPrefix(u, ws.DataLocation) {
		removed = u
	}
	for name, fam := range ws.Families {
		target, local := r.latestLocked(ws, fam, fileID)
		var values map[string]interface{}
		if name == FamilyBase {
			values = map[string]interface{}{KeyURL: nil, KeyState: string(FileDeleted)}
		} else {
			if target == nil {
				continue
			}
			// Non-base metadata is wiped down to the id marker.
			values = nil
		}
		switch {
		case target == nil:
			continue
		case !local:
			target = target.Copy()
			r.applyDelete(target, fileID, values)
			r.writeLocked(fam, target)
		default:
			r.applyDelete(target, fileID, values)
		}
	}
	r.saveWorkspace(ws)
	r.saveState()
	return removed, nil
}

// applyDelete rewrites a payload for DeleteFile: merge values into the base
// entry, or reset a non-base entry to the bare id payload.
func (r *Registry) applyDelete(e *Entry, fileID uuid.UUID, values map[string]interface{}) {
	if values != nil {
		e.Update(values)
		return
	}
	e.Payload = map[string]interface{}{KeyID: fileID.String()}
}

// FileList returns the newest visible base entry of every file in the
// workspace, ordered by file id. Deleted files are skipped unless
// includeDeleted is set.
func (r *Registry) FileList(wsID int64, includeDeleted bool) ([]*Entry, error) {
	r.m.Lock()
	defer r.m.Unlock()
	ws := r.workspaces[wsID]
	if ws == nil {
		return nil, NotFoundf("workspace %d does not exist", wsID)
	}
	base := ws.Families[FamilyBase]
	if base == nil {
		return nil, nil
	}
	seen := make(map[uuid.UUID]*Entry)
	for fileID := range r.localEntries[base.ID] {
		if e, _ := r.latestLocked(ws, base, fileID); e != nil {
			seen[fileID] = e
		}
	}
	for fileID := range r.globalEntries {
		if _, ok := seen[fileID]; ok {
			continue
		}
		if e := r.latestGlobalLocked(fileID, FamilyBase, ws.SnapshotID); e != nil {
			seen[fileID] = e
		}
	}
	var result []*Entry
	for _, e := range seen {
		if e.State() == FileDeleted && !includeDeleted {
			continue
		}
		result = append(result, cloneEntry(e))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].FileID.String() < result[j].FileID.String()
	})
	return result, nil
}

// AllMetadata returns the newest visible entry for the file in every
// declared family that has one, keyed by family name.
func (r *Registry) AllMetadata(wsID int64, fileID uuid.UUID) (map[string]*Entry, error) {
	r.m.Lock()
	defer r.m.Unlock()
	ws := r.workspaces[wsID]
	if ws == nil {
		return nil, NotFoundf("workspace %d does not exist", wsID)
	}
	base := ws.Families[FamilyBase]
	if e, _ := r.latestLocked(ws, base, fileID); e == nil {
		return nil, NotFoundf("file %s is not known to workspace %d", fileID, wsID)
	}
	result := make(map[string]*Entry)
	for name, fam := range ws.Families {
		if e, _ := r.latestLocked(ws, fam, fileID); e != nil {
			result[name] = cloneEntry(e)
		}
	}
	return result, nil
}

// writeLocked assigns the next entry id and appends the entry to its
// family's local list. Callers hold r.m.
func (r *Registry) writeLocked(fam *Family, e *Entry) {
	e.ID = r.nextEntry
	r.nextEntry++
	e.FamilyID = fam.ID
	byFile := r.localEntries[fam.ID]
	if byFile == nil {
		byFile = make(map[uuid.UUID][]*Entry)
		r.localEntries[fam.ID] = byFile
	}
	byFile[e.FileID] = append(byFile[e.FileID], e)
}
