package meta

import (
	"context"
	"log"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Mover moves an object to a new location and returns its new URL.
// store.Backend satisfies this.
type Mover interface {
	Move(ctx context.Context, srcurl, newLocation, newPath, newFilename string) (string, error)
}

// contentMove is one planned relocation of file content from the workspace
// data area into the global area.
type contentMove struct {
	fileID uuid.UUID
	oldURL string
	newURL string // set once the move happened
}

// Commit publishes the workspace's local metadata into the global history.
// The workspace must already be in the COMMITTING state.
//
// The commit first checks for conflicts: a local chain conflicts when
// another workspace committed an entry for the same (file, family) after
// this workspace's snapshot. Any conflict moves the workspace to CONFLICT
// and nothing is published. Otherwise content of new files is moved from
// the workspace data area into globalLocation (named by file id), local
// entries are promoted into fresh global family versions, and the workspace
// returns to READY with its snapshot advanced to see its own commit.
//
// Content moves happen without holding the registry lock, so the conflict
// check runs again afterwards. A conflict appearing in that window moves
// the content back, best effort, and the workspace still ends in CONFLICT.
// A failed content move leaves the workspace INVALID.
//
// Temporary files are not published, in any family: their base entries and
// whatever metadata was written for them elsewhere survive the commit as
// local metadata, so they behave the same before and after.
func (r *Registry) Commit(ctx context.Context, wsID int64, mover Mover, globalLocation string) error {
	r.m.Lock()
	ws := r.workspaces[wsID]
	if ws == nil {
		r.m.Unlock()
		return NotFoundf("workspace %d does not exist", wsID)
	}
	if ws.State != StateCommitting {
		r.m.Unlock()
		return Preconditionf("cannot commit a workspace in %s state", ws.State)
	}
	if conflicts := r.conflictsLocked(ws); len(conflicts) > 0 {
		r.setConflictLocked(ws)
		r.m.Unlock()
		return Conflictf(conflicts)
	}
	moves := r.planMovesLocked(ws)
	r.m.Unlock()

	// Content moves are slow and must not block the registry.
	var moveErr error
	for i := range moves {
		newURL, err := mover.Move(ctx, moves[i].oldURL, globalLocation, "", moves[i].fileID.String())
		if err != nil {
			moveErr = errors.Wrapf(err, "moving %s", moves[i].oldURL)
			break
		}
		moves[i].newURL = newURL
	}
	if moveErr != nil {
		r.undoMoves(ctx, ws, mover, moves)
		r.m.Lock()
		r.setStateLocked(ws, StateInvalid)
		r.saveWorkspace(ws)
		r.m.Unlock()
		return Backendf(moveErr, "commit of workspace %d failed", wsID)
	}

	r.m.Lock()
	defer r.m.Unlock()
	if conflicts := r.conflictsLocked(ws); len(conflicts) > 0 {
		// Someone committed while the content was in flight.
		r.setConflictLocked(ws)
		r.m.Unlock()
		r.undoMoves(ctx, ws, mover, moves)
		r.m.Lock()
		return Conflictf(conflicts)
	}
	r.promoteLocked(ws, moves)
	r.setStateLocked(ws, StateReady)
	r.saveWorkspace(ws)
	r.saveState()
	return nil
}

func (r *Registry) setConflictLocked(ws *Workspace) {
	r.setStateLocked(ws, StateConflict)
	r.saveWorkspace(ws)
}

// conflictsLocked reports every local chain whose (file, family) gained a
// global entry after the workspace's snapshot. An entry the chain itself
// was copied from never conflicts. Callers hold r.m.
func (r *Registry) conflictsLocked(ws *Workspace) []Conflict {
	var conflicts []Conflict
	for name, fam := range ws.Families {
		for fileID, list := range r.localEntries[fam.ID] {
			if len(list) == 0 {
				continue
			}
			local := list[len(list)-1]
			global := r.globalEntryListLocked(fileID, name)
			if len(global) == 0 {
				continue
			}
			newest := global[len(global)-1]
			if newest.ID > ws.SnapshotID && newest.ID != local.BasedOn {
				conflicts = append(conflicts, Conflict{FileID: fileID, Family: name})
			}
		}
	}
	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].FileID != conflicts[j].FileID {
			return conflicts[i].FileID.String() < conflicts[j].FileID.String()
		}
		return conflicts[i].Family < conflicts[j].Family
	})
	return conflicts
}

// planMovesLocked lists the content uploads this commit will publish: base
// entries of non-temporary, non-deleted files whose content still lives in
// the workspace data area. Callers hold r.m.
func (r *Registry) planMovesLocked(ws *Workspace) []contentMove {
	var moves []contentMove
	base := ws.Families[FamilyBase]
	for fileID, list := range r.localEntries[base.ID] {
		if len(list) == 0 {
			continue
		}
		e := list[len(list)-1]
		if e.State() != FileReady {
			continue
		}
		if u := e.URL(); u != "" && strings.HasPrefix(u, ws.DataLocation) {
			moves = append(moves, contentMove{fileID: fileID, oldURL: u})
		}
	}
	sort.Slice(moves, func(i, j int) bool {
		return moves[i].fileID.String() < moves[j].fileID.String()
	})
	return moves
}

// undoMoves returns already-moved content to the workspace data area, best
// effort. Called without holding r.m.
func (r *Registry) undoMoves(ctx context.Context, ws *Workspace, mover Mover, moves []contentMove) {
	for _, mv := range moves {
		if mv.newURL == "" {
			continue
		}
		rel := strings.TrimPrefix(mv.oldURL, ws.DataLocation)
		_, err := mover.Move(ctx, mv.newURL, ws.DataLocation, path.Dir(rel), path.Base(rel))
		if err != nil {
			log.Printf("commit ws %d: cannot move %s back to %s: %s", ws.ID, mv.newURL, mv.oldURL, err)
		}
	}
}

// promoteLocked publishes the workspace's local entries as fresh global
// entries under new global family versions, then re-seeds the workspace's
// family shadows at those versions and advances the snapshot marker.
// Callers hold r.m.
func (r *Registry) promoteLocked(ws *Workspace, moves []contentMove) {
	newURL := make(map[uuid.UUID]string, len(moves))
	for _, mv := range moves {
		newURL[mv.fileID] = mv.newURL
	}
	names := make([]string, 0, len(ws.Families))
	for name := range ws.Families {
		names = append(names, name)
	}
	sort.Strings(names)

	// Temporary files stay workspace-local, their entries in every
	// family included. Find them up front from the base family.
	temporary := make(map[uuid.UUID]bool)
	if base := ws.Families[FamilyBase]; base != nil {
		for fileID, list := range r.localEntries[base.ID] {
			if len(list) > 0 && list[len(list)-1].State() == FileTemporary {
				temporary[fileID] = true
			}
		}
	}

	touched := make(map[uuid.UUID]bool)
	promoted := false
	for _, name := range names {
		fam := ws.Families[name]
		byFile := r.localEntries[fam.ID]

		// Pull the withheld entries aside before promoting the rest.
		var withheld []*Entry
		fileIDs := make([]uuid.UUID, 0, len(byFile))
		for fileID, list := range byFile {
			if len(list) == 0 {
				continue
			}
			if temporary[fileID] {
				withheld = append(withheld, list[len(list)-1])
				continue
			}
			fileIDs = append(fileIDs, fileID)
		}
		sort.Slice(fileIDs, func(i, j int) bool {
			return fileIDs[i].String() < fileIDs[j].String()
		})
		if len(fileIDs) > 0 {
			version := fam.Version + 1
			if g := r.globalFamilies[name]; g != nil && g.Version >= version {
				version = g.Version + 1
			}
			global := &Family{
				ID:          r.nextFamily,
				Name:        name,
				Version:     version,
				Description: fam.Description,
			}
			r.nextFamily++
			r.globalFamilies[name] = global
			for _, fileID := range fileIDs {
				list := byFile[fileID]
				local := list[len(list)-1]
				e := &Entry{
					ID:       r.nextEntry,
					FileID:   fileID,
					FamilyID: global.ID,
					Payload:  copyPayload(local.Payload),
				}
				r.nextEntry++
				if name == FamilyBase {
					if u, ok := newURL[fileID]; ok {
						e.Payload[KeyURL] = u
					}
				}
				byName := r.globalEntries[fileID]
				if byName == nil {
					byName = make(map[string][]*Entry)
					r.globalEntries[fileID] = byName
				}
				byName[name] = append(byName[name], e)
				touched[fileID] = true
			}
			promoted = true
		}

		// Re-seed the shadow at the version just published (or the
		// old one if this family had nothing to say).
		delete(r.localEntries, fam.ID)
		delete(ws.Families, name)
		shadow := r.shadowLocked(ws, name)
		for _, e := range withheld {
			e.FamilyID = shadow.ID
			byFile := r.localEntries[shadow.ID]
			if byFile == nil {
				byFile = make(map[uuid.UUID][]*Entry)
				r.localEntries[shadow.ID] = byFile
			}
			byFile[e.FileID] = append(byFile[e.FileID], e)
		}
	}
	if promoted {
		ws.SnapshotID = r.nextEntry - 1
	}
	for fileID := range touched {
		r.saveFile(fileID)
	}
}
