package server

import (
	"net/http"
	"strconv"

	"github.com/antonholmquist/jason"
	"github.com/julienschmidt/httprouter"

	"github.com/motmot-data/motmot/meta"
)

func workspaceID(ps httprouter.Params) (int64, error) {
	id, err := strconv.ParseInt(ps.ByName("wsid"), 10, 64)
	if err != nil {
		return 0, meta.Validationf("bad workspace id %q", ps.ByName("wsid"))
	}
	return id, nil
}

// CreateWorkspaceHandler handles requests to POST /workspace. The body is a
// JSON object with a "name", and optionally a "description", a "temporary"
// flag, and a "families" list naming the metadata families the workspace
// will use. The workspace belongs to the requesting user and is returned in
// INITIALIZING state; a background task readies it.
func (s *RESTServer) CreateWorkspaceHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	body, err := jason.NewObjectFromReader(r.Body)
	if err != nil {
		writeError(w, meta.Validationf("bad request body: %s", err.Error()))
		return
	}
	name, err := body.GetString("name")
	if err != nil {
		writeError(w, meta.Validationf("missing workspace name"))
		return
	}
	description, _ := body.GetString("description")
	temporary, _ := body.GetBoolean("temporary")
	families, _ := body.GetStringArray("families")

	ws, err := s.Registry.CreateWorkspace(name, ps.ByName("username"),
		description, s.WorkspaceLocation, temporary, families)
	if err != nil {
		writeError(w, err)
		return
	}
	s.queueTask(task{kind: taskInit, workspace: ws.ID})
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, ws)
}

// WorkspaceHandler handles requests to GET /workspace/:wsid.
func (s *RESTServer) WorkspaceHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := workspaceID(ps)
	if err != nil {
		writeError(w, err)
		return
	}
	ws, err := s.Registry.Workspace(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, ws)
}

// ListWorkspacesHandler handles requests to GET /workspace. The list can be
// narrowed with the query parameters "name" and "owner". Deleted workspaces
// appear only with "deleted=true".
func (s *RESTServer) ListWorkspacesHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	q := r.URL.Query()
	includeDeleted := q.Get("deleted") == "true"
	writeJSON(w, s.Registry.ListWorkspaces(q.Get("name"), q.Get("owner"), includeDeleted))
}

// DeleteWorkspaceHandler handles requests to DELETE /workspace/:wsid. The
// workspace is marked for deletion and a background task removes its
// uncommitted content. Committed history is never touched.
func (s *RESTServer) DeleteWorkspaceHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.startTask(w, ps, taskDelete, meta.StateDeleting)
}

// CommitHandler handles requests to POST /workspace/:wsid/commit. The
// commit itself runs in the background; poll the workspace to see whether
// it came back READY or CONFLICT.
func (s *RESTServer) CommitHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.startTask(w, ps, taskCommit, meta.StateCommitting)
}

// ScanHandler handles requests to POST /workspace/:wsid/scan. A background
// task verifies the workspace's uncommitted content against the recorded
// checksums, leaving the workspace INVALID if anything fails to match.
func (s *RESTServer) ScanHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.startTask(w, ps, taskScan, meta.StateScanning)
}

// startTask transitions the workspace into the working state for the given
// task kind and queues the task. Only the owner or an admin may do this.
func (s *RESTServer) startTask(w http.ResponseWriter, ps httprouter.Params, kind taskKind, state meta.WorkspaceState) {
	id, err := workspaceID(ps)
	if err != nil {
		writeError(w, err)
		return
	}
	ws, err := s.Registry.Workspace(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !canTouch(ps, ws.Owner) {
		writeError(w, meta.Permissionf("workspace %d belongs to %s", id, ws.Owner))
		return
	}
	if err = s.Registry.SetState(id, state); err != nil {
		writeError(w, err)
		return
	}
	s.queueTask(task{kind: kind, workspace: id})
	w.WriteHeader(http.StatusAccepted)
	ws, _ = s.Registry.Workspace(id)
	writeJSON(w, ws)
}

// ListFamiliesHandler handles requests to GET /workspace/:wsid/family,
// returning the workspace's declared families keyed by name.
func (s *RESTServer) ListFamiliesHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := workspaceID(ps)
	if err != nil {
		writeError(w, err)
		return
	}
	ws, err := s.Registry.Workspace(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, ws.Families)
}

// GlobalFamiliesHandler handles requests to GET /family, returning the
// newest committed version of every family.
func (s *RESTServer) GlobalFamiliesHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	writeJSON(w, s.Registry.GlobalFamilies())
}
