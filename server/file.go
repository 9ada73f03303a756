package server

import (
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strconv"

	"github.com/antonholmquist/jason"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/motmot-data/motmot/meta"
	"github.com/motmot-data/motmot/store"
	"github.com/motmot-data/motmot/util"
)

func fileID(ps httprouter.Params) (uuid.UUID, error) {
	id, err := uuid.Parse(ps.ByName("fileid"))
	if err != nil {
		return uuid.UUID{}, meta.Validationf("bad file id %q", ps.ByName("fileid"))
	}
	return id, nil
}

// UploadFileHandler handles requests to POST /workspace/:wsid/file. The
// request body is the file content; "filename" and optional "path" and
// "temporary" query parameters describe it. The content is hashed while it
// streams into the workspace's data area, and the hash is checked against
// the X-Content-MD5 header when the client sends one. The response is the
// new base family entry.
func (s *RESTServer) UploadFileHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
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
	if !ws.CanChangeMetadata() {
		writeError(w, meta.Preconditionf("cannot add files to a workspace in %s state", ws.State))
		return
	}
	q := r.URL.Query()
	filename := q.Get("filename")
	dir := q.Get("path")
	temporary := q.Get("temporary") == "true"
	if err = store.CheckFilename(filename); err != nil {
		writeError(w, meta.Validationf("invalid filename: %s", err.Error()))
		return
	}
	if err = store.CheckPath(dir); err != nil {
		writeError(w, meta.Validationf("invalid path: %s", err.Error()))
		return
	}

	ctx := r.Context()
	fid := uuid.New()
	hw := util.NewHashWriter(ioutil.Discard)
	url, handle, err := s.Backend.Upload(ctx, fid.String(), io.TeeReader(r.Body, hw), ws.DataLocation)
	if err != nil {
		writeError(w, meta.Backendf(err, "cannot store upload"))
		return
	}
	checksum := hw.SumMD5()
	if goal := r.Header.Get("X-Content-MD5"); goal != "" && goal != checksum {
		s.Backend.Delete(ctx, url)
		writeError(w, meta.Validationf("content hash mismatch: body is %s, header says %s", checksum, goal))
		return
	}
	if err = s.Backend.SetPermissions(ctx, handle, ws.Owner); err != nil {
		// don't leave unowned content behind
		s.Backend.Delete(ctx, url)
		writeError(w, meta.Backendf(err, "cannot set owner on upload"))
		return
	}
	entry, err := s.Registry.AddFile(id, fid, filename, dir, url, checksum, hw.Size(), temporary)
	if err != nil {
		s.Backend.Delete(ctx, url)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, entry)
}

// FileHandler handles GET and HEAD requests to
// /workspace/:wsid/file/:fileid, returning the file's content as the
// workspace sees it.
func (s *RESTServer) FileHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := workspaceID(ps)
	if err != nil {
		writeError(w, err)
		return
	}
	fid, err := fileID(ps)
	if err != nil {
		writeError(w, err)
		return
	}
	entry, err := s.Registry.Latest(id, fid, meta.FamilyBase)
	if err != nil {
		writeError(w, err)
		return
	}
	if entry == nil || entry.URL() == "" {
		writeError(w, meta.NotFoundf("file %s has no content in workspace %d", fid, id))
		return
	}
	rc, size, err := s.Backend.Download(r.Context(), entry.URL())
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, meta.NotFoundf("content of file %s is missing", fid))
		} else {
			writeError(w, meta.Backendf(err, "cannot read file %s", fid))
		}
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	if checksum, ok := entry.Payload[meta.KeyChecksum].(string); ok {
		w.Header().Set("ETag", fmt.Sprintf("%q", checksum))
	}
	if r.Method == "HEAD" {
		return
	}
	io.Copy(w, rc)
}

// DeleteFileHandler handles requests to DELETE
// /workspace/:wsid/file/:fileid. Uncommitted content is removed from the
// backend right away; for committed files only the metadata is marked, the
// published history keeps the content.
func (s *RESTServer) DeleteFileHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := workspaceID(ps)
	if err != nil {
		writeError(w, err)
		return
	}
	fid, err := fileID(ps)
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
	url, err := s.Registry.DeleteFile(id, fid)
	if err != nil {
		writeError(w, err)
		return
	}
	if url != "" {
		if err = s.Backend.Delete(r.Context(), url); err != nil {
			writeError(w, meta.Backendf(err, "cannot remove content of %s", fid))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "deleted")
}

// ListFilesHandler handles requests to GET /workspace/:wsid/file, listing
// the newest visible base entry of every file. Deleted files appear only
// with "deleted=true".
func (s *RESTServer) ListFilesHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := workspaceID(ps)
	if err != nil {
		writeError(w, err)
		return
	}
	list, err := s.Registry.FileList(id, r.URL.Query().Get("deleted") == "true")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, list)
}

// FileMetadataHandler handles requests to GET
// /workspace/:wsid/file/:fileid/metadata, returning the newest visible
// entry in every declared family, keyed by family name.
func (s *RESTServer) FileMetadataHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := workspaceID(ps)
	if err != nil {
		writeError(w, err)
		return
	}
	fid, err := fileID(ps)
	if err != nil {
		writeError(w, err)
		return
	}
	all, err := s.Registry.AllMetadata(id, fid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, all)
}

// FamilyMetadataHandler handles requests to GET
// /workspace/:wsid/file/:fileid/metadata/:family.
func (s *RESTServer) FamilyMetadataHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := workspaceID(ps)
	if err != nil {
		writeError(w, err)
		return
	}
	fid, err := fileID(ps)
	if err != nil {
		writeError(w, err)
		return
	}
	entry, err := s.Registry.Latest(id, fid, ps.ByName("family"))
	if err != nil {
		writeError(w, err)
		return
	}
	if entry == nil {
		writeError(w, meta.NotFoundf("file %s has no %s metadata in workspace %d", fid, ps.ByName("family"), id))
		return
	}
	writeJSON(w, entry)
}

// UpdateMetadataHandler handles requests to PUT
// /workspace/:wsid/file/:fileid/metadata/:family. The body is a JSON
// object, either the new values directly or wrapped under a "metadata" key.
// Values merge over the current entry.
func (s *RESTServer) UpdateMetadataHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := workspaceID(ps)
	if err != nil {
		writeError(w, err)
		return
	}
	fid, err := fileID(ps)
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
	body, err := jason.NewObjectFromReader(r.Body)
	if err != nil {
		writeError(w, meta.Validationf("bad request body: %s", err.Error()))
		return
	}
	if inner, err := body.GetObject("metadata"); err == nil {
		body = inner
	}
	values := make(map[string]interface{})
	for k, v := range body.Map() {
		values[k] = v.Interface()
	}
	entry, err := s.Registry.UpdateMetadata(id, fid, ps.ByName("family"), values)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, entry)
}

// GlobalFileHandler handles GET and HEAD requests to /file/:fileid,
// returning the committed content of a file with no workspace in between.
func (s *RESTServer) GlobalFileHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	fid, err := fileID(ps)
	if err != nil {
		writeError(w, err)
		return
	}
	entry := s.Registry.LatestGlobal(fid, meta.FamilyBase)[meta.FamilyBase]
	if entry == nil || entry.URL() == "" {
		writeError(w, meta.NotFoundf("file %s has no committed content", fid))
		return
	}
	rc, size, err := s.Backend.Download(r.Context(), entry.URL())
	if err != nil {
		writeError(w, meta.Backendf(err, "cannot read file %s", fid))
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	if checksum, ok := entry.Payload[meta.KeyChecksum].(string); ok {
		w.Header().Set("ETag", fmt.Sprintf("%q", checksum))
	}
	if r.Method == "HEAD" {
		return
	}
	io.Copy(w, rc)
}

// GlobalMetadataHandler handles requests to GET /file/:fileid/metadata,
// returning the newest committed entry per family with no workspace in
// between. A "family" query parameter narrows the result.
func (s *RESTServer) GlobalMetadataHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	fid, err := fileID(ps)
	if err != nil {
		writeError(w, err)
		return
	}
	latest := s.Registry.LatestGlobal(fid, r.URL.Query().Get("family"))
	if len(latest) == 0 {
		writeError(w, meta.NotFoundf("file %s has no committed metadata", fid))
		return
	}
	writeJSON(w, latest)
}
