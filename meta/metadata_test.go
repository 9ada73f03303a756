package meta

import (
	"testing"

	"github.com/google/uuid"
)

// addTestFile records a fake upload in the workspace's base family and
// returns the new file id.
func addTestFile(t *testing.T, r *Registry, ws *Workspace, filename, dir string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	url := ws.DataLocation + "/" + id.String()
	_, err := r.AddFile(ws.ID, id, filename, dir, url, "d41d8cd98f00b204e9800998ecf8427e", 0, false)
	if err != nil {
		t.Fatalf("AddFile(%s): %s", filename, err)
	}
	return id
}

func TestAddFile(t *testing.T) {
	r := newTestRegistry(t)
	ws := makeReady(t, r, "alpha", "ann")
	id := addTestFile(t, r, ws, "a.txt", "docs")

	e, err := r.Latest(ws.ID, id, FamilyBase)
	if err != nil {
		t.Fatalf("Latest: %s", err)
	}
	if e.Payload[KeyFilename] != "a.txt" || e.Payload[KeyPath] != "docs" {
		t.Errorf("payload = %v", e.Payload)
	}
	if e.State() != FileReady {
		t.Errorf("state = %s, want READY", e.State())
	}
	if e.Payload[KeyID] != id.String() {
		t.Errorf("id field = %v", e.Payload[KeyID])
	}

	if _, err = r.AddFile(ws.ID, id, "a.txt", "", "mem://x", "", 0, false); KindOf(err) != KindValidation {
		t.Errorf("re-add same file: got %v", err)
	}
	if _, err = r.AddFile(ws.ID, uuid.New(), "../a.txt", "", "mem://x", "", 0, false); KindOf(err) != KindValidation {
		t.Errorf("bad filename: got %v", err)
	}
	if _, err = r.AddFile(ws.ID, uuid.New(), "a.txt", "/abs", "mem://x", "", 0, false); KindOf(err) != KindValidation {
		t.Errorf("bad path: got %v", err)
	}
	ts, _ := r.Workspace(ws.ID)
	r.SetState(ts.ID, StateScanning)
	if _, err = r.AddFile(ws.ID, uuid.New(), "b.txt", "", "mem://x", "", 0, false); KindOf(err) != KindPrecondition {
		t.Errorf("add while SCANNING: got %v", err)
	}
}

func TestLatestUnknownFamily(t *testing.T) {
	r := newTestRegistry(t)
	ws := makeReady(t, r, "alpha", "ann")
	id := addTestFile(t, r, ws, "a.txt", "")

	// Undeclared family is an error. Declared family with no metadata
	// for the file is just nil.
	if _, err := r.Latest(ws.ID, id, "dublin"); !IsNotFound(err) {
		t.Errorf("undeclared family: got %v", err)
	}
	ws2 := makeReady(t, r, "beta", "ann", "dublin")
	id2 := addTestFile(t, r, ws2, "b.txt", "")
	e, err := r.Latest(ws2.ID, id2, "dublin")
	if err != nil || e != nil {
		t.Errorf("declared empty family = %v, %v", e, err)
	}
}

func TestUpdateMetadata(t *testing.T) {
	r := newTestRegistry(t)
	ws := makeReady(t, r, "alpha", "ann", "dublin")
	id := addTestFile(t, r, ws, "a.txt", "")

	e, err := r.UpdateMetadata(ws.ID, id, "dublin", map[string]interface{}{"title": "A", "year": 2020})
	if err != nil {
		t.Fatalf("UpdateMetadata: %s", err)
	}
	if e.Payload["title"] != "A" || e.Payload[KeyID] != id.String() {
		t.Errorf("payload = %v", e.Payload)
	}
	// Repeated updates merge into the same local entry.
	e2, err := r.UpdateMetadata(ws.ID, id, "dublin", map[string]interface{}{"title": "B"})
	if err != nil {
		t.Fatalf("second update: %s", err)
	}
	if e2.ID != e.ID {
		t.Errorf("second update made new entry %d, want %d", e2.ID, e.ID)
	}
	if e2.Payload["title"] != "B" || e2.Payload["year"] != 2020 {
		t.Errorf("merged payload = %v", e2.Payload)
	}
}

func TestUpdateMetadataValidation(t *testing.T) {
	r := newTestRegistry(t)
	ws := makeReady(t, r, "alpha", "ann", "dublin")
	id := addTestFile(t, r, ws, "a.txt", "")

	var table = []struct {
		family string
		values map[string]interface{}
	}{
		{"dublin", map[string]interface{}{KeyID: "zzz"}},
		{FamilyBase, map[string]interface{}{KeySize: 12}},
		{FamilyBase, map[string]interface{}{KeyChecksum: "00"}},
		{FamilyBase, map[string]interface{}{KeyURL: "mem://elsewhere"}},
		{FamilyBase, map[string]interface{}{KeyState: "READY"}},
		{FamilyBase, map[string]interface{}{KeyPath: "/absolute"}},
		{FamilyBase, map[string]interface{}{KeyPath: "up/../../and/out"}},
		{FamilyBase, map[string]interface{}{KeyFilename: "a/b.txt"}},
		{FamilyBase, map[string]interface{}{KeyFilename: 7}},
	}
	for _, test := range table {
		_, err := r.UpdateMetadata(ws.ID, id, test.family, test.values)
		if KindOf(err) != KindValidation {
			t.Errorf("update %s with %v: got %v", test.family, test.values, err)
		}
	}

	// Renames through the base family are allowed.
	e, err := r.UpdateMetadata(ws.ID, id, FamilyBase, map[string]interface{}{KeyPath: "moved", KeyFilename: "b.txt"})
	if err != nil {
		t.Fatalf("rename: %s", err)
	}
	if e.Payload[KeyPath] != "moved" || e.Payload[KeyFilename] != "b.txt" {
		t.Errorf("payload = %v", e.Payload)
	}

	if _, err = r.UpdateMetadata(ws.ID, uuid.New(), "dublin", map[string]interface{}{"a": 1}); !IsNotFound(err) {
		t.Errorf("unknown file: got %v", err)
	}
}

func TestDeleteFile(t *testing.T) {
	r := newTestRegistry(t)
	ws := makeReady(t, r, "alpha", "ann", "dublin")
	id := addTestFile(t, r, ws, "a.txt", "")
	if _, err := r.UpdateMetadata(ws.ID, id, "dublin", map[string]interface{}{"title": "A"}); err != nil {
		t.Fatalf("UpdateMetadata: %s", err)
	}

	url, err := r.DeleteFile(ws.ID, id)
	if err != nil {
		t.Fatalf("DeleteFile: %s", err)
	}
	if url == "" {
		t.Errorf("uncommitted content url not returned")
	}
	e, _ := r.Latest(ws.ID, id, FamilyBase)
	if e.State() != FileDeleted {
		t.Errorf("state = %s, want DELETED", e.State())
	}
	if e.URL() != "" {
		t.Errorf("url survives delete: %s", e.URL())
	}
	if e.Payload[KeyFilename] != "a.txt" {
		t.Errorf("descriptive fields lost: %v", e.Payload)
	}
	d, _ := r.Latest(ws.ID, id, "dublin")
	if len(d.Payload) != 1 || d.Payload[KeyID] != id.String() {
		t.Errorf("dublin payload not reset: %v", d.Payload)
	}

	// Deleting again reports not found.
	if _, err = r.DeleteFile(ws.ID, id); !IsNotFound(err) {
		t.Errorf("second delete: got %v", err)
	}
	// The tombstone cannot be written to, in any family.
	if _, err = r.UpdateMetadata(ws.ID, id, "dublin", map[string]interface{}{"title": "B"}); !IsNotFound(err) {
		t.Errorf("update of deleted file: got %v", err)
	}
	if _, err = r.UpdateMetadata(ws.ID, id, FamilyBase, map[string]interface{}{KeyFilename: "b.txt"}); !IsNotFound(err) {
		t.Errorf("base update of deleted file: got %v", err)
	}
	// Deleted files leave the listing.
	list, _ := r.FileList(ws.ID, false)
	if len(list) != 0 {
		t.Errorf("deleted file still listed: %v", list)
	}
	list, _ = r.FileList(ws.ID, true)
	if len(list) != 1 {
		t.Errorf("deleted file missing from full listing")
	}
}

func TestFileListAndAllMetadata(t *testing.T) {
	r := newTestRegistry(t)
	ws := makeReady(t, r, "alpha", "ann", "dublin")
	a := addTestFile(t, r, ws, "a.txt", "")
	b := addTestFile(t, r, ws, "b.txt", "docs")
	if _, err := r.UpdateMetadata(ws.ID, a, "dublin", map[string]interface{}{"title": "A"}); err != nil {
		t.Fatalf("UpdateMetadata: %s", err)
	}

	list, err := r.FileList(ws.ID, false)
	if err != nil {
		t.Fatalf("FileList: %s", err)
	}
	if len(list) != 2 {
		t.Fatalf("FileList = %d entries, want 2", len(list))
	}

	all, err := r.AllMetadata(ws.ID, a)
	if err != nil {
		t.Fatalf("AllMetadata: %s", err)
	}
	if all[FamilyBase] == nil || all["dublin"] == nil {
		t.Errorf("AllMetadata = %v", all)
	}
	all, err = r.AllMetadata(ws.ID, b)
	if err != nil {
		t.Fatalf("AllMetadata(b): %s", err)
	}
	if all["dublin"] != nil {
		t.Errorf("file b has dublin metadata: %v", all["dublin"])
	}
	if _, err = r.AllMetadata(ws.ID, uuid.New()); !IsNotFound(err) {
		t.Errorf("unknown file: got %v", err)
	}
}
