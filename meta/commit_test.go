package meta

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/motmot-data/motmot/store"
)

const globalLocation = "mem://global"

// uploadTestFile stores real content in the backend under the workspace's
// data area and records it in the base family.
func uploadTestFile(t *testing.T, r *Registry, mem *store.Memory, ws *Workspace, filename string, temporary bool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	url, _, err := mem.Upload(context.Background(), id.String(), strings.NewReader("content of "+filename), ws.DataLocation)
	if err != nil {
		t.Fatalf("Upload: %s", err)
	}
	_, err = r.AddFile(ws.ID, id, filename, "", url, "0101fc798d94a730b0f0bf1bd2cc1959", 11, temporary)
	if err != nil {
		t.Fatalf("AddFile: %s", err)
	}
	return id
}

// commit walks the workspace through COMMITTING and runs the commit.
func commit(t *testing.T, r *Registry, mem *store.Memory, wsID int64) error {
	t.Helper()
	if err := r.SetState(wsID, StateCommitting); err != nil {
		t.Fatalf("SetState COMMITTING: %s", err)
	}
	return r.Commit(context.Background(), wsID, mem, globalLocation)
}

func TestCommitPublishes(t *testing.T) {
	r := newTestRegistry(t)
	mem := store.NewMemory()
	ws := makeReady(t, r, "alpha", "ann", "dublin")
	id := uploadTestFile(t, r, mem, ws, "a.txt", false)
	orig, _ := r.Latest(ws.ID, id, FamilyBase)
	if _, err := r.UpdateMetadata(ws.ID, id, "dublin", map[string]interface{}{"title": "A"}); err != nil {
		t.Fatalf("UpdateMetadata: %s", err)
	}

	// A workspace opened before the commit must never see its results.
	before := makeReady(t, r, "early", "bob", "dublin")

	if err := commit(t, r, mem, ws.ID); err != nil {
		t.Fatalf("Commit: %s", err)
	}
	ws, _ = r.Workspace(ws.ID)
	if ws.State != StateReady {
		t.Fatalf("state after commit = %s", ws.State)
	}

	latest := r.LatestGlobal(id, "")
	base := latest[FamilyBase]
	if base == nil || latest["dublin"] == nil {
		t.Fatalf("LatestGlobal = %v", latest)
	}
	wantURL := globalLocation + "/" + id.String()
	if base.URL() != wantURL {
		t.Errorf("committed url = %s, want %s", base.URL(), wantURL)
	}
	// Content followed the metadata.
	rc, _, err := mem.Download(context.Background(), wantURL)
	if err != nil {
		t.Fatalf("Download moved content: %s", err)
	}
	rc.Close()
	if _, _, err = mem.Download(context.Background(), orig.URL()); err != store.ErrNotFound {
		t.Errorf("content still at workspace url: %v", err)
	}

	// The committing workspace sees its own commit, the earlier one does
	// not, a later one does.
	if e, _ := r.Latest(ws.ID, id, "dublin"); e == nil || e.Payload["title"] != "A" {
		t.Errorf("committer lost sight of its commit: %v", e)
	}
	if e, _ := r.Latest(before.ID, id, FamilyBase); e != nil {
		t.Errorf("earlier workspace sees the commit: %v", e)
	}
	after := makeReady(t, r, "late", "bob", "dublin")
	if e, _ := r.Latest(after.ID, id, "dublin"); e == nil {
		t.Errorf("later workspace misses the commit")
	}

	// Family versions advanced globally and in the re-seeded shadows.
	for _, f := range r.GlobalFamilies() {
		if f.Version != 1 {
			t.Errorf("global family %s version = %d, want 1", f.Name, f.Version)
		}
	}
	if v := ws.Families["dublin"].Version; v != 1 {
		t.Errorf("re-seeded dublin version = %d, want 1", v)
	}
}

func TestCommitEmpty(t *testing.T) {
	r := newTestRegistry(t)
	mem := store.NewMemory()
	ws := makeReady(t, r, "alpha", "ann", "dublin")
	marker := ws.SnapshotID

	if err := commit(t, r, mem, ws.ID); err != nil {
		t.Fatalf("empty Commit: %s", err)
	}
	ws, _ = r.Workspace(ws.ID)
	if ws.State != StateReady {
		t.Errorf("state = %s", ws.State)
	}
	if ws.SnapshotID != marker {
		t.Errorf("empty commit moved the snapshot: %d -> %d", marker, ws.SnapshotID)
	}
	if n := len(r.GlobalFamilies()); n != 0 {
		t.Errorf("empty commit published %d families", n)
	}
}

func TestCommitConflict(t *testing.T) {
	r := newTestRegistry(t)
	mem := store.NewMemory()

	// Publish a file both workspaces can see.
	first := makeReady(t, r, "first", "ann", "dublin")
	id := uploadTestFile(t, r, mem, first, "a.txt", false)
	if err := commit(t, r, mem, first.ID); err != nil {
		t.Fatalf("setup commit: %s", err)
	}

	wsA := makeReady(t, r, "a", "ann", "dublin")
	wsB := makeReady(t, r, "b", "bob", "dublin")
	if _, err := r.UpdateMetadata(wsA.ID, id, "dublin", map[string]interface{}{"title": "from A"}); err != nil {
		t.Fatalf("update A: %s", err)
	}
	if _, err := r.UpdateMetadata(wsB.ID, id, "dublin", map[string]interface{}{"title": "from B"}); err != nil {
		t.Fatalf("update B: %s", err)
	}

	if err := commit(t, r, mem, wsA.ID); err != nil {
		t.Fatalf("commit A: %s", err)
	}
	err := commit(t, r, mem, wsB.ID)
	if !IsConflict(err) {
		t.Fatalf("commit B: got %v, want conflict", err)
	}
	conflicts := ConflictsOf(err)
	if len(conflicts) != 1 || conflicts[0].FileID != id || conflicts[0].Family != "dublin" {
		t.Errorf("conflicts = %v", conflicts)
	}
	wsB, _ = r.Workspace(wsB.ID)
	if wsB.State != StateConflict {
		t.Errorf("state = %s, want CONFLICT", wsB.State)
	}
	// Nothing of B's was published.
	if e := r.LatestGlobal(id, "dublin")["dublin"]; e == nil || e.Payload["title"] != "from A" {
		t.Errorf("global dublin entry = %v", e)
	}

	// Touching a different file does not conflict with A's commit.
	wsC := makeReady(t, r, "c", "cyd", "dublin")
	id2 := uploadTestFile(t, r, mem, wsC, "b.txt", false)
	if _, err := r.UpdateMetadata(wsC.ID, id2, "dublin", map[string]interface{}{"title": "other file"}); err != nil {
		t.Fatalf("update C: %s", err)
	}
	if err := commit(t, r, mem, wsC.ID); err != nil {
		t.Errorf("commit C: %s", err)
	}
}

func TestCommitSkipsTemporary(t *testing.T) {
	r := newTestRegistry(t)
	mem := store.NewMemory()
	ws := makeReady(t, r, "alpha", "ann")
	keep := uploadTestFile(t, r, mem, ws, "keep.txt", false)
	tmp := uploadTestFile(t, r, mem, ws, "scratch.txt", true)
	tmpEntry, _ := r.Latest(ws.ID, tmp, FamilyBase)

	if err := commit(t, r, mem, ws.ID); err != nil {
		t.Fatalf("Commit: %s", err)
	}
	if len(r.LatestGlobal(keep, FamilyBase)) == 0 {
		t.Errorf("regular file not published")
	}
	if len(r.LatestGlobal(tmp, FamilyBase)) != 0 {
		t.Errorf("temporary file was published")
	}
	// The temporary file survives the commit unchanged, content in place.
	e, err := r.Latest(ws.ID, tmp, FamilyBase)
	if err != nil || e == nil {
		t.Fatalf("temporary entry after commit = %v, %v", e, err)
	}
	if e.State() != FileTemporary || e.URL() != tmpEntry.URL() {
		t.Errorf("temporary entry changed: %v", e.Payload)
	}
	if _, _, err = mem.Download(context.Background(), tmpEntry.URL()); err != nil {
		t.Errorf("temporary content moved: %s", err)
	}
}

func TestCommitWithholdsTemporaryMetadata(t *testing.T) {
	r := newTestRegistry(t)
	mem := store.NewMemory()
	ws := makeReady(t, r, "alpha", "ann", "dublin")
	keep := uploadTestFile(t, r, mem, ws, "keep.txt", false)
	tmp := uploadTestFile(t, r, mem, ws, "scratch.txt", true)
	if _, err := r.UpdateMetadata(ws.ID, tmp, "dublin", map[string]interface{}{"title": "draft"}); err != nil {
		t.Fatalf("UpdateMetadata: %s", err)
	}

	if err := commit(t, r, mem, ws.ID); err != nil {
		t.Fatalf("Commit: %s", err)
	}
	if len(r.LatestGlobal(keep, FamilyBase)) == 0 {
		t.Errorf("regular file not published")
	}
	// No entry of the temporary file reaches the global history, not in
	// the base family and not in dublin.
	if got := r.LatestGlobal(tmp, ""); len(got) != 0 {
		t.Errorf("temporary file metadata published: %v", got)
	}
	// Nothing else wrote to dublin, so no dublin version exists globally.
	for _, f := range r.GlobalFamilies() {
		if f.Name == "dublin" {
			t.Errorf("dublin family published at version %d", f.Version)
		}
	}
	// The workspace keeps its draft metadata across the commit.
	if e, _ := r.Latest(ws.ID, tmp, "dublin"); e == nil || e.Payload["title"] != "draft" {
		t.Errorf("temporary metadata lost after commit: %v", e)
	}
}

// failMover breaks every move.
type failMover struct{}

func (failMover) Move(ctx context.Context, srcurl, newLocation, newPath, newFilename string) (string, error) {
	return "", errors.New("tape is on fire")
}

func TestCommitMoveFailure(t *testing.T) {
	r := newTestRegistry(t)
	mem := store.NewMemory()
	ws := makeReady(t, r, "alpha", "ann")
	id := uploadTestFile(t, r, mem, ws, "a.txt", false)

	if err := r.SetState(ws.ID, StateCommitting); err != nil {
		t.Fatalf("SetState: %s", err)
	}
	err := r.Commit(context.Background(), ws.ID, failMover{}, globalLocation)
	if KindOf(err) != KindBackend {
		t.Fatalf("Commit with broken mover: got %v", err)
	}
	ws, _ = r.Workspace(ws.ID)
	if ws.State != StateInvalid {
		t.Errorf("state = %s, want INVALID", ws.State)
	}
	if len(r.LatestGlobal(id, "")) != 0 {
		t.Errorf("failed commit published metadata")
	}
}
