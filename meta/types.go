package meta

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorkspaceState is the lifecycle state of a workspace.
type WorkspaceState int

const (
	StateUnset WorkspaceState = iota
	StateInitializing
	StateReady
	StateScanning
	StateUpdating
	StateCommitting
	StateDeleting
	StateInvalid
	StateConflict
	StateDeleted
)

var stateNames = map[WorkspaceState]string{
	StateInitializing: "INITIALIZING",
	StateReady:        "READY",
	StateScanning:     "SCANNING",
	StateUpdating:     "UPDATING",
	StateCommitting:   "COMMITTING",
	StateDeleting:     "DELETING",
	StateInvalid:      "INVALID",
	StateConflict:     "CONFLICT",
	StateDeleted:      "DELETED",
}

func (s WorkspaceState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNSET"
}

func (s WorkspaceState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *WorkspaceState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for state, n := range stateNames {
		if n == name {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown workspace state %q", name)
}

// transitions is the only place a state change is legal. SetState consults
// it; nothing else assigns a workspace state.
var transitions = map[WorkspaceState][]WorkspaceState{
	StateUnset:        {StateInitializing},
	StateInitializing: {StateReady, StateInvalid},
	StateReady:        {StateScanning, StateUpdating, StateCommitting, StateDeleting},
	StateScanning:     {StateReady, StateInvalid},
	StateUpdating:     {StateReady, StateInvalid},
	StateCommitting:   {StateReady, StateConflict, StateInvalid},
	StateDeleting:     {StateDeleted},
	StateInvalid:      {StateDeleting},
	StateConflict:     {StateDeleting},
	StateDeleted:      {},
}

func validTransition(from, to WorkspaceState) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// FileState tracks whether a file's content is durable and visible. It is
// stored inside the base family payload and is independent of the workspace
// state machine.
type FileState string

const (
	FileTemporary FileState = "TEMPORARY"
	FileReady     FileState = "READY"
	FileDeleted   FileState = "DELETED"
)

// FamilyBase is the reserved family recording intrinsic file attributes.
// Every workspace has it.
const FamilyBase = "base"

// Keys of the base family payload.
const (
	KeyID       = "id"
	KeyFilename = "filename"
	KeyPath     = "path"
	KeySize     = "size"
	KeyChecksum = "checksum"
	KeyDate     = "date"
	KeyURL      = "url"
	KeyState    = "state"
)

// A Family is one named metadata schema instance. A family with
// WorkspaceID == 0 is global: it represents one committed version in the
// ordered history of its name. Otherwise it is local to one workspace,
// shadowing the global family of the same name as of the workspace's
// creation.
type Family struct {
	ID          int64
	Name        string
	Version     int
	Description string
	WorkspaceID int64 `json:",omitempty"`
}

// IsGlobal reports whether the family is committed, that is, owned by no
// workspace.
func (f *Family) IsGlobal() bool {
	return f.WorkspaceID == 0
}

// An Entry is one versioned metadata record for a (file, family) pair.
// Once an entry belongs to a global family it is immutable; a logical
// update is a new entry.
type Entry struct {
	ID       int64
	FileID   uuid.UUID
	FamilyID int64
	// BasedOn is the global entry this local chain was copied from, or 0
	// if the chain started from nothing.
	BasedOn int64 `json:",omitempty"`
	Payload map[string]interface{}
}

// Copy returns a new, unsaved entry with the same payload, recording the
// source as its basis. The copy is meant to be re-homed into a
// workspace-local family before being changed, so the committed original
// stays untouched.
func (e *Entry) Copy() *Entry {
	return &Entry{
		FileID:  e.FileID,
		BasedOn: e.ID,
		Payload: copyPayload(e.Payload),
	}
}

// Update merges the given values over the entry's payload. Existing keys
// are overwritten, other keys are kept. The payload map is replaced, not
// mutated, so payloads previously handed out are unaffected.
func (e *Entry) Update(values map[string]interface{}) {
	merged := copyPayload(e.Payload)
	for k, v := range values {
		merged[k] = v
	}
	e.Payload = merged
}

// URL returns the storage URL of a base entry, or "" if the entry has none
// (the file was deleted, or the entry is not from the base family).
func (e *Entry) URL() string {
	if u, ok := e.Payload[KeyURL].(string); ok {
		return u
	}
	return ""
}

// State returns the file lifecycle state recorded in a base entry.
func (e *Entry) State() FileState {
	if s, ok := e.Payload[KeyState].(string); ok {
		return FileState(s)
	}
	return ""
}

func copyPayload(p map[string]interface{}) map[string]interface{} {
	c := make(map[string]interface{}, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// A Workspace is a named, user-owned session over the global metadata
// history. SnapshotID is the highest global entry identifier visible to the
// workspace; entries committed later are invisible to it. Families holds
// the workspace-local family shadows, keyed by name. The declared family
// set is fixed at creation.
type Workspace struct {
	ID           int64
	Name         string
	Owner        string
	Description  string
	State        WorkspaceState
	DataLocation string
	Temporary    bool
	CreatedAt    time.Time
	SnapshotID   int64
	Families     map[string]*Family
}

// CanChangeMetadata reports whether metadata-changing operations are legal
// in the workspace's current state.
func (w *Workspace) CanChangeMetadata() bool {
	return w.State == StateReady
}

// clone returns a copy safe to hand outside the registry lock.
func (w *Workspace) clone() *Workspace {
	c := *w
	c.Families = make(map[string]*Family, len(w.Families))
	for name, f := range w.Families {
		fc := *f
		c.Families[name] = &fc
	}
	return &c
}

func cloneEntry(e *Entry) *Entry {
	c := *e
	c.Payload = copyPayload(e.Payload)
	return &c
}
