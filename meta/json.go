package meta

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
)

// Registry state is persisted as three kinds of JSON records in the KV:
//
//	state        counters and the global family index
//	ws-<id>      one workspace with its local entries, keyed by family name
//	file-<uuid>  the committed entry history of one file
//
// Records are rewritten whole on every change. The save helpers log and
// carry on when the KV misbehaves; the in-memory state stays authoritative
// for the life of the process.

type stateRecord struct {
	NextWorkspace int64
	NextFamily    int64
	NextEntry     int64
	Families      map[string]*Family
}

type workspaceRecord struct {
	Workspace *Workspace
	Entries   map[string][]*Entry
}

func (r *Registry) saveState() {
	rec := stateRecord{
		NextWorkspace: r.nextWorkspace,
		NextFamily:    r.nextFamily,
		NextEntry:     r.nextEntry,
		Families:      r.globalFamilies,
	}
	r.saveRecord("state", rec)
}

func (r *Registry) saveWorkspace(ws *Workspace) {
	rec := workspaceRecord{
		Workspace: ws,
		Entries:   make(map[string][]*Entry),
	}
	for name, fam := range ws.Families {
		var all []*Entry
		for _, list := range r.localEntries[fam.ID] {
			all = append(all, list...)
		}
		if len(all) > 0 {
			rec.Entries[name] = all
		}
	}
	r.saveRecord(fmt.Sprintf("ws-%d", ws.ID), rec)
}

func (r *Registry) saveFile(fileID uuid.UUID) {
	rec := &FileRecord{
		ID:      fileID,
		Entries: r.globalEntries[fileID],
	}
	if r.cache != nil {
		r.cache.Set(fileID, rec)
	}
	r.saveRecord("file-"+fileID.String(), rec)
}

func (r *Registry) saveRecord(key string, rec interface{}) {
	if r.kv == nil {
		return
	}
	w, err := r.kv.Create(key)
	if err != nil {
		log.Printf("registry: cannot save %s: %s", key, err)
		return
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	err = enc.Encode(rec)
	if err2 := w.Close(); err == nil {
		err = err2
	}
	if err != nil {
		log.Printf("registry: cannot save %s: %s", key, err)
	}
}

// Load reads every record in the KV into memory. Call it once, before the
// registry is shared.
func (r *Registry) Load() error {
	if r.kv == nil {
		return nil
	}
	keys, err := r.kv.List()
	if err != nil {
		return err
	}
	for _, key := range keys {
		switch {
		case key == "state":
			var rec stateRecord
			if err := r.loadRecord(key, &rec); err != nil {
				return err
			}
			r.nextWorkspace = rec.NextWorkspace
			r.nextFamily = rec.NextFamily
			r.nextEntry = rec.NextEntry
			if rec.Families != nil {
				r.globalFamilies = rec.Families
			}
		case strings.HasPrefix(key, "ws-"):
			var rec workspaceRecord
			if err := r.loadRecord(key, &rec); err != nil {
				return err
			}
			if rec.Workspace == nil {
				continue
			}
			ws := rec.Workspace
			if ws.Families == nil {
				ws.Families = make(map[string]*Family)
			}
			r.workspaces[ws.ID] = ws
			for name, entries := range rec.Entries {
				fam := ws.Families[name]
				if fam == nil {
					continue
				}
				byFile := make(map[uuid.UUID][]*Entry)
				for _, e := range entries {
					byFile[e.FileID] = append(byFile[e.FileID], e)
				}
				r.localEntries[fam.ID] = byFile
			}
		case strings.HasPrefix(key, "file-"):
			var rec FileRecord
			if err := r.loadRecord(key, &rec); err != nil {
				return err
			}
			if rec.Entries != nil {
				r.globalEntries[rec.ID] = rec.Entries
			}
		}
	}
	return nil
}

func (r *Registry) loadRecord(key string, rec interface{}) error {
	rd, err := r.kv.Open(key)
	if err != nil {
		return err
	}
	err = json.NewDecoder(rd).Decode(rec)
	rd.Close()
	return err
}
