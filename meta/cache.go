package meta

import "github.com/google/uuid"

// FileRecord holds the committed metadata history of one file, keyed by
// family name with entries in ascending id order.
type FileRecord struct {
	ID      uuid.UUID
	Entries map[string][]*Entry
}

// EntryCache is a cache of committed file records, usually backed by a
// database. Lookup returns nil on a miss. Implementations must be safe for
// concurrent use.
type EntryCache interface {
	Lookup(id uuid.UUID) *FileRecord
	Set(id uuid.UUID, rec *FileRecord)
}
