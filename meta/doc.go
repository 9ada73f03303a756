/*
Package meta implements the core of the metadata versioning service: the
workspace state machine, the copy-on-write metadata model, and the commit
engine that promotes workspace changes into the shared global history.

Metadata is organized into families, which are named schemas holding one
JSON payload per file. The global history of a family is append-only: a
committed entry is never edited, and a logical update is a new entry. A
workspace shadows the global families it declared at creation and
accumulates local entries on top of the snapshot it was created from.
Committing a workspace checks the declared file+family pairs for concurrent
upstream changes, and either promotes every local entry at once or rejects
the whole commit with the set of conflicts.

The Registry is the single authority for workspaces, families, and entries.
It keeps everything in memory, persists JSON records through a store.KV,
and optionally mirrors committed entries into an EntryCache backed by a
SQL database.
*/
package meta
