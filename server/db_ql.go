package server

import (
	"database/sql"
	"encoding/json"
	"log"
	"time"

	_ "github.com/cznic/ql/driver"
	"github.com/google/uuid"

	"github.com/motmot-data/motmot/meta"
)

// This file implements the committed entry cache using the QL embedded
// database. It is intended for development and small installations.

type qlCache struct {
	db *sql.DB
}

var _ meta.EntryCache = &qlCache{}

const qlFilesInit = `
	CREATE TABLE IF NOT EXISTS files (
		file string,
		modified time,
		entries int,
		value blob
	);
	CREATE INDEX IF NOT EXISTS filesfile ON files (file);
	CREATE INDEX IF NOT EXISTS filesmodified ON files (modified);
`

// NewQlCache makes a QL backed entry cache. filename is the name of the
// file to save the database to. The filename "memory" means to keep
// everything in memory.
func NewQlCache(filename string) *qlCache {
	var db *sql.DB
	var err error
	if filename == "memory" {
		db, err = sql.Open("ql-mem", "mem.db")
	} else {
		db, err = sql.Open("ql", filename)
	}
	if err == nil {
		_, err = performExec(db, qlFilesInit)
	}
	if err != nil {
		log.Printf("Open QL: %s", err.Error())
		return nil
	}
	return &qlCache{db: db}
}

func (qc *qlCache) Lookup(id uuid.UUID) *meta.FileRecord {
	const dbLookup = `SELECT value FROM files WHERE file == ?1 LIMIT 1`

	var value string
	err := qc.db.QueryRow(dbLookup, id.String()).Scan(&value)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("Entry Cache QL: %s", err.Error())
		}
		return nil
	}
	var rec = new(meta.FileRecord)
	err = json.Unmarshal([]byte(value), rec)
	if err != nil {
		return nil
	}
	return rec
}

func (qc *qlCache) Set(id uuid.UUID, rec *meta.FileRecord) {
	const dbUpdate = `UPDATE files SET modified = ?2, entries = ?3, value = ?4 WHERE file == ?1`
	const dbInsert = `INSERT INTO files VALUES (?1, ?2, ?3, ?4)`
	var count int
	for _, list := range rec.Entries {
		count += len(list)
	}
	value, err := json.Marshal(rec)
	if err != nil {
		log.Printf("Entry Cache QL: %s", err.Error())
		return
	}
	result, err := performExec(qc.db, dbUpdate, id.String(), time.Now(), count, value)
	if err != nil {
		log.Printf("Entry Cache QL: %s", err.Error())
		return
	}
	nrows, err := result.RowsAffected()
	if err != nil {
		log.Printf("Entry Cache QL: %s", err.Error())
		return
	}
	if nrows == 0 {
		// record didn't exist. create it
		_, err = performExec(qc.db, dbInsert, id.String(), time.Now(), count, value)
		if err != nil {
			log.Printf("Entry Cache QL: %s", err.Error())
		}
	}
}

// performExec wraps the exec in a transaction, as QL requires.
func performExec(db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	var result sql.Result
	result, err = tx.Exec(query, args...)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	err = tx.Commit()
	return result, err
}
