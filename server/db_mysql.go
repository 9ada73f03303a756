package server

import (
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/BurntSushi/migration"
	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/motmot-data/motmot/meta"
)

// This file implements the committed entry cache using MySQL as the
// backing store.

type msqlCache struct {
	db *sql.DB
}

var _ meta.EntryCache = &msqlCache{}

// List of migrations to perform. Add new ones to the end.
// DO NOT change the order of items already in this list.
var mysqlMigrations = []migration.Migrator{
	mysqlschema1,
}

// Adapt the schema versioning for MySQL

var mysqlVersioning = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version (version, applied) VALUES (?, now())`,
	CreateSQL: `CREATE TABLE migration_version (version INTEGER, applied datetime)`,
}

// NewMysqlCache connects to a MySQL database and returns an EntryCache
// keeping committed file records there.
func NewMysqlCache(dial string) (*msqlCache, error) {
	db, err := migration.OpenWith(
		"mysql",
		dial,
		mysqlMigrations,
		mysqlVersioning.Get,
		mysqlVersioning.Set)
	if err != nil {
		log.Printf("Open Mysql: %s", err.Error())
		return nil, err
	}
	return &msqlCache{db: db}, nil
}

func (ms *msqlCache) Lookup(id uuid.UUID) *meta.FileRecord {
	const dbLookup = `SELECT value FROM files WHERE file = ? LIMIT 1`

	var value string
	err := ms.db.QueryRow(dbLookup, id.String()).Scan(&value)
	if err != nil {
		if err != sql.ErrNoRows {
			// some kind of error...treat it as a miss
			log.Printf("Entry Cache: %s", err.Error())
		}
		return nil
	}
	var rec = new(meta.FileRecord)
	err = json.Unmarshal([]byte(value), rec)
	if err != nil {
		log.Printf("Entry Cache: error in lookup: %s", err.Error())
		return nil
	}
	return rec
}

func (ms *msqlCache) Set(id uuid.UUID, rec *meta.FileRecord) {
	value, err := json.Marshal(rec)
	if err != nil {
		log.Printf("Entry Cache: %s", err.Error())
		return
	}
	var count int
	for _, list := range rec.Entries {
		count += len(list)
	}
	const stmt = `INSERT INTO files (file, modified, entries, value) VALUES (?, ?, ?, ?) ON DUPLICATE KEY UPDATE modified=?, entries=?, value=?`
	now := time.Now()
	_, err = ms.db.Exec(stmt, id.String(), now, count, value, now, count, value)
	if err != nil {
		log.Printf("Entry Cache: %s", err.Error())
	}
}

// database migrations. each one is a go function. Add them to the
// list mysqlMigrations at top of this file for them to be run.

func mysqlschema1(tx migration.LimitedTx) error {
	var s = []string{
		`CREATE TABLE IF NOT EXISTS files (
		id int PRIMARY KEY AUTO_INCREMENT,
		file varchar(64),
		modified datetime,
		entries int,
		value longtext,
		UNIQUE INDEX files_file (file))`,
	}
	return execlist(tx, s)
}

// execlist exec's each item in the list, return if there is an error.
// Used to work around mysql driver not handling compound exec statements.
func execlist(tx migration.LimitedTx, stms []string) error {
	var err error
	for _, s := range stms {
		_, err = tx.Exec(s)
		if err != nil {
			break
		}
	}
	return err
}
