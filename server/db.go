package server

import (
	"log"

	"github.com/BurntSushi/migration"
)

// The migration package assumes it can create its version table with one
// fixed piece of SQL, which MySQL and QL disagree on. dbVersion carries the
// three statements a given database needs, and adapts them to the
// migration.GetVersion and migration.SetVersion hooks.

type dbVersion struct {
	// SQL returning the current version, one row and one column
	GetSQL string
	// SQL recording a new version, takes the version as its parameter
	SetSQL string
	// SQL creating the version table
	CreateSQL string
}

func (d dbVersion) Get(tx migration.LimitedTx) (int, error) {
	v, err := d.get(tx)
	if err != nil {
		// assume an error means the version table is missing
		log.Println(err.Error())
		return 0, nil
	}
	return v, nil
}

func (d dbVersion) Set(tx migration.LimitedTx, version int) error {
	err := d.set(tx, version)
	if err == nil {
		return nil
	}
	if err := d.createTable(tx); err != nil {
		return err
	}
	return d.set(tx, version)
}

func (d dbVersion) get(tx migration.LimitedTx) (int, error) {
	var version int
	err := tx.QueryRow(d.GetSQL).Scan(&version)
	return version, err
}

func (d dbVersion) set(tx migration.LimitedTx, version int) error {
	_, err := tx.Exec(d.SetSQL, version)
	return err
}

func (d dbVersion) createTable(tx migration.LimitedTx) error {
	_, err := tx.Exec(d.CreateSQL)
	if err == nil {
		err = d.set(tx, 0)
	}
	return err
}
