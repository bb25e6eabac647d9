package model

import (
	"time"
)

// DBPackage represents a package record in the database
type DBPackage struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	Document  []byte    `db:"document"`
	Versions  int       `db:"versions"`
	Latest    string    `db:"latest"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// DBSyncRun records one import of the package storage directory
type DBSyncRun struct {
	ID         int64     `db:"id"`
	Generation int64     `db:"generation"`
	Imported   int       `db:"imported"`
	Removed    int       `db:"removed"`
	CommitHash string    `db:"commit_hash"`
	FinishedAt time.Time `db:"finished_at"`
}

// Schema contains the SQL schema for the database
const Schema = `
CREATE TABLE IF NOT EXISTS packages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    document BLOB NOT NULL,
    versions INTEGER NOT NULL DEFAULT 0,
    latest TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sync_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    generation INTEGER NOT NULL,
    imported INTEGER NOT NULL DEFAULT 0,
    removed INTEGER NOT NULL DEFAULT 0,
    commit_hash TEXT NOT NULL DEFAULT '',
    finished_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_packages_name ON packages(name);
`
