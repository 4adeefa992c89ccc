package logstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	_ "modernc.org/sqlite"

	"github.com/c360/takstreams/errors"
)

const schema = `CREATE TABLE IF NOT EXISTS feature_log (
	layer      INTEGER NOT NULL,
	id         TEXT    NOT NULL,
	type       TEXT    NOT NULL,
	properties TEXT    NOT NULL,
	geometry   TEXT,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (layer, id)
)`

// SQLiteStore keeps the latest snapshot per (layer, id) in a SQLite table
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path. ":memory:" is accepted for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.Validation("SQLiteStore", "OpenSQLite", "storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.WrapFatal(err, "SQLiteStore", "OpenSQLite", "open sqlite db")
	}
	// One connection keeps an in-memory database shared across calls
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.WrapFatal(err, "SQLiteStore", "OpenSQLite", "ping sqlite db")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.WrapFatal(err, "SQLiteStore", "OpenSQLite", "create schema")
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database handle
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put upserts the batch in one transaction
func (s *SQLiteStore) Put(ctx context.Context, items []Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapTransient(err, "SQLiteStore", "Put", "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO feature_log (layer, id, type, properties, geometry, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (layer, id) DO UPDATE SET
			type = excluded.type,
			properties = excluded.properties,
			geometry = excluded.geometry,
			updated_at = excluded.updated_at`)
	if err != nil {
		return errors.WrapTransient(err, "SQLiteStore", "Put", "prepare upsert")
	}
	defer stmt.Close()

	now := time.Now().UTC().UnixMilli()
	for _, item := range items {
		props, err := json.Marshal(item.Properties)
		if err != nil {
			return errors.WrapInvalid(err, "SQLiteStore", "Put", "encode properties of "+item.ID)
		}
		var geom any
		if item.Geometry != nil {
			raw, err := json.Marshal(item.Geometry)
			if err != nil {
				return errors.WrapInvalid(err, "SQLiteStore", "Put", "encode geometry of "+item.ID)
			}
			geom = string(raw)
		}
		if _, err := stmt.ExecContext(ctx, item.Layer, item.ID, item.Type, string(props), geom, now); err != nil {
			return errors.WrapTransient(err, "SQLiteStore", "Put", fmt.Sprintf("upsert %d/%s", item.Layer, item.ID))
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapTransient(err, "SQLiteStore", "Put", "commit")
	}
	return nil
}

// Get reads back a single item
func (s *SQLiteStore) Get(ctx context.Context, layer int64, id string) (Item, error) {
	item := Item{Layer: layer, ID: id}
	var props string
	var geom sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT type, properties, geometry FROM feature_log WHERE layer = ? AND id = ?`,
		layer, id).Scan(&item.Type, &props, &geom)
	if err == sql.ErrNoRows {
		return item, errors.WrapInvalid(errors.ErrKeyNotFound, "SQLiteStore", "Get", "lookup item")
	}
	if err != nil {
		return item, errors.WrapTransient(err, "SQLiteStore", "Get", "query item")
	}

	if err := json.Unmarshal([]byte(props), &item.Properties); err != nil {
		return item, errors.WrapInvalid(err, "SQLiteStore", "Get", "decode properties")
	}
	if geom.Valid {
		g := &geojson.Geometry{}
		if err := json.Unmarshal([]byte(geom.String), g); err != nil {
			return item, errors.WrapInvalid(err, "SQLiteStore", "Get", "decode geometry")
		}
		item.Geometry = g
	}
	return item, nil
}

// Count returns the number of stored items for a layer
func (s *SQLiteStore) Count(ctx context.Context, layer int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feature_log WHERE layer = ?`, layer).Scan(&n)
	if err != nil {
		return 0, errors.WrapTransient(err, "SQLiteStore", "Count", "count items")
	}
	return n, nil
}
