package tilestore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdok/terrapack/tilekey"
)

// SQLiteStateStore keeps states in a single table of an sqlite database.
type SQLiteStateStore struct {
	db *sql.DB
	mu sync.Mutex
}

func OpenSQLiteStateStore(path string) (*SQLiteStateStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=2000&mode=rwc")
	if err != nil {
		return nil, err
	}
	// writes go through one connection
	db.SetMaxOpenConns(1)
	if _, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS tile_state (
			tile_key TEXT PRIMARY KEY,
			status   INTEGER NULL,
			etag     TEXT NOT NULL DEFAULT ''
		);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not create state table in %s: %w", path, err)
	}
	return &SQLiteStateStore{db: db}, nil
}

func (s *SQLiteStateStore) Get(key tilekey.Key) (State, bool, error) {
	var state State
	var status sql.NullInt64
	row := s.db.QueryRow(`SELECT status, etag FROM tile_state WHERE tile_key = ?`, string(key))
	err := row.Scan(&status, &state.ETag)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	state.Status = Status(status.Int64)
	return state, status.Valid, nil
}

func (s *SQLiteStateStore) Put(key tilekey.Key, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO tile_state (tile_key, status, etag) VALUES (?, ?, ?)
		ON CONFLICT(tile_key) DO UPDATE SET
			status = excluded.status,
			etag = CASE WHEN excluded.etag = '' THEN tile_state.etag ELSE excluded.etag END`,
		string(key), int(state.Status), state.ETag)
	return err
}

func (s *SQLiteStateStore) Delete(keys ...tilekey.Key) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	stmt, err := tx.Prepare(`UPDATE tile_state SET status = NULL WHERE tile_key = ? AND status IS NOT NULL`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	var n int64
	for _, key := range keys {
		res, err := stmt.Exec(string(key))
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		n += affected
	}
	return int(n), tx.Commit()
}

func (s *SQLiteStateStore) All() (map[tilekey.Key]State, error) {
	rows, err := s.db.Query(`SELECT tile_key, status, etag FROM tile_state WHERE status IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	all := map[tilekey.Key]State{}
	for rows.Next() {
		var k string
		var state State
		if err = rows.Scan(&k, &state.Status, &state.ETag); err != nil {
			return nil, err
		}
		all[tilekey.Key(k)] = state
	}
	return all, rows.Err()
}

func (s *SQLiteStateStore) Close() error {
	return s.db.Close()
}
