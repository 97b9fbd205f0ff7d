package tilestore

import (
	"fmt"

	"github.com/pdok/terrapack/tilekey"
)

// Status is the pseudo HTTP status recorded for a tile.
type Status int

const (
	StatusUnknown        Status = 0
	StatusSuccess        Status = 200
	StatusNotFound       Status = 404
	StatusGatewayTimeout Status = 504
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusSuccess:
		return "success"
	case StatusNotFound:
		return "not-found"
	case StatusGatewayTimeout:
		return "gateway-timeout"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// State is the persisted download state of one tile.
type State struct {
	Status Status
	ETag   string
}

// StateStore persists tile states. Implementations serialize their writes,
// so concurrent fetches never lose each other's updates.
type StateStore interface {
	// Get returns the state of key and whether a status was recorded. The ETag of the
	// last download is returned even when the status has since been deleted.
	Get(key tilekey.Key) (State, bool, error)
	// Put records the status of key. An empty ETag keeps the one already recorded.
	Put(key tilekey.Key, state State) error
	// Delete removes the recorded statuses of keys and reports how many were present.
	// ETags are kept.
	Delete(keys ...tilekey.Key) (int, error)
	// All returns every key with a recorded status.
	All() (map[tilekey.Key]State, error)
	Close() error
}

type Backend string

const (
	BackendJSON   Backend = "json"
	BackendBolt   Backend = "bbolt"
	BackendSQLite Backend = "sqlite"
)

// OpenStateStore opens the state store of the given backend at path.
func OpenStateStore(backend Backend, path string) (StateStore, error) {
	switch backend {
	case BackendJSON, "":
		return OpenFileStateStore(path)
	case BackendBolt:
		return OpenBoltStateStore(path)
	case BackendSQLite:
		return OpenSQLiteStateStore(path)
	}
	return nil, fmt.Errorf("unknown state backend %q, want one of json, bbolt, sqlite", backend)
}
