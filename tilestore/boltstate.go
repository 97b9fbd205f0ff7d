package tilestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/pdok/terrapack/morton"
	"github.com/pdok/terrapack/tilekey"
)

var (
	statesBucket = []byte("states")
	etagsBucket  = []byte("etags")
)

// BoltStateStore keeps states in a bbolt file, one bucket for statuses and one for etags.
// Keys are the Z-order of (lat+90, lon+180), big endian, so neighbouring tiles sit close together.
type BoltStateStore struct {
	db *bolt.DB
}

func OpenBoltStateStore(path string) (*BoltStateStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := openBoltRecovering(path, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{statesBucket, etagsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStateStore{db: db}, nil
}

// openBoltRecovering moves an unreadable file aside and starts over with an empty one.
func openBoltRecovering(path string, opts *bolt.Options) (*bolt.DB, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return bolt.Open(path, 0o600, opts)
	}
	db, err := bolt.Open(path, 0o600, opts)
	if err == nil {
		return db, nil
	}
	if errors.Is(err, bolt.ErrTimeout) {
		return nil, fmt.Errorf("state file %s is locked by another process: %w", path, err)
	}
	backup := path + ".corrupt." + time.Now().Format("20060102_150405")
	log.Printf("state file %s unreadable (%v), moving it to %s", path, err, backup)
	if err = os.Rename(path, backup); err != nil {
		return nil, err
	}
	return bolt.Open(path, 0o600, opts)
}

func boltKey(key tilekey.Key) ([]byte, error) {
	lat, lon, err := key.LatLon()
	if err != nil {
		return nil, err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], morton.ToZ(uint32(lat+90), uint32(lon+180)))
	return buf[:], nil
}

func keyFromBolt(b []byte) tilekey.Key {
	x, y := morton.FromZ(binary.BigEndian.Uint64(b))
	return tilekey.FromDegrees(int(x)-90, int(y)-180)
}

func (s *BoltStateStore) Get(key tilekey.Key) (State, bool, error) {
	k, err := boltKey(key)
	if err != nil {
		return State{}, false, err
	}
	var state State
	var found bool
	err = s.db.View(func(tx *bolt.Tx) error {
		state.ETag = string(tx.Bucket(etagsBucket).Get(k))
		v := tx.Bucket(statesBucket).Get(k)
		if v == nil {
			return nil
		}
		found = true
		state.Status = Status(binary.BigEndian.Uint16(v))
		return nil
	})
	return state, found, err
}

func (s *BoltStateStore) Put(key tilekey.Key, state State) error {
	k, err := boltKey(key)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		var v [2]byte
		binary.BigEndian.PutUint16(v[:], uint16(state.Status))
		if err := tx.Bucket(statesBucket).Put(k, v[:]); err != nil {
			return err
		}
		if state.ETag == "" {
			return nil
		}
		return tx.Bucket(etagsBucket).Put(k, []byte(state.ETag))
	})
}

func (s *BoltStateStore) Delete(keys ...tilekey.Key) (int, error) {
	n := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		states := tx.Bucket(statesBucket)
		for _, key := range keys {
			k, err := boltKey(key)
			if err != nil {
				return err
			}
			if states.Get(k) != nil {
				n++
			}
			if err = states.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *BoltStateStore) All() (map[tilekey.Key]State, error) {
	all := map[tilekey.Key]State{}
	err := s.db.View(func(tx *bolt.Tx) error {
		etags := tx.Bucket(etagsBucket)
		return tx.Bucket(statesBucket).ForEach(func(k, v []byte) error {
			all[keyFromBolt(k)] = State{
				Status: Status(binary.BigEndian.Uint16(v)),
				ETag:   string(etags.Get(k)),
			}
			return nil
		})
	})
	return all, err
}

func (s *BoltStateStore) Close() error {
	return s.db.Close()
}
