package tilestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/perimeterx/marshmallow"

	"github.com/pdok/terrapack/tilekey"
)

type metaFile struct {
	States map[string]int    `json:"states"`
	ETags  map[string]string `json:"etags"`
}

// FileStateStore keeps all states in one JSON document of the form
// {"states": {key: status}, "etags": {key: etag}}, rewritten in full on every update.
// Top level keys it does not know are kept as they were.
type FileStateStore struct {
	path   string
	mu     sync.Mutex
	meta   metaFile
	extras map[string]interface{}
}

func OpenFileStateStore(path string) (*FileStateStore, error) {
	s := &FileStateStore{
		path:   path,
		meta:   metaFile{States: map[string]int{}, ETags: map[string]string{}},
		extras: map[string]interface{}{},
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return s, nil
	}
	extras, err := marshmallow.Unmarshal(data, &s.meta, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return nil, fmt.Errorf("could not read state file %s: %w", path, err)
	}
	if s.meta.States == nil {
		s.meta.States = map[string]int{}
	}
	if s.meta.ETags == nil {
		s.meta.ETags = map[string]string{}
	}
	if extras != nil {
		s.extras = extras
	}
	return s, nil
}

func (s *FileStateStore) Get(key tilekey.Key) (State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.meta.States[string(key)]
	return State{Status: Status(status), ETag: s.meta.ETags[string(key)]}, ok, nil
}

func (s *FileStateStore) Put(key tilekey.Key, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := string(key)
	oldStatus, hadStatus := s.meta.States[k]
	oldETag, hadETag := s.meta.ETags[k]
	s.meta.States[k] = int(state.Status)
	if state.ETag != "" {
		s.meta.ETags[k] = state.ETag
	}
	if err := s.save(); err != nil {
		// keep memory in line with the file
		restore(s.meta.States, k, oldStatus, hadStatus)
		restore(s.meta.ETags, k, oldETag, hadETag)
		return err
	}
	return nil
}

func restore[V any](m map[string]V, k string, v V, had bool) {
	if had {
		m[k] = v
	} else {
		delete(m, k)
	}
}

func (s *FileStateStore) Delete(keys ...tilekey.Key) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := map[string]int{}
	for _, key := range keys {
		if status, ok := s.meta.States[string(key)]; ok {
			removed[string(key)] = status
		}
		delete(s.meta.States, string(key))
	}
	if len(removed) == 0 {
		return 0, nil
	}
	if err := s.save(); err != nil {
		for k, status := range removed {
			s.meta.States[k] = status
		}
		return 0, err
	}
	return len(removed), nil
}

func (s *FileStateStore) All() (map[tilekey.Key]State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make(map[tilekey.Key]State, len(s.meta.States))
	for k, status := range s.meta.States {
		all[tilekey.Key(k)] = State{Status: Status(status), ETag: s.meta.ETags[k]}
	}
	return all, nil
}

func (s *FileStateStore) Close() error {
	return nil
}

// save must be called with mu held.
func (s *FileStateStore) save() error {
	doc := make(map[string]interface{}, len(s.extras)+2)
	for k, v := range s.extras {
		doc[k] = v
	}
	doc["states"] = s.meta.States
	doc["etags"] = s.meta.ETags
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err = os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
