package tilestore

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdok/terrapack/tilekey"
)

var backends = []struct {
	backend Backend
	file    string
}{
	{backend: BackendJSON, file: "meta.json"},
	{backend: BackendBolt, file: "meta.bbolt"},
	{backend: BackendSQLite, file: "meta.sqlite"},
}

func TestStateStoreBackends(t *testing.T) {
	for _, b := range backends {
		t.Run(string(b.backend), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state", b.file)
			store, err := OpenStateStore(b.backend, path)
			require.NoError(t, err)

			_, recorded, err := store.Get("N052E005")
			require.NoError(t, err)
			assert.False(t, recorded)

			require.NoError(t, store.Put("N052E005", State{Status: StatusSuccess, ETag: "e1"}))
			require.NoError(t, store.Put("S085W180", State{Status: StatusNotFound}))
			require.NoError(t, store.Put("N089E179", State{Status: StatusGatewayTimeout}))
			// an empty etag keeps the recorded one
			require.NoError(t, store.Put("N052E005", State{Status: StatusSuccess}))

			state, recorded, err := store.Get("N052E005")
			require.NoError(t, err)
			assert.True(t, recorded)
			assert.Equal(t, State{Status: StatusSuccess, ETag: "e1"}, state)
			require.NoError(t, store.Close())

			store, err = OpenStateStore(b.backend, path)
			require.NoError(t, err)
			defer store.Close()
			all, err := store.All()
			require.NoError(t, err)
			assert.Equal(t, map[tilekey.Key]State{
				"N052E005": {Status: StatusSuccess, ETag: "e1"},
				"S085W180": {Status: StatusNotFound},
				"N089E179": {Status: StatusGatewayTimeout},
			}, all)

			n, err := store.Delete("N052E005", "S085W180", "N000E000")
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			state, recorded, err = store.Get("N052E005")
			require.NoError(t, err)
			assert.False(t, recorded)
			assert.Equal(t, "e1", state.ETag)
			all, err = store.All()
			require.NoError(t, err)
			assert.Equal(t, map[tilekey.Key]State{"N089E179": {Status: StatusGatewayTimeout}}, all)
		})
	}
}

func TestOpenStateStoreUnknownBackend(t *testing.T) {
	_, err := OpenStateStore("redis", filepath.Join(t.TempDir(), "x"))
	assert.ErrorContains(t, err, "unknown state backend")
}

func TestFileStateStoreFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"states": {"N039W001": 404},
		"etags": {"N039W001": "\"old\""},
		"comment": "kept as is"
	}`), 0o644))

	store, err := OpenFileStateStore(path)
	require.NoError(t, err)
	state, recorded, err := store.Get("N039W001")
	require.NoError(t, err)
	assert.True(t, recorded)
	assert.Equal(t, State{Status: StatusNotFound, ETag: `"old"`}, state)

	require.NoError(t, store.Put("S085W180", State{Status: StatusSuccess, ETag: "new"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "kept as is", doc["comment"])
	assert.Equal(t, map[string]interface{}{"N039W001": float64(404), "S085W180": float64(200)}, doc["states"])
	assert.Equal(t, map[string]interface{}{"N039W001": `"old"`, "S085W180": "new"}, doc["etags"])
}

func TestFileStateStoreFailedWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	store, err := OpenFileStateStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Put("N039W001", State{Status: StatusGatewayTimeout, ETag: "a"}))

	// a directory in place of the temp file makes every save fail
	require.NoError(t, os.Mkdir(path+".tmp", 0o755))

	assert.Error(t, store.Put("N039W001", State{Status: StatusSuccess, ETag: "b"}))
	state, recorded, err := store.Get("N039W001")
	require.NoError(t, err)
	assert.True(t, recorded)
	assert.Equal(t, State{Status: StatusGatewayTimeout, ETag: "a"}, state)

	assert.Error(t, store.Put("S085W180", State{Status: StatusSuccess, ETag: "c"}))
	state, recorded, err = store.Get("S085W180")
	require.NoError(t, err)
	assert.False(t, recorded)
	assert.Equal(t, State{}, state)

	n, err := store.Delete("N039W001")
	assert.Error(t, err)
	assert.Zero(t, n)
	_, recorded, err = store.Get("N039W001")
	require.NoError(t, err)
	assert.True(t, recorded)

	require.NoError(t, os.Remove(path+".tmp"))
	reopened, err := OpenFileStateStore(path)
	require.NoError(t, err)
	all, err := reopened.All()
	require.NoError(t, err)
	assert.Equal(t, map[tilekey.Key]State{"N039W001": {Status: StatusGatewayTimeout, ETag: "a"}}, all)
}

func TestBoltKeyRoundTrip(t *testing.T) {
	for _, k := range []tilekey.Key{"S090W180", "N089E179", "N000E000", "S001W001", "N052E005"} {
		b, err := boltKey(k)
		require.NoError(t, err)
		assert.Equal(t, k, keyFromBolt(b))
	}
	_, err := boltKey("nope")
	assert.Error(t, err)
}

func TestOpenBoltStateStoreRecoversCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meta.bbolt")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("garbage!"), 1024), 0o600))

	store, err := OpenBoltStateStore(path)
	require.NoError(t, err)
	defer store.Close()
	all, err := store.All()
	require.NoError(t, err)
	assert.Empty(t, all)

	backups, err := filepath.Glob(path + ".corrupt.*")
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestSummarize(t *testing.T) {
	store, err := OpenFileStateStore(filepath.Join(t.TempDir(), "meta.json"))
	require.NoError(t, err)
	for k, st := range map[tilekey.Key]Status{
		"N001E001": StatusSuccess,
		"N002E002": StatusSuccess,
		"S010W010": StatusGatewayTimeout,
		"N010E010": StatusNotFound,
		"N005E005": StatusNotFound,
	} {
		require.NoError(t, store.Put(k, State{Status: st}))
	}
	summary, err := Summarize(store)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, map[Status]int{StatusSuccess: 2, StatusNotFound: 2, StatusGatewayTimeout: 1}, summary.Counts)
	assert.Equal(t, []Entry{
		{Key: "N005E005", Status: StatusNotFound},
		{Key: "N010E010", Status: StatusNotFound},
		{Key: "S010W010", Status: StatusGatewayTimeout},
	}, summary.Failed)
}
