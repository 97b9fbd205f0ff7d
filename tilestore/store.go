// Package tilestore downloads the source archive of a tile once and keeps a durable record
// of the outcome, so that a batch can be re-run without hitting the remote source again.
package tilestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/muesli/reflow/truncate"

	"github.com/pdok/terrapack/tilekey"
)

const (
	// archives start with a zip local file header
	archiveSignature = "PK"

	bodySnippetBytes = 512
	bodySnippetWidth = 120
)

// Doer performs one HTTP request. *http.Client implements it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config describes the remote source.
type Config struct {
	// {region} and {tile} are replaced by the region key and the tile key
	URLTemplate string        `default:"https://www.eorc.jaxa.jp/ALOS/aw3d30/data/release_v2012/{region}/{tile}.zip" validate:"required,contains={tile}" yaml:"urlTemplate" toml:"urlTemplate"`
	ContentType string        `default:"application/zip" validate:"required" yaml:"contentType" toml:"contentType"`
	MovedMarker string        `default:"ALOS/url_change_info.htm" yaml:"movedMarker" toml:"movedMarker"`
	Timeout     time.Duration `default:"60s" validate:"gt=0" yaml:"timeout" toml:"timeout"`
	SectorSize  int           `default:"5" validate:"min=1,max=90" yaml:"sectorSize" toml:"sectorSize"`
	Username    string        `yaml:"username" toml:"username"`
	Password    string        `yaml:"password" toml:"password"`
}

// ProtocolViolationError is returned when the source answers with something that is neither
// an archive nor a known moved page. The tile state is left untouched.
type ProtocolViolationError struct {
	Key         tilekey.Key
	URL         string
	StatusCode  int
	ContentType string
	Body        string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("unexpected response for %s from %s: status %d, content type %q: %s",
		e.Key, e.URL, e.StatusCode, e.ContentType, e.Body)
}

// Store fetches archives into a directory and records the outcome per tile.
type Store struct {
	cfg    Config
	dir    string
	states StateStore
	client Doer
}

// NewHTTPClient returns a client that does not follow redirects.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// New returns a Store writing archives into dir. With a nil client, NewHTTPClient is used.
func New(cfg Config, dir string, states StateStore, client Doer) *Store {
	if cfg.SectorSize == 0 {
		cfg.SectorSize = tilekey.DefaultSectorSize
	}
	if client == nil {
		client = NewHTTPClient(cfg.Timeout)
	}
	return &Store{cfg: cfg, dir: dir, states: states, client: client}
}

// ArchivePath is where the archive of key is kept in dir.
func ArchivePath(dir string, key tilekey.Key) string {
	return filepath.Join(dir, key.String()+".zip")
}

func (s *Store) ArchivePath(key tilekey.Key) string {
	return ArchivePath(s.dir, key)
}

// URL returns the remote location of the archive of key.
func (s *Store) URL(key tilekey.Key) (string, error) {
	region, err := key.Region(s.cfg.SectorSize)
	if err != nil {
		return "", err
	}
	return strings.NewReplacer("{region}", region.String(), "{tile}", key.String()).Replace(s.cfg.URLTemplate), nil
}

// States exposes the underlying state store.
func (s *Store) States() StateStore {
	return s.states
}

// Forget deletes the recorded statuses of keys, so the next Fetch downloads them again.
func (s *Store) Forget(keys ...tilekey.Key) (int, error) {
	return s.states.Delete(keys...)
}

// Fetch makes sure the archive of key is available locally. It returns true when it is,
// false when the tile is recorded as not found or timed out. Only unexpected responses,
// transport and storage failures are returned as errors.
func (s *Store) Fetch(ctx context.Context, key tilekey.Key) (bool, error) {
	prev, recorded, err := s.states.Get(key)
	if err != nil {
		return false, fmt.Errorf("could not read state of %s: %w", key, err)
	}
	if recorded {
		return prev.Status == StatusSuccess, nil
	}

	path := s.ArchivePath(key)
	if ok, err := hasArchiveSignature(path); err != nil {
		return false, err
	} else if ok {
		log.Printf("  %s already on disk", key)
		return true, s.record(key, State{Status: StatusSuccess})
	}

	url, err := s.URL(key)
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", s.cfg.ContentType)
	if s.cfg.Username != "" {
		req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
	}
	log.Printf("  fetching %s from %s..", key, url)
	resp, err := s.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			log.Printf("  %s timed out", key)
			return false, s.record(key, State{Status: StatusGatewayTimeout})
		}
		return false, fmt.Errorf("could not fetch %s: %w", key, err)
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if !s.isArchive(contentType) {
		if s.isMoved(req, resp) {
			log.Printf("  %s not available at the source", key)
			return false, s.record(key, State{Status: StatusNotFound})
		}
		return false, s.violation(key, url, resp, contentType)
	}
	if resp.StatusCode != http.StatusOK {
		return false, s.violation(key, url, resp, contentType)
	}

	if err = writeArchive(path, resp.Body); err != nil {
		if isTimeout(err) {
			log.Printf("  %s timed out while reading", key)
			return false, s.record(key, State{Status: StatusGatewayTimeout})
		}
		return false, fmt.Errorf("could not store archive of %s: %w", key, err)
	}
	etag := resp.Header.Get("ETag")
	if etag != "" && etag == prev.ETag {
		log.Printf("  %s unchanged at the source (etag %s)", key, etag)
	}
	return true, s.record(key, State{Status: StatusSuccess, ETag: etag})
}

func (s *Store) record(key tilekey.Key, state State) error {
	if err := s.states.Put(key, state); err != nil {
		return fmt.Errorf("could not record %s as %s: %w", key, state.Status, err)
	}
	return nil
}

func (s *Store) isArchive(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.EqualFold(mediaType, s.cfg.ContentType)
}

// isMoved recognizes the source's answer for tiles it does not have: a redirect,
// or a landing page about a changed URL.
func (s *Store) isMoved(req *http.Request, resp *http.Response) bool {
	if resp.StatusCode == http.StatusFound {
		return true
	}
	if s.cfg.MovedMarker == "" {
		return false
	}
	if resp.Request != nil && resp.Request.URL != nil && strings.Contains(resp.Request.URL.String(), s.cfg.MovedMarker) {
		return true
	}
	return strings.Contains(req.URL.String(), s.cfg.MovedMarker) ||
		strings.Contains(resp.Header.Get("Location"), s.cfg.MovedMarker)
}

func (s *Store) violation(key tilekey.Key, url string, resp *http.Response, contentType string) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, bodySnippetBytes))
	body := strings.Join(strings.Fields(string(snippet)), " ")
	return &ProtocolViolationError{
		Key:         key,
		URL:         url,
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        truncate.StringWithTail(body, bodySnippetWidth, "..."),
	}
}

func hasArchiveSignature(path string) (bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()
	head := make([]byte, len(archiveSignature))
	if _, err = io.ReadFull(f, head); err != nil {
		return false, nil
	}
	return string(head) == archiveSignature, nil
}

func writeArchive(path string, body io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err = io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
