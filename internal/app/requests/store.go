// Package requests persists the listener request list and keeps it in sync
// with external edits of the request file.
package requests

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19radio/internal/app/filter"
	"github.com/osa030/19radio/internal/domain/track"
)

// Errors
var (
	ErrRejected = errors.New("request rejected")
	ErrNotFound = errors.New("request not found")
)

// RejectedError carries the filter code of a rejected request.
type RejectedError struct {
	Code string
}

func (e *RejectedError) Error() string {
	return "request rejected: " + e.Code
}

func rejected(code string) error {
	return errors.Mark(&RejectedError{Code: code}, ErrRejected)
}

// RejectionCode returns the filter code of a rejection, or "".
func RejectionCode(err error) string {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej.Code
	}
	return ""
}

// Admission decides whether a request may enter the list.
type Admission interface {
	Execute(ctx context.Context, req track.Request) filter.Result
}

// Store is the persisted, ordered list of pending requests.
type Store struct {
	path string

	mu          sync.RWMutex
	reqs        []track.Request
	lastWritten []byte

	admission Admission
	onChange  func()
}

// Open loads the request file at path, creating it when missing.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create request dir")
	}

	s := &Store{path: path}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, errors.Wrap(err, "failed to read request file")
	default:
		reqs, err := decode(data)
		if err != nil {
			return nil, err
		}
		s.reqs = reqs
		s.lastWritten = data
	}

	zlog.Info().Msgf("requests: loaded: path=%s count=%d", path, len(s.reqs))
	return s, nil
}

// SetAdmission installs the filter chain run by Add.
func (s *Store) SetAdmission(a Admission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admission = a
}

// OnChange registers fn to run after the list grows or is reloaded.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Path returns the request file path.
func (s *Store) Path() string {
	return s.path
}

// Add normalizes req, runs admission, then appends and persists it.
func (s *Store) Add(ctx context.Context, req track.Request) (track.Request, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return req, rejected("missing_fields")
	}

	s.mu.RLock()
	admission := s.admission
	s.mu.RUnlock()

	// Filters read the store, so they run outside the lock.
	if admission != nil {
		if result := admission.Execute(ctx, req); !result.Accepted {
			zlog.Info().Msgf("requests: rejected: title=%q url=%s code=%s", req.Title, req.URL, result.Code)
			return req, rejected(result.Code)
		}
	}

	s.mu.Lock()
	if s.containsLocked(req.URL) {
		s.mu.Unlock()
		return req, rejected("duplicate_request")
	}
	req.ID = uuid.New().String()
	if req.AddedAt.IsZero() {
		req.AddedAt = time.Now().UTC()
	}
	s.reqs = append(s.reqs, req)
	if err := s.persistLocked(); err != nil {
		s.reqs = s.reqs[:len(s.reqs)-1]
		s.mu.Unlock()
		return req, err
	}
	onChange := s.onChange
	s.mu.Unlock()

	zlog.Info().Msgf("requests: added: id=%s title=%q kind=%s by=%s", req.ID, req.Title, req.Kind, req.RequestedBy)
	if onChange != nil {
		onChange()
	}
	return req, nil
}

// Front returns the oldest pending request.
func (s *Store) Front() (track.Request, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.reqs) == 0 {
		return track.Request{}, false
	}
	return s.reqs[0], true
}

// Remove deletes the request with id and persists the list.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.reqs {
		if r.ID != id {
			continue
		}
		s.reqs = append(s.reqs[:i:i], s.reqs[i+1:]...)
		return s.persistLocked()
	}
	return errors.Wrapf(ErrNotFound, "id=%s", id)
}

// List returns a copy of the pending requests.
func (s *Store) List() []track.Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]track.Request(nil), s.reqs...)
}

// Len returns the number of pending requests.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reqs)
}

// Contains reports whether a request for url is pending.
func (s *Store) Contains(url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.containsLocked(url)
}

func (s *Store) containsLocked(url string) bool {
	url = strings.TrimSpace(url)
	for _, r := range s.reqs {
		if strings.EqualFold(r.URL, url) {
			return true
		}
	}
	return false
}

// Reload re-reads the request file. It reports false when the content is
// what this store last wrote or cannot be parsed.
func (s *Store) Reload() (bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false, errors.Wrap(err, "failed to read request file")
	}

	s.mu.Lock()
	if bytes.Equal(bytes.TrimSpace(data), bytes.TrimSpace(s.lastWritten)) {
		s.mu.Unlock()
		return false, nil
	}
	reqs, err := decode(data)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.reqs = reqs
	s.lastWritten = data
	onChange := s.onChange
	s.mu.Unlock()

	zlog.Info().Msgf("requests: reloaded: path=%s count=%d", s.path, len(reqs))
	if onChange != nil {
		onChange()
	}
	return true, nil
}

// Watch reloads the list whenever the request file changes on disk, until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create fsnotify watcher")
	}
	// The directory is watched because atomic saves replace the file.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return errors.Wrap(err, "failed to watch request dir")
	}

	go s.watchLoop(ctx, watcher)
	return nil
}

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if _, err := s.Reload(); err != nil {
				zlog.Warn().Err(err).Msgf("requests: hot reload failed, keeping current list: path=%s", s.path)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			zlog.Warn().Err(err).Msg("requests: watcher error")
		}
	}
}

// persistLocked writes the list through a temp file and rename.
func (s *Store) persistLocked() error {
	reqs := s.reqs
	if reqs == nil {
		reqs = []track.Request{}
	}
	data, err := json.MarshalIndent(reqs, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode requests")
	}
	data = append(data, '\n')

	// Recorded first so the watcher can recognize its own write.
	prev := s.lastWritten
	s.lastWritten = data

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".requests-*")
	if err != nil {
		s.lastWritten = prev
		return errors.Wrap(err, "failed to create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.lastWritten = prev
		return errors.Wrap(err, "failed to write requests")
	}
	if err := tmp.Close(); err != nil {
		s.lastWritten = prev
		return errors.Wrap(err, "failed to close temp file")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		s.lastWritten = prev
		return errors.Wrap(err, "failed to replace request file")
	}
	return nil
}

// decode parses a request file. Entries are normalized, given IDs when
// missing and de-duplicated by URL; invalid entries are dropped.
func decode(data []byte) ([]track.Request, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var raw []track.Request
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to parse request file")
	}

	seen := make(map[string]bool, len(raw))
	reqs := make([]track.Request, 0, len(raw))
	for _, r := range raw {
		r = r.Normalize()
		if err := r.Validate(); err != nil {
			zlog.Warn().Msgf("requests: dropping invalid entry: title=%q url=%q", r.Title, r.URL)
			continue
		}
		key := strings.ToLower(r.URL)
		if seen[key] {
			continue
		}
		seen[key] = true
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}
