// Package cache archives downloaded tracks and indexes them by title in SQLite.
package cache

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	zlog "github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// ErrCache marks archive and index failures. They are never fatal to playback.
var ErrCache = errors.New("cache error")

const schema = `CREATE TABLE IF NOT EXISTS entries (
	title_key   TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	path        TEXT NOT NULL,
	archived_at INTEGER NOT NULL DEFAULT 0
)`

// audioExts in lookup preference order.
var audioExts = []string{".mp3", ".m4a", ".opus", ".ogg", ".webm", ".wav", ".flac", ".aac"}

// IsAudio reports whether name has a known audio extension.
func IsAudio(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range audioExts {
		if e == ext {
			return true
		}
	}
	return false
}

// Config holds cache locations.
type Config struct {
	WorkDir   string // Ephemeral download directory
	CacheDir  string // Archive directory
	IndexFile string // SQLite index path
}

// Entry is one archived track.
type Entry struct {
	TitleKey   string `db:"title_key" json:"-"`
	Title      string `db:"title" json:"title"`
	Path       string `db:"path" json:"path"`
	ArchivedAt int64  `db:"archived_at" json:"archived_at"`
}

// Cache manages the work dir and the archive.
type Cache struct {
	mu  sync.Mutex
	db  *sqlx.DB
	cfg Config
	now func() time.Time
}

// Open creates the directories and opens (or creates) the index.
func Open(cfg Config) (*Cache, error) {
	if cfg.IndexFile == "" {
		cfg.IndexFile = filepath.Join(cfg.CacheDir, "index.db")
	}
	for _, dir := range []string{cfg.WorkDir, cfg.CacheDir, filepath.Dir(cfg.IndexFile)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(errors.Mark(err, ErrCache), "failed to create %s", dir)
		}
	}

	db, err := sqlx.Open("sqlite", cfg.IndexFile)
	if err != nil {
		return nil, errors.Wrap(errors.Mark(err, ErrCache), "failed to open cache index")
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		schema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(errors.Mark(err, ErrCache), "failed to initialize cache index")
		}
	}

	return &Cache{db: db, cfg: cfg, now: time.Now}, nil
}

// Close closes the index.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Lookup returns the archived path for title. Rows whose file disappeared
// are dropped. An archived file that is not indexed yet is adopted.
func (c *Cache) Lookup(title string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key(title)
	var e Entry
	err := c.db.Get(&e, "SELECT title_key, title, path, archived_at FROM entries WHERE title_key = ?", key)
	if err == nil {
		if fileExists(e.Path) {
			return e.Path, true
		}
		zlog.Debug().Msgf("cache: dropping stale entry: title=%q path=%s", title, e.Path)
		if _, err := c.db.Exec("DELETE FROM entries WHERE title_key = ?", key); err != nil {
			zlog.Warn().Err(err).Msg("cache: failed to delete stale entry")
		}
	}

	// Archived by an earlier run without an index row.
	for _, ext := range audioExts {
		p := filepath.Join(c.cfg.CacheDir, Sanitize(title)+ext)
		if fileExists(p) {
			if err := c.upsertLocked(title, p); err != nil {
				zlog.Warn().Err(err).Msg("cache: failed to index archived file")
			}
			return p, true
		}
	}
	return "", false
}

// Archive moves path into the archive under title and returns the new path.
func (c *Cache) Archive(path, title string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		ext = ".mp3"
	}
	dest := filepath.Join(c.cfg.CacheDir, Sanitize(title)+ext)

	if filepath.Clean(path) != filepath.Clean(dest) {
		if err := move(path, dest); err != nil {
			return "", errors.Wrapf(errors.Mark(err, ErrCache), "failed to archive %s", path)
		}
	}
	if err := c.upsertLocked(title, dest); err != nil {
		return "", err
	}

	zlog.Info().Msgf("cache: archived: title=%q path=%s", title, dest)
	return dest, nil
}

// IsEphemeral reports whether location lives in the work dir.
func (c *Cache) IsEphemeral(location string) bool {
	return within(c.cfg.WorkDir, location)
}

// OriginalPath returns the work dir path a download of title is written to.
func (c *Cache) OriginalPath(title string) string {
	return filepath.Join(c.cfg.WorkDir, Sanitize(title)+".mp3")
}

// WorkDir returns the ephemeral download directory.
func (c *Cache) WorkDir() string {
	return c.cfg.WorkDir
}

// Sweep archives every audio file left in the work dir. A file that cannot
// be archived is deleted. It returns the number of archived files.
func (c *Cache) Sweep() (int, error) {
	dirEntries, err := os.ReadDir(c.cfg.WorkDir)
	if err != nil {
		return 0, errors.Wrap(errors.Mark(err, ErrCache), "failed to read work dir")
	}

	archived := 0
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		if !IsAudio(de.Name()) {
			continue
		}

		path := filepath.Join(c.cfg.WorkDir, de.Name())
		title := strings.TrimSuffix(de.Name(), filepath.Ext(de.Name()))
		if _, err := c.Archive(path, title); err != nil {
			zlog.Warn().Err(err).Msgf("cache: sweep could not archive, deleting: path=%s", path)
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				zlog.Error().Err(rmErr).Msgf("cache: failed to delete: path=%s", path)
			}
			continue
		}
		archived++
	}

	zlog.Info().Msgf("cache: sweep done: archived=%d", archived)
	return archived, nil
}

// Entries returns the index, most recently archived first.
func (c *Cache) Entries() ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var entries []Entry
	if err := c.db.Select(&entries, "SELECT title_key, title, path, archived_at FROM entries"); err != nil {
		return nil, errors.Wrap(errors.Mark(err, ErrCache), "failed to list cache entries")
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ArchivedAt > entries[j].ArchivedAt
	})
	return entries, nil
}

func (c *Cache) upsertLocked(title, path string) error {
	e := Entry{
		TitleKey:   Key(title),
		Title:      title,
		Path:       path,
		ArchivedAt: c.now().UnixNano(),
	}
	_, err := c.db.NamedExec(`INSERT INTO entries (title_key, title, path, archived_at)
		VALUES (:title_key, :title, :path, :archived_at)
		ON CONFLICT(title_key) DO UPDATE SET
			title = excluded.title,
			path = excluded.path,
			archived_at = excluded.archived_at`, e)
	if err != nil {
		return errors.Wrap(errors.Mark(err, ErrCache), "failed to index cache entry")
	}
	return nil
}

// Sanitize makes a title safe to use as a file name.
func Sanitize(title string) string {
	s := strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			return '_'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, title)
	s = strings.Trim(s, " .")
	if s == "" {
		return "untitled"
	}
	return s
}

// Key is the index key for a title.
func Key(title string) string {
	return strings.ToLower(Sanitize(strings.TrimSpace(title)))
}

func within(dir, location string) bool {
	if dir == "" || location == "" || strings.Contains(location, "://") {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absLoc, err := filepath.Abs(location)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absLoc)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// move renames src to dst, copying across devices when rename fails.
func move(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
