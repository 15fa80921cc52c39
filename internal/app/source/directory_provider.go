package source

import (
	"context"
	"io/fs"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/osa030/19radio/internal/domain/track"
	"github.com/osa030/19radio/internal/infra/cache"
)

type DirectoryProviderConfig struct {
	Path      string `yaml:"path" mapstructure:"path" validate:"required"`
	Recursive bool   `yaml:"recursive" mapstructure:"recursive"`
}

// DirectoryProvider plays random audio files from a local directory.
// The files are never archived or removed.
type DirectoryProvider struct {
	config *DirectoryProviderConfig

	mu   sync.Mutex
	last string
}

// NewDirectoryProvider creates a new DirectoryProvider.
func NewDirectoryProvider(settings map[string]any) (*DirectoryProvider, error) {
	var config DirectoryProviderConfig
	if err := decodeSettings(settings, &config); err != nil {
		return nil, err
	}
	return &DirectoryProvider{config: &config}, nil
}

// Next picks a random audio file, avoiding the previous pick when possible.
func (p *DirectoryProvider) Next(ctx context.Context) (track.Track, error) {
	files, err := p.scan()
	if err != nil {
		return track.Track{}, err
	}
	if len(files) == 0 {
		return track.Track{}, errors.Newf("no audio files in %s", p.config.Path)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pick := files[rand.IntN(len(files))]
	if pick == p.last && len(files) > 1 {
		for pick == p.last {
			pick = files[rand.IntN(len(files))]
		}
	}
	p.last = pick

	name := filepath.Base(pick)
	return track.Track{
		Location: pick,
		Title:    strings.TrimSuffix(name, filepath.Ext(name)),
	}, nil
}

func (p *DirectoryProvider) scan() ([]string, error) {
	var files []string
	err := filepath.WalkDir(p.config.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != p.config.Path && !p.config.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if cache.IsAudio(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to scan %s", p.config.Path)
	}
	return files, nil
}

// Name returns the provider name.
func (p *DirectoryProvider) Name() string {
	return "directory"
}
