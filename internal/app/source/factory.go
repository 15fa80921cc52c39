package source

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19radio/internal/infra/config"
)

// Deps are the shared collaborators handed to every provider.
type Deps struct {
	Cache    Cache
	Acquirer Acquirer
	Spotify  SpotifyClient // Nil when Spotify is not configured
	LastFm   LastFmClient  // Nil builds a client per provider from its api_key
}

// NewProviderChainFromConfig creates a provider chain from configuration.
// An empty provider list yields an empty chain, so only requests are played.
func NewProviderChainFromConfig(cfg *config.Config, deps Deps) (*ProviderChain, error) {
	var providers []ProviderWithMetadata

	for i, pcfg := range cfg.Fallback.Providers {
		var provider Provider
		var err error
		zlog.Debug().Msgf("creating fallback provider: index=%d type=%s", i+1, pcfg.Type)
		switch pcfg.Type {
		case "directory":
			settings := withDefault(pcfg.Settings, "path", cfg.Storage.FallbackDir)
			provider, err = NewDirectoryProvider(settings)

		case "playlist":
			provider, err = NewPlaylistProvider(deps.Spotify, deps.Cache, deps.Acquirer, pcfg.Settings)

		case "lastfm":
			provider, err = NewLastFmProvider(deps.LastFm, deps.Cache, deps.Acquirer, pcfg.Settings)

		default:
			return nil, errors.Newf("unsupported provider type: %s (provider index %d)", pcfg.Type, i)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "failed to create provider (index %d, type %s)", i, pcfg.Type)
		}

		providers = append(providers, ProviderWithMetadata{
			Provider:    provider,
			DisplayName: pcfg.DisplayName,
		})

		zlog.Info().Msgf("registered fallback provider: index=%d type=%s display_name=%s", i+1, pcfg.Type, pcfg.DisplayName)
	}

	return NewProviderChain(providers), nil
}

// withDefault returns a copy of settings with key set to value when absent.
func withDefault(settings map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(settings)+1)
	for k, v := range settings {
		out[k] = v
	}
	if _, ok := out[key]; !ok {
		out[key] = value
	}
	return out
}
