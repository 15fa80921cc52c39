package source

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19radio/internal/domain/track"
)

// ProviderWithMetadata wraps a provider with its metadata.
type ProviderWithMetadata struct {
	Provider    Provider
	DisplayName string
}

// ProviderChain tries providers in order until one yields a track.
type ProviderChain struct {
	providers []ProviderWithMetadata
}

// NewProviderChain creates a new provider chain.
func NewProviderChain(providers []ProviderWithMetadata) *ProviderChain {
	return &ProviderChain{
		providers: providers,
	}
}

// Next returns a track from the first provider that succeeds.
// Tracks without a requester are credited to the provider's display name.
func (c *ProviderChain) Next(ctx context.Context) (track.Track, error) {
	for i, pm := range c.providers {
		if ctx.Err() != nil {
			return track.Track{}, ctx.Err()
		}
		zlog.Debug().Msgf("source: trying provider: index=%d total=%d name=%s type=%s",
			i+1, len(c.providers), pm.DisplayName, pm.Provider.Name())

		t, err := pm.Provider.Next(ctx)
		if err != nil {
			zlog.Warn().Msgf("source: provider failed, trying next: provider=%s error=%v", pm.DisplayName, err)
			continue
		}

		if t.RequestedBy == "" {
			t.RequestedBy = pm.DisplayName
		}
		zlog.Info().Msgf("source: provider returned track: provider=%s title=%q", pm.DisplayName, t.Title)
		return t, nil
	}
	return track.Track{}, ErrNoCandidates
}

// Len returns the number of providers.
func (c *ProviderChain) Len() int {
	return len(c.providers)
}

// Name returns the chain name.
func (c *ProviderChain) Name() string {
	return "provider_chain"
}
