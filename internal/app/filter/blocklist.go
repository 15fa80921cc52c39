package filter

import (
	"context"
	"strings"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19radio/internal/domain/track"
)

// BlocklistConfig represents the configuration for BlocklistFilter.
type BlocklistConfig struct {
	Terms []string `yaml:"terms" mapstructure:"terms" validate:"dive,required"`
}

// BlocklistFilter rejects requests whose title or URL contains a blocked term.
type BlocklistFilter struct {
	terms []string
}

func (f *BlocklistFilter) Name() string {
	return "blocklist_filter"
}

func (f *BlocklistFilter) Description() string {
	return "Rejects requests whose title or URL contains a blocked term (case-insensitive)"
}

func (f *BlocklistFilter) ReturnCodes() []string {
	return []string{"blocked"}
}

func (f *BlocklistFilter) ValidateConfig(settings map[string]any) error {
	var config BlocklistConfig
	if err := decodeConfig(settings, &config); err != nil {
		return err
	}
	f.terms = make([]string, 0, len(config.Terms))
	for _, term := range config.Terms {
		f.terms = append(f.terms, strings.ToLower(strings.TrimSpace(term)))
	}
	zlog.Info().Msgf("blocklist filter config: terms=%d", len(f.terms))
	return nil
}

func (f *BlocklistFilter) Check(ctx context.Context, req track.Request) Result {
	title := strings.ToLower(req.Title)
	u := strings.ToLower(req.URL)
	for _, term := range f.terms {
		if term == "" {
			continue
		}
		if strings.Contains(title, term) || strings.Contains(u, term) {
			return Reject("blocked")
		}
	}
	return Accept()
}

func init() {
	Register("blocklist_filter", func() Filter {
		return &BlocklistFilter{}
	})
}
