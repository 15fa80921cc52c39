package filter

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/osa030/19radio/internal/domain/track"
)

// KindConfig represents the configuration for KindFilter.
type KindConfig struct {
	Allowed []string `yaml:"allowed" mapstructure:"allowed" default:"[\"youtube\",\"spotify\",\"direct\",\"stream\"]" validate:"min=1"`
}

// KindFilter rejects request kinds outside the allow-list.
type KindFilter struct {
	allowed map[track.Kind]bool
}

// NewKindFilter creates a kind filter allowing every supported kind.
func NewKindFilter() *KindFilter {
	f := &KindFilter{allowed: make(map[track.Kind]bool)}
	for _, k := range track.Kinds() {
		f.allowed[k] = true
	}
	return f
}

func (f *KindFilter) Name() string {
	return "kind_filter"
}

func (f *KindFilter) Description() string {
	return "Rejects request kinds outside the allow-list"
}

func (f *KindFilter) ReturnCodes() []string {
	return []string{"unsupported_kind"}
}

func (f *KindFilter) ValidateConfig(settings map[string]any) error {
	var config KindConfig
	if err := decodeConfig(settings, &config); err != nil {
		return err
	}

	supported := make(map[track.Kind]bool)
	for _, k := range track.Kinds() {
		supported[k] = true
	}

	allowed := make(map[track.Kind]bool)
	for _, name := range config.Allowed {
		k := track.Kind(strings.ToLower(strings.TrimSpace(name)))
		if !supported[k] {
			return errors.Newf("unknown request kind: %q", name)
		}
		allowed[k] = true
	}
	f.allowed = allowed
	return nil
}

func (f *KindFilter) Check(ctx context.Context, req track.Request) Result {
	if !f.allowed[req.Kind] {
		return Reject("unsupported_kind")
	}
	return Accept()
}

func init() {
	Register("kind_filter", func() Filter {
		return NewKindFilter()
	})
}
