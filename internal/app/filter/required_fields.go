package filter

import (
	"context"
	"strings"

	"github.com/osa030/19radio/internal/domain/track"
)

// RequiredFieldsFilter rejects requests without a title or URL.
type RequiredFieldsFilter struct{}

func (f *RequiredFieldsFilter) Name() string {
	return "required_fields_filter"
}

func (f *RequiredFieldsFilter) Description() string {
	return "Rejects requests missing a title or URL"
}

func (f *RequiredFieldsFilter) ReturnCodes() []string {
	return []string{"missing_fields"}
}

func (f *RequiredFieldsFilter) ValidateConfig(settings map[string]any) error {
	return nil
}

func (f *RequiredFieldsFilter) Check(ctx context.Context, req track.Request) Result {
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.URL) == "" {
		return Reject("missing_fields")
	}
	return Accept()
}

func init() {
	Register("required_fields_filter", func() Filter {
		return &RequiredFieldsFilter{}
	})
}
