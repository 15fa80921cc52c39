package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/osa030/19radio/internal/infra/config"
)

func TestPrintFilters(t *testing.T) {
	var buf bytes.Buffer
	printFilters(&buf)

	out := buf.String()
	assert.Contains(t, out, "Available Filters:")
	assert.Contains(t, out, "duration_limit_filter")
	assert.Contains(t, out, "duration_limit_exceeded")
	assert.Contains(t, out, "kind_filter")
}

func TestValidateFilterConfig(t *testing.T) {
	tests := []struct {
		name    string
		filters map[string]config.FilterConfig
		wantErr bool
	}{
		{name: "none"},
		{
			name: "valid duration",
			filters: map[string]config.FilterConfig{
				"duration_limit_filter": {Enabled: true, Settings: map[string]any{"max_minutes": 10}},
			},
		},
		{
			name: "invalid but disabled",
			filters: map[string]config.FilterConfig{
				"duration_limit_filter": {Enabled: false, Settings: map[string]any{"min_minutes": -1}},
			},
		},
		{
			name: "invalid enabled",
			filters: map[string]config.FilterConfig{
				"duration_limit_filter": {Enabled: true, Settings: map[string]any{"min_minutes": 9, "max_minutes": 3}},
			},
			wantErr: true,
		},
		{
			name:    "unknown filter",
			filters: map[string]config.FilterConfig{"mood_filter": {Enabled: true}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFilterConfig(&config.Config{Filters: tt.filters})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
