package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Slugify Tests
// =============================================================================

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"alpha", "alpha"},
		{"Alpha Net", "alpha-net"},
		{"lnd_2!", "lnd-2"},
		{"UPPER", "upper"},
		{"a.b/c", "abc"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Slugify(tt.in))
		})
	}
}

// =============================================================================
// ValidateName Tests
// =============================================================================

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "alpha", false},
		{"with digits", "lnd-1", false},
		{"leading digit", "1net", false},
		{"empty", "", true},
		{"uppercase", "Alpha", true},
		{"space", "al pha", true},
		{"underscore", "al_pha", true},
		{"leading hyphen", "-alpha", true},
		{"too long", strings.Repeat("a", 33), true},
		{"max length", strings.Repeat("a", 32), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidName)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
