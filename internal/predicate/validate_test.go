package predicate

import (
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCleanQuery(t *testing.T) {
	q, err := Parse("album", "artist = 'Prince' AND year > 1985 ORDER BY name")
	require.NoError(t, err)

	result := Validate(q, albumSchema)
	assert.True(t, result.OK())
	assert.Empty(t, result.Warnings)
}

func TestValidateWarnings(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains string
	}{
		{"unknown field", "label = 'WB'", `unknown field "label"`},
		{"kind mismatch", "year = '1986'", `field "year" is int but is compared to a string literal`},
		{"ordering on bool", "artist > true", "operator > on a bool literal"},
		{"nested into scalar", "year.month = 1", `field "year" is int and has no nested field`},
		{"in list mismatch", "year IN (1986, 'x')", "compared to a string literal"},
		{"unknown order field", "ORDER BY label", `unknown field "label"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Parse("album", tt.input)
			require.NoError(t, err)

			result := Validate(q, albumSchema)
			require.False(t, result.OK())
			found := slices.ContainsFunc(result.Warnings, func(w string) bool {
				return strings.Contains(w, tt.contains)
			})
			assert.True(t, found, "warnings %v should mention %q", result.Warnings, tt.contains)
		})
	}
}

func TestValidateCollectionMismatch(t *testing.T) {
	q, err := Parse("single", "true")
	require.NoError(t, err)
	result := Validate(q, albumSchema)
	assert.Len(t, result.Warnings, 1)
}

func TestValidateNullLiteralIsAllowed(t *testing.T) {
	q, err := Parse("album", "artist = null")
	require.NoError(t, err)
	assert.True(t, Validate(q, albumSchema).OK())
}
