package convention

import (
	"errors"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_valid(t *testing.T) {
	t.Parallel()
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, 72, c.MaxHeaderLength)
	assert.Equal(t, 12000, c.PromptCharBudget)
	assert.Equal(t, 8, c.RepresentativeHunkCap)
	assert.True(t, c.BodyEnabled)
	assert.False(t, c.ScopeRequired)

	c.AllowedTypes[0] = "changed"
	assert.Equal(t, "feat", DefaultTypes[0], "Default must copy slices")
}

func TestValidate_fieldErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Convention)
		wantMsg string
	}{
		{"header too short", func(c *Convention) { c.MaxHeaderLength = 10 }, "max_header_length: must be at least 20"},
		{"header too long", func(c *Convention) { c.MaxHeaderLength = 500 }, "max_header_length: must be at most 200"},
		{"no types", func(c *Convention) { c.AllowedTypes = nil }, "allowed_types: is required"},
		{"empty types", func(c *Convention) { c.AllowedTypes = []string{} }, "allowed_types: must not be empty"},
		{"duplicate types", func(c *Convention) { c.AllowedTypes = []string{"fix", "fix"} }, "allowed_types: must not contain duplicates"},
		{"uppercase type", func(c *Convention) { c.AllowedTypes = []string{"Fix"} }, "must be lowercase"},
		{"type with space", func(c *Convention) { c.AllowedTypes = []string{"big fix"} }, "is not a lowercase word"},
		{"budget", func(c *Convention) { c.PromptCharBudget = 50 }, "prompt_char_budget: must be at least 200"},
		{"hunk cap zero", func(c *Convention) { c.RepresentativeHunkCap = 0 }, "representative_hunk_cap: must be at least 1"},
		{"hunk cap large", func(c *Convention) { c.RepresentativeHunkCap = 51 }, "representative_hunk_cap: must be at most 50"},
		{"wrap width", func(c *Convention) { c.BodyWrapWidth = 10 }, "body_wrap_width: must be at least 40"},
		{"root with slash", func(c *Convention) { c.ScopeRoots = []string{"src/main"} }, "must be a single path segment"},
		{
			"type longer than header",
			func(c *Convention) {
				c.MaxHeaderLength = 20
				c.AllowedTypes = []string{"averyveryverylongtype"}
			},
			"leaves no room for a subject",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := Default()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConvention))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidate_reportsAllProblems(t *testing.T) {
	t.Parallel()
	c := Default()
	c.MaxHeaderLength = 1
	c.PromptCharBudget = 1
	c.BodyWrapWidth = 1
	err := c.Validate()
	require.Error(t, err)
	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 3)
}

func TestCanonicalType(t *testing.T) {
	t.Parallel()
	c := Default()
	got, ok := c.CanonicalType("FIX")
	assert.True(t, ok)
	assert.Equal(t, "fix", got)
	assert.True(t, c.Allows("Feat"))
	assert.False(t, c.Allows("bugfix"))
	assert.False(t, c.Allows(""))
}
