// Package convention defines the commit-message convention shared by the
// prompt builder and the response validator, with documented defaults and
// validation that reports every problem at once.
package convention

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/text/cases"
)

// ErrInvalidConvention is matched (errors.Is) by every error from Validate.
var ErrInvalidConvention = errors.New("invalid commit convention")

// DefaultTypes are the Conventional Commits types allowed by default.
var DefaultTypes = []string{"feat", "fix", "docs", "style", "refactor", "perf", "test", "build", "ci", "chore", "revert"}

// DefaultScopeRoots are directory names skipped when inferring a scope.
var DefaultScopeRoots = []string{"src", "lib", "pkg", "internal", "cmd", "app", "packages", "cli"}

// Defaults.
const (
	DefaultMaxHeaderLength       = 72
	DefaultPromptCharBudget      = 12000
	DefaultRepresentativeHunkCap = 8
	DefaultBodyWrapWidth         = 72
)

// Convention is the commit-message convention. Use Default for a populated
// value and call Validate once before use.
type Convention struct {
	// MaxHeaderLength bounds the full header line "type(scope)!: subject".
	MaxHeaderLength int `toml:"max_header_length" json:"max_header_length" validate:"min=20,max=200"`
	// AllowedTypes lists valid header types in canonical (lowercase) form.
	AllowedTypes  []string `toml:"allowed_types" json:"allowed_types" validate:"required,min=1,unique,dive,required,lowercase"`
	ScopeRequired bool     `toml:"scope_required" json:"scope_required"`
	// BodyEnabled asks the model for a body; when false any body is dropped.
	BodyEnabled bool `toml:"body_enabled" json:"body_enabled"`
	// PromptCharBudget bounds the user prompt in characters (runes).
	PromptCharBudget      int `toml:"prompt_char_budget" json:"prompt_char_budget" validate:"min=200"`
	RepresentativeHunkCap int `toml:"representative_hunk_cap" json:"representative_hunk_cap" validate:"min=1,max=50"`
	BodyWrapWidth         int `toml:"body_wrap_width" json:"body_wrap_width" validate:"min=40,max=120"`
	// ScopeRoots are path segments skipped when inferring scopes.
	ScopeRoots []string `toml:"scope_roots" json:"scope_roots" validate:"dive,required,excludesall=/\\"`
}

// Default returns the default convention. Slices are fresh copies.
func Default() Convention {
	return Convention{
		MaxHeaderLength:       DefaultMaxHeaderLength,
		AllowedTypes:          append([]string(nil), DefaultTypes...),
		ScopeRequired:         false,
		BodyEnabled:           true,
		PromptCharBudget:      DefaultPromptCharBudget,
		RepresentativeHunkCap: DefaultRepresentativeHunkCap,
		BodyWrapWidth:         DefaultBodyWrapWidth,
		ScopeRoots:            append([]string(nil), DefaultScopeRoots...),
	}
}

var (
	validate = newValidator()
	typeRe   = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks every field and returns all problems together. The error
// matches ErrInvalidConvention.
func (c Convention) Validate() error {
	var result *multierror.Error
	failed := make(map[string]bool)
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %w", ErrInvalidConvention, err)
		}
		for _, fe := range verrs {
			failed[fe.StructField()] = true
			result = multierror.Append(result, fieldError(fe))
		}
	}
	longest := 0
	for _, t := range c.AllowedTypes {
		if t != "" && !typeRe.MatchString(t) {
			result = multierror.Append(result, fmt.Errorf("allowed_types: %q is not a lowercase word", t))
		}
		longest = max(longest, len(t))
	}
	// Shortest possible header is "type: x".
	if !failed["MaxHeaderLength"] && longest+3 > c.MaxHeaderLength {
		result = multierror.Append(result, fmt.Errorf("max_header_length: %d leaves no room for a subject after the longest type (%d chars)", c.MaxHeaderLength, longest))
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConvention, err)
	}
	return nil
}

func fieldError(fe validator.FieldError) error {
	// Field includes the element index for slice entries, e.g. allowed_types[2].
	field := fe.Field()
	switch fe.Tag() {
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Errorf("%s: must not be empty", field)
		}
		return fmt.Errorf("%s: must be at least %s (got %v)", field, fe.Param(), fe.Value())
	case "max":
		return fmt.Errorf("%s: must be at most %s (got %v)", field, fe.Param(), fe.Value())
	case "required":
		return fmt.Errorf("%s: is required", field)
	case "unique":
		return fmt.Errorf("%s: must not contain duplicates", field)
	case "lowercase":
		return fmt.Errorf("%s: %q must be lowercase", field, fe.Value())
	case "excludesall":
		return fmt.Errorf("%s: %q must be a single path segment", field, fe.Value())
	}
	return fmt.Errorf("%s: failed %q check", field, fe.Tag())
}

// CanonicalType returns the allowed type equal to t under case folding.
func (c Convention) CanonicalType(t string) (string, bool) {
	folded := cases.Fold().String(t)
	for _, a := range c.AllowedTypes {
		if cases.Fold().String(a) == folded {
			return a, true
		}
	}
	return "", false
}

// Allows reports whether t is an allowed type (case-insensitively).
func (c Convention) Allows(t string) bool {
	_, ok := c.CanonicalType(t)
	return ok
}
