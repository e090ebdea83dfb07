package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/mutate/internal/adapter"
	"github.com/roach88/mutate/internal/ir"
)

// Validation error codes (E200-E299).
const (
	ErrDeclTypeEmpty       = "E201" // type is required
	ErrDeclTypeInvalid     = "E202" // type is not an operation identifier
	ErrDeclResourceInvalid = "E203" // resource has surrounding or inner whitespace
	ErrReservedOptionKey   = "E204" // option key collides with a meta key
	ErrDuplicateName       = "E205" // two declarations share a name
	ErrUnknownOperation    = "E206" // adapter has no such operation
	ErrCompile             = "E210" // compile error, see message
)

// ValidationError represents a declaration validation error.
type ValidationError struct {
	Name    string `json:"name,omitempty"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("[%s] %s.%s: %s", e.Code, e.Name, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

var operationPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.:-]*$`)

// Validate checks compiled declarations. It returns every problem found,
// not just the first.
func Validate(decls []Named) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool, len(decls))

	for _, n := range decls {
		if n.Name != "" {
			if seen[n.Name] {
				errs = append(errs, ValidationError{
					Name:    n.Name,
					Field:   "name",
					Message: fmt.Sprintf("duplicate declaration name %q", n.Name),
					Code:    ErrDuplicateName,
				})
			}
			seen[n.Name] = true
		}
		errs = append(errs, validateDeclaration(n)...)
	}
	return errs
}

func validateDeclaration(n Named) []ValidationError {
	var errs []ValidationError
	d := n.Declaration

	switch {
	case strings.TrimSpace(d.Type) == "":
		errs = append(errs, ValidationError{
			Name: n.Name, Field: "type",
			Message: "type is required and must be non-empty",
			Code:    ErrDeclTypeEmpty,
		})
	case !operationPattern.MatchString(d.Type):
		errs = append(errs, ValidationError{
			Name: n.Name, Field: "type",
			Message: fmt.Sprintf("invalid operation name %q", d.Type),
			Code:    ErrDeclTypeInvalid,
		})
	}

	if d.Resource != "" && strings.ContainsAny(d.Resource, " \t\r\n") {
		errs = append(errs, ValidationError{
			Name: n.Name, Field: "resource",
			Message: fmt.Sprintf("resource %q must not contain whitespace", d.Resource),
			Code:    ErrDeclResourceInvalid,
		})
	}

	for _, key := range []string{ir.MetaKeyResource, ir.MetaKeyFetch} {
		if _, ok := d.Options.Extra[key]; ok {
			errs = append(errs, ValidationError{
				Name: n.Name, Field: "options." + key,
				Message: fmt.Sprintf("option %q is reserved for action meta", key),
				Code:    ErrReservedOptionKey,
			})
		}
	}
	return errs
}

// ValidateOperations reports declarations whose type the registry cannot
// serve. The registry is consulted once per declaration.
func ValidateOperations(decls []Named, reg adapter.Registry) []ValidationError {
	var errs []ValidationError
	for _, n := range decls {
		if n.Declaration.Type == "" {
			continue
		}
		if _, ok := reg.Lookup(n.Declaration.Type); !ok {
			errs = append(errs, ValidationError{
				Name: n.Name, Field: "type",
				Message: fmt.Sprintf("adapter has no operation %q", n.Declaration.Type),
				Code:    ErrUnknownOperation,
			})
		}
	}
	return errs
}
