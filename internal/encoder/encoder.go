// Package encoder builds dispatch actions from a mutation declaration and an
// optional call-time override.
//
// Merge rules:
//   - type: the override's when non-empty, else the declared one
//   - resource: the override's when non-empty, else the declared one
//     (may stay empty, meaning "no resource")
//   - payload: shallow merge, override keys win
//   - options: shallow merge, override fields win
//
// Encode is pure: it never mutates its inputs, and identical inputs against
// the same registry contents produce identical actions.
package encoder

import (
	"github.com/roach88/mutate/internal/adapter"
	"github.com/roach88/mutate/internal/ir"
)

// Encode resolves decl and ov into a CUSTOM_FETCH action.
//
// The resolved operation must exist on reg at the time of the call;
// otherwise a *ir.ConfigurationError is returned and no action is produced.
func Encode(reg adapter.Registry, decl ir.Declaration, ov ir.Override) (ir.Action, error) {
	a, _, err := EncodeCall(reg, decl, ov)
	return a, err
}

// EncodeCall is Encode that also returns the adapter function the
// operation resolved to. Handing that function to the runtime keeps the
// call bound to the registry contents seen at encode time.
func EncodeCall(reg adapter.Registry, decl ir.Declaration, ov ir.Override) (ir.Action, adapter.Func, error) {
	if reg == nil {
		return ir.Action{}, nil, &ir.ConfigurationError{
			Code:    ir.ErrCodeMissingAdapter,
			Message: "no backend adapter registry to resolve operations against",
		}
	}

	operation := Resolve(decl.Type, ov.Type)
	if operation == "" {
		return ir.Action{}, nil, &ir.ConfigurationError{
			Code:    ir.ErrCodeInvalidDeclaration,
			Message: "declaration has no operation type",
		}
	}
	fn, ok := reg.Lookup(operation)
	if !ok {
		return ir.Action{}, nil, ir.NewUnknownOperationError(operation)
	}

	options := decl.Options.Merge(ov.Options)

	return ir.Action{
		Type:    ir.ActionCustomFetch,
		Payload: decl.Payload.Merge(ov.Payload),
		Meta: ir.Meta{
			Resource: Resolve(decl.Resource, ov.Resource),
			Fetch:    operation,
			Options:  options.Meta(),
		},
		Options: options,
	}, fn, nil
}

// Resolve returns override when it is set, else declared.
func Resolve(declared, override string) string {
	if override != "" {
		return override
	}
	return declared
}

// MergeOverrides folds overrides left to right into one, with the same
// rules Encode applies between a declaration and an override. No
// overrides yields the zero Override.
func MergeOverrides(ovs ...ir.Override) ir.Override {
	var merged ir.Override
	for _, ov := range ovs {
		merged = ir.Override{
			Type:     Resolve(merged.Type, ov.Type),
			Resource: Resolve(merged.Resource, ov.Resource),
			Payload:  merged.Payload.Merge(ov.Payload),
			Options:  merged.Options.Merge(ov.Options),
		}
	}
	return merged
}
