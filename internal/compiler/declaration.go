// Package compiler turns CUE declaration catalogs into ir.Declarations.
//
// A catalog declares one mutation per label:
//
//	mutation: approvePost: {
//	    type:     "update"
//	    resource: "posts"
//	    payload: data: is_approved: true
//	    options: return_promise: true
//	}
//
// Payloads must be concrete and float-free; they become ir.Values.
package compiler

import (
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/mutate/internal/ir"
)

// Named is a compiled declaration and the catalog label it was declared under.
type Named struct {
	Name        string
	Declaration ir.Declaration
}

// MarshalJSON writes the declaration with its wire-visible options.
func (n Named) MarshalJSON() ([]byte, error) {
	out := struct {
		Name     string    `json:"name"`
		Type     string    `json:"type"`
		Resource string    `json:"resource,omitempty"`
		Payload  ir.Object `json:"payload"`
		Options  ir.Object `json:"options"`
	}{
		Name:     n.Name,
		Type:     n.Declaration.Type,
		Resource: n.Declaration.Resource,
		Payload:  n.Declaration.Payload.Clone(),
		Options:  n.Declaration.Options.Meta(),
	}
	return json.Marshal(out)
}

// CompileDeclaration parses one catalog entry. The value should be the
// entry itself, e.g. v.LookupPath(cue.ParsePath("mutation.approvePost")).
func CompileDeclaration(v cue.Value) (*Named, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	n := &Named{}
	if sels := v.Path().Selectors(); len(sels) > 0 {
		n.Name = sels[len(sels)-1].String()
	}

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return nil, &CompileError{Field: "type", Message: "type is required", Pos: v.Pos()}
	}
	typ, err := typeVal.String()
	if err != nil {
		return nil, &CompileError{Field: "type", Message: "type must be a concrete string", Pos: typeVal.Pos()}
	}
	n.Declaration.Type = typ

	if resVal := v.LookupPath(cue.ParsePath("resource")); resVal.Exists() {
		res, err := resVal.String()
		if err != nil {
			return nil, &CompileError{Field: "resource", Message: "resource must be a concrete string", Pos: resVal.Pos()}
		}
		n.Declaration.Resource = res
	}

	n.Declaration.Payload = ir.Object{}
	if payloadVal := v.LookupPath(cue.ParsePath("payload")); payloadVal.Exists() {
		obj, err := toObject(payloadVal, "payload")
		if err != nil {
			return nil, err
		}
		n.Declaration.Payload = obj
	}

	if optsVal := v.LookupPath(cue.ParsePath("options")); optsVal.Exists() {
		opts, err := compileOptions(optsVal)
		if err != nil {
			return nil, err
		}
		n.Declaration.Options = opts
	}

	return n, nil
}

// compileOptions reads return_promise and keeps every other key as an
// extra option forwarded onto the action meta.
func compileOptions(v cue.Value) (ir.Options, error) {
	obj, err := toObject(v, "options")
	if err != nil {
		return ir.Options{}, err
	}

	var opts ir.Options
	if rp, ok := obj[ir.OptionReturnPromise]; ok {
		b, isBool := rp.(ir.Bool)
		if !isBool {
			return ir.Options{}, &CompileError{
				Field:   "options." + ir.OptionReturnPromise,
				Message: "return_promise must be a bool",
				Pos:     v.Pos(),
			}
		}
		opts.ReturnPromise = ir.BoolPtr(bool(b))
		delete(obj, ir.OptionReturnPromise)
	}
	if len(obj) > 0 {
		opts.Extra = obj
	}
	return opts, nil
}

func toObject(v cue.Value, field string) (ir.Object, error) {
	val, err := toValue(v, field)
	if err != nil {
		return nil, err
	}
	obj, ok := val.(ir.Object)
	if !ok {
		return nil, &CompileError{Field: field, Message: "must be a struct", Pos: v.Pos()}
	}
	return obj, nil
}

// toValue converts a concrete CUE value. Floats are rejected so compiled
// payloads stay hashable.
func toValue(v cue.Value, field string) (ir.Value, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	switch v.IncompleteKind() {
	case cue.NullKind:
		return ir.Null{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, notConcrete(v, field)
		}
		return ir.Bool(b), nil
	case cue.IntKind:
		i, err := v.Int64()
		if err != nil {
			return nil, notConcrete(v, field)
		}
		return ir.Int(i), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, notConcrete(v, field)
		}
		return ir.String(s), nil
	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{
			Field:   field,
			Message: "floats are not supported, use int instead",
			Pos:     v.Pos(),
		}
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.Array{}
		for i := 0; iter.Next(); i++ {
			elem, err := toValue(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.Object{}
		for iter.Next() {
			key := iter.Label()
			elem, err := toValue(iter.Value(), field+"."+key)
			if err != nil {
				return nil, err
			}
			obj[key] = elem
		}
		return obj, nil
	default:
		return nil, notConcrete(v, field)
	}
}

func notConcrete(v cue.Value, field string) error {
	return &CompileError{
		Field:   field,
		Message: fmt.Sprintf("value must be concrete, got %v", v.IncompleteKind()),
		Pos:     v.Pos(),
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError keeps the first CUE error and its position.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
