package ir

import (
	"encoding/json"
	"fmt"
)

// Action types placed on the shared dispatch channel.
const (
	// ActionCustomFetch announces the intent to call a backend operation.
	// It is dispatched exactly once per runtime call, before the adapter runs.
	ActionCustomFetch = "CUSTOM_FETCH"

	// ActionCustomFetchSuccess is dispatched after the adapter resolves.
	ActionCustomFetchSuccess = "CUSTOM_FETCH_SUCCESS"

	// ActionCustomFetchFailure is dispatched after the adapter rejects.
	ActionCustomFetchFailure = "CUSTOM_FETCH_FAILURE"
)

// Option keys reserved on the wire.
const (
	OptionReturnPromise = "return_promise"
	MetaKeyResource     = "resource"
	MetaKeyFetch        = "fetch"
	MetaKeyError        = "error"
)

// Result is what a mutation resolves with: the data extracted from the
// adapter envelope.
type Result struct {
	Data Value `json:"data"`
}

// Envelope is the value an adapter operation resolves with.
type Envelope struct {
	Data  Value  `json:"data"`
	Total *int64 `json:"total,omitempty"`
}

// Options carries per-mutation behavior flags and callbacks.
//
// ReturnPromise is a pointer so an override can set it to false explicitly.
// Extra holds any other option keys; they are forwarded onto the action meta.
type Options struct {
	ReturnPromise *bool
	OnSuccess     func(Result)
	OnFailure     func(error)
	Extra         Object
}

// Merge returns o with every field set in over replacing it.
// Extra is shallow-merged with over's keys winning.
func (o Options) Merge(over Options) Options {
	merged := Options{
		ReturnPromise: o.ReturnPromise,
		OnSuccess:     o.OnSuccess,
		OnFailure:     o.OnFailure,
		Extra:         o.Extra.Merge(over.Extra),
	}
	if over.ReturnPromise != nil {
		rp := *over.ReturnPromise
		merged.ReturnPromise = &rp
	}
	if over.OnSuccess != nil {
		merged.OnSuccess = over.OnSuccess
	}
	if over.OnFailure != nil {
		merged.OnFailure = over.OnFailure
	}
	return merged
}

// WantsPromise reports whether the caller asked for an awaitable call.
func (o Options) WantsPromise() bool {
	return o.ReturnPromise != nil && *o.ReturnPromise
}

// Meta returns the serializable view of the options. Callbacks never
// appear on the wire.
func (o Options) Meta() Object {
	m := o.Extra.Clone()
	if o.ReturnPromise != nil {
		m[OptionReturnPromise] = Bool(*o.ReturnPromise)
	}
	return m
}

// BoolPtr is a helper for Options.ReturnPromise literals.
func BoolPtr(b bool) *bool {
	return &b
}

// Declaration is the write operation a mutation instance is created for.
// An empty Resource means the operation is not resource-scoped.
type Declaration struct {
	Type     string  `json:"type"`
	Resource string  `json:"resource,omitempty"`
	Payload  Object  `json:"payload"`
	Options  Options `json:"-"`
}

// Override is the optional call-time partial declaration. Non-empty Type
// and Resource replace the declared ones; Payload and Options are
// shallow-merged over the declared ones.
type Override struct {
	Type     string
	Resource string
	Payload  Object
	Options  Options
}

// Meta is the metadata block of a dispatch action. On the wire the option
// keys are flattened next to resource and fetch.
type Meta struct {
	Resource string
	Fetch    string
	Options  Object
}

// MarshalJSON flattens Options into the meta object. Resource is omitted
// when empty.
func (m Meta) MarshalJSON() ([]byte, error) {
	obj := m.Options.Clone()
	if m.Resource != "" {
		obj[MetaKeyResource] = String(m.Resource)
	} else {
		delete(obj, MetaKeyResource)
	}
	obj[MetaKeyFetch] = String(m.Fetch)
	return obj.MarshalJSON()
}

// UnmarshalJSON splits resource and fetch from the remaining option keys.
func (m *Meta) UnmarshalJSON(data []byte) error {
	obj, err := ParseObject(data)
	if err != nil {
		return fmt.Errorf("unmarshal meta: %w", err)
	}
	*m = Meta{Options: Object{}}
	for k, v := range obj {
		switch k {
		case MetaKeyResource:
			s, ok := v.(String)
			if !ok {
				return fmt.Errorf("meta.resource must be a string, got %T", v)
			}
			m.Resource = string(s)
		case MetaKeyFetch:
			s, ok := v.(String)
			if !ok {
				return fmt.Errorf("meta.fetch must be a string, got %T", v)
			}
			m.Fetch = string(s)
		default:
			m.Options[k] = v
		}
	}
	return nil
}

// Object returns the flattened meta as an Object.
func (m Meta) Object() Object {
	obj := m.Options.Clone()
	delete(obj, MetaKeyResource)
	if m.Resource != "" {
		obj[MetaKeyResource] = String(m.Resource)
	}
	obj[MetaKeyFetch] = String(m.Fetch)
	return obj
}

// Action is the normalized record placed on the shared dispatch channel.
//
// Correlation links the intent action of one runtime call with its
// success or failure action; the encoder leaves it empty.
// Options keeps the resolved callbacks alongside the action in process;
// it is never serialized.
type Action struct {
	Type        string  `json:"type"`
	Payload     Object  `json:"payload"`
	Meta        Meta    `json:"meta"`
	Correlation string  `json:"correlation,omitempty"`
	Options     Options `json:"-"`
}

// Object returns the action in its wire shape as an Object.
func (a Action) Object() Object {
	obj := Object{
		"type":    String(a.Type),
		"payload": a.Payload.Clone(),
		"meta":    a.Meta.Object(),
	}
	if a.Correlation != "" {
		obj["correlation"] = String(a.Correlation)
	}
	return obj
}

// ParseAction decodes the wire shape of an action.
func ParseAction(data []byte) (Action, error) {
	var a Action
	if err := json.Unmarshal(data, &a); err != nil {
		return Action{}, fmt.Errorf("parse action: %w", err)
	}
	if a.Payload == nil {
		a.Payload = Object{}
	}
	return a, nil
}

// State is the observable state of one mutation instance.
// The zero value is the idle state.
type State struct {
	Loading bool
	Loaded  bool
	Data    Value
	Error   error
}

// Idle reports whether the mutation has never been triggered.
func (s State) Idle() bool {
	return !s.Loading && !s.Loaded
}
