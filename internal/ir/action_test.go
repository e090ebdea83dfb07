package ir

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsMerge(t *testing.T) {
	var calledBase, calledOver bool
	base := Options{
		ReturnPromise: BoolPtr(true),
		OnSuccess:     func(Result) { calledBase = true },
		Extra:         Object{"undoable": Bool(true), "refresh": Bool(false)},
	}
	over := Options{
		ReturnPromise: BoolPtr(false),
		OnSuccess:     func(Result) { calledOver = true },
		Extra:         Object{"refresh": Bool(true)},
	}

	merged := base.Merge(over)

	require.NotNil(t, merged.ReturnPromise)
	assert.False(t, *merged.ReturnPromise)
	assert.False(t, merged.WantsPromise())
	assert.Equal(t, Object{"undoable": Bool(true), "refresh": Bool(true)}, merged.Extra)

	merged.OnSuccess(Result{})
	assert.True(t, calledOver)
	assert.False(t, calledBase)

	// Base untouched
	assert.True(t, *base.ReturnPromise)
}

func TestOptionsMerge_AbsentFieldsKeepDeclared(t *testing.T) {
	failed := false
	base := Options{ReturnPromise: BoolPtr(true), OnFailure: func(error) { failed = true }}

	merged := base.Merge(Options{})

	assert.True(t, merged.WantsPromise())
	require.NotNil(t, merged.OnFailure)
	merged.OnFailure(nil)
	assert.True(t, failed)
}

func TestOptionsMeta_OmitsCallbacks(t *testing.T) {
	o := Options{
		ReturnPromise: BoolPtr(true),
		OnSuccess:     func(Result) {},
		Extra:         Object{"undoable": Bool(false)},
	}
	assert.Equal(t, Object{"return_promise": Bool(true), "undoable": Bool(false)}, o.Meta())
	assert.Equal(t, Object{}, Options{}.Meta())
}

func TestActionJSON_WireShape(t *testing.T) {
	a := Action{
		Type:    ActionCustomFetch,
		Payload: Object{"foo": Int(1), "bar": Int(2)},
		Meta: Meta{
			Resource: "posts",
			Fetch:    "mytype",
			Options:  Object{"undoable": Bool(true)},
		},
	}

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "CUSTOM_FETCH",
		"payload": {"foo": 1, "bar": 2},
		"meta": {"resource": "posts", "fetch": "mytype", "undoable": true}
	}`, string(data))
}

func TestActionJSON_UndefinedResourceOmitted(t *testing.T) {
	a := Action{Type: ActionCustomFetch, Meta: Meta{Fetch: "ping"}}

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"CUSTOM_FETCH","payload":{},"meta":{"fetch":"ping"}}`, string(data))
}

func TestMeta_ReservedKeysWinOverOptions(t *testing.T) {
	m := Meta{Fetch: "create", Options: Object{"fetch": String("spoofed"), "resource": String("spoofed")}}

	obj := m.Object()
	assert.Equal(t, String("create"), obj["fetch"])
	_, hasResource := obj["resource"]
	assert.False(t, hasResource)
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction([]byte(`{
		"type": "CUSTOM_FETCH",
		"payload": null,
		"meta": {"resource": "posts", "fetch": "create", "return_promise": true},
		"correlation": "req-9"
	}`))
	require.NoError(t, err)

	assert.Equal(t, ActionCustomFetch, a.Type)
	assert.Equal(t, Object{}, a.Payload)
	assert.Equal(t, "posts", a.Meta.Resource)
	assert.Equal(t, "create", a.Meta.Fetch)
	assert.Equal(t, Object{"return_promise": Bool(true)}, a.Meta.Options)
	assert.Equal(t, "req-9", a.Correlation)
}

func TestParseAction_BadMeta(t *testing.T) {
	_, err := ParseAction([]byte(`{"type":"X","payload":{},"meta":{"fetch":3}}`))
	assert.Error(t, err)
}

func TestState_Idle(t *testing.T) {
	assert.True(t, State{}.Idle())
	assert.False(t, State{Loading: true}.Idle())
	assert.False(t, State{Loaded: true}.Idle())
}

func TestConfigurationError(t *testing.T) {
	err := NewUnknownOperationError("publish")
	assert.Equal(t, "UNKNOWN_OPERATION: backend adapter has no such operation (operation=publish)", err.Error())

	wrapped := fmt.Errorf("encode: %w", err)
	assert.True(t, IsConfigurationError(wrapped))
	assert.True(t, HasConfigurationCode(wrapped, ErrCodeUnknownOperation))
	assert.False(t, HasConfigurationCode(wrapped, ErrCodeMissingAdapter))
	assert.False(t, IsConfigurationError(errors.New("plain")))
}
