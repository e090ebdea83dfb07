package encoder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mutate/internal/adapter"
	"github.com/roach88/mutate/internal/ir"
)

func noop(ctx context.Context, resource string, payload ir.Object) (ir.Envelope, error) {
	return ir.Envelope{}, nil
}

var registry = adapter.Map{
	"mytype":  noop,
	"other":   noop,
	"publish": noop,
}

func TestEncode_DeclarationOnly(t *testing.T) {
	decl := ir.Declaration{
		Type:     "mytype",
		Resource: "posts",
		Payload:  ir.Object{"id": ir.Int(1)},
	}

	a, err := Encode(registry, decl, ir.Override{})
	require.NoError(t, err)

	assert.Equal(t, ir.ActionCustomFetch, a.Type)
	assert.Equal(t, ir.Object{"id": ir.Int(1)}, a.Payload)
	assert.Equal(t, "posts", a.Meta.Resource)
	assert.Equal(t, "mytype", a.Meta.Fetch)
	assert.Equal(t, ir.Object{}, a.Meta.Options)
	assert.Empty(t, a.Correlation)
}

func TestEncode_PayloadShallowMerge(t *testing.T) {
	decl := ir.Declaration{Type: "mytype", Payload: ir.Object{"foo": ir.Int(1)}}
	ov := ir.Override{Payload: ir.Object{"bar": ir.Int(2)}}

	a, err := Encode(registry, decl, ov)
	require.NoError(t, err)
	assert.Equal(t, ir.Object{"foo": ir.Int(1), "bar": ir.Int(2)}, a.Payload)
}

func TestEncode_OverrideKeysWin(t *testing.T) {
	decl := ir.Declaration{Type: "mytype", Payload: ir.Object{"foo": ir.Int(1), "keep": ir.Bool(true)}}
	ov := ir.Override{Payload: ir.Object{"foo": ir.Int(9)}}

	a, err := Encode(registry, decl, ov)
	require.NoError(t, err)
	assert.Equal(t, ir.Object{"foo": ir.Int(9), "keep": ir.Bool(true)}, a.Payload)
}

func TestEncode_MergeProperty(t *testing.T) {
	// encode(D,O).payload == {...D.payload, ...O.payload}
	// encode(D,O).meta.fetch == O.type ?? D.type
	cases := []struct {
		name string
		decl ir.Declaration
		ov   ir.Override
	}{
		{"empty both", ir.Declaration{Type: "mytype"}, ir.Override{}},
		{"override type", ir.Declaration{Type: "mytype"}, ir.Override{Type: "other"}},
		{"disjoint", ir.Declaration{Type: "mytype", Payload: ir.Object{"a": ir.Int(1)}}, ir.Override{Payload: ir.Object{"b": ir.Int(2)}}},
		{"overlap", ir.Declaration{Type: "mytype", Payload: ir.Object{"a": ir.Int(1)}}, ir.Override{Type: "publish", Payload: ir.Object{"a": ir.Null{}}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, err := Encode(registry, tc.decl, tc.ov)
			require.NoError(t, err)

			want := ir.Object{}
			for k, v := range tc.decl.Payload {
				want[k] = v
			}
			for k, v := range tc.ov.Payload {
				want[k] = v
			}
			assert.Equal(t, want, a.Payload)

			wantFetch := tc.decl.Type
			if tc.ov.Type != "" {
				wantFetch = tc.ov.Type
			}
			assert.Equal(t, wantFetch, a.Meta.Fetch)
		})
	}
}

func TestEncode_ResourceResolution(t *testing.T) {
	a, err := Encode(registry, ir.Declaration{Type: "mytype"}, ir.Override{})
	require.NoError(t, err)
	assert.Empty(t, a.Meta.Resource, "no resource declared or overridden")

	a, err = Encode(registry, ir.Declaration{Type: "mytype", Resource: "posts"}, ir.Override{Resource: "comments"})
	require.NoError(t, err)
	assert.Equal(t, "comments", a.Meta.Resource)

	a, err = Encode(registry, ir.Declaration{Type: "mytype"}, ir.Override{Resource: "comments"})
	require.NoError(t, err)
	assert.Equal(t, "comments", a.Meta.Resource)
}

func TestEncode_OptionsMergedIntoMeta(t *testing.T) {
	decl := ir.Declaration{
		Type:    "mytype",
		Options: ir.Options{Extra: ir.Object{"undoable": ir.Bool(true)}},
	}
	ov := ir.Override{Options: ir.Options{ReturnPromise: ir.BoolPtr(true)}}

	a, err := Encode(registry, decl, ov)
	require.NoError(t, err)

	assert.Equal(t, ir.Object{"undoable": ir.Bool(true), "return_promise": ir.Bool(true)}, a.Meta.Options)
	assert.True(t, a.Options.WantsPromise())
}

func TestEncode_UnknownOperation(t *testing.T) {
	_, err := Encode(registry, ir.Declaration{Type: "nope"}, ir.Override{})
	require.Error(t, err)
	assert.True(t, ir.HasConfigurationCode(err, ir.ErrCodeUnknownOperation))

	// A valid declaration overridden to an unknown type fails too
	_, err = Encode(registry, ir.Declaration{Type: "mytype"}, ir.Override{Type: "nope"})
	assert.True(t, ir.HasConfigurationCode(err, ir.ErrCodeUnknownOperation))
}

func TestEncode_EmptyType(t *testing.T) {
	_, err := Encode(registry, ir.Declaration{}, ir.Override{})
	assert.True(t, ir.HasConfigurationCode(err, ir.ErrCodeInvalidDeclaration))
}

func TestEncode_NilRegistry(t *testing.T) {
	_, err := Encode(nil, ir.Declaration{Type: "mytype"}, ir.Override{})
	assert.True(t, ir.HasConfigurationCode(err, ir.ErrCodeMissingAdapter))
}

func TestEncode_LooksUpAtCallTime(t *testing.T) {
	dyn := adapter.NewDynamic(nil)
	decl := ir.Declaration{Type: "late"}

	_, err := Encode(dyn, decl, ir.Override{})
	require.Error(t, err)

	dyn.Register("late", noop)
	_, err = Encode(dyn, decl, ir.Override{})
	require.NoError(t, err)

	dyn.Unregister("late")
	_, err = Encode(dyn, decl, ir.Override{})
	assert.Error(t, err)
}

func TestEncode_DoesNotMutateInputs(t *testing.T) {
	decl := ir.Declaration{Type: "mytype", Payload: ir.Object{"a": ir.Int(1)}}
	ov := ir.Override{Payload: ir.Object{"b": ir.Int(2)}}

	a, err := Encode(registry, decl, ov)
	require.NoError(t, err)
	a.Payload["c"] = ir.Int(3)

	assert.Equal(t, ir.Object{"a": ir.Int(1)}, decl.Payload)
	assert.Equal(t, ir.Object{"b": ir.Int(2)}, ov.Payload)
}

func TestEncode_Deterministic(t *testing.T) {
	decl := ir.Declaration{Type: "mytype", Resource: "posts", Payload: ir.Object{"x": ir.String("y")}}
	a1, err := Encode(registry, decl, ir.Override{})
	require.NoError(t, err)
	a2, err := Encode(registry, decl, ir.Override{})
	require.NoError(t, err)

	assert.Equal(t, ir.MustEntryID(a1, 1), ir.MustEntryID(a2, 1))
}

func TestMergeOverrides_LaterWins(t *testing.T) {
	merged := MergeOverrides(
		ir.Override{Type: "update", Resource: "posts", Payload: ir.Object{"a": ir.Int(1), "b": ir.Int(1)}},
		ir.Override{Resource: "comments", Payload: ir.Object{"b": ir.Int(2)}, Options: ir.Options{ReturnPromise: ir.BoolPtr(true)}},
	)

	assert.Equal(t, "update", merged.Type)
	assert.Equal(t, "comments", merged.Resource)
	assert.Equal(t, ir.Object{"a": ir.Int(1), "b": ir.Int(2)}, merged.Payload)
	assert.True(t, merged.Options.WantsPromise())
}

func TestMergeOverrides_NoneIsZero(t *testing.T) {
	merged := MergeOverrides()
	assert.Equal(t, "", merged.Type)
	assert.Nil(t, merged.Payload)
}

func TestEncodeCall_ReturnsResolvedFunction(t *testing.T) {
	var called string
	reg := adapter.Map{
		"mytype": func(ctx context.Context, resource string, payload ir.Object) (ir.Envelope, error) {
			called = "mytype"
			return ir.Envelope{}, nil
		},
		"other": func(ctx context.Context, resource string, payload ir.Object) (ir.Envelope, error) {
			called = "other"
			return ir.Envelope{}, nil
		},
	}

	a, fn, err := EncodeCall(reg, ir.Declaration{Type: "mytype"}, ir.Override{Type: "other"})
	require.NoError(t, err)
	require.NotNil(t, fn)
	assert.Equal(t, "other", a.Meta.Fetch)

	_, err = fn(context.Background(), "", a.Payload)
	require.NoError(t, err)
	assert.Equal(t, "other", called)

	_, fn, err = EncodeCall(reg, ir.Declaration{Type: "nope"}, ir.Override{})
	assert.Nil(t, fn)
	assert.True(t, ir.IsConfigurationError(err))
}
