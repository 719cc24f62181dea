package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_MarshalScalarShapes(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(BoolValue(false))
	require.NoError(t, err)
	assert.JSONEq(t, `{"value": false}`, string(b))

	b, err = json.Marshal(StringValue("VERBOSE"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"value": "VERBOSE"}`, string(b))

	b, err = json.Marshal(PatchValue(map[string]any{"action": "REVIEW_REQUIRED"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"patch": {"action": "REVIEW_REQUIRED"}}`, string(b))
}

func TestValue_UnmarshalKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want Value
	}{
		{"bool", `{"value": true}`, BoolValue(true)},
		{"string", `{"value": "CONCISE"}`, StringValue("CONCISE")},
		{"patch", `{"patch": {"reason": "low trust"}}`, PatchValue(map[string]any{"reason": "low trust"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got Value
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestValue_UnmarshalRejectsOtherShapes(t *testing.T) {
	t.Parallel()

	var v Value
	assert.Error(t, json.Unmarshal([]byte(`{}`), &v))
	assert.Error(t, json.Unmarshal([]byte(`{"value": 12}`), &v))
	assert.Error(t, json.Unmarshal([]byte(`"bare"`), &v))
}

func TestValue_UnmarshalRejectsNull(t *testing.T) {
	t.Parallel()

	for _, in := range []string{`{"value": null}`, `{"value":null}`, `{"patch": null}`} {
		var v Value
		err := json.Unmarshal([]byte(in), &v)
		assert.Error(t, err, in)
		assert.Empty(t, v.Kind, in)
	}
}

func TestValue_NullableInStruct(t *testing.T) {
	t.Parallel()

	entry := AdjustmentLog{ID: "log-1", NewValue: BoolValue(false)}
	b, err := json.Marshal(entry)
	require.NoError(t, err)

	var back AdjustmentLog
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Nil(t, back.PreviousValue)
	assert.True(t, back.NewValue.Equal(BoolValue(false)))
}

func TestValue_Equal(t *testing.T) {
	t.Parallel()

	assert.True(t, BoolValue(true).Equal(BoolValue(true)))
	assert.False(t, BoolValue(true).Equal(BoolValue(false)))
	assert.False(t, BoolValue(true).Equal(StringValue("true")))
	assert.True(t, PatchValue(map[string]any{"a": "b"}).Equal(PatchValue(map[string]any{"a": "b"})))
	assert.False(t, PatchValue(map[string]any{"a": "b"}).Equal(PatchValue(map[string]any{"a": "c"})))
}

func TestValueFromAny(t *testing.T) {
	t.Parallel()

	v, err := ValueFromAny(false)
	require.NoError(t, err)
	assert.Equal(t, ValueBool, v.Kind)

	v, err = ValueFromAny("VERBOSE")
	require.NoError(t, err)
	assert.Equal(t, "VERBOSE", v.String())

	v, err = ValueFromAny(map[string]any{"k": 1})
	require.NoError(t, err)
	assert.Equal(t, ValuePatch, v.Kind)

	_, err = ValueFromAny(3.5)
	assert.Error(t, err)
}
