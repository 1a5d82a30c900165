package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDocumentPreservesKeyOrder(t *testing.T) {
	raw := `{"b":1,"a":"x","list":[1,"two",true,null],"nested":{"z":1,"y":2}}`

	doc, err := ParseDocument([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, KindObject, doc.Kind())
	assert.Equal(t, []string{"b", "a", "list", "nested"}, doc.Keys())

	nested, ok := doc.Get("nested")
	require.True(t, ok)
	assert.Equal(t, []string{"z", "y"}, nested.Keys())

	// Round-trip keeps the original order byte for byte.
	data, err := doc.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, raw, string(data))
}

func TestDocumentKinds(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"s":"v","n":3.5,"b":true,"nil":null,"arr":[1,2]}`))
	require.NoError(t, err)

	s, ok := doc.Get("s")
	require.True(t, ok)
	text, ok := s.Text()
	assert.True(t, ok)
	assert.Equal(t, "v", text)

	n, _ := doc.Get("n")
	num, ok := n.Number()
	assert.True(t, ok)
	assert.Equal(t, 3.5, num)

	b, _ := doc.Get("b")
	val, ok := b.Bool()
	assert.True(t, ok)
	assert.True(t, val)

	null, _ := doc.Get("nil")
	assert.True(t, null.IsNull())

	arr, _ := doc.Get("arr")
	assert.Equal(t, KindArray, arr.Kind())
	assert.Equal(t, 2, arr.Len())
}

func TestDocumentSet(t *testing.T) {
	obj := NewObject()
	require.NoError(t, obj.Set("first", NewNumber(1)))
	require.NoError(t, obj.Set("second", NewNumber(2)))
	require.NoError(t, obj.Set("first", NewNumber(3))) // overwrite keeps position

	assert.Equal(t, []string{"first", "second"}, obj.Keys())
	first, _ := obj.Get("first")
	num, _ := first.Number()
	assert.Equal(t, 3.0, num)

	str := NewString("x")
	assert.ErrorIs(t, str.Set("k", Null()), ErrNotObject)
}

func TestDocumentScalar(t *testing.T) {
	assert.Equal(t, "10", NewNumber(10).Scalar())
	assert.Equal(t, "10.5", NewNumber(10.5).Scalar())
	assert.Equal(t, "true", NewBool(true).Scalar())
	assert.Equal(t, "hello", NewString("hello").Scalar())
	assert.Equal(t, "", Null().Scalar())
	assert.Equal(t, `[1,2]`, NewArray(NewNumber(1), NewNumber(2)).Scalar())
}

func TestFromAnyAndToAny(t *testing.T) {
	doc := FromAny(map[string]interface{}{
		"b": 2,
		"a": "one",
		"c": []interface{}{true, nil},
	})

	// Map conversion sorts keys for determinism.
	assert.Equal(t, []string{"a", "b", "c"}, doc.Keys())

	back, ok := doc.ToAny().(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "one", back["a"])
	assert.Equal(t, 2.0, back["b"])
	assert.Equal(t, []interface{}{true, nil}, back["c"])
}

func TestDecodeStageMessage(t *testing.T) {
	msg, err := DecodeStageMessage([]byte(`{"runId":"r1","stage":2,"attempt":1}`))
	require.NoError(t, err)
	assert.Equal(t, StageMessage{RunID: "r1", Stage: 2, Attempt: 1}, msg)

	_, err = DecodeStageMessage([]byte(`not json`))
	assert.Error(t, err)

	_, err = DecodeStageMessage([]byte(`{"stage":0}`))
	assert.Error(t, err)

	_, err = DecodeStageMessage([]byte(`{"runId":"r1","stage":-1}`))
	assert.Error(t, err)
}

func TestStageMessageEncode(t *testing.T) {
	body, err := StageMessage{RunID: "r1", Stage: 0}.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"runId":"r1","stage":0}`, string(body))
}
