package phpserial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSerialized(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{name: "null literal", input: "N;", expected: true},
		{name: "integer", input: "i:42;", expected: true},
		{name: "boolean", input: "b:1;", expected: true},
		{name: "double", input: "d:1.5;", expected: true},
		{name: "string", input: `s:3:"foo";`, expected: true},
		{name: "array", input: `a:1:{i:0;s:1:"x";}`, expected: true},
		{name: "object", input: `O:8:"stdClass":0:{}`, expected: true},
		{name: "plain text", input: "hello world", expected: false},
		{name: "empty", input: "", expected: false},
		{name: "json object", input: `{"a":1}`, expected: false},
		{name: "colon but no tag", input: "x:1;", expected: false},
		{name: "leading whitespace", input: "  i:7;", expected: true},
		{name: "string missing terminator", input: `s:3:"foo"`, expected: false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsSerialized(test.input))
		})
	}
}

func TestUnserialize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected any
	}{
		{name: "null", input: "N;", expected: nil},
		{name: "true", input: "b:1;", expected: true},
		{name: "false", input: "b:0;", expected: false},
		{name: "integer", input: "i:-12;", expected: int64(-12)},
		{name: "double", input: "d:2.5;", expected: 2.5},
		{name: "string", input: `s:5:"hello";`, expected: "hello"},
		{name: "string with quotes", input: `s:7:"a";b:"c";`, expected: `a";b:"c`},
		{
			name:  "assoc array",
			input: `a:2:{s:5:"color";s:3:"red";s:4:"size";i:10;}`,
			expected: Array{
				{Key: "color", Value: "red"},
				{Key: "size", Value: int64(10)},
			},
		},
		{
			name:  "nested array",
			input: `a:1:{s:5:"items";a:2:{i:0;s:1:"a";i:1;s:1:"b";}}`,
			expected: Array{
				{Key: "items", Value: Array{
					{Key: int64(0), Value: "a"},
					{Key: int64(1), Value: "b"},
				}},
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := Unserialize(test.input)
			require.NoError(t, err)
			assert.Equal(t, test.expected, got)
		})
	}
}

func TestUnserializeErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "trailing data", input: "i:1;i:2;"},
		{name: "truncated string", input: `s:10:"abc";`},
		{name: "bad length", input: `s:x:"abc";`},
		{name: "unknown tag", input: "z:1;"},
		{name: "truncated array", input: `a:2:{i:0;s:1:"a";`},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Unserialize(test.input)
			assert.Error(t, err)
		})
	}
}

func TestUnserializeObjectUnsupported(t *testing.T) {
	_, err := Unserialize(`O:8:"stdClass":1:{s:1:"a";i:1;}`)
	assert.ErrorIs(t, err, ErrUnsupportedObject)

	// Objects nested inside arrays surface the same error.
	_, err = Unserialize(`a:1:{s:3:"obj";O:8:"stdClass":0:{}}`)
	assert.ErrorIs(t, err, ErrUnsupportedObject)
}

func TestRoundTripIsByteStable(t *testing.T) {
	inputs := []string{
		"N;",
		"b:1;",
		"i:42;",
		"d:1.5;",
		`s:11:"hello world";`,
		`a:2:{s:5:"color";s:3:"red";s:4:"size";i:10;}`,
		`a:3:{s:1:"z";i:1;s:1:"a";i:2;s:1:"m";a:1:{i:0;s:3:"foo";}}`,
	}

	for _, input := range inputs {
		decoded, err := Unserialize(input)
		require.NoError(t, err, input)
		encoded, err := Serialize(decoded)
		require.NoError(t, err, input)
		assert.Equal(t, input, encoded)
	}
}

func TestSerializeMapIsDeterministic(t *testing.T) {
	m := map[string]any{"b": int64(2), "a": int64(1), "c": "three"}
	first, err := Serialize(m)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Serialize(m)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, `a:3:{s:1:"a";i:1;s:1:"b";i:2;s:1:"c";s:5:"three";}`, first)
}

func TestArrayGet(t *testing.T) {
	arr := Array{
		{Key: "name", Value: "widget"},
		{Key: int64(0), Value: "positional"},
	}
	assert.Equal(t, "widget", arr.Get("name"))
	assert.Nil(t, arr.Get("missing"))
}
