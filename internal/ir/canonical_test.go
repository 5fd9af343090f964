package ir

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    Node
		expected string
	}{
		{"null", Null{}, "null"},
		{"string", String("hello"), `"hello"`},
		{"empty string", String(""), `""`},
		{"int", Int(42), "42"},
		{"negative int", Int(-100), "-100"},
		{"max int64", Int(9223372036854775807), "9223372036854775807"},
		{"float", Float(1.5), "1.5"},
		{"integral float", Float(2), "2"},
		{"negative zero", Float(-0.0), "0"},
		{"large float", Float(1e21), "1e+21"},
		{"small float", Float(1.5e-7), "1.5e-7"},
		{"float below exponent threshold", Float(1e20), "100000000000000000000"},
		{"bool true", Bool(true), "true"},
		{"bool false", Bool(false), "false"},
		{"date", NewDate(time.Date(2024, 1, 2, 3, 4, 5, 600, time.UTC)), `"2024-01-02T03:04:05.0000006Z"`},
		{"empty array", NewArray(), "[]"},
		{"empty object", NewObject("", nil), "{}"},
		{"array of ints", NewArray(Int(1), Int(2), Int(3)), "[1,2,3]"},
		{"simple object", Obj("", P("a", Int(1))), `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := Obj("", P("zebra", Int(1)), P("alpha", Int(2)), P("beta", Int(3)))

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":3,"zebra":1}`, string(result))
}

func TestMarshalCanonicalTypeIDAndMetadata(t *testing.T) {
	obj := Obj("Item",
		P("name", String("x")),
		P("$env:name", Obj("", P("blob", String("zzz")))),
	)

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"$type":"Item","name":"x"}`, string(result))
}

func TestMarshalCanonicalUTF16Order(t *testing.T) {
	// U+FB33 sorts before U+1F600 in UTF-8 but after it in UTF-16,
	// because the emoji encodes as the surrogate pair D83D DE00.
	obj := Obj("", P("\U0001F600", Int(1)), P("\uFB33", Int(2)))

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":1,\"\uFB33\":2}", string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	result, err := MarshalCanonical(String("<a & b>"))
	require.NoError(t, err)
	assert.Equal(t, `"<a & b>"`, string(result))
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	result, err := MarshalCanonical(String("a\u2028b\u2029c"))
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(result))

	// A literal backslash followed by u2028 text stays escaped.
	result, err = MarshalCanonical(String(`x\u2028`))
	require.NoError(t, err)
	assert.Equal(t, `"x\\u2028"`, string(result))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	decomposed := String("e\u0301")
	composed := String("\u00e9")

	a, err := MarshalCanonical(decomposed)
	require.NoError(t, err)
	b, err := MarshalCanonical(composed)
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))
}

func TestMarshalCanonicalRejectsNonFinite(t *testing.T) {
	_, err := MarshalCanonical(NewArray(Float(posInf())))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "array[0]")
}

func TestMarshalCanonicalGolden(t *testing.T) {
	snapshot := Obj("DataNode",
		P("Text", String("he\u0301llo <b>")),
		P("Count", Int(3)),
		P("Ratio", Float(0.5)),
		P("When", NewDate(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))),
		P("Tags", NewArray(String("a"), Null{})),
		P("$env:Text", Obj("", P("protected", Bool(true)))),
	)

	result, err := MarshalCanonical(snapshot)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "canonical_snapshot", result)
}

func TestDomainInput(t *testing.T) {
	got := DomainInput("d", []byte("a"), []byte("bc"))
	assert.Equal(t, []byte("d\x00a\x00bc"), got)
}
