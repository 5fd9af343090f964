package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vmsync/internal/ir"
)

const dataNodeYAML = `
types:
  DataNode:
    Text: string
    Count: int?
    SignedData:
      type: DataNode
      protect: sign
    EncryptedData:
      type: DataNode
      protect: encrypt
      direction: server-to-client
    Collection:
      type: "[]DataNode"
      extenders:
        - name: required
        - name: range
          parameter: {min: 1, max: 5}
`

func TestLoadYAML(t *testing.T) {
	r, err := LoadYAML([]byte(dataNodeYAML))
	require.NoError(t, err)
	assert.True(t, r.Published())
	assert.Equal(t, []string{"DataNode"}, r.TypeIDs())

	d, ok := r.TypeDescriptor("DataNode")
	require.True(t, ok)

	props := d.Properties()
	require.Len(t, props, 5)
	assert.Equal(t, "Text", props[0].Name)
	assert.Equal(t, "Collection", props[4].Name)

	count, _ := d.Property("Count")
	assert.True(t, count.Type.AcceptsNull())

	enc, _ := d.Property("EncryptedData")
	assert.Equal(t, ir.ProtectEncrypt, enc.Protect)
	assert.Equal(t, ir.DirectionServerToClient, enc.Direction)

	coll, _ := d.Property("Collection")
	assert.Equal(t, ir.ListOf(ir.ObjectOf("DataNode")), coll.Type)
	require.Len(t, coll.ClientExtenders, 2)
	assert.Equal(t, "range", coll.ClientExtenders[1].Name)
	param, ok := coll.ClientExtenders[1].Parameter.(*ir.Object)
	require.True(t, ok)
	maxVal, _ := param.Get("max")
	assert.Equal(t, ir.Int(5), maxVal)
}

func TestLoadYAMLCollectsAllErrors(t *testing.T) {
	doc := `
types:
  Broken:
    A: "[x]int"
    B: {type: string, protect: hash}
    C: {type: Missing}
    D: {type: int, direction: sideways}
`
	_, err := LoadYAML([]byte(doc))
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))

	codes := make(map[string]int)
	for _, e := range verrs {
		codes[e.Code]++
		assert.Positive(t, e.Line, "every error carries a line: %v", e)
	}
	assert.Equal(t, 1, codes[ErrInvalidFieldType])
	assert.Equal(t, 1, codes[ErrInvalidProtect])
	assert.Equal(t, 1, codes[ErrInvalidDirection])
	// Unknown type refs are cross-descriptor checks that run once field errors are fixed.
	assert.Zero(t, codes[ErrUnknownTypeRef])
}

func TestLoadYAMLUnknownTypeRef(t *testing.T) {
	_, err := LoadYAML([]byte("types:\n  A:\n    b: {type: Missing}\n"))
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 1)
	assert.Equal(t, ErrUnknownTypeRef, verrs[0].Code)
	assert.Equal(t, "A.b", verrs[0].Field)
}

func TestLoadYAMLMalformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no types", "other: 1\n"},
		{"types not mapping", "types: [1, 2]\n"},
		{"bad yaml", "types: {\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadYAML([]byte(tt.doc))
			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			assert.Equal(t, ErrMalformedDocument, verrs[0].Code)
		})
	}
}

func TestValidateProtectDirection(t *testing.T) {
	r := New().MustRegister(ir.MustTypeDescriptor("Secret",
		ir.PropertyDescriptor{
			Name:      "token",
			Type:      ir.PrimitiveOf(ir.PrimitiveString),
			Protect:   ir.ProtectSign,
			Direction: ir.DirectionClientToServer,
		},
	))

	errs := Validate(r)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrProtectDirection, errs[0].Code)

	require.Error(t, r.Publish())
	assert.False(t, r.Published())
}

func TestRegisterAfterPublish(t *testing.T) {
	r := New()
	require.NoError(t, r.Publish())
	err := r.Register(ir.MustTypeDescriptor("Late"))
	assert.ErrorIs(t, err, ErrPublished)
}

func TestRegisterDuplicate(t *testing.T) {
	r := New().MustRegister(ir.MustTypeDescriptor("A"))
	err := r.Register(ir.MustTypeDescriptor("A"))
	var ve ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, ErrDuplicateName, ve.Code)
}

func TestLoadDispatch(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "types.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(dataNodeYAML), 0o644))
	r, err := Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"DataNode"}, r.TypeIDs())

	txtPath := filepath.Join(dir, "types.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("x"), 0o644))
	_, err = Load(txtPath)
	assert.ErrorContains(t, err, "unsupported file type")

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
