package cli

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const docTypesYAML = `
types:
  Item:
    Name: string
    Qty: int
  Doc:
    Title: string
    Items: "[]Item"
    Token:
      type: string
      protect: sign
      direction: server-to-client
    Secret:
      type: string
      protect: encrypt
`

const docJSON = `{
  "$type": "Doc",
  "Title": "orders",
  "Items": [{"$type": "Item", "Name": "a", "Qty": 1}, {"$type": "Item", "Name": "b", "Qty": "2"}],
  "Token": "t-1",
  "Secret": "hunter2"
}`

// fixture is a temp dir holding descriptors, a config and inputs.
type fixture struct {
	dir    string
	types  string
	config string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{dir: dir}
	f.types = f.write(t, "types.yaml", docTypesYAML)
	key := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
	// A long frame interval keeps apply deterministic: only the final
	// synchronous flush runs.
	f.config = f.write(t, "vmsync.yaml", "master_key: "+key+"\nframe_interval: 1h\n")
	return f
}

func (f *fixture) write(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func (f *fixture) path(name string) string {
	return filepath.Join(f.dir, name)
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("VMSYNC_MASTER_KEY", "")
	t.Setenv("VMSYNC_DB_PATH", "")

	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustRead(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
