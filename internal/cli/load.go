package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/roach88/vmsync/internal/config"
	"github.com/roach88/vmsync/internal/ir"
	"github.com/roach88/vmsync/internal/registry"
)

// typedInput is the flag set shared by commands that work on one typed tree.
type typedInput struct {
	Types  string
	Type   string
	Config string
}

// loadConfig reads and validates --config. An empty path still applies
// environment overrides.
func loadConfig(f *OutputFormatter, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, f.Fail(ExitCommandError, ErrCodeNotFound, "config not found", err)
		}
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "invalid config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "invalid config", err)
	}
	f.VerboseLog("config: %s", displayPath(path))
	return cfg, nil
}

// resolve loads the registry and the root type named by in. The types
// path falls back to the config's types entry.
func (in typedInput) resolve(f *OutputFormatter, cfg *config.Config) (*registry.Registry, ir.TypeRef, error) {
	path := in.Types
	if path == "" && cfg != nil {
		path = cfg.Types
	}
	if path == "" {
		return nil, ir.TypeRef{}, f.Fail(ExitCommandError, ErrCodeNotFound, "no descriptors: pass --types or set types in the config", nil)
	}
	reg, err := loadTypes(f, path)
	if err != nil {
		return nil, ir.TypeRef{}, err
	}
	t, err := ir.ParseTypeRef(in.Type)
	if err != nil {
		return nil, ir.TypeRef{}, f.Fail(ExitCommandError, ErrCodeBadType, "invalid --type", err)
	}
	if t.Kind == ir.TypeObject {
		if _, ok := reg.TypeDescriptor(t.TypeID); !ok {
			return nil, ir.TypeRef{}, f.Fail(ExitCommandError, ErrCodeBadType, fmt.Sprintf("type %q is not declared in %s", t.TypeID, path), nil)
		}
	}
	return reg, t, nil
}

// loadTypes loads a descriptor file or directory. Descriptor problems exit
// with ExitFailure; a missing path with ExitCommandError.
func loadTypes(f *OutputFormatter, path string) (*registry.Registry, error) {
	reg, err := registry.Load(path)
	if err == nil {
		f.VerboseLog("loaded %d type(s) from %s", len(reg.TypeIDs()), path)
		return reg, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, f.Fail(ExitCommandError, ErrCodeNotFound, "descriptors not found", err)
	}
	var verrs registry.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return nil, f.Fail(ExitFailure, verrs[0].Code, "invalid descriptors", err)
	}
	return nil, f.Fail(ExitFailure, registry.ErrMalformedDocument, "invalid descriptors", err)
}

// readNode reads a wire JSON file.
func readNode(f *OutputFormatter, path string) (ir.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, f.Fail(ExitCommandError, ErrCodeNotFound, "input not found", err)
		}
		return nil, f.Fail(ExitCommandError, ErrCodeReadFailed, "cannot read input", err)
	}
	n, err := ir.DecodeJSON(data)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeReadFailed, fmt.Sprintf("%s is not valid JSON", path), err)
	}
	return n, nil
}

// writeTree prints a tree: raw JSON in text mode, the data member of a
// CLIResponse in JSON mode. canonical selects RFC 8785 output over wire JSON.
func writeTree(f *OutputFormatter, n ir.Node, canonical bool) error {
	data, err := encodeTree(n, canonical)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "cannot encode result", err)
	}
	if f.Format == "json" {
		return f.Success(json.RawMessage(data))
	}
	_, err = fmt.Fprintln(f.Writer, string(data))
	return err
}

func encodeTree(n ir.Node, canonical bool) ([]byte, error) {
	if canonical {
		return ir.MarshalCanonical(n)
	}
	return ir.EncodeJSON(n)
}

func displayPath(path string) string {
	if path == "" {
		return "(none)"
	}
	return path
}
