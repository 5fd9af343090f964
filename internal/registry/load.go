package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Load reads descriptors from path: a .yaml/.yml file, a .cue file, or a
// directory holding one CUE package.
func Load(path string) (*Registry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("descriptors: %w", err)
	}
	if info.IsDir() {
		return LoadCUEDir(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("descriptors: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(data)
	case ".cue":
		return CompileCUE(data, path)
	default:
		return nil, fmt.Errorf("descriptors: unsupported file type %q (want .yaml, .yml or .cue)", filepath.Ext(path))
	}
}
