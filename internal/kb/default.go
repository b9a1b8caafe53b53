package kb

import (
	_ "embed"
	"errors"
	"io/fs"
	"os"
)

//go:embed default_kb.yaml
var defaultKB []byte

// Default returns the built-in catalog.
func Default() (*KB, error) {
	return Parse(defaultKB)
}

// LoadOrDefault loads the catalog at path, falling back to the built-in one
// when the file does not exist. A file that exists but fails to parse is
// still an error.
func LoadOrDefault(path string) (*KB, error) {
	kb, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default()
	}
	return kb, err
}

// WriteDefault materializes the built-in catalog at path so it can be edited
// and hot-reloaded.
func WriteDefault(path string) error {
	return os.WriteFile(path, defaultKB, 0o644)
}
