package interp

import (
	"fmt"
	"os"
)

// Profile describes an externally supplied interpreter binary: where
// its WASM module lives, how to invoke it, and what to feed it before
// user code. The binary is an input to the system, never embedded.
type Profile struct {
	// Name identifies the interpreter, also used as its compilation
	// cache key.
	Name string

	// BinaryPath is the WASM module on disk.
	BinaryPath string

	// Args is the argv handed to the module. The interpreter is
	// expected to enter its session loop and read framed commands on
	// stdin.
	Args []string

	// Bootstrap is prelude source evaluated once at startup, before
	// any user code (stdlib shims, turtle declarations the language
	// side needs).
	Bootstrap string

	// Env is extra environment for the module.
	Env map[string]string
}

// DefaultProfile describes the stock tlang interpreter at path.
func DefaultProfile(path string) *Profile {
	return &Profile{
		Name:       "tlang",
		BinaryPath: path,
		Args:       []string{"tlang", "--session"},
	}
}

// Load reads the WASM module from disk. A missing binary is an
// initialization error, not a panic.
func (p *Profile) Load() ([]byte, error) {
	if p.BinaryPath == "" {
		return nil, fmt.Errorf("%w: no interpreter binary configured", ErrInitialization)
	}
	data, err := os.ReadFile(p.BinaryPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInitialization, p.BinaryPath, err)
	}
	return data, nil
}
