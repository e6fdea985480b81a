package bundler

import "errors"

// Bundler errors.
var (
	// ErrUnknownKind is returned when no bundler exists for the configured kind.
	ErrUnknownKind = errors.New("unknown bundler kind")

	// ErrModuleNotFound is returned when a requested module has no source file.
	ErrModuleNotFound = errors.New("module not found")

	// ErrNoModules is returned when every included module is excluded.
	ErrNoModules = errors.New("no modules to bundle")

	// ErrInvalidPragma is returned for pragma names that are not identifiers.
	ErrInvalidPragma = errors.New("invalid pragma name")

	// ErrNoCommand is returned when the command bundler has no command configured.
	ErrNoCommand = errors.New("bundler command not configured")

	// ErrNoOutput is returned when a bundler exits cleanly without writing its output.
	ErrNoOutput = errors.New("bundler produced no output")
)
